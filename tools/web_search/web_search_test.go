package web_search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mohammad-safakhou/qurio/tools/web_search/models"
)

type fakeSearcher struct {
	gotQuery string
	gotK     int
	results  []models.Result
	err      error
}

func (f *fakeSearcher) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	f.gotQuery, f.gotK = q, k
	return f.results, f.err
}

func TestSearchToolExecute(t *testing.T) {
	searcher := &fakeSearcher{results: []models.Result{
		{Title: "A", URL: "https://a.test", Snippet: "about a", Score: 1},
	}}
	tool := &Tool{Searcher: searcher, MaxResults: 5}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"go testing","max_results":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if searcher.gotQuery != "go testing" || searcher.gotK != 3 {
		t.Errorf("searcher got %q/%d", searcher.gotQuery, searcher.gotK)
	}

	var payload struct {
		Results []models.Result `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if len(payload.Results) != 1 || payload.Results[0].URL != "https://a.test" {
		t.Errorf("payload = %s", out)
	}
}

func TestSearchToolClampsResultCount(t *testing.T) {
	searcher := &fakeSearcher{}
	tool := &Tool{Searcher: searcher, MaxResults: 5}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q","max_results":50}`)); err != nil {
		t.Fatal(err)
	}
	if searcher.gotK != 5 {
		t.Errorf("k = %d, want clamp to 5", searcher.gotK)
	}
}

func TestSearchToolRejectsMissingQuery(t *testing.T) {
	tool := &Tool{Searcher: &fakeSearcher{}, MaxResults: 5}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("missing query accepted")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Fatal("malformed arguments accepted")
	}
}

func TestNewWebSearcher(t *testing.T) {
	if _, err := NewWebSearcher(SerperProvider, "k"); err != nil {
		t.Errorf("serper: %v", err)
	}
	if _, err := NewWebSearcher(BraveProvider, "k"); err != nil {
		t.Errorf("brave: %v", err)
	}
	if _, err := NewWebSearcher("duckduckgo", "k"); err == nil {
		t.Errorf("unknown provider accepted")
	}
}
