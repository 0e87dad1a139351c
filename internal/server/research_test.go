package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/qurio/config"
	"github.com/mohammad-safakhou/qurio/internal/archive"
	"github.com/mohammad-safakhou/qurio/internal/research"
)

// scriptedGen returns canned generation streams keyed on the request prompt.
type scriptedGen struct{}

func (scriptedGen) Execute(ctx context.Context, req research.GenerationRequest) (<-chan research.GenerationEvent, error) {
	var events []research.GenerationEvent
	if strings.Contains(req.Messages[0].Content, "Findings to synthesize") {
		events = []research.GenerationEvent{
			{Kind: research.GenText, Text: "the final report"},
			{Kind: research.GenDone},
		}
	} else {
		events = []research.GenerationEvent{
			{Kind: research.GenText, Text: "step finding"},
			{Kind: research.GenDone},
		}
	}
	ch := make(chan research.GenerationEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func testEngine() *research.Engine {
	cfg := &config.Config{
		Research: config.ResearchConfig{MaxConcurrentSteps: 2, EventBuffer: 16},
		LLM:      config.LLMConfig{Routing: config.LLMRoutingConfig{Fallback: "test-model"}},
	}
	return research.NewEngine(cfg, scriptedGen{}, nil, nil)
}

func TestResearchStream(t *testing.T) {
	arch, err := archive.New("")
	if err != nil {
		t.Fatal(err)
	}
	h := &ResearchHandler{
		Engine:  testEngine(),
		Archive: arch,
		Logger:  log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}

	e := echo.New()
	body := `{"question":"why is the sky blue?","plan":"{\"plan\":[{\"step\":1,\"action\":\"explain\"}]}"}`
	req := httptest.NewRequest(http.MethodPost, "/api/research/stream", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")

	if err := h.stream(c); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	var events []research.Event
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev research.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	last := events[len(events)-1]
	if last.Type != research.EventDone || last.Content != "the final report" {
		t.Fatalf("last event = %+v", last)
	}

	// completed run lands in the archive
	hits, err := arch.Search("sky", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("archive hits = %+v", hits)
	}
}

func TestResearchStreamRejectsEmptyQuestion(t *testing.T) {
	h := &ResearchHandler{Engine: testEngine(), Logger: log.Default()}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/research/stream", strings.NewReader(`{"question":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.stream(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRecorder(t *testing.T) {
	rec := newRunRecorder(research.Request{ID: "r1", Question: "q"}, "u1")

	rec.observe(research.Event{Type: research.EventResearchStep, Step: 1, Title: "gather", Status: research.StatusRunning})
	rec.observe(research.Event{Type: research.EventResearchStep, Step: 1, Title: "gather", Status: research.StatusDone, DurationMS: 42})
	rec.observe(research.Event{Type: research.EventStepOutput, Step: 1, Content: "findings"})
	rec.observe(research.Event{Type: research.EventResearchStep, Step: 2, Title: "broken", Status: research.StatusError, DurationMS: 7})
	rec.observe(research.Event{Type: research.EventDone, Content: "report", Sources: []research.SourceEntry{{URL: "https://a.test"}}})

	if !rec.done || rec.failed {
		t.Fatalf("recorder state: done=%v failed=%v", rec.done, rec.failed)
	}
	if rec.report != "report" || len(rec.sources) != 1 {
		t.Errorf("report = %q sources = %v", rec.report, rec.sources)
	}
	if rec.statuses[1] != research.StatusDone || rec.contents[1] != "findings" || rec.durations[1] != 42 {
		t.Errorf("step 1 = %q/%q/%d", rec.statuses[1], rec.contents[1], rec.durations[1])
	}
	if rec.statuses[2] != research.StatusError {
		t.Errorf("step 2 status = %q", rec.statuses[2])
	}
	if got := rec.stepOrder(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("step order = %v", got)
	}
}

func TestRunRecorderErrorRun(t *testing.T) {
	rec := newRunRecorder(research.Request{ID: "r1", Question: "q"}, "u1")
	rec.observe(research.Event{Type: research.EventError, Error: "synthesis failed"})
	if !rec.failed || rec.errMsg != "synthesis failed" {
		t.Fatalf("recorder state: %+v", rec)
	}
}
