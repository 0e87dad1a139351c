package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/qurio/tools/web_search/models"
)

type Search struct {
	ApiKey string
}

// Discover queries https://serper.dev and returns up to k results.
func (s Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	payload, err := json.Marshal(map[string]any{"q": q, "num": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", "https://google.serper.dev/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned %s", resp.Status)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Score:   1.0 / float64(i+1),
		})
	}
	return out, nil
}
