package web_search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/qurio/tools/web_search/brave"
	"github.com/mohammad-safakhou/qurio/tools/web_search/models"
	"github.com/mohammad-safakhou/qurio/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unsupported search provider %q", provider)
	}
}

// Tool exposes a WebSearcher to the generation model.
type Tool struct {
	Searcher   WebSearcher
	MaxResults int
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web. Returns result titles, URLs and snippets for a query."
}

func (t *Tool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results to return",
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	k := params.MaxResults
	if k <= 0 || k > t.MaxResults {
		k = t.MaxResults
	}
	if k <= 0 {
		k = 10
	}

	results, err := t.Searcher.Discover(ctx, params.Query, k)
	if err != nil {
		return "", err
	}
	if results == nil {
		results = []models.Result{}
	}
	payload, err := json.Marshal(map[string]interface{}{"results": results})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
