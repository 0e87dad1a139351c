package web_fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/qurio/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/qurio/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", fetcherType)
	}
}

// Tool exposes a WebFetcher to the generation model. The payload carries a
// sources list so fetched pages land in the run's citations.
type Tool struct {
	Fetcher WebFetcher
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a web page and extract its readable text content."
}

func (t *Tool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if params.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	result, err := t.Fetcher.Exec(ctx, params.URL)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"url":    result.URL,
		"title":  result.Title,
		"byline": result.Byline,
		"text":   result.Text,
		"status": result.Status,
		"sources": []map[string]interface{}{
			{"uri": result.URL, "title": result.Title},
		},
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
