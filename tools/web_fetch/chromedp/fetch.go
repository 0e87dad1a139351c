package chromedp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/qurio/internal/helpers"
	"github.com/mohammad-safakhou/qurio/tools/web_fetch/models"
)

type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, target string) (models.Result, error) {
	if strings.TrimSpace(target) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := fetchHTML(ctx, target)
	if err != nil {
		return models.Result{URL: target, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(target))
	if err != nil {
		return models.Result{URL: target, Status: 200, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := helpers.SanitizeText(article.TextContent)
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	sum := sha1.Sum([]byte(html))

	return models.Result{
		URL:      target,
		Title:    helpers.SanitizeText(article.Title),
		Byline:   helpers.SanitizeText(article.Byline),
		SiteName: helpers.SanitizeText(article.SiteName),
		Text:     strings.TrimSpace(text),
		TopImage: article.Image,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func fetchHTML(ctx context.Context, target string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("QurioResearch/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
