// Package scrape fetches competitor product pages and extracts listing facts
// from them.
package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// BrowserUserAgent is sent with every page request; many shops refuse
// obviously automated clients.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Fetcher downloads a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches pages with resty.
type HTTPFetcher struct {
	httpClient *resty.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		httpClient: resty.New().
			SetDebug(false).
			SetTimeout(timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
			SetHeaders(map[string]string{
				"User-Agent":      BrowserUserAgent,
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "uk-UA,uk;q=0.9,ru;q=0.8,en;q=0.7",
			}),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := handleError(f.httpClient.R().SetContext(ctx).Get(url))
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// handleError turns failing responses (>399 status code) into errors.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("failed to fetch page: %w", err)
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}
