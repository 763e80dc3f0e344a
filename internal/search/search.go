// Package search finds competitor pages on the web.
package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// MaxResults is the most hits the Custom Search API returns per request.
const MaxResults = 10

// Hit is one search result.
type Hit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// GoogleSearcher uses the Google Custom Search JSON API.
type GoogleSearcher struct {
	svc      *customsearch.Service
	engineID string
}

// NewGoogleSearcher creates a searcher for the programmable search engine
// engineID. Extra options are passed to the API client.
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("search api key and engine id are required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	return &GoogleSearcher{svc: svc, engineID: engineID}, nil
}

func (g *GoogleSearcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}
	res, err := g.svc.Cse.List().
		Q(query).
		Cx(g.engineID).
		Num(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("custom search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Items))
	for _, item := range res.Items {
		if item.Link == "" {
			continue
		}
		hits = append(hits, Hit{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	log.Debug().Str("query", query).Int("hits", len(hits)).Msg("web search")
	return hits, nil
}
