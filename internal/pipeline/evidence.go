package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/raine/listing-pipeline/internal/scrape"
	"github.com/raine/listing-pipeline/internal/search"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxScrapeURLs is how many search hits are scraped.
const DefaultMaxScrapeURLs = 5

type EvidenceInput struct {
	ProductName string
	Currency    string
}

// Evidence is what the web knows about competing offers.
type Evidence struct {
	Query    string           `json:"query"`
	Hits     []search.Hit     `json:"hits"`
	Products []scrape.Product `json:"products"`
	Failures []scrape.Failure `json:"failures,omitempty"`
}

// SearchQuery builds the competitor search query.
func SearchQuery(productName, currency string) string {
	return strings.TrimSpace(fmt.Sprintf("%s price market analysis competitors trends %s", productName, currency))
}

// SearchStage looks up competitor pages. Without a searcher it returns no hits.
type SearchStage struct {
	searcher search.Searcher
	limit    int
}

func NewSearchStage(searcher search.Searcher, limit int) *SearchStage {
	return &SearchStage{searcher: searcher, limit: limit}
}

func (s *SearchStage) Name() string        { return "search" }
func (s *SearchStage) Description() string { return "searches the web for competitor listings" }

func (s *SearchStage) Run(ctx context.Context, query string) stage.Result[[]search.Hit] {
	if s.searcher == nil {
		log.Info().Msg("web search is not configured, continuing without evidence")
		return stage.Ok([]search.Hit{})
	}
	hits, err := s.searcher.Search(ctx, query, s.limit)
	if err != nil {
		return stage.FromError[[]search.Hit](ctx, err, stage.KindUpstreamUnavailable, "web search")
	}
	return stage.Ok(hits)
}

type ScrapeOutput struct {
	Products []scrape.Product
	Failures []scrape.Failure
}

// ScrapeStage extracts product facts from each URL. A failing URL is
// recorded and skipped.
type ScrapeStage struct {
	scraper     *scrape.Scraper
	maxURLs     int
	concurrency int
}

func NewScrapeStage(scraper *scrape.Scraper, maxURLs, concurrency int) *ScrapeStage {
	if maxURLs <= 0 {
		maxURLs = DefaultMaxScrapeURLs
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &ScrapeStage{scraper: scraper, maxURLs: maxURLs, concurrency: concurrency}
}

func (s *ScrapeStage) Name() string        { return "scrape" }
func (s *ScrapeStage) Description() string { return "extracts product facts from competitor pages" }

func (s *ScrapeStage) Run(ctx context.Context, urls []string) stage.Result[ScrapeOutput] {
	if len(urls) > s.maxURLs {
		urls = urls[:s.maxURLs]
	}
	products := make([]*scrape.Product, len(urls))
	var mu sync.Mutex
	var failures []scrape.Failure

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p, err := s.scraper.Scrape(ctx, u)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("url", u).Msg("failed to scrape page")
					mu.Lock()
					failures = append(failures, scrape.Failure{URL: u, Error: err.Error()})
					mu.Unlock()
				}
				return nil
			}
			products[i] = &p
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return stage.Cancelled[ScrapeOutput]()
	}
	out := ScrapeOutput{Products: []scrape.Product{}, Failures: failures}
	for _, p := range products {
		if p != nil {
			out.Products = append(out.Products, *p)
		}
	}
	return stage.Ok(out)
}

// EvidenceStage runs the search and scrape sub-stages.
type EvidenceStage struct {
	search *SearchStage
	scrape *ScrapeStage
}

func NewEvidenceStage(search *SearchStage, scrape *ScrapeStage) *EvidenceStage {
	return &EvidenceStage{search: search, scrape: scrape}
}

func (s *EvidenceStage) Name() string        { return "evidence" }
func (s *EvidenceStage) Description() string { return "collects competitor listings from the web" }

func (s *EvidenceStage) Run(ctx context.Context, in EvidenceInput) stage.Result[Evidence] {
	ev := Evidence{
		Query:    SearchQuery(in.ProductName, in.Currency),
		Hits:     []search.Hit{},
		Products: []scrape.Product{},
	}

	hits := stage.Invoke(ctx, s.search, ev.Query)
	if !hits.IsOk() {
		return stage.Propagate[Evidence](hits)
	}
	ev.Hits = hits.Value
	if len(ev.Hits) == 0 || s.scrape == nil {
		return stage.Ok(ev)
	}

	urls := make([]string, 0, len(ev.Hits))
	for _, h := range ev.Hits {
		urls = append(urls, h.Link)
	}
	scraped := stage.Invoke(ctx, s.scrape, urls)
	if !scraped.IsOk() {
		return stage.Propagate[Evidence](scraped)
	}
	ev.Products = scraped.Value.Products
	ev.Failures = scraped.Value.Failures

	log.Info().
		Str("query", ev.Query).
		Int("hits", len(ev.Hits)).
		Int("products", len(ev.Products)).
		Int("failures", len(ev.Failures)).
		Msg("evidence gathered")
	return stage.Ok(ev)
}
