// Package capabilitiestest provides in-memory port implementations for tests.
package capabilitiestest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/locator"
)

// Scraper returns canned results keyed by ASIN. Unknown ASINs are NotFound.
type Scraper struct {
	Results map[string]capabilities.ScrapeResult
	Delay   time.Duration

	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *Scraper) ScrapeProduct(ctx context.Context, loc locator.Locator) capabilities.ScrapeResult {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, loc.ASIN)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return capabilities.ScrapeFailed(capabilities.ReasonTimeout, ctx.Err().Error())
		case <-time.After(s.Delay):
		}
	}
	if r, ok := s.Results[loc.ASIN]; ok {
		return r
	}
	return capabilities.ScrapeFailed(capabilities.ReasonNotFound, "no canned result")
}

func (s *Scraper) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// PeakConcurrency is the highest number of overlapping ScrapeProduct calls seen.
func (s *Scraper) PeakConcurrency() int { return int(s.peak.Load()) }

// Searcher returns canned locators keyed by keyword. Unknown keywords return nothing.
type Searcher struct {
	Results map[string]capabilities.SearchResult

	mu    sync.Mutex
	calls []string
}

func (s *Searcher) SearchProducts(ctx context.Context, keyword string, limit int) capabilities.SearchResult {
	s.mu.Lock()
	s.calls = append(s.calls, keyword)
	s.mu.Unlock()
	r := s.Results[keyword]
	if r.Failure == nil && limit > 0 && len(r.Locators) > limit {
		r.Locators = r.Locators[:limit]
	}
	return r
}

func (s *Searcher) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Summarizer echoes its kind and inputs unless a kind is listed in Fail.
type Summarizer struct {
	Fail  map[capabilities.PromptKind]bool
	Texts map[capabilities.PromptKind]string
	Block bool

	mu    sync.Mutex
	calls []capabilities.PromptKind
}

func (s *Summarizer) Summarize(ctx context.Context, kind capabilities.PromptKind, inputs ...string) capabilities.SummaryResult {
	s.mu.Lock()
	s.calls = append(s.calls, kind)
	s.mu.Unlock()
	if s.Block {
		<-ctx.Done()
		return capabilities.SummaryResult{Failure: &capabilities.SummaryFailure{Kind: kind, Detail: ctx.Err().Error()}}
	}
	if s.Fail[kind] {
		return capabilities.SummaryResult{Failure: &capabilities.SummaryFailure{Kind: kind, Detail: "model unavailable"}}
	}
	if txt, ok := s.Texts[kind]; ok {
		return capabilities.SummaryResult{Text: txt}
	}
	return capabilities.SummaryResult{Text: string(kind) + ": " + strings.Join(inputs, " | ")}
}

func (s *Summarizer) Calls() []capabilities.PromptKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capabilities.PromptKind(nil), s.calls...)
}

// Product builds a minimal successful snapshot.
func Product(asin, title string) analysis.Product {
	return analysis.Product{
		ASIN:      asin,
		URL:       locator.DefaultBase + "/dp/" + asin,
		Title:     title,
		ScrapedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Locators resolves each ASIN against the default storefront.
func Locators(asins ...string) []locator.Locator {
	out := make([]locator.Locator, 0, len(asins))
	for _, a := range asins {
		out = append(out, locator.Locator{ASIN: a, URL: locator.DefaultBase + "/dp/" + a})
	}
	return out
}
