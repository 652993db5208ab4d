// Package capabilities defines the external-effect ports the pipeline depends
// on. Implementations never return Go errors or panic across these methods;
// every failure comes back as a typed result.
package capabilities

import (
	"context"
	"fmt"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/locator"
)

type ScrapeReason string

const (
	ReasonBotDetected ScrapeReason = "bot_detected"
	ReasonNotFound    ScrapeReason = "not_found"
	ReasonRateLimited ScrapeReason = "rate_limited"
	ReasonTimeout     ScrapeReason = "timeout"
	ReasonParseError  ScrapeReason = "parse_error"
)

// Recoverable reports whether a main-product failure may degrade instead of abort.
func (r ScrapeReason) Recoverable() bool {
	switch r {
	case ReasonBotDetected, ReasonRateLimited, ReasonTimeout:
		return true
	default:
		return false
	}
}

type ScrapeFailure struct {
	Reason ScrapeReason
	Detail string
}

func (f *ScrapeFailure) Error() string {
	if f.Detail == "" {
		return "scrape failed: " + string(f.Reason)
	}
	return fmt.Sprintf("scrape failed: %s: %s", f.Reason, f.Detail)
}

// ScrapeResult holds exactly one of Product or Failure.
type ScrapeResult struct {
	Product *analysis.Product
	Failure *ScrapeFailure
}

func ScrapeOK(p analysis.Product) ScrapeResult { return ScrapeResult{Product: &p} }

func ScrapeFailed(reason ScrapeReason, detail string) ScrapeResult {
	return ScrapeResult{Failure: &ScrapeFailure{Reason: reason, Detail: detail}}
}

type SearchFailure struct {
	Keyword string
	Detail  string
}

func (f *SearchFailure) Error() string {
	return fmt.Sprintf("search %q failed: %s", f.Keyword, f.Detail)
}

type SearchResult struct {
	Locators []locator.Locator
	Failure  *SearchFailure
}

type PromptKind string

const (
	PromptProductAnalysis      PromptKind = "product_analysis"
	PromptCompetitorAnalysis   PromptKind = "competitor_analysis"
	PromptMarketPositioning    PromptKind = "market_positioning"
	PromptOptimizationStrategy PromptKind = "optimization_strategy"
	PromptKeywords             PromptKind = "keywords"
)

type SummaryFailure struct {
	Kind   PromptKind
	Detail string
}

func (f *SummaryFailure) Error() string {
	return fmt.Sprintf("summarize %s failed: %s", f.Kind, f.Detail)
}

type SummaryResult struct {
	Text    string
	Failure *SummaryFailure
}

type Scraper interface {
	ScrapeProduct(ctx context.Context, loc locator.Locator) ScrapeResult
}

type Searcher interface {
	SearchProducts(ctx context.Context, keyword string, limit int) SearchResult
}

// Summarizer produces text for one prompt kind. It does not retry.
type Summarizer interface {
	Summarize(ctx context.Context, kind PromptKind, inputs ...string) SummaryResult
}

// DedupeLocators keeps the first occurrence of each identifier, in order.
func DedupeLocators(in []locator.Locator, exclude ...string) []locator.Locator {
	seen := make(map[string]struct{}, len(in)+len(exclude))
	for _, id := range exclude {
		seen[id] = struct{}{}
	}
	out := make([]locator.Locator, 0, len(in))
	for _, l := range in {
		if l.ASIN == "" {
			continue
		}
		if _, ok := seen[l.ASIN]; ok {
			continue
		}
		seen[l.ASIN] = struct{}{}
		out = append(out, l)
	}
	return out
}
