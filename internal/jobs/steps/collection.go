package steps

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	jobrt "github.com/yungbote/listinglens-backend/internal/jobs/runtime"
	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
)

const (
	DefaultResultsPerKeyword = 5
	DefaultMaxCompetitors    = 5
	MinCompetitors           = 3
	MaxCompetitorWorkers     = 3
)

// ProductRecorder persists accepted products in arrival order.
type ProductRecorder interface {
	Append(dbc dbctx.Context, sessionID string, p analysis.Product) (*analysis.ProductRecord, error)
}

type CollectionDeps struct {
	Scraper  capabilities.Scraper
	Searcher capabilities.Searcher
	Keywords KeywordSource
	Pacer    *Pacer
	// Products is optional; without it nothing is persisted.
	Products ProductRecorder
	Metrics  *observability.Metrics
	Now      func() time.Time
}

type CollectionConfig struct {
	MaxKeywords       int
	ResultsPerKeyword int
	MaxCompetitors    int
	CompetitorWorkers int
}

func (c CollectionConfig) normalized() CollectionConfig {
	c.MaxKeywords = clampKeywords(c.MaxKeywords)
	if c.ResultsPerKeyword <= 0 {
		c.ResultsPerKeyword = DefaultResultsPerKeyword
	}
	if c.MaxCompetitors <= 0 {
		c.MaxCompetitors = DefaultMaxCompetitors
	}
	if c.MaxCompetitors < MinCompetitors {
		c.MaxCompetitors = MinCompetitors
	}
	if c.MaxCompetitors > DefaultMaxCompetitors {
		c.MaxCompetitors = DefaultMaxCompetitors
	}
	if c.CompetitorWorkers <= 0 || c.CompetitorWorkers > MaxCompetitorWorkers {
		c.CompetitorWorkers = MaxCompetitorWorkers
	}
	return c
}

// Collect gathers the main product, search keywords and competitor products.
// Only failing to identify the main product fails the stage; search and
// competitor failures are recorded in Skipped.
func Collect(jc *jobrt.Context, deps CollectionDeps, cfg CollectionConfig, source string) (*analysis.CollectionOutput, error) {
	if deps.Scraper == nil || deps.Searcher == nil {
		return nil, fmt.Errorf("collection: missing deps")
	}
	if deps.Keywords == nil {
		deps.Keywords = DeterministicKeywords{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.normalized()
	ctx := jc.Ctx
	out := &analysis.CollectionOutput{
		Competitors:        []analysis.Product{},
		CompetitorLocators: []string{},
	}

	jc.Progress(0.02, "Resolving product link")
	loc, err := locator.Resolve(source)
	if err != nil {
		return nil, err
	}

	jc.Progress(0.05, "Scraping main product", loc.URL)
	main, err := scrapeMain(ctx, jc, deps, loc)
	if err != nil {
		return nil, err
	}
	out.Main = main
	record(jc, deps, main)

	jc.Progress(0.2, "Generating search keywords")
	out.Keywords = deps.Keywords.Keywords(ctx, main, cfg.MaxKeywords)
	if len(out.Keywords) == 0 {
		out.Keywords = DeterministicKeywords{}.Keywords(ctx, main, cfg.MaxKeywords)
	}

	found, err := searchCompetitors(jc, deps, cfg, out)
	if err != nil {
		return nil, err
	}
	for _, l := range found {
		out.CompetitorLocators = append(out.CompetitorLocators, l.URL)
	}

	targets := found
	if len(targets) > cfg.MaxCompetitors {
		targets = targets[:cfg.MaxCompetitors]
	}
	competitors, err := scrapeCompetitors(jc, deps, cfg, targets, out)
	if err != nil {
		return nil, err
	}
	for _, p := range competitors {
		record(jc, deps, p)
	}
	out.Competitors = competitors

	jc.Progress(1, fmt.Sprintf("Collected main product and %d competitors", len(competitors)))
	return out, nil
}

func scrapeMain(ctx context.Context, jc *jobrt.Context, deps CollectionDeps, loc locator.Locator) (analysis.Product, error) {
	res := deps.Scraper.ScrapeProduct(ctx, loc)
	if res.Failure == nil && res.Product != nil {
		p := *res.Product
		if p.ASIN == "" {
			p.ASIN = loc.ASIN
		}
		if p.URL == "" {
			p.URL = loc.URL
		}
		if strings.TrimSpace(p.Title) == "" {
			deps.Metrics.IncScrape("main", "failed")
			return analysis.Product{}, fmt.Errorf("collection: main product %s: %w", loc.ASIN,
				&capabilities.ScrapeFailure{Reason: capabilities.ReasonParseError, Detail: "missing title"})
		}
		deps.Metrics.IncScrape("main", "ok")
		return p, nil
	}
	failure := res.Failure
	if failure == nil {
		failure = &capabilities.ScrapeFailure{Reason: capabilities.ReasonParseError, Detail: "empty scrape result"}
	}
	if ctx.Err() != nil {
		return analysis.Product{}, ctx.Err()
	}
	if !failure.Reason.Recoverable() {
		deps.Metrics.IncScrape("main", "failed")
		return analysis.Product{}, fmt.Errorf("collection: main product %s: %w", loc.ASIN, failure)
	}

	deps.Metrics.IncScrape("main", "degraded")
	jc.Log.Warn("Main product scrape degraded", "asin", loc.ASIN, "reason", failure.Reason)
	jc.Progress(0.1, "Main product data limited, continuing with partial record", failure.Error())
	return analysis.Product{
		ASIN:      loc.ASIN,
		URL:       loc.URL,
		Title:     "Product " + loc.ASIN,
		Degraded:  true,
		Note:      analysis.DegradedNote,
		ScrapedAt: deps.Now().UTC(),
	}, nil
}

// searchCompetitors runs keyword searches one at a time with a pacing delay
// between calls, aggregating locators in first-seen order.
func searchCompetitors(jc *jobrt.Context, deps CollectionDeps, cfg CollectionConfig, out *analysis.CollectionOutput) ([]locator.Locator, error) {
	ctx := jc.Ctx
	var found []locator.Locator
	n := len(out.Keywords)
	for i, kw := range out.Keywords {
		if i > 0 {
			if err := deps.Pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		jc.Progress(0.25+0.35*float64(i)/float64(n), fmt.Sprintf("Searching competitors for %q", kw))
		res := deps.Searcher.SearchProducts(ctx, kw, cfg.ResultsPerKeyword)
		if res.Failure != nil {
			jc.Log.Warn("Search failed, skipping keyword", "keyword", kw, "error", res.Failure.Error())
			out.Skipped = append(out.Skipped, analysis.SkippedItem{Kind: "search", Target: kw, Reason: res.Failure.Detail})
			continue
		}
		found = capabilities.DedupeLocators(append(found, res.Locators...), out.Main.ASIN)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jc.Progress(0.6, fmt.Sprintf("Found %d candidate competitors", len(found)))
	return found, nil
}

// scrapeCompetitors scrapes targets with bounded concurrency and returns the
// successes in target order.
func scrapeCompetitors(jc *jobrt.Context, deps CollectionDeps, cfg CollectionConfig, targets []locator.Locator, out *analysis.CollectionOutput) ([]analysis.Product, error) {
	if len(targets) == 0 {
		return []analysis.Product{}, nil
	}
	results := make([]*analysis.Product, len(targets))
	reasons := make([]string, len(targets))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(jc.Ctx)
	g.SetLimit(cfg.CompetitorWorkers)
	for i, loc := range targets {
		i, loc := i, loc
		g.Go(func() error {
			res := deps.Scraper.ScrapeProduct(gctx, loc)
			switch {
			case res.Failure != nil:
				reasons[i] = res.Failure.Error()
			case res.Product == nil || strings.TrimSpace(res.Product.Title) == "":
				reasons[i] = "missing title"
			default:
				p := *res.Product
				if p.ASIN == "" {
					p.ASIN = loc.ASIN
				}
				if p.URL == "" {
					p.URL = loc.URL
				}
				results[i] = &p
			}

			mu.Lock()
			done++
			jc.Progress(0.6+0.35*float64(done)/float64(len(targets)),
				fmt.Sprintf("Scraped %d of %d competitors", done, len(targets)))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := jc.Ctx.Err(); err != nil {
		return nil, err
	}

	competitors := make([]analysis.Product, 0, len(targets))
	for i, p := range results {
		if p == nil {
			deps.Metrics.IncScrape("competitor", "failed")
			jc.Log.Warn("Competitor scrape failed, skipping", "asin", targets[i].ASIN, "error", reasons[i])
			out.Skipped = append(out.Skipped, analysis.SkippedItem{Kind: "competitor", Target: targets[i].ASIN, Reason: reasons[i]})
			continue
		}
		deps.Metrics.IncScrape("competitor", "ok")
		competitors = append(competitors, *p)
	}
	return competitors, nil
}

func record(jc *jobrt.Context, deps CollectionDeps, p analysis.Product) {
	if deps.Products == nil {
		return
	}
	if _, err := deps.Products.Append(dbctx.Context{Ctx: jc.Ctx}, jc.SessionID, p); err != nil {
		jc.Log.Warn("Product record write failed", "asin", p.ASIN, "error", err)
	}
}
