// Package amazon implements the scrape and search ports against Amazon's
// public product and search pages.
package amazon

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/pkg/httpx"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type Config struct {
	// BaseURL replaces the storefront origin, e.g. for a local mirror.
	BaseURL string
	Timeout time.Duration
	// Politeness delay before each request.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Upper bound on bytes read from one page.
	MaxBodyBytes int64
}

// Client fetches and parses marketplace pages. It implements
// capabilities.Scraper and capabilities.Searcher.
type Client struct {
	log  *logger.Logger
	http *http.Client
	cfg  Config
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

func NewClient(log *logger.Logger, cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = locator.DefaultBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	return &Client{
		log:  log.With("client", "AmazonClient"),
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}
}

type page struct {
	status int
	doc    *goquery.Document
	resp   *http.Response
}

func (c *Client) fetch(ctx context.Context, target string) (*page, error) {
	if err := httpx.Sleep(ctx, httpx.Between(c.cfg.MinDelay, c.cfg.MaxDelay)); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	p := &page{status: resp.StatusCode, resp: resp}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return p, nil
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	p.doc = doc
	return p, nil
}

// rebase points a canonical locator at the configured origin.
func (c *Client) rebase(loc locator.Locator) string {
	if c.cfg.BaseURL == locator.DefaultBase || loc.ASIN == "" {
		return loc.URL
	}
	return c.cfg.BaseURL + "/dp/" + loc.ASIN
}

var botPhrases = []string{
	"enter the characters you see below",
	"sorry, we just need to make sure you're not a robot",
	"sorry, we just need to make sure",
	"type the characters you see in this image",
	"captcha",
}

func looksLikeBotWall(doc *goquery.Document) bool {
	if doc.Find(`form[action*="validateCaptcha"]`).Length() > 0 {
		return true
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range botPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
