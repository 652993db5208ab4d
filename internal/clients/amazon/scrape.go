package amazon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/pkg/httpx"
)

var (
	priceSelectors = []string{
		"span.a-price.apexPriceToPay span.a-offscreen",
		"span.a-price span.a-offscreen",
		"span.a-price-whole",
		"span.a-price-range",
		"span.a-color-price",
	}
	brandSelectors = []string{
		"a#bylineInfo",
		"tr.po-brand td.a-span9 span",
	}
	pricePattern  = regexp.MustCompile(`([$£€¥])?\s*([\d,]+(?:\.\d+)?)`)
	ratingPattern = regexp.MustCompile(`([\d.]+) out of`)
	countPattern  = regexp.MustCompile(`([\d,]+)`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

const (
	maxFeatures = 5
	maxReviews  = 5
)

func (c *Client) ScrapeProduct(ctx context.Context, loc locator.Locator) (res capabilities.ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Scrape panic", "asin", loc.ASIN, "panic", r)
			res = capabilities.ScrapeFailed(capabilities.ReasonParseError, fmt.Sprint(r))
		}
	}()

	p, err := c.fetch(ctx, c.rebase(loc))
	if err != nil {
		if httpx.IsTimeout(err) || errors.Is(err, context.Canceled) {
			return capabilities.ScrapeFailed(capabilities.ReasonTimeout, err.Error())
		}
		c.log.Warn("Product fetch failed", "asin", loc.ASIN, "error", err)
		return capabilities.ScrapeFailed(capabilities.ReasonRateLimited, err.Error())
	}
	switch {
	case p.status == http.StatusNotFound:
		return capabilities.ScrapeFailed(capabilities.ReasonNotFound, "product page returned 404")
	case httpx.IsRateLimitStatus(p.status):
		wait := httpx.RetryAfterDuration(p.resp, 0, time.Minute)
		return capabilities.ScrapeFailed(capabilities.ReasonRateLimited, fmt.Sprintf("status %d, retry after %s", p.status, wait))
	case p.status != http.StatusOK:
		return capabilities.ScrapeFailed(capabilities.ReasonParseError, fmt.Sprintf("unexpected status %d", p.status))
	}
	if looksLikeBotWall(p.doc) {
		return capabilities.ScrapeFailed(capabilities.ReasonBotDetected, "captcha interstitial")
	}

	product := parseProduct(p.doc, loc)
	if product.Title == "" {
		return capabilities.ScrapeFailed(capabilities.ReasonParseError, "could not extract product title")
	}
	product.ScrapedAt = time.Now().UTC()
	return capabilities.ScrapeOK(product)
}

func parseProduct(doc *goquery.Document, loc locator.Locator) analysis.Product {
	p := analysis.Product{ASIN: loc.ASIN, URL: loc.URL}
	p.Title = clean(doc.Find("#productTitle").First().Text())

	for _, sel := range priceSelectors {
		if amount, currency, ok := parsePrice(doc.Find(sel).First().Text()); ok {
			p.Price = &amount
			p.Currency = currency
			break
		}
	}

	for _, sel := range brandSelectors {
		brand := clean(doc.Find(sel).First().Text())
		brand = strings.TrimPrefix(brand, "Brand:")
		brand = strings.TrimPrefix(strings.TrimSpace(brand), "Visit the")
		brand = strings.TrimSuffix(strings.TrimSpace(brand), "Store")
		if brand = strings.TrimSpace(brand); brand != "" {
			p.Brand = brand
			break
		}
	}

	if m := ratingPattern.FindStringSubmatch(doc.Find("span.a-icon-alt").First().Text()); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.Rating = &v
		}
	}
	if m := countPattern.FindStringSubmatch(doc.Find("#acrCustomerReviewText").First().Text()); len(m) == 2 {
		if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			p.ReviewCount = &v
		}
	}

	doc.Find("#feature-bullets span.a-list-item, span.a-list-item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if txt := clean(s.Text()); len(txt) > 10 && !contains(p.Features, txt) {
			p.Features = append(p.Features, txt)
		}
		return len(p.Features) < maxFeatures
	})

	var crumbs []string
	doc.Find("#wayfinding-breadcrumbs_feature_div a").Each(func(_ int, s *goquery.Selection) {
		if txt := clean(s.Text()); txt != "" {
			crumbs = append(crumbs, txt)
		}
	})
	p.Category = strings.Join(crumbs, " > ")

	p.Description = clean(doc.Find("#productDescription").First().Text())

	specs := map[string]string{}
	doc.Find("#productDetails_techSpec_section_1 tr, #productOverview_feature_div tr").Each(func(_ int, s *goquery.Selection) {
		k := clean(s.Find("th, td.a-span3").First().Text())
		v := clean(s.Find("td").Last().Text())
		if k != "" && v != "" && k != v {
			specs[k] = v
		}
	})
	if len(specs) > 0 {
		p.Specs = specs
	}

	doc.Find(`[data-hook="review-body"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if txt := clean(s.Text()); txt != "" {
			p.Reviews = append(p.Reviews, txt)
		}
		return len(p.Reviews) < maxReviews
	})
	return p
}

var currencyCodes = map[string]string{"$": "USD", "£": "GBP", "€": "EUR", "¥": "JPY"}

func parsePrice(raw string) (float64, string, bool) {
	m := pricePattern.FindStringSubmatch(clean(raw))
	if len(m) != 3 {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	currency := currencyCodes[m[1]]
	if currency == "" {
		currency = "USD"
	}
	return v, currency, true
}

func clean(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
