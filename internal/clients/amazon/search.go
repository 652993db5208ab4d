package amazon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/pkg/httpx"
)

var resultLinkSelectors = []string{
	"h2 a",
	"a.a-link-normal.s-no-outline",
	"a.a-link-normal[href*='/dp/']",
}

func (c *Client) SearchProducts(ctx context.Context, keyword string, limit int) (res capabilities.SearchResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Search panic", "keyword", keyword, "panic", r)
			res = capabilities.SearchResult{Failure: &capabilities.SearchFailure{Keyword: keyword, Detail: fmt.Sprint(r)}}
		}
	}()
	fail := func(detail string) capabilities.SearchResult {
		return capabilities.SearchResult{Failure: &capabilities.SearchFailure{Keyword: keyword, Detail: detail}}
	}

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return fail("empty keyword")
	}
	if limit <= 0 {
		limit = 5
	}

	target := c.cfg.BaseURL + "/s?" + url.Values{"k": []string{keyword}}.Encode()
	p, err := c.fetch(ctx, target)
	if err != nil {
		if httpx.IsTimeout(err) {
			return fail("timeout: " + err.Error())
		}
		return fail(err.Error())
	}
	if p.status != http.StatusOK {
		return fail(fmt.Sprintf("status %d", p.status))
	}
	if looksLikeBotWall(p.doc) {
		return fail("captcha interstitial")
	}

	var found []locator.Locator
	p.doc.Find(`[data-component-type="s-search-result"]`).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if loc, ok := c.resultLocator(item); ok {
			found = append(found, loc)
		}
		return true
	})
	found = capabilities.DedupeLocators(found)
	if len(found) > limit {
		found = found[:limit]
	}
	return capabilities.SearchResult{Locators: found}
}

func (c *Client) resultLocator(item *goquery.Selection) (locator.Locator, bool) {
	if asin := strings.TrimSpace(item.AttrOr("data-asin", "")); asin != "" {
		if loc, err := locator.Resolve(asin); err == nil {
			return loc, true
		}
	}
	for _, sel := range resultLinkSelectors {
		href, ok := item.Find(sel).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		if loc, err := locator.ResolveRelative(locator.DefaultBase, href); err == nil {
			return loc, true
		}
	}
	return locator.Locator{}, false
}
