package amazon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

const productPage = `<html><body>
<div id="wayfinding-breadcrumbs_feature_div"><ul><li><a>Sports &amp; Outdoors</a></li><li><a> Water Bottles </a></li></ul></div>
<span id="productTitle">
   Insulated Steel Water Bottle, 750ml
</span>
<a id="bylineInfo">Visit the HydroPeak Store</a>
<span class="a-icon-alt">4.6 out of 5 stars</span>
<span id="acrCustomerReviewText">12,345 ratings</span>
<span class="a-price apexPriceToPay"><span class="a-offscreen">$24.99</span></span>
<div id="feature-bullets"><ul>
<li><span class="a-list-item">Keeps drinks cold for 24 hours</span></li>
<li><span class="a-list-item">short</span></li>
<li><span class="a-list-item">Leak-proof lid with carry loop</span></li>
</ul></div>
<div id="productDescription"><p>Double walled and BPA free.</p></div>
<table id="productDetails_techSpec_section_1"><tr><th>Capacity</th><td>750 Milliliters</td></tr></table>
<div data-hook="review-body"><span>Great bottle, no leaks.</span></div>
</body></html>`

const captchaPage = `<html><body><form action="/errors/validateCaptcha"><p>Enter the characters you see below</p></form></body></html>`

const searchPage = `<html><body>
<div data-component-type="s-search-result" data-asin="B111111111"><h2><a href="/Bottle/dp/B111111111/ref=sr_1_1">One</a></h2></div>
<div data-component-type="s-search-result" data-asin=""><h2><a href="/Other/dp/B222222222/ref=sr_1_2">Two</a></h2></div>
<div data-component-type="s-search-result" data-asin="B111111111"><h2><a href="/Bottle/dp/B111111111/ref=sr_1_3">Dup</a></h2></div>
<div data-component-type="s-search-result"><h2><a href="/sspa/click?url=%2FX%2Fdp%2FB333333333%2Fref">Ad</a></h2></div>
<div data-component-type="s-search-result"><h2><a href="/gp/help">Junk</a></h2></div>
</body></html>`

func newTestClient(t *testing.T, handler http.Handler, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(logger.NewNop(), Config{BaseURL: srv.URL, Timeout: timeout})
}

func mux() *http.ServeMux {
	m := http.NewServeMux()
	m.HandleFunc("/dp/B0FB7FQWJL", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(productPage))
	})
	m.HandleFunc("/dp/B000000404", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	m.HandleFunc("/dp/B000000503", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m.HandleFunc("/dp/B00CAPTCHA", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(captchaPage)) })
	m.HandleFunc("/dp/B0NOTITLE0", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	})
	m.HandleFunc("/dp/B0SLOWPAGE", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	m.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("k") == "water bottle" {
			_, _ = w.Write([]byte(searchPage))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	return m
}

func TestScrapeProductExtractsFields(t *testing.T) {
	c := newTestClient(t, mux(), 5*time.Second)
	loc, err := locator.Resolve("B0FB7FQWJL")
	require.NoError(t, err)

	res := c.ScrapeProduct(context.Background(), loc)
	require.Nil(t, res.Failure)
	p := res.Product
	assert.Equal(t, "Insulated Steel Water Bottle, 750ml", p.Title)
	assert.Equal(t, "https://www.amazon.com/dp/B0FB7FQWJL", p.URL)
	assert.Equal(t, "HydroPeak", p.Brand)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 24.99, *p.Price, 0.001)
	assert.Equal(t, "USD", p.Currency)
	require.NotNil(t, p.Rating)
	assert.InDelta(t, 4.6, *p.Rating, 0.001)
	require.NotNil(t, p.ReviewCount)
	assert.Equal(t, 12345, *p.ReviewCount)
	assert.Equal(t, []string{"Keeps drinks cold for 24 hours", "Leak-proof lid with carry loop"}, p.Features)
	assert.Equal(t, "Sports & Outdoors > Water Bottles", p.Category)
	assert.Equal(t, "Double walled and BPA free.", p.Description)
	assert.Equal(t, map[string]string{"Capacity": "750 Milliliters"}, p.Specs)
	assert.Equal(t, []string{"Great bottle, no leaks."}, p.Reviews)
	assert.False(t, p.ScrapedAt.IsZero())
}

func TestScrapeProductFailureReasons(t *testing.T) {
	c := newTestClient(t, mux(), 200*time.Millisecond)
	cases := map[string]capabilities.ScrapeReason{
		"B000000404": capabilities.ReasonNotFound,
		"B000000503": capabilities.ReasonRateLimited,
		"B00CAPTCHA": capabilities.ReasonBotDetected,
		"B0NOTITLE0": capabilities.ReasonParseError,
		"B0SLOWPAGE": capabilities.ReasonTimeout,
	}
	for asin, want := range cases {
		t.Run(asin, func(t *testing.T) {
			loc, err := locator.Resolve(asin)
			require.NoError(t, err)
			res := c.ScrapeProduct(context.Background(), loc)
			require.Nil(t, res.Product)
			require.NotNil(t, res.Failure)
			assert.Equal(t, want, res.Failure.Reason)
		})
	}
}

func TestSearchProductsDedupesAndCaps(t *testing.T) {
	c := newTestClient(t, mux(), 5*time.Second)

	res := c.SearchProducts(context.Background(), "water bottle", 5)
	require.Nil(t, res.Failure)
	var asins []string
	for _, l := range res.Locators {
		asins = append(asins, l.ASIN)
	}
	assert.Equal(t, []string{"B111111111", "B222222222", "B333333333"}, asins)

	capped := c.SearchProducts(context.Background(), "water bottle", 2)
	assert.Len(t, capped.Locators, 2)
}

func TestSearchProductsFailure(t *testing.T) {
	c := newTestClient(t, mux(), 5*time.Second)
	res := c.SearchProducts(context.Background(), "nothing", 5)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "nothing", res.Failure.Keyword)

	empty := c.SearchProducts(context.Background(), "  ", 5)
	require.NotNil(t, empty.Failure)
}

func TestParsePrice(t *testing.T) {
	v, cur, ok := parsePrice("£1,299.50")
	require.True(t, ok)
	assert.InDelta(t, 1299.5, v, 0.001)
	assert.Equal(t, "GBP", cur)

	_, _, ok = parsePrice("Currently unavailable")
	assert.False(t, ok)
}
