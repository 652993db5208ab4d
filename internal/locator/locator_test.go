package locator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		in   string
		asin string
		url  string
	}{
		{"bare id", "B0FB7FQWJL", "B0FB7FQWJL", "https://www.amazon.com/dp/B0FB7FQWJL"},
		{"bare id padded", "  B0FB7FQWJL ", "B0FB7FQWJL", "https://www.amazon.com/dp/B0FB7FQWJL"},
		{"dp url with slug", "https://www.amazon.com/Some-Bottle/dp/B0FB7FQWJL/ref=sr_1_1?th=1", "B0FB7FQWJL", "https://www.amazon.com/dp/B0FB7FQWJL"},
		{"gp product", "https://www.amazon.co.uk/gp/product/B07XJ8C8F5", "B07XJ8C8F5", "https://www.amazon.co.uk/dp/B07XJ8C8F5"},
		{"any host", "https://x/dp/B111111111", "B111111111", "https://x/dp/B111111111"},
		{"no scheme", "www.amazon.com/dp/B0FB7FQWJL", "B0FB7FQWJL", "https://www.amazon.com/dp/B0FB7FQWJL"},
		{"sponsored redirect", "https://www.amazon.com/sspa/click?ie=UTF8&url=%2FWidget%2Fdp%2FB0CHX1W1XY%2Fref%3Dsr_1", "B0CHX1W1XY", "https://www.amazon.com/dp/B0CHX1W1XY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := Resolve(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.asin, loc.ASIN)
			assert.Equal(t, tc.url, loc.URL)
		})
	}
}

func TestResolveRejects(t *testing.T) {
	for _, in := range []string{"", "b0fb7fqwjl", "B0FB7FQ", "not a url", "https://www.amazon.com/s?k=bottle", "https://www.amazon.com/dp/short"} {
		_, err := Resolve(in)
		var invalid *InvalidLocatorError
		require.True(t, errors.As(err, &invalid), "input %q", in)
	}
}

func TestResolveRelative(t *testing.T) {
	loc, err := ResolveRelative("https://www.amazon.com/", "/Gadget/dp/B0CHX1W1XY/ref=sr_1_4")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.com/dp/B0CHX1W1XY", loc.URL)
}

func TestIsSupportedMarketplace(t *testing.T) {
	assert.True(t, IsSupportedMarketplace("B0FB7FQWJL"))
	assert.True(t, IsSupportedMarketplace("https://www.amazon.com/dp/B0FB7FQWJL"))
	assert.True(t, IsSupportedMarketplace("https://www.amazon.de/dp/B0FB7FQWJL"))
	assert.True(t, IsSupportedMarketplace("https://amzn.to/3abc"))
	assert.False(t, IsSupportedMarketplace("https://www.ebay.com/itm/123"))
	assert.False(t, IsSupportedMarketplace("https://notamazon.com/dp/B0FB7FQWJL"))
	assert.False(t, IsSupportedMarketplace("hello"))
}
