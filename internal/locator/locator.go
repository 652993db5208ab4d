// Package locator turns user supplied product references into canonical
// marketplace locators.
package locator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultBase is used for bare identifiers.
const DefaultBase = "https://www.amazon.com"

var (
	asinPattern     = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	asinPathPattern = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d|product-reviews)/([A-Z0-9]{10})(?:[/?#]|$)`)
)

// Locator is a resolved product reference.
type Locator struct {
	ASIN string `json:"asin"`
	URL  string `json:"url"`
}

func (l Locator) String() string { return l.URL }

// InvalidLocatorError reports a reference that names no product.
type InvalidLocatorError struct {
	Reference string
	Reason    string
}

func (e *InvalidLocatorError) Error() string {
	return fmt.Sprintf("invalid product reference %q: %s", e.Reference, e.Reason)
}

// Resolve accepts a bare identifier or a URL carrying one and returns the
// canonical <scheme>://<host>/dp/<ID> form.
func Resolve(reference string) (Locator, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return Locator{}, &InvalidLocatorError{Reference: reference, Reason: "empty"}
	}
	if asinPattern.MatchString(ref) {
		return Locator{ASIN: ref, URL: DefaultBase + "/dp/" + ref}, nil
	}

	u, err := parseURL(ref)
	if err != nil {
		return Locator{}, &InvalidLocatorError{Reference: reference, Reason: "not a bare identifier or URL"}
	}
	asin := asinFromPath(u.EscapedPath())
	if asin == "" {
		// Sponsored search results wrap the product path in a redirect parameter.
		if inner := u.Query().Get("url"); inner != "" {
			asin = asinFromPath(inner)
		}
	}
	if asin == "" {
		return Locator{}, &InvalidLocatorError{Reference: reference, Reason: "no product identifier in URL"}
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return Locator{ASIN: asin, URL: scheme + "://" + strings.ToLower(u.Host) + "/dp/" + asin}, nil
}

// ResolveRelative resolves a marketplace-relative href such as "/dp/X/ref=sr_1"
// against base before resolving it.
func ResolveRelative(base, href string) (Locator, error) {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") {
		href = strings.TrimRight(base, "/") + href
	}
	return Resolve(href)
}

// IsSupportedMarketplace reports whether reference is a bare identifier or a
// URL on an Amazon storefront host.
func IsSupportedMarketplace(reference string) bool {
	ref := strings.TrimSpace(reference)
	if asinPattern.MatchString(ref) {
		return true
	}
	u, err := parseURL(ref)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, label := range strings.Split(host, ".") {
		if label == "amazon" || label == "amzn" {
			return true
		}
	}
	return false
}

// parseURL tolerates a missing scheme ("www.amazon.com/dp/...").
func parseURL(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err == nil && u.Host == "" && u.Scheme == "" && strings.Contains(ref, ".") {
		u, err = url.Parse("https://" + ref)
	}
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

func asinFromPath(p string) string {
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	m := asinPathPattern.FindStringSubmatch(p)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
