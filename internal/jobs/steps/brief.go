package steps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
)

const (
	briefMaxFeatures = 5
	briefMaxReviews  = 3
	briefMaxSpecs    = 8
	briefMaxDescLen  = 600
)

// ProductBrief renders a product as plain text for summary prompts.
func ProductBrief(p analysis.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "ASIN: %s\n", p.ASIN)
	if p.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", p.Brand)
	}
	if p.Price != nil {
		cur := p.Currency
		if cur == "" {
			cur = "USD"
		}
		fmt.Fprintf(&b, "Price: %.2f %s\n", *p.Price, cur)
	}
	if p.Rating != nil {
		fmt.Fprintf(&b, "Rating: %.1f/5", *p.Rating)
		if p.ReviewCount != nil {
			fmt.Fprintf(&b, " (%d reviews)", *p.ReviewCount)
		}
		b.WriteString("\n")
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	if len(p.Features) > 0 {
		b.WriteString("Features:\n")
		for i, f := range p.Features {
			if i == briefMaxFeatures {
				break
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(p.Specs) > 0 {
		keys := make([]string, 0, len(p.Specs))
		for k := range p.Specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > briefMaxSpecs {
			keys = keys[:briefMaxSpecs]
		}
		b.WriteString("Specifications:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, p.Specs[k])
		}
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", truncate(p.Description, briefMaxDescLen))
	}
	if len(p.Reviews) > 0 {
		b.WriteString("Review excerpts:\n")
		for i, r := range p.Reviews {
			if i == briefMaxReviews {
				break
			}
			fmt.Fprintf(&b, "- %s\n", truncate(r, 200))
		}
	}
	if p.Degraded {
		fmt.Fprintf(&b, "Note: %s\n", p.Note)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CompetitorsBrief renders every competitor, numbered in collection order.
func CompetitorsBrief(ps []analysis.Product) string {
	if len(ps) == 0 {
		return "No competitor data was collected."
	}
	parts := make([]string, 0, len(ps))
	for i, p := range ps {
		parts = append(parts, fmt.Sprintf("Competitor %d\n%s", i+1, ProductBrief(p)))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
