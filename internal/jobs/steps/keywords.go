package steps

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

const MaxKeywords = 5

// KeywordSource derives competitor search phrases for a product. The result
// is ordered, non-empty and at most max entries.
type KeywordSource interface {
	Keywords(ctx context.Context, p analysis.Product, max int) []string
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "your": {}, "you": {},
	"pack": {}, "set": {}, "new": {}, "best": {}, "inch": {}, "inches": {}, "count": {},
	"by": {}, "of": {}, "in": {}, "to": {}, "on": {}, "a": {}, "an": {}, "or": {},
	"product": {}, "edition": {}, "version": {}, "model": {}, "size": {}, "color": {},
	"black": {}, "white": {}, "pcs": {}, "piece": {}, "pieces": {}, "compatible": {},
}

// DeterministicKeywords builds phrases from title and category tokens.
type DeterministicKeywords struct{}

func (DeterministicKeywords) Keywords(_ context.Context, p analysis.Product, max int) []string {
	max = clampKeywords(max)
	brand := strings.ToLower(strings.TrimSpace(p.Brand))
	tokens := significantTokens(p.Title, brand)
	category := categoryLeaf(p.Category)

	var out []string
	if len(tokens) >= 3 {
		out = append(out, strings.Join(tokens[:3], " "))
	}
	if len(tokens) >= 2 {
		out = append(out, strings.Join(tokens[:2], " "))
	}
	if category != "" {
		out = append(out, category)
		if len(tokens) > 0 {
			out = append(out, tokens[0]+" "+category)
		}
	}
	for i := 1; i+1 < len(tokens) && i < 4; i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	if len(tokens) == 1 {
		out = append(out, tokens[0])
	}
	if brand != "" && len(tokens) > 0 {
		out = append(out, tokens[0]+" alternative to "+brand)
	}

	out = dedupeStrings(out)
	if len(out) == 0 {
		switch {
		case strings.TrimSpace(p.Title) != "":
			out = []string{strings.ToLower(strings.TrimSpace(p.Title))}
		default:
			out = []string{p.ASIN}
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// SummarizerKeywords asks the summarizer for phrases and falls back to
// Fallback when the call fails or yields nothing usable.
type SummarizerKeywords struct {
	Summarizer capabilities.Summarizer
	Fallback   KeywordSource
	Log        *logger.Logger
}

func (s SummarizerKeywords) Keywords(ctx context.Context, p analysis.Product, max int) []string {
	max = clampKeywords(max)
	fallback := s.Fallback
	if fallback == nil {
		fallback = DeterministicKeywords{}
	}
	if s.Summarizer == nil {
		return fallback.Keywords(ctx, p, max)
	}
	res := s.Summarizer.Summarize(ctx, capabilities.PromptKeywords, p.Title, p.Category, p.Brand)
	if res.Failure != nil {
		if s.Log != nil {
			s.Log.Warn("Keyword generation failed, using title keywords", "asin", p.ASIN, "error", res.Failure.Error())
		}
		return fallback.Keywords(ctx, p, max)
	}
	out := parseKeywordList(res.Text)
	if len(out) == 0 {
		return fallback.Keywords(ctx, p, max)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// parseKeywordList accepts one phrase per line or a comma separated list,
// tolerating list markers and quotes.
func parseKeywordList(text string) []string {
	text = strings.ReplaceAll(text, "\r", "")
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		parts = append(parts, strings.Split(line, ",")...)
	}
	var out []string
	for _, part := range parts {
		kw := listMarker.ReplaceAllString(part, "")
		kw = strings.Trim(kw, "\"'` ")
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw == "" || len(kw) > 80 {
			continue
		}
		out = append(out, kw)
	}
	return dedupeStrings(out)
}

func significantTokens(title, brand string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if brand != "" && f == brand {
			continue
		}
		if isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func categoryLeaf(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return ""
	}
	for _, sep := range []string{"›", ">", "/"} {
		if i := strings.LastIndex(category, sep); i >= 0 {
			category = category[i+len(sep):]
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(category), " "))
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clampKeywords(max int) int {
	if max <= 0 || max > MaxKeywords {
		return MaxKeywords
	}
	return max
}
