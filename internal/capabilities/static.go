package capabilities

import (
	"context"
	"fmt"
	"strings"
)

// StaticSummarizer answers every prompt locally without a model. It is wired
// when no model credentials are configured.
type StaticSummarizer struct{}

func (StaticSummarizer) Summarize(ctx context.Context, kind PromptKind, inputs ...string) SummaryResult {
	if err := ctx.Err(); err != nil {
		return SummaryResult{Failure: &SummaryFailure{Kind: kind, Detail: err.Error()}}
	}
	if kind == PromptKeywords {
		return SummaryResult{Failure: &SummaryFailure{Kind: kind, Detail: "keyword extraction requires a model"}}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (offline summary)\n\n", headingFor(kind))
	for i, in := range inputs {
		in = strings.TrimSpace(in)
		if in == "" {
			continue
		}
		if len(in) > 600 {
			in = in[:600] + "..."
		}
		fmt.Fprintf(&b, "### Input %d\n\n%s\n\n", i+1, in)
	}
	return SummaryResult{Text: strings.TrimSpace(b.String())}
}

func headingFor(kind PromptKind) string {
	switch kind {
	case PromptProductAnalysis:
		return "Product Analysis"
	case PromptCompetitorAnalysis:
		return "Competitor Analysis"
	case PromptMarketPositioning:
		return "Market Positioning"
	case PromptOptimizationStrategy:
		return "Optimization Strategy"
	default:
		return string(kind)
	}
}
