package steps

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	jobrt "github.com/yungbote/listinglens-backend/internal/jobs/runtime"
)

// ErrAllSummariesFailed fails a stage under the strict summary policy.
var ErrAllSummariesFailed = errors.New("all summaries failed")

type SummaryDeps struct {
	Summarizer capabilities.Summarizer
	// Strict makes a stage fail when every summary call in it failed.
	Strict bool
}

var fallbackText = map[capabilities.PromptKind]string{
	capabilities.PromptProductAnalysis: "The product appears to be positioned in its market with standard features. " +
		"A fuller analysis needs more detailed product information and market data.",
	capabilities.PromptCompetitorAnalysis: "Competitive analysis needs detailed product and competitor information. " +
		"The product sits in a competitive market with varied features and pricing.",
	capabilities.PromptMarketPositioning: "Consider positioning as a quality leader with a clear value proposition. " +
		"Target quality-conscious buyers and lead marketing with unique differentiators.",
	capabilities.PromptOptimizationStrategy: "Improve the title, description, pricing strategy and images. " +
		"Consider A+ content, review management and targeted promotions.",
}

// Fallback renders the clearly marked text used when a summary call fails.
func Fallback(kind capabilities.PromptKind, detail string) string {
	body := fallbackText[kind]
	if body == "" {
		body = "No generated text is available."
	}
	return fmt.Sprintf("[Fallback] %s could not be generated (%s).\n\n%s", headingFor(kind), detail, body)
}

func headingFor(kind capabilities.PromptKind) string {
	words := strings.Split(string(kind), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// summarize calls the port once, substituting fallback text on failure.
func summarize(jc *jobrt.Context, deps SummaryDeps, kind capabilities.PromptKind, inputs ...string) (string, bool) {
	if deps.Summarizer == nil {
		return Fallback(kind, "summarizer not configured"), false
	}
	res := deps.Summarizer.Summarize(jc.Ctx, kind, inputs...)
	if res.Failure != nil {
		jc.Log.Warn("Summary failed, using fallback", "kind", kind, "error", res.Failure.Error())
		return Fallback(kind, res.Failure.Detail), false
	}
	if strings.TrimSpace(res.Text) == "" {
		jc.Log.Warn("Summary empty, using fallback", "kind", kind)
		return Fallback(kind, "empty response"), false
	}
	return res.Text, true
}

// Analyze summarizes the main product, then the main product against its
// competitors.
func Analyze(jc *jobrt.Context, deps SummaryDeps, col *analysis.CollectionOutput) (*analysis.AnalysisOutput, error) {
	if col == nil {
		return nil, fmt.Errorf("analysis: missing collection output")
	}
	out := &analysis.AnalysisOutput{}
	mainBrief := ProductBrief(col.Main)

	jc.Progress(0.1, "Analyzing main product")
	text, ok := summarize(jc, deps, capabilities.PromptProductAnalysis, mainBrief)
	out.ProductAnalysis = text
	if !ok {
		out.Fallbacks = append(out.Fallbacks, string(capabilities.PromptProductAnalysis))
	}
	if err := jc.Ctx.Err(); err != nil {
		return nil, err
	}

	jc.Progress(0.5, "Comparing product features and pricing")
	text, ok = summarize(jc, deps, capabilities.PromptCompetitorAnalysis, mainBrief, CompetitorsBrief(col.Competitors))
	out.CompetitorAnalysis = text
	if !ok {
		out.Fallbacks = append(out.Fallbacks, string(capabilities.PromptCompetitorAnalysis))
	}
	if err := jc.Ctx.Err(); err != nil {
		return nil, err
	}

	if deps.Strict && len(out.Fallbacks) == 2 {
		return nil, fmt.Errorf("analysis: %w", ErrAllSummariesFailed)
	}
	return out, nil
}

// Optimize derives market positioning from the analyses, then an
// optimization strategy from the main product and that positioning.
func Optimize(jc *jobrt.Context, deps SummaryDeps, col *analysis.CollectionOutput, an *analysis.AnalysisOutput) (*analysis.OptimizationOutput, error) {
	if col == nil || an == nil {
		return nil, fmt.Errorf("optimization: missing upstream output")
	}
	out := &analysis.OptimizationOutput{}

	jc.Progress(0.1, "Determining market positioning")
	text, ok := summarize(jc, deps, capabilities.PromptMarketPositioning, an.ProductAnalysis, an.CompetitorAnalysis)
	out.MarketPositioning = text
	if !ok {
		out.Fallbacks = append(out.Fallbacks, string(capabilities.PromptMarketPositioning))
	}
	if err := jc.Ctx.Err(); err != nil {
		return nil, err
	}

	jc.Progress(0.5, "Creating actionable recommendations")
	text, ok = summarize(jc, deps, capabilities.PromptOptimizationStrategy, ProductBrief(col.Main), out.MarketPositioning)
	out.OptimizationStrategy = text
	if !ok {
		out.Fallbacks = append(out.Fallbacks, string(capabilities.PromptOptimizationStrategy))
	}
	if err := jc.Ctx.Err(); err != nil {
		return nil, err
	}

	if deps.Strict && len(out.Fallbacks) == 2 {
		return nil, fmt.Errorf("optimization: %w", ErrAllSummariesFailed)
	}
	return out, nil
}
