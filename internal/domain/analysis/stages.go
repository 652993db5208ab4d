package analysis

import "time"

const (
	StageCollection   = "collection"
	StageAnalysis     = "analysis"
	StageOptimization = "optimization"
)

// StageOrder is the fixed pipeline sequence.
var StageOrder = []string{StageCollection, StageAnalysis, StageOptimization}

// SkippedItem records a non-fatal failure inside a stage.
type SkippedItem struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type CollectionOutput struct {
	Main               Product       `json:"main"`
	Competitors        []Product     `json:"competitors"`
	Keywords           []string      `json:"keywords"`
	CompetitorLocators []string      `json:"competitor_locators"`
	Skipped            []SkippedItem `json:"skipped,omitempty"`
}

type AnalysisOutput struct {
	ProductAnalysis    string   `json:"product_analysis"`
	CompetitorAnalysis string   `json:"competitor_analysis"`
	Fallbacks          []string `json:"fallbacks,omitempty"`
}

type OptimizationOutput struct {
	MarketPositioning    string   `json:"market_positioning"`
	OptimizationStrategy string   `json:"optimization_strategy"`
	Fallbacks            []string `json:"fallbacks,omitempty"`
}

// Result is the aggregate returned once every stage succeeded.
type Result struct {
	SessionID            string    `json:"session_id"`
	SourceLocator        string    `json:"amazon_url"`
	MainProduct          Product   `json:"main_product"`
	Competitors          []Product `json:"competitors"`
	Keywords             []string  `json:"keywords"`
	ProductAnalysis      string    `json:"product_analysis"`
	CompetitorAnalysis   string    `json:"competitor_analysis"`
	MarketPositioning    string    `json:"market_positioning"`
	OptimizationStrategy string    `json:"optimization_strategy"`
	Degraded             bool      `json:"degraded"`
	Fallbacks            []string  `json:"fallbacks,omitempty"`
	StartedAt            time.Time `json:"started_at"`
}

// PipelineState is what stages read from their predecessors.
type PipelineState struct {
	SessionID     string
	SourceLocator string
	Collection    *CollectionOutput
	Analysis      *AnalysisOutput
	Optimization  *OptimizationOutput
}

// BuildResult assembles the final payload from a fully successful run.
func (st *PipelineState) BuildResult(startedAt time.Time) Result {
	res := Result{
		SessionID:     st.SessionID,
		SourceLocator: st.SourceLocator,
		Competitors:   []Product{},
		Keywords:      []string{},
		StartedAt:     startedAt.UTC(),
	}
	if c := st.Collection; c != nil {
		res.MainProduct = c.Main
		res.Degraded = c.Main.Degraded
		if c.Competitors != nil {
			res.Competitors = c.Competitors
		}
		if c.Keywords != nil {
			res.Keywords = c.Keywords
		}
	}
	if a := st.Analysis; a != nil {
		res.ProductAnalysis = a.ProductAnalysis
		res.CompetitorAnalysis = a.CompetitorAnalysis
		res.Fallbacks = append(res.Fallbacks, a.Fallbacks...)
	}
	if o := st.Optimization; o != nil {
		res.MarketPositioning = o.MarketPositioning
		res.OptimizationStrategy = o.OptimizationStrategy
		res.Fallbacks = append(res.Fallbacks, o.Fallbacks...)
	}
	return res
}
