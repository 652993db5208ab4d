package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/platform/ctxutil"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

// Publisher delivers progress events. The realtime multiplexer implements it.
type Publisher interface {
	Publish(ctx context.Context, ev *analysis.ProgressEvent) error
}

/*
Context is the execution handle for a single pipeline run.
It carries:
	- Ctx: the run's context.Context (budget deadline, cancellation)
	- SessionID: the session this run owns
	- Log: a logger scoped to the session
	- the progress window of the stage currently executing
Stage code reports progress only through Progress; the orchestrator owns the
stage boundaries (EnterStage, StageDone) and the terminal events (Fail, Complete).
*/
type Context struct {
	Ctx       context.Context
	SessionID string
	Log       *logger.Logger

	pub Publisher
	now func() time.Time
	tr  *tracker
}

// tracker is the progress state shared by every handle of one run.
type tracker struct {
	mu     sync.Mutex
	stage  string
	base   float64
	weight float64
	last   float64
	// ended is set by the first terminal event; later reports are dropped.
	ended bool
}

func NewContext(ctx context.Context, sessionID string, log *logger.Logger, pub Publisher) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Ctx:       ctx,
		SessionID: sessionID,
		Log:       log.With(append([]interface{}{"session_id", sessionID}, ctxutil.LogFields(ctx)...)...),
		pub:       pub,
		now:       time.Now,
		tr:        &tracker{stage: analysis.StageSupervisor},
	}
}

// WithCtx returns a handle bound to ctx that shares this run's progress.
func (c *Context) WithCtx(ctx context.Context) *Context {
	cp := *c
	cp.Ctx = ctx
	return &cp
}

/*
EnterStage opens the progress window [base, base+weight] for stage and emits
a working event at the window start.
Invariants:
	- the window is clamped to stay inside [0,1]
	- the reported fraction never decreases, even if a window starts earlier
	  than progress already reported
*/
func (c *Context) EnterStage(stage string, base, weight float64, msg string) {
	t := c.tr
	t.mu.Lock()
	t.stage = stage
	t.base = clamp01(base)
	t.weight = clamp01(weight)
	if t.base+t.weight > 1 {
		t.weight = 1 - t.base
	}
	t.mu.Unlock()
	c.Progress(0, msg)
}

// Progress reports local progress in [0,1] within the current stage window.
func (c *Context) Progress(local float64, msg string, detail ...string) {
	c.report(func(t *tracker) analysis.EventSpec {
		return analysis.EventSpec{
			StageName: t.stage,
			Status:    analysis.EventWorking,
			Fraction:  t.advance(t.base + clamp01(local)*t.weight),
			Message:   msg,
			Detail:    firstOr(detail, ""),
		}
	})
}

// StageDone emits the completed event at the end of the current window.
func (c *Context) StageDone(msg string) {
	c.report(func(t *tracker) analysis.EventSpec {
		return analysis.EventSpec{
			StageName: t.stage,
			Status:    analysis.EventCompleted,
			Fraction:  t.advance(t.base + t.weight),
			Message:   msg,
		}
	})
}

// Started emits the supervisor's initial event.
func (c *Context) Started(msg string) {
	c.report(func(t *tracker) analysis.EventSpec {
		return analysis.EventSpec{
			StageName: analysis.StageSupervisor,
			Status:    analysis.EventWorking,
			Fraction:  t.last,
			Message:   msg,
		}
	})
}

// Fail emits the terminal error event. The fraction stays where the run
// stopped so delivered progress never moves backwards.
func (c *Context) Fail(stage, errText string) {
	if stage == "" {
		stage = analysis.StageSupervisor
	}
	c.finish(func(t *tracker) analysis.EventSpec {
		return analysis.EventSpec{
			StageName: stage,
			Status:    analysis.EventError,
			Fraction:  t.last,
			Message:   "Analysis failed",
			ErrorText: errText,
		}
	})
}

// Complete emits the terminal completion event with the full result attached.
func (c *Context) Complete(msg string, result any) {
	c.finish(func(t *tracker) analysis.EventSpec {
		return analysis.EventSpec{
			Type:      analysis.EventAnalysisComplete,
			StageName: analysis.StageSupervisor,
			Status:    analysis.EventCompleted,
			Fraction:  t.advance(1),
			Message:   msg,
			Result:    result,
		}
	})
}

// report builds and publishes an event while holding the tracker lock, so
// concurrent reporters publish in the order their fractions were assigned.
// Nothing is published once the run has ended.
func (c *Context) report(build func(t *tracker) analysis.EventSpec) {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	if c.tr.ended {
		return
	}
	c.emit(build(c.tr))
}

// finish publishes the run's single terminal event.
func (c *Context) finish(build func(t *tracker) analysis.EventSpec) {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	if c.tr.ended {
		return
	}
	c.tr.ended = true
	c.emit(build(c.tr))
}

// Ended reports whether a terminal event has been published.
func (c *Context) Ended() bool {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	return c.tr.ended
}

// Fraction is the highest global fraction reported so far.
func (c *Context) Fraction() float64 {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	return c.tr.last
}

// Stage is the stage whose window is currently open.
func (c *Context) Stage() string {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	return c.tr.stage
}

// advance clamps f to be monotonic. Caller holds mu.
func (t *tracker) advance(f float64) float64 {
	f = clamp01(f)
	if f < t.last {
		return t.last
	}
	t.last = f
	return f
}

func (c *Context) emit(spec analysis.EventSpec) {
	if c.pub == nil {
		return
	}
	ev, err := analysis.NewProgressEvent(c.SessionID, spec, c.now())
	if err != nil {
		c.Log.Warn("Dropping invalid progress event", "stage", spec.StageName, "error", err)
		return
	}
	// Terminal events must go out even when the run's budget is spent.
	if err := c.pub.Publish(ctxutil.Detach(c.Ctx), ev); err != nil {
		c.Log.Warn("Progress publish failed", "stage", spec.StageName, "error", err)
	}
}

func clamp01(f float64) float64 {
	if f != f || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func firstOr(vals []string, def string) string {
	if len(vals) > 0 && vals[0] != "" {
		return vals[0]
	}
	return def
}
