package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	jobrt "github.com/yungbote/listinglens-backend/internal/jobs/runtime"
	"github.com/yungbote/listinglens-backend/internal/jobs/steps"
	"github.com/yungbote/listinglens-backend/internal/jobs/worker"
	"github.com/yungbote/listinglens-backend/internal/observability"
	apperrors "github.com/yungbote/listinglens-backend/internal/pkg/errors"
	"github.com/yungbote/listinglens-backend/internal/platform/ctxutil"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

const DefaultBudget = 3 * time.Minute

var (
	ErrAlreadyRunning  = errors.New("pipeline already running for session")
	ErrPipelineTimeout = errors.New("pipeline budget exhausted")
)

// StageError is returned by Run when a stage fails. The session is already
// marked failed when the caller sees it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Store is the session state the engine reads and writes.
type Store interface {
	Get(ctx context.Context, id string) (*analysis.Session, error)
	Put(ctx context.Context, s *analysis.Session, ttl time.Duration) error
	Update(ctx context.Context, id string, fn func(*analysis.Session) error) (bool, error)
}

// Channel receives progress events and is told when a run is over.
type Channel interface {
	jobrt.Publisher
	Release(sessionID string)
}

type Config struct {
	Budget     time.Duration
	Collection steps.CollectionConfig
}

type Deps struct {
	Log        *logger.Logger
	Store      Store
	Channel    Channel
	Pool       *worker.Pool
	Collection steps.CollectionDeps
	Summaries  steps.SummaryDeps
	Metrics    *observability.Metrics
	Now        func() time.Time
}

// Stage is one sequential pipeline phase. Run returns the stage output;
// Keep stores it on the state for later stages once the stage succeeded.
type Stage struct {
	Name     string
	StartMsg string
	DoneMsg  string
	Run      func(jc *jobrt.Context, st *analysis.PipelineState) (any, error)
	Keep     func(st *analysis.PipelineState, out any)
}

type Engine struct {
	log    *logger.Logger
	deps   Deps
	cfg    Config
	stages []Stage
	tracer trace.Tracer

	mu      sync.Mutex
	running map[string]struct{}
}

func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Log == nil {
		return nil, fmt.Errorf("orchestrator: logger required")
	}
	if deps.Store == nil || deps.Channel == nil || deps.Pool == nil {
		return nil, fmt.Errorf("orchestrator: missing deps")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	e := &Engine{
		log:     deps.Log.With("service", "PipelineEngine"),
		deps:    deps,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/yungbote/listinglens-backend/internal/jobs/orchestrator"),
		running: map[string]struct{}{},
	}
	e.stages = e.defaultStages()
	if err := validateStages(e.stages); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) defaultStages() []Stage {
	return []Stage{
		{
			Name:     analysis.StageCollection,
			StartMsg: "Collecting product data",
			DoneMsg:  "Product data collected",
			Run: func(jc *jobrt.Context, st *analysis.PipelineState) (any, error) {
				return steps.Collect(jc, e.deps.Collection, e.cfg.Collection, st.SourceLocator)
			},
			Keep: func(st *analysis.PipelineState, out any) {
				st.Collection = out.(*analysis.CollectionOutput)
			},
		},
		{
			Name:     analysis.StageAnalysis,
			StartMsg: "Analyzing product and competitors",
			DoneMsg:  "Analysis complete",
			Run: func(jc *jobrt.Context, st *analysis.PipelineState) (any, error) {
				return steps.Analyze(jc, e.deps.Summaries, st.Collection)
			},
			Keep: func(st *analysis.PipelineState, out any) {
				st.Analysis = out.(*analysis.AnalysisOutput)
			},
		},
		{
			Name:     analysis.StageOptimization,
			StartMsg: "Generating optimization strategy",
			DoneMsg:  "Optimization strategy ready",
			Run: func(jc *jobrt.Context, st *analysis.PipelineState) (any, error) {
				return steps.Optimize(jc, e.deps.Summaries, st.Collection, st.Analysis)
			},
			Keep: func(st *analysis.PipelineState, out any) {
				st.Optimization = out.(*analysis.OptimizationOutput)
			},
		},
	}
}

// Running reports whether a pipeline for sessionID is in flight.
func (e *Engine) Running(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[sessionID]
	return ok
}

func (e *Engine) claim(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[sessionID]; ok {
		return false
	}
	e.running[sessionID] = struct{}{}
	return true
}

func (e *Engine) unclaim(sessionID string) {
	e.mu.Lock()
	delete(e.running, sessionID)
	e.mu.Unlock()
}

/*
Run executes the pipeline for one session.
Behavior:
	- the session is created at started if the store does not know it yet
	- stages run strictly in order, each through the worker pool
	- a failed stage records its output slot as failed, moves the session to
	  failed, publishes the terminal error event and stops the run
	- after the last stage the aggregate result is stored and published
Stage failures come back as *StageError; the session state already reflects
them. Run never retries.
*/
func (e *Engine) Run(ctx context.Context, sessionID, source string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id: %w", apperrors.ErrInvalidArgument)
	}
	if !e.claim(sessionID) {
		return ErrAlreadyRunning
	}
	defer e.unclaim(sessionID)
	defer e.deps.Channel.Release(sessionID)

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	log := e.log.With("session_id", sessionID)
	sess, err := e.ensureSession(ctx, sessionID, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.deps.Metrics.PipelineStarted()
	outcome := "failed"
	defer func() { e.deps.Metrics.PipelineFinished(outcome) }()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()
	jc := jobrt.NewContext(runCtx, sessionID, e.log, e.deps.Channel)
	jc.Started("Analysis started")
	log.Info("Pipeline started", "source", source, "budget", e.cfg.Budget.String())

	st := &analysis.PipelineState{SessionID: sessionID, SourceLocator: source}
	n := float64(len(e.stages))
	for i, def := range e.stages {
		if err := e.runStage(jc, st, def, float64(i)/n, 1/n); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("Pipeline failed", "stage", def.Name, "error", err)
			if errors.Is(err, ErrPipelineTimeout) {
				outcome = "timeout"
			}
			return err
		}
	}

	result := st.BuildResult(sess.StartedAt)
	if err := e.update(ctx, sessionID, func(s *analysis.Session) error {
		return s.Complete(result, e.deps.Now())
	}); err != nil {
		// The result is still published; a lost write only affects polling.
		log.Error("Storing completed session failed", "error", err)
	}
	jc.Complete("Analysis complete", result)
	outcome = "completed"
	log.Info("Pipeline completed",
		"competitors", len(result.Competitors),
		"degraded", result.Degraded,
		"fallbacks", len(result.Fallbacks),
	)
	return nil
}

func (e *Engine) ensureSession(ctx context.Context, sessionID, source string) (*analysis.Session, error) {
	sess, err := e.deps.Store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		sess = analysis.NewSession(sessionID, source, e.deps.Now())
		if err := e.deps.Store.Put(ctx, sess, 0); err != nil {
			return nil, fmt.Errorf("init session: %w", err)
		}
		return sess, nil
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	case sess.Status.Terminal():
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, analysis.ErrSessionTerminal)
	}
	return sess, nil
}

func (e *Engine) runStage(jc *jobrt.Context, st *analysis.PipelineState, def Stage, base, weight float64) error {
	stageCtx, span := e.tracer.Start(jc.Ctx, "pipeline.stage."+def.Name, trace.WithAttributes(
		attribute.String("session.id", jc.SessionID),
		attribute.String("stage", def.Name),
	))
	defer span.End()
	sjc := jc.WithCtx(stageCtx)
	started := e.deps.Now()
	status := string(analysis.StageFailed)
	defer func() { e.deps.Metrics.ObserveStage(def.Name, status, e.deps.Now().Sub(started)) }()

	if err := e.update(stageCtx, jc.SessionID, func(s *analysis.Session) error {
		if err := s.Transition(analysis.StatusRunning, e.deps.Now()); err != nil {
			return err
		}
		s.CurrentStage = def.Name
		return nil
	}); err != nil {
		return e.failStage(jc, span, def, err)
	}
	sjc.EnterStage(def.Name, base, weight, def.StartMsg)

	var out any
	err := e.deps.Pool.Do(stageCtx, def.Name, func(ctx context.Context) error {
		o, err := def.Run(sjc.WithCtx(ctx), st)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return e.failStage(jc, span, def, e.classify(jc.Ctx, err))
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return e.failStage(jc, span, def, fmt.Errorf("encode output: %w", err))
	}
	def.Keep(st, out)

	if err := e.update(stageCtx, jc.SessionID, func(s *analysis.Session) error {
		if err := s.RecordStage(def.Name, analysis.StageOutput{
			Status:     analysis.StageSucceeded,
			Payload:    payload,
			FinishedAt: e.deps.Now().UTC(),
		}); err != nil {
			return err
		}
		if def.Name == analysis.StageCollection && st.Collection != nil {
			s.ASIN = st.Collection.Main.ASIN
			s.CanonicalURL = st.Collection.Main.URL
		}
		return nil
	}); err != nil {
		return e.failStage(jc, span, def, err)
	}

	sjc.StageDone(def.DoneMsg)
	status = string(analysis.StageSucceeded)
	jc.Log.Info("Stage finished", "stage", def.Name, "duration", e.deps.Now().Sub(started).String())
	return nil
}

// classify turns budget exhaustion and recovered panics into stage errors with
// readable text.
func (e *Engine) classify(runCtx context.Context, err error) error {
	var pe *worker.PanicError
	switch {
	case errors.As(err, &pe):
		return fmt.Errorf("unexpected error: %v", pe.Val)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrPipelineTimeout, e.cfg.Budget)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("pipeline cancelled: %w", err)
	}
	return err
}

// failStage marks the stage and session failed, then emits the terminal
// error event. Writes use a detached context so a spent budget cannot block
// the failure from being recorded.
func (e *Engine) failStage(jc *jobrt.Context, span trace.Span, def Stage, cause error) error {
	errText := errString(cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, errText)

	ctx := ctxutil.Detach(jc.Ctx)
	now := e.deps.Now()
	if err := e.update(ctx, jc.SessionID, func(s *analysis.Session) error {
		if s.Status.Terminal() {
			return nil
		}
		if _, ok, _ := s.Output(def.Name); !ok {
			if err := s.RecordStage(def.Name, analysis.StageOutput{
				Status:     analysis.StageFailed,
				Error:      errText,
				FinishedAt: now.UTC(),
			}); err != nil {
				return err
			}
		}
		return s.Fail(def.Name, errText, now)
	}); err != nil {
		jc.Log.Error("Storing failed session failed", "stage", def.Name, "error", err)
	}
	jc.Fail(def.Name, errText)
	return &StageError{Stage: def.Name, Err: cause}
}

func (e *Engine) update(ctx context.Context, id string, fn func(*analysis.Session) error) error {
	found, err := e.deps.Store.Update(ctxutil.Detach(ctx), id, fn)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("no stages")
	}
	seen := map[string]bool{}
	for _, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage missing Name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Run == nil || s.Keep == nil {
			return fmt.Errorf("stage %q: Run and Keep are required", s.Name)
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
