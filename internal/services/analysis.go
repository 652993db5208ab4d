package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/jobs/orchestrator"
	"github.com/yungbote/listinglens-backend/internal/locator"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/listinglens-backend/internal/pkg/errors"
	"github.com/yungbote/listinglens-backend/internal/platform/apierr"
	"github.com/yungbote/listinglens-backend/internal/platform/ctxutil"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type AnalysisService interface {
	Submit(ctx context.Context, reference string) (*SubmitReceipt, error)
	Status(ctx context.Context, sessionID string) (*StatusView, error)
	Result(ctx context.Context, sessionID string) (*ResultView, error)
	Events(ctx context.Context, sessionID string) ([]*analysis.ProgressEvent, error)
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)
	// Shutdown cancels running pipelines and waits for them or ctx.
	Shutdown(ctx context.Context) error
}

// PipelineRunner executes one analysis run to completion.
type PipelineRunner interface {
	Run(ctx context.Context, sessionID, source string) error
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*analysis.Session, error)
	Put(ctx context.Context, s *analysis.Session, ttl time.Duration) error
	List(ctx context.Context, limit int) ([]*analysis.Session, error)
}

type EventHistory interface {
	ListBySession(dbc dbctx.Context, sessionID string) ([]*analysis.ProgressEvent, error)
}

type SubmitReceipt struct {
	SessionID string                 `json:"session_id"`
	Status    analysis.SessionStatus `json:"status"`
	Message   string                 `json:"message"`
	AmazonURL string                 `json:"amazon_url"`
	StartedAt time.Time              `json:"started_at"`
}

type StageStatus struct {
	Status     analysis.StageOutcome `json:"status"`
	Error      string                `json:"error,omitempty"`
	FinishedAt time.Time             `json:"finished_at"`
}

type StatusDetails struct {
	AmazonURL    string                 `json:"amazon_url"`
	ASIN         string                 `json:"asin,omitempty"`
	CurrentStage string                 `json:"current_stage,omitempty"`
	FailedStage  string                 `json:"failed_stage,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Stages       map[string]StageStatus `json:"stages"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

type StatusView struct {
	SessionID string                 `json:"session_id"`
	Status    analysis.SessionStatus `json:"status"`
	Details   StatusDetails          `json:"details"`
}

// ResultView is the result endpoint payload. Which fields are set depends on
// the session status.
type ResultView struct {
	SessionID    string                 `json:"session_id"`
	Status       analysis.SessionStatus `json:"status"`
	Message      string                 `json:"message,omitempty"`
	AmazonURL    string                 `json:"amazon_url,omitempty"`
	CurrentStage string                 `json:"current_stage,omitempty"`
	Error        string                 `json:"error,omitempty"`
	FailedStage  string                 `json:"failed_stage,omitempty"`
	Result       json.RawMessage        `json:"result,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

type SessionSummary struct {
	SessionID   string                 `json:"session_id"`
	Status      analysis.SessionStatus `json:"status"`
	AmazonURL   string                 `json:"amazon_url"`
	ASIN        string                 `json:"asin,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

type analysisService struct {
	log    *logger.Logger
	store  SessionStore
	events EventHistory
	runner PipelineRunner
	now    func() time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnalysisService wires the request facing operations. events may be nil
// when no durable audit store is configured.
func NewAnalysisService(baseLog *logger.Logger, store SessionStore, events EventHistory, runner PipelineRunner) AnalysisService {
	root, cancel := context.WithCancel(context.Background())
	return &analysisService{
		log:    baseLog.With("service", "AnalysisService"),
		store:  store,
		events: events,
		runner: runner,
		now:    time.Now,
		root:   root,
		cancel: cancel,
	}
}

func (s *analysisService) Submit(ctx context.Context, reference string) (*SubmitReceipt, error) {
	ref := strings.TrimSpace(reference)
	if !locator.IsSupportedMarketplace(ref) {
		return nil, apierr.BadRequest("invalid_locator",
			&locator.InvalidLocatorError{Reference: reference, Reason: "not an Amazon product reference"})
	}
	if _, err := locator.Resolve(ref); err != nil {
		return nil, apierr.BadRequest("invalid_locator", err)
	}

	sess := analysis.NewSession(uuid.New().String(), ref, s.now())
	if err := s.store.Put(ctx, sess, 0); err != nil {
		return nil, apierr.New(http.StatusServiceUnavailable, "session_store_unavailable", err)
	}

	runCtx := s.root
	if td := ctxutil.GetTraceData(ctx); td != nil {
		copied := *td
		runCtx = ctxutil.WithTraceData(runCtx, &copied)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runner.Run(runCtx, sess.ID, ref); err != nil {
			var se *orchestrator.StageError
			if errors.As(err, &se) {
				s.log.Info("Analysis finished with failure", "session_id", sess.ID, "stage", se.Stage)
				return
			}
			s.log.Error("Analysis run failed", "session_id", sess.ID, "error", err)
		}
	}()

	s.log.Info("Analysis submitted", "session_id", sess.ID, "amazon_url", ref)
	return &SubmitReceipt{
		SessionID: sess.ID,
		Status:    sess.Status,
		Message:   "Analysis started",
		AmazonURL: ref,
		StartedAt: sess.StartedAt,
	}, nil
}

func (s *analysisService) load(ctx context.Context, sessionID string) (*analysis.Session, error) {
	sess, err := s.store.Get(ctx, strings.TrimSpace(sessionID))
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrInvalidArgument):
		return nil, apierr.NotFound("session_not_found", fmt.Errorf("session %q not found", sessionID))
	case err != nil:
		return nil, apierr.New(http.StatusServiceUnavailable, "session_store_unavailable", err)
	}
	return sess, nil
}

func (s *analysisService) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return StatusFor(sess)
}

func (s *analysisService) Result(ctx context.Context, sessionID string) (*ResultView, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ResultFor(sess), nil
}

func (s *analysisService) Events(ctx context.Context, sessionID string) ([]*analysis.ProgressEvent, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.events == nil {
		return []*analysis.ProgressEvent{}, nil
	}
	evs, err := s.events.ListBySession(dbctx.Context{Ctx: ctx}, sess.ID)
	if err != nil {
		return nil, apierr.New(http.StatusServiceUnavailable, "event_history_unavailable", err)
	}
	if evs == nil {
		evs = []*analysis.ProgressEvent{}
	}
	return evs, nil
}

func (s *analysisService) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	sessions, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, apierr.New(http.StatusServiceUnavailable, "session_store_unavailable", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			SessionID:   sess.ID,
			Status:      sess.Status,
			AmazonURL:   sess.SourceLocator,
			ASIN:        sess.ASIN,
			StartedAt:   sess.StartedAt,
			CompletedAt: sess.CompletedAt,
		})
	}
	return out, nil
}

func (s *analysisService) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusFor renders the status payload from stored state only.
func StatusFor(sess *analysis.Session) (*StatusView, error) {
	outs, err := sess.Outputs()
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "session_corrupt", err)
	}
	stages := make(map[string]StageStatus, len(outs))
	for name, o := range outs {
		stages[name] = StageStatus{Status: o.Status, Error: o.Error, FinishedAt: o.FinishedAt}
	}
	return &StatusView{
		SessionID: sess.ID,
		Status:    sess.Status,
		Details: StatusDetails{
			AmazonURL:    sess.SourceLocator,
			ASIN:         sess.ASIN,
			CurrentStage: sess.CurrentStage,
			FailedStage:  sess.FailedStage,
			Error:        sess.Error,
			Stages:       stages,
			StartedAt:    sess.StartedAt,
			CompletedAt:  sess.CompletedAt,
		},
	}, nil
}

// ResultFor renders the result payload from stored state only, so repeated
// polls of a terminal session return identical bodies.
func ResultFor(sess *analysis.Session) *ResultView {
	v := &ResultView{
		SessionID: sess.ID,
		Status:    sess.Status,
		StartedAt: sess.StartedAt,
	}
	switch sess.Status {
	case analysis.StatusCompleted:
		v.AmazonURL = sess.SourceLocator
		v.Result = json.RawMessage(sess.Result)
		v.CompletedAt = sess.CompletedAt
	case analysis.StatusFailed:
		v.Error = sess.Error
		if v.Error == "" {
			v.Error = "analysis failed"
		}
		v.FailedStage = sess.FailedStage
		v.CompletedAt = sess.CompletedAt
	default:
		v.Message = "Analysis in progress"
		v.AmazonURL = sess.SourceLocator
		v.CurrentStage = sess.CurrentStage
	}
	return v
}
