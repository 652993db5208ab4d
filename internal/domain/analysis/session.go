package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	StatusStarted   SessionStatus = "started"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

func (s SessionStatus) rank() int {
	switch s {
	case StatusStarted:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s SessionStatus) Valid() bool    { return s.rank() >= 0 }
func (s SessionStatus) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

var (
	ErrInvalidTransition    = errors.New("invalid session status transition")
	ErrSessionTerminal      = errors.New("session already terminal")
	ErrStageAlreadyRecorded = errors.New("stage output already recorded")
)

type StageOutcome string

const (
	StageSucceeded StageOutcome = "succeeded"
	StageFailed    StageOutcome = "failed"
)

// StageOutput is the write-once slot a stage leaves on its session.
type StageOutput struct {
	Status     StageOutcome    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (o StageOutput) Succeeded() bool { return o.Status == StageSucceeded }

// Session is one analysis request. Status only moves forward:
// started -> running -> completed|failed.
type Session struct {
	ID            string         `gorm:"column:id;primaryKey" json:"session_id"`
	SourceLocator string         `gorm:"column:source_locator;not null" json:"source_locator"`
	ASIN          string         `gorm:"column:asin;index" json:"asin,omitempty"`
	CanonicalURL  string         `gorm:"column:canonical_url" json:"canonical_url,omitempty"`
	Status        SessionStatus  `gorm:"column:status;not null;index" json:"status"`
	CurrentStage  string         `gorm:"column:current_stage" json:"current_stage,omitempty"`
	FailedStage   string         `gorm:"column:failed_stage" json:"failed_stage,omitempty"`
	Error         string         `gorm:"column:error;type:text" json:"error,omitempty"`
	StageOutputs  datatypes.JSON `gorm:"column:stage_outputs" json:"stage_outputs,omitempty"`
	Result        datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	StartedAt     time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt   *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Session) TableName() string { return "analysis_session" }

func NewSession(id, source string, now time.Time) *Session {
	return &Session{
		ID:            id,
		SourceLocator: source,
		Status:        StatusStarted,
		StartedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Transition moves the session forward. Re-entering running is allowed;
// anything that would move backwards or leave a terminal state is rejected.
// CompletedAt is stamped exactly once, on the first terminal transition.
func (s *Session) Transition(to SessionStatus, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrSessionTerminal, s.Status, to)
	}
	if to.rank() < s.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	if to.Terminal() {
		at := now.UTC()
		s.CompletedAt = &at
		s.CurrentStage = ""
	}
	return nil
}

func (s *Session) Outputs() (map[string]StageOutput, error) {
	out := map[string]StageOutput{}
	if len(s.StageOutputs) == 0 || string(s.StageOutputs) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(s.StageOutputs, &out); err != nil {
		return nil, fmt.Errorf("decode stage outputs: %w", err)
	}
	return out, nil
}

func (s *Session) Output(stage string) (StageOutput, bool, error) {
	outs, err := s.Outputs()
	if err != nil {
		return StageOutput{}, false, err
	}
	o, ok := outs[stage]
	return o, ok, nil
}

// RecordStage fills the slot for stage. Each slot is written once.
func (s *Session) RecordStage(stage string, out StageOutput) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: cannot record %q", ErrSessionTerminal, stage)
	}
	outs, err := s.Outputs()
	if err != nil {
		return err
	}
	if _, exists := outs[stage]; exists {
		return fmt.Errorf("%w: %q", ErrStageAlreadyRecorded, stage)
	}
	outs[stage] = out
	raw, err := json.Marshal(outs)
	if err != nil {
		return fmt.Errorf("encode stage outputs: %w", err)
	}
	s.StageOutputs = datatypes.JSON(raw)
	return nil
}

// Fail records the failing stage and error, then moves to failed.
func (s *Session) Fail(stage, reason string, now time.Time) error {
	if err := s.Transition(StatusFailed, now); err != nil {
		return err
	}
	s.FailedStage = stage
	s.Error = reason
	return nil
}

// Complete stores the aggregate result and moves to completed.
func (s *Session) Complete(result any, now time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.Transition(StatusCompleted, now); err != nil {
		return err
	}
	s.Result = datatypes.JSON(raw)
	return nil
}

// Clone returns a deep copy so cached sessions are never shared between callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.StageOutputs != nil {
		cp.StageOutputs = append(datatypes.JSON(nil), s.StageOutputs...)
	}
	if s.Result != nil {
		cp.Result = append(datatypes.JSON(nil), s.Result...)
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
