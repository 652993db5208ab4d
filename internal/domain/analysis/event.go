package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventWorking   EventStatus = "working"
	EventCompleted EventStatus = "completed"
	EventError     EventStatus = "error"
)

type EventType string

const (
	EventAgentProgress    EventType = "agent_progress"
	EventAnalysisComplete EventType = "analysis_complete"
)

// StageSupervisor labels events emitted by the orchestrator itself.
const StageSupervisor = "supervisor"

var ErrInvalidEvent = errors.New("invalid progress event")

// ProgressEvent is an append-only progress record. Seq orders events within a session.
type ProgressEvent struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID        string         `gorm:"column:session_id;not null;index:idx_progress_event_session_seq,priority:1" json:"session_id"`
	Seq              int64          `gorm:"column:seq;not null;index:idx_progress_event_session_seq,priority:2" json:"seq"`
	Type             EventType      `gorm:"column:type;not null" json:"type"`
	StageName        string         `gorm:"column:stage_name;not null" json:"stage_name"`
	Status           EventStatus    `gorm:"column:status;not null" json:"status"`
	FractionComplete float64        `gorm:"column:fraction_complete;not null" json:"fraction_complete"`
	Message          string         `gorm:"column:message;type:text" json:"message"`
	Detail           string         `gorm:"column:detail;type:text" json:"detail,omitempty"`
	ErrorText        string         `gorm:"column:error_text;type:text" json:"error_text,omitempty"`
	Result           datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	Timestamp        time.Time      `gorm:"column:timestamp;not null" json:"timestamp"`
}

func (ProgressEvent) TableName() string { return "progress_event" }

// EventSpec describes an event before validation.
type EventSpec struct {
	Type      EventType
	StageName string
	Status    EventStatus
	Fraction  float64
	Message   string
	Detail    string
	ErrorText string
	Result    any
}

// NewProgressEvent validates spec and builds the event. Seq is assigned on publish.
func NewProgressEvent(sessionID string, spec EventSpec, now time.Time) (*ProgressEvent, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidEvent)
	}
	if strings.TrimSpace(spec.StageName) == "" {
		return nil, fmt.Errorf("%w: missing stage name", ErrInvalidEvent)
	}
	switch spec.Status {
	case EventWorking, EventCompleted, EventError:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, spec.Status)
	}
	if math.IsNaN(spec.Fraction) || spec.Fraction < 0 || spec.Fraction > 1 {
		return nil, fmt.Errorf("%w: fraction %v outside [0,1]", ErrInvalidEvent, spec.Fraction)
	}
	if strings.TrimSpace(spec.Message) == "" {
		return nil, fmt.Errorf("%w: missing message", ErrInvalidEvent)
	}
	typ := spec.Type
	if typ == "" {
		typ = EventAgentProgress
	}
	ev := &ProgressEvent{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Type:             typ,
		StageName:        spec.StageName,
		Status:           spec.Status,
		FractionComplete: spec.Fraction,
		Message:          spec.Message,
		Detail:           spec.Detail,
		ErrorText:        spec.ErrorText,
		Timestamp:        now.UTC(),
	}
	if spec.Result != nil {
		raw, err := json.Marshal(spec.Result)
		if err != nil {
			return nil, fmt.Errorf("%w: encode result: %v", ErrInvalidEvent, err)
		}
		ev.Result = datatypes.JSON(raw)
	}
	return ev, nil
}
