package realtime

import (
	"encoding/json"
	"time"

	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
)

type MessageType string

const (
	MessageAgentProgress    MessageType = MessageType(analysis.EventAgentProgress)
	MessageAnalysisComplete MessageType = MessageType(analysis.EventAnalysisComplete)
	MessageConnection       MessageType = "connection"
	MessagePong             MessageType = "pong"
	MessageError            MessageType = "error"
)

// Message is the websocket wire frame.
type Message struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Timestamp time.Time    `json:"timestamp"`
	Seq       int64        `json:"seq,omitempty"`
	Data      *MessageData `json:"data,omitempty"`
}

type MessageData struct {
	StageName        string          `json:"stage_name,omitempty"`
	Status           string          `json:"status,omitempty"`
	FractionComplete float64         `json:"fraction_complete"`
	Message          string          `json:"message,omitempty"`
	Detail           string          `json:"detail,omitempty"`
	ErrorText        string          `json:"error_text,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
}

func FromEvent(ev *analysis.ProgressEvent) Message {
	msg := Message{
		Type:      MessageType(ev.Type),
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
		Seq:       ev.Seq,
		Data: &MessageData{
			StageName:        ev.StageName,
			Status:           string(ev.Status),
			FractionComplete: ev.FractionComplete,
			Message:          ev.Message,
			Detail:           ev.Detail,
			ErrorText:        ev.ErrorText,
		},
	}
	if len(ev.Result) > 0 && string(ev.Result) != "null" {
		msg.Data.Result = json.RawMessage(ev.Result)
	}
	return msg
}

func ConnectionAck(sessionID string, now time.Time) Message {
	return Message{
		Type:      MessageConnection,
		SessionID: sessionID,
		Timestamp: now.UTC(),
		Data:      &MessageData{Message: "Connected to analysis progress stream"},
	}
}

func Pong(sessionID string, now time.Time) Message {
	return Message{Type: MessagePong, SessionID: sessionID, Timestamp: now.UTC()}
}
