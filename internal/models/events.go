package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CloudEvent types emitted by the scheduler.
const (
	EventTypeProgress = "ingest.progress.updated"
	EventTypeFailure  = "ingest.execution.failed"
)

// Message types pushed to subscribers.
const (
	MessageProgressUpdate = "PROGRESS_UPDATE"
	MessageFailure        = "FAILURE"
)

// ProgressEvent is implemented by every event the broadcaster fans out.
type ProgressEvent interface {
	DocID() string
	// Message is the payload pushed to a subscriber connection.
	Message() OutboundMessage
}

// ProgressUpdate is emitted on every non-failing state change.
type ProgressUpdate struct {
	DocumentID  string    `json:"documentId"`
	ExecutionID string    `json:"executionId,omitempty"`
	Status      Status    `json:"status"`
	Phase       Phase     `json:"phase"`
	Progress    int       `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
}

// Failure is emitted once when an execution reaches the Failed phase.
type Failure struct {
	DocumentID  string    `json:"documentId"`
	ExecutionID string    `json:"executionId,omitempty"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e ProgressUpdate) DocID() string { return e.DocumentID }
func (e Failure) DocID() string        { return e.DocumentID }

func (e ProgressUpdate) Message() OutboundMessage {
	progress := e.Progress
	return OutboundMessage{
		Type:       MessageProgressUpdate,
		DocumentID: e.DocumentID,
		Status:     e.Status,
		Progress:   &progress,
		Timestamp:  e.Timestamp,
	}
}

func (e Failure) Message() OutboundMessage {
	return OutboundMessage{
		Type:       MessageFailure,
		DocumentID: e.DocumentID,
		Status:     StatusFailed,
		Error:      e.Error,
		Timestamp:  e.Timestamp,
	}
}

// OutboundMessage is the JSON body delivered to a subscriber. Progress is
// always present on PROGRESS_UPDATE, including at 0, and absent on FAILURE.
type OutboundMessage struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"documentId"`
	Status     Status    `json:"status"`
	Progress   *int      `json:"progress,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DecodeEvent turns a CloudEvent type and its JSON data into a typed event.
func DecodeEvent(eventType string, data []byte) (ProgressEvent, error) {
	switch eventType {
	case EventTypeProgress:
		var e ProgressUpdate
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if e.DocumentID == "" {
			return nil, fmt.Errorf("decode %s: missing documentId", eventType)
		}
		return e, nil
	case EventTypeFailure:
		var e Failure
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if e.DocumentID == "" {
			return nil, fmt.Errorf("decode %s: missing documentId", eventType)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
