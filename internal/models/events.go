package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeSyncSessionStarted  = "SYNC_SESSION_STARTED"
	EventTypeSyncBatchCompleted  = "SYNC_BATCH_COMPLETED"
	EventTypeSyncSessionFinished = "SYNC_SESSION_FINISHED"
	EventTypeStockChanged        = "STOCK_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and timestamp
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// SyncSessionStartedEvent published when a session is opened
type SyncSessionStartedEvent struct {
	BaseEvent
	SessionID   string      `json:"session_id"`
	Platform    string      `json:"platform"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	User        string      `json:"user,omitempty"`
}

// SyncBatchCompletedEvent published after each batch is persisted
type SyncBatchCompletedEvent struct {
	BaseEvent
	SessionID    string   `json:"session_id"`
	Platform     Platform `json:"platform"`
	Sent         int      `json:"sent"`
	Total        int      `json:"total"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
}

// SyncSessionFinishedEvent published on the terminal transition
type SyncSessionFinishedEvent struct {
	BaseEvent
	Summary SessionSummary `json:"summary"`
}

// StockChangedEvent is consumed from the warehouse side and triggers a partial sync
type StockChangedEvent struct {
	BaseEvent
	Barcodes  []string   `json:"barcodes"`
	Platforms []Platform `json:"platforms,omitempty"`
}
