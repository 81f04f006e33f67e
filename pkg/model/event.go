package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type EventStatus string

const (
	EventPending    EventStatus = "PENDING"
	EventProcessing EventStatus = "PROCESSING"
	EventMatched    EventStatus = "MATCHED"
	EventDispatched EventStatus = "DISPATCHED"
	EventSkipped    EventStatus = "SKIPPED"
	EventFailed     EventStatus = "FAILED"
)

// WebhookEvent is one inbound source-control notification. Rows are written
// once by the ingestion path and mutated only by the dispatch engine; they
// are never deleted.
type WebhookEvent struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	DeliveryID      string    `gorm:"not null;uniqueIndex" json:"delivery_id"`
	EventType       string    `gorm:"not null;index" json:"event_type"`
	Action          string    `json:"action"`
	Repository      string    `gorm:"not null;index" json:"repository"`
	SubjectID       string    `json:"subject_id"`
	Payload         JSONB     `gorm:"type:jsonb;default:'{}'" json:"payload"`
	Status          EventStatus `gorm:"type:varchar(50);default:'PENDING';index" json:"status"`
	AttemptCount    int            `gorm:"default:0" json:"attempt_count"`
	ProcessingError string         `json:"processing_error,omitempty"`
	MatchedTargets   pq.StringArray `gorm:"type:text[]" json:"matched_targets,omitempty"`
	DeliveredTargets pq.StringArray `gorm:"type:text[]" json:"delivered_targets,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null;index" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// transitions is the closed set of legal status moves. PROCESSING marks a
// claimed event; releasing a claim moves it back to PENDING without loss.
// MATCHED back to PROCESSING is the reclaim path for stale claims left by a
// crashed replica.
var transitions = map[EventStatus][]EventStatus{
	EventPending:    {EventProcessing},
	EventProcessing: {EventPending, EventMatched, EventSkipped, EventFailed},
	EventMatched:    {EventDispatched, EventFailed, EventPending, EventProcessing},
}

// Envelope flattens the event into the shape the status query filter
// evaluates against: top-level lifecycle fields plus the raw payload under
// "payload".
func (e *WebhookEvent) Envelope() map[string]interface{} {
	return map[string]interface{}{
		"delivery_id":   e.DeliveryID,
		"event_type":    e.EventType,
		"action":        e.Action,
		"repository":    e.Repository,
		"subject_id":    e.SubjectID,
		"status":        string(e.Status),
		"attempt_count": e.AttemptCount,
		"payload":       map[string]interface{}(e.Payload),
	}
}

// CanTransition reports whether moving an event from one status to another
// is legal. Terminal states (DISPATCHED, SKIPPED, FAILED) admit no moves.
func CanTransition(from, to EventStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status EventStatus) bool {
	return len(transitions[status]) == 0
}
