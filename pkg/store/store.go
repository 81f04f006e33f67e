package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/model"
)

// ErrIllegalTransition signals an attempt to move an event through a status
// transition the lifecycle table forbids. This is a programming error in the
// caller, never silently ignored.
var ErrIllegalTransition = errors.New("illegal event status transition")

// StatusUpdate carries the optional mutations applied alongside a status
// change.
type StatusUpdate struct {
	ProcessingError  string
	IncrementAttempt bool
	MatchedTargets   []string
	DeliveredTargets []string
}

// EventStore is the single shared resource between the ingestion path and
// the dispatch engine. Implementations must make ClaimPending safe under
// multiple concurrent engine replicas: at most one active claim per event.
type EventStore interface {
	// InsertIfAbsent atomically upserts an event keyed on delivery_id.
	// Re-ingesting a known delivery_id returns the existing record with
	// created=false, never a second row.
	InsertIfAbsent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error)

	// ClaimPending atomically moves up to limit PENDING events to
	// PROCESSING and returns them to exactly one caller. When reclaimAfter
	// is positive, PROCESSING and MATCHED rows untouched for longer than
	// that are claimed too, recovering events stranded by a crashed
	// replica.
	ClaimPending(ctx context.Context, limit int, reclaimAfter time.Duration) ([]model.WebhookEvent, error)

	// UpdateStatus applies a status change, enforcing the monotonic
	// transition table. Illegal transitions fail with ErrIllegalTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.EventStatus, update StatusUpdate) error

	// Query is the read path behind the status endpoint. The filter
	// expression is evaluated against each stored event envelope.
	Query(ctx context.Context, expr *filter.Expression, page, pageSize int) ([]model.WebhookEvent, int64, error)

	// Ping reports storage health.
	Ping(ctx context.Context) error
}
