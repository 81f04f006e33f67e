package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/store"
)

// EventRepository is the Postgres store.EventStore. Claim exclusivity
// rests on FOR UPDATE SKIP LOCKED, so multiple dispatcher replicas can run
// against the same database without double-processing.
type EventRepository struct {
	db   *gorm.DB
	ping func(ctx context.Context) error
}

func NewEventRepository(s *Store) *EventRepository {
	return &EventRepository{db: s.DB(), ping: s.Ping}
}

func (r *EventRepository) InsertIfAbsent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoNothing: true,
		}).Create(event)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			created = true
			return nil
		}
		return tx.First(event, "delivery_id = ?", event.DeliveryID).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert event %s: %w", event.DeliveryID, err)
	}

	return event, created, nil
}

func (r *EventRepository) ClaimPending(ctx context.Context, limit int, reclaimAfter time.Duration) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent

	// Claims left in PROCESSING or MATCHED past the reclaim window belong
	// to a replica that died mid-dispatch; they go back into rotation.
	claimable := "status = ?"
	args := []interface{}{model.EventProcessing, model.EventPending}
	if reclaimAfter > 0 {
		claimable += " OR (status IN (?, ?) AND updated_at < NOW() - ? * interval '1 second')"
		args = append(args, model.EventProcessing, model.EventMatched, reclaimAfter.Seconds())
	}
	args = append(args, limit)

	err := r.db.WithContext(ctx).Raw(`
		UPDATE webhook_events
		SET status = ?, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE `+claimable+`
			ORDER BY received_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, args...).Scan(&events).Error
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}

	return events, nil
}

func (r *EventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.EventStatus, update store.StatusUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event model.WebhookEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&event, "id = ?", id).Error; err != nil {
			return fmt.Errorf("load event %s: %w", id, err)
		}

		if !model.CanTransition(event.Status, status) {
			return fmt.Errorf("%w: %s -> %s (event %s)", store.ErrIllegalTransition, event.Status, status, event.DeliveryID)
		}

		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}
		if update.ProcessingError != "" {
			updates["processing_error"] = update.ProcessingError
		}
		if update.IncrementAttempt {
			updates["attempt_count"] = gorm.Expr("attempt_count + 1")
		}
		if len(update.MatchedTargets) > 0 {
			updates["matched_targets"] = pq.StringArray(update.MatchedTargets)
		}
		if len(update.DeliveredTargets) > 0 {
			updates["delivered_targets"] = pq.StringArray(update.DeliveredTargets)
		}
		if model.IsTerminal(status) {
			now := time.Now()
			updates["processed_at"] = &now
		}

		return tx.Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *EventRepository) Query(ctx context.Context, expr *filter.Expression, page, pageSize int) ([]model.WebhookEvent, int64, error) {
	offset := (page - 1) * pageSize

	if expr.IsMatchAll() {
		var events []model.WebhookEvent
		var total int64

		query := r.db.WithContext(ctx).Model(&model.WebhookEvent{})
		if err := query.Count(&total).Error; err != nil {
			return nil, 0, err
		}
		err := query.
			Order("received_at DESC").
			Limit(pageSize).
			Offset(offset).
			Find(&events).Error
		return events, total, err
	}

	// Filter expressions reach into stored payloads, so matching happens
	// application-side. The table is never pruned, so rows are walked in
	// bounded batches behind a keyset cursor rather than loaded whole.
	return filterScan(expr, page, pageSize, func(after *model.WebhookEvent) ([]model.WebhookEvent, error) {
		var batch []model.WebhookEvent
		query := r.db.WithContext(ctx).
			Order("received_at DESC, id DESC").
			Limit(queryScanBatch)
		if after != nil {
			query = query.Where("(received_at, id) < (?, ?)", after.ReceivedAt, after.ID)
		}
		if err := query.Find(&batch).Error; err != nil {
			return nil, err
		}
		return batch, nil
	})
}

const queryScanBatch = 500

// filterScan pulls ordered event batches from next until exhausted,
// evaluates expr against each envelope, and pages the matches. next returns
// the batch following the given cursor row, or an empty batch at the end.
func filterScan(expr *filter.Expression, page, pageSize int, next func(after *model.WebhookEvent) ([]model.WebhookEvent, error)) ([]model.WebhookEvent, int64, error) {
	offset := (page - 1) * pageSize
	matched := []model.WebhookEvent{}
	var total int64
	var cursor *model.WebhookEvent

	for {
		batch, err := next(cursor)
		if err != nil {
			return nil, 0, err
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			if !expr.Eval(batch[i].Envelope()) {
				continue
			}
			if int(total) >= offset && len(matched) < pageSize {
				matched = append(matched, batch[i])
			}
			total++
		}
		cursor = &batch[len(batch)-1]
	}

	return matched, total, nil
}

func (r *EventRepository) Ping(ctx context.Context) error {
	return r.ping(ctx)
}
