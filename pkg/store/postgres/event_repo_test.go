package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/model"
)

// batchSource serves events the way the keyset query does: newest first, a
// bounded slice at a time, resuming after the cursor row.
func batchSource(events []model.WebhookEvent, batchSize int) func(after *model.WebhookEvent) ([]model.WebhookEvent, error) {
	return func(after *model.WebhookEvent) ([]model.WebhookEvent, error) {
		start := 0
		if after != nil {
			for i := range events {
				if events[i].ID == after.ID {
					start = i + 1
					break
				}
			}
		}
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		return events[start:end], nil
	}
}

func queryableEvents(count int) []model.WebhookEvent {
	events := make([]model.WebhookEvent, count)
	base := time.Now()
	for i := range events {
		action := "opened"
		if i%2 == 1 {
			action = "closed"
		}
		events[i] = model.WebhookEvent{
			ID:         uuid.New(),
			DeliveryID: fmt.Sprintf("d-%d", i),
			EventType:  "pull_request",
			Repository: "org/repo",
			Payload:    model.JSONB{"action": action},
			Status:     model.EventPending,
			ReceivedAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return events
}

func TestFilterScanPagesAcrossBatches(t *testing.T) {
	// 9 events, every second one "opened": 5 matches spread over several
	// scan batches.
	events := queryableEvents(9)
	expr, err := filter.Compile(`body.payload.action == "opened"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	matched, total, err := filterScan(expr, 1, 3, batchSource(events, 2))
	if err != nil {
		t.Fatalf("filterScan: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(matched) != 3 {
		t.Fatalf("expected 3 events on page 1, got %d", len(matched))
	}
	for i, want := range []string{"d-0", "d-2", "d-4"} {
		if matched[i].DeliveryID != want {
			t.Fatalf("page 1 position %d: expected %s, got %s", i, want, matched[i].DeliveryID)
		}
	}

	matched, total, err = filterScan(expr, 2, 3, batchSource(events, 2))
	if err != nil {
		t.Fatalf("filterScan: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 events on page 2, got %d", len(matched))
	}
	for i, want := range []string{"d-6", "d-8"} {
		if matched[i].DeliveryID != want {
			t.Fatalf("page 2 position %d: expected %s, got %s", i, want, matched[i].DeliveryID)
		}
	}
}

func TestFilterScanPastLastPage(t *testing.T) {
	events := queryableEvents(4)
	expr, err := filter.Compile(`body.payload.action == "opened"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	matched, total, err := filterScan(expr, 5, 10, batchSource(events, 2))
	if err != nil {
		t.Fatalf("filterScan: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	if len(matched) != 0 {
		t.Fatalf("expected empty page, got %d events", len(matched))
	}
}

func TestFilterScanNoMatches(t *testing.T) {
	events := queryableEvents(4)
	expr, err := filter.Compile(`body.payload.action == "merged"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	matched, total, err := filterScan(expr, 1, 10, batchSource(events, 2))
	if err != nil {
		t.Fatalf("filterScan: %v", err)
	}
	if total != 0 || len(matched) != 0 {
		t.Fatalf("expected no matches, got total %d, %d events", total, len(matched))
	}
}
