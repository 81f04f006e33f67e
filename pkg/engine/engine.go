// Package engine runs the claim/match/admit/dispatch loop. One engine
// instance per process; multiple replicas coordinate only through the event
// store's atomic claim.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/certhook/certhook/pkg/capacity"
	"github.com/certhook/certhook/pkg/config"
	"github.com/certhook/certhook/pkg/deliver"
	"github.com/certhook/certhook/pkg/metrics"
	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/notify"
	"github.com/certhook/certhook/pkg/store"
	"github.com/certhook/certhook/pkg/target"
)

type Engine struct {
	events   store.EventStore
	targets  []*target.Target
	registry *capacity.Registry
	sink     deliver.Sink
	bus      *notify.Bus
	logger   *zap.Logger
	cfg      config.EngineConfig

	mu       sync.Mutex
	inflight map[string]int
}

func New(
	events store.EventStore,
	targets []*target.Target,
	registry *capacity.Registry,
	sink deliver.Sink,
	bus *notify.Bus,
	logger *zap.Logger,
	cfg config.EngineConfig,
) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Engine{
		events:   events,
		targets:  targets,
		registry: registry,
		sink:     sink,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		inflight: make(map[string]int),
	}
}

// Run drives the tick loop until the context is cancelled. A tick does not
// start before the previous one's claimed batch has reached a terminal or
// re-queued state, and a storage failure backs the loop off instead of
// crashing it.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.logger.Error("tick failed, backing off", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.cfg.StorageBackoff):
				}
			}
		}
	}
}

func (e *Engine) tick(ctx context.Context) error {
	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(started).Seconds())
	}()

	events, err := e.events.ClaimPending(ctx, e.cfg.BatchSize, e.cfg.ClaimTTL)
	if err != nil {
		return fmt.Errorf("claim pending: %w", err)
	}
	metrics.ClaimedBatchSize.Observe(float64(len(events)))
	if len(events) == 0 {
		return nil
	}

	e.logger.Debug("claimed batch", zap.Int("count", len(events)))

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup
	for i := range events {
		event := events[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.process(ctx, &event)
		}()
	}
	wg.Wait()

	return nil
}

func (e *Engine) process(ctx context.Context, event *model.WebhookEvent) {
	// Lifecycle writes run on a shutdown-detached context: cancelling the
	// run context mid-batch must not strand a claimed event outside a
	// terminal or re-queued state.
	writeCtx := context.WithoutCancel(ctx)

	matched := target.Match(e.targets, event)
	if len(matched) == 0 {
		e.transition(writeCtx, event, model.EventSkipped, store.StatusUpdate{}, "")
		return
	}

	names := targetNames(matched)

	// Targets that already took this event on an earlier attempt are not
	// delivered again; a partial failure retries only the remainder.
	remaining := undelivered(matched, event.DeliveredTargets)
	if len(remaining) == 0 {
		if e.transition(writeCtx, event, model.EventMatched, store.StatusUpdate{MatchedTargets: names}, "") {
			e.transition(writeCtx, event, model.EventDispatched, store.StatusUpdate{}, strings.Join(names, ","))
		}
		return
	}

	// Admission is re-checked per event against the provider plus this
	// instance's in-flight count, so two batch members for the same target
	// cannot both observe headroom before either is counted.
	acquired, err := e.acquireSlots(ctx, remaining)
	if err != nil || !acquired {
		if err != nil {
			e.logger.Warn("capacity unknown, deferring event",
				zap.String("delivery_id", event.DeliveryID),
				zap.Error(err),
			)
		}
		e.release(writeCtx, event)
		return
	}
	defer e.releaseSlots(remaining)

	if !e.transition(writeCtx, event, model.EventMatched, store.StatusUpdate{MatchedTargets: names}, "") {
		return
	}

	delivered, err := e.dispatch(ctx, event, remaining)
	allDelivered := append(append([]string{}, event.DeliveredTargets...), delivered...)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the dispatch; re-queue without
			// charging an attempt, keeping what already went out.
			e.transition(writeCtx, event, model.EventPending, store.StatusUpdate{DeliveredTargets: allDelivered}, "")
			return
		}
		e.recordFailure(writeCtx, event, err, allDelivered)
		return
	}

	e.transition(writeCtx, event, model.EventDispatched, store.StatusUpdate{DeliveredTargets: allDelivered}, strings.Join(names, ","))
}

// undelivered filters out targets already recorded as delivered for this
// event.
func undelivered(targets []*target.Target, delivered []string) []*target.Target {
	if len(delivered) == 0 {
		return targets
	}
	done := make(map[string]bool, len(delivered))
	for _, name := range delivered {
		done[name] = true
	}
	remaining := make([]*target.Target, 0, len(targets))
	for _, t := range targets {
		if !done[t.Name] {
			remaining = append(remaining, t)
		}
	}
	return remaining
}

// acquireSlots reserves one in-flight unit on every matched target, or none
// at all. Capacity errors report as err; a full target reports acquired=false.
func (e *Engine) acquireSlots(ctx context.Context, matched []*target.Target) (bool, error) {
	for i, t := range matched {
		ok, err := e.acquireSlot(ctx, t)
		if ok {
			continue
		}
		e.releaseSlots(matched[:i])
		if err != nil {
			metrics.CapacityDeferrals.WithLabelValues(t.Name, "unknown").Inc()
			return false, err
		}
		metrics.CapacityDeferrals.WithLabelValues(t.Name, "full").Inc()
		return false, nil
	}
	return true, nil
}

func (e *Engine) acquireSlot(ctx context.Context, t *target.Target) (bool, error) {
	provider, err := e.registry.Get(t.Capacity.ProviderType)
	if err != nil {
		// Unreachable after config validation; treat as capacity unknown.
		return false, fmt.Errorf("%w: %v", capacity.ErrUnknown, err)
	}

	utilization, err := provider.Utilization(ctx, t.Capacity.ResourceName, t.Capacity.Namespace)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if utilization+e.inflight[t.Name] >= t.Capacity.MaxConcurrent {
		return false, nil
	}
	e.inflight[t.Name]++
	metrics.InflightDispatches.WithLabelValues(t.Name).Inc()
	return true, nil
}

func (e *Engine) releaseSlots(targets []*target.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range targets {
		if e.inflight[t.Name] > 0 {
			e.inflight[t.Name]--
			metrics.InflightDispatches.WithLabelValues(t.Name).Dec()
		}
	}
}

// dispatch delivers to each target in turn and reports which ones took the
// event, so retries never redeliver a success.
func (e *Engine) dispatch(ctx context.Context, event *model.WebhookEvent, matched []*target.Target) ([]string, error) {
	var delivered []string
	var errs []error
	for _, t := range matched {
		dispatchCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
		err := e.sink.Deliver(dispatchCtx, event, t)
		cancel()
		if err != nil {
			metrics.DispatchesTotal.WithLabelValues(t.Name, "error").Inc()
			e.logger.Error("delivery failed",
				zap.String("delivery_id", event.DeliveryID),
				zap.String("target", t.Name),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
			continue
		}
		metrics.DispatchesTotal.WithLabelValues(t.Name, "ok").Inc()
		delivered = append(delivered, t.Name)
	}
	return delivered, errors.Join(errs...)
}

// recordFailure increments the attempt counter and either re-queues the
// event or marks it terminally failed once the ceiling is hit.
func (e *Engine) recordFailure(ctx context.Context, event *model.WebhookEvent, dispatchErr error, delivered []string) {
	update := store.StatusUpdate{
		IncrementAttempt: true,
		ProcessingError:  dispatchErr.Error(),
		DeliveredTargets: delivered,
	}
	if event.AttemptCount+1 < e.cfg.MaxAttempts {
		e.transition(ctx, event, model.EventPending, update, "")
		return
	}
	e.transition(ctx, event, model.EventFailed, update, "")
}

// release puts a claimed event back to PENDING untouched, realizing
// backpressure without an attempt increment.
func (e *Engine) release(ctx context.Context, event *model.WebhookEvent) {
	e.transition(ctx, event, model.EventPending, store.StatusUpdate{}, "")
}

const (
	transitionRetries    = 3
	transitionRetryDelay = 200 * time.Millisecond
)

func (e *Engine) transition(ctx context.Context, event *model.WebhookEvent, status model.EventStatus, update store.StatusUpdate, targetName string) bool {
	// Transient storage errors are retried so a claimed event is not left
	// stranded; the stale-claim reclaim in ClaimPending is the backstop if
	// the outage outlasts the retries.
	var err error
	for attempt := 0; ; attempt++ {
		err = e.events.UpdateStatus(ctx, event.ID, status, update)
		if err == nil || errors.Is(err, store.ErrIllegalTransition) || attempt >= transitionRetries-1 {
			break
		}
		e.logger.Warn("status update failed, retrying",
			zap.String("delivery_id", event.DeliveryID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		time.Sleep(transitionRetryDelay)
	}
	if err != nil {
		e.logger.Error("status update failed",
			zap.String("delivery_id", event.DeliveryID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return false
	}
	event.Status = status

	if err := e.bus.Publish(ctx, event.DeliveryID, string(status), targetName); err != nil {
		e.logger.Warn("lifecycle notification failed",
			zap.String("delivery_id", event.DeliveryID),
			zap.Error(err),
		)
	}
	return true
}

func targetNames(targets []*target.Target) []string {
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	return names
}
