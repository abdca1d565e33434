package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maphy9/mind-flow/internal/schedule"
	"github.com/maphy9/mind-flow/internal/storage"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// DispatchStore abstracts the trigger queue operations.
type DispatchStore interface {
	ClaimDueTriggers(ctx context.Context, now time.Time, limit int) ([]storage.Trigger, error)
	CompleteTrigger(ctx context.Context, id string, next *time.Time) error
	FailTrigger(ctx context.Context, id string, errMsg string) error
	SaveDelivery(ctx context.Context, d storage.Delivery) (storage.Delivery, error)
}

// DeliveryRecorder observes delivery outcomes. Implementations must be safe
// for concurrent use.
type DeliveryRecorder interface {
	ObserveDelivery(ok bool)
}

// Dispatcher delivers due triggers and re-arms daily ones.
type Dispatcher struct {
	store       DispatchStore
	deliverer   Deliverer
	policy      Policy
	recorder    DeliveryRecorder
	poll        time.Duration
	batch       int
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher. If pollInterval is <= 0, it defaults to 1s.
// recorder may be nil.
func NewDispatcher(store DispatchStore, deliverer Deliverer, policy Policy, recorder DeliveryRecorder, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Dispatcher{
		store:       store,
		deliverer:   deliverer,
		policy:      policy,
		recorder:    recorder,
		poll:        pollInterval,
		batch:       defaultBatchSize,
		concurrency: defaultConcurrency,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Run polls for due triggers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := d.RunOnce(ctx)
		if err != nil {
			d.logger.Error("dispatcher iteration failed", "error", err)
		}
		if n == d.batch {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.poll):
		}
	}
}

// RunOnce claims one batch of due triggers and delivers them concurrently.
// It returns the number of triggers claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.store.ClaimDueTriggers(ctx, now, d.batch)
	if err != nil {
		return 0, fmt.Errorf("claiming triggers: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	// One trigger's failure must not cancel its siblings' store writes.
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, t := range due {
		g.Go(func() error {
			return d.dispatch(ctx, t, now)
		})
	}
	return len(due), g.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, t storage.Trigger, now time.Time) error {
	n := Notification{
		TriggerID: t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Body:      t.Body,
		FiredAt:   now,
		Sound:     d.policy.PlaySound,
		Badge:     d.policy.SetBadge,
		Banner:    d.policy.ShowBanner,
		List:      d.policy.ShowList,
	}

	if err := d.deliverer.Deliver(ctx, n); err != nil {
		d.logger.Warn("delivery failed", "trigger_id", t.ID, "error", err)
		d.observe(false)
		if failErr := d.store.FailTrigger(ctx, t.ID, err.Error()); failErr != nil {
			d.logger.Error("failed to mark trigger as failed", "trigger_id", t.ID, "error", failErr)
		}
		return nil
	}
	d.observe(true)

	if _, err := d.store.SaveDelivery(ctx, storage.Delivery{
		TriggerID: t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Body:      t.Body,
	}); err != nil {
		d.logger.Error("recording delivery", "trigger_id", t.ID, "error", err)
	}

	var next *time.Time
	if t.Kind == storage.ScheduleDaily {
		at, err := schedule.NextDaily(t.Hour, t.Minute, now)
		if err != nil {
			return fmt.Errorf("re-arming trigger %s: %w", t.ID, err)
		}
		next = &at
	}
	if err := d.store.CompleteTrigger(ctx, t.ID, next); err != nil {
		return fmt.Errorf("completing trigger %s: %w", t.ID, err)
	}
	return nil
}

func (d *Dispatcher) observe(ok bool) {
	if d.recorder != nil {
		d.recorder.ObserveDelivery(ok)
	}
}
