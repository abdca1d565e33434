package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maphy9/mind-flow/internal/schedule"
	"github.com/maphy9/mind-flow/internal/storage"
)

// Scheduler registers and cancels notifications for a user.
type Scheduler interface {
	CheckPermission(ctx context.Context, userID string) (bool, error)
	RequestPermission(ctx context.Context, userID string) (bool, error)
	ScheduleDaily(ctx context.Context, userID, title, body string, hour, minute int) (string, error)
	ScheduleOnce(ctx context.Context, userID, title, body string, whenMillis int64) (string, error)
	Cancel(ctx context.Context, userID, id string) error
}

// TriggerStore is the persistence Local needs.
type TriggerStore interface {
	GetPermission(ctx context.Context, userID string) (bool, error)
	SetPermission(ctx context.Context, userID string, granted bool) error
	CreateTrigger(ctx context.Context, t storage.Trigger) (storage.Trigger, error)
	CancelTrigger(ctx context.Context, userID, id string) error
}

// ErrPastTrigger is returned when a one-shot time is already well in the past.
var ErrPastTrigger = errors.New("trigger time is in the past")

// pastGrace lets "in 0 minutes" style requests through; they fire on the next poll.
const pastGrace = time.Minute

// Local schedules notifications into the trigger table, where the Dispatcher
// picks them up.
type Local struct {
	store  TriggerStore
	policy Policy
	now    func() time.Time
}

// NewLocal creates a Local scheduler governed by policy.
func NewLocal(store TriggerStore, policy Policy) *Local {
	return &Local{store: store, policy: policy, now: time.Now}
}

// SetClock replaces the time source. Daily triggers are computed in the
// location of the returned times.
func (l *Local) SetClock(now func() time.Time) {
	l.now = now
}

// CheckPermission reports the stored permission. Users never asked are not granted.
func (l *Local) CheckPermission(ctx context.Context, userID string) (bool, error) {
	granted, err := l.store.GetPermission(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading permission: %w", err)
	}
	return granted, nil
}

// RequestPermission asks once. First requests are answered by the policy's
// AutoGrant; an explicit earlier answer is returned unchanged.
func (l *Local) RequestPermission(ctx context.Context, userID string) (bool, error) {
	granted, err := l.store.GetPermission(ctx, userID)
	if err == nil {
		return granted, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("reading permission: %w", err)
	}
	if err := l.store.SetPermission(ctx, userID, l.policy.AutoGrant); err != nil {
		return false, fmt.Errorf("storing permission: %w", err)
	}
	return l.policy.AutoGrant, nil
}

// ScheduleDaily registers a repeating trigger at hour:minute local time.
func (l *Local) ScheduleDaily(ctx context.Context, userID, title, body string, hour, minute int) (string, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid daily time %d:%d", hour, minute)
	}
	fireAt, err := schedule.NextDaily(hour, minute, l.now())
	if err != nil {
		return "", err
	}
	t, err := l.store.CreateTrigger(ctx, storage.Trigger{
		UserID: userID,
		Title:  title,
		Body:   body,
		Kind:   storage.ScheduleDaily,
		Hour:   hour,
		Minute: minute,
		FireAt: fireAt,
	})
	if err != nil {
		return "", fmt.Errorf("registering daily trigger: %w", err)
	}
	return t.ID, nil
}

// ScheduleOnce registers a one-shot trigger at whenMillis (epoch ms).
func (l *Local) ScheduleOnce(ctx context.Context, userID, title, body string, whenMillis int64) (string, error) {
	when := time.UnixMilli(whenMillis)
	if when.Before(l.now().Add(-pastGrace)) {
		return "", fmt.Errorf("%w: %s", ErrPastTrigger, when.UTC().Format(time.RFC3339))
	}
	t, err := l.store.CreateTrigger(ctx, storage.Trigger{
		UserID: userID,
		Title:  title,
		Body:   body,
		Kind:   storage.ScheduleOnce,
		Hour:   when.Hour(),
		Minute: when.Minute(),
		FireAt: when,
	})
	if err != nil {
		return "", fmt.Errorf("registering one-shot trigger: %w", err)
	}
	return t.ID, nil
}

// Cancel stops a trigger. Unknown ids are ignored.
func (l *Local) Cancel(ctx context.Context, userID, id string) error {
	if err := l.store.CancelTrigger(ctx, userID, id); err != nil {
		return fmt.Errorf("cancelling trigger %s: %w", id, err)
	}
	return nil
}
