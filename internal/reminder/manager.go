package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maphy9/mind-flow/internal/notify"
	"github.com/maphy9/mind-flow/internal/schedule"
	"github.com/maphy9/mind-flow/internal/storage"
)

const (
	dailyBody = "It's time!"
	onceBody  = "Reminder"
)

// ErrEmptyTitle is returned when a reminder has no title.
var ErrEmptyTitle = errors.New("reminder title is empty")

// Outcome describes how far an operation got with the notification scheduler.
type Outcome string

const (
	// OutcomeScheduled: a trigger was registered.
	OutcomeScheduled Outcome = "scheduled"
	// OutcomePermissionDenied: the record is enabled but no trigger exists.
	OutcomePermissionDenied Outcome = "permission_denied"
	// OutcomeUnscheduled: permission was granted but no trigger could be
	// registered (unparsed time or scheduler failure).
	OutcomeUnscheduled Outcome = "unscheduled"
	OutcomeDisabled    Outcome = "disabled"
	OutcomeRemoved     Outcome = "removed"
)

// Result is the fail-soft result of a lifecycle operation. Errors from the
// notification scheduler never surface as a Go error; they show up here.
type Result struct {
	Reminder       storage.Reminder `json:"reminder"`
	Outcome        Outcome          `json:"outcome"`
	CancelFailures int              `json:"cancelFailures,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// Store is the reminder persistence the manager needs.
type Store interface {
	CreateReminder(ctx context.Context, r storage.Reminder) (storage.Reminder, error)
	GetReminder(ctx context.Context, userID, id string) (storage.Reminder, error)
	UpdateReminderState(ctx context.Context, userID, id string, enabled bool, notificationIDs []string) error
	DeleteReminder(ctx context.Context, userID, id string) error
}

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveReminder(outcome string)
}

// Manager creates, enables, disables and removes reminders.
type Manager struct {
	store     Store
	scheduler notify.Scheduler
	recorder  Recorder
	now       func() time.Time
	logger    *slog.Logger

	locks sync.Map // userID -> *sync.Mutex
}

// NewManager creates a Manager. recorder may be nil.
func NewManager(store Store, scheduler notify.Scheduler, recorder Recorder) *Manager {
	return &Manager{
		store:     store,
		scheduler: scheduler,
		recorder:  recorder,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// SetClock replaces the time source used to resolve relative times.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) lock(userID string) func() {
	mu, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Schedule parses rawTime, registers a trigger when permitted and persists the
// reminder. The record is created even when no trigger could be registered.
// The returned error is non-nil only when the record could not be stored.
func (m *Manager) Schedule(ctx context.Context, userID, title, rawTime string) (Result, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Result{}, ErrEmptyTitle
	}
	defer m.lock(userID)()

	d := schedule.Parse(rawTime, m.now())
	r := storage.Reminder{
		UserID:  userID,
		Title:   title,
		RawTime: rawTime,
		Enabled: true,
	}
	switch d.Kind {
	case schedule.KindOnce:
		r.ScheduleType = storage.ScheduleOnce
		h, mi, w := d.When.Hour(), d.When.Minute(), d.WhenMillis()
		r.Hour, r.Minute, r.When = &h, &mi, &w
	case schedule.KindDaily:
		r.ScheduleType = storage.ScheduleDaily
		h, mi := d.Hour, d.Minute
		r.Hour, r.Minute = &h, &mi
	default:
		r.ScheduleType = storage.ScheduleDaily
	}

	res := m.register(ctx, &r)

	created, err := m.store.CreateReminder(ctx, r)
	if err != nil {
		// The triggers would point at a record that does not exist.
		for _, id := range r.NotificationIDs {
			if cerr := m.scheduler.Cancel(ctx, userID, id); cerr != nil {
				m.logger.Warn("cancelling orphaned trigger", "trigger_id", id, "error", cerr)
			}
		}
		return Result{}, fmt.Errorf("saving reminder: %w", err)
	}
	res.Reminder = created
	m.observe(res.Outcome)
	m.logger.Debug("reminder scheduled", "id", created.ID, "type", created.ScheduleType, "outcome", res.Outcome)
	return res, nil
}

// Toggle disables an enabled reminder (cancelling its triggers) or re-enables
// a disabled one from its stored schedule.
func (m *Manager) Toggle(ctx context.Context, userID, reminderID string) (Result, error) {
	defer m.lock(userID)()

	r, err := m.store.GetReminder(ctx, userID, reminderID)
	if err != nil {
		return Result{}, fmt.Errorf("loading reminder %s: %w", reminderID, err)
	}

	var res Result
	if r.Enabled {
		res = Result{Outcome: OutcomeDisabled, CancelFailures: m.cancelAll(ctx, userID, r.NotificationIDs)}
		r.Enabled = false
		r.NotificationIDs = []string{}
	} else {
		r.Enabled = true
		res = m.register(ctx, &r)
	}

	if err := m.store.UpdateReminderState(ctx, userID, r.ID, r.Enabled, r.NotificationIDs); err != nil {
		return Result{}, fmt.Errorf("updating reminder %s: %w", r.ID, err)
	}
	res.Reminder = r
	m.observe(res.Outcome)
	return res, nil
}

// Remove cancels the reminder's triggers and deletes the record.
func (m *Manager) Remove(ctx context.Context, userID, reminderID string) (Result, error) {
	defer m.lock(userID)()

	r, err := m.store.GetReminder(ctx, userID, reminderID)
	if err != nil {
		return Result{}, fmt.Errorf("loading reminder %s: %w", reminderID, err)
	}

	failures := m.cancelAll(ctx, userID, r.NotificationIDs)
	if err := m.store.DeleteReminder(ctx, userID, r.ID); err != nil {
		return Result{}, fmt.Errorf("deleting reminder %s: %w", r.ID, err)
	}
	m.observe(OutcomeRemoved)
	return Result{Reminder: r, Outcome: OutcomeRemoved, CancelFailures: failures}, nil
}

// register asks for permission and registers a trigger for r's stored
// schedule, setting r.NotificationIDs. It never fails.
func (m *Manager) register(ctx context.Context, r *storage.Reminder) Result {
	r.NotificationIDs = []string{}

	granted, err := m.permission(ctx, r.UserID)
	if err != nil {
		m.logger.Warn("notification permission check failed", "user", r.UserID, "error", err)
		return Result{Outcome: OutcomePermissionDenied, Warnings: []string{"notification permission unavailable: " + err.Error()}}
	}
	if !granted {
		return Result{Outcome: OutcomePermissionDenied}
	}

	var id string
	switch {
	case r.ScheduleType == storage.ScheduleOnce && r.When != nil:
		id, err = m.scheduler.ScheduleOnce(ctx, r.UserID, r.Title, onceBody, *r.When)
	case r.ScheduleType == storage.ScheduleDaily && r.Hour != nil && r.Minute != nil:
		id, err = m.scheduler.ScheduleDaily(ctx, r.UserID, r.Title, dailyBody, *r.Hour, *r.Minute)
	default:
		return Result{Outcome: OutcomeUnscheduled, Warnings: []string{fmt.Sprintf("could not understand time %q", r.RawTime)}}
	}
	if err != nil {
		m.logger.Warn("registering notification failed", "title", r.Title, "error", err)
		return Result{Outcome: OutcomeUnscheduled, Warnings: []string{"notification not scheduled: " + err.Error()}}
	}

	r.NotificationIDs = []string{id}
	return Result{Outcome: OutcomeScheduled}
}

func (m *Manager) permission(ctx context.Context, userID string) (bool, error) {
	granted, err := m.scheduler.CheckPermission(ctx, userID)
	if err != nil {
		return false, err
	}
	if granted {
		return true, nil
	}
	return m.scheduler.RequestPermission(ctx, userID)
}

// cancelAll cancels every id, swallowing failures and returning their count.
func (m *Manager) cancelAll(ctx context.Context, userID string, ids []string) int {
	failures := 0
	for _, id := range ids {
		if err := m.scheduler.Cancel(ctx, userID, id); err != nil {
			failures++
			m.logger.Warn("cancelling notification", "trigger_id", id, "error", err)
		}
	}
	return failures
}

func (m *Manager) observe(o Outcome) {
	if m.recorder != nil {
		m.recorder.ObserveReminder(string(o))
	}
}
