package storage

import (
	"errors"
	"time"

	"github.com/maphy9/mind-flow/internal/plan"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	ScheduleDaily = "daily"
	ScheduleOnce  = "once"
)

// Reminder is a persisted reminder record. Hour and Minute are nil when the
// raw time could not be parsed; When is epoch milliseconds for once reminders.
type Reminder struct {
	ID              string    `json:"id"`
	UserID          string    `json:"-"`
	Title           string    `json:"title"`
	RawTime         string    `json:"rawTime"`
	ScheduleType    string    `json:"scheduleType"`
	Hour            *int      `json:"hour"`
	Minute          *int      `json:"minute"`
	When            *int64    `json:"when,omitempty"`
	Enabled         bool      `json:"enabled"`
	NotificationIDs []string  `json:"notificationIds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Suggestion is the checklist document attached to one assistant message.
type Suggestion struct {
	UserID    string
	MessageID string
	Actions   []plan.ActionItem
	UpdatedAt time.Time
}

// ChatMessage is one persisted conversation turn.
type ChatMessage struct {
	ID        string
	UserID    string
	Role      string // "user", "assistant", "system"
	Content   string
	CreatedAt time.Time
}

const (
	TriggerPending    = "pending"
	TriggerDelivering = "delivering"
	TriggerFired      = "fired"
	TriggerCancelled  = "cancelled"
	TriggerFailed     = "failed"
)

// Trigger is a registered notification owned by the local notification scheduler.
type Trigger struct {
	ID          string
	UserID      string
	Title       string
	Body        string
	Kind        string // ScheduleDaily or ScheduleOnce
	Hour        int
	Minute      int
	FireAt      time.Time
	Status      string
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
}

// Delivery records a notification that reached the user's inbox.
type Delivery struct {
	ID          string    `json:"id"`
	TriggerID   string    `json:"triggerId"`
	UserID      string    `json:"-"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

const (
	CollectionReminders = "reminders"

	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Change is published to subscribers after a successful write.
type Change struct {
	Collection string `json:"collection"`
	Op         string `json:"op"`
	ID         string `json:"id"`
}
