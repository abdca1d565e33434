package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maphy9/mind-flow/internal/chat"
	"github.com/maphy9/mind-flow/internal/metrics"
	"github.com/maphy9/mind-flow/internal/plan"
	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/storage"
)

// Store is the read side of the document store used by the API.
type Store interface {
	Ping(ctx context.Context) error
	ListReminders(ctx context.Context, userID string) ([]storage.Reminder, error)
	Subscribe(userID string) (<-chan storage.Change, func())
	GetPermission(ctx context.Context, userID string) (bool, error)
	SetPermission(ctx context.Context, userID string, granted bool) error
	ListDeliveries(ctx context.Context, userID string, limit int) ([]storage.Delivery, error)
}

// Reminders is the reminder lifecycle exposed over HTTP and MCP.
type Reminders interface {
	Schedule(ctx context.Context, userID, title, rawTime string) (reminder.Result, error)
	Toggle(ctx context.Context, userID, reminderID string) (reminder.Result, error)
	Remove(ctx context.Context, userID, reminderID string) (reminder.Result, error)
}

// Chat is the conversation service exposed over HTTP.
type Chat interface {
	History(ctx context.Context, userID string) ([]chat.Message, error)
	Send(ctx context.Context, userID, text string) (chat.Message, error)
	ToggleAction(ctx context.Context, userID, messageID string, index int) (plan.ActionItem, error)
	Commit(ctx context.Context, userID, messageID string) (chat.CommitResult, error)
}

type AppDeps struct {
	Store       Store
	Reminders   Reminders
	Chat        Chat
	Token       string
	DefaultUser string
	Location    *time.Location // for reminder descriptions; defaults to time.Local
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // serves /metrics when non-nil
	KeepAlive   time.Duration       // SSE comment interval; defaults to 15s
}

// NewAppHandler returns the mind-flow REST API. /health and /metrics are
// public; everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.KeepAlive <= 0 {
		deps.KeepAlive = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware)

	r.Get("/health", handleHealth(deps))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(UserID(deps.DefaultUser))

		r.Get("/chat/messages", handleChatHistory(deps))
		r.Post("/chat/messages", handleChatSend(deps))
		r.Post("/chat/messages/{id}/actions/{index}/toggle", handleChatToggle(deps))
		r.Post("/chat/messages/{id}/commit", handleChatCommit(deps))

		r.Get("/reminders", handleListReminders(deps))
		r.Post("/reminders", handleCreateReminder(deps))
		r.Get("/reminders/stream", handleReminderStream(deps))
		r.Post("/reminders/{id}/toggle", handleToggleReminder(deps))
		r.Delete("/reminders/{id}", handleRemoveReminder(deps))

		r.Get("/notifications/permission", handleGetPermission(deps))
		r.Put("/notifications/permission", handleSetPermission(deps))
		r.Get("/notifications/deliveries", handleListDeliveries(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "store unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
