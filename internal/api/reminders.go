package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maphy9/mind-flow/internal/reminder"
	"github.com/maphy9/mind-flow/internal/schedule"
	"github.com/maphy9/mind-flow/internal/storage"
)

type CreateReminderRequest struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

// ReminderView is a stored reminder plus its display summary.
type ReminderView struct {
	storage.Reminder
	Description string `json:"description"`
}

func describe(r storage.Reminder, loc *time.Location) ReminderView {
	return ReminderView{
		Reminder: r,
		Description: schedule.Describe(schedule.Summary{
			ScheduleType: r.ScheduleType,
			Hour:         r.Hour,
			Minute:       r.Minute,
			When:         r.When,
			RawTime:      r.RawTime,
		}, loc),
	}
}

func listViews(deps AppDeps, r *http.Request) ([]ReminderView, error) {
	reminders, err := deps.Store.ListReminders(r.Context(), userFrom(r))
	if err != nil {
		return nil, err
	}
	views := make([]ReminderView, len(reminders))
	for i, rem := range reminders {
		views[i] = describe(rem, deps.Location)
	}
	return views, nil
}

func handleListReminders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := listViews(deps, r)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reminders: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleCreateReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReminderRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Reminders.Schedule(r.Context(), userFrom(r), req.Title, req.Time)
		if errors.Is(err, reminder.ErrEmptyTitle) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleToggleReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Reminders.Toggle(r.Context(), userFrom(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "reminder not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to toggle reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRemoveReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Reminders.Remove(r.Context(), userFrom(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "reminder not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove reminder: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleReminderStream pushes the user's reminder list as server-sent events:
// a "snapshot" event on connect and again after every change, preceded by a
// "change" event naming what moved.
func handleReminderStream(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		changes, cancel := deps.Store.Subscribe(userFrom(r))
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeSnapshot(w, deps, r); err != nil {
			slog.Warn("reminder stream snapshot failed", "error", err)
			return
		}
		flusher.Flush()

		keepAlive := time.NewTicker(deps.KeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case c, ok := <-changes:
				if !ok {
					return
				}
				if err := writeEvent(w, "change", c); err != nil {
					return
				}
				if err := writeSnapshot(w, deps, r); err != nil {
					slog.Warn("reminder stream snapshot failed", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSnapshot(w http.ResponseWriter, deps AppDeps, r *http.Request) error {
	views, err := listViews(deps, r)
	if err != nil {
		return err
	}
	return writeEvent(w, "snapshot", views)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
