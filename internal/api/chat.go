package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maphy9/mind-flow/internal/chat"
)

type SendMessageRequest struct {
	Text string `json:"text"`
}

type ToggleActionResponse struct {
	MessageID string `json:"messageId"`
	Index     int    `json:"index"`
	Checked   bool   `json:"checked"`
}

func handleChatHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Chat.History(r.Context(), userFrom(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleChatSend(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		msg, err := deps.Chat.Send(r.Context(), userFrom(r), req.Text)
		if errors.Is(err, chat.ErrEmptyMessage) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "assistant error: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleChatToggle(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid action index %q", chi.URLParam(r, "index"))
			return
		}

		item, err := deps.Chat.ToggleAction(r.Context(), userFrom(r), id, index)
		if errors.Is(err, chat.ErrMessageNotFound) || errors.Is(err, chat.ErrActionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to toggle action: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ToggleActionResponse{MessageID: id, Index: index, Checked: item.Checked})
	}
}

func handleChatCommit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Chat.Commit(r.Context(), userFrom(r), chi.URLParam(r, "id"))
		if errors.Is(err, chat.ErrMessageNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to commit actions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
