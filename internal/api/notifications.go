package api

import (
	"errors"
	"net/http"

	"github.com/maphy9/mind-flow/internal/storage"
)

type PermissionStatus struct {
	Asked   bool `json:"asked"`
	Granted bool `json:"granted"`
}

type SetPermissionRequest struct {
	Granted *bool `json:"granted"`
}

func handleGetPermission(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		granted, err := deps.Store.GetPermission(r.Context(), userFrom(r))
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, PermissionStatus{})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read permission: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, PermissionStatus{Asked: true, Granted: granted})
	}
}

func handleSetPermission(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetPermissionRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Granted == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "granted is required")
			return
		}
		if err := deps.Store.SetPermission(r.Context(), userFrom(r), *req.Granted); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store permission: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, PermissionStatus{Asked: true, Granted: *req.Granted})
	}
}

func handleListDeliveries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		deliveries, err := deps.Store.ListDeliveries(r.Context(), userFrom(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list deliveries: %v", err)
			return
		}
		if deliveries == nil {
			deliveries = []storage.Delivery{}
		}
		writeJSON(w, http.StatusOK, deliveries)
	}
}
