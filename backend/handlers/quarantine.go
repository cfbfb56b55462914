// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/quarantine"
)

type QuarantineHandler struct {
	store  *quarantine.Store
	logger *slog.Logger
}

func NewQuarantineHandler(store *quarantine.Store, logger *slog.Logger) *QuarantineHandler {
	return &QuarantineHandler{store: store, logger: logger}
}

// List returns quarantine records, optionally filtered by ?status=
func (h *QuarantineHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.QuarantineStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.QuarantineStatusQuarantined, models.QuarantineStatusReleased:
	default:
		writeError(w, http.StatusBadRequest, "invalid_status", "status must be quarantined or released")
		return
	}

	records, err := h.store.List(r.Context(), status, queryLimit(r, 100, 500))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list quarantine", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "failed to list quarantine records")
		return
	}
	if records == nil {
		records = []*models.QuarantineRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// Release moves a quarantined file back to where it came from
func (h *QuarantineHandler) Release(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "id is required")
		return
	}

	rec, released, err := h.store.ReleaseByID(r.Context(), req.ID, actor)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "quarantine record not found")
		return
	case errors.Is(err, quarantine.ErrDestinationExists):
		writeError(w, http.StatusConflict, "destination_exists", "original location is occupied")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "release failed",
			slog.String("id", req.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal", "failed to release file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"released": released,
		"record":   rec,
	})
}
