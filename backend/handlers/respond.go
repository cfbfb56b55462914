// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/efchatnet/efguard/backend/access"
	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/middleware"
	"github.com/efchatnet/efguard/backend/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// callerFrom builds the authenticated identity and the audit actor for r.
func callerFrom(r *http.Request) (access.Caller, audit.Actor, bool) {
	claims, ok := middleware.GetClaims(r)
	if !ok {
		return access.Caller{}, audit.Actor{}, false
	}
	caller := access.Caller{ID: claims.UserID, Kind: models.ActorKind(claims.Kind)}
	return caller, audit.Actor{ID: caller.ID, Kind: caller.Kind, IP: remoteIP(r)}, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryLimit(r *http.Request, def, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
