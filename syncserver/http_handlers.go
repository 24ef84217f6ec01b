// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pocketsuite/localsync/internal/auth"
	"github.com/pocketsuite/localsync/localsync"
)

// ClientAuthenticator guards the record API. The middleware validates
// auth (e.g. JWT) once per request and stores the caller's identity in
// the request context, where handlers read it via the auth package.
type ClientAuthenticator interface {
	Middleware(next http.Handler) http.Handler
}

// Handlers exposes the record API over HTTP plus the websocket feed.
type Handlers struct {
	service       *Service
	authenticator ClientAuthenticator
	upgrader      websocket.Upgrader
	logger        *slog.Logger
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// NewHandlers creates the handler set for a service.
func NewHandlers(service *Service, authenticator ClientAuthenticator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:       service,
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Register wires all routes onto mux. Every record route sits behind
// the authentication middleware; health does not.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)

	authed := func(handler http.HandlerFunc) http.Handler {
		return h.authenticator.Middleware(handler)
	}
	mux.Handle("GET /api/records", authed(h.HandleList))
	mux.Handle("POST /api/records", authed(h.HandleInsert))
	mux.Handle("PATCH /api/records/{id}", authed(h.HandlePatch))
	mux.Handle("DELETE /api/records/{id}", authed(h.HandleDelete))
	mux.Handle("GET /api/records/ws", authed(h.HandleSubscribe))
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleList returns the caller's full record set.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list records", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "query_failed", "Failed to query records")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleInsert stores a new record and returns its server-issued id.
func (h *Handlers) HandleInsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var rec localsync.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse record")
		return
	}
	id, err := h.service.Insert(r.Context(), userID, rec)
	if err != nil {
		h.logger.Error("failed to insert record", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "insert_failed", "Failed to insert record")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandlePatch overwrites an existing record.
func (h *Handlers) HandlePatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	var rec localsync.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse record")
		return
	}
	err := h.service.Patch(r.Context(), userID, id, rec)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Record not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to patch record", "error", err, "user_id", userID, "id", id)
		h.writeError(w, http.StatusInternalServerError, "patch_failed", "Failed to patch record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a record.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	err := h.service.Delete(r.Context(), userID, id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Record not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete record", "error", err, "user_id", userID, "id", id)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubscribe upgrades to a websocket and re-delivers the caller's
// full record set on connect and after every change.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}
	defer conn.Close()

	deviceID, _ := auth.DeviceID(r.Context())
	h.logger.Debug("realtime subscriber connected", "user_id", userID, "device_id", deviceID)

	sub := h.service.Hub().Subscribe(userID)
	defer h.service.Hub().Unsubscribe(sub)

	// Reader only exists to observe the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial value: the feed's contract is "connected delivers data",
	// even when the record set is empty.
	snap, err := h.service.Snapshot(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to build initial snapshot", "error", err, "user_id", userID)
		return
	}
	if err := h.writeWS(conn, snap); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case items, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			if items == nil {
				items = []localsync.Record{}
			}
			if err := h.writeWS(conn, &SnapshotResponse{Items: items}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handlers) writeWS(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

// authenticate reads the identity the middleware stored. A handler
// reached without it is a wiring bug, reported as unauthorized.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "no identity in request context")
		return "", false
	}
	return userID, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Error: code, Message: message})
}
