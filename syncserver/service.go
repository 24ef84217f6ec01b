// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncserver is the reference remote store for the localsync
// engine. It implements the contract the engine consumes: query-all,
// insert, patch, delete, and a realtime feed that re-delivers the full
// record set on every change.
package syncserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pocketsuite/localsync/localsync"
)

// Service wires storage to the realtime hub: every successful mutation
// re-queries the owner's record set and broadcasts it.
type Service struct {
	storage Storage
	hub     *Hub
	logger  *slog.Logger
}

// NewService creates a service over the given storage.
func NewService(storage Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage: storage,
		hub:     NewHub(logger),
		logger:  logger,
	}
}

// Hub exposes the realtime hub for the websocket handler.
func (s *Service) Hub() *Hub {
	return s.hub
}

// QueryAll returns every record owned by userID.
func (s *Service) QueryAll(ctx context.Context, userID string) ([]localsync.Record, error) {
	return s.storage.QueryAll(ctx, userID)
}

// Insert stores a new record, broadcasts, and returns the new id.
func (s *Service) Insert(ctx context.Context, userID string, rec localsync.Record) (string, error) {
	id, err := s.storage.Insert(ctx, userID, rec)
	if err != nil {
		return "", err
	}
	s.broadcast(ctx, userID)
	return id, nil
}

// Patch overwrites a record's document and broadcasts.
func (s *Service) Patch(ctx context.Context, userID, id string, rec localsync.Record) error {
	if err := s.storage.Patch(ctx, userID, id, rec); err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	return nil
}

// Delete removes a record and broadcasts.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.storage.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	return nil
}

// broadcast pushes the owner's current record set to all of their
// realtime subscribers. A failed re-query only costs the push; the
// mutation itself already committed.
func (s *Service) broadcast(ctx context.Context, userID string) {
	items, err := s.storage.QueryAll(ctx, userID)
	if err != nil {
		s.logger.Warn("broadcast query failed", "user_id", userID, "error", err)
		return
	}
	s.hub.Broadcast(userID, items)
}

// SnapshotResponse is the wire envelope for a full record set, used by
// the REST list handler and the websocket feed alike.
type SnapshotResponse struct {
	Items []localsync.Record `json:"items"`
}

// Snapshot builds the wire envelope for one user.
func (s *Service) Snapshot(ctx context.Context, userID string) (*SnapshotResponse, error) {
	items, err := s.storage.QueryAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	if items == nil {
		items = []localsync.Record{}
	}
	return &SnapshotResponse{Items: items}, nil
}
