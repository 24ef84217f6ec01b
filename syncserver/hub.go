// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"log/slog"
	"sync"

	"github.com/pocketsuite/localsync/localsync"
)

// Hub fans the current record set out to every realtime subscriber of
// a user. Each subscriber holds a one-slot mailbox with latest-wins
// semantics: a slow connection skips intermediate snapshots and only
// ever sees the newest one, which is exactly what a full-snapshot feed
// allows.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*HubSubscriber]struct{}
	logger *slog.Logger
}

// HubSubscriber is one realtime listener attached to the hub.
type HubSubscriber struct {
	userID string
	ch     chan []localsync.Record
}

// Snapshots yields the user's record set, newest value wins.
func (s *HubSubscriber) Snapshots() <-chan []localsync.Record {
	return s.ch
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*HubSubscriber]struct{}),
		logger: logger,
	}
}

// Subscribe attaches a listener for userID. The caller must
// Unsubscribe when done.
func (h *Hub) Subscribe(userID string) *HubSubscriber {
	sub := &HubSubscriber{
		userID: userID,
		ch:     make(chan []localsync.Record, 1),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*HubSubscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a listener and closes its channel.
func (h *Hub) Unsubscribe(sub *HubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.userID]
	if set == nil {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.ch)
}

// Broadcast delivers the user's full record set to every listener.
func (h *Hub) Broadcast(userID string, items []localsync.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		// Latest-wins mailbox: drop the stale value if one is parked.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- items:
		default:
		}
	}
}
