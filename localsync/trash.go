// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"log/slog"
	"time"
)

// DefaultGraceWindow is how long a soft-deleted record stays
// restorable before it is purged.
const DefaultGraceWindow = 60 * time.Second

// Trash owns the soft-delete holding area. A deleted record moves
// Active -> PendingDelete, and from there either back to Active via
// Restore or to Purged once the grace window elapses.
//
// Purge is lazy: it happens on every read of the holding area and
// nowhere else. A holding area that is never read keeps expired
// entries in storage indefinitely; they are inert and invisible.
//
// Like Reconciler, Trash relies on the Engine for serialization.
type Trash struct {
	store  Store
	clock  Clock
	logger *slog.Logger
	grace  time.Duration

	entries []DeletedRecord
}

// NewTrash returns a holding area over the given store.
func NewTrash(store Store, clock Clock, grace time.Duration, logger *slog.Logger) *Trash {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Trash{
		store:  store,
		clock:  clock,
		logger: logger,
		grace:  grace,
	}
}

// Load replaces the in-memory holding area with the persisted one.
func (t *Trash) Load() {
	entries, err := t.store.LoadTrash()
	if err != nil {
		t.logger.Warn("trash load failed, starting empty", "error", err)
		entries = nil
	}
	t.entries = entries
}

// Add parks a record in the holding area stamped with the current
// time. Deleting a record that is already pending is a no-op returning
// the existing entry, not a duplicate.
func (t *Trash) Add(rec Record) DeletedRecord {
	t.purge()
	for _, entry := range t.entries {
		if entry.Record.LocalID == rec.LocalID {
			return entry
		}
	}
	entry := DeletedRecord{Record: rec, DeletedAt: t.clock.Now().UnixMilli()}
	t.entries = append(t.entries, entry)
	t.persist()
	return entry
}

// Take removes a restorable entry by LocalID or RemoteID and returns
// its record. Entries past the grace window are purged first, so a
// too-late restore simply finds nothing.
func (t *Trash) Take(key string) (Record, bool) {
	t.purge()
	for i, entry := range t.entries {
		if entry.Record.LocalID == key || (entry.Record.RemoteID != "" && entry.Record.RemoteID == key) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			t.persist()
			return entry.Record, true
		}
	}
	return Record{}, false
}

// Entries returns the restorable holding area, purging expired entries
// as a side effect of the read.
func (t *Trash) Entries() []DeletedRecord {
	t.purge()
	out := make([]DeletedRecord, len(t.entries))
	copy(out, t.entries)
	return out
}

// RewriteIDs stamps server-issued identifiers onto parked records so a
// restore after reconciliation comes back under current identity.
func (t *Trash) RewriteIDs(ids map[string]string) {
	changed := false
	for i := range t.entries {
		if remoteID, ok := ids[t.entries[i].Record.LocalID]; ok && t.entries[i].Record.RemoteID == "" {
			t.entries[i].Record.RemoteID = remoteID
			changed = true
		}
	}
	if changed {
		t.persist()
	}
}

// purge drops entries past the grace window and rewrites the persisted
// holding area to exclude them. This is the only purge trigger; there
// is no background sweep.
func (t *Trash) purge() {
	now := t.clock.Now()
	kept := t.entries[:0]
	dropped := 0
	for _, entry := range t.entries {
		if entry.expired(now, t.grace) {
			dropped++
			continue
		}
		kept = append(kept, entry)
	}
	if dropped == 0 {
		return
	}
	t.entries = kept
	t.logger.Debug("purged expired trash entries", "count", dropped)
	t.persist()
}

func (t *Trash) persist() {
	if err := t.store.SaveTrash(t.entries); err != nil {
		t.logger.Warn("trash write failed, continuing in memory", "error", err)
	}
}
