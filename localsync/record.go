// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"time"

	"github.com/google/uuid"
)

// Record is the unit being synchronized: a note, a task, a timer session.
//
// LocalID is assigned on the device at creation time and never changes.
// RemoteID is empty until the remote store acknowledges the creation;
// once set it is immutable. A record therefore carries either a LocalID
// alone (not yet synced) or both identifiers.
type Record struct {
	LocalID  string `json:"localId"`
	RemoteID string `json:"remoteId,omitempty"`

	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Color   string `json:"color,omitempty"`
	Done    bool   `json:"done,omitempty"`

	// Position orders the record among its siblings. Defaults to
	// CreatedAt so new records sort chronologically; manual reordering
	// assigns midpoints without renumbering neighbors.
	Position float64 `json:"position,omitempty"`

	// Epoch milliseconds. UpdatedAt is rewritten on every field
	// mutation and never moves backwards.
	CreatedAt int64 `json:"createdAt,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// Synced reports whether the remote store has acknowledged this record.
func (r *Record) Synced() bool {
	return r.RemoteID != ""
}

// Key returns the identifier the record is currently addressable by:
// the server-issued RemoteID once it exists, the LocalID before that.
func (r *Record) Key() string {
	if r.RemoteID != "" {
		return r.RemoteID
	}
	return r.LocalID
}

// NewerThan reports whether r carries a later edit than other.
// Ties break on LocalID so the comparison is deterministic across
// devices that happen to write in the same millisecond.
func (r *Record) NewerThan(other *Record) bool {
	if r.UpdatedAt != other.UpdatedAt {
		return r.UpdatedAt > other.UpdatedAt
	}
	return r.LocalID > other.LocalID
}

// ensureIdentity fills in the fields every record must carry before it
// enters the active set. Calling it on an already-complete record is a
// no-op. Returns true if anything was assigned.
func (r *Record) ensureIdentity(now time.Time) bool {
	changed := false
	if r.LocalID == "" {
		r.LocalID = uuid.NewString()
		changed = true
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = now.UnixMilli()
		changed = true
	}
	if r.UpdatedAt == 0 {
		r.UpdatedAt = r.CreatedAt
		changed = true
	}
	if r.Position == 0 {
		r.Position = float64(r.CreatedAt)
		changed = true
	}
	return changed
}

// touch advances UpdatedAt to now, keeping it monotonically
// non-decreasing even if the wall clock stalls or steps backwards.
func (r *Record) touch(now time.Time) {
	ms := now.UnixMilli()
	if ms <= r.UpdatedAt {
		ms = r.UpdatedAt + 1
	}
	r.UpdatedAt = ms
}

// DeletedRecord is a record parked in the soft-delete holding area.
type DeletedRecord struct {
	Record    Record `json:"record"`
	DeletedAt int64  `json:"deletedAt"`
}

// expired reports whether the entry has outlived the grace window.
func (d *DeletedRecord) expired(now time.Time, grace time.Duration) bool {
	return now.UnixMilli()-d.DeletedAt > grace.Milliseconds()
}

// Snapshot is the last-known-good copy of the record set, cached
// independently of the primary replica and used only to paint the UI
// before the realtime subscription delivers its first value.
type Snapshot struct {
	Items      []Record `json:"items"`
	CapturedAt int64    `json:"timestamp"`
}

// Fresh reports whether the snapshot is still young enough to show.
func (s *Snapshot) Fresh(now time.Time, ceiling time.Duration) bool {
	if s == nil || s.CapturedAt == 0 {
		return false
	}
	return now.UnixMilli()-s.CapturedAt <= ceiling.Milliseconds()
}
