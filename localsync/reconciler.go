// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"log/slog"
	"sort"
)

// Reconciler owns the in-memory source of truth for the active record
// set and every merge decision. It folds three possibly-stale inputs
// together: the local replica, live remote snapshots and the cached
// last-known-good copy.
//
// Reconciler is not safe for concurrent use on its own; the Engine
// serializes every state transition behind one mutex, mirroring the
// single-threaded event model the engine is written for.
type Reconciler struct {
	store  Store
	clock  Clock
	logger *slog.Logger

	// active is keyed by LocalID, which is the one identifier that
	// never changes for the record's local lifetime.
	active map[string]*Record
}

// NewReconciler returns a reconciler over the given store.
func NewReconciler(store Store, clock Clock, logger *slog.Logger) *Reconciler {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		clock:  clock,
		logger: logger,
		active: make(map[string]*Record),
	}
}

// Load replaces the in-memory set with the persisted replica. Missing
// or corrupt data loads as empty, never as a failure.
func (rc *Reconciler) Load() {
	records, err := rc.store.LoadRecords()
	if err != nil {
		rc.logger.Warn("replica load failed, starting empty", "error", err)
		records = nil
	}
	rc.active = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		rec.ensureIdentity(rc.clock.Now())
		rc.active[rec.LocalID] = &rec
	}
}

// Seed fills an empty active set from the last-known-good snapshot.
// It deliberately does not persist: the snapshot only paints the UI
// until something fresher arrives, it must not be promoted to replica
// truth by the act of reading it.
func (rc *Reconciler) Seed(items []Record) {
	if len(rc.active) > 0 {
		return
	}
	for i := range items {
		rec := items[i]
		rec.ensureIdentity(rc.clock.Now())
		rc.active[rec.LocalID] = &rec
	}
}

// Records returns the active set ordered by Position.
func (rc *Reconciler) Records() []Record {
	out := make([]Record, 0, len(rc.active))
	for _, rec := range rc.active {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

// Get resolves a record by LocalID or RemoteID. An empty key never
// matches; records that are not yet synced carry an empty RemoteID.
func (rc *Reconciler) Get(key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}
	if rec, ok := rc.active[key]; ok {
		return *rec, true
	}
	for _, rec := range rc.active {
		if rec.RemoteID == key {
			return *rec, true
		}
	}
	return Record{}, false
}

// EnsureIdentity assigns LocalID, timestamps and a default Position to
// a record that lacks them. Idempotent.
func (rc *Reconciler) EnsureIdentity(rec *Record) {
	rec.ensureIdentity(rc.clock.Now())
}

// Upsert applies a local optimistic write. The newer version by
// UpdatedAt wins, so rapid successive edits of the same record collapse
// to last-writer-wins. The accepted record is returned.
func (rc *Reconciler) Upsert(rec Record) Record {
	rec.ensureIdentity(rc.clock.Now())
	if existing, ok := rc.active[rec.LocalID]; ok {
		// RemoteID is immutable once assigned.
		if rec.RemoteID == "" {
			rec.RemoteID = existing.RemoteID
		}
		if !rec.NewerThan(existing) && rec.UpdatedAt != existing.UpdatedAt {
			return *existing
		}
	}
	rc.active[rec.LocalID] = &rec
	rc.persist()
	return rec
}

// Remove takes a record out of the active set, resolving by either
// identifier. The removed record is returned.
func (rc *Reconciler) Remove(key string) (Record, bool) {
	rec, ok := rc.Get(key)
	if !ok {
		return Record{}, false
	}
	delete(rc.active, rec.LocalID)
	rc.persist()
	return rec, true
}

// MergeRemote folds a full remote snapshot into the active set. The
// snapshot is authoritative for every record it contains; records that
// exist only locally (no RemoteID yet) are unioned in, not dropped.
// Synced records absent from the snapshot were deleted elsewhere and
// are dropped. Both the replica and the last-known-good snapshot are
// rewritten afterwards.
func (rc *Reconciler) MergeRemote(remote []Record) {
	byRemoteID := make(map[string]*Record, len(rc.active))
	for _, rec := range rc.active {
		if rec.RemoteID != "" {
			byRemoteID[rec.RemoteID] = rec
		}
	}

	merged := make(map[string]*Record, len(remote))
	for i := range remote {
		in := remote[i]
		// Match by RemoteID first, then by the LocalID embedded in the
		// document. The latter catches a creation echo that arrives
		// over the feed before identifier reconciliation completed, so
		// it updates the existing record in place instead of
		// duplicating it.
		var existing *Record
		if in.RemoteID != "" {
			existing = byRemoteID[in.RemoteID]
		}
		if existing == nil && in.LocalID != "" {
			existing = rc.active[in.LocalID]
		}
		if existing != nil {
			in.LocalID = existing.LocalID
			if in.RemoteID == "" {
				in.RemoteID = existing.RemoteID
			}
		}
		in.ensureIdentity(rc.clock.Now())
		merged[in.LocalID] = &in
	}

	// Union in local-only records the snapshot does not know about.
	for id, rec := range rc.active {
		if rec.RemoteID != "" {
			continue
		}
		if _, taken := merged[id]; !taken {
			merged[id] = rec
		}
	}

	rc.active = merged
	rc.persist()
	rc.refreshSnapshot()
}

// RewriteIDs stamps server-issued identifiers onto the active set after
// creation mutations round-trip. LocalID never changes; only the
// RemoteID is filled in. The trash and the pending queue are rewritten
// by the engine under the same lock, so a merge can never interleave
// with a half-done rewrite.
func (rc *Reconciler) RewriteIDs(ids map[string]string) {
	changed := false
	for localID, remoteID := range ids {
		if rec, ok := rc.active[localID]; ok && rec.RemoteID == "" {
			rec.RemoteID = remoteID
			changed = true
		}
	}
	if changed {
		rc.persist()
	}
}

// persist writes the active set through to the replica. Persistence is
// best-effort: a failing store is logged and the in-memory state stays
// the truth for this session.
func (rc *Reconciler) persist() {
	if err := rc.store.SaveRecords(rc.Records()); err != nil {
		rc.logger.Warn("replica write failed, continuing in memory", "error", err)
	}
}

// refreshSnapshot rewrites the last-known-good snapshot with a new
// capture timestamp.
func (rc *Reconciler) refreshSnapshot() {
	snap := &Snapshot{
		Items:      rc.Records(),
		CapturedAt: rc.clock.Now().UnixMilli(),
	}
	if err := rc.store.SaveSnapshot(snap); err != nil {
		rc.logger.Warn("snapshot write failed", "error", err)
	}
}
