// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

// Package localsync is a local-first synchronization engine for small
// productivity apps. It keeps an always-available local replica of a
// user's records consistent with an authoritative remote store,
// applies every write optimistically before the network is consulted,
// reconciles client-generated identifiers with server-issued ones, and
// provides a reversible delete with a bounded grace window.
//
// The engine never lets a remote or persistence failure escape to the
// caller: everything degrades to "continue with best-available local
// data".
package localsync

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultSnapshotMaxAge is the freshness ceiling for the
// last-known-good snapshot. Older snapshots are never shown.
const DefaultSnapshotMaxAge = 24 * time.Hour

// Config holds configuration for the engine.
type Config struct {
	Store  Store       // required
	Remote RemoteStore // nil means operate local-only
	Clock  Clock       // defaults to SystemClock
	Logger *slog.Logger

	BackoffMin  time.Duration // default 1s
	BackoffMax  time.Duration // default 60s
	MaxAttempts int           // remote attempts per change, default 3

	GraceWindow    time.Duration // soft-delete window, default 60s
	SnapshotMaxAge time.Duration // default 24h

	// Notify surfaces non-fatal user-visible notices, e.g. the single
	// "working in offline mode" message after retries are exhausted.
	// Optional; defaults to logging.
	Notify func(message string)
}

type changeOp string

const (
	opInsert changeOp = "INSERT"
	opPatch  changeOp = "PATCH"
	opDelete changeOp = "DELETE"
)

// pendingChange is one queued remote write. Payloads are read from the
// reconciler at send time, so rapid successive edits of a record
// coalesce into whatever state is current when the change ships.
type pendingChange struct {
	op       changeOp
	localID  string
	remoteID string // only meaningful for opDelete
	attempts int
}

// Engine is an explicitly constructed sync engine instance. It owns
// its stores and background loops; UI callbacks receive it injected
// rather than reaching for module-level state. All operations are safe
// for concurrent use; internally one mutex serializes every state
// transition, which is the Go shape of the single-threaded event model
// the engine is specified against.
type Engine struct {
	store  Store
	remote RemoteStore
	clock  Clock
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	rec      *Reconciler
	trash    *Trash
	pending  []*pendingChange
	liveSeen bool
	// cachePrimed is set at construction when the replica or a fresh
	// snapshot gave the UI something to paint.
	cachePrimed     bool
	offlineNotified bool
	closed          bool

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an engine over cfg.Store and loads persisted state so
// records are readable before Start (or without ever starting, for
// purely local sessions). Priority for the first paint: local replica,
// else a fresh last-known-good snapshot, else empty.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("localsync: Config.Store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = DefaultSnapshotMaxAge
	}

	e := &Engine{
		store:  cfg.Store,
		remote: cfg.Remote,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
	}
	e.rec = NewReconciler(cfg.Store, cfg.Clock, cfg.Logger)
	e.trash = NewTrash(cfg.Store, cfg.Clock, cfg.GraceWindow, cfg.Logger)

	e.rec.Load()
	e.trash.Load()
	if len(e.rec.Records()) > 0 {
		e.cachePrimed = true
	} else if snap := e.loadFreshSnapshot(); snap != nil {
		e.rec.Seed(snap.Items)
		e.cachePrimed = true
	}
	return e, nil
}

func (e *Engine) loadFreshSnapshot() *Snapshot {
	snap, err := e.store.LoadSnapshot()
	if err != nil {
		e.logger.Warn("snapshot load failed", "error", err)
		return nil
	}
	if !snap.Fresh(e.clock.Now(), e.cfg.SnapshotMaxAge) {
		return nil
	}
	return snap
}

// Start launches the background loops: the flusher that pushes queued
// local mutations and the subscriber that consumes the realtime feed.
// A nil RemoteStore makes Start a no-op; the engine stays local-only.
func (e *Engine) Start(ctx context.Context) {
	if e.remote == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.flusher(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.subscribeLoop(ctx)
	}()
}

// Close cancels pending timers and background loops, then closes the
// store. The engine must not be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return e.store.Close()
}

// Records returns what the UI should render right now, ordered by
// Position.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Records()
}

// Get resolves one record by LocalID or RemoteID.
func (e *Engine) Get(key string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Get(key)
}

// Deleted returns the restorable holding area. Reading it purges
// entries past the grace window.
func (e *Engine) Deleted() []DeletedRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trash.Entries()
}

// Realtime reports whether the live feed has delivered at least one
// value this session. Derived, never toggled by hand.
func (e *Engine) Realtime() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveSeen
}

// Loading reports whether the UI has nothing to paint yet: no live
// value and no usable cache. Derived on every call.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.liveSeen && !e.cachePrimed
}

// Create applies a new record optimistically and queues the remote
// insert. The returned record carries its assigned LocalID.
func (e *Engine) Create(rec Record) Record {
	e.mu.Lock()
	e.rec.EnsureIdentity(&rec)
	rec.touch(e.clock.Now())
	accepted := e.rec.Upsert(rec)
	e.cachePrimed = true
	e.enqueueLocked(opInsert, accepted.LocalID, "")
	e.mu.Unlock()
	e.kickFlusher()
	return accepted
}

// Update applies an edit optimistically and queues the remote write.
// Returns ErrNotFound if the record is not in the active set.
func (e *Engine) Update(rec Record) (Record, error) {
	e.mu.Lock()
	current, ok := e.rec.Get(rec.LocalID)
	if !ok {
		e.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec.RemoteID = current.RemoteID
	rec.CreatedAt = current.CreatedAt
	if rec.Position == 0 {
		rec.Position = current.Position
	}
	rec.UpdatedAt = current.UpdatedAt
	rec.touch(e.clock.Now())
	accepted := e.rec.Upsert(rec)
	if accepted.Synced() {
		e.enqueueLocked(opPatch, accepted.LocalID, "")
	} else {
		e.enqueueLocked(opInsert, accepted.LocalID, "")
	}
	e.mu.Unlock()
	e.kickFlusher()
	return accepted, nil
}

// Move reassigns a record's ordering position without renumbering its
// siblings; pass the midpoint between the new neighbors. Positions are
// kept strictly positive: zero means "unset" in the data model, so a
// move to the top clamps just above it instead of landing on the
// sentinel and being re-defaulted on the next replica load.
func (e *Engine) Move(key string, position float64) (Record, error) {
	if position <= 0 {
		position = math.SmallestNonzeroFloat64
	}
	e.mu.Lock()
	rec, ok := e.rec.Get(key)
	if !ok {
		e.mu.Unlock()
		return Record{}, ErrNotFound
	}
	rec.Position = position
	rec.touch(e.clock.Now())
	accepted := e.rec.Upsert(rec)
	if accepted.Synced() {
		e.enqueueLocked(opPatch, accepted.LocalID, "")
	}
	e.mu.Unlock()
	e.kickFlusher()
	return accepted, nil
}

// Delete soft-deletes a record: it leaves the active set immediately
// and stays restorable for the grace window. Deleting a record that is
// already pending delete returns the existing entry unchanged.
func (e *Engine) Delete(key string) (DeletedRecord, error) {
	if key == "" {
		return DeletedRecord{}, ErrNotFound
	}
	e.mu.Lock()
	rec, ok := e.rec.Remove(key)
	if !ok {
		// Already pending? Then this is a repeat delete, not an error.
		for _, entry := range e.trash.Entries() {
			if entry.Record.LocalID == key || entry.Record.RemoteID == key {
				e.mu.Unlock()
				return entry, nil
			}
		}
		e.mu.Unlock()
		return DeletedRecord{}, ErrNotFound
	}
	entry := e.trash.Add(rec)
	e.dropPendingLocked(rec.LocalID)
	if rec.Synced() {
		e.enqueueLocked(opDelete, rec.LocalID, rec.RemoteID)
	}
	e.mu.Unlock()
	e.kickFlusher()
	return entry, nil
}

// Restore moves a record from the holding area back to the active set,
// addressable by whichever identifier it currently carries. Past the
// grace window the entry is gone and ErrNotFound is returned.
func (e *Engine) Restore(key string) (Record, error) {
	e.mu.Lock()
	rec, ok := e.trash.Take(key)
	if !ok {
		e.mu.Unlock()
		return Record{}, ErrNotFound
	}
	// If the remote delete is still queued, cancel it: the remote row
	// survives and a patch brings it up to date. Otherwise the row is
	// gone (or never existed) and the restore is a fresh creation.
	cancelled := e.dropPendingLocked(rec.LocalID)
	rec.touch(e.clock.Now())
	if rec.Synced() && cancelled {
		accepted := e.rec.Upsert(rec)
		e.enqueueLocked(opPatch, accepted.LocalID, "")
		e.mu.Unlock()
		e.kickFlusher()
		return accepted, nil
	}
	rec.RemoteID = ""
	accepted := e.rec.Upsert(rec)
	e.enqueueLocked(opInsert, accepted.LocalID, "")
	e.mu.Unlock()
	e.kickFlusher()
	return accepted, nil
}

// OpenRecord returns the persisted "currently open record" pointer.
func (e *Engine) OpenRecord() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	key, err := e.store.LoadOpenRecord()
	if err != nil {
		e.logger.Warn("open-record load failed", "error", err)
		return ""
	}
	return key
}

// SetOpenRecord persists the "currently open record" pointer.
func (e *Engine) SetOpenRecord(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.SaveOpenRecord(key); err != nil {
		e.logger.Warn("open-record write failed", "error", err)
	}
}

// Clear wipes all local state, replica and holding area included.
// Meant for sign-out.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.rec.active = make(map[string]*Record)
	e.trash.entries = nil
	e.cachePrimed = false
	e.liveSeen = false
	return e.store.Clear()
}

// enqueueLocked coalesces a remote write into the pending queue.
// Callers hold e.mu.
func (e *Engine) enqueueLocked(op changeOp, localID, remoteID string) {
	if e.remote == nil {
		return
	}
	for _, ch := range e.pending {
		if ch.localID != localID {
			continue
		}
		switch {
		case ch.op == op:
			return // already queued; payload is read at send time
		case ch.op == opInsert && op == opPatch:
			return // the insert will ship current state anyway
		}
	}
	e.pending = append(e.pending, &pendingChange{op: op, localID: localID, remoteID: remoteID})
}

// dropPendingLocked removes queued writes for a record, reporting
// whether anything was dropped. Callers hold e.mu.
func (e *Engine) dropPendingLocked(localID string) bool {
	kept := e.pending[:0]
	dropped := false
	for _, ch := range e.pending {
		if ch.localID == localID {
			dropped = true
			continue
		}
		kept = append(kept, ch)
	}
	e.pending = kept
	return dropped
}

func (e *Engine) kickFlusher() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// reconcileIDs rewrites every local reference to a client-generated
// identifier once the server has issued one: active set, holding area
// and the pending queue, all under one lock so a concurrent merge can
// never observe a half-done rewrite.
func (e *Engine) reconcileIDs(ids map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.RewriteIDs(ids)
	e.trash.RewriteIDs(ids)
	for _, ch := range e.pending {
		if remoteID, ok := ids[ch.localID]; ok && ch.remoteID == "" {
			ch.remoteID = remoteID
		}
	}
}

// applyRemote merges one delivered value from the live feed. Values
// are applied in delivery order; the merge itself refreshes the
// replica and the last-known-good snapshot.
func (e *Engine) applyRemote(items []Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liveSeen = true
	e.cachePrimed = true
	e.rec.MergeRemote(items)
}

// notifyOffline surfaces the non-fatal offline notice exactly once
// until a remote write succeeds again.
func (e *Engine) notifyOffline() {
	e.mu.Lock()
	already := e.offlineNotified
	e.offlineNotified = true
	notify := e.cfg.Notify
	e.mu.Unlock()

	if already {
		return
	}
	if notify != nil {
		notify("working in offline mode")
		return
	}
	e.logger.Warn("remote unreachable, working in offline mode")
}
