// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"context"
	"errors"
	"fmt"
)

// flusher pushes queued local mutations to the remote store, one at a
// time in queue order, with exponential backoff between failed
// attempts. Exhausting the attempt budget abandons the change and
// emits the offline notice; the optimistic local state is never rolled
// back.
func (e *Engine) flusher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		}
		if err := e.drainPending(ctx); err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				// No session: stay local-only, nothing to retry.
				e.logger.Debug("no session, remote writes skipped")
				continue
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// drainPending processes the queue head-first until it is empty or the
// context ends. Queue order is preserved across retries so a record's
// insert always reaches the server before its later edits.
func (e *Engine) drainPending(ctx context.Context) error {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return nil
		}
		ch := e.pending[0]
		e.mu.Unlock()

		err := e.pushChange(ctx, ch)
		switch {
		case err == nil:
			e.mu.Lock()
			if len(e.pending) > 0 && e.pending[0] == ch {
				e.pending = e.pending[1:]
			}
			e.offlineNotified = false
			e.mu.Unlock()

		case errors.Is(err, ErrUnauthenticated):
			return err

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			ch.attempts++
			if ch.attempts >= e.cfg.MaxAttempts {
				e.logger.Warn("abandoning remote write after retries",
					"op", ch.op, "local_id", ch.localID, "attempts", ch.attempts, "error", err)
				e.mu.Lock()
				if len(e.pending) > 0 && e.pending[0] == ch {
					e.pending = e.pending[1:]
				}
				e.mu.Unlock()
				e.notifyOffline()
				continue
			}
			delay := backoffDelay(e.cfg.BackoffMin, e.cfg.BackoffMax, ch.attempts-1)
			e.logger.Debug("remote write failed, backing off",
				"op", ch.op, "local_id", ch.localID, "attempt", ch.attempts, "delay", delay, "error", err)
			if err := sleepWithContext(ctx, delay); err != nil {
				return err
			}
		}
	}
}

// pushChange performs one remote attempt for a queued change, reading
// the record's current state at send time.
func (e *Engine) pushChange(ctx context.Context, ch *pendingChange) error {
	e.mu.Lock()
	var rec Record
	var ok bool
	if ch.op != opDelete {
		rec, ok = e.rec.Get(ch.localID)
	}
	remoteID := ch.remoteID
	e.mu.Unlock()

	switch ch.op {
	case opDelete:
		if remoteID == "" {
			return nil // never reached the server, nothing to delete
		}
		if err := e.remote.Delete(ctx, remoteID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil

	case opInsert:
		if !ok {
			return nil // deleted locally before the insert shipped
		}
		if rec.Synced() {
			// Acknowledged since it was queued; ship an update instead.
			return e.remote.Patch(ctx, rec.RemoteID, rec)
		}
		remoteID, err := e.remote.Insert(ctx, rec)
		if err != nil {
			return err
		}
		e.reconcileIDs(map[string]string{rec.LocalID: remoteID})
		e.handleVanishedAfterInsert(rec.LocalID, remoteID)
		return nil

	case opPatch:
		if !ok {
			return nil
		}
		if !rec.Synced() {
			remoteID, err := e.remote.Insert(ctx, rec)
			if err != nil {
				return err
			}
			e.reconcileIDs(map[string]string{rec.LocalID: remoteID})
			e.handleVanishedAfterInsert(rec.LocalID, remoteID)
			return nil
		}
		return e.remote.Patch(ctx, rec.RemoteID, rec)

	default:
		return fmt.Errorf("unknown pending op %q", ch.op)
	}
}

// handleVanishedAfterInsert covers the interleaving where a record was
// soft-deleted while its insert was in flight: the server now has a
// row the user already removed, so queue its deletion.
func (e *Engine) handleVanishedAfterInsert(localID, remoteID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, active := e.rec.active[localID]; active {
		return
	}
	e.pending = append(e.pending, &pendingChange{op: opDelete, localID: localID, remoteID: remoteID})
}

// subscribeLoop consumes the realtime feed and feeds the reconciler,
// restarting the subscription with backoff after disconnects. Each
// delivered value, including the initial "connected, no rows yet"
// empty snapshot, counts as live data.
func (e *Engine) subscribeLoop(ctx context.Context) {
	backoff := e.cfg.BackoffMin
	for ctx.Err() == nil {
		sub, err := e.remote.Subscribe(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				e.logger.Debug("no session, realtime feed skipped")
				return
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Debug("subscribe failed, backing off", "delay", backoff, "error", err)
			if sleepWithContext(ctx, backoff) != nil {
				return
			}
			backoff *= 2
			if backoff > e.cfg.BackoffMax {
				backoff = e.cfg.BackoffMax
			}
			continue
		}

		backoff = e.cfg.BackoffMin
		for items := range sub.Updates() {
			e.applyRemote(items)
		}
		_ = sub.Close()
		if err := sub.Err(); err != nil && ctx.Err() == nil {
			e.logger.Debug("realtime feed ended, reconnecting", "error", err)
		}
		if sleepWithContext(ctx, backoff) != nil {
			return
		}
	}
}

// SyncOnce pushes every queued local mutation and performs a single
// queryAll merge. It is the one-shot alternative to Start for
// short-lived callers such as CLIs. ErrUnauthenticated means the
// session is local-only; local state is untouched.
func (e *Engine) SyncOnce(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if e.remote == nil {
		return ErrUnauthenticated
	}
	if err := e.drainPending(ctx); err != nil {
		return err
	}
	items, err := e.remote.QueryAll(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cachePrimed = true
	e.rec.MergeRemote(items)
	e.mu.Unlock()
	return nil
}
