// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"context"
	"errors"
)

// Errors the engine distinguishes when talking to the remote store.
var (
	// ErrUnauthenticated means there is no usable session. The engine
	// treats it as "operate local-only": nothing is retried, nothing is
	// surfaced to the user.
	ErrUnauthenticated = errors.New("localsync: not authenticated")

	// ErrNotFound is returned for operations on a record the remote
	// store does not know.
	ErrNotFound = errors.New("localsync: record not found")

	// ErrClosed is returned from operations on an engine that has been
	// closed.
	ErrClosed = errors.New("localsync: engine closed")
)

// RemoteStore is the contract the engine expects from the authoritative
// remote store. It is consumed, not specified: any backend that can
// answer these five calls plugs in.
type RemoteStore interface {
	// QueryAll returns every record owned by the current session.
	QueryAll(ctx context.Context) ([]Record, error)

	// Insert creates a record remotely and returns the server-issued
	// identifier.
	Insert(ctx context.Context, rec Record) (remoteID string, err error)

	// Patch overwrites the remote record's fields.
	Patch(ctx context.Context, remoteID string, rec Record) error

	// Delete removes the remote record. Deleting an already-absent
	// record is not an error.
	Delete(ctx context.Context, remoteID string) error

	// Subscribe opens the realtime feed. The feed re-delivers the full
	// QueryAll result on every change, starting with an initial value
	// as soon as the subscription is established (an empty slice means
	// "connected, no rows yet", which is distinct from not yet
	// connected). The subscription ends when its channel closes, which
	// must also happen when ctx ends; the engine restarts it with
	// backoff.
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is a cancellable realtime feed of full record
// snapshots, delivered in order.
type Subscription interface {
	// Updates yields full snapshots until the subscription ends.
	Updates() <-chan []Record

	// Err reports why the subscription ended, nil on clean close.
	Err() error

	// Close tears the subscription down and closes the Updates channel.
	Close() error
}
