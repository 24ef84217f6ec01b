// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"errors"

	"github.com/pocketsuite/localsync/localsync"
)

// ErrNotFound is returned for operations on a record the store does
// not hold for that user.
var ErrNotFound = errors.New("syncserver: record not found")

// Storage is the persistence contract behind the record API. Keeping
// it an interface lets the HTTP handlers be exercised against an
// in-memory implementation in tests while production runs on Postgres.
type Storage interface {
	// QueryAll returns every record owned by userID.
	QueryAll(ctx context.Context, userID string) ([]localsync.Record, error)

	// Insert stores a new record and returns its server-issued id.
	Insert(ctx context.Context, userID string, rec localsync.Record) (string, error)

	// Patch overwrites an existing record's document.
	Patch(ctx context.Context, userID, id string, rec localsync.Record) error

	// Delete removes a record. ErrNotFound if it was never there.
	Delete(ctx context.Context, userID, id string) error
}
