// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pocketsuite/localsync/localsync"
)

// PGStorage is the Postgres-backed Storage. Records are stored as the
// client's own JSON documents keyed by a server-issued UUID; the
// document is what the engine round-trips, the columns exist for
// ownership and ordering.
type PGStorage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStorage initializes the schema and returns a storage over pool.
func NewPGStorage(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStorage{pool: pool, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// initializeSchema creates the required tables if they don't exist.
func (s *PGStorage) initializeSchema(ctx context.Context) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS localsync`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS localsync.records (
			id         UUID        PRIMARY KEY,
			user_id    TEXT        NOT NULL,
			doc        JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS records_user_idx
			ON localsync.records (user_id, updated_at)`,
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		return nil
	})
}

func (s *PGStorage) QueryAll(ctx context.Context, userID string) ([]localsync.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doc FROM localsync.records
		WHERE user_id = $1
		ORDER BY updated_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []localsync.Record{}
	for rows.Next() {
		var id uuid.UUID
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec localsync.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			s.logger.Warn("skipping undecodable record", "id", id, "error", err)
			continue
		}
		// The column is authoritative for identity.
		rec.RemoteID = id.String()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PGStorage) Insert(ctx context.Context, userID string, rec localsync.Record) (string, error) {
	id := uuid.New()
	rec.RemoteID = id.String()
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO localsync.records (id, user_id, doc, updated_at)
		VALUES ($1, $2, $3, now())
	`, id, userID, doc)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id.String(), nil
}

func (s *PGStorage) Patch(ctx context.Context, userID, id string, rec localsync.Record) error {
	recID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	rec.RemoteID = recID.String()
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE localsync.records SET doc = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, recID, userID, doc)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStorage) Delete(ctx context.Context, userID, id string) error {
	recID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM localsync.records WHERE id = $1 AND user_id = $2
	`, recID, userID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
