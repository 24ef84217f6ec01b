// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed Store. All logical keys live in a
// single key/value table of JSON documents, so save() stays a single
// overwriting write per key exactly like the bbolt implementation.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex // serialize writes to avoid SQLITE_BUSY churn
}

const (
	stateKeyRecords  = "records"
	stateKeyTrash    = "trash"
	stateKeySnapshot = "snapshot"
	stateKeyOpen     = "open_record"
)

// OpenSQLiteStore opens (creating if needed) the SQLite database at
// path. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if err := initializeLocalState(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// initializeLocalState applies pragmas and creates the state table.
func initializeLocalState(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _local_state (
			key        TEXT PRIMARY KEY,
			doc        TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("create _local_state table: %w", err)
	}
	return nil
}

// loadDoc reads one logical key into out. Missing rows and malformed
// documents both leave out untouched, they are not errors.
func (s *SQLiteStore) loadDoc(key string, out any) error {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM _local_state WHERE key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		s.logger.Warn("discarding malformed document", "key", key, "error", err)
	}
	return nil
}

func (s *SQLiteStore) saveDoc(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO _local_state (key, doc, updated_at) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadRecords() ([]Record, error) {
	var records []Record
	if err := s.loadDoc(stateKeyRecords, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteStore) SaveRecords(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	return s.saveDoc(stateKeyRecords, records)
}

func (s *SQLiteStore) LoadTrash() ([]DeletedRecord, error) {
	var entries []DeletedRecord
	if err := s.loadDoc(stateKeyTrash, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) SaveTrash(entries []DeletedRecord) error {
	if entries == nil {
		entries = []DeletedRecord{}
	}
	return s.saveDoc(stateKeyTrash, entries)
}

func (s *SQLiteStore) LoadSnapshot() (*Snapshot, error) {
	var snap Snapshot
	if err := s.loadDoc(stateKeySnapshot, &snap); err != nil {
		return nil, err
	}
	if snap.CapturedAt == 0 {
		return nil, nil
	}
	return &snap, nil
}

func (s *SQLiteStore) SaveSnapshot(snap *Snapshot) error {
	if snap == nil {
		return s.deleteDoc(stateKeySnapshot)
	}
	return s.saveDoc(stateKeySnapshot, snap)
}

func (s *SQLiteStore) LoadOpenRecord() (string, error) {
	var key string
	if err := s.loadDoc(stateKeyOpen, &key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *SQLiteStore) SaveOpenRecord(key string) error {
	if key == "" {
		return s.deleteDoc(stateKeyOpen)
	}
	return s.saveDoc(stateKeyOpen, key)
}

func (s *SQLiteStore) deleteDoc(key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM _local_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM _local_state`); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
