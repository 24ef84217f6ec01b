// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import "sync"

// Store is the on-device persistence layer behind the engine. Each
// logical key holds a self-describing JSON document: the active record
// set, the soft-delete holding area, the last-known-good snapshot and
// the open-record pointer.
//
// Implementations treat absent or malformed data as empty, never as an
// error the UI has to handle; the engine logs write failures and keeps
// going with in-memory state, so persistence is best-effort by
// contract.
type Store interface {
	LoadRecords() ([]Record, error)
	SaveRecords(records []Record) error

	LoadTrash() ([]DeletedRecord, error)
	SaveTrash(entries []DeletedRecord) error

	LoadSnapshot() (*Snapshot, error)
	SaveSnapshot(snap *Snapshot) error

	LoadOpenRecord() (string, error)
	SaveOpenRecord(key string) error

	// Clear removes all persisted state.
	Clear() error

	Close() error
}

// MemoryStore is a map-backed Store for tests and throwaway sessions.
type MemoryStore struct {
	mu       sync.Mutex
	records  []Record
	trash    []DeletedRecord
	snapshot *Snapshot
	open     string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadRecords() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryStore) SaveRecords(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make([]Record, len(records))
	copy(m.records, records)
	return nil
}

func (m *MemoryStore) LoadTrash() ([]DeletedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeletedRecord, len(m.trash))
	copy(out, m.trash)
	return out, nil
}

func (m *MemoryStore) SaveTrash(entries []DeletedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trash = make([]DeletedRecord, len(entries))
	copy(m.trash, entries)
	return nil
}

func (m *MemoryStore) LoadSnapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, nil
	}
	snap := *m.snapshot
	snap.Items = make([]Record, len(m.snapshot.Items))
	copy(snap.Items, m.snapshot.Items)
	return &snap, nil
}

func (m *MemoryStore) SaveSnapshot(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap == nil {
		m.snapshot = nil
		return nil
	}
	cp := *snap
	cp.Items = make([]Record, len(snap.Items))
	copy(cp.Items, snap.Items)
	m.snapshot = &cp
	return nil
}

func (m *MemoryStore) LoadOpenRecord() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, nil
}

func (m *MemoryStore) SaveOpenRecord(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = key
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.trash = nil
	m.snapshot = nil
	m.open = ""
	return nil
}

func (m *MemoryStore) Close() error { return nil }
