// Copyright 2026 Pocketsuite Authors
// SPDX-License-Identifier: Apache-2.0

package localsync

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketTrash   = []byte("trash")
	bucketMeta    = []byte("meta")

	metaKeySnapshot = []byte("snapshot")
	metaKeyOpen     = []byte("open_record")
)

// BoltStore is a bbolt-backed Store. Records and trash entries live in
// their own buckets keyed by LocalID; the snapshot envelope and the
// open-record pointer live in a meta bucket. Entries that fail to
// decode are skipped and logged, never surfaced as load errors.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketTrash, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) LoadRecords() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skipping malformed record", "key", string(k), "error", err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}

func (s *BoltStore) SaveRecords(records []Record) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketRecords); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return err
		}
		for i := range records {
			data, err := json.Marshal(&records[i])
			if err != nil {
				return err
			}
			if err := b.Put([]byte(records[i].LocalID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

func (s *BoltStore) LoadTrash() ([]DeletedRecord, error) {
	var entries []DeletedRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTrash)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry DeletedRecord
			if err := json.Unmarshal(v, &entry); err != nil {
				s.logger.Warn("skipping malformed trash entry", "key", string(k), "error", err)
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load trash: %w", err)
	}
	return entries, nil
}

func (s *BoltStore) SaveTrash(entries []DeletedRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketTrash); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketTrash)
		if err != nil {
			return err
		}
		for i := range entries {
			data, err := json.Marshal(&entries[i])
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entries[i].Record.LocalID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save trash: %w", err)
	}
	return nil
}

func (s *BoltStore) LoadSnapshot() (*Snapshot, error) {
	var snap *Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		data := b.Get(metaKeySnapshot)
		if data == nil {
			return nil
		}
		var decoded Snapshot
		if err := json.Unmarshal(data, &decoded); err != nil {
			s.logger.Warn("discarding malformed snapshot", "error", err)
			return nil
		}
		snap = &decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *BoltStore) SaveSnapshot(snap *Snapshot) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if snap == nil {
			return b.Delete(metaKeySnapshot)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put(metaKeySnapshot, data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *BoltStore) LoadOpenRecord() (string, error) {
	var key string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		key = string(b.Get(metaKeyOpen))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("load open record: %w", err)
	}
	return key, nil
}

func (s *BoltStore) SaveOpenRecord(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if key == "" {
			return b.Delete(metaKeyOpen)
		}
		return b.Put(metaKeyOpen, []byte(key))
	})
	if err != nil {
		return fmt.Errorf("save open record: %w", err)
	}
	return nil
}

func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketTrash, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
