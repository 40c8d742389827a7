// Package checkpoint persists a validator's window position so a restart
// resumes without re-requesting the entire blob history. This is
// liveness/position bookkeeping, not ledger persistence — spec §1's
// "Non-goals: persistent storage" scopes out durable entry/account
// history, not this narrower fact (see DESIGN.md's Open Question
// decisions).
package checkpoint

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("window")
var positionKey = []byte("next_index")

// Store is a bbolt-backed Checkpoint (internal/window.Checkpoint).
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) a bbolt database at path and ensures its
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the last saved index, or 0 if none was ever saved.
func (s *Store) Load() (uint64, error) {
	var idx uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(positionKey)
		if v == nil {
			return nil
		}
		idx = binary.BigEndian.Uint64(v)
		return nil
	})
	return idx, err
}

// Save records index as the window's next expected position (one past the
// last contiguously-emitted blob).
func (s *Store) Save(index uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], index)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(positionKey, v[:])
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
