// Package jobstore keeps terminal job snapshots in a bbolt database so the
// diagnostics endpoint can report recent work across daemon restarts.
package jobstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alecthomas/errors"
	"go.etcd.io/bbolt"

	"github.com/block/gitbridge/internal/jobs"
)

//nolint:gochecknoglobals
var jobsBucketName = []byte("jobs")

// MaxEntries bounds the retained history; putting a newer snapshot evicts
// the oldest beyond this.
const MaxEntries = 100

type Store struct {
	db *bbolt.DB
}

// Open creates or opens the job history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Errorf("failed to open job history database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucketName)
		return errors.WithStack(err)
	}); err != nil {
		return nil, errors.Join(errors.Errorf("failed to create jobs bucket: %w", err), db.Close())
	}
	return &Store{db: db}, nil
}

// storeKey orders snapshots by creation time; the id suffix keeps keys
// unique for jobs created in the same nanosecond.
func storeKey(snap jobs.Snapshot) []byte {
	return fmt.Appendf(nil, "%020d/%s", snap.CreatedAt.UnixNano(), snap.ID)
}

// Put records a terminal snapshot and prunes the oldest entries beyond
// MaxEntries in the same transaction.
func (s *Store) Put(snap jobs.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Errorf("failed to encode job snapshot: %w", err)
	}
	return errors.WithStack(s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(jobsBucketName)
		if err := bucket.Put(storeKey(snap), data); err != nil {
			return errors.WithStack(err)
		}
		count := 0
		if err := bucket.ForEach(func(_, _ []byte) error { count++; return nil }); err != nil {
			return errors.WithStack(err)
		}
		cursor := bucket.Cursor()
		for key, _ := cursor.First(); key != nil && count > MaxEntries; key, _ = cursor.First() {
			if err := cursor.Delete(); err != nil {
				return errors.WithStack(err)
			}
			count--
		}
		return nil
	}))
}

// Recent returns up to n snapshots, newest first.
func (s *Store) Recent(n int) ([]jobs.Snapshot, error) {
	var snaps []jobs.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(jobsBucketName).Cursor()
		for key, value := cursor.Last(); key != nil && len(snaps) < n; key, value = cursor.Prev() {
			var snap jobs.Snapshot
			if err := json.Unmarshal(value, &snap); err != nil {
				continue //nolint:nilerr // Skip corrupt entries.
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	return snaps, errors.WithStack(err)
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "close job history database")
}
