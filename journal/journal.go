// Package journal persists reconciliation decisions in a BBolt database.
// Every authority and leaf decision of every run is appended, so the
// history of what was reused, regenerated, or rejected survives the
// process.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/certward/internal/uuid"
)

var bucketEntries = []byte("entries")

// keyTimeFormat is fixed-width so that byte order of keys matches time
// order. RFC3339Nano trims trailing zeros and would not sort correctly.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// EntryKind discriminates what a journal entry describes.
type EntryKind string

const (
	// KindAuthority marks a root CA decision.
	KindAuthority EntryKind = "authority"

	// KindLeaf marks a server certificate decision.
	KindLeaf EntryKind = "leaf"
)

// Entry is one reconciliation decision.
type Entry struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Time        time.Time `json:"time"`
	Kind        EntryKind `json:"kind"`
	Name        string    `json:"name"`
	Outcome     string    `json:"outcome"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Serial      string    `json:"serial,omitempty"`
	NotAfter    time.Time `json:"not_after,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Journal is an append-only decision log backed by a BBolt database.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal database at the given path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one decision. A zero ID or Time is filled in.
func (j *Journal) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}
	key := entry.Time.UTC().Format(keyTimeFormat) + ":" + entry.ID
	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Recent returns up to n entries, newest first. Entries that no longer
// decode are skipped.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
