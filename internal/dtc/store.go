package dtc

import (
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var historyBucket = []byte("dtc_history")

// Record is the stored occurrence history for one trouble code.
type Record struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	LastStatus  Status    `json:"lastStatus"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	Count       int       `json:"count"`
}

// Store keeps per-code occurrence history in a bbolt file. Clearing the
// vehicle's codes does not touch the store; it is a log, not a mirror.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the history database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("dtc: open history %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dtc: init history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Observe records a sighting of each entry at the given time. A code
// seen before keeps its first-seen stamp and gains a count.
func (s *Store) Observe(entries []Entry, at time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket)
		for _, e := range entries {
			rec := Record{Code: e.Code, FirstSeen: at}
			if raw := b.Get([]byte(e.Code)); raw != nil {
				if err := cbor.Unmarshal(raw, &rec); err != nil {
					return fmt.Errorf("decode record %s: %w", e.Code, err)
				}
			}
			rec.Description = e.Description
			rec.LastStatus = e.Status
			rec.LastSeen = at
			rec.Count++
			raw, err := cbor.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", e.Code, err)
			}
			if err := b.Put([]byte(e.Code), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dtc: record history: %w", err)
	}
	return nil
}

// History returns every recorded code, most recently seen first.
func (s *Store) History() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(_, raw []byte) error {
			var rec Record
			if err := cbor.Unmarshal(raw, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dtc: read history: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}
