// Package bolt records which generations were completely persisted, so that a
// booting process only trusts index files written by a finished save.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cheeseformice/ranking/kit/platform/errors"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// ErrUnableToOpen means the manifest file could not be opened or created.
const ErrUnableToOpen = "unable to open manifest; is another rankingd already running? %v"

var manifestBucket = []byte("generationsv1")

// Record describes the last generation of a table whose series were all saved.
type Record struct {
	Generation uint64         `json:"generation"`
	Stride     int            `json:"stride"`
	Samples    map[string]int `json:"samples"`
	BuiltAt    time.Time      `json:"built_at"`
	SavedAt    time.Time      `json:"saved_at"`

	// Checksums holds the xxhash of every saved stat file.
	Checksums map[string]uint64 `json:"checksums,omitempty"`
}

// Stats returns the recorded stats in sorted order.
func (r Record) Stats() []string {
	stats := make([]string, 0, len(r.Samples))
	for stat := range r.Samples {
		stats = append(stats, stat)
	}
	sort.Strings(stats)
	return stats
}

// Covers reports whether the record was saved with stride and exactly stats.
func (r Record) Covers(stride int, stats []string) bool {
	if r.Stride != stride || len(r.Samples) != len(stats) {
		return false
	}
	for _, stat := range stats {
		if _, ok := r.Samples[stat]; !ok {
			return false
		}
	}
	return true
}

// Manifest is a bbolt backed store of Records keyed by table name. Calls
// made before Open or after Close fail as unavailable.
type Manifest struct {
	Path string

	mu  sync.RWMutex
	db  *bolt.DB
	log *zap.Logger
}

// NewManifest returns a manifest stored at path. Open must be called before use.
func NewManifest(path string, log *zap.Logger) *Manifest {
	return &Manifest{Path: path, log: log}
}

// Open creates or opens the manifest file.
func (m *Manifest) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(m.Path), 0700); err != nil {
		return fmt.Errorf("unable to create directory %s: %v", m.Path, err)
	}

	db, err := bolt.Open(m.Path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf(ErrUnableToOpen, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	}); err != nil {
		db.Close()
		return fmt.Errorf("unable to initialize manifest: %v", err)
	}
	m.mu.Lock()
	m.db = db
	m.mu.Unlock()

	m.log.Info("Resources opened", zap.String("path", m.Path))
	return nil
}

// Close the connection to the bolt database.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}

// Get returns the record of table. The bool is false if none exists.
func (m *Manifest) Get(table string) (Record, bool, error) {
	const op = "bolt.Get"

	var (
		rec Record
		ok  bool
	)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return Record{}, false, errClosed(op)
	}
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(manifestBucket).Get([]byte(table))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return Record{}, false, errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("read manifest of %s", table))
	}
	return rec, ok, nil
}

// Put stores the record of table, replacing any previous one.
func (m *Manifest) Put(table string, rec Record) error {
	const op = "bolt.Put"

	v, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.EInternal, op, "encode manifest record")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return errClosed(op)
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Put([]byte(table), v)
	})
	return errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("write manifest of %s", table))
}

// Delete removes the record of table. Deleting a missing record is not an error.
func (m *Manifest) Delete(table string) error {
	const op = "bolt.Delete"

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return errClosed(op)
	}
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(manifestBucket).Delete([]byte(table))
	})
	return errors.Wrap(err, errors.EPersistenceFailure, op, fmt.Sprintf("delete manifest of %s", table))
}

func errClosed(op string) error {
	return errors.Errorf(errors.EUnavailable, op, "manifest is not open")
}
