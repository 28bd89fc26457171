package models

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshot = []byte("snapshot")

	keyLibrary  = []byte("library_snapshot")
	keyLastSync = []byte("last_sync")
)

// Database is the local, process-durable copy of the last known-good library
// snapshot. It is backed by a bbolt file; an empty path keeps it in memory.
type Database struct {
	db *bolt.DB

	mu       sync.RWMutex
	memory   []byte // memory-only mode
	lastSync time.Time
}

// NewDatabase opens (or creates) the snapshot database at path
func NewDatabase(path string) (*Database, error) {
	if path == "" {
		return &Database{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshot)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot bucket: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot with items
func (d *Database) SaveSnapshot(_ context.Context, items []LibraryItem) error {
	if items == nil {
		items = []LibraryItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	now := time.Now().UTC()

	if d.db == nil {
		d.mu.Lock()
		d.memory = data
		d.lastSync = now
		d.mu.Unlock()
		return nil
	}

	stamp, err := now.MarshalText()
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		if err := b.Put(keyLibrary, data); err != nil {
			return err
		}
		return b.Put(keyLastSync, stamp)
	})
}

// LoadSnapshot returns the stored snapshot, or an empty list when nothing was
// ever saved.
func (d *Database) LoadSnapshot(_ context.Context) ([]LibraryItem, error) {
	var data []byte

	if d.db == nil {
		d.mu.RLock()
		data = d.memory
		d.mu.RUnlock()
	} else {
		err := d.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketSnapshot).Get(keyLibrary); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
			}
			return nil
		})
		if err != nil {
			return []LibraryItem{}, fmt.Errorf("failed to read snapshot: %w", err)
		}
	}

	if len(data) == 0 {
		return []LibraryItem{}, nil
	}

	var items []LibraryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return []LibraryItem{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return items, nil
}

// LastSaved returns when the snapshot was last written, zero if never
func (d *Database) LastSaved() time.Time {
	if d.db == nil {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.lastSync
	}

	var t time.Time
	d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSnapshot).Get(keyLastSync); v != nil {
			return t.UnmarshalText(v)
		}
		return nil
	})
	return t
}
