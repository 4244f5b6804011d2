package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samvad-hq/archive-probe/internal/status"
	bolt "go.etcd.io/bbolt"
)

const (
	resultBucket     = "results"
	expiryValueBytes = 8
)

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	resultTTL       time.Duration
	cleanupInterval time.Duration
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		resultTTL:       opts.ResultTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	store.lastCleanup.Store(time.Now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// LastResult returns the stored result for targetID, if present and not expired.
func (b *boltStore) LastResult(targetID string) (status.Result, bool, error) {
	if b == nil || b.db == nil {
		return status.Result{}, false, nil
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return status.Result{}, false, err
	}

	var (
		res   status.Result
		found bool
		stale bool
	)
	key := []byte(targetID)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucket))
		if bucket == nil {
			return fmt.Errorf("result bucket missing")
		}

		value := bucket.Get(key)
		if value == nil {
			return nil
		}

		expiry, payload, ok := decodeRecord(value)
		if !ok || !expiry.After(now) {
			stale = true
			return nil
		}
		if err := json.Unmarshal(payload, &res); err != nil {
			res = status.Result{}
			stale = true
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return status.Result{}, false, err
	}
	if stale {
		if err := b.deleteStale(key, now); err != nil {
			return status.Result{}, false, err
		}
	}
	return res, found, nil
}

// deleteStale removes key if it is still expired or malformed; a concurrent
// SaveResult may have replaced it since the read.
func (b *boltStore) deleteStale(key []byte, now time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucket))
		if bucket == nil {
			return fmt.Errorf("result bucket missing")
		}
		value := bucket.Get(key)
		if value == nil {
			return nil
		}
		expiry, payload, ok := decodeRecord(value)
		if ok && expiry.After(now) && json.Valid(payload) {
			return nil
		}
		return bucket.Delete(key)
	})
}

// SaveResult stores res as the latest result for its target.
func (b *boltStore) SaveResult(res status.Result) error {
	if b == nil || b.db == nil {
		return nil
	}
	if strings.TrimSpace(res.TargetID) == "" {
		return fmt.Errorf("result has no target id")
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucket))
		if bucket == nil {
			return fmt.Errorf("result bucket missing")
		}
		buf := make([]byte, expiryValueBytes, expiryValueBytes+len(payload))
		binary.BigEndian.PutUint64(buf, uint64(now.Add(b.resultTTL).Unix()))
		buf = append(buf, payload...)
		return bucket.Put([]byte(res.TargetID), buf)
	})
}

// maybeCleanupExpired removes expired results on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(resultBucket))
		if bucket == nil {
			return fmt.Errorf("result bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, _, ok := decodeRecord(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

// decodeRecord splits a stored value into its expiry and JSON payload.
func decodeRecord(value []byte) (time.Time, []byte, bool) {
	if len(value) <= expiryValueBytes {
		return time.Time{}, nil, false
	}
	unix := int64(binary.BigEndian.Uint64(value[:expiryValueBytes]))
	if unix <= 0 {
		return time.Time{}, nil, false
	}
	return time.Unix(unix, 0), value[expiryValueBytes:], true
}
