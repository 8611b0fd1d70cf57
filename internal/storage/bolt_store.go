package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

const (
	entryBucket      = "entries"
	executionBucket  = "executions"
	expiryValueBytes = 8
	executionKeySep  = "|"
)

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	entryTTL        time.Duration
	cleanupInterval time.Duration
	maxExecutions   int
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
		for _, name := range []string{entryBucket, executionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	store := &boltStore{
		db:              db,
		entryTTL:        opts.EntryTTL,
		cleanupInterval: opts.CleanupInterval,
		maxExecutions:   opts.MaxExecutions,
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

// SeenEntry checks if an entry with the given ID has been delivered before.
func (b *boltStore) SeenEntry(id string) (bool, error) {
	if b == nil || b.db == nil {
		return false, nil
	}

	if err := b.maybeCleanupExpired(time.Now()); err != nil {
		return false, err
	}

	var exists bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("entry bucket missing")
		}

		key := []byte(id)
		value := bucket.Get(key)
		if value == nil {
			exists = false
			return nil
		}

		expiry, ok := decodeExpiry(value)
		if !ok || !expiry.After(time.Now()) {
			exists = false
			return bucket.Delete(key)
		}

		exists = true
		return nil
	})
	return exists, err
}

// MarkEntry marks an entry with the given ID as delivered.
func (b *boltStore) MarkEntry(id string) error {
	if b == nil || b.db == nil {
		return nil
	}

	now := time.Now()
	if err := b.maybeCleanupExpired(now); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("entry bucket missing")
		}
		buf := make([]byte, expiryValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(b.entryTTL).Unix()))
		return bucket.Put([]byte(id), buf)
	})
}

// RecordExecution appends an execution record and prunes history beyond the
// per-watch cap. Keys sort chronologically so the cursor walks oldest first.
func (b *boltStore) RecordExecution(rec domain.ExecutionRecord) error {
	if b == nil || b.db == nil {
		return nil
	}
	if strings.TrimSpace(rec.WatchID) == "" {
		return fmt.Errorf("execution record requires a watch id")
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(executionBucket))
		if bucket == nil {
			return fmt.Errorf("execution bucket missing")
		}
		if err := bucket.Put(executionKey(rec.WatchID, rec.ExecutedAt), payload); err != nil {
			return err
		}
		return pruneExecutions(bucket, rec.WatchID, b.maxExecutions)
	})
}

// LastExecution returns the most recent execution record for a watch.
func (b *boltStore) LastExecution(watchID string) (domain.ExecutionRecord, bool, error) {
	records, err := b.RecentExecutions(watchID, 1)
	if err != nil || len(records) == 0 {
		return domain.ExecutionRecord{}, false, err
	}
	return records[0], true, nil
}

// RecentExecutions returns up to limit execution records for a watch, newest first.
func (b *boltStore) RecentExecutions(watchID string, limit int) ([]domain.ExecutionRecord, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = b.maxExecutions
	}

	prefix := executionPrefix(watchID)
	var records []domain.ExecutionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(executionBucket))
		if bucket == nil {
			return fmt.Errorf("execution bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var rec domain.ExecutionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stored oldest first; callers want newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func executionKey(watchID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s%020d", watchID, executionKeySep, at.UnixNano()))
}

func executionPrefix(watchID string) []byte {
	return []byte(watchID + executionKeySep)
}

// pruneExecutions deletes the oldest records for a watch beyond the cap.
func pruneExecutions(bucket *bolt.Bucket, watchID string, max int) error {
	if max <= 0 {
		return nil
	}

	prefix := executionPrefix(watchID)
	count := 0
	cursor := bucket.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		count++
	}

	excess := count - max
	if excess <= 0 {
		return nil
	}

	cursor = bucket.Cursor()
	for k, _ := cursor.Seek(prefix); k != nil && excess > 0 && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		if err := cursor.Delete(); err != nil {
			return err
		}
		excess--
	}
	return nil
}

// maybeCleanupExpired removes expired entry hashes on a fixed cadence to avoid unbounded growth.
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
		bucket := tx.Bucket([]byte(entryBucket))
		if bucket == nil {
			return fmt.Errorf("entry bucket missing")
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
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

// decodeExpiry decodes the expiry time from the stored byte slice.
func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) != expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
