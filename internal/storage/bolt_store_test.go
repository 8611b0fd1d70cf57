package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

func TestBoltStoreMarksAndExpiresEntries(t *testing.T) {
	dir := t.TempDir()
	opts := normalizeOptions(Options{
		EntryTTL:        1 * time.Second,
		CleanupInterval: 1 * time.Second,
	})

	storeRaw, err := openBolt(dir+"/cache.db", opts)
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	defer store.Close()

	seen, err := store.SeenEntry("id1")
	if err != nil || seen {
		t.Fatalf("expected unseen entry, seen=%v err=%v", seen, err)
	}

	if err := store.MarkEntry("id1"); err != nil {
		t.Fatalf("MarkEntry: %v", err)
	}

	seen, err = store.SeenEntry("id1")
	if err != nil || !seen {
		t.Fatalf("expected entry marked as seen, got seen=%v err=%v", seen, err)
	}

	// Fast-forward cleanup cadence and trigger expiry.
	store.lastCleanup.Store(time.Now().Add(-2 * time.Second).Unix())
	time.Sleep(1100 * time.Millisecond)

	seen, err = store.SeenEntry("id1")
	if err != nil {
		t.Fatalf("SeenEntry after expiry: %v", err)
	}
	if seen {
		t.Fatalf("expected entry to expire and be removed")
	}
}

func TestBoltStoreExecutionHistory(t *testing.T) {
	storeRaw, err := openBolt(t.TempDir()+"/cache.db", normalizeOptions(Options{MaxExecutions: 3}))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	defer store.Close()

	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := domain.ExecutionRecord{
			WatchID:      "tech-digest",
			ExecutedAt:   base.Add(time.Duration(i) * time.Minute),
			Status:       domain.StatusSuccess,
			EntriesFound: i,
		}
		if err := store.RecordExecution(rec); err != nil {
			t.Fatalf("RecordExecution %d: %v", i, err)
		}
	}
	// A second watch must not bleed into tech-digest history.
	other := domain.ExecutionRecord{
		WatchID:    "stock-ticker",
		ExecutedAt: base,
		Status:     domain.StatusError,
	}
	if err := store.RecordExecution(other); err != nil {
		t.Fatalf("RecordExecution other: %v", err)
	}

	records, err := store.RecentExecutions("tech-digest", 10)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected history pruned to 3 records, got %d", len(records))
	}
	if records[0].EntriesFound != 4 || records[2].EntriesFound != 2 {
		t.Fatalf("expected newest-first ordering with oldest pruned, got %+v", records)
	}

	last, ok, err := store.LastExecution("tech-digest")
	if err != nil || !ok {
		t.Fatalf("LastExecution: ok=%v err=%v", ok, err)
	}
	if !last.ExecutedAt.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("unexpected last execution time %v", last.ExecutedAt)
	}

	if _, ok, err := store.LastExecution("missing-watch"); err != nil || ok {
		t.Fatalf("expected no record for unknown watch, ok=%v err=%v", ok, err)
	}
}

func TestBoltStoreRejectsRecordWithoutWatchID(t *testing.T) {
	storeRaw, err := openBolt(t.TempDir()+"/cache.db", normalizeOptions(Options{}))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer storeRaw.Close()

	if err := storeRaw.RecordExecution(domain.ExecutionRecord{}); err == nil {
		t.Fatal("expected error for record without watch id")
	}
}

func TestNewStoreSupportsNoop(t *testing.T) {
	store, err := NewStore("none", "", Options{})
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.MarkEntry("x"); err != nil {
		t.Fatalf("noop store MarkEntry: %v", err)
	}
	if err := store.RecordExecution(domain.ExecutionRecord{WatchID: "x"}); err != nil {
		t.Fatalf("noop store RecordExecution: %v", err)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("postgres", "", Options{}); err == nil {
		t.Fatal("expected error for unsupported storage type")
	}
}

func TestExecutionKeysSortChronologically(t *testing.T) {
	base := time.Now()
	prev := ""
	for i := 0; i < 4; i++ {
		key := string(executionKey("w", base.Add(time.Duration(i)*time.Second)))
		if key <= prev {
			t.Fatalf("keys not monotonic: %q then %q", prev, key)
		}
		prev = key
	}
	if want := fmt.Sprintf("w%s", executionKeySep); prev[:len(want)] != want {
		t.Fatalf("key missing watch prefix: %q", prev)
	}
}
