package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/config"
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
)

const testListingHTML = `<!DOCTYPE html>
<html><body>
<div class="r-ent">
  <div class="title"><a href="/bbs/Tech_Job/M.1756300000.A.html">[徵才] Golang 後端工程師</a></div>
  <div class="meta"><div class="author">alice</div><div class="date"> 8/27</div></div>
</div>
<div class="r-ent">
  <div class="title"><a href="/bbs/Tech_Job/M.1756300001.A.html">[請益] 面試心得</a></div>
  <div class="meta"><div class="author">bob</div><div class="date"> 8/27</div></div>
</div>
</body></html>`

// boardAndBotServer serves both the board listing and the bot API from one
// httptest server, capturing delivered texts.
type boardAndBotServer struct {
	srv       *httptest.Server
	mu        sync.Mutex
	listDelay time.Duration
	listHits  int
	sentTexts []string
}

func newBoardAndBotServer(t *testing.T) *boardAndBotServer {
	t.Helper()
	s := &boardAndBotServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/bbs/", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.listHits++
		delay := s.listDelay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		fmt.Fprint(w, testListingHTML)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			var req struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			s.mu.Lock()
			s.sentTexts = append(s.sentTexts, req.Text)
			s.mu.Unlock()
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *boardAndBotServer) hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listHits
}

func (s *boardAndBotServer) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentTexts...)
}

func writeTestWatches(t *testing.T, keywords string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watches.yaml")
	raw := fmt.Sprintf(`
watches:
  - id: tech
    name: Tech board
    board: Tech_Job
    post_count: 10
    keywords: [%s]
    chat_id: "12345"
    schedule:
      type: hourly
`, keywords)
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write watches: %v", err)
	}
	return path
}

func newTestCourier(t *testing.T, srv *boardAndBotServer, watchesFile string) *Courier {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123456:ABC-def_ghi")

	cfg := &config.Config{
		WatchesFile:            watchesFile,
		TickInterval:           time.Minute,
		HTTPTimeout:            5 * time.Second,
		BoardBaseURL:           srv.srv.URL,
		TelegramAPIHost:        srv.srv.URL,
		BotTokenSource:         "env",
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(t.TempDir(), "cache.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
	}

	courier, err := NewCourier(context.Background(), cfg, &logger.NopLogger{})
	if err != nil {
		t.Fatalf("NewCourier: %v", err)
	}
	t.Cleanup(courier.close)
	return courier
}

func TestCourierDeliversMatchedEntries(t *testing.T) {
	srv := newBoardAndBotServer(t)
	courier := newTestCourier(t, srv, writeTestWatches(t, "golang"))

	courier.runDue(context.Background())

	if srv.hits() == 0 {
		t.Fatal("board listing was never fetched")
	}
	texts := srv.texts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "Golang") {
		t.Fatalf("delivered message missing matched title: %q", texts[0])
	}

	last, ok, err := courier.store.LastExecution("tech")
	if err != nil || !ok {
		t.Fatalf("LastExecution: ok=%v err=%v", ok, err)
	}
	if last.Status != "success" || last.EntriesSent != 1 {
		t.Fatalf("unexpected record %+v", last)
	}
}

func TestCourierSkipsAlreadyDeliveredEntries(t *testing.T) {
	srv := newBoardAndBotServer(t)
	courier := newTestCourier(t, srv, writeTestWatches(t, "golang"))

	courier.runDue(context.Background())
	// Force the schedule due again and rerun; the entry is already marked.
	courier.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	courier.runDue(context.Background())

	// The second pass finds nothing new and stays silent.
	texts := srv.texts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 message across both runs, got %d", len(texts))
	}
	if !strings.Contains(texts[0], "Golang") {
		t.Fatalf("delivered message missing matched title: %q", texts[0])
	}

	last, ok, err := courier.store.LastExecution("tech")
	if err != nil || !ok {
		t.Fatalf("LastExecution: ok=%v err=%v", ok, err)
	}
	if last.Status != "no_matches" {
		t.Fatalf("second run status = %q, want no_matches", last.Status)
	}
}

func TestCourierRespectsSchedule(t *testing.T) {
	srv := newBoardAndBotServer(t)
	courier := newTestCourier(t, srv, writeTestWatches(t, "golang"))

	courier.runDue(context.Background())
	hits := srv.hits()

	// Not due again within the hour.
	courier.runDue(context.Background())
	if srv.hits() != hits {
		t.Fatalf("watch ran again before its schedule was due")
	}
}

func TestCourierSkipsOverlappingTicks(t *testing.T) {
	srv := newBoardAndBotServer(t)
	srv.listDelay = 300 * time.Millisecond
	courier := newTestCourier(t, srv, writeTestWatches(t, "golang"))

	// Two activations racing while the listing fetch is slow. Only one may
	// deliver; the loser must bail out before re-fetching unmarked entries.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			courier.runDue(context.Background())
		}()
	}
	wg.Wait()

	texts := srv.texts()
	if len(texts) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(texts))
	}
	recs, err := courier.store.RecentExecutions("tech", 10)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 execution record, got %d", len(recs))
	}
}

func TestCourierRecordsFetchErrors(t *testing.T) {
	srv := newBoardAndBotServer(t)
	watches := writeTestWatches(t, "golang")
	courier := newTestCourier(t, srv, watches)
	srv.srv.Close()

	courier.runDue(context.Background())

	last, ok, err := courier.store.LastExecution("tech")
	if err != nil || !ok {
		t.Fatalf("LastExecution: ok=%v err=%v", ok, err)
	}
	if last.Status != "error" || last.ErrorMessage == "" {
		t.Fatalf("expected error record, got %+v", last)
	}
}
