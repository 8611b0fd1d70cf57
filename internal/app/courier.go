package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/boardwatch-hq/ptt-board-courier/internal/config"
	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/internal/observe"
	"github.com/boardwatch-hq/ptt-board-courier/internal/ptt"
	"github.com/boardwatch-hq/ptt-board-courier/internal/secrets"
	"github.com/boardwatch-hq/ptt-board-courier/internal/storage"
	"github.com/boardwatch-hq/ptt-board-courier/internal/telegram"
	"github.com/boardwatch-hq/ptt-board-courier/internal/watch"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/httpclient"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/publishers"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/resilience"
)

const (
	opFetch   = "ptt_fetch"
	opDeliver = "telegram_deliver"
)

// Courier represents the board-watch runtime. It drives the schedule tick,
// coordinating between the watch registry, the board fetcher, the Telegram
// delivery client, and the mirror fanout. It also handles storage
// initialization and cleanup.
type Courier struct {
	cfg      *config.Config
	watchReg *watch.Registry
	fetcher  *ptt.Fetcher
	deliver  *telegram.Client
	fanout   *publishers.Fanout
	recovery *resilience.Recovery
	store    storage.Store
	metrics  observe.Metrics
	tick     time.Duration
	log      logger.Logger
	now      func() time.Time
	inFlight atomic.Bool
}

// NewCourier builds a courier runtime from config files.
func NewCourier(ctx context.Context, cfg *config.Config, log logger.Logger) (*Courier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	watchReg, err := watch.LoadRegistry(cfg.WatchesFile)
	if err != nil {
		return nil, fmt.Errorf("load watch registry: %w", err)
	}
	watchList := watchReg.Enabled()
	watchIDs := make([]string, 0, len(watchList))
	for _, w := range watchList {
		watchIDs = append(watchIDs, w.ID)
	}
	log.InfoObj("watch registry loaded", "watches_meta", map[string]any{
		"count": len(watchIDs),
		"ids":   watchIDs,
	})

	metrics := observe.NewPromMetrics(prometheus.DefaultRegisterer)
	alerts := &observe.LogAlerter{Log: log}
	retry := resilience.NewExecutor(log, metrics)
	recovery := resilience.NewRecovery(resilience.DefaultBreakerConfig(), log, metrics, alerts)

	httpc := httpclient.NewRestyClient(cfg.HTTPTimeout)
	fetcher := ptt.NewFetcher(httpc, retry, log, ptt.WithBaseURL(cfg.BoardBaseURL))

	tokenProvider, err := secrets.NewProvider(cfg.BotTokenSource, cfg.BotTokenDetail)
	if err != nil {
		return nil, fmt.Errorf("init token provider: %w", err)
	}
	token, err := resilience.Do(ctx, retry, "secrets.bot_token", resilience.DefaultStrategy(),
		resilience.Retryable, tokenProvider.BotToken)
	if err != nil {
		return nil, fmt.Errorf("resolve bot token: %w", err)
	}
	deliver, err := telegram.NewClient(token, httpc, retry, log, metrics,
		telegram.WithAPIHost(cfg.TelegramAPIHost))
	if err != nil {
		return nil, fmt.Errorf("init telegram client: %w", err)
	}

	fanout, err := buildFanout(ctx, cfg.MirrorsFile, log)
	if err != nil {
		return nil, err
	}

	storeOpts := storage.Options{
		EntryTTL:        cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	}
	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"entry_ttl_seconds":        int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	return &Courier{
		cfg:      cfg,
		watchReg: watchReg,
		fetcher:  fetcher,
		deliver:  deliver,
		fanout:   fanout,
		recovery: recovery,
		store:    store,
		metrics:  metrics,
		tick:     cfg.TickInterval,
		log:      log,
		now:      time.Now,
	}, nil
}

// buildFanout loads the optional mirrors file and instantiates its sinks. An
// empty path means mirroring is off.
func buildFanout(ctx context.Context, mirrorsFile string, log logger.Logger) (*publishers.Fanout, error) {
	if mirrorsFile == "" {
		return publishers.NewFanout(nil), nil
	}

	mirrorReg, err := publishers.LoadRegistry(mirrorsFile)
	if err != nil {
		return nil, fmt.Errorf("load mirrors registry: %w", err)
	}
	enabled := mirrorReg.Enabled()
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build mirrors: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, cfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   cfg.ID,
			"type": cfg.Type,
		})
	}
	log.InfoObj("mirrors registry loaded", "mirrors_meta", map[string]any{
		"count":   len(summaries),
		"mirrors": summaries,
	})
	return publishers.NewFanout(pubs), nil
}

// Run starts the schedule tick until the context is cancelled.
func (c *Courier) Run(ctx context.Context) error {
	if c == nil || c.fetcher == nil {
		return fmt.Errorf("courier is not initialized")
	}
	defer c.close()

	watches := c.watchReg.Enabled()
	if len(watches) == 0 {
		c.log.WarnObj("no enabled watches; courier idle", "watches_file", c.cfg.WatchesFile)
		<-ctx.Done()
		return nil
	}

	c.log.InfoObj("courier loop starting", "courier_state", map[string]any{
		"watches_count": len(watches),
		"mirrors_count": c.fanout.Size(),
		"tick_interval": c.tick.String(),
	})

	c.runDue(ctx)

	sched := cron.New()
	sched.Schedule(cron.Every(c.tick), cron.FuncJob(func() {
		c.runDue(ctx)
	}))
	sched.Start()

	<-ctx.Done()
	c.log.InfoObj("courier loop exiting", "reason", ctx.Err())

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		c.log.WarnObj("scheduler stop timed out", "timeout", "30s")
	}
	return nil
}

// runDue executes every enabled watch whose schedule is due. The scheduler
// fires each activation on its own goroutine; a pass that outlasts the tick
// must not overlap with the next one, or entries delivered but not yet marked
// would go out twice. Overlapping activations are skipped.
func (c *Courier) runDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.DebugObj("previous pass still running; skipping tick", "tick_interval", c.tick.String())
		return
	}
	defer c.inFlight.Store(false)
	now := c.now()
	for _, w := range c.watchReg.Enabled() {
		last, ok, err := c.store.LastExecution(w.ID)
		if err != nil {
			c.log.ErrorObj("load last execution failed", "watch_error", map[string]any{
				"watch_id": w.ID,
				"error":    err.Error(),
			})
			continue
		}
		var lastRun time.Time
		if ok {
			lastRun = last.ExecutedAt
		}
		if !w.Schedule.Due(now, lastRun) {
			continue
		}
		c.runWatch(ctx, w)
		if ctx.Err() != nil {
			return
		}
	}
}

// runWatch performs a single fetch-filter-deliver cycle for one watch. Errors
// are recorded in the execution history; the watch never crashes the loop.
func (c *Courier) runWatch(ctx context.Context, w watch.Watch) {
	start := c.now()
	c.log.InfoObj("watch execution started", "watch_meta", map[string]any{
		"watch_id": w.ID,
		"board":    w.Board,
	})
	c.metrics.Increment("watch_executions_total", 1, map[string]string{"watch_id": w.ID})

	entries, err := resilience.Execute(ctx, c.recovery, opFetch,
		func(ctx context.Context) ([]domain.Entry, error) {
			return c.fetcher.FetchPaged(ctx, w.Board, w.PostCount, w.Keywords)
		},
		resilience.ExecOptions[[]domain.Entry]{WithBreaker: true},
	)
	if err != nil {
		c.recordExecution(w, start, domain.StatusError, 0, 0, err)
		return
	}

	fresh := c.dropSeen(w, entries)
	if len(fresh) == 0 {
		// Nothing new means nothing sent; the chat is not notified.
		c.recordExecution(w, start, domain.StatusNoMatches, len(entries), 0, nil)
		return
	}

	_, err = resilience.Execute(ctx, c.recovery, opDeliver,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.deliver.Deliver(ctx, w.ChatID, fresh, w.Board)
		},
		resilience.ExecOptions[struct{}]{WithBreaker: true},
	)
	if err != nil {
		c.recordExecution(w, start, domain.StatusError, len(entries), 0, err)
		return
	}

	c.markDelivered(w, fresh)
	c.mirror(ctx, w, fresh)
	c.recordExecution(w, start, domain.StatusSuccess, len(entries), len(fresh), nil)
}

// dropSeen filters out entries already delivered for any watch.
func (c *Courier) dropSeen(w watch.Watch, entries []domain.Entry) []domain.Entry {
	fresh := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		seen, err := c.store.SeenEntry(entryKey(w.ID, e))
		if err != nil {
			c.log.WarnObj("seen lookup failed", "storage_error", map[string]any{
				"watch_id": w.ID,
				"link":     e.Link,
				"error":    err.Error(),
			})
		}
		if !seen {
			fresh = append(fresh, e)
		}
	}
	return fresh
}

func (c *Courier) markDelivered(w watch.Watch, entries []domain.Entry) {
	for _, e := range entries {
		if err := c.store.MarkEntry(entryKey(w.ID, e)); err != nil {
			c.log.WarnObj("mark entry failed", "storage_error", map[string]any{
				"watch_id": w.ID,
				"link":     e.Link,
				"error":    err.Error(),
			})
		}
	}
}

// mirror fans delivered entries out to the configured sinks. Mirror failures
// are logged but do not affect the execution status.
func (c *Courier) mirror(ctx context.Context, w watch.Watch, entries []domain.Entry) {
	if c.fanout.Size() == 0 {
		return
	}
	for _, e := range entries {
		evt := publishers.NewEvent(w.ID, w.Name, e)
		if _, err := c.fanout.Publish(ctx, evt); err != nil {
			c.log.WarnObj("mirror publish failed", "mirror_error", map[string]any{
				"watch_id": w.ID,
				"link":     e.Link,
				"error":    err.Error(),
			})
		}
	}
}

func (c *Courier) recordExecution(w watch.Watch, start time.Time, status string, found, sent int, execErr error) {
	rec := domain.ExecutionRecord{
		WatchID:      w.ID,
		ExecutedAt:   start,
		Status:       status,
		EntriesFound: found,
		EntriesSent:  sent,
		Duration:     c.now().Sub(start),
	}
	if execErr != nil {
		rec.ErrorMessage = execErr.Error()
	}

	if err := c.store.RecordExecution(rec); err != nil {
		c.log.ErrorObj("record execution failed", "storage_error", map[string]any{
			"watch_id": w.ID,
			"error":    err.Error(),
		})
	}

	c.metrics.Increment("watch_results_total", 1, map[string]string{
		"watch_id": w.ID,
		"status":   status,
	})
	c.log.InfoObj("watch execution finished", "watch_result", map[string]any{
		"watch_id":      w.ID,
		"status":        status,
		"entries_found": found,
		"entries_sent":  sent,
		"elapsed_ms":    rec.Duration.Milliseconds(),
		"error":         rec.ErrorMessage,
	})
}

// entryKey scopes dedupe to a watch so two watches can both report one entry.
func entryKey(watchID string, e domain.Entry) string {
	return watchID + "|" + e.Link
}

// close releases the storage backend and mirror connections.
func (c *Courier) close() {
	if c == nil {
		return
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if c.fanout != nil {
		if err := c.fanout.Close(); err != nil {
			c.log.ErrorObj("mirror close failed", "error", err)
		}
	}
}
