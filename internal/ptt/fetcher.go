package ptt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/httpclient"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/resilience"
)

const (
	// DefaultBaseURL is the public PTT web frontend.
	DefaultBaseURL = "https://www.ptt.cc"

	// Listing pages are capped at this size upstream; requesting more
	// entries than this is a caller bug.
	maxPostCount = 100

	defaultMaxPages = 5
)

// browserHeaders keeps the source site from serving the bot-hostile variant.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-TW,zh;q=0.9,en;q=0.8",
}

// Fetcher retrieves board listing pages, negotiates the age gate, and
// extracts keyword-filtered entries.
type Fetcher struct {
	client   httpclient.Client
	retry    *resilience.Executor
	strategy resilience.Strategy
	baseURL  string
	maxPages int
	log      logger.Logger
}

// Option tweaks a Fetcher.
type Option func(*Fetcher)

// WithBaseURL points the fetcher at a different frontend (tests).
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = strings.TrimRight(u, "/") }
}

// WithStrategy overrides the retry strategy.
func WithStrategy(s resilience.Strategy) Option {
	return func(f *Fetcher) { f.strategy = s }
}

// WithMaxPages bounds how deep FetchPaged may walk.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

// NewFetcher builds a Fetcher. A nil client gets a default resty transport
// with a cookie jar (required for the age-gate consent cookie).
func NewFetcher(client httpclient.Client, retry *resilience.Executor, log logger.Logger, opts ...Option) *Fetcher {
	if client == nil {
		client = httpclient.NewRestyClient(15 * time.Second)
	}
	if retry == nil {
		retry = resilience.NewExecutor(log, nil)
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	f := &Fetcher{
		client:   client,
		retry:    retry,
		strategy: resilience.DefaultStrategy(),
		baseURL:  DefaultBaseURL,
		maxPages: defaultMaxPages,
		log:      log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns up to postCount keyword-filtered entries from the board's
// newest listing page, newest first.
func (f *Fetcher) Fetch(ctx context.Context, board string, postCount int, keywords []string) ([]domain.Entry, error) {
	if err := validateArgs(board, postCount); err != nil {
		return nil, err
	}

	page, err := f.fetchPage(ctx, board, f.listingURL(board, 0))
	if err != nil {
		return nil, err
	}

	entries := filterEntries(page.Entries, keywords, postCount)
	f.log.InfoObj("board listing fetched", "fetch_result", map[string]any{
		"board":   board,
		"parsed":  len(page.Entries),
		"matched": len(entries),
	})
	return entries, nil
}

// FetchPaged walks successive listing pages (newest first) until postCount
// matches are collected, a page parses zero entries, or the page bound is hit.
func (f *Fetcher) FetchPaged(ctx context.Context, board string, postCount int, keywords []string) ([]domain.Entry, error) {
	if err := validateArgs(board, postCount); err != nil {
		return nil, err
	}

	latest, err := f.fetchPage(ctx, board, f.listingURL(board, 0))
	if err != nil {
		return nil, err
	}
	collected := filterEntries(latest.Entries, keywords, 0)

	// Older pages count down from the index the「上頁」link names.
	prev := latest.PrevIndex
	for pages := 1; pages < f.maxPages && len(collected) < postCount && prev >= 1; pages++ {
		page, err := f.fetchPage(ctx, board, f.listingURL(board, prev))
		if err != nil {
			return nil, err
		}
		if len(page.Entries) == 0 {
			break
		}
		collected = append(collected, filterEntries(page.Entries, keywords, 0)...)
		prev--
	}

	if len(collected) > postCount {
		collected = collected[:postCount]
	}
	f.log.InfoObj("board listing fetched (paged)", "fetch_result", map[string]any{
		"board":   board,
		"matched": len(collected),
	})
	return collected, nil
}

func validateArgs(board string, postCount int) error {
	if strings.TrimSpace(board) == "" {
		return resilience.Errorf(resilience.KindInvalidArgument, "ptt.fetch", "board name must not be blank")
	}
	if postCount < 1 || postCount > maxPostCount {
		return resilience.Errorf(resilience.KindInvalidArgument, "ptt.fetch",
			"post count %d out of range [1, %d]", postCount, maxPostCount)
	}
	return nil
}

func (f *Fetcher) listingURL(board string, pageIndex int) string {
	if pageIndex <= 0 {
		return fmt.Sprintf("%s/bbs/%s/index.html", f.baseURL, board)
	}
	return fmt.Sprintf("%s/bbs/%s/index%d.html", f.baseURL, board, pageIndex)
}

// fetchPage retrieves one listing page, transparently accepting the age gate
// when the site interposes it.
func (f *Fetcher) fetchPage(ctx context.Context, board, pageURL string) (listingPage, error) {
	body, err := f.get(ctx, board, pageURL)
	if err != nil {
		return listingPage{}, err
	}

	if isAgeGated(body) {
		if err := f.acceptAgeGate(ctx, pageURL); err != nil {
			return listingPage{}, err
		}
		body, err = f.get(ctx, board, pageURL)
		if err != nil {
			return listingPage{}, err
		}
	}

	return parseListing(body, board, f.baseURL)
}

// get performs a retry-wrapped GET with listing status classification.
func (f *Fetcher) get(ctx context.Context, board, pageURL string) ([]byte, error) {
	return resilience.Do(ctx, f.retry, "ptt.fetch", f.strategy, resilience.Retryable,
		func(ctx context.Context) ([]byte, error) {
			resp, err := f.client.Get(ctx, pageURL, browserHeaders)
			if err != nil {
				return nil, resilience.E(resilience.KindTransient, "ptt.fetch", err)
			}
			switch resp.StatusCode() {
			case http.StatusOK:
				return resp.Body(), nil
			case http.StatusNotFound:
				return nil, resilience.Errorf(resilience.KindNotFound, "ptt.fetch", "board %s not found", board)
			case http.StatusForbidden:
				return nil, resilience.Errorf(resilience.KindForbidden, "ptt.fetch", "access to board %s forbidden", board)
			default:
				return nil, resilience.Errorf(resilience.KindTransient, "ptt.fetch",
					"listing returned status %d", resp.StatusCode())
			}
		})
}

// acceptAgeGate submits the consent form for the original listing URL.
// The transport's cookie jar keeps the over18 cookie for the re-issue.
func (f *Fetcher) acceptAgeGate(ctx context.Context, originalURL string) error {
	gateURL := fmt.Sprintf("%s/ask/over18?from=%s", f.baseURL, url.QueryEscape(originalURL))

	resp, err := f.client.PostForm(ctx, gateURL, map[string]string{"yes": "yes"}, browserHeaders)
	if err != nil {
		return resilience.E(resilience.KindAgeVerification, "ptt.fetch", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusFound {
		return resilience.Errorf(resilience.KindAgeVerification, "ptt.fetch",
			"age gate accept returned status %d", resp.StatusCode())
	}
	f.log.DebugObj("age gate accepted", "age_gate", map[string]any{"url": originalURL})
	return nil
}

// filterEntries applies the keyword filter and, when limit > 0, the count cap,
// preserving listing order.
func filterEntries(entries []domain.Entry, keywords []string, limit int) []domain.Entry {
	out := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		if !matchesKeywords(e.Title, keywords) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
