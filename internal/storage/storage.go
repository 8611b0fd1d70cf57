package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

// Package storage provides local DB/cache abstraction.

// Store tracks delivered entry IDs and per-watch execution history.
type Store interface {
	Close() error
	SeenEntry(id string) (bool, error)
	MarkEntry(id string) error
	RecordExecution(rec domain.ExecutionRecord) error
	LastExecution(watchID string) (domain.ExecutionRecord, bool, error)
	RecentExecutions(watchID string, limit int) ([]domain.ExecutionRecord, error)
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	EntryTTL        time.Duration
	CleanupInterval time.Duration
	MaxExecutions   int
}

const (
	defaultEntryTTL        = 5 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
	defaultMaxExecutions   = 50
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = defaultEntryTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.MaxExecutions <= 0 {
		opts.MaxExecutions = defaultMaxExecutions
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                                 { return nil }
func (noopStore) SeenEntry(string) (bool, error)               { return false, nil }
func (noopStore) MarkEntry(string) error                       { return nil }
func (noopStore) RecordExecution(domain.ExecutionRecord) error { return nil }

func (noopStore) LastExecution(string) (domain.ExecutionRecord, bool, error) {
	return domain.ExecutionRecord{}, false, nil
}

func (noopStore) RecentExecutions(string, int) ([]domain.ExecutionRecord, error) {
	return nil, nil
}
