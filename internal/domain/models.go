package domain

import "time"

// Domain contains core models shared across packages.

// Entry is one parsed board listing item. Values are immutable once parsed;
// the courier never mutates an Entry after the fetcher produced it.
type Entry struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Date   string `json:"date"`
	Link   string `json:"link"`
	Board  string `json:"board"`
}

// Execution statuses recorded after each watch run.
const (
	StatusSuccess   = "success"
	StatusNoMatches = "no_matches"
	StatusError     = "error"
)

// ExecutionRecord captures the outcome of a single watch run.
type ExecutionRecord struct {
	WatchID      string        `json:"watch_id"`
	ExecutedAt   time.Time     `json:"executed_at"`
	Status       string        `json:"status"`
	EntriesFound int           `json:"entries_found"`
	EntriesSent  int           `json:"entries_sent"`
	Duration     time.Duration `json:"duration"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
