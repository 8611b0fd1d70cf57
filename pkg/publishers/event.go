package publishers

import (
	"time"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

// Event represents the payload mirrored downstream for a matched entry.
type Event struct {
	WatchID   string       `json:"watch_id"`
	WatchName string       `json:"watch_name"`
	Board     string       `json:"board"`
	Entry     domain.Entry `json:"entry"`
	MatchedAt time.Time    `json:"matched_at"`
}

// NewEvent constructs an Event for the given watch + entry.
func NewEvent(watchID, watchName string, entry domain.Entry) Event {
	return Event{
		WatchID:   watchID,
		WatchName: watchName,
		Board:     entry.Board,
		Entry:     entry,
		MatchedAt: time.Now().UTC(),
	}
}
