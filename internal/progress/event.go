// Package progress defines the event structures emitted during crawl
// sessions and the sinks that consume them.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status denotes the lifecycle milestone represented by an Event.
type Status string

// Supported progress statuses.
const (
	StatusStarted   Status = "started"
	StatusCrawling  Status = "crawling"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Event captures a single milestone of a crawl session. Events for one
// session are emitted in order: one started event, one crawling event per
// keyword, then one terminal completed or error event.
type Event struct {
	// SessionID identifies the session the event belongs to.
	SessionID uuid.UUID `json:"session_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Status denotes which lifecycle milestone occurred.
	Status Status `json:"status"`
	// CurrentKeyword is the keyword about to be fetched; set only on
	// crawling events.
	CurrentKeyword string `json:"current_keyword,omitempty"`
	// ProgressPercent is the fraction of keywords dispatched so far,
	// expressed as 0..100.
	ProgressPercent float64 `json:"progress_percent"`
	// TotalResults is the count of accepted records at emit time.
	TotalResults int `json:"total_results"`
	// Error carries the failure summary on error events.
	Error string `json:"error,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == uuid.Nil {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Status {
	case StatusStarted, StatusCompleted:
	case StatusCrawling:
		if e.CurrentKeyword == "" {
			return errors.New("crawling event requires current keyword")
		}
	case StatusError:
		if e.Error == "" {
			return errors.New("error event requires error text")
		}
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.ProgressPercent < 0 || e.ProgressPercent > 100 {
		return errors.New("progress percent must be within [0, 100]")
	}
	if e.TotalResults < 0 {
		return errors.New("total results must be >= 0")
	}
	return nil
}

// Percent computes the dispatch progress before keyword index i out of n.
func Percent(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(i) / float64(n) * 100
}
