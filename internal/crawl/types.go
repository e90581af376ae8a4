// Package crawl defines core types shared across subsystems.
package crawl

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the result store.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CrawlSession is the metadata persisted for each crawl request.
type CrawlSession struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Keywords    []string      `json:"keywords"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	// TotalResults counts persisted result rows; monotonically non-decreasing
	// while the session runs.
	TotalResults int `json:"total_results"`
	// ErrorText holds the failure reason, or a failed-keyword summary on a
	// completed session with partial failures.
	ErrorText string `json:"error_text,omitempty"`
}

// RawListing is an extracted search listing before normalization.
type RawListing struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ResultRecord is persisted for each accepted listing.
type ResultRecord struct {
	SessionID    uuid.UUID `json:"session_id"`
	Keyword      string    `json:"keyword"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	Domain       string    `json:"domain"`
	Fingerprint  string    `json:"fingerprint"`
	Rank         int       `json:"rank"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// FingerprintKey identifies a result within one session for deduplication.
type FingerprintKey struct {
	Keyword     string
	Fingerprint string
}
