package crawl

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher turns a keyword query into raw search listings, in the order the
// search engine returned them. It performs at most one outbound request per
// invocation.
type Fetcher interface {
	Fetch(ctx context.Context, keyword string, maxResults int) ([]RawListing, error)
}

// ResultStore persists sessions and result rows. Implementations must
// serialize concurrent writes for the same session so duplicate-looking
// appends never produce two rows with the same fingerprint.
type ResultStore interface {
	// CreateSession persists a new session row.
	CreateSession(ctx context.Context, session CrawlSession) error
	// UpdateSessionStatus transitions a session, recording started_at on the
	// move to running and completed_at on a terminal status.
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status SessionStatus, errText string) error
	// AppendResult inserts a result row and reports whether a row was
	// actually written. A fingerprint collision for the same session and
	// keyword is a no-op, not an error.
	AppendResult(ctx context.Context, rec ResultRecord) (bool, error)
	// ExistingFingerprints returns the dedup keys already stored for a session.
	ExistingFingerprints(ctx context.Context, sessionID uuid.UUID) (map[FingerprintKey]struct{}, error)
	// AllFingerprints returns every stored fingerprint across sessions, used
	// only when global deduplication is enabled.
	AllFingerprints(ctx context.Context) (map[string]struct{}, error)
	// GetSession loads one session or returns ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (CrawlSession, error)
	// ListSessions returns sessions most-recent-first.
	ListSessions(ctx context.Context, limit int) ([]CrawlSession, error)
	// ListResults returns a session's results in insertion order.
	ListResults(ctx context.Context, sessionID uuid.UUID) ([]ResultRecord, error)
}

// RateController gates outbound fetch timing per domain.
type RateController interface {
	// Wait sleeps the controller's current delay for domain. It returns an
	// error only when ctx finishes first.
	Wait(ctx context.Context, domain string) error
	// Backoff doubles the delay for domain after a blocked signal.
	Backoff(domain string)
	// Success counts toward resetting a domain's backoff multiplier.
	Success(domain string)
}

// Hasher computes digests for fingerprinting.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
