// Package memory stores crawl sessions and results in-memory for
// development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
)

// ResultStore provides an in-memory crawl.ResultStore implementation.
type ResultStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]crawl.CrawlSession
	order    []uuid.UUID
	results  map[uuid.UUID][]crawl.ResultRecord
	seen     map[uuid.UUID]map[crawl.FingerprintKey]struct{}
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		sessions: make(map[uuid.UUID]crawl.CrawlSession),
		results:  make(map[uuid.UUID][]crawl.ResultRecord),
		seen:     make(map[uuid.UUID]map[crawl.FingerprintKey]struct{}),
	}
}

// CreateSession stores a new session.
func (s *ResultStore) CreateSession(_ context.Context, session crawl.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return crawl.ErrSessionExists
	}
	session.Keywords = append([]string(nil), session.Keywords...)
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	return nil
}

// UpdateSessionStatus transitions a session, stamping StartedAt on the first
// move to running and CompletedAt on terminal statuses.
func (s *ResultStore) UpdateSessionStatus(
	_ context.Context,
	sessionID uuid.UUID,
	status crawl.SessionStatus,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawl.ErrNotFound
	}
	session.Status = status
	session.ErrorText = errText
	now := time.Now().UTC()
	if status == crawl.SessionRunning && session.StartedAt == nil {
		session.StartedAt = pointerTime(now)
	}
	if status.Terminal() && session.CompletedAt == nil {
		session.CompletedAt = pointerTime(now)
	}
	s.sessions[sessionID] = session
	return nil
}

// AppendResult stores a record unless its (keyword, fingerprint) pair was
// already persisted for the session. It reports whether the record was
// inserted.
func (s *ResultStore) AppendResult(_ context.Context, rec crawl.ResultRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[rec.SessionID]
	if !ok {
		return false, crawl.ErrNotFound
	}
	key := crawl.FingerprintKey{Keyword: rec.Keyword, Fingerprint: rec.Fingerprint}
	fps, ok := s.seen[rec.SessionID]
	if !ok {
		fps = make(map[crawl.FingerprintKey]struct{})
		s.seen[rec.SessionID] = fps
	}
	if _, dup := fps[key]; dup {
		return false, nil
	}
	fps[key] = struct{}{}
	s.results[rec.SessionID] = append(s.results[rec.SessionID], rec)
	session.TotalResults++
	s.sessions[rec.SessionID] = session
	return true, nil
}

// ExistingFingerprints returns the persisted (keyword, fingerprint) pairs for
// a session.
func (s *ResultStore) ExistingFingerprints(
	_ context.Context,
	sessionID uuid.UUID,
) (map[crawl.FingerprintKey]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[crawl.FingerprintKey]struct{}, len(s.seen[sessionID]))
	for key := range s.seen[sessionID] {
		out[key] = struct{}{}
	}
	return out, nil
}

// AllFingerprints returns every fingerprint persisted across all sessions.
func (s *ResultStore) AllFingerprints(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, fps := range s.seen {
		for key := range fps {
			out[key.Fingerprint] = struct{}{}
		}
	}
	return out, nil
}

// GetSession fetches a session by ID.
func (s *ResultStore) GetSession(_ context.Context, sessionID uuid.UUID) (crawl.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawl.CrawlSession{}, crawl.ErrNotFound
	}
	session.Keywords = append([]string(nil), session.Keywords...)
	return session, nil
}

// ListSessions returns up to limit sessions, newest first. A non-positive
// limit returns all sessions.
func (s *ResultStore) ListSessions(_ context.Context, limit int) ([]crawl.CrawlSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawl.CrawlSession, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		session := s.sessions[s.order[i]]
		session.Keywords = append([]string(nil), session.Keywords...)
		out = append(out, session)
	}
	return out, nil
}

// ListResults returns the stored records for a session in insertion order.
func (s *ResultStore) ListResults(_ context.Context, sessionID uuid.UUID) ([]crawl.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, crawl.ErrNotFound
	}
	records := s.results[sessionID]
	out := make([]crawl.ResultRecord, len(records))
	copy(out, records)
	return out, nil
}

// Close implements the ResultStore interface; it performs no action.
func (s *ResultStore) Close() {}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
