// Package session orchestrates crawl sessions: validation, the keyword
// loop, deduplication, persistence, and progress emission.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/metrics"
	"github.com/JakeFAU/serp-reporter/internal/progress"
)

// Config controls session execution limits.
type Config struct {
	// MaxConcurrentSessions bounds sessions in flight at once.
	MaxConcurrentSessions int
	// DefaultMaxResults applies when a request leaves max results unset.
	DefaultMaxResults int
	// MaxResultsCeiling rejects requests asking for more results per keyword.
	MaxResultsCeiling int
	// GlobalDedup collapses fingerprints across keywords and sessions
	// instead of per session and keyword.
	GlobalDedup bool
	// SearchDomain labels the rate-controller bucket for outbound fetches.
	SearchDomain string
	// EmitTimeout bounds each progress sink delivery. An emit that exceeds
	// it is abandoned and the keyword loop continues.
	EmitTimeout time.Duration
}

const (
	defaultMaxConcurrent  = 3
	defaultMaxResults     = 10
	defaultResultsCeiling = 100
	defaultSearchDomain   = "www.google.com"
	defaultEmitTimeout    = 5 * time.Second
)

// Request describes one crawl session to run.
type Request struct {
	// Name is optional; a timestamped name is generated when empty.
	Name string
	// Keywords are fetched in list order.
	Keywords []string
	// MaxResults caps listings accepted per keyword.
	MaxResults int
}

// Manager runs crawl sessions. A session's keyword loop is sequential;
// multiple sessions run concurrently up to the configured limit, each with
// its own dedup index.
type Manager struct {
	store      crawl.ResultStore
	fetcher    crawl.Fetcher
	limiter    crawl.RateController
	normalizer *crawl.Normalizer
	sink       progress.Sink
	clock      crawl.Clock
	ids        crawl.IDGenerator
	logger     *zap.Logger
	cfg        Config

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewManager wires a Manager from its collaborators.
func NewManager(
	store crawl.ResultStore,
	fetcher crawl.Fetcher,
	limiter crawl.RateController,
	normalizer *crawl.Normalizer,
	sink progress.Sink,
	clock crawl.Clock,
	ids crawl.IDGenerator,
	logger *zap.Logger,
	cfg Config,
) *Manager {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = defaultMaxConcurrent
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = defaultMaxResults
	}
	if cfg.MaxResultsCeiling <= 0 {
		cfg.MaxResultsCeiling = defaultResultsCeiling
	}
	if cfg.SearchDomain == "" {
		cfg.SearchDomain = defaultSearchDomain
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = defaultEmitTimeout
	}
	if sink == nil {
		sink = progress.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		fetcher:    fetcher,
		limiter:    limiter,
		normalizer: normalizer,
		sink:       sink,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrentSessions),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartSession validates the request, persists a pending session, and runs
// the keyword loop on a detached goroutine. The returned session is in
// pending state; callers observe progress through the store or sink.
func (m *Manager) StartSession(ctx context.Context, req Request) (crawl.CrawlSession, error) {
	session, err := m.createSession(ctx, req)
	if err != nil {
		return crawl.CrawlSession{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.registerCancel(session.ID, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.unregisterCancel(session.ID)
		if err := m.execute(runCtx, session, req.MaxResults); err != nil {
			m.logger.Error("session run failed",
				zap.String("session_id", session.ID.String()),
				zap.Error(err),
			)
		}
	}()
	return session, nil
}

// Run executes a session synchronously and returns its terminal state. It is
// the entry point for CLI runs.
func (m *Manager) Run(ctx context.Context, req Request) (crawl.CrawlSession, error) {
	session, err := m.createSession(ctx, req)
	if err != nil {
		return crawl.CrawlSession{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.registerCancel(session.ID, cancel)
	defer m.unregisterCancel(session.ID)

	runErr := m.execute(runCtx, session, req.MaxResults)
	final, err := m.store.GetSession(context.WithoutCancel(ctx), session.ID)
	if err != nil {
		return crawl.CrawlSession{}, errors.Join(runErr, err)
	}
	return final, runErr
}

// Cancel requests cancellation of a running session. The keyword loop
// notices at the top of its next iteration; in-flight work for the current
// keyword completes first. Cancelling a finished session is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	cancel, ok := m.cancels[sessionID]
	m.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return nil
}

// Close waits for in-flight sessions to finish, or gives up when ctx ends.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

func (m *Manager) createSession(ctx context.Context, req Request) (crawl.CrawlSession, error) {
	keywords, err := validateKeywords(req.Keywords)
	if err != nil {
		return crawl.CrawlSession{}, err
	}
	if req.MaxResults < 0 {
		return crawl.CrawlSession{}, crawl.NewValidationError("max_results", "must be positive")
	}
	if req.MaxResults > m.cfg.MaxResultsCeiling {
		return crawl.CrawlSession{}, crawl.NewValidationError("max_results",
			fmt.Sprintf("must not exceed %d", m.cfg.MaxResultsCeiling))
	}

	id, err := m.ids.NewID()
	if err != nil {
		return crawl.CrawlSession{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock.Now()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "crawl_" + now.Format("20060102_150405")
	}

	session := crawl.CrawlSession{
		ID:        id,
		Name:      name,
		Keywords:  keywords,
		Status:    crawl.SessionPending,
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return crawl.CrawlSession{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// execute drives one session from pending to a terminal state. The returned
// error is non-nil only for infrastructure failures; keyword-level failures
// are folded into the session record instead.
func (m *Manager) execute(ctx context.Context, session crawl.CrawlSession, maxResults int) error {
	if maxResults <= 0 {
		maxResults = m.cfg.DefaultMaxResults
	}

	m.emit(ctx, progress.Event{
		SessionID: session.ID,
		TS:        m.clock.Now(),
		Status:    progress.StatusStarted,
	})

	if err := m.acquire(ctx); err != nil {
		return m.fail(ctx, session, 0, "cancelled")
	}
	defer m.release()

	idx, err := m.seedDedup(ctx, session.ID)
	if err != nil {
		ferr := m.fail(ctx, session, 0, fmt.Sprintf("seed dedup index: %v", err))
		return errors.Join(err, ferr)
	}

	if err := m.store.UpdateSessionStatus(ctx, session.ID, crawl.SessionRunning, ""); err != nil {
		err = fmt.Errorf("mark session running: %w", err)
		ferr := m.fail(ctx, session, 0, err.Error())
		return errors.Join(err, ferr)
	}

	var (
		total  int
		failed []string
		n      = len(session.Keywords)
	)
	for i, keyword := range session.Keywords {
		if ctx.Err() != nil {
			return m.fail(ctx, session, total, "cancelled")
		}

		m.emit(ctx, progress.Event{
			SessionID:       session.ID,
			TS:              m.clock.Now(),
			Status:          progress.StatusCrawling,
			CurrentKeyword:  keyword,
			ProgressPercent: progress.Percent(i, n),
			TotalResults:    total,
		})

		if err := m.limiter.Wait(ctx, m.cfg.SearchDomain); err != nil {
			return m.fail(ctx, session, total, "cancelled")
		}

		listings, err := m.fetcher.Fetch(ctx, keyword, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return m.fail(ctx, session, total, "cancelled")
			}
			failed = append(failed, keyword)
			m.recordFetchFailure(session.ID, keyword, err)
			continue
		}
		m.limiter.Success(m.cfg.SearchDomain)

		accepted, err := m.persistListings(ctx, session.ID, keyword, listings, idx)
		total += accepted
		if err != nil {
			err = fmt.Errorf("persist results for %q: %w", keyword, err)
			ferr := m.fail(ctx, session, total, err.Error())
			return errors.Join(err, ferr)
		}
	}

	if n > 0 && len(failed) == n {
		return m.fail(ctx, session, total, "all keywords failed: "+strings.Join(failed, ", "))
	}

	var errText string
	if len(failed) > 0 {
		errText = "failed keywords: " + strings.Join(failed, ", ")
	}
	if err := m.store.UpdateSessionStatus(ctx, session.ID, crawl.SessionCompleted, errText); err != nil {
		err = fmt.Errorf("mark session completed: %w", err)
		ferr := m.fail(ctx, session, total, err.Error())
		return errors.Join(err, ferr)
	}
	m.emit(ctx, progress.Event{
		SessionID:       session.ID,
		TS:              m.clock.Now(),
		Status:          progress.StatusCompleted,
		ProgressPercent: 100,
		TotalResults:    total,
	})
	return nil
}

// persistListings normalizes, dedups, ranks, and stores one keyword's
// listings. Rank is the running count of accepted records for the keyword,
// starting at 1. An insert error is fatal to the session.
func (m *Manager) persistListings(
	ctx context.Context,
	sessionID uuid.UUID,
	keyword string,
	listings []crawl.RawListing,
	idx *crawl.DedupIndex,
) (int, error) {
	var accepted int
	rank := 0
	for _, raw := range listings {
		rec := m.normalizer.Normalize(sessionID, keyword, raw)
		if rec == nil {
			continue
		}
		if !idx.MarkIfNew(keyword, rec.Fingerprint) {
			metrics.ObserveDuplicateSkipped(rec.Domain)
			continue
		}
		rank++
		rec.Rank = rank
		rec.DiscoveredAt = m.clock.Now()
		inserted, err := m.store.AppendResult(ctx, *rec)
		if err != nil {
			return accepted, err
		}
		if inserted {
			accepted++
			metrics.ObserveResultStored(rec.Domain)
		}
	}
	return accepted, nil
}

// fail marks the session failed and emits the terminal error event. Status
// updates run on a detached context so a cancelled session still reaches a
// terminal state in the store.
func (m *Manager) fail(ctx context.Context, session crawl.CrawlSession, total int, errText string) error {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := m.store.UpdateSessionStatus(storeCtx, session.ID, crawl.SessionFailed, errText)
	if err != nil {
		m.logger.Error("mark session failed",
			zap.String("session_id", session.ID.String()),
			zap.Error(err),
		)
	}
	m.emit(storeCtx, progress.Event{
		SessionID:       session.ID,
		TS:              m.clock.Now(),
		Status:          progress.StatusError,
		ProgressPercent: 100,
		TotalResults:    total,
		Error:           errText,
	})
	return err
}

func (m *Manager) seedDedup(ctx context.Context, sessionID uuid.UUID) (*crawl.DedupIndex, error) {
	idx := crawl.NewDedupIndex(m.cfg.GlobalDedup)
	existing, err := m.store.ExistingFingerprints(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session fingerprints: %w", err)
	}
	idx.SeedSession(existing)
	if m.cfg.GlobalDedup {
		all, err := m.store.AllFingerprints(ctx)
		if err != nil {
			return nil, fmt.Errorf("load global fingerprints: %w", err)
		}
		idx.SeedGlobal(all)
	}
	return idx, nil
}

func (m *Manager) recordFetchFailure(sessionID uuid.UUID, keyword string, err error) {
	reason := "error"
	var fetchErr *crawl.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Blocked() {
		reason = "blocked"
		m.limiter.Backoff(m.cfg.SearchDomain)
	}
	metrics.ObserveKeywordFailure(reason)
	m.logger.Warn("keyword fetch failed",
		zap.String("session_id", sessionID.String()),
		zap.String("keyword", keyword),
		zap.Error(err),
	)
}

// emit delivers an event to the sink. Sink delivery is best-effort; errors
// are logged and never fail the session. Each delivery is bounded by
// cfg.EmitTimeout so a stalled sink cannot block the keyword loop, even one
// that ignores its context.
func (m *Manager) emit(ctx context.Context, evt progress.Event) {
	if err := evt.Validate(); err != nil {
		m.logger.Error("invalid progress event", zap.Error(err))
		return
	}
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.EmitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.sink.Emit(emitCtx, evt)
	}()
	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("progress sink emit failed",
				zap.String("session_id", evt.SessionID.String()),
				zap.String("status", string(evt.Status)),
				zap.Error(err),
			)
		}
	case <-emitCtx.Done():
		m.logger.Warn("progress sink stalled, abandoning emit",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("status", string(evt.Status)),
			zap.Duration("timeout", m.cfg.EmitTimeout),
		)
	}
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.sem
}

func (m *Manager) registerCancel(id uuid.UUID, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[id] = cancel
}

func (m *Manager) unregisterCancel(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}

func validateKeywords(keywords []string) ([]string, error) {
	if len(keywords) == 0 {
		return nil, crawl.NewValidationError("keywords", "at least one keyword is required")
	}
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			return nil, crawl.NewValidationError("keywords", "keywords must be non-empty")
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out, nil
}
