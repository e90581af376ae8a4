package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-reporter/internal/clock/system"
	"github.com/JakeFAU/serp-reporter/internal/crawl"
	hashsha256 "github.com/JakeFAU/serp-reporter/internal/hash/sha256"
	iduuid "github.com/JakeFAU/serp-reporter/internal/id/uuid"
	"github.com/JakeFAU/serp-reporter/internal/progress"
	"github.com/JakeFAU/serp-reporter/internal/storage/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string][]crawl.RawListing
	errs    map[string]error
	onFetch func(keyword string)
}

func (f *fakeFetcher) Fetch(_ context.Context, keyword string, _ int) ([]crawl.RawListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(keyword)
	}
	if err, ok := f.errs[keyword]; ok {
		return nil, err
	}
	return f.results[keyword], nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	waits     int
	backoffs  int
	successes int
}

func (l *fakeLimiter) Wait(ctx context.Context, _ string) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return ctx.Err()
}

func (l *fakeLimiter) Backoff(string) {
	l.mu.Lock()
	l.backoffs++
	l.mu.Unlock()
}

func (l *fakeLimiter) Success(string) {
	l.mu.Lock()
	l.successes++
	l.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *captureSink) Emit(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) snapshot() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

// stuckSink blocks every Emit until released, ignoring its context.
type stuckSink struct {
	release chan struct{}
}

func (s *stuckSink) Emit(context.Context, progress.Event) error {
	<-s.release
	return nil
}

func (s *stuckSink) Close(context.Context) error { return nil }

type harness struct {
	manager *Manager
	store   *memory.ResultStore
	fetcher *fakeFetcher
	limiter *fakeLimiter
	sink    *captureSink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memory.NewResultStore()
	fetcher := &fakeFetcher{
		results: make(map[string][]crawl.RawListing),
		errs:    make(map[string]error),
	}
	limiter := &fakeLimiter{}
	sink := &captureSink{}
	normalizer := crawl.NewNormalizer(hashsha256.New(), nil)
	manager := NewManager(
		store,
		fetcher,
		limiter,
		normalizer,
		sink,
		system.New(),
		iduuid.New(),
		nil,
		cfg,
	)
	return &harness{manager: manager, store: store, fetcher: fetcher, limiter: limiter, sink: sink}
}

func listing(url, title string) crawl.RawListing {
	return crawl.RawListing{URL: url, Title: title, Snippet: "snippet"}
}

func TestRunCompletesAndDedups(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.results["golang jobs"] = []crawl.RawListing{
		listing("https://example.com/a", "A"),
		listing("https://example.com/a?utm_source=news", "A again"), // same fingerprint
		listing("", ""), // unusable, skipped
		listing("https://example.org/b", "B"),
	}
	h.fetcher.results["remote golang"] = []crawl.RawListing{
		listing("https://example.com/a", "A"), // same fingerprint, other keyword
	}

	final, err := h.manager.Run(context.Background(), Request{
		Keywords: []string{"golang jobs", "remote golang"},
	})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionCompleted, final.Status)
	require.Empty(t, final.ErrorText)
	require.Equal(t, 3, final.TotalResults)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	results, err := h.store.ListResults(context.Background(), final.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []int{1, 2, 1}, []int{results[0].Rank, results[1].Rank, results[2].Rank})
	require.Equal(t, "golang jobs", results[0].Keyword)
	require.Equal(t, "remote golang", results[2].Keyword)

	events := h.sink.snapshot()
	require.Len(t, events, 4) // started, 2x crawling, completed
	require.Equal(t, progress.StatusStarted, events[0].Status)
	require.Equal(t, progress.StatusCrawling, events[1].Status)
	require.Equal(t, "golang jobs", events[1].CurrentKeyword)
	require.Equal(t, 0.0, events[1].ProgressPercent)
	require.Equal(t, progress.StatusCrawling, events[2].Status)
	require.Equal(t, "remote golang", events[2].CurrentKeyword)
	require.Equal(t, 50.0, events[2].ProgressPercent)
	require.Equal(t, progress.StatusCompleted, events[3].Status)
	require.Equal(t, 100.0, events[3].ProgressPercent)
	require.Equal(t, 3, events[3].TotalResults)
}

func TestRunPartialFailureStillCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.results["good"] = []crawl.RawListing{listing("https://example.com/a", "A")}
	h.fetcher.errs["bad"] = &crawl.FetchError{Keyword: "bad", Err: errors.New("connection refused")}

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"good", "bad"}})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionCompleted, final.Status)
	require.Equal(t, "failed keywords: bad", final.ErrorText)
	require.Equal(t, 1, final.TotalResults)

	events := h.sink.snapshot()
	require.Equal(t, progress.StatusCompleted, events[len(events)-1].Status)
}

func TestRunFailsWhenEveryKeywordFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.errs["one"] = errors.New("boom")
	h.fetcher.errs["two"] = errors.New("boom")

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"one", "two"}})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionFailed, final.Status)
	require.Equal(t, "all keywords failed: one, two", final.ErrorText)

	events := h.sink.snapshot()
	last := events[len(events)-1]
	require.Equal(t, progress.StatusError, last.Status)
	require.Equal(t, "all keywords failed: one, two", last.Error)
}

func TestBlockedFetchTriggersBackoff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.errs["blocked"] = &crawl.FetchError{Keyword: "blocked", StatusCode: 429, Err: errors.New("too many requests")}
	h.fetcher.results["fine"] = []crawl.RawListing{listing("https://example.com/a", "A")}

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"blocked", "fine"}})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionCompleted, final.Status)
	require.Equal(t, 1, h.limiter.backoffs)
	require.Equal(t, 1, h.limiter.successes)
	require.Equal(t, 2, h.limiter.waits)
}

func TestCancellationStopsAtKeywordBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.results["first"] = []crawl.RawListing{listing("https://example.com/a", "A")}
	h.fetcher.results["second"] = []crawl.RawListing{listing("https://example.com/b", "B")}
	h.fetcher.onFetch = func(keyword string) {
		if keyword == "first" {
			cancel()
		}
	}

	final, err := h.manager.Run(ctx, Request{Keywords: []string{"first", "second"}})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionFailed, final.Status)
	require.Equal(t, "cancelled", final.ErrorText)
	// The in-flight keyword finished before the check.
	require.Equal(t, 1, final.TotalResults)

	events := h.sink.snapshot()
	last := events[len(events)-1]
	require.Equal(t, progress.StatusError, last.Status)
	require.Equal(t, "cancelled", last.Error)
}

func TestCancelRunningSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	started := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	h.fetcher.results["first"] = []crawl.RawListing{listing("https://example.com/a", "A")}
	h.fetcher.results["second"] = []crawl.RawListing{listing("https://example.com/b", "B")}
	h.fetcher.onFetch = func(string) {
		once.Do(func() {
			close(started)
			<-proceed
		})
	}

	session, err := h.manager.StartSession(context.Background(), Request{Keywords: []string{"first", "second"}})
	require.NoError(t, err)
	require.Equal(t, crawl.SessionPending, session.Status)

	<-started
	require.NoError(t, h.manager.Cancel(context.Background(), session.ID))
	close(proceed)

	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, h.manager.Close(ctx))

	final, err := h.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.SessionFailed, final.Status)
	require.Equal(t, "cancelled", final.ErrorText)
}

func TestCancelUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	err := h.manager.Cancel(context.Background(), uuid.New())
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxResultsCeiling: 50})

	_, err := h.manager.Run(context.Background(), Request{})
	require.True(t, crawl.IsValidation(err))

	_, err = h.manager.Run(context.Background(), Request{Keywords: []string{"  "}})
	require.True(t, crawl.IsValidation(err))

	_, err = h.manager.Run(context.Background(), Request{Keywords: []string{"ok"}, MaxResults: 51})
	require.True(t, crawl.IsValidation(err))
}

func TestDuplicateKeywordsCollapsed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.results["golang"] = []crawl.RawListing{listing("https://example.com/a", "A")}

	final, err := h.manager.Run(context.Background(), Request{
		Keywords: []string{"golang", " golang "},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"golang"}, final.Keywords)
	require.Equal(t, 1, final.TotalResults)
}

func TestAutoGeneratedName(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.results["golang"] = []crawl.RawListing{}

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"golang"}})
	require.NoError(t, err)
	require.Regexp(t, `^crawl_\d{8}_\d{6}$`, final.Name)
}

type appendFailStore struct {
	*memory.ResultStore
}

func (s *appendFailStore) AppendResult(context.Context, crawl.ResultRecord) (bool, error) {
	return false, errors.New("storage unavailable")
}

func TestStorageErrorIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	store := &appendFailStore{ResultStore: h.store}
	h.manager.store = store
	h.fetcher.results["golang"] = []crawl.RawListing{listing("https://example.com/a", "A")}

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"golang"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage unavailable")
	require.Equal(t, crawl.SessionFailed, final.Status)

	events := h.sink.snapshot()
	require.Equal(t, progress.StatusError, events[len(events)-1].Status)
}

func TestStalledSinkDoesNotBlockSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{EmitTimeout: 50 * time.Millisecond})
	stuck := &stuckSink{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	h.manager.sink = stuck
	h.fetcher.results["golang"] = []crawl.RawListing{listing("https://example.com/a", "A")}

	type outcome struct {
		final crawl.CrawlSession
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"golang"}})
		done <- outcome{final: final, err: err}
	}()

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, crawl.SessionCompleted, got.final.Status)
		require.Equal(t, 1, got.final.TotalResults)
	case <-time.After(3 * time.Second):
		t.Fatal("session blocked on a stalled progress sink")
	}
}

func TestGlobalDedupAcrossKeywords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{GlobalDedup: true})
	h.fetcher.results["one"] = []crawl.RawListing{listing("https://example.com/a", "A")}
	h.fetcher.results["two"] = []crawl.RawListing{listing("https://example.com/a", "A")}

	final, err := h.manager.Run(context.Background(), Request{Keywords: []string{"one", "two"}})
	require.NoError(t, err)
	require.Equal(t, 1, final.TotalResults)
}
