package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/serp-reporter/internal/progress"
)

// PrometheusSink exports session progress metrics via Prometheus. It owns all
// collectors for sessions started/completed/running and keyword dispatches.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionsRunning   prometheus.Gauge
	keywordsCrawled   prometheus.Counter
	resultsReported   prometheus.Histogram

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_sessions_started_total",
			Help: "Total sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_sessions_completed_total",
			Help: "Total sessions finished partitioned by result.",
		}, []string{"result"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_sessions_running",
			Help: "Current number of running sessions.",
		}),
		keywordsCrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_keywords_dispatched_total",
			Help: "Total keyword fetches dispatched across all sessions.",
		}),
		resultsReported: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawl_session_results",
			Help:    "Accepted result count per finished session.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		tracker: newSessionTracker(),
	}
	var err error
	if s.sessionsStarted, err = registerCounter(reg, s.sessionsStarted); err != nil {
		return nil, err
	}
	if s.sessionsCompleted, err = registerCounterVec(reg, s.sessionsCompleted); err != nil {
		return nil, err
	}
	if s.sessionsRunning, err = registerGauge(reg, s.sessionsRunning); err != nil {
		return nil, err
	}
	if s.keywordsCrawled, err = registerCounter(reg, s.keywordsCrawled); err != nil {
		return nil, err
	}
	if s.resultsReported, err = registerHistogram(reg, s.resultsReported); err != nil {
		return nil, err
	}
	return s, nil
}

// register specializations reuse an already-registered collector so building
// a second sink against the same registry does not fail.

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	existing, err := register(reg, c)
	if err != nil {
		return nil, err
	}
	return existing.(prometheus.Counter), nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	existing, err := register(reg, c)
	if err != nil {
		return nil, err
	}
	return existing.(*prometheus.CounterVec), nil
}

func registerGauge(reg prometheus.Registerer, c prometheus.Gauge) (prometheus.Gauge, error) {
	existing, err := register(reg, c)
	if err != nil {
		return nil, err
	}
	return existing.(prometheus.Gauge), nil
}

func registerHistogram(reg prometheus.Registerer, c prometheus.Histogram) (prometheus.Histogram, error) {
	existing, err := register(reg, c)
	if err != nil {
		return nil, err
	}
	return existing.(prometheus.Histogram), nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Emit updates the Prometheus collectors for the event. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Emit(_ context.Context, evt progress.Event) error {
	switch evt.Status {
	case progress.StatusStarted:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.StatusCrawling:
		s.keywordsCrawled.Inc()
	case progress.StatusCompleted:
		s.sessionsCompleted.WithLabelValues("success").Inc()
		s.finish(evt)
	case progress.StatusError:
		s.sessionsCompleted.WithLabelValues("error").Inc()
		s.finish(evt)
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event) {
	s.resultsReported.Observe(float64(evt.TotalResults))
	if s.tracker.complete(evt.SessionID) {
		s.sessionsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// sessionTracker ensures the running gauge moves at most once per session in
// each direction even when terminal events are repeated.
type sessionTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *sessionTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
