// Package ratelimit implements the per-domain delay controller that gates
// outbound fetches.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/serp-reporter/internal/metrics"
)

// Config holds rate controller configuration.
type Config struct {
	// MinDelay and MaxDelay bound the uniform jittered delay applied before
	// each fetch.
	MinDelay time.Duration
	MaxDelay time.Duration
	// BackoffCeiling caps the delay after repeated blocked signals.
	BackoffCeiling time.Duration
	// SuccessReset is the number of consecutive successes after which a
	// domain's backoff multiplier resets.
	SuccessReset int
	// DomainRPS is the hard per-domain request floor shared across concurrent
	// sessions. Zero disables it.
	DomainRPS float64
}

const (
	defaultMinDelay       = 2 * time.Second
	defaultMaxDelay       = 6 * time.Second
	defaultBackoffCeiling = 2 * time.Minute
	defaultSuccessReset   = 3
)

type domainState struct {
	limiter *rate.Limiter
	// multiplier doubles on each blocked signal and resets after
	// cfg.SuccessReset consecutive successes.
	multiplier int
	successes  int
}

// Limiter manages per-domain fetch delays. State is process-lifetime, keyed by
// domain string, and safe for concurrent use by multiple sessions.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
}

// New creates a Limiter, applying defaults for unset bounds.
func New(cfg Config) *Limiter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = defaultMaxDelay
		if cfg.MaxDelay < cfg.MinDelay {
			cfg.MaxDelay = cfg.MinDelay
		}
	}
	if cfg.BackoffCeiling < cfg.MaxDelay {
		cfg.BackoffCeiling = defaultBackoffCeiling
		if cfg.BackoffCeiling < cfg.MaxDelay {
			cfg.BackoffCeiling = cfg.MaxDelay
		}
	}
	if cfg.SuccessReset <= 0 {
		cfg.SuccessReset = defaultSuccessReset
	}
	return &Limiter{
		domains: make(map[string]*domainState),
		cfg:     cfg,
	}
}

// Wait elapses the current delay for domain before returning. The delay is
// drawn uniformly from [MinDelay, MaxDelay], scaled by the domain's backoff
// multiplier, and capped at BackoffCeiling. On top of the jittered sleep, a
// shared token bucket enforces the per-domain request floor across concurrent
// sessions. Wait returns an error only when ctx finishes first; a live
// context always eventually returns, so callers make forward progress.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	st := l.state(domain)

	if st.limiter != nil {
		if err := st.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	delay := l.delayFor(st)
	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
	}
	metrics.ObserveRateLimitDelay(domain, time.Since(start))
	return nil
}

// Backoff doubles the next delay for domain, up to the configured ceiling.
// Call it when a fetch reports a blocked signal (HTTP 429/503).
func (l *Limiter) Backoff(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(domain)
	st.successes = 0
	if time.Duration(st.multiplier)*l.cfg.MaxDelay < l.cfg.BackoffCeiling {
		st.multiplier *= 2
	}
}

// Success counts a successful fetch for domain. After SuccessReset consecutive
// successes the backoff multiplier resets to one.
func (l *Limiter) Success(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(domain)
	if st.multiplier == 1 {
		return
	}
	st.successes++
	if st.successes >= l.cfg.SuccessReset {
		st.multiplier = 1
		st.successes = 0
	}
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(domain)
}

func (l *Limiter) stateLocked(domain string) *domainState {
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{multiplier: 1}
		if l.cfg.DomainRPS > 0 {
			st.limiter = rate.NewLimiter(rate.Limit(l.cfg.DomainRPS), 1)
		}
		l.domains[domain] = st
	}
	return st
}

func (l *Limiter) delayFor(st *domainState) time.Duration {
	l.mu.Lock()
	multiplier := st.multiplier
	l.mu.Unlock()

	span := l.cfg.MaxDelay - l.cfg.MinDelay
	jittered := l.cfg.MinDelay + time.Duration(rand.Int63n(int64(span)+1))
	delay := jittered * time.Duration(multiplier)
	if delay > l.cfg.BackoffCeiling {
		delay = l.cfg.BackoffCeiling
	}
	return delay
}
