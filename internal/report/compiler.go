// Package report compiles and renders crawl session reports for email
// delivery.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/metrics"
)

// ErrNoResults signals a session with zero stored results. Callers decide
// whether an empty report is worth sending; the compiler refuses to build one.
var ErrNoResults = errors.New("session has no results")

// KeywordGroup holds one keyword's results in rank order.
type KeywordGroup struct {
	Keyword string               `json:"keyword"`
	Results []crawl.ResultRecord `json:"results"`
}

// Payload is a compiled report ready for rendering.
type Payload struct {
	SessionID       uuid.UUID           `json:"session_id"`
	SessionName     string              `json:"session_name"`
	Status          crawl.SessionStatus `json:"status"`
	Keywords        []string            `json:"keywords"`
	TotalResults    int                 `json:"total_results"`
	DistinctDomains int                 `json:"distinct_domains"`
	FailureSummary  string              `json:"failure_summary,omitempty"`
	Groups          []KeywordGroup      `json:"groups"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// Compiler builds report payloads from stored session state. It is a pure
// read-side component.
type Compiler struct {
	store crawl.ResultStore
	clock crawl.Clock
}

// NewCompiler constructs a Compiler.
func NewCompiler(store crawl.ResultStore, clock crawl.Clock) *Compiler {
	return &Compiler{store: store, clock: clock}
}

// Compile loads the session and its results and groups them by keyword in
// session keyword order, preserving rank order within each group.
func (c *Compiler) Compile(ctx context.Context, sessionID uuid.UUID) (Payload, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.ObserveReportCompilation("not_found")
		return Payload{}, fmt.Errorf("load session: %w", err)
	}
	results, err := c.store.ListResults(ctx, sessionID)
	if err != nil {
		metrics.ObserveReportCompilation("error")
		return Payload{}, fmt.Errorf("load results: %w", err)
	}
	if len(results) == 0 {
		metrics.ObserveReportCompilation("empty")
		return Payload{}, fmt.Errorf("session %s: %w", sessionID, ErrNoResults)
	}

	byKeyword := make(map[string][]crawl.ResultRecord)
	for _, rec := range results {
		byKeyword[rec.Keyword] = append(byKeyword[rec.Keyword], rec)
	}

	groups := make([]KeywordGroup, 0, len(session.Keywords))
	domains := make(map[string]struct{})
	for _, keyword := range session.Keywords {
		recs, ok := byKeyword[keyword]
		if !ok {
			continue
		}
		for _, rec := range recs {
			domains[rec.Domain] = struct{}{}
		}
		groups = append(groups, KeywordGroup{Keyword: keyword, Results: recs})
	}

	metrics.ObserveReportCompilation("ok")
	return Payload{
		SessionID:       session.ID,
		SessionName:     session.Name,
		Status:          session.Status,
		Keywords:        session.Keywords,
		TotalResults:    len(results),
		DistinctDomains: len(domains),
		FailureSummary:  session.ErrorText,
		Groups:          groups,
		GeneratedAt:     c.clock.Now(),
	}, nil
}
