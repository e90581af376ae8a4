package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-reporter/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and gauges are moved by events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	sessionID := uuid.New()
	ctx := context.Background()
	events := []progress.Event{
		{SessionID: sessionID, TS: time.Now(), Status: progress.StatusStarted},
		{SessionID: sessionID, TS: time.Now(), Status: progress.StatusCrawling, CurrentKeyword: "golang jobs"},
		{SessionID: sessionID, TS: time.Now(), Status: progress.StatusCrawling, CurrentKeyword: "remote golang", ProgressPercent: 50},
		{SessionID: sessionID, TS: time.Now(), Status: progress.StatusCompleted, ProgressPercent: 100, TotalResults: 7},
	}
	for _, evt := range events {
		require.NoError(t, sink.Emit(ctx, evt))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.keywordsCrawled))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.resultsReported, "crawl_session_results"))
}

// TestPrometheusSinkRunningGauge verifies the gauge moves at most once per
// session in each direction.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, sink.Emit(ctx, progress.Event{SessionID: a, TS: time.Now(), Status: progress.StatusStarted}))
	require.NoError(t, sink.Emit(ctx, progress.Event{SessionID: a, TS: time.Now(), Status: progress.StatusStarted}))
	require.NoError(t, sink.Emit(ctx, progress.Event{SessionID: b, TS: time.Now(), Status: progress.StatusStarted}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.sessionsRunning))

	require.NoError(t, sink.Emit(ctx, progress.Event{SessionID: a, TS: time.Now(), Status: progress.StatusError, Error: "all keywords failed"}))
	require.NoError(t, sink.Emit(ctx, progress.Event{SessionID: a, TS: time.Now(), Status: progress.StatusError, Error: "all keywords failed"}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsRunning))
}

func TestPrometheusSinkReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	second, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, first.Emit(ctx, progress.Event{SessionID: uuid.New(), TS: time.Now(), Status: progress.StatusStarted}))
	require.NoError(t, second.Emit(ctx, progress.Event{SessionID: uuid.New(), TS: time.Now(), Status: progress.StatusStarted}))

	require.Equal(t, 2.0, testutil.ToFloat64(second.sessionsStarted))
}

func TestLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	err := sink.Emit(context.Background(), progress.Event{
		SessionID: uuid.New(),
		TS:        time.Now(),
		Status:    progress.StatusStarted,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
}
