package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func validEvent() Event {
	return Event{
		SessionID:       uuid.New(),
		TS:              time.Now().UTC(),
		Status:          StatusStarted,
		ProgressPercent: 0,
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{"valid started", func(e *Event) {}, ""},
		{"valid crawling", func(e *Event) {
			e.Status = StatusCrawling
			e.CurrentKeyword = "golang jobs"
			e.ProgressPercent = 50
		}, ""},
		{"valid error", func(e *Event) {
			e.Status = StatusError
			e.Error = "all keywords failed"
			e.ProgressPercent = 100
		}, ""},
		{"missing session id", func(e *Event) { e.SessionID = uuid.Nil }, "session id is required"},
		{"missing timestamp", func(e *Event) { e.TS = time.Time{} }, "timestamp is required"},
		{"crawling without keyword", func(e *Event) { e.Status = StatusCrawling }, "crawling event requires current keyword"},
		{"error without text", func(e *Event) { e.Status = StatusError }, "error event requires error text"},
		{"unknown status", func(e *Event) { e.Status = "paused" }, `unknown status "paused"`},
		{"percent out of range", func(e *Event) { e.ProgressPercent = 101 }, "progress percent must be within [0, 100]"},
		{"negative totals", func(e *Event) { e.TotalResults = -1 }, "total results must be >= 0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			evt := validEvent()
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestPercent(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Percent(0, 4))
	require.Equal(t, 25.0, Percent(1, 4))
	require.Equal(t, 100.0, Percent(4, 4))
	require.Equal(t, 0.0, Percent(0, 0))
}

type recordSink struct {
	events []Event
	err    error
	closed bool
}

func (s *recordSink) Emit(_ context.Context, evt Event) error {
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordSink) Close(context.Context) error {
	s.closed = true
	return s.err
}

func TestMultiSinkFanout(t *testing.T) {
	t.Parallel()

	a := &recordSink{}
	b := &recordSink{err: errors.New("sink b broken")}
	c := &recordSink{}
	m := NewMultiSink(a, nil, b, c)

	evt := validEvent()
	err := m.Emit(context.Background(), evt)
	require.EqualError(t, err, "sink b broken")

	// The failing sink must not keep later sinks from seeing the event.
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	require.Len(t, c.events, 1)

	require.Error(t, m.Close(context.Background()))
	require.True(t, a.closed)
	require.True(t, c.closed)
}
