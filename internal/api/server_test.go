package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/config"
	"github.com/JakeFAU/serp-reporter/internal/crawl"
	"github.com/JakeFAU/serp-reporter/internal/fetcher/demo"
	hashsha256 "github.com/JakeFAU/serp-reporter/internal/hash/sha256"
	iduuid "github.com/JakeFAU/serp-reporter/internal/id/uuid"
	"github.com/JakeFAU/serp-reporter/internal/mailer"
	"github.com/JakeFAU/serp-reporter/internal/report"
	"github.com/JakeFAU/serp-reporter/internal/session"
	"github.com/JakeFAU/serp-reporter/internal/storage/memory"
)

func TestServer_CreateSession_Succeeds(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	server, manager := newTestServerWithStore(t, store, config.Config{})

	reqBody := []byte(`{"name":"api-run","keywords":["golang jobs"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "api-run")
	require.Contains(t, rec.Body.String(), "pending")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Close(ctx))

	sessions, err := store.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, crawl.SessionCompleted, sessions[0].Status)
}

func TestServer_CreateSession_InvalidJSON(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CreateSession_MissingKeywords(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString(`{"keywords":[]}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetSession_ReturnsSession(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "lookup-run", 0)
	server, _ := newTestServerWithStore(t, store, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id.String(), nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lookup-run")
}

func TestServer_GetSession_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetSession_InvalidID(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/not-a-uuid", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListSessions_NewestFirst(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	seedSession(t, store, uuid.New(), "first-run", 0)
	seedSession(t, store, uuid.New(), "second-run", 0)
	server, _ := newTestServerWithStore(t, store, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "first-run")
	require.Contains(t, rec.Body.String(), "second-run")
	require.Less(t,
		bytes.Index(rec.Body.Bytes(), []byte("second-run")),
		bytes.Index(rec.Body.Bytes(), []byte("first-run")),
	)
}

func TestServer_ListSessions_BadLimit(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=zero", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListResults_ReturnsRows(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "results-run", 2)
	server, _ := newTestServerWithStore(t, store, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id.String()+"/results", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "https://example.com/results-run/0")
	require.Contains(t, rec.Body.String(), "https://example.com/results-run/1")
}

func TestServer_CancelSession_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+uuid.NewString()+"/cancel", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SendReport_Succeeds(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "report-run", 2)
	sender := &captureSender{}
	server := newReportTestServer(t, store, sender, config.Config{})

	reqBody := []byte(`{"to":"analyst@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/report", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sent")
	require.Len(t, sender.sent, 1)
	require.Equal(t, "analyst@example.com", sender.sent[0].To)
	require.Contains(t, sender.sent[0].Subject, "Crawl Report")
	require.Contains(t, sender.sent[0].HTML, "https://example.com/report-run/0")
}

func TestServer_SendReport_DefaultRecipient(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "default-to", 1)
	sender := &captureSender{}
	cfg := config.Config{Report: config.ReportConfig{DefaultRecipient: "reports@example.com"}}
	server := newReportTestServer(t, store, sender, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "reports@example.com", sender.sent[0].To)
}

func TestServer_SendReport_NoRecipient(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "no-recipient", 1)
	server := newReportTestServer(t, store, &captureSender{}, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SendReport_NoResults(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "empty-run", 0)
	cfg := config.Config{Report: config.ReportConfig{DefaultRecipient: "reports@example.com"}}
	server := newReportTestServer(t, store, &captureSender{}, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_SendReport_DeliveryFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewResultStore()
	id := uuid.New()
	seedSession(t, store, id, "smtp-down", 1)
	sender := &captureSender{err: fmt.Errorf("connection refused")}
	cfg := config.Config{Report: config.ReportConfig{DefaultRecipient: "reports@example.com"}}
	server := newReportTestServer(t, store, sender, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server, _ := newTestServerWithStore(t, memory.NewResultStore(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijack not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type captureSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg mailer.Message) (mailer.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return mailer.Delivery{}, c.err
	}
	c.sent = append(c.sent, msg)
	return mailer.Delivery{MessageID: "test-id", Status: mailer.StatusSent}, nil
}

type instantLimiter struct{}

func (instantLimiter) Wait(context.Context, string) error { return nil }
func (instantLimiter) Backoff(string)                     {}
func (instantLimiter) Success(string)                     {}

func seedSession(t *testing.T, store *memory.ResultStore, id uuid.UUID, name string, results int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, crawl.CrawlSession{
		ID:        id,
		Name:      name,
		Keywords:  []string{name},
		Status:    crawl.SessionPending,
		CreatedAt: time.Now().UTC(),
	}))
	for i := 0; i < results; i++ {
		inserted, err := store.AppendResult(ctx, crawl.ResultRecord{
			SessionID:    id,
			Keyword:      name,
			URL:          fmt.Sprintf("https://example.com/%s/%d", name, i),
			Title:        fmt.Sprintf("Result %d", i),
			Domain:       "example.com",
			Fingerprint:  fmt.Sprintf("fp-%s-%d", name, i),
			Rank:         i + 1,
			DiscoveredAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	if results > 0 {
		require.NoError(t, store.UpdateSessionStatus(ctx, id, crawl.SessionCompleted, ""))
	}
}

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	return newTestServerWithStore(t, memory.NewResultStore(), config.Config{})
}

func newTestServerWithStore(t *testing.T, store *memory.ResultStore, cfg config.Config) (*Server, *session.Manager) {
	t.Helper()
	return buildServer(t, store, &captureSender{}, cfg)
}

func newReportTestServer(t *testing.T, store *memory.ResultStore, sender mailer.Sender, cfg config.Config) *Server {
	t.Helper()
	server, _ := buildServer(t, store, sender, cfg)
	return server
}

func buildServer(t *testing.T, store *memory.ResultStore, sender mailer.Sender, cfg config.Config) (*Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(
		store,
		demo.New(),
		instantLimiter{},
		crawl.NewNormalizer(hashsha256.New(), zap.NewNop()),
		nil,
		systemClock{},
		iduuid.New(),
		zap.NewNop(),
		session.Config{MaxConcurrentSessions: 2, DefaultMaxResults: 3, MaxResultsCeiling: 10},
	)
	renderer, err := report.NewRenderer()
	require.NoError(t, err)
	compiler := report.NewCompiler(store, systemClock{})
	return NewServer(manager, store, compiler, renderer, sender, zap.NewNop(), cfg), manager
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
