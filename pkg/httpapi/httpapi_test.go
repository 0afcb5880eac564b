package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tg2tok/clipbridge/pkg/config"
	"github.com/tg2tok/clipbridge/pkg/sinkclient"
	"github.com/tg2tok/clipbridge/pkg/store"
	"github.com/tg2tok/clipbridge/pkg/tokenlifecycle"
)

type fakeUpdater struct {
	lastPayload []byte
	failNext    bool
}

func (f *fakeUpdater) IngestRaw(payload []byte) error {
	f.lastPayload = payload
	if f.failNext {
		return errSentinel
	}
	return nil
}

var errSentinel = &sentinelError{}

type sentinelError struct{}

func (e *sentinelError) Error() string { return "sentinel ingest failure" }

func newTestServer(t *testing.T) (*Server, *fakeUpdater) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sink := sinkclient.New("key", "secret", "https://example.com/callback", time.Second)
	lifecycle := tokenlifecycle.New(s, sink, "key")

	cfg := &config.Settings{TGWebhookSecret: "topsecret", PostingMode: config.ModeDraft}
	updater := &fakeUpdater{}
	return New(cfg, updater, lifecycle, s, 100), updater
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tg/webhook/wrong-secret", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookAcceptsCorrectSecretAndIngests(t *testing.T) {
	srv, updater := newTestServer(t)
	body := []byte(`{"update_id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/tg/webhook/topsecret", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(updater.lastPayload) != string(body) {
		t.Errorf("payload = %q, want %q", updater.lastPayload, body)
	}
}

func TestAuthStartRequiresAccountLabel(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tiktok/auth/start", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthStartRedirectsForValidAccountLabel(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tiktok/auth/start?account_label=acct-a", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
}

func TestAuthCallbackRejectsUnknownState(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/tiktok/auth/callback?code=abc&state=unknown", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAccountsReturnsEmptyArrayInitially(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/tiktok/accounts", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() == "" {
		t.Fatal("expected a JSON body")
	}
}

func TestResponsesCarryRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}
