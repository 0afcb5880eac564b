// Package httpapi exposes the service's HTTP surface: the Telegram
// webhook receiver, the TikTok OAuth authorize/callback pair, an admin
// account listing, and a health check, wrapped in request-id and
// ingress-throttle middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tg2tok/clipbridge/pkg/config"
	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/store"
	"github.com/tg2tok/clipbridge/pkg/tokenlifecycle"
)

const component = "httpapi"

// ingressBurst is the courtesy ingress throttle's burst allowance, applied
// ahead of anything that reaches the worker queue; it is not the
// per-account publishing limiter (see pkg/ratelimit).
const ingressBurst = 20

// Updater accepts a raw Telegram update payload for ingestion.
type Updater interface {
	IngestRaw(payload []byte) error
}

// Server holds the dependencies every handler needs.
type Server struct {
	mux            *http.ServeMux
	webhookSecret  string
	updater        Updater
	lifecycle      *tokenlifecycle.Lifecycle
	store          *store.Store
	defaultMode    store.PostingMode
	ingressLimiter *rate.Limiter
}

// New builds a Server with its routes registered.
func New(cfg *config.Settings, updater Updater, lifecycle *tokenlifecycle.Lifecycle, s *store.Store, ingressPerSecond float64) *Server {
	srv := &Server{
		mux:            http.NewServeMux(),
		webhookSecret:  cfg.TGWebhookSecret,
		updater:        updater,
		lifecycle:      lifecycle,
		store:          s,
		defaultMode:    store.PostingMode(cfg.PostingMode),
		ingressLimiter: rate.NewLimiter(rate.Limit(ingressPerSecond), ingressBurst),
	}
	srv.routes()
	return srv
}

// Handler returns the fully wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /tg/webhook/{secret}", s.throttled(s.handleWebhook))
	s.mux.HandleFunc("GET /tiktok/auth/start", s.handleAuthStart)
	s.mux.HandleFunc("GET /tiktok/auth/callback", s.handleAuthCallback)
	s.mux.HandleFunc("GET /admin/tiktok/accounts", s.handleListAccounts)
}

func (s *Server) throttled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ingressLimiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate limited"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("secret") != s.webhookSecret {
		writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "invalid webhook secret"})
		return
	}

	body, err := readAllLimited(r, 10<<20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "could not read body"})
		return
	}

	if err := s.updater.IngestRaw(body); err != nil {
		logger.ErrorCF(component, "webhook ingest failed", map[string]any{"error": err, "request_id": requestID(r)})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "ingest failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	accountLabel := r.URL.Query().Get("account_label")
	if accountLabel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "account_label is required"})
		return
	}
	mode := store.PostingMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = s.defaultMode
	}

	url, err := s.lifecycle.AuthorizeStart(accountLabel, mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "code and state are required"})
		return
	}

	account, err := s.lifecycle.Callback(r.Context(), code, state)
	if errors.Is(err, tokenlifecycle.ErrInvalidChallenge) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if err != nil {
		logger.ErrorCF(component, "oauth callback failed", map[string]any{"error": err, "request_id": requestID(r)})
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "oauth callback failed: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, accountView(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts()
	if err != nil {
		logger.ErrorCF(component, "list accounts failed", map[string]any{"error": err, "request_id": requestID(r)})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "list accounts failed"})
		return
	}

	out := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		view := accountView(a)
		view["token_present"] = a.AccessToken.Valid && a.AccessToken.String != ""
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func accountView(a *store.Account) map[string]any {
	var expiresAt any
	if a.ExpiresAt.Valid {
		expiresAt = a.ExpiresAt.Time.Format(time.RFC3339)
	}
	return map[string]any{
		"ok":            true,
		"account_label": a.Label,
		"open_id":       a.OpenID.String,
		"posting_mode":  a.PostingMode,
		"needs_reauth":  a.NeedsReauth,
		"granted_scopes": a.GrantedScopes.String,
		"expires_at":    expiresAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readAllLimited(r *http.Request, max int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, max))
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
