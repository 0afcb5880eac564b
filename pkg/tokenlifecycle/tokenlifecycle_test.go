package tokenlifecycle

import (
	"database/sql"
	neturl "net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tg2tok/clipbridge/pkg/sinkclient"
	"github.com/tg2tok/clipbridge/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuthorizeStartRejectsUnknownMode(t *testing.T) {
	l := New(newTestStore(t), sinkclient.New("key", "secret", "https://example.com/callback", time.Second), "key")
	if _, err := l.AuthorizeStart("acct-a", store.PostingMode("bogus")); err != ErrInvalidMode {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestAuthorizeStartRejectsMissingClientKey(t *testing.T) {
	l := New(newTestStore(t), sinkclient.New("", "secret", "https://example.com/callback", time.Second), "")
	if _, err := l.AuthorizeStart("acct-a", store.ModeDraft); err != ErrMissingClientKey {
		t.Fatalf("expected ErrMissingClientKey, got %v", err)
	}
}

func TestAuthorizeStartPersistsChallengeAndReturnsURL(t *testing.T) {
	s := newTestStore(t)
	l := New(s, sinkclient.New("key", "secret", "https://example.com/callback", time.Second), "key")

	url, err := l.AuthorizeStart("acct-a", store.ModeDirect)
	if err != nil {
		t.Fatalf("AuthorizeStart: %v", err)
	}
	if url == "" {
		t.Fatal("expected non-empty authorization URL")
	}

	parsed, err := neturl.Parse(url)
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}
	tx, err := s.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer tx.Rollback()
	if _, err := s.GetUnusedChallengeByToken(tx, parsed.Query().Get("state")); err != nil {
		t.Fatalf("expected a persisted challenge for the URL's state: %v", err)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	s := newTestStore(t)
	l := New(s, sinkclient.New("key", "secret", "https://example.com/callback", time.Second), "key")

	_, err := l.Callback(nil, "code", "never-issued-state")
	if err != ErrInvalidChallenge {
		t.Fatalf("expected ErrInvalidChallenge, got %v", err)
	}
}

func TestEnsureValidTokenFailsWhenAccountMissing(t *testing.T) {
	s := newTestStore(t)
	l := New(s, sinkclient.New("key", "secret", "https://example.com/callback", time.Second), "key")

	if _, err := l.EnsureValidToken(nil, "ghost"); err == nil {
		t.Fatal("expected error for unknown account")
	}
}

func TestExpiryFloorAppliesMinimum(t *testing.T) {
	if got := expiryFloor(5); got != minExpiresIn {
		t.Errorf("expiryFloor(5) = %v, want %v", got, minExpiresIn)
	}
	if got := expiryFloor(3600); got != 3600*time.Second {
		t.Errorf("expiryFloor(3600) = %v, want 3600s", got)
	}
}

func TestAsOAuth2TokenCopiesFields(t *testing.T) {
	account := &store.Account{
		AccessToken:  sql.NullString{String: "at", Valid: true},
		RefreshToken: sql.NullString{String: "rt", Valid: true},
		ExpiresAt:    sql.NullTime{Time: time.Unix(1000, 0), Valid: true},
	}
	tok := AsOAuth2Token(account)
	if tok.AccessToken != "at" || tok.RefreshToken != "rt" {
		t.Errorf("unexpected token: %+v", tok)
	}
}

func TestRandomTokenIsUnpredictableAndURLSafe(t *testing.T) {
	a, err := randomToken()
	if err != nil {
		t.Fatalf("randomToken: %v", err)
	}
	b, err := randomToken()
	if err != nil {
		t.Fatalf("randomToken: %v", err)
	}
	if a == b {
		t.Fatal("expected two distinct random tokens")
	}
	if len(a) < 24 {
		t.Errorf("expected a reasonably long token, got length %d", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("expected a URL-safe token, got %q", a)
	}
}
