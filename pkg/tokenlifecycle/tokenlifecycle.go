// Package tokenlifecycle implements the per-account OAuth lifecycle (C6):
// authorize-start, callback, and ensure-valid-token (refresh with skew,
// reauth marking).
package tokenlifecycle

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/sinkclient"
	"github.com/tg2tok/clipbridge/pkg/store"
)

const component = "tokenlifecycle"

// expirySkew is the window within which ensure-valid-token refuses to
// hand back a credential as still-fresh (the token-skew
// invariant).
const expirySkew = 90 * time.Second

// minExpiresIn is the floor applied to a provider's expires_in.
const minExpiresIn = 60 * time.Second

// modeScopes maps posting mode to the OAuth scopes requested at
// authorize-start.
var modeScopes = map[store.PostingMode]string{
	store.ModeDraft:  "user.info.basic,video.upload",
	store.ModeDirect: "user.info.basic,video.upload,video.publish",
}

var (
	// ErrInvalidMode is returned when authorize-start is given a mode
	// outside {draft, direct}.
	ErrInvalidMode = errors.New("tokenlifecycle: mode must be draft or direct")
	// ErrMissingClientKey means the sink client key is not configured.
	ErrMissingClientKey = errors.New("tokenlifecycle: sink client key is not configured")
	// ErrInvalidChallenge is returned when callback cannot find a matching,
	// unused AuthChallenge for the given state.
	ErrInvalidChallenge = errors.New("tokenlifecycle: invalid or already used auth challenge")
	// ErrIncompleteTokenResponse is returned when the provider's token
	// exchange response is missing access or refresh credentials.
	ErrIncompleteTokenResponse = errors.New("tokenlifecycle: token response missing access_token/refresh_token")
	// ErrNeedsReauth is returned by EnsureValidToken when the account is
	// flagged for reauth.
	ErrNeedsReauth = errors.New("tokenlifecycle: account requires re-authorization")
	// ErrNoAccessToken is returned when the account has no access credential.
	ErrNoAccessToken = errors.New("tokenlifecycle: account has no access token")
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// credential is available.
	ErrNoRefreshToken = errors.New("tokenlifecycle: account has no refresh token")
)

// Lifecycle drives authorize/callback/ensure-valid-token against the
// store and the sink platform's OAuth endpoints.
type Lifecycle struct {
	store     *store.Store
	sink      *sinkclient.Client
	clientKey string
}

// New constructs a Lifecycle. clientKey gates authorize-start.
func New(s *store.Store, sink *sinkclient.Client, clientKey string) *Lifecycle {
	return &Lifecycle{store: s, sink: sink, clientKey: clientKey}
}

// AuthorizeStart validates mode and the configured client key, issues a
// cryptographically random opaque state token, persists an AuthChallenge,
// and returns the provider authorization URL.
func (l *Lifecycle) AuthorizeStart(accountLabel string, mode store.PostingMode) (string, error) {
	scope, ok := modeScopes[mode]
	if !ok {
		return "", ErrInvalidMode
	}
	if l.clientKey == "" {
		return "", ErrMissingClientKey
	}

	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("tokenlifecycle: generate state token: %w", err)
	}
	if err := l.store.CreateChallenge(token, accountLabel, mode); err != nil {
		return "", fmt.Errorf("tokenlifecycle: persist challenge: %w", err)
	}

	return l.sink.BuildAuthorizationURL(scope, token), nil
}

// randomToken generates a >=24-byte, URL-safe-encoded opaque value, per
// entropy requirement.
func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Callback exchanges code for credentials against the challenge matching
// state, upserts the Account, and marks the challenge used — steps 4-5
// commit atomically in one transaction.
func (l *Lifecycle) Callback(ctx context.Context, code, state string) (*store.Account, error) {
	tx, err := l.store.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("tokenlifecycle: begin tx: %w", err)
	}
	defer tx.Rollback()

	challenge, err := l.store.GetUnusedChallengeByToken(tx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("tokenlifecycle: lookup challenge: %w", err)
	}

	result, err := l.sink.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("tokenlifecycle: exchange code: %w", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		return nil, ErrIncompleteTokenResponse
	}

	expiresAt := time.Now().UTC().Add(expiryFloor(result.ExpiresIn))

	if err := l.store.UpsertAccountCredentials(tx, challenge.AccountLabel, result.OpenID,
		result.AccessToken, result.RefreshToken, expiresAt, result.GrantedScopes, challenge.Mode); err != nil {
		return nil, fmt.Errorf("tokenlifecycle: upsert account: %w", err)
	}
	if err := l.store.MarkChallengeUsed(tx, challenge.ID); err != nil {
		return nil, fmt.Errorf("tokenlifecycle: mark challenge used: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tokenlifecycle: commit: %w", err)
	}

	return l.store.GetAccountByLabel(challenge.AccountLabel)
}

// EnsureValidToken returns a still-fresh access credential for label,
// refreshing it first if it is expired or within the 90s skew window.
// Never returns a credential whose expiry is within that window.
func (l *Lifecycle) EnsureValidToken(ctx context.Context, label string) (string, error) {
	account, err := l.store.GetAccountByLabel(label)
	if err != nil {
		return "", fmt.Errorf("tokenlifecycle: load account: %w", err)
	}

	if account.NeedsReauth {
		return "", fmt.Errorf("%w: %s", ErrNeedsReauth, label)
	}
	if !account.AccessToken.Valid || account.AccessToken.String == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAccessToken, label)
	}

	if account.ExpiresAt.Valid && account.ExpiresAt.Time.After(time.Now().UTC().Add(expirySkew)) {
		return account.AccessToken.String, nil
	}

	if !account.RefreshToken.Valid || account.RefreshToken.String == "" {
		if err := l.store.MarkNeedsReauth(label); err != nil {
			logger.ErrorCF(component, "failed to persist needs_reauth", map[string]any{"account": label, "error": err})
		}
		return "", fmt.Errorf("%w: %s", ErrNoRefreshToken, label)
	}

	result, err := l.sink.Refresh(ctx, account.RefreshToken.String)
	if err != nil {
		if markErr := l.store.MarkNeedsReauth(label); markErr != nil {
			logger.ErrorCF(component, "failed to persist needs_reauth", map[string]any{"account": label, "error": markErr})
		}
		logger.ErrorCF(component, "refresh token failed", map[string]any{"account": label, "error": err})
		return "", fmt.Errorf("tokenlifecycle: refresh failed for %s: %w", label, err)
	}

	newAccess := result.AccessToken
	if newAccess == "" {
		newAccess = account.AccessToken.String
	}
	newRefresh := result.RefreshToken
	if newRefresh == "" {
		newRefresh = account.RefreshToken.String
	}
	expiresAt := time.Now().UTC().Add(expiryFloor(result.ExpiresIn))

	if err := l.store.UpdateAccountTokens(label, newAccess, newRefresh, expiresAt); err != nil {
		return "", fmt.Errorf("tokenlifecycle: persist refreshed tokens: %w", err)
	}
	return newAccess, nil
}

func expiryFloor(expiresIn int) time.Duration {
	d := time.Duration(expiresIn) * time.Second
	if d < minExpiresIn {
		d = minExpiresIn
	}
	return d
}

// AsOAuth2Token renders an Account's stored credentials as an
// oauth2.Token for in-process representation (DESIGN.md explains why the
// exchange/refresh calls themselves are hand-rolled rather than using
// oauth2.Config end-to-end).
func AsOAuth2Token(account *store.Account) *oauth2.Token {
	tok := &oauth2.Token{}
	if account.AccessToken.Valid {
		tok.AccessToken = account.AccessToken.String
	}
	if account.RefreshToken.Valid {
		tok.RefreshToken = account.RefreshToken.String
	}
	if account.ExpiresAt.Valid {
		tok.Expiry = account.ExpiresAt.Time
	}
	extra := map[string]any{}
	if account.OpenID.Valid {
		extra["open_id"] = account.OpenID.String
	}
	if account.GrantedScopes.Valid {
		extra["scope"] = account.GrantedScopes.String
	}
	return tok.WithExtra(extra)
}
