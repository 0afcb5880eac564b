package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// GetAccountByLabel returns the account with the given label, or ErrNotFound.
func (s *Store) GetAccountByLabel(label string) (*Account, error) {
	row := s.db.QueryRow(`
		SELECT id, label, open_id, access_token, refresh_token, expires_at,
		       granted_scopes, posting_mode, needs_reauth, created_at, updated_at
		FROM accounts WHERE label = ?`, label)
	return scanAccount(row)
}

// ListAccounts returns every account ordered by label ascending, the
// deterministic fan-out order the orchestrator and the admin listing rely on.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(`
		SELECT id, label, open_id, access_token, refresh_token, expires_at,
		       granted_scopes, posting_mode, needs_reauth, created_at, updated_at
		FROM accounts ORDER BY label ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAccountsByLabels returns accounts whose label is in labels, ordered
// by label ascending.
func (s *Store) ListAccountsByLabels(labels []string) ([]*Account, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(labels))
	query := "SELECT id, label, open_id, access_token, refresh_token, expires_at, granted_scopes, posting_mode, needs_reauth, created_at, updated_at FROM accounts WHERE label IN ("
	for i, l := range labels {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = l
	}
	query += ") ORDER BY label ASC"

	rows, err := s.db.Query(query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts by labels: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccountCredentials creates the account if absent, otherwise updates
// it in place, setting credentials/expiry/scopes/mode and clearing
// needs_reauth. Used by the OAuth callback, which must commit this together
// with marking the challenge used.
func (s *Store) UpsertAccountCredentials(tx *sql.Tx, label, openID, accessToken, refreshToken string, expiresAt time.Time, grantedScopes string, mode PostingMode) error {
	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE accounts SET open_id=?, access_token=?, refresh_token=?, expires_at=?,
			granted_scopes=?, posting_mode=?, needs_reauth=0, updated_at=?
		WHERE label=?`,
		nullableString(openID), accessToken, refreshToken, expiresAt, grantedScopes, string(mode), now, label)
	if err != nil {
		return fmt.Errorf("store: update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = tx.Exec(`
		INSERT INTO accounts (label, open_id, access_token, refresh_token, expires_at,
			granted_scopes, posting_mode, needs_reauth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		label, nullableString(openID), accessToken, refreshToken, expiresAt, grantedScopes, string(mode), now, now)
	if err != nil {
		return fmt.Errorf("store: insert account: %w", err)
	}
	return nil
}

// UpdateAccountTokens persists a successful refresh.
func (s *Store) UpdateAccountTokens(label, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET access_token=?, refresh_token=?, expires_at=?, needs_reauth=0, updated_at=?
		WHERE label=?`, accessToken, refreshToken, expiresAt, time.Now().UTC(), label)
	if err != nil {
		return fmt.Errorf("store: update account tokens: %w", err)
	}
	return nil
}

// MarkNeedsReauth flags an account for reauth, e.g. after a refresh failure
// or when no refresh credential is available.
func (s *Store) MarkNeedsReauth(label string) error {
	_, err := s.db.Exec(`UPDATE accounts SET needs_reauth=1, updated_at=? WHERE label=?`, time.Now().UTC(), label)
	if err != nil {
		return fmt.Errorf("store: mark needs reauth: %w", err)
	}
	return nil
}

// BeginTx starts a transaction. Exposed so callers coordinating
// cross-repository atomicity (OAuth callback: account upsert + challenge
// mark-used) can do so in one commit.
func (s *Store) BeginTx() (*sql.Tx, error) {
	return s.db.Begin()
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.Label, &a.OpenID, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt,
		&a.GrantedScopes, &a.PostingMode, &a.NeedsReauth, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan account: %w", err)
	}
	return a, nil
}

func scanAccountRows(row rowScanner) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.Label, &a.OpenID, &a.AccessToken, &a.RefreshToken, &a.ExpiresAt,
		&a.GrantedScopes, &a.PostingMode, &a.NeedsReauth, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan account: %w", err)
	}
	return a, nil
}
