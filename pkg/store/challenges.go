package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateChallenge persists a newly-issued AuthChallenge.
func (s *Store) CreateChallenge(token, accountLabel string, mode PostingMode) error {
	_, err := s.db.Exec(`
		INSERT INTO auth_challenges (token, account_label, mode, used, created_at)
		VALUES (?, ?, ?, 0, ?)`, token, accountLabel, string(mode), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: create challenge: %w", err)
	}
	return nil
}

// GetUnusedChallengeByToken returns the matching, not-yet-used challenge,
// or ErrNotFound. Runs inside tx so the caller can mark it used atomically
// with the account upsert.
func (s *Store) GetUnusedChallengeByToken(tx *sql.Tx, token string) (*AuthChallenge, error) {
	row := tx.QueryRow(`
		SELECT id, token, account_label, mode, used, created_at
		FROM auth_challenges WHERE token = ? AND used = 0`, token)

	c := &AuthChallenge{}
	err := row.Scan(&c.ID, &c.Token, &c.AccountLabel, &c.Mode, &c.Used, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan challenge: %w", err)
	}
	return c, nil
}

// MarkChallengeUsed flips the used flag inside tx.
func (s *Store) MarkChallengeUsed(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`UPDATE auth_challenges SET used = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark challenge used: %w", err)
	}
	return nil
}
