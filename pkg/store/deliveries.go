package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateDelivery looks up the Delivery for (sourceKey, accountLabel),
// creating a pending row if none exists. The unique index on
// (source_key, account_label) is the exactly-once interlock: a concurrent
// insert race is absorbed by catching the constraint violation and
// re-reading, never by a pre-check-then-insert pattern.
func (s *Store) GetOrCreateDelivery(contentItemID int64, sourceKey, accountLabel string) (*Delivery, error) {
	if d, err := s.getDelivery(sourceKey, accountLabel); err == nil {
		return d, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO deliveries (content_item_id, source_key, account_label, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)`, contentItemID, sourceKey, accountLabel, now, now)
	if err != nil {
		// Unique-constraint violation: another writer won the race: re-read.
		if d, readErr := s.getDelivery(sourceKey, accountLabel); readErr == nil {
			return d, nil
		}
		return nil, fmt.Errorf("store: create delivery: %w", err)
	}
	return s.getDelivery(sourceKey, accountLabel)
}

func (s *Store) getDelivery(sourceKey, accountLabel string) (*Delivery, error) {
	row := s.db.QueryRow(`
		SELECT id, content_item_id, source_key, account_label, status, error_text, post_id, created_at, updated_at
		FROM deliveries WHERE source_key = ? AND account_label = ?`, sourceKey, accountLabel)

	d := &Delivery{}
	err := row.Scan(&d.ID, &d.ContentItemID, &d.SourceKey, &d.AccountLabel, &d.Status,
		&d.ErrorText, &d.PostID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan delivery: %w", err)
	}
	return d, nil
}

// MarkSent transitions a Delivery to sent with the given post id. A
// Delivery already sent is never mutated back, so callers must check
// status before attempting a publish in the first place; this method does
// not re-check, it simply records the terminal success state.
func (s *Store) MarkSent(id int64, postID string) error {
	_, err := s.db.Exec(`
		UPDATE deliveries SET status = 'sent', error_text = NULL, post_id = ?, updated_at = ?
		WHERE id = ?`, nullableString(postID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark delivery sent: %w", err)
	}
	return nil
}

// MarkFailed transitions a Delivery to failed with the given (already
// truncated) error text.
func (s *Store) MarkFailed(id int64, errText string) error {
	_, err := s.db.Exec(`
		UPDATE deliveries SET status = 'failed', error_text = ?, updated_at = ?
		WHERE id = ?`, errText, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark delivery failed: %w", err)
	}
	return nil
}
