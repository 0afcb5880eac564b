package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// AddAlbumMember inserts one AlbumBuffer row. Duplicate inserts (same
// album id, message id, file handle) are idempotent: the unique
// constraint absorbs the conflict and this is a no-op rather than an error.
func (s *Store) AddAlbumMember(albumID string, chatID, messageID int64, kind ContentKind, fileHandle, caption, sourceText string, rawMessage json.RawMessage) error {
	if rawMessage == nil {
		rawMessage = json.RawMessage("{}")
	}
	_, err := s.db.Exec(`
		INSERT INTO album_buffer (album_id, source_chat_id, source_message_id, kind,
			file_handle, caption, source_text, raw_message_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (album_id, source_message_id, file_handle) DO NOTHING`,
		albumID, chatID, messageID, string(kind), fileHandle, caption, sourceText, string(rawMessage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: add album member: %w", err)
	}
	return nil
}

// FlushDue selects every album whose earliest buffered row is older than
// now-flushWindow, builds a Bundle per album ordered by message id
// ascending, and deletes the flushed rows — all within one transaction on
// the store's single connection so concurrent AddAlbumMember calls cannot interleave with
// a flush in a way that loses or duplicates a member.
func (s *Store) FlushDue(now time.Time, flushWindow time.Duration) ([]AlbumBundle, error) {
	// The store's single-connection pool (see Open) means this transaction
	// already has exclusive access to the database for its lifetime — no
	// other goroutine's statement can interleave between the SELECT and the
	// DELETE below, giving the same effect as BEGIN IMMEDIATE would under a
	// multi-connection pool.
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: flush due begin: %w", err)
	}
	defer tx.Rollback()

	threshold := now.Add(-flushWindow)
	rows, err := tx.Query(`
		SELECT album_id FROM album_buffer
		GROUP BY album_id
		HAVING MIN(created_at) <= ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("store: select due albums: %w", err)
	}

	var albumIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan due album id: %w", err)
		}
		albumIDs = append(albumIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(albumIDs) == 0 {
		return nil, tx.Commit()
	}

	var bundles []AlbumBundle
	for _, albumID := range albumIDs {
		memberRows, err := tx.Query(`
			SELECT source_chat_id, source_message_id, file_handle, caption, source_text, created_at
			FROM album_buffer WHERE album_id = ? ORDER BY source_message_id ASC`, albumID)
		if err != nil {
			return nil, fmt.Errorf("store: select album members: %w", err)
		}

		var (
			chatID     int64
			msgIDs     []int64
			handles    []string
			caption    string
			sourceText string
			minCreated time.Time
			first      = true
		)
		for memberRows.Next() {
			var (
				rowChat, rowMsg        int64
				rowHandle, rowCaption  string
				rowText                string
				rowCreated             time.Time
			)
			if err := memberRows.Scan(&rowChat, &rowMsg, &rowHandle, &rowCaption, &rowText, &rowCreated); err != nil {
				memberRows.Close()
				return nil, fmt.Errorf("store: scan album member: %w", err)
			}
			chatID = rowChat
			msgIDs = append(msgIDs, rowMsg)
			handles = append(handles, rowHandle)
			if caption == "" && rowCaption != "" {
				caption = rowCaption
			}
			if sourceText == "" && rowText != "" {
				sourceText = rowText
			}
			if first || rowCreated.Before(minCreated) {
				minCreated = rowCreated
				first = false
			}
		}
		memberRows.Close()
		if err := memberRows.Err(); err != nil {
			return nil, err
		}
		if len(handles) == 0 {
			continue
		}

		bundles = append(bundles, AlbumBundle{
			AlbumID:          albumID,
			SourceChatID:     chatID,
			SourceMessageIDs: msgIDs,
			FileHandles:      handles,
			Caption:          caption,
			SourceText:       sourceText,
			CreatedAt:        minCreated,
		})
	}

	for _, albumID := range albumIDs {
		if _, err := tx.Exec(`DELETE FROM album_buffer WHERE album_id = ?`, albumID); err != nil {
			return nil, fmt.Errorf("store: delete flushed album: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: flush due commit: %w", err)
	}
	return bundles, nil
}
