package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateContentItem persists a new ContentItem and returns it with its
// assigned id. Creation must be durable before the id is placed on the
// worker queue, so this is always a synchronous single-row insert.
func (s *Store) CreateContentItem(kind ContentKind, chatID, messageID int64, albumID string, caption, sourceText string, fileHandles []string, rawUpdate json.RawMessage) (*ContentItem, error) {
	now := time.Now().UTC()
	if rawUpdate == nil {
		rawUpdate = json.RawMessage("{}")
	}

	res, err := s.db.Exec(`
		INSERT INTO content_items (kind, source_chat_id, source_message_id, album_id,
			caption, source_text, file_handles_json, local_paths_json, raw_update_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '[]', ?, ?)`,
		string(kind), chatID, messageID, nullableString(albumID), caption, sourceText,
		marshalStrings(fileHandles), string(rawUpdate), now)
	if err != nil {
		return nil, fmt.Errorf("store: create content item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: content item id: %w", err)
	}
	return s.GetContentItem(id)
}

// GetContentItem loads a ContentItem by id, or ErrNotFound.
func (s *Store) GetContentItem(id int64) (*ContentItem, error) {
	row := s.db.QueryRow(`
		SELECT id, kind, source_chat_id, source_message_id, album_id, caption, source_text,
		       file_handles_json, local_paths_json, raw_update_json, created_at, processed_at
		FROM content_items WHERE id = ?`, id)

	c := &ContentItem{}
	var fileHandlesJSON, localPathsJSON, rawJSON string
	err := row.Scan(&c.ID, &c.Kind, &c.SourceChatID, &c.SourceMessageID, &c.AlbumID, &c.Caption,
		&c.SourceText, &fileHandlesJSON, &localPathsJSON, &rawJSON, &c.CreatedAt, &c.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan content item: %w", err)
	}
	c.FileHandles = unmarshalStrings(fileHandlesJSON)
	c.LocalPaths = unmarshalStrings(localPathsJSON)
	c.RawUpdate = json.RawMessage(rawJSON)
	return c, nil
}

// SetLocalPaths persists the materializer's result. Called once per
// successfully-downloaded batch; partial materialization is allowed, so
// the stored list always reflects what was actually written.
func (s *Store) SetLocalPaths(id int64, paths []string) error {
	_, err := s.db.Exec(`UPDATE content_items SET local_paths_json = ? WHERE id = ?`, marshalStrings(paths), id)
	if err != nil {
		return fmt.Errorf("store: set local paths: %w", err)
	}
	return nil
}

// SetProcessed stamps the ContentItem's processed instant.
func (s *Store) SetProcessed(id int64, when time.Time) error {
	_, err := s.db.Exec(`UPDATE content_items SET processed_at = ? WHERE id = ?`, when, id)
	if err != nil {
		return fmt.Errorf("store: set processed: %w", err)
	}
	return nil
}
