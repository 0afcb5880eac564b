// Package ingest turns raw source-platform updates into ParsedMessage
// records (C2) and buffers/aggregates multi-message albums into single
// logical bundles (C3).
package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tg2tok/clipbridge/pkg/store"
)

// ParsedMessage is the normalized result of C2's extraction/kind-detection
// precedence, or nil if the update is rejected.
type ParsedMessage struct {
	SourceChatID int64
	MessageID    int64
	AlbumID      string
	Kind         store.ContentKind
	FileHandle   string
	Caption      string
	Text         string
	CreatedAt    time.Time
}

// ExtractMessage applies the channel-post-then-message extraction
// precedence. Returns nil if neither variant is present.
func ExtractMessage(update *telego.Update) *telego.Message {
	if update == nil {
		return nil
	}
	if update.ChannelPost != nil {
		return update.ChannelPost
	}
	if update.Message != nil {
		return update.Message
	}
	return nil
}

// ParseMessage applies the kind-detection precedence:
// video attachment, then video-mime document, then largest photo size,
// else reject. A record additionally requires a non-zero chat id and
// message id; a message lacking either is rejected as well.
func ParseMessage(message *telego.Message) *ParsedMessage {
	if message == nil {
		return nil
	}

	chatID := message.Chat.ID
	messageID := int64(message.MessageID)
	if chatID == 0 || messageID == 0 {
		return nil
	}

	caption := strings.TrimSpace(message.Caption)
	text := strings.TrimSpace(message.Text)
	albumID := strings.TrimSpace(message.MediaGroupID)
	createdAt := parseCreatedAt(message.Date)

	base := ParsedMessage{
		SourceChatID: chatID,
		MessageID:    messageID,
		AlbumID:      albumID,
		Caption:      caption,
		Text:         text,
		CreatedAt:    createdAt,
	}

	if message.Video != nil && message.Video.FileID != "" {
		base.Kind = store.KindVideo
		base.FileHandle = message.Video.FileID
		return &base
	}

	if message.Document != nil && message.Document.FileID != "" &&
		strings.HasPrefix(strings.ToLower(message.Document.MimeType), "video/") {
		base.Kind = store.KindVideo
		base.FileHandle = message.Document.FileID
		return &base
	}

	if len(message.Photo) > 0 {
		best := pickLargestPhoto(message.Photo)
		if best.FileID != "" {
			base.Kind = store.KindPhoto
			base.FileHandle = best.FileID
			return &base
		}
	}

	return nil
}

// pickLargestPhoto selects the size whose (byte size, width*height) pair
// is lexicographically largest.
func pickLargestPhoto(sizes []telego.PhotoSize) telego.PhotoSize {
	best := sizes[0]
	bestKey := photoSortKey(best)
	for _, s := range sizes[1:] {
		key := photoSortKey(s)
		if key[0] > bestKey[0] || (key[0] == bestKey[0] && key[1] > bestKey[1]) {
			best = s
			bestKey = key
		}
	}
	return best
}

func photoSortKey(s telego.PhotoSize) [2]int64 {
	return [2]int64{int64(s.FileSize), int64(s.Width) * int64(s.Height)}
}

func parseCreatedAt(epochSeconds int64) time.Time {
	if epochSeconds <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(epochSeconds, 0).UTC()
}

// RawSnapshot marshals the original update for forensic replay storage on
// the ContentItem.
func RawSnapshot(update *telego.Update) json.RawMessage {
	b, err := json.Marshal(update)
	if err != nil || len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}
