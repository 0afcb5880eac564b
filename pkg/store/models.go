package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ContentKind classifies a ContentItem's media shape.
type ContentKind string

const (
	KindVideo ContentKind = "video"
	KindPhoto ContentKind = "photo"
	KindAlbum ContentKind = "album"
)

// PostingMode gates which OAuth scopes an Account holds.
type PostingMode string

const (
	ModeDraft  PostingMode = "draft"
	ModeDirect PostingMode = "direct"
)

// DeliveryStatus tracks one Delivery row's progress toward publication.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// Account is a sink-platform identity, addressed by its unique label.
type Account struct {
	ID            int64
	Label         string
	OpenID        sql.NullString
	AccessToken   sql.NullString
	RefreshToken  sql.NullString
	ExpiresAt     sql.NullTime
	GrantedScopes sql.NullString
	PostingMode   PostingMode
	NeedsReauth   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuthChallenge is a single-use anti-CSRF binding between authorize-start
// and the OAuth callback.
type AuthChallenge struct {
	ID           int64
	Token        string
	AccountLabel string
	Mode         PostingMode
	Used         bool
	CreatedAt    time.Time
}

// ContentItem is one logical post awaiting or having undergone publication.
type ContentItem struct {
	ID              int64
	Kind            ContentKind
	SourceChatID    int64
	SourceMessageID int64
	AlbumID         sql.NullString
	Caption         string
	SourceText      string
	FileHandles     []string
	LocalPaths      []string
	RawUpdate       json.RawMessage
	CreatedAt       time.Time
	ProcessedAt     sql.NullTime
}

// SourceKey derives the deterministic identifier used as one half of the
// Delivery uniqueness key, per the precedence: album group, then singleton
// message, then (only if neither is set) the row's own id.
func (c *ContentItem) SourceKey() string {
	if c.AlbumID.Valid && c.AlbumID.String != "" {
		return fmt.Sprintf("group:%d:%s", c.SourceChatID, c.AlbumID.String)
	}
	if c.SourceMessageID != 0 {
		return fmt.Sprintf("msg:%d:%d", c.SourceChatID, c.SourceMessageID)
	}
	return fmt.Sprintf("content:%d", c.ID)
}

// Delivery is the outcome of one ContentItem against one Account.
type Delivery struct {
	ID            int64
	ContentItemID int64
	SourceKey     string
	AccountLabel  string
	Status        DeliveryStatus
	ErrorText     sql.NullString
	PostID        sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlbumBufferEntry is one transient member of an in-flight album, persisted
// so a crash between album messages doesn't lose the member.
type AlbumBufferEntry struct {
	ID              int64
	AlbumID         string
	SourceChatID    int64
	SourceMessageID int64
	Kind            ContentKind
	FileHandle      string
	Caption         string
	SourceText      string
	RawMessage      json.RawMessage
	CreatedAt       time.Time
}

// AlbumBundle is the aggregator's output: a quiesced album ready to become
// one ContentItem.
type AlbumBundle struct {
	AlbumID         string
	SourceChatID    int64
	SourceMessageIDs []int64
	FileHandles     []string
	Caption         string
	SourceText      string
	CreatedAt       time.Time
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
