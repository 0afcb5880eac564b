package ingest

import (
	"encoding/json"
	"time"

	"github.com/tg2tok/clipbridge/pkg/store"
)

// defaultFlushWindow is the default window; config can override it
// down to the 1s floor.
const defaultFlushWindow = 3 * time.Second

// minFlushWindow is the floor; a smaller configured window is raised to it.
const minFlushWindow = 1 * time.Second

// Aggregator persistently buffers album members and emits bundles once a
// group has been quiet for flushWindow (C3). It holds no in-memory state
// of its own: every member and every bundle round-trips through the store
// so a crash between album messages never loses a member.
type Aggregator struct {
	store       *store.Store
	flushWindow time.Duration
}

// NewAggregator constructs an Aggregator with the given flush window,
// floored at 1s.
func NewAggregator(s *store.Store, flushWindow time.Duration) *Aggregator {
	if flushWindow < minFlushWindow {
		flushWindow = minFlushWindow
	}
	return &Aggregator{store: s, flushWindow: flushWindow}
}

// Add buffers one album member. Non-album parses (AlbumID == "") are
// rejected — they are handled directly by the content-creation path, not
// the aggregator. Duplicate submissions of the same (album id, message
// id, file handle) are idempotent; the store's unique constraint absorbs
// the conflict.
func (a *Aggregator) Add(parsed *ParsedMessage, raw json.RawMessage) error {
	if parsed == nil || parsed.AlbumID == "" {
		return nil
	}
	return a.store.AddAlbumMember(
		parsed.AlbumID,
		parsed.SourceChatID,
		parsed.MessageID,
		parsed.Kind,
		parsed.FileHandle,
		parsed.Caption,
		parsed.Text,
		raw,
	)
}

// FlushDue selects every album whose earliest buffered row is older than
// now-flushWindow, builds one Bundle per album ordered by message id
// ascending, and deletes the flushed rows. The selection, read, and
// delete happen inside one store transaction so a concurrent Add cannot
// be lost or duplicated across the flush boundary.
func (a *Aggregator) FlushDue(now time.Time) ([]store.AlbumBundle, error) {
	return a.store.FlushDue(now, a.flushWindow)
}
