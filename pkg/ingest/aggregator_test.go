package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tg2tok/clipbridge/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAggregatorFlushCollectsMultipleMembers(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s, 3*time.Second)
	now := time.Now().UTC()

	msg1 := &ParsedMessage{SourceChatID: -100111, MessageID: 1, AlbumID: "group-1", Kind: store.KindPhoto, FileHandle: "file-1", Caption: "album caption", CreatedAt: now.Add(-10 * time.Second)}
	msg2 := &ParsedMessage{SourceChatID: -100111, MessageID: 2, AlbumID: "group-1", Kind: store.KindPhoto, FileHandle: "file-2", CreatedAt: now.Add(-9 * time.Second)}

	if err := agg.Add(msg1, nil); err != nil {
		t.Fatalf("Add msg1: %v", err)
	}
	if err := agg.Add(msg2, nil); err != nil {
		t.Fatalf("Add msg2: %v", err)
	}

	// Buffered rows are stamped with their insertion time, not the parsed
	// message's CreatedAt, so flush at a moment past the window from now.
	bundles, err := agg.FlushDue(now.Add(10 * time.Second))
	if err != nil {
		t.Fatalf("FlushDue: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
	b := bundles[0]
	if b.AlbumID != "group-1" {
		t.Errorf("AlbumID = %q", b.AlbumID)
	}
	if len(b.FileHandles) != 2 || b.FileHandles[0] != "file-1" || b.FileHandles[1] != "file-2" {
		t.Errorf("FileHandles = %v, want ordered [file-1 file-2]", b.FileHandles)
	}
	if b.Caption != "album caption" {
		t.Errorf("Caption = %q", b.Caption)
	}
}

func TestAggregatorNotFlushedBeforeQuiescence(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s, 5*time.Second)
	now := time.Now().UTC()

	msg := &ParsedMessage{SourceChatID: -100111, MessageID: 3, AlbumID: "group-2", Kind: store.KindPhoto, FileHandle: "file-3", CreatedAt: now.Add(-1 * time.Second)}
	if err := agg.Add(msg, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	bundles, err := agg.FlushDue(now)
	if err != nil {
		t.Fatalf("FlushDue: %v", err)
	}
	if len(bundles) != 0 {
		t.Fatalf("expected no bundles before quiescence, got %d", len(bundles))
	}
}

func TestAggregatorAddIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s, 1*time.Second)
	msg := &ParsedMessage{SourceChatID: 1, MessageID: 1, AlbumID: "g", Kind: store.KindPhoto, FileHandle: "h1"}

	if err := agg.Add(msg, nil); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := agg.Add(msg, nil); err != nil {
		t.Fatalf("Add duplicate: %v", err)
	}

	bundles, err := agg.FlushDue(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("FlushDue: %v", err)
	}
	if len(bundles) != 1 || len(bundles[0].FileHandles) != 1 {
		t.Fatalf("expected single deduplicated member, got %+v", bundles)
	}
}

func TestAggregatorIgnoresNonAlbumMessages(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s, 1*time.Second)
	msg := &ParsedMessage{SourceChatID: 1, MessageID: 1, Kind: store.KindPhoto, FileHandle: "h1"}
	if err := agg.Add(msg, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	bundles, err := agg.FlushDue(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("FlushDue: %v", err)
	}
	if len(bundles) != 0 {
		t.Fatalf("expected no bundles for non-album message, got %d", len(bundles))
	}
}
