package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/store"
)

const component = "ingest"

// Enqueuer is the worker queue's intake side (C10). Ingestor depends on
// this narrow interface rather than pkg/worker directly so webhook and
// long-poll ingress, and the album flusher, all funnel through one
// Ingest/EmitDueAlbums entry point without a package cycle.
type Enqueuer interface {
	Enqueue(contentItemID int64)
}

// Ingestor is the shared entry point for both webhook and long-poll
// ingress (C11): parse, apply the chat allowlist, then either buffer an
// album member or create a ContentItem directly and enqueue it.
type Ingestor struct {
	store          *store.Store
	aggregator     *Aggregator
	enqueue        Enqueuer
	allowedChatIDs map[int64]struct{}
}

// NewIngestor constructs an Ingestor. allowedChatIDs empty means no filter.
func NewIngestor(s *store.Store, aggregator *Aggregator, enqueue Enqueuer, allowedChatIDs map[int64]struct{}) *Ingestor {
	return &Ingestor{store: s, aggregator: aggregator, enqueue: enqueue, allowedChatIDs: allowedChatIDs}
}

// Ingest parses update, drops it if the chat is filtered out, then either
// buffers it as an album member or creates and enqueues a ContentItem.
func (i *Ingestor) Ingest(ctx context.Context, update *telego.Update) error {
	message := ExtractMessage(update)
	if message == nil {
		return nil
	}
	parsed := ParseMessage(message)
	if parsed == nil {
		return nil
	}

	if len(i.allowedChatIDs) > 0 {
		if _, ok := i.allowedChatIDs[parsed.SourceChatID]; !ok {
			logger.InfoCF(component, "chat not allowed, skipping", map[string]any{"chat_id": parsed.SourceChatID})
			return nil
		}
	}

	raw := RawSnapshot(update)

	if parsed.AlbumID != "" {
		return i.aggregator.Add(parsed, raw)
	}

	item, err := i.store.CreateContentItem(
		parsed.Kind, parsed.SourceChatID, parsed.MessageID, "",
		parsed.Caption, parsed.Text, []string{parsed.FileHandle}, raw,
	)
	if err != nil {
		return fmt.Errorf("ingest: create content item: %w", err)
	}

	i.enqueue.Enqueue(item.ID)
	return nil
}

// IngestRaw unmarshals a raw Telegram update payload (as delivered by the
// webhook) and runs it through Ingest. Used directly as the httpapi
// Updater implementation.
func (i *Ingestor) IngestRaw(payload []byte) error {
	var update telego.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("ingest: decode update: %w", err)
	}
	return i.Ingest(context.Background(), &update)
}

// EmitDueAlbums flushes every quiesced album (C3), creates one ContentItem
// per bundle (C4), and enqueues each for delivery. Invoked by the worker
// runtime's periodic flusher (C10). Returns the number of ContentItems
// created.
func (i *Ingestor) EmitDueAlbums(ctx context.Context, now time.Time) (int, error) {
	bundles, err := i.aggregator.FlushDue(now)
	if err != nil {
		return 0, fmt.Errorf("ingest: flush due albums: %w", err)
	}

	for _, bundle := range bundles {
		minMsgID := bundle.SourceMessageIDs[0]
		for _, id := range bundle.SourceMessageIDs[1:] {
			if id < minMsgID {
				minMsgID = id
			}
		}

		raw, _ := json.Marshal(map[string]any{
			"album_id":           bundle.AlbumID,
			"source_message_ids": bundle.SourceMessageIDs,
		})

		item, err := i.store.CreateContentItem(
			store.KindAlbum, bundle.SourceChatID, minMsgID, bundle.AlbumID,
			bundle.Caption, bundle.SourceText, bundle.FileHandles, raw,
		)
		if err != nil {
			return 0, fmt.Errorf("ingest: create album content item: %w", err)
		}
		i.enqueue.Enqueue(item.ID)
	}

	return len(bundles), nil
}
