// Package orchestrator fans a materialized ContentItem out to every
// target account, rate-limiting and recording a Delivery per account so
// retries never double-publish.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/media"
	"github.com/tg2tok/clipbridge/pkg/publish"
	"github.com/tg2tok/clipbridge/pkg/ratelimit"
	"github.com/tg2tok/clipbridge/pkg/store"
	"github.com/tg2tok/clipbridge/pkg/tokenlifecycle"
	"github.com/tg2tok/clipbridge/pkg/transcode"
)

const component = "orchestrator"

// maxErrorTextLength bounds what gets written into a Delivery's error_text
// column, keeping an oversized exception message from bloating a row.
const maxErrorTextLength = 2000

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".avi": true, ".webm": true, ".mkv": true,
}

// CaptionSettings carries the caption-composition knobs from configuration.
type CaptionSettings struct {
	Template  string
	Hashtags  string
	MaxLength int
}

// TranscodeSettings carries the slideshow-fallback knobs from configuration.
type TranscodeSettings struct {
	SlideSeconds int
	SlideshowFPS int
}

// Orchestrator wires the materializer, token lifecycle, rate limiter, and
// publisher together to deliver one ContentItem to its target accounts.
type Orchestrator struct {
	store           *store.Store
	materializer    *media.Materializer
	lifecycle       *tokenlifecycle.Lifecycle
	limiter         *ratelimit.Limiter
	publisher       *publish.Publisher
	chatAccounts    map[int64][]string
	defaultMode     store.PostingMode
	fallbackToDraft bool
	enablePhotoAPI  bool
	mediaRoot       string
	caption         CaptionSettings
	transcodeCfg    TranscodeSettings
}

// New constructs an Orchestrator.
func New(
	s *store.Store,
	materializer *media.Materializer,
	lifecycle *tokenlifecycle.Lifecycle,
	limiter *ratelimit.Limiter,
	publisher *publish.Publisher,
	chatAccounts map[int64][]string,
	defaultMode store.PostingMode,
	fallbackToDraft, enablePhotoAPI bool,
	mediaRoot string,
	caption CaptionSettings,
	transcodeCfg TranscodeSettings,
) *Orchestrator {
	return &Orchestrator{
		store:           s,
		materializer:    materializer,
		lifecycle:       lifecycle,
		limiter:         limiter,
		publisher:       publisher,
		chatAccounts:    chatAccounts,
		defaultMode:     defaultMode,
		fallbackToDraft: fallbackToDraft,
		enablePhotoAPI:  enablePhotoAPI,
		mediaRoot:       mediaRoot,
		caption:         caption,
		transcodeCfg:    transcodeCfg,
	}
}

// ProcessContentItem materializes the item's media, resolves its target
// accounts, and delivers to each in turn, recording a terminal Delivery
// status for every one even when materialization itself fails.
func (o *Orchestrator) ProcessContentItem(ctx context.Context, contentItemID int64) error {
	item, err := o.store.GetContentItem(contentItemID)
	if err != nil {
		return fmt.Errorf("orchestrator: load content item: %w", err)
	}

	localPaths, err := o.materializer.Ensure(ctx, item)
	if err != nil {
		logger.ErrorCF(component, "media materialization failed", map[string]any{
			"content_item_id": contentItemID, "error": err,
		})
		o.markAllDeliveriesFailed(item, fmt.Sprintf("media download failed: %v", err))
		return nil
	}

	captionText := media.BuildCaption(item.Caption, item.SourceText, o.caption.Template, o.caption.Hashtags, o.caption.MaxLength)

	accounts := o.resolveTargetAccounts(item.SourceChatID)
	if len(accounts) == 0 {
		logger.WarnCF(component, "no target accounts for chat", map[string]any{"content_item_id": item.ID, "chat_id": item.SourceChatID})
		return nil
	}

	sourceKey := item.SourceKey()
	for _, account := range accounts {
		o.deliverToAccount(ctx, item, account, sourceKey, captionText, localPaths)
	}

	return o.store.SetProcessed(item.ID, time.Now().UTC())
}

// resolveTargetAccounts returns the accounts mapped to sourceChatID, or
// every account (ordered by label) when the chat has no explicit mapping.
func (o *Orchestrator) resolveTargetAccounts(sourceChatID int64) []*store.Account {
	if labels, ok := o.chatAccounts[sourceChatID]; ok && len(labels) > 0 {
		sorted := append([]string(nil), labels...)
		sort.Strings(sorted)
		accounts, err := o.store.ListAccountsByLabels(sorted)
		if err != nil {
			logger.ErrorCF(component, "list accounts by label failed", map[string]any{"error": err})
			return nil
		}
		return accounts
	}
	accounts, err := o.store.ListAccounts()
	if err != nil {
		logger.ErrorCF(component, "list accounts failed", map[string]any{"error": err})
		return nil
	}
	return accounts
}

func (o *Orchestrator) deliverToAccount(ctx context.Context, item *store.ContentItem, account *store.Account, sourceKey, caption string, localPaths []string) {
	delivery, err := o.store.GetOrCreateDelivery(item.ID, sourceKey, account.Label)
	if err != nil {
		logger.ErrorCF(component, "get-or-create delivery failed", map[string]any{
			"content_item_id": item.ID, "account": account.Label, "error": err,
		})
		return
	}
	if delivery.Status == store.StatusSent {
		return
	}

	o.limiter.Wait(account.Label)

	accessToken, err := o.lifecycle.EnsureValidToken(ctx, account.Label)
	if err != nil {
		o.recordFailure(delivery, err)
		return
	}

	mode := account.PostingMode
	if mode == "" {
		mode = o.defaultMode
	}

	result, err := o.publish(ctx, item, accessToken, mode, caption, localPaths)
	if err != nil {
		o.recordFailure(delivery, err)
		return
	}

	if err := o.store.MarkSent(delivery.ID, result.PostID); err != nil {
		logger.ErrorCF(component, "mark delivery sent failed", map[string]any{"delivery_id": delivery.ID, "error": err})
	}
}

func (o *Orchestrator) recordFailure(delivery *store.Delivery, err error) {
	logger.ErrorCF(component, "delivery failed", map[string]any{"delivery_id": delivery.ID, "error": err})
	text := err.Error()
	if len(text) > maxErrorTextLength {
		text = text[:maxErrorTextLength]
	}
	if markErr := o.store.MarkFailed(delivery.ID, text); markErr != nil {
		logger.ErrorCF(component, "mark delivery failed failed", map[string]any{"delivery_id": delivery.ID, "error": markErr})
	}
}

func (o *Orchestrator) publish(ctx context.Context, item *store.ContentItem, accessToken string, mode store.PostingMode, caption string, localPaths []string) (publish.Result, error) {
	if item.Kind == store.KindVideo {
		return o.publisher.PublishVideo(ctx, accessToken, localPaths[0], caption, mode, o.fallbackToDraft)
	}

	imagePaths := filterByExtension(localPaths, imageExtensions)

	if o.enablePhotoAPI && len(imagePaths) > 0 {
		result, ok, err := o.publisher.TryPublishPhotoOrCarousel(ctx, accessToken, imagePaths, caption, mode)
		if err != nil {
			return publish.Result{}, err
		}
		if ok {
			return result, nil
		}
	}

	videoPath, err := o.convertToVideo(item, localPaths, imagePaths)
	if err != nil {
		return publish.Result{}, fmt.Errorf("orchestrator: transcode fallback: %w", err)
	}
	return o.publisher.PublishVideo(ctx, accessToken, videoPath, caption, mode, o.fallbackToDraft)
}

func (o *Orchestrator) convertToVideo(item *store.ContentItem, localPaths, imagePaths []string) (string, error) {
	dir := filepath.Join(o.mediaRoot, strconv.FormatInt(item.ID, 10))
	target := filepath.Join(dir, fmt.Sprintf("%d_slideshow.mp4", item.ID))

	if item.Kind == store.KindPhoto {
		if err := transcode.PhotoToVideo(localPaths[0], target, o.transcodeCfg.SlideSeconds, o.transcodeCfg.SlideshowFPS); err != nil {
			return "", err
		}
		return target, nil
	}

	if len(imagePaths) > 0 {
		if err := transcode.AlbumToVideo(imagePaths, target, o.transcodeCfg.SlideSeconds, o.transcodeCfg.SlideshowFPS); err != nil {
			return "", err
		}
		return target, nil
	}

	for _, path := range localPaths {
		if videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return path, nil
		}
	}
	if len(localPaths) == 0 {
		return "", fmt.Errorf("orchestrator: no local files to fall back to")
	}
	return localPaths[0], nil
}

func (o *Orchestrator) markAllDeliveriesFailed(item *store.ContentItem, errText string) {
	accounts := o.resolveTargetAccounts(item.SourceChatID)
	sourceKey := item.SourceKey()
	if len(errText) > maxErrorTextLength {
		errText = errText[:maxErrorTextLength]
	}
	for _, account := range accounts {
		delivery, err := o.store.GetOrCreateDelivery(item.ID, sourceKey, account.Label)
		if err != nil {
			logger.ErrorCF(component, "get-or-create delivery failed during failure sweep", map[string]any{"account": account.Label, "error": err})
			continue
		}
		if err := o.store.MarkFailed(delivery.ID, errText); err != nil {
			logger.ErrorCF(component, "mark delivery failed failed during failure sweep", map[string]any{"delivery_id": delivery.ID, "error": err})
		}
	}
}

func filterByExtension(paths []string, allowed map[string]bool) []string {
	var out []string
	for _, p := range paths {
		if allowed[strings.ToLower(filepath.Ext(p))] {
			out = append(out, p)
		}
	}
	return out
}
