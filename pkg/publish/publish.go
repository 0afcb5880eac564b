// Package publish implements the init -> upload -> finalize publishing
// protocol (C7): mode selection, the direct-to-draft fallback, and the
// photo-capability-to-transcoded-video fallback.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/sinkclient"
	"github.com/tg2tok/clipbridge/pkg/store"
)

const component = "publish"

// UploadTimeout is the binary-upload budget.
const UploadTimeout = 300 * time.Second

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Result is the outcome of a publish attempt: the mode actually used
// (which may have downgraded from direct to draft) plus the provider's
// publish and post identifiers.
type Result struct {
	Mode      store.PostingMode
	PublishID string
	PostID    string
}

// Publisher drives the sink client through the publishing protocol.
type Publisher struct {
	sink *sinkclient.Client
}

// New constructs a Publisher.
func New(sink *sinkclient.Client) *Publisher {
	return &Publisher{sink: sink}
}

// PublishVideo runs init -> upload -> finalize for one video file, and,
// if requestedMode is direct and the failure is permission/unsupported,
// retries the full sequence at draft mode when fallbackToDraft is set.
func (p *Publisher) PublishVideo(ctx context.Context, accessToken, videoPath, caption string, requestedMode store.PostingMode, fallbackToDraft bool) (Result, error) {
	result, err := p.publishVideoAtMode(ctx, accessToken, videoPath, caption, requestedMode)
	if err == nil {
		return result, nil
	}

	var apiErr *sinkclient.APIError
	if requestedMode == store.ModeDirect && fallbackToDraft && errors.As(err, &apiErr) && apiErr.IsUnsupportedOrPermission() {
		logger.WarnCF(component, "direct publish failed, falling back to draft", map[string]any{"error": err})
		return p.publishVideoAtMode(ctx, accessToken, videoPath, caption, store.ModeDraft)
	}
	return Result{}, err
}

func (p *Publisher) publishVideoAtMode(ctx context.Context, accessToken, videoPath, caption string, mode store.PostingMode) (Result, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return Result{}, fmt.Errorf("publish: stat video: %w", err)
	}

	init, err := p.sink.InitVideoUpload(ctx, accessToken, string(mode), caption, info.Size())
	if err != nil {
		return Result{}, fmt.Errorf("publish: init video: %w", err)
	}
	if init.UploadURL == "" {
		return Result{}, &sinkclient.APIError{Message: "sink response does not contain upload_url"}
	}

	payload, err := os.ReadFile(videoPath)
	if err != nil {
		return Result{}, fmt.Errorf("publish: read video: %w", err)
	}
	if err := p.sink.UploadBinary(ctx, init.UploadURL, payload, "video/mp4", UploadTimeout); err != nil {
		return Result{}, fmt.Errorf("publish: upload video: %w", err)
	}

	final, err := p.sink.FinalizeVideo(ctx, accessToken, init.PublishID, string(mode), caption)
	if err != nil {
		return Result{}, fmt.Errorf("publish: finalize video: %w", err)
	}

	postID := final.PostID
	if postID == "" {
		postID = init.PublishID
	}
	return Result{Mode: mode, PublishID: init.PublishID, PostID: postID}, nil
}

// TryPublishPhotoOrCarousel attempts the photo/carousel endpoint for the
// given images. It returns ok=false (with a nil error) when the sink
// classifies the failure as permission/unsupported, signaling the caller
// to fall back to transcode + video publish; any other error is returned.
func (p *Publisher) TryPublishPhotoOrCarousel(ctx context.Context, accessToken string, imagePaths []string, caption string, mode store.PostingMode) (Result, bool, error) {
	if len(imagePaths) == 0 {
		return Result{}, false, nil
	}

	init, err := p.sink.InitPhotoUpload(ctx, accessToken, string(mode), caption, len(imagePaths))
	if err != nil {
		return p.classifyPhotoFailure(err)
	}
	if len(init.UploadURLs) < len(imagePaths) {
		return Result{}, false, nil
	}

	for i, path := range imagePaths {
		contentType := imageContentTypes[strings.ToLower(filepath.Ext(path))]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return Result{}, false, fmt.Errorf("publish: read image: %w", err)
		}
		if err := p.sink.UploadBinary(ctx, init.UploadURLs[i], payload, contentType, UploadTimeout); err != nil {
			return p.classifyPhotoFailure(err)
		}
	}

	final, err := p.sink.FinalizePhotoUpload(ctx, accessToken, init.PublishID, string(mode), caption)
	if err != nil {
		return p.classifyPhotoFailure(err)
	}

	postID := final.PostID
	if postID == "" {
		postID = init.PublishID
	}
	return Result{Mode: mode, PublishID: init.PublishID, PostID: postID}, true, nil
}

func (p *Publisher) classifyPhotoFailure(err error) (Result, bool, error) {
	var apiErr *sinkclient.APIError
	if errors.As(err, &apiErr) && apiErr.IsUnsupportedOrPermission() {
		logger.InfoCF(component, "photo API unavailable, will fall back to transcode", map[string]any{"error": err})
		return Result{}, false, nil
	}
	return Result{}, false, err
}
