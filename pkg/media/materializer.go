package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"

	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/sourceclient"
	"github.com/tg2tok/clipbridge/pkg/store"
)

// ErrNoFilesMaterialized is returned when every handle in a ContentItem
// failed to resolve/download, implementing a "fail the whole
// materialization" rule.
var ErrNoFilesMaterialized = errors.New("media: no files could be materialized")

// Materializer resolves a ContentItem's opaque source file handles to
// local byte paths, idempotently (C5).
type Materializer struct {
	source    sourceclient.Client
	store     *store.Store
	mediaRoot string
}

// NewMaterializer constructs a Materializer rooted at mediaRoot
// (config MediaStoragePath).
func NewMaterializer(source sourceclient.Client, s *store.Store, mediaRoot string) *Materializer {
	return &Materializer{source: source, store: s, mediaRoot: mediaRoot}
}

// Ensure returns the local paths for item, downloading whatever is
// missing. If every existing path is present on disk and the count
// matches the handle list, no I/O is performed (idempotence).
func (m *Materializer) Ensure(ctx context.Context, item *store.ContentItem) ([]string, error) {
	if allPresent(item.LocalPaths) && len(item.LocalPaths) == len(item.FileHandles) {
		return item.LocalPaths, nil
	}

	dir := filepath.Join(m.mediaRoot, strconv.FormatInt(item.ID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create content dir: %w", err)
	}

	var downloaded []string
	for index, handle := range item.FileHandles {
		path, err := m.materializeOne(ctx, dir, index+1, handle, item.Kind)
		if err != nil {
			logDownloadFailure(item.ID, handle, err)
			continue
		}
		downloaded = append(downloaded, path)
	}

	if len(downloaded) == 0 {
		return nil, ErrNoFilesMaterialized
	}

	if err := m.store.SetLocalPaths(item.ID, downloaded); err != nil {
		return nil, fmt.Errorf("media: persist local paths: %w", err)
	}
	return downloaded, nil
}

func (m *Materializer) materializeOne(ctx context.Context, dir string, index int, handle string, kind store.ContentKind) (string, error) {
	info, err := m.source.GetFile(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	if info.FilePath == "" {
		return "", fmt.Errorf("no remote path for handle %q", handle)
	}

	payload, err := m.source.Download(ctx, info.FilePath)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	ext := resolveExtension(info.FilePath, payload, kind)
	target := filepath.Join(dir, fmt.Sprintf("%d%s", index, ext))
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return target, nil
}

// resolveExtension follows the remote-path-suffix -> content-sniff ->
// format-default precedence.
func resolveExtension(remotePath string, payload []byte, kind store.ContentKind) string {
	if ext := filepath.Ext(remotePath); ext != "" {
		return ext
	}
	if len(payload) > 0 {
		if kind, err := filetype.Match(payload); err == nil && kind != filetype.Unknown && kind.Extension != "" {
			return "." + kind.Extension
		}
	}
	return defaultExtension(kind)
}

func defaultExtension(kind store.ContentKind) string {
	if kind == store.KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

func allPresent(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func logDownloadFailure(contentItemID int64, handle string, err error) {
	// Logged rather than returned: an individual handle failure is
	// skipped, not fatal to the whole materialization.
	if strings.TrimSpace(handle) == "" {
		handle = "(empty)"
	}
	logger.WarnCF("media", "file handle failed to materialize", map[string]any{
		"content_item_id": contentItemID,
		"file_handle":     handle,
		"error":           err,
	})
}
