// Package sourceclient is the external collaborator for
// the chat-messaging source platform: fetching updates, resolving file
// handles to remote paths, downloading file bytes, and registering a
// webhook. It is a thin wrapper around telego.Bot; the ingest-to-publish
// pipeline never talks to the source platform's HTTP API directly.
package sourceclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mymmrac/telego"
)

// FileInfo is the metadata returned by GetFile: a remote path the bytes
// can be downloaded from, and its reported size.
type FileInfo struct {
	FileID   string
	FilePath string
	FileSize int64
}

// Client is the source-platform surface the materializer and ingress
// depend on. Implemented here by Telego; mockable in tests.
type Client interface {
	GetUpdates(ctx context.Context, offset int, timeoutSeconds int) ([]telego.Update, error)
	GetFile(ctx context.Context, fileID string) (FileInfo, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
	SetWebhook(ctx context.Context, url, secretToken string) error
}

// TelegoClient implements Client against the real source-platform API.
type TelegoClient struct {
	bot  *telego.Bot
	http *resty.Client
}

// New constructs a TelegoClient for botToken with the given default HTTP
// timeout (source HTTP default of 60s).
func New(botToken string, timeout time.Duration) (*TelegoClient, error) {
	bot, err := telego.NewBot(botToken, telego.WithDefaultDebugLogger())
	if err != nil {
		return nil, fmt.Errorf("sourceclient: create bot: %w", err)
	}
	return &TelegoClient{
		bot:  bot,
		http: resty.New().SetTimeout(timeout),
	}, nil
}

// GetUpdates long-polls for new updates starting at offset, waiting up to
// timeoutSeconds for at least one to arrive.
func (c *TelegoClient) GetUpdates(ctx context.Context, offset int, timeoutSeconds int) ([]telego.Update, error) {
	updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  offset,
		Timeout: timeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sourceclient: get updates: %w", err)
	}
	return updates, nil
}

// GetFile resolves an opaque file handle to its remote path and size.
func (c *TelegoClient) GetFile(ctx context.Context, fileID string) (FileInfo, error) {
	f, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return FileInfo{}, fmt.Errorf("sourceclient: get file: %w", err)
	}
	return FileInfo{
		FileID:   f.FileID,
		FilePath: f.FilePath,
		FileSize: int64(f.FileSize),
	}, nil
}

// Download fetches the raw bytes at filePath (as returned by GetFile).
func (c *TelegoClient) Download(ctx context.Context, filePath string) ([]byte, error) {
	url := c.bot.FileDownloadURL(filePath)
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("sourceclient: download: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("sourceclient: download: HTTP %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// SetWebhook registers url (with an optional secret token) as the
// process's webhook endpoint with the source platform.
func (c *TelegoClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	params := &telego.SetWebhookParams{URL: url}
	if secretToken != "" {
		params.SecretToken = secretToken
	}
	if err := c.bot.SetWebhook(ctx, params); err != nil {
		return fmt.Errorf("sourceclient: set webhook: %w", err)
	}
	return nil
}

// Bot exposes the underlying telego.Bot for callers that need telego's
// long-polling or webhook update channels, which telego models as stream
// constructors rather than one-shot calls. Nothing in this repository
// calls it; ingress uses GetUpdates and the HTTP webhook route.
func (c *TelegoClient) Bot() *telego.Bot {
	return c.bot
}
