// Command clipbridge runs the Telegram-to-TikTok relay service: either as
// a webhook-driven HTTP server or a long-polling worker, plus a one-shot
// schema migration command.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tg2tok/clipbridge/pkg/config"
	"github.com/tg2tok/clipbridge/pkg/httpapi"
	"github.com/tg2tok/clipbridge/pkg/ingest"
	"github.com/tg2tok/clipbridge/pkg/logger"
	"github.com/tg2tok/clipbridge/pkg/media"
	"github.com/tg2tok/clipbridge/pkg/orchestrator"
	"github.com/tg2tok/clipbridge/pkg/publish"
	"github.com/tg2tok/clipbridge/pkg/ratelimit"
	"github.com/tg2tok/clipbridge/pkg/sinkclient"
	"github.com/tg2tok/clipbridge/pkg/sourceclient"
	"github.com/tg2tok/clipbridge/pkg/store"
	"github.com/tg2tok/clipbridge/pkg/tokenlifecycle"
	"github.com/tg2tok/clipbridge/pkg/worker"
)

const (
	sourceHTTPTimeout = 60 * time.Second
	sinkHTTPTimeout   = 120 * time.Second
	ingressPerSecond  = 10.0
)

func main() {
	root := &cobra.Command{
		Use:   "clipbridge",
		Short: "Relay Telegram media to TikTok accounts",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newPollCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sqlite schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := store.Open(cfg.StorageDBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()
			logger.InfoCF("cmd", "migration applied", map[string]any{"db_path": cfg.StorageDBPath})
			return nil
		},
	}
}

// components holds every long-lived dependency shared by serve and poll.
type components struct {
	cfg       *config.Settings
	store     *store.Store
	source    *sourceclient.TelegoClient
	ingestor  *ingest.Ingestor
	worker    *worker.Worker
	lifecycle *tokenlifecycle.Lifecycle
}

func buildComponents() (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.StorageDBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := os.MkdirAll(cfg.MediaStoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create media storage dir: %w", err)
	}

	source, err := sourceclient.New(cfg.TGBotToken, sourceHTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("create source client: %w", err)
	}

	sink := sinkclient.New(cfg.TikTokClientKey, cfg.TikTokClientSecret, cfg.TikTokRedirectURI, sinkHTTPTimeout)
	lifecycle := tokenlifecycle.New(s, sink, cfg.TikTokClientKey)
	limiter := ratelimit.New(cfg.RateLimitPerMinute)
	materializer := media.NewMaterializer(source, s, cfg.MediaStoragePath)
	publisher := publish.New(sink)

	aggregator := ingest.NewAggregator(s, time.Duration(cfg.MediaGroupFlushSeconds)*time.Second)

	orch := orchestrator.New(
		s, materializer, lifecycle, limiter, publisher,
		cfg.ChatAccountMapping(),
		store.PostingMode(cfg.PostingMode),
		cfg.FallbackToDraft, cfg.EnablePhotoAPI,
		cfg.MediaStoragePath,
		orchestrator.CaptionSettings{
			Template:  cfg.CaptionTemplate,
			Hashtags:  cfg.AppendHashtags,
			MaxLength: cfg.CaptionMaxLength,
		},
		orchestrator.TranscodeSettings{
			SlideSeconds: cfg.SlideSeconds,
			SlideshowFPS: cfg.SlideshowFPS,
		},
	)

	// The worker is its own Enqueuer, which the Ingestor needs to exist
	// first; the Ingestor is in turn the worker's Flusher, so the flusher
	// is attached once both sides exist.
	w := worker.New(orch, nil, 256)
	ingestor := ingest.NewIngestor(s, aggregator, w, cfg.AllowedChatIDs())
	w.SetFlusher(ingestor)

	return &components{
		cfg:       cfg,
		store:     s,
		source:    source,
		ingestor:  ingestor,
		worker:    w,
		lifecycle: lifecycle,
	}, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook-driven HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.worker.Start(ctx)
			defer c.worker.Stop()

			if c.cfg.UseTGWebhook && c.cfg.AppBaseURL != "" {
				webhookURL := c.cfg.AppBaseURL + "/tg/webhook/" + c.cfg.TGWebhookSecret
				if err := c.source.SetWebhook(ctx, webhookURL, c.cfg.TGWebhookSecret); err != nil {
					logger.ErrorCF("cmd", "set webhook failed", map[string]any{"error": err})
				}
			}

			srv := httpapi.New(c.cfg, c.ingestor, c.lifecycle, c.store, ingressPerSecond)
			httpServer := &http.Server{
				Addr:    ":8000",
				Handler: srv.Handler(),
			}

			logger.InfoCF("cmd", "service started", map[string]any{"addr": httpServer.Addr})

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			}
		},
	}
}

func newPollCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run the long-polling ingestion loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.worker.Start(ctx)
			defer c.worker.Stop()

			logger.InfoCF("cmd", "long polling started", map[string]any{})

			offset := 0
			pollInterval := time.Duration(c.cfg.TGPollingIntervalSeconds * float64(time.Second))

			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}

				updates, err := c.source.GetUpdates(ctx, offset, c.cfg.TGPollingTimeoutSeconds)
				if err != nil {
					logger.ErrorCF("cmd", "get updates failed", map[string]any{"error": err})
					time.Sleep(pollInterval)
					continue
				}

				for _, update := range updates {
					if update.UpdateID != 0 {
						offset = update.UpdateID + 1
					}
					if err := c.ingestor.Ingest(ctx, &update); err != nil {
						logger.ErrorCF("cmd", "ingest update failed", map[string]any{"error": err})
					}
				}

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(pollInterval):
				}
			}
		},
	}
}
