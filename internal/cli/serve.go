package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/config"
	"github.com/john/orchid/internal/emote"
	"github.com/john/orchid/internal/hub"
	"github.com/john/orchid/internal/kick"
	"github.com/john/orchid/internal/message"
	"github.com/john/orchid/internal/recorder"
	"github.com/john/orchid/internal/server"
	"github.com/john/orchid/internal/state"
	"github.com/john/orchid/internal/subscription"
	"github.com/john/orchid/internal/twitch"
	"github.com/john/orchid/internal/uploader"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overlay backend",
	Long: `Run the overlay backend: chat ingest from Twitch and Kick, the overlay
WebSocket at /ws, the control routes and, when enabled, the chat archive
with S3 upload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// group runs components and logs the ones that stop with an error.
type group struct {
	wg sync.WaitGroup
}

func (g *group) start(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("component stopped", "component", name, "error", err)
		}
	}()
}

func runServe(parent context.Context, cfg *config.Config) error {
	slog.Info("orchid starting", "version", version)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eventBus := bus.New()
	defer eventBus.Close()

	history, layouts, closeStore, err := newStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	subs := subscription.NewManager(nil, subscription.WithPermanent(cfg.Twitch.Channels...))
	pinned := append([]string(nil), cfg.Twitch.Channels...)

	var twitchConn *twitch.Connector
	if cfg.Twitch.Enabled {
		twitchConn = twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channels, eventBus, newEmoteProcessor(ctx, cfg))
		subs.SetJoiner(twitchConn)
		slog.Info("monitoring twitch channels", "channels", cfg.Twitch.Channels)
	}

	var kickConn *kick.Connector
	if cfg.Kick.Enabled && len(cfg.Kick.Channels) > 0 {
		kickConn = kick.New(cfg.Kick.Channels, eventBus)
		for _, ch := range cfg.Kick.Channels {
			pinned = append(pinned, ch.Slug)
		}
		slog.Info("monitoring kick channels", "count", len(cfg.Kick.Channels))
	}

	h := hub.New(subs, history, layouts,
		hub.WithBackfill(cfg.Server.HistorySize),
		hub.WithPinned(pinned...),
	)
	if err := eventBus.Subscribe(ctx, "hub", h.HandleEvent); err != nil {
		return err
	}

	var g group

	if cfg.Recorder.Enabled {
		if err := startArchive(ctx, cfg, eventBus, &g); err != nil {
			return err
		}
	}
	if twitchConn != nil {
		g.start("twitch", func() error { return twitchConn.Start(ctx) })
	}
	if kickConn != nil {
		g.start("kick", func() error { return kickConn.Start(ctx) })
	}

	srv := server.New(cfg.Server.ListenAddr, h, subs, eventBus, cfg.Server.StaticDir)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	slog.Info("all components started")

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, initiating graceful shutdown")
	case runErr = <-serverErr:
		slog.Error("http server stopped", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error shutting down http server", "error", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded")
	}
	return runErr
}

// newStores picks Redis-backed state when an address is configured.
func newStores(ctx context.Context, cfg *config.Config) (state.ChatHistory, state.LayoutRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		slog.Info("keeping chat history and layout in memory")
		return state.NewMemoryHistory(cfg.Server.HistorySize), state.NewMemoryLayouts(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	slog.Info("using redis for chat history and layout", "addr", cfg.Redis.Addr)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("error closing redis client", "error", err)
		}
	}
	return state.NewRedisHistory(client, cfg.Redis.HistoryKey, cfg.Server.HistorySize),
		state.NewRedisLayouts(client, cfg.Redis.LayoutKey),
		closeFn, nil
}

func newEmoteProcessor(ctx context.Context, cfg *config.Config) *emote.Processor {
	var providers []emote.Provider
	if cfg.Emotes.FFZ {
		var opts []emote.FFZOption
		if cfg.Emotes.FFZBaseURL != "" {
			opts = append(opts, emote.WithBaseURL(cfg.Emotes.FFZBaseURL))
		}
		providers = append(providers, emote.NewFFZ(opts...))
	}

	p := emote.NewProcessor(providers...)
	if err := p.Fetch(ctx); err != nil {
		slog.Warn("failed to preload emotes", "error", err)
	}
	return p
}

// startArchive feeds chat events from the bus to the recorder and, when S3
// is configured, finished archives to the uploader.
func startArchive(ctx context.Context, cfg *config.Config, eventBus *bus.Bus, g *group) error {
	fs := afero.NewOsFs()
	messages := make(chan message.ChatMessage, cfg.Recorder.BufferSize)
	files := make(chan string, 100)

	err := eventBus.Subscribe(ctx, "recorder", func(ctx context.Context, ev bus.Event) error {
		if ev.Kind != bus.KindChat {
			return nil
		}
		var msg message.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		select {
		case messages <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	rec := recorder.New(fs, cfg.Recorder.OutputDir, cfg.Recorder.BufferSize,
		time.Duration(cfg.Recorder.RotateMinutes)*time.Minute, cfg.Recorder.RotateMegabytes)
	g.start("recorder", func() error { return rec.Start(ctx, messages, files) })

	if !cfg.UploadsEnabled() {
		g.start("archive", func() error {
			for {
				select {
				case path := <-files:
					slog.Info("archive finished", "file", path)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
		return nil
	}

	up, err := uploader.New(ctx, fs, uploader.Options{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		RoleARN:         cfg.S3.RoleARN,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		DeleteAfter:     cfg.Uploader.DeleteAfterUpload,
		MaxRetries:      cfg.Uploader.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create uploader: %w", err)
	}

	if err := up.ScanAndUploadExisting(ctx, cfg.Recorder.OutputDir); err != nil {
		slog.Warn("failed to scan for existing archives", "error", err)
	}
	g.start("uploader", func() error { return up.Start(ctx, files) })
	return nil
}
