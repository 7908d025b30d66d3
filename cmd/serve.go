package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/config"
	"github.com/moeacgx/TelegramAutoClone/internal/listener"
	"github.com/moeacgx/TelegramAutoClone/internal/monitor"
	"github.com/moeacgx/TelegramAutoClone/internal/panel"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/recovery"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/supervisor"
	"github.com/moeacgx/TelegramAutoClone/internal/topics"
	"github.com/moeacgx/TelegramAutoClone/internal/update"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream/mtproto"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mirroring service and control panel",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	reader := mtproto.New(mtproto.Options{
		Role:        upstream.RoleReader,
		AppID:       cfg.APIID,
		AppHash:     cfg.APIHash,
		SessionPath: filepath.Join(cfg.SessionsDir, "reader.session"),
	})
	writer := mtproto.New(mtproto.Options{
		Role:        upstream.RoleWriter,
		AppID:       cfg.APIID,
		AppHash:     cfg.APIHash,
		BotToken:    cfg.BotToken,
		SessionPath: filepath.Join(cfg.SessionsDir, "writer.session"),
	})
	defer reader.Close()
	defer writer.Close()

	gw := upstream.NewGateway(reader, writer, cfg.NotifyChatID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.EnsureConnected(ctx); err != nil {
		slog.Error("failed to connect sessions", "error", err)
		os.Exit(1)
	}

	pl := pool.New(st, gw)
	engine := clone.New(reader, writer)
	mon := monitor.New(st, gw, pl)
	worker := recovery.New(st, gw, pl, engine, cfg.RecoveryMaxRetry)
	topicSvc := topics.New(st, gw)

	// The Bot API sync is optional, the pool still works without it.
	var syncer *pool.Syncer
	if cfg.BotToken != "" {
		syncer, err = pool.NewSyncer(cfg.BotToken, st)
		if err != nil {
			slog.Warn("bot membership sync disabled", "error", err)
		}
	}

	upd := update.New(st, gw,
		cfg.AppImage, cfg.WatchtowerURL, cfg.WatchtowerHTTPToken,
		cfg.UpdateNotifyEnabled, time.Duration(cfg.UpdateHTTPTimeoutSeconds)*time.Second)

	tokens := panel.NewTokenService(cfg.PanelPassword, time.Duration(cfg.PanelSessionTTLSecond)*time.Second)
	srv := panel.NewServer(cfg.PanelListenAddr, st, gw, pl, topicSvc, worker, mon, upd, tokens)

	live := listener.New(st, gw, engine)
	live.Start()

	sup := supervisor.New(cfg, st, gw, pl, syncer, mon, worker)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	slog.Info("tgautoclone started", "version", Version, "panel", cfg.PanelListenAddr)
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
