package supervisor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moeacgx/TelegramAutoClone/internal/config"
	"github.com/moeacgx/TelegramAutoClone/internal/monitor"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/recovery"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// idleSleep is how long a loop pauses when it has nothing to do or lacks an
// authorized session.
const idleSleep = 2 * time.Second

// Supervisor drives the three long-lived loops: monitor, standby refresh
// (with the Bot API membership sync), and recovery. Every loop catches and
// logs its errors; only context cancellation ends a loop.
type Supervisor struct {
	cfg     *config.Config
	st      *store.Store
	gw      *upstream.Gateway
	pl      *pool.Pool
	syncer  *pool.Syncer
	monitor *monitor.Monitor
	worker  *recovery.Worker
}

func New(cfg *config.Config, st *store.Store, gw *upstream.Gateway, pl *pool.Pool, syncer *pool.Syncer, mon *monitor.Monitor, worker *recovery.Worker) *Supervisor {
	return &Supervisor{cfg: cfg, st: st, gw: gw, pl: pl, syncer: syncer, monitor: mon, worker: worker}
}

// Run blocks until ctx is cancelled. Jobs left running by a previous crash
// are swept back to pending before any loop starts.
func (s *Supervisor) Run(ctx context.Context) error {
	if n, err := s.st.ResetRunningRecoveryTasks(); err != nil {
		return err
	} else if n > 0 {
		slog.Info("reset orphaned recovery jobs", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitorLoop(ctx) })
	g.Go(func() error { return s.standbyLoop(ctx) })
	g.Go(func() error { return s.recoveryLoop(ctx) })
	return g.Wait()
}

func (s *Supervisor) monitorLoop(ctx context.Context) error {
	interval := time.Duration(s.cfg.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if n := s.gw.PurgeExpiredLogins(); n > 0 {
			slog.Debug("purged expired login flows", "count", n)
		}
		if !s.gw.WriterAuthorized(ctx) || !s.gw.ReaderAuthorized(ctx) {
			continue
		}
		if err := s.monitor.RunOnce(ctx); err != nil {
			slog.Error("monitor pass failed", "error", err)
		}
	}
}

func (s *Supervisor) standbyLoop(ctx context.Context) error {
	interval := time.Duration(s.cfg.StandbyRefreshSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if s.syncer != nil {
			if err := s.syncer.SyncOnce(ctx); err != nil {
				slog.Error("bot membership sync failed", "error", err)
			}
		}
		if !s.gw.WriterAuthorized(ctx) {
			continue
		}
		if err := s.pl.Refresh(ctx); err != nil {
			slog.Error("standby refresh failed", "error", err)
		}
	}
}

func (s *Supervisor) recoveryLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.gw.ReaderAuthorized(ctx) || !s.gw.WriterAuthorized(ctx) {
			if err := sleepCtx(ctx, idleSleep); err != nil {
				return err
			}
			continue
		}

		processed, err := s.worker.RunOnce(ctx)
		if err != nil {
			slog.Error("recovery pass failed", "error", err)
		}
		if !processed {
			if err := sleepCtx(ctx, idleSleep); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
