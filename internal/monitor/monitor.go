package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// Monitor periodically verifies that every active binding's target channel
// is still reachable, and turns failures into banned rows plus recovery
// jobs. Enqueue idempotency in the store guarantees a binding that keeps
// failing holds exactly one queued job.
type Monitor struct {
	st *store.Store
	gw *upstream.Gateway
	pl *pool.Pool
}

func New(st *store.Store, gw *upstream.Gateway, pl *pool.Pool) *Monitor {
	return &Monitor{st: st, gw: gw, pl: pl}
}

// RunOnce checks every active binding whose source group and topic are
// enabled.
func (m *Monitor) RunOnce(ctx context.Context) error {
	bindings, err := m.st.ListActiveBindings()
	if err != nil {
		return fmt.Errorf("list active bindings: %w", err)
	}

	for _, b := range bindings {
		if !b.SourceEnabled || !b.TopicEnabled {
			continue
		}
		ok, reason := m.pl.CheckChannelAccess(ctx, b.ChannelChatID)
		if ok {
			continue
		}

		slog.Warn("target channel lost",
			"source_group_id", b.SourceGroupID, "topic_id", b.TopicID,
			"channel_chat_id", b.ChannelChatID, "reason", reason)

		if err := m.st.AddBannedChannel(b.SourceGroupID, b.TopicID, b.ChannelChatID, reason); err != nil {
			slog.Error("record banned channel", "error", err)
			continue
		}
		jobID, err := m.st.EnqueueRecovery(b.SourceGroupID, b.TopicID, b.ChannelChatID, reason)
		if err != nil {
			slog.Error("enqueue recovery", "error", err)
			continue
		}
		m.gw.Notify(ctx, fmt.Sprintf(
			"target channel %d for topic %q (%s) is unavailable: %s, recovery job #%d queued",
			b.ChannelChatID, b.TopicTitle, b.SourceTitle, reason, jobID))
	}
	return nil
}
