package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// Listener mirrors new messages live. It subscribes once on the reader and
// routes each message through its binding; everything that goes wrong except
// a lost target is logged and swallowed so the subscription stays alive.
type Listener struct {
	st     *store.Store
	gw     *upstream.Gateway
	engine *clone.Engine
}

func New(st *store.Store, gw *upstream.Gateway, engine *clone.Engine) *Listener {
	return &Listener{st: st, gw: gw, engine: engine}
}

// Start registers the new-message subscription. The registration survives
// session rebuilds, so one call per process is enough.
func (l *Listener) Start() {
	l.gw.Reader().OnNewMessage(l.handle)
}

func (l *Listener) handle(ctx context.Context, msg *upstream.Message) {
	if !msg.Cloneable() {
		return
	}
	group, err := l.st.GetSourceGroupByChatID(msg.ChatID)
	if err != nil {
		slog.Error("lookup source group", "chat_id", msg.ChatID, "error", err)
		return
	}
	if group == nil || !group.Enabled {
		return
	}

	topicID := topicOf(msg)
	if topicID == 0 {
		return
	}
	topic, err := l.st.GetTopic(group.ID, topicID)
	if err != nil {
		slog.Error("lookup topic", "topic_id", topicID, "error", err)
		return
	}
	if topic == nil || !topic.Enabled {
		return
	}

	binding, err := l.st.GetBinding(group.ID, topicID)
	if err != nil {
		slog.Error("lookup binding", "topic_id", topicID, "error", err)
		return
	}
	if binding == nil || !binding.Active {
		return
	}

	err = l.engine.CloneNoRef(ctx, msg, msg.ChatID, binding.ChannelChatID)
	if err == nil {
		return
	}
	if upstream.IsChannelUnavailable(err) {
		l.targetLost(ctx, group, binding, err)
		return
	}
	slog.Error("live clone failed",
		"message_id", msg.ID, "chat_id", msg.ChatID, "topic_id", topicID, "error", err)
}

func (l *Listener) targetLost(ctx context.Context, group *store.SourceGroup, binding *store.TopicBinding, cause error) {
	reason := cause.Error()
	slog.Warn("live clone hit a dead target",
		"channel_chat_id", binding.ChannelChatID, "topic_id", binding.TopicID, "reason", reason)

	if err := l.st.AddBannedChannel(group.ID, binding.TopicID, binding.ChannelChatID, reason); err != nil {
		slog.Error("record banned channel", "error", err)
	}
	jobID, err := l.st.EnqueueRecovery(group.ID, binding.TopicID, binding.ChannelChatID, reason)
	if err != nil {
		slog.Error("enqueue recovery", "error", err)
		return
	}
	l.gw.Notify(ctx, fmt.Sprintf(
		"live clone to channel %d failed (%s), recovery job #%d queued",
		binding.ChannelChatID, reason, jobID))
}

// topicOf extracts the forum topic id a live message belongs to; zero means
// the message is not inside a topic.
func topicOf(msg *upstream.Message) int64 {
	if msg.ReplyToTopID != 0 {
		return msg.ReplyToTopID
	}
	if msg.ReplyIsForumTopic {
		return msg.ReplyToMsgID
	}
	return 0
}
