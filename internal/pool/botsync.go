package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/moeacgx/TelegramAutoClone/internal/store"
)

// offsetKey stores the Bot API update cursor across restarts.
const offsetKey = "bot_updates_offset"

// Syncer feeds admin-status changes from the Bot API my_chat_member stream
// into the pool. It runs on its own long-poll connection, independent of the
// MTProto sessions, so admission works even while the reader is logged out.
type Syncer struct {
	bot *telego.Bot
	st  *store.Store
}

func NewSyncer(token string, st *store.Store) (*Syncer, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}
	return &Syncer{bot: bot, st: st}, nil
}

// SyncOnce drains pending my_chat_member updates and applies them. On the
// very first run the cursor fast-forwards past the backlog: historical admin
// changes predate the pool and must not be replayed.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	stored, ok, err := s.st.GetSetting(offsetKey)
	if err != nil {
		return err
	}
	if !ok {
		return s.fastForward(ctx)
	}
	offset, err := strconv.Atoi(stored)
	if err != nil {
		return s.fastForward(ctx)
	}

	updates, err := s.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Timeout:        0,
		AllowedUpdates: []string{"my_chat_member"},
	})
	if err != nil {
		return fmt.Errorf("get updates: %w", err)
	}

	for _, u := range updates {
		if u.UpdateID >= offset {
			offset = u.UpdateID + 1
		}
		if u.MyChatMember == nil {
			continue
		}
		if err := s.apply(u.MyChatMember); err != nil {
			slog.Warn("apply membership update failed",
				"chat_id", u.MyChatMember.Chat.ID, "error", err)
		}
	}
	return s.st.SetSetting(offsetKey, strconv.Itoa(offset))
}

func (s *Syncer) fastForward(ctx context.Context) error {
	updates, err := s.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  -1,
		Timeout: 0,
	})
	if err != nil {
		return fmt.Errorf("fast-forward updates: %w", err)
	}
	next := 0
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	slog.Info("bot update cursor initialized", "offset", next)
	return s.st.SetSetting(offsetKey, strconv.Itoa(next))
}

func (s *Syncer) apply(ev *telego.ChatMemberUpdated) error {
	if ev.Chat.Type != telego.ChatTypeChannel {
		return nil
	}
	chatID := ev.Chat.ID
	status := ev.NewChatMember.MemberStatus()

	bindings, err := s.st.GetBindingsByChannel(chatID)
	if err != nil {
		return err
	}
	bound := len(bindings) > 0

	switch status {
	case telego.MemberStatusAdministrator, telego.MemberStatusCreator:
		ts := time.Now().UTC().Format(time.RFC3339)
		if bound {
			return s.st.UpsertChannel(chatID, ev.Chat.Title, false, true, &ts)
		}
		slog.Info("channel admitted to standby pool", "chat_id", chatID, "title", ev.Chat.Title)
		return s.st.UpsertChannel(chatID, ev.Chat.Title, true, false, &ts)
	case telego.MemberStatusLeft, telego.MemberStatusBanned:
		if bound {
			// Keep the row, the monitor will notice the dead target.
			return s.st.UpsertChannel(chatID, ev.Chat.Title, false, true, nil)
		}
		slog.Info("channel removed from standby pool", "chat_id", chatID, "status", status)
		return s.st.DeleteChannel(chatID)
	default:
		// Demoted to plain member: not pool material.
		if bound {
			return s.st.UpsertChannel(chatID, ev.Chat.Title, false, true, nil)
		}
		return s.st.DeleteChannel(chatID)
	}
}
