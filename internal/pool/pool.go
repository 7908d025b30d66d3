package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// fallbackTitle names a promoted channel when the topic title is empty.
const fallbackTitle = "未命名话题"

const maxChannelTitle = 128

// Pool manages the standby channels: broadcast channels where the writer is
// admin and which carry no active binding.
type Pool struct {
	st *store.Store
	gw *upstream.Gateway
}

func New(st *store.Store, gw *upstream.Gateway) *Pool {
	return &Pool{st: st, gw: gw}
}

// AddResult reports one batch-admission entry.
type AddResult struct {
	Ref    string `json:"ref"`
	ChatID int64  `json:"chat_id,omitempty"`
	Added  bool   `json:"added"`
	Error  string `json:"error,omitempty"`
}

// AddChannels admits operator-supplied refs. Each must resolve through the
// writer, be a broadcast channel, and have the writer as admin.
func (p *Pool) AddChannels(ctx context.Context, refs []string) []AddResult {
	out := make([]AddResult, 0, len(refs))
	for _, raw := range refs {
		res := AddResult{Ref: raw}

		ref, err := upstream.NormalizeRef(raw)
		if err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		entity, err := p.gw.Writer().Resolve(ctx, ref)
		if err != nil {
			res.Error = fmt.Sprintf("resolve failed: %v", err)
			out = append(out, res)
			continue
		}
		res.ChatID = entity.ID
		if !entity.IsBroadcast {
			res.Error = "not a broadcast channel"
			out = append(out, res)
			continue
		}
		perms, err := p.gw.Writer().SelfPermissions(ctx, entity.ID)
		if err != nil || !perms.IsAdmin {
			res.Error = "writer is not admin"
			out = append(out, res)
			continue
		}

		bindings, err := p.st.GetBindingsByChannel(entity.ID)
		if err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		ts := time.Now().UTC().Format(time.RFC3339)
		inUse := len(bindings) > 0
		if err := p.st.UpsertChannel(entity.ID, entity.Title, !inUse, inUse, &ts); err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		res.Added = !inUse
		out = append(out, res)
	}
	return out
}

// Refresh re-verifies every standby channel's writer-admin status. Channels
// that lost the admin seat leave the pool; channels that acquired bindings
// since admission flip to in-use. The wider channel table is left alone, the
// pool must not regrow from stale rows.
func (p *Pool) Refresh(ctx context.Context) error {
	standby, err := p.st.ListStandbyChannels()
	if err != nil {
		return fmt.Errorf("list standby: %w", err)
	}
	for _, ch := range standby {
		bindings, err := p.st.GetBindingsByChannel(ch.ChatID)
		if err != nil {
			return err
		}
		if len(bindings) > 0 {
			if err := p.st.UpsertChannel(ch.ChatID, ch.Title, false, true, nil); err != nil {
				return err
			}
			continue
		}

		perms, err := p.writerPermissions(ctx, ch.ChatID)
		if err != nil || !perms.IsAdmin {
			slog.Info("standby channel lost admin, removing from pool",
				"chat_id", ch.ChatID, "title", ch.Title, "error", err)
			if err := p.st.DeleteChannel(ch.ChatID); err != nil {
				return err
			}
			continue
		}
		if err := p.st.MarkChannelLastSeen(ch.ChatID, ""); err != nil {
			return err
		}
	}
	return nil
}

// Consume takes the oldest standby channel out of the pool. The store-side
// flip is atomic, so two concurrent recoveries cannot claim the same row.
func (p *Pool) Consume(ctx context.Context) (*store.Channel, error) {
	for {
		ch, err := p.st.GetNextAvailableStandby()
		if err != nil {
			return nil, err
		}
		if ch == nil {
			return nil, upstream.ErrNoStandby
		}
		err = p.st.ConsumeStandbyChannel(ch.ChatID)
		if errors.Is(err, store.ErrPrecondition) {
			// Lost the race for this row, take the next one.
			continue
		}
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// RenameChannel renames a consumed channel to the topic title, capped to the
// provider's limit.
func (p *Pool) RenameChannel(ctx context.Context, chatID int64, title string) error {
	name := title
	if name == "" {
		name = fallbackTitle
	}
	if len(name) > maxChannelTitle {
		cut := name[:maxChannelTitle]
		for len(cut) > 0 && (cut[len(cut)-1]&0xC0) == 0x80 {
			cut = cut[:len(cut)-1]
		}
		name = cut
	}
	if err := upstream.WithFloodRetry(func() error {
		return p.gw.Writer().EditChannelTitle(ctx, chatID, name)
	}); err != nil {
		return fmt.Errorf("rename channel %d: %w", chatID, err)
	}
	return nil
}

// reasonFor maps provider error kinds to operator-legible text.
func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	switch {
	case contains(text, "user_not_participant", "usernotparticipant"):
		return "not in channel"
	case contains(text, "chat_admin_required", "chatadminrequired"):
		return "not admin"
	case contains(text, "channel_private", "channelprivate"):
		return "inaccessible"
	case contains(text, "channel_invalid", "channelinvalid"):
		return "ref invalid"
	case contains(text, "unauthorized", "auth_key"):
		return "actor not logged in"
	default:
		return text
	}
}

// CheckChannelAccess verifies both actors can still reach the channel as
// admin. Each step forces a fresh full-channel round-trip, defeating local
// entity caches that would certify a dead channel.
func (p *Pool) CheckChannelAccess(ctx context.Context, chatID int64) (bool, string) {
	for _, client := range []upstream.Client{p.gw.Writer(), p.gw.Reader()} {
		perms, err := p.permissions(ctx, client, chatID)
		if err != nil {
			return false, fmt.Sprintf("%s: %s", client.Role(), reasonFor(err))
		}
		if !perms.IsAdmin {
			return false, fmt.Sprintf("%s: not admin", client.Role())
		}
	}
	return true, ""
}

const accessFloodLimit = 15

func (p *Pool) writerPermissions(ctx context.Context, chatID int64) (*upstream.Permissions, error) {
	return p.permissions(ctx, p.gw.Writer(), chatID)
}

func (p *Pool) permissions(ctx context.Context, client upstream.Client, chatID int64) (*upstream.Permissions, error) {
	var perms *upstream.Permissions
	attempt := func() error {
		if err := client.RefreshChannel(ctx, chatID); err != nil {
			return err
		}
		var err error
		perms, err = client.SelfPermissions(ctx, chatID)
		return err
	}

	err := attempt()
	if secs, ok := upstream.AsFloodWait(err); ok && secs <= accessFloodLimit {
		time.Sleep(time.Duration(secs+1) * time.Second)
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return perms, nil
}

func contains(text string, needles ...string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
