package mtproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// channelIDBase is the offset the provider folds into channel peer ids:
// peer id = -(channelIDBase + bare id).
const channelIDBase = 1000000000000

func peerIDOf(bareID int64) int64 {
	return -(channelIDBase + bareID)
}

func bareIDOf(peerID int64) int64 {
	return -peerID - channelIDBase
}

// Resolve maps a normalized reference to a peer the session can address.
func (c *Client) Resolve(ctx context.Context, ref upstream.Ref) (*upstream.Entity, error) {
	if !ref.IsID() {
		return c.resolveUsername(ctx, ref.Username)
	}
	return c.resolveChannelID(ctx, ref.ID)
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*upstream.Entity, error) {
	name := strings.TrimPrefix(username, "@")
	resolved, err := c.api.ContactsResolveUsername(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", username, err)
	}
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			c.hashes.Store(peerIDOf(ch.ID), ch.AccessHash)
			return entityOf(ch), nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not a channel or group", upstream.ErrInvalidInput, username)
}

func (c *Client) resolveChannelID(ctx context.Context, chatID int64) (*upstream.Entity, error) {
	input, err := c.inputChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	if err != nil {
		return nil, fmt.Errorf("get channel %d: %w", chatID, err)
	}
	for _, chat := range res.GetChats() {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == input.ChannelID {
			return entityOf(ch), nil
		}
	}
	return nil, fmt.Errorf("channel %d not returned by provider", chatID)
}

func entityOf(ch *tg.Channel) *upstream.Entity {
	return &upstream.Entity{
		ID:          peerIDOf(ch.ID),
		Title:       ch.Title,
		Username:    ch.Username,
		IsBroadcast: ch.Broadcast,
		IsMegagroup: ch.Megagroup,
		IsForum:     ch.Forum,
	}
}

// inputChannel builds the addressable form of a channel, filling the access
// hash from the cache or, on a miss, from a bounded dialog scan.
func (c *Client) inputChannel(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	bare := bareIDOf(chatID)
	if bare <= 0 {
		return nil, fmt.Errorf("%w: %d is not a channel id", upstream.ErrInvalidInput, chatID)
	}
	if h, ok := c.hashes.Load(chatID); ok {
		return &tg.InputChannel{ChannelID: bare, AccessHash: h.(int64)}, nil
	}
	if err := c.scanDialogs(ctx); err != nil {
		return nil, err
	}
	if h, ok := c.hashes.Load(chatID); ok {
		return &tg.InputChannel{ChannelID: bare, AccessHash: h.(int64)}, nil
	}
	return nil, fmt.Errorf("channel %d not found in this session's dialogs", chatID)
}

func (c *Client) inputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	// Positive ids are users, e.g. the operator notify target. The hash is
	// only known once the user has messaged this session.
	if chatID > 0 {
		var hash int64
		if h, ok := c.hashes.Load(chatID); ok {
			hash = h.(int64)
		}
		return &tg.InputPeerUser{UserID: chatID, AccessHash: hash}, nil
	}
	// Legacy basic groups sit between 0 and the channel base.
	if bareIDOf(chatID) <= 0 {
		return &tg.InputPeerChat{ChatID: -chatID}, nil
	}
	input, err := c.inputChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}, nil
}

const maxDialogPages = 10

// scanDialogs walks the session's dialog list and caches every channel's
// access hash.
func (c *Client) scanDialogs(ctx context.Context) error {
	var (
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)
	for page := 0; page < maxDialogPages; page++ {
		res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			return fmt.Errorf("list dialogs: %w", err)
		}

		var dialogs []tg.DialogClass
		var messages []tg.MessageClass
		var chats []tg.ChatClass
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, chats = d.Dialogs, d.Messages, d.Chats
		case *tg.MessagesDialogsSlice:
			dialogs, messages, chats = d.Dialogs, d.Messages, d.Chats
		default:
			return nil
		}

		for _, chat := range chats {
			if ch, ok := chat.(*tg.Channel); ok {
				c.hashes.Store(peerIDOf(ch.ID), ch.AccessHash)
			}
		}
		if len(dialogs) < 100 {
			return nil
		}

		last := dialogs[len(dialogs)-1]
		peer := last.GetPeer()
		offsetPeer = &tg.InputPeerEmpty{}
		if p, ok := peer.(*tg.PeerChannel); ok {
			if h, ok := c.hashes.Load(peerIDOf(p.ChannelID)); ok {
				offsetPeer = &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: h.(int64)}
			}
		}
		offsetID, offsetDate = lastMessageOffset(messages, peer)
		if offsetDate == 0 {
			return nil
		}
	}
	return nil
}

func lastMessageOffset(messages []tg.MessageClass, peer tg.PeerClass) (int, int) {
	for _, raw := range messages {
		m, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		if samePeer(m.PeerID, peer) {
			return m.ID, m.Date
		}
	}
	return 0, 0
}

func samePeer(a, b tg.PeerClass) bool {
	ac, aok := a.(*tg.PeerChannel)
	bc, bok := b.(*tg.PeerChannel)
	if aok && bok {
		return ac.ChannelID == bc.ChannelID
	}
	au, aok := a.(*tg.PeerUser)
	bu, bok := b.(*tg.PeerUser)
	if aok && bok {
		return au.UserID == bu.UserID
	}
	agc, aok := a.(*tg.PeerChat)
	bgc, bok := b.(*tg.PeerChat)
	if aok && bok {
		return agc.ChatID == bgc.ChatID
	}
	return false
}
