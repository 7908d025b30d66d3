package mtproto

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// wrapRPC translates provider rate-limit errors into the shared flood-wait
// shape so call sites handle them uniformly.
func wrapRPC(err error) error {
	if err == nil {
		return nil
	}
	if secs, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%w: %w", &upstream.FloodWaitError{Seconds: int(secs.Seconds())}, err)
	}
	return err
}

func convertMessage(raw tg.MessageClass) *upstream.Message {
	switch m := raw.(type) {
	case *tg.Message:
		out := &upstream.Message{
			ID:   int64(m.ID),
			Kind: upstream.KindText,
			Text: m.Message,
		}
		if entities, ok := m.GetEntities(); ok {
			out.Entities = entities
		}
		if gid, ok := m.GetGroupedID(); ok {
			out.GroupedID = gid
		}
		if reply, ok := m.GetReplyTo(); ok {
			if header, ok := reply.(*tg.MessageReplyHeader); ok {
				if id, ok := header.GetReplyToMsgID(); ok {
					out.ReplyToMsgID = int64(id)
				}
				if top, ok := header.GetReplyToTopID(); ok {
					out.ReplyToTopID = int64(top)
				}
				out.ReplyIsForumTopic = header.ForumTopic
			}
		}
		if p, ok := m.PeerID.(*tg.PeerChannel); ok {
			out.ChatID = peerIDOf(p.ChannelID)
		}
		if media, ok := m.GetMedia(); ok {
			if att := wrapMedia(media); att != nil {
				out.Kind = upstream.KindMedia
				out.Media = att
			}
		}
		return out
	case *tg.MessageService:
		out := &upstream.Message{ID: int64(m.ID), Kind: upstream.KindService}
		if p, ok := m.PeerID.(*tg.PeerChannel); ok {
			out.ChatID = peerIDOf(p.ChannelID)
		}
		return out
	case *tg.MessageEmpty:
		return &upstream.Message{ID: int64(m.ID), Kind: upstream.KindService, Deleted: true}
	default:
		return nil
	}
}

// IterMessages pages through history with messages.getHistory. Reverse mode
// walks oldest-to-newest above MinID, the shape the history clone needs.
func (c *Client) IterMessages(ctx context.Context, peer int64, opts upstream.IterOptions, fn func(*upstream.Message) error) error {
	input, err := c.inputPeer(ctx, peer)
	if err != nil {
		return err
	}

	const pageSize = 100
	yielded := 0
	// In reverse mode OffsetID+AddOffset position the window just above the
	// floor; the provider still returns each page newest-first.
	offsetID := int(opts.MinID) + 1
	if !opts.Reverse {
		offsetID = 0
	}

	for {
		req := &tg.MessagesGetHistoryRequest{
			Peer:     input,
			OffsetID: offsetID,
			Limit:    pageSize,
			MinID:    int(opts.MinID),
			MaxID:    int(opts.MaxID),
		}
		if opts.Reverse {
			req.AddOffset = -pageSize
		}

		res, err := c.api.MessagesGetHistory(ctx, req)
		if err != nil {
			return wrapRPC(fmt.Errorf("get history: %w", err))
		}
		batch := historyMessages(res)
		if len(batch) == 0 {
			return nil
		}

		// Pages arrive newest-first; flip for reverse iteration.
		if opts.Reverse {
			for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
				batch[i], batch[j] = batch[j], batch[i]
			}
		}

		progressed := false
		for _, raw := range batch {
			msg := convertMessage(raw)
			if msg == nil {
				continue
			}
			if opts.Reverse {
				if msg.ID <= int64(offsetID)-1 {
					continue
				}
			}
			if msg.ChatID == 0 {
				msg.ChatID = peer
			}
			if err := fn(msg); err != nil {
				return err
			}
			yielded++
			progressed = true
			if opts.Limit > 0 && yielded >= opts.Limit {
				return nil
			}
			if opts.Reverse {
				offsetID = int(msg.ID) + 1
			}
		}
		if !opts.Reverse {
			last := batch[len(batch)-1]
			offsetID = last.GetID()
			progressed = true
		}
		if !progressed || len(batch) < pageSize {
			return nil
		}
	}
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesChannelMessages:
		return m.Messages
	default:
		return nil
	}
}

// GetMessages fetches specific ids. Missing or deleted ids come back as nil
// slots so the caller can line results up with its request.
func (c *Client) GetMessages(ctx context.Context, peer int64, ids []int64) ([]*upstream.Message, error) {
	input, err := c.inputChannel(ctx, peer)
	if err != nil {
		return nil, err
	}

	out := make([]*upstream.Message, 0, len(ids))
	// channels.getMessages caps at 100 ids per call.
	for start := 0; start < len(ids); start += 100 {
		end := start + 100
		if end > len(ids) {
			end = len(ids)
		}
		reqIDs := make([]tg.InputMessageClass, 0, end-start)
		for _, id := range ids[start:end] {
			reqIDs = append(reqIDs, &tg.InputMessageID{ID: int(id)})
		}

		res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: input,
			ID:      reqIDs,
		})
		if err != nil {
			return nil, wrapRPC(fmt.Errorf("get messages: %w", err))
		}

		byID := make(map[int64]*upstream.Message)
		for _, raw := range historyMessages(res) {
			if msg := convertMessage(raw); msg != nil && !msg.Deleted {
				byID[msg.ID] = msg
			}
		}
		for _, id := range ids[start:end] {
			out = append(out, byID[id])
		}
	}
	return out, nil
}

// ForwardMessages forwards ids from one peer to another. dropAuthor strips
// the forward header so the destination shows a clean copy.
func (c *Client) ForwardMessages(ctx context.Context, from, to int64, ids []int64, dropAuthor bool) error {
	fromPeer, err := c.inputPeer(ctx, from)
	if err != nil {
		return err
	}
	toPeer, err := c.inputPeer(ctx, to)
	if err != nil {
		return err
	}

	intIDs := make([]int, len(ids))
	randomIDs := make([]int64, len(ids))
	for i, id := range ids {
		intIDs[i] = int(id)
		randomIDs[i] = rand.Int64()
	}

	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   fromPeer,
		ToPeer:     toPeer,
		ID:         intIDs,
		RandomID:   randomIDs,
		DropAuthor: dropAuthor,
	})
	return wrapRPC(err)
}

// SendMessage posts plain text, passing formatting entities through when the
// caller carried them over from the source message.
func (c *Client) SendMessage(ctx context.Context, peer int64, text string, entities any) error {
	if text == "" {
		return errors.New("empty message text")
	}
	input, err := c.inputPeer(ctx, peer)
	if err != nil {
		return err
	}

	req := &tg.MessagesSendMessageRequest{
		Peer:     input,
		Message:  text,
		RandomID: rand.Int64(),
	}
	if ents, ok := entities.([]tg.MessageEntityClass); ok && len(ents) > 0 {
		req.SetEntities(ents)
	}
	_, err = c.api.MessagesSendMessage(ctx, req)
	return wrapRPC(err)
}
