package mtproto

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// EditChannelTitle renames a channel.
func (c *Client) EditChannelTitle(ctx context.Context, chat int64, title string) error {
	input, err := c.inputChannel(ctx, chat)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelsEditTitle(ctx, &tg.ChannelsEditTitleRequest{
		Channel: input,
		Title:   title,
	})
	return wrapRPC(err)
}

// RefreshChannel forces a full-channel fetch. The round-trip is the point:
// a cached entity would still resolve for a channel this session was thrown
// out of.
func (c *Client) RefreshChannel(ctx context.Context, chat int64) error {
	input, err := c.inputChannel(ctx, chat)
	if err != nil {
		return err
	}
	_, err = c.api.ChannelsGetFullChannel(ctx, input)
	return wrapRPC(err)
}

// SelfPermissions fetches this session's participant record in the channel.
func (c *Client) SelfPermissions(ctx context.Context, chat int64) (*upstream.Permissions, error) {
	input, err := c.inputChannel(ctx, chat)
	if err != nil {
		return nil, err
	}
	res, err := c.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     input,
		Participant: &tg.InputPeerSelf{},
	})
	if err != nil {
		return nil, wrapRPC(fmt.Errorf("get participant: %w", err))
	}

	perms := &upstream.Permissions{}
	switch res.Participant.(type) {
	case *tg.ChannelParticipantCreator:
		perms.IsAdmin = true
		perms.IsCreator = true
	case *tg.ChannelParticipantAdmin:
		perms.IsAdmin = true
	}
	return perms, nil
}

// GetForumTopics lists one page of forum topics. The returned offset feeds
// the next call; zero means the listing is exhausted.
func (c *Client) GetForumTopics(ctx context.Context, chat int64, offsetTopic int64, limit int) ([]upstream.ForumTopic, int64, error) {
	input, err := c.inputChannel(ctx, chat)
	if err != nil {
		return nil, 0, err
	}
	res, err := c.api.ChannelsGetForumTopics(ctx, &tg.ChannelsGetForumTopicsRequest{
		Channel:     input,
		OffsetTopic: int(offsetTopic),
		Limit:       limit,
	})
	if err != nil {
		return nil, 0, wrapRPC(fmt.Errorf("get forum topics: %w", err))
	}

	var out []upstream.ForumTopic
	var next int64
	for _, raw := range res.Topics {
		t, ok := raw.(*tg.ForumTopic)
		if !ok {
			continue
		}
		out = append(out, upstream.ForumTopic{TopicID: int64(t.ID), Title: t.Title})
		next = int64(t.ID)
	}
	if len(res.Topics) < limit {
		next = 0
	}
	return out, next, nil
}
