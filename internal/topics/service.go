package topics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

const (
	topicPageSize = 100
	maxTopicPages = 10
)

// Service manages source groups and their forum topics.
type Service struct {
	st *store.Store
	gw *upstream.Gateway
}

func New(st *store.Store, gw *upstream.Gateway) *Service {
	return &Service{st: st, gw: gw}
}

// AddSourceGroup resolves the ref through the reader, verifies it is a forum
// supergroup, registers it, and pulls its topic list.
func (s *Service) AddSourceGroup(ctx context.Context, rawRef string) (*store.SourceGroup, error) {
	ref, err := upstream.NormalizeRef(rawRef)
	if err != nil {
		return nil, err
	}
	entity, err := s.gw.Reader().Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve source group: %w", err)
	}
	if !entity.IsMegagroup {
		return nil, fmt.Errorf("%w: %s is not a supergroup", upstream.ErrInvalidInput, rawRef)
	}

	group, err := s.st.AddOrUpdateSourceGroup(entity.ID, entity.Title)
	if err != nil {
		return nil, err
	}
	if entity.IsForum {
		if err := s.SyncTopics(ctx, group.ID); err != nil {
			slog.Warn("initial topic sync failed", "chat_id", entity.ID, "error", err)
		}
	}
	return group, nil
}

// SyncTopics pulls the group's forum topics page by page and merges them
// into the store. New topics start disabled.
func (s *Service) SyncTopics(ctx context.Context, sourceGroupID int64) error {
	group, err := s.st.GetSourceGroupByID(sourceGroupID)
	if err != nil {
		return err
	}
	if group == nil {
		return fmt.Errorf("%w: source group %d not found", store.ErrPrecondition, sourceGroupID)
	}

	var collected []store.TopicInfo
	var offset int64
	for page := 0; page < maxTopicPages; page++ {
		topics, next, err := s.gw.Reader().GetForumTopics(ctx, group.ChatID, offset, topicPageSize)
		if err != nil {
			return fmt.Errorf("list forum topics: %w", err)
		}
		for _, t := range topics {
			collected = append(collected, store.TopicInfo{TopicID: t.TopicID, Title: t.Title})
		}
		if next == 0 || len(topics) == 0 {
			break
		}
		offset = next
	}

	if len(collected) == 0 {
		return nil
	}
	if err := s.st.UpsertTopics(sourceGroupID, collected); err != nil {
		return err
	}
	slog.Info("topics synced", "source_group_id", sourceGroupID, "count", len(collected))
	return nil
}
