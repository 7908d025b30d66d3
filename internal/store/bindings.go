package store

import (
	"database/sql"
	"fmt"
)

// UpsertBinding links a (source group, topic) pair to a channel and, in the
// same transaction, marks that channel bound: in_use=1, is_standby=0. The
// channel row is created if the pool never saw it.
func (s *Store) UpsertBinding(sourceGroupID, topicID, channelChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	_, err = tx.Exec(`
		INSERT INTO topic_bindings (source_group_id, topic_id, channel_chat_id, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(source_group_id, topic_id) DO UPDATE SET
			channel_chat_id = excluded.channel_chat_id,
			active = 1,
			updated_at = excluded.updated_at`,
		sourceGroupID, topicID, channelChatID, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO channels (chat_id, title, is_standby, in_use, last_seen_at, created_at, updated_at)
		VALUES (?, '', 0, 1, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			is_standby = 0,
			in_use = 1,
			updated_at = excluded.updated_at`,
		channelChatID, ts, ts, ts)
	if err != nil {
		return fmt.Errorf("mark channel bound: %w", err)
	}

	return tx.Commit()
}

// GetBinding returns the binding for (source group, topic), or nil.
func (s *Store) GetBinding(sourceGroupID, topicID int64) (*TopicBinding, error) {
	var b TopicBinding
	var active int
	err := s.db.QueryRow(`
		SELECT id, source_group_id, topic_id, channel_chat_id, active, created_at, updated_at
		FROM topic_bindings WHERE source_group_id = ? AND topic_id = ?`,
		sourceGroupID, topicID).Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID, &active, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Active = active != 0
	return &b, nil
}

// ListBindings returns every binding joined with source, topic, and channel
// titles, newest first.
func (s *Store) ListBindings() ([]TopicBinding, error) {
	rows, err := s.db.Query(`
		SELECT b.id, b.source_group_id, b.topic_id, b.channel_chat_id, b.active,
		       b.created_at, b.updated_at,
		       COALESCE(t.title, ''), COALESCE(g.title, ''), COALESCE(c.title, '')
		FROM topic_bindings b
		LEFT JOIN source_groups g ON g.id = b.source_group_id
		LEFT JOIN topics t ON t.source_group_id = b.source_group_id AND t.topic_id = b.topic_id
		LEFT JOIN channels c ON c.chat_id = b.channel_chat_id
		ORDER BY b.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopicBinding
	for rows.Next() {
		var b TopicBinding
		var active int
		if err := rows.Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID, &active,
			&b.CreatedAt, &b.UpdatedAt, &b.TopicTitle, &b.SourceTitle, &b.ChannelTitle); err != nil {
			return nil, err
		}
		b.Active = active != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListActiveBindings returns active bindings with the enabled flags the
// monitor and the live listener filter on.
func (s *Store) ListActiveBindings() ([]ActiveBinding, error) {
	rows, err := s.db.Query(`
		SELECT b.id, b.source_group_id, b.topic_id, b.channel_chat_id, b.active,
		       b.created_at, b.updated_at,
		       COALESCE(t.title, ''), COALESCE(g.title, ''), COALESCE(c.title, ''),
		       g.chat_id, g.enabled, COALESCE(t.enabled, 0)
		FROM topic_bindings b
		JOIN source_groups g ON g.id = b.source_group_id
		LEFT JOIN topics t ON t.source_group_id = b.source_group_id AND t.topic_id = b.topic_id
		LEFT JOIN channels c ON c.chat_id = b.channel_chat_id
		WHERE b.active = 1
		ORDER BY b.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveBinding
	for rows.Next() {
		var b ActiveBinding
		var active, srcEnabled, topicEnabled int
		if err := rows.Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID, &active,
			&b.CreatedAt, &b.UpdatedAt, &b.TopicTitle, &b.SourceTitle, &b.ChannelTitle,
			&b.SourceChatID, &srcEnabled, &topicEnabled); err != nil {
			return nil, err
		}
		b.Active = active != 0
		b.SourceEnabled = srcEnabled != 0
		b.TopicEnabled = topicEnabled != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetBindingActive flips one binding's active flag.
func (s *Store) SetBindingActive(id int64, active bool) error {
	n, err := s.execCount(`UPDATE topic_bindings SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: binding %d not found", ErrPrecondition, id)
	}
	return nil
}

// DetachChannelBindings deactivates every binding pointing at the channel.
// Used when a target is lost, before the replacement binding is written.
func (s *Store) DetachChannelBindings(channelChatID int64) (int, error) {
	return s.execCount(`
		UPDATE topic_bindings SET active = 0, updated_at = ?
		WHERE channel_chat_id = ? AND active = 1`, now(), channelChatID)
}

// GetBindingsByChannel returns the active bindings pointing at the channel.
func (s *Store) GetBindingsByChannel(channelChatID int64) ([]TopicBinding, error) {
	rows, err := s.db.Query(`
		SELECT id, source_group_id, topic_id, channel_chat_id, active, created_at, updated_at
		FROM topic_bindings WHERE channel_chat_id = ? AND active = 1`, channelChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopicBinding
	for rows.Next() {
		var b TopicBinding
		var active int
		if err := rows.Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID, &active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Active = active != 0
		out = append(out, b)
	}
	return out, rows.Err()
}
