package store

import (
	"database/sql"
	"fmt"
)

// TopicInfo is a (topic_id, title) pair discovered upstream.
type TopicInfo struct {
	TopicID int64
	Title   string
}

// UpsertTopics merges discovered topics into a source group. New topics start
// disabled; existing rows only get their title refreshed.
func (s *Store) UpsertTopics(sourceGroupID int64, topics []TopicInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	for _, t := range topics {
		_, err := tx.Exec(`
			INSERT INTO topics (source_group_id, topic_id, title, enabled, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?)
			ON CONFLICT(source_group_id, topic_id) DO UPDATE SET
				title = excluded.title, updated_at = excluded.updated_at`,
			sourceGroupID, t.TopicID, t.Title, ts, ts)
		if err != nil {
			return fmt.Errorf("upsert topic %d: %w", t.TopicID, err)
		}
	}
	return tx.Commit()
}

// GetTopic returns the topic with the given natural key, or nil.
func (s *Store) GetTopic(sourceGroupID, topicID int64) (*Topic, error) {
	var t Topic
	var enabled int
	err := s.db.QueryRow(`
		SELECT id, source_group_id, topic_id, title, enabled, created_at, updated_at
		FROM topics WHERE source_group_id = ? AND topic_id = ?`,
		sourceGroupID, topicID).Scan(&t.ID, &t.SourceGroupID, &t.TopicID, &t.Title, &enabled, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	return &t, nil
}

// ListTopics returns all topics of a source group ordered by topic id.
func (s *Store) ListTopics(sourceGroupID int64) ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, source_group_id, topic_id, title, enabled, created_at, updated_at
		FROM topics WHERE source_group_id = ? ORDER BY topic_id ASC`, sourceGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

// ListEnabledTopics returns the enabled topics of a source group.
func (s *Store) ListEnabledTopics(sourceGroupID int64) ([]Topic, error) {
	rows, err := s.db.Query(`
		SELECT id, source_group_id, topic_id, title, enabled, created_at, updated_at
		FROM topics WHERE source_group_id = ? AND enabled = 1 ORDER BY topic_id ASC`, sourceGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

// SetTopicEnabled flips the enabled flag of one topic.
func (s *Store) SetTopicEnabled(id int64, enabled bool) error {
	n, err := s.execCount(`UPDATE topics SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: topic %d not found", ErrPrecondition, id)
	}
	return nil
}

func scanTopics(rows *sql.Rows) ([]Topic, error) {
	var out []Topic
	for rows.Next() {
		var t Topic
		var enabled int
		if err := rows.Scan(&t.ID, &t.SourceGroupID, &t.TopicID, &t.Title, &enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
