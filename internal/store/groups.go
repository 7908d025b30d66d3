package store

import (
	"database/sql"
	"fmt"
)

// AddOrUpdateSourceGroup upserts a source group by chat id and returns the row.
func (s *Store) AddOrUpdateSourceGroup(chatID int64, title string) (*SourceGroup, error) {
	ts := now()
	_, err := s.exec(`
		INSERT INTO source_groups (chat_id, title, enabled, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		chatID, title, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("upsert source group: %w", err)
	}
	return s.GetSourceGroupByChatID(chatID)
}

// GetSourceGroupByChatID returns the group with the given chat id, or nil.
func (s *Store) GetSourceGroupByChatID(chatID int64) (*SourceGroup, error) {
	return s.scanGroup(s.db.QueryRow(`
		SELECT id, chat_id, title, enabled, created_at, updated_at
		FROM source_groups WHERE chat_id = ?`, chatID))
}

// GetSourceGroupByID returns the group with the given row id, or nil.
func (s *Store) GetSourceGroupByID(id int64) (*SourceGroup, error) {
	return s.scanGroup(s.db.QueryRow(`
		SELECT id, chat_id, title, enabled, created_at, updated_at
		FROM source_groups WHERE id = ?`, id))
}

// ListSourceGroups returns all groups, newest first.
func (s *Store) ListSourceGroups() ([]SourceGroup, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, title, enabled, created_at, updated_at
		FROM source_groups ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceGroup
	for rows.Next() {
		var g SourceGroup
		var enabled int
		if err := rows.Scan(&g.ID, &g.ChatID, &g.Title, &enabled, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Enabled = enabled != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetSourceGroupEnabled flips the enabled flag.
func (s *Store) SetSourceGroupEnabled(id int64, enabled bool) error {
	n, err := s.execCount(`UPDATE source_groups SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: source group %d not found", ErrPrecondition, id)
	}
	return nil
}

// DeleteSourceGroup removes a group and everything hanging off it: topics,
// bindings, banned rows, and queued jobs. Channels whose active bindings all
// belonged to this group are released back to in_use=0. Refused while any of
// the group's recovery jobs is running or stopping.
func (s *Store) DeleteSourceGroup(id int64) (*DeleteReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var running int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM recovery_queue
		WHERE source_group_id = ? AND status IN (?, ?)`,
		id, JobRunning, JobStopping).Scan(&running)
	if err != nil {
		return nil, err
	}
	if running > 0 {
		return &DeleteReport{RunningJobs: running},
			fmt.Errorf("%w: source group %d has %d running or stopping jobs", ErrPrecondition, id, running)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Channels bound only through this group become releasable afterwards.
	chanRows, err := tx.Query(`
		SELECT DISTINCT channel_chat_id FROM topic_bindings WHERE source_group_id = ?`, id)
	if err != nil {
		return nil, err
	}
	var channels []int64
	for chanRows.Next() {
		var c int64
		if err := chanRows.Scan(&c); err != nil {
			chanRows.Close()
			return nil, err
		}
		channels = append(channels, c)
	}
	chanRows.Close()
	if err := chanRows.Err(); err != nil {
		return nil, err
	}

	report := &DeleteReport{}
	report.Topics, err = txCount(tx, `DELETE FROM topics WHERE source_group_id = ?`, id)
	if err != nil {
		return nil, err
	}
	report.TopicBindings, err = txCount(tx, `DELETE FROM topic_bindings WHERE source_group_id = ?`, id)
	if err != nil {
		return nil, err
	}
	report.BannedChannels, err = txCount(tx, `DELETE FROM banned_channels WHERE source_group_id = ?`, id)
	if err != nil {
		return nil, err
	}
	report.RecoveryQueue, err = txCount(tx, `DELETE FROM recovery_queue WHERE source_group_id = ?`, id)
	if err != nil {
		return nil, err
	}
	report.SourceGroups, err = txCount(tx, `DELETE FROM source_groups WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	ts := now()
	for _, c := range channels {
		var remaining int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM topic_bindings WHERE channel_chat_id = ? AND active = 1`, c).Scan(&remaining); err != nil {
			return nil, err
		}
		if remaining > 0 {
			continue
		}
		n, err := txCount(tx, `
			UPDATE channels SET in_use = 0, updated_at = ? WHERE chat_id = ? AND in_use = 1`, ts, c)
		if err != nil {
			return nil, err
		}
		report.ReleasedChannels += n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}

func txCount(tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) scanGroup(row *sql.Row) (*SourceGroup, error) {
	var g SourceGroup
	var enabled int
	err := row.Scan(&g.ID, &g.ChatID, &g.Title, &enabled, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Enabled = enabled != 0
	return &g, nil
}
