package store

import (
	"database/sql"
	"fmt"
)

// UpsertChannel records or refreshes a tracked channel. A nil adminCheckAt
// keeps the stored value; is_standby and in_use are always overwritten.
func (s *Store) UpsertChannel(chatID int64, title string, isStandby, inUse bool, adminCheckAt *string) error {
	ts := now()
	_, err := s.exec(`
		INSERT INTO channels (chat_id, title, is_standby, in_use, admin_check_at, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = excluded.title,
			is_standby = excluded.is_standby,
			in_use = excluded.in_use,
			admin_check_at = COALESCE(excluded.admin_check_at, channels.admin_check_at),
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		chatID, title, boolInt(isStandby), boolInt(inUse), adminCheckAt, ts, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert channel %d: %w", chatID, err)
	}
	return nil
}

// GetChannel returns the channel with the given chat id, or nil.
func (s *Store) GetChannel(chatID int64) (*Channel, error) {
	row := s.db.QueryRow(channelSelect+` WHERE chat_id = ?`, chatID)
	c, err := scanChannel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChannels returns every tracked channel, newest first.
func (s *Store) ListChannels() ([]Channel, error) {
	return s.queryChannels(channelSelect + ` ORDER BY id DESC`)
}

// ListStandbyChannels returns the available pool in consumption order,
// oldest insertion first.
func (s *Store) ListStandbyChannels() ([]Channel, error) {
	return s.queryChannels(channelSelect + ` WHERE is_standby = 1 AND in_use = 0 ORDER BY id ASC`)
}

// GetNextAvailableStandby returns the oldest standby channel, or nil when the
// pool is empty.
func (s *Store) GetNextAvailableStandby() (*Channel, error) {
	row := s.db.QueryRow(channelSelect + ` WHERE is_standby = 1 AND in_use = 0 ORDER BY id ASC LIMIT 1`)
	c, err := scanChannel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConsumeStandbyChannel atomically takes a channel out of the pool. Returns
// ErrPrecondition if the channel is not an available standby, so two
// concurrent consumers cannot both win.
func (s *Store) ConsumeStandbyChannel(chatID int64) error {
	ts := now()
	n, err := s.execCount(`
		UPDATE channels SET is_standby = 0, in_use = 1, consumed_at = ?, updated_at = ?
		WHERE chat_id = ? AND is_standby = 1 AND in_use = 0`, ts, ts, chatID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: channel %d is not an available standby", ErrPrecondition, chatID)
	}
	return nil
}

// MarkChannelLastSeen bumps last_seen_at and admin_check_at, optionally
// refreshing the title.
func (s *Store) MarkChannelLastSeen(chatID int64, title string) error {
	ts := now()
	if title != "" {
		_, err := s.exec(`
			UPDATE channels SET title = ?, last_seen_at = ?, admin_check_at = ?, updated_at = ?
			WHERE chat_id = ?`, title, ts, ts, ts, chatID)
		return err
	}
	_, err := s.exec(`
		UPDATE channels SET last_seen_at = ?, admin_check_at = ?, updated_at = ?
		WHERE chat_id = ?`, ts, ts, ts, chatID)
	return err
}

// DeleteChannel removes a channel row by chat id.
func (s *Store) DeleteChannel(chatID int64) error {
	_, err := s.execCount(`DELETE FROM channels WHERE chat_id = ?`, chatID)
	return err
}

// ClearStandbyChannels empties the pool: every channel not currently bound is
// deleted, including tracked-but-unavailable rows.
func (s *Store) ClearStandbyChannels() (int, error) {
	return s.execCount(`DELETE FROM channels WHERE in_use = 0`)
}

const channelSelect = `
	SELECT id, chat_id, title, is_standby, in_use, consumed_at, admin_check_at,
	       last_seen_at, created_at, updated_at
	FROM channels`

func (s *Store) queryChannels(query string, args ...any) ([]Channel, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanChannel(scan func(...any) error) (*Channel, error) {
	var c Channel
	var standby, inUse int
	var consumed, adminCheck sql.NullString
	err := scan(&c.ID, &c.ChatID, &c.Title, &standby, &inUse, &consumed, &adminCheck,
		&c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.IsStandby = standby != 0
	c.InUse = inUse != 0
	if consumed.Valid {
		c.ConsumedAt = &consumed.String
	}
	if adminCheck.Valid {
		c.AdminCheckAt = &adminCheck.String
	}
	return &c, nil
}
