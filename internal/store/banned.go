package store

// AddBannedChannel records that a channel failed an access check for a
// binding. Re-detection updates the latest row for the triple in place and
// collapses older duplicates.
func (s *Store) AddBannedChannel(sourceGroupID, topicID, channelChatID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.Exec(`
		UPDATE banned_channels SET reason = ?, detected_at = ?
		WHERE id = (
			SELECT MAX(id) FROM banned_channels
			WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?
		)`,
		reason, ts, sourceGroupID, topicID, channelChatID)
	if err != nil {
		return err
	}
	updated, _ := res.RowsAffected()
	if updated == 0 {
		_, err = tx.Exec(`
			INSERT INTO banned_channels (source_group_id, topic_id, channel_chat_id, reason, detected_at)
			VALUES (?, ?, ?, ?, ?)`,
			sourceGroupID, topicID, channelChatID, reason, ts)
		if err != nil {
			return err
		}
	} else {
		_, err = tx.Exec(`
			DELETE FROM banned_channels
			WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?
			AND id < (
				SELECT MAX(id) FROM banned_channels
				WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?
			)`,
			sourceGroupID, topicID, channelChatID,
			sourceGroupID, topicID, channelChatID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListBannedChannels returns the latest 300 banned rows joined with titles.
func (s *Store) ListBannedChannels() ([]BannedChannel, error) {
	rows, err := s.db.Query(`
		SELECT bc.id, bc.source_group_id, bc.topic_id, bc.channel_chat_id,
		       COALESCE(bc.reason, ''), bc.detected_at,
		       COALESCE(g.title, ''), COALESCE(t.title, '')
		FROM banned_channels bc
		LEFT JOIN source_groups g ON g.id = bc.source_group_id
		LEFT JOIN topics t ON t.source_group_id = bc.source_group_id AND t.topic_id = bc.topic_id
		ORDER BY bc.id DESC LIMIT 300`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BannedChannel
	for rows.Next() {
		var b BannedChannel
		if err := rows.Scan(&b.ID, &b.SourceGroupID, &b.TopicID, &b.ChannelChatID,
			&b.Reason, &b.DetectedAt, &b.SourceTitle, &b.TopicTitle); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RemoveBannedChannel deletes every row for the triple.
func (s *Store) RemoveBannedChannel(sourceGroupID, topicID, channelChatID int64) (int, error) {
	return s.execCount(`
		DELETE FROM banned_channels
		WHERE source_group_id = ? AND topic_id = ? AND channel_chat_id = ?`,
		sourceGroupID, topicID, channelChatID)
}

// ClearBannedChannels deletes all banned rows.
func (s *Store) ClearBannedChannels() (int, error) {
	return s.execCount(`DELETE FROM banned_channels`)
}
