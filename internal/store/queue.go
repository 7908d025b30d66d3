package store

import (
	"database/sql"
	"fmt"
)

// EnqueueRecovery adds a pending job for (source group, topic). If a job for
// the pair is already pending or running, the existing job id is returned and
// nothing is written.
func (s *Store) EnqueueRecovery(sourceGroupID, topicID, oldChannelChatID int64, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.findLiveJob(sourceGroupID, topicID, JobPending, JobRunning); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	ts := now()
	res, err := s.db.Exec(`
		INSERT INTO recovery_queue
			(source_group_id, topic_id, old_channel_chat_id, reason, status, retry_count, last_cloned_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		sourceGroupID, topicID, oldChannelChatID, reason, JobPending, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("enqueue recovery: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// EnqueueManualRecovery is the operator path: the replacement channel is
// chosen up front. Idempotent against pending, running, and stopping jobs for
// the pair; a stopping job blocks the enqueue and its id is returned.
func (s *Store) EnqueueManualRecovery(sourceGroupID, topicID, oldChannelChatID, newChannelChatID int64, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok, err := s.findLiveJob(sourceGroupID, topicID, JobPending, JobRunning, JobStopping); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	ts := now()
	res, err := s.db.Exec(`
		INSERT INTO recovery_queue
			(source_group_id, topic_id, old_channel_chat_id, new_channel_chat_id, reason, status, retry_count, last_cloned_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		sourceGroupID, topicID, oldChannelChatID, newChannelChatID, reason, JobPending, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("enqueue manual recovery: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *Store) findLiveJob(sourceGroupID, topicID int64, statuses ...string) (int64, bool, error) {
	query := `SELECT id FROM recovery_queue WHERE source_group_id = ? AND topic_id = ? AND status IN (`
	args := []any{sourceGroupID, topicID}
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, st)
	}
	query += `) ORDER BY id ASC LIMIT 1`

	var id int64
	err := s.db.QueryRow(query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

const jobSelect = `
	SELECT q.id, q.source_group_id, q.topic_id, q.old_channel_chat_id, q.new_channel_chat_id,
	       COALESCE(q.reason, ''), q.status, q.retry_count, q.last_cloned_message_id,
	       COALESCE(q.last_error, ''), q.created_at, q.updated_at,
	       COALESCE(g.title, ''), COALESCE(t.title, '')
	FROM recovery_queue q
	LEFT JOIN source_groups g ON g.id = q.source_group_id
	LEFT JOIN topics t ON t.source_group_id = q.source_group_id AND t.topic_id = q.topic_id`

func scanJob(scan func(...any) error) (*RecoveryJob, error) {
	var j RecoveryJob
	var newChan sql.NullInt64
	err := scan(&j.ID, &j.SourceGroupID, &j.TopicID, &j.OldChannelChatID, &newChan,
		&j.Reason, &j.Status, &j.RetryCount, &j.LastClonedMessageID,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.SourceTitle, &j.TopicTitle)
	if err != nil {
		return nil, err
	}
	if newChan.Valid {
		j.NewChannelChatID = &newChan.Int64
	}
	return &j, nil
}

// GetRecoveryByID returns one job, or nil.
func (s *Store) GetRecoveryByID(id int64) (*RecoveryJob, error) {
	row := s.db.QueryRow(jobSelect+` WHERE q.id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ListRecoveryQueue returns the latest 500 jobs, newest first.
func (s *Store) ListRecoveryQueue() ([]RecoveryJob, error) {
	rows, err := s.db.Query(jobSelect + ` ORDER BY q.id DESC LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecoveryJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimNextRecovery atomically takes the oldest pending job to running and
// returns it. Returns nil when the queue is empty.
func (s *Store) ClaimNextRecovery() (*RecoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(jobSelect+` WHERE q.status = ? ORDER BY q.id ASC LIMIT 1`, JobPending)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	res, err := s.db.Exec(`UPDATE recovery_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobRunning, now(), j.ID, JobPending)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	j.Status = JobRunning
	return j, nil
}

// ClaimRecoveryByID transitions a specific job to running. Done and already
// running jobs are refused.
func (s *Store) ClaimRecoveryByID(id int64) (*RecoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(jobSelect+` WHERE q.id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %d not found", ErrPrecondition, id)
	}
	if err != nil {
		return nil, err
	}
	if j.Status == JobDone || j.Status == JobRunning {
		return nil, fmt.Errorf("%w: job %d is %s", ErrPrecondition, id, j.Status)
	}
	if _, err := s.db.Exec(`UPDATE recovery_queue SET status = ?, updated_at = ? WHERE id = ?`,
		JobRunning, now(), id); err != nil {
		return nil, err
	}
	j.Status = JobRunning
	return j, nil
}

// RequeueRecoveryTask puts a job back to pending. Done jobs cannot be
// requeued. restart=true zeroes the retry counter and the checkpoint so the
// replay starts over; restart=false resumes from the stored checkpoint.
func (s *Store) RequeueRecoveryTask(id int64, restart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRow(`SELECT status FROM recovery_queue WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: job %d not found", ErrPrecondition, id)
	}
	if err != nil {
		return err
	}
	if status == JobDone {
		return fmt.Errorf("%w: job %d is already done", ErrPrecondition, id)
	}

	if restart {
		_, err = s.db.Exec(`
			UPDATE recovery_queue SET status = ?, retry_count = 0, last_cloned_message_id = 0,
				last_error = NULL, updated_at = ?
			WHERE id = ?`, JobPending, now(), id)
	} else {
		_, err = s.db.Exec(`
			UPDATE recovery_queue SET status = ?, last_error = NULL, updated_at = ?
			WHERE id = ?`, JobPending, now(), id)
	}
	return err
}

// StopRecoveryTask requests a stop. Pending jobs stop immediately; running
// jobs move to stopping and the worker parks them at its next checkpoint;
// stopping is a no-op. Terminal states are refused. The resulting status is
// returned.
func (s *Store) StopRecoveryTask(id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRow(`SELECT status FROM recovery_queue WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: job %d not found", ErrPrecondition, id)
	}
	if err != nil {
		return "", err
	}

	switch status {
	case JobPending:
		_, err = s.db.Exec(`UPDATE recovery_queue SET status = ?, updated_at = ? WHERE id = ?`,
			JobStopped, now(), id)
		return JobStopped, err
	case JobRunning:
		_, err = s.db.Exec(`UPDATE recovery_queue SET status = ?, updated_at = ? WHERE id = ?`,
			JobStopping, now(), id)
		return JobStopping, err
	case JobStopping:
		return JobStopping, nil
	default:
		return status, fmt.Errorf("%w: job %d is %s", ErrPrecondition, id, status)
	}
}

// DeleteRecoveryTask removes a job row. Running and stopping jobs must be
// stopped first.
func (s *Store) DeleteRecoveryTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	err := s.db.QueryRow(`SELECT status FROM recovery_queue WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: job %d not found", ErrPrecondition, id)
	}
	if err != nil {
		return err
	}
	if status == JobRunning || status == JobStopping {
		return fmt.Errorf("%w: job %d is %s, stop it first", ErrPrecondition, id, status)
	}
	_, err = s.db.Exec(`DELETE FROM recovery_queue WHERE id = ?`, id)
	return err
}

// ClearRecoveryQueue deletes queue rows. Running and stopping jobs are kept
// unless includeRunning is set.
func (s *Store) ClearRecoveryQueue(includeRunning bool) (*ClearQueueReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &ClearQueueReport{}
	if !includeRunning {
		err := s.db.QueryRow(`SELECT COUNT(*) FROM recovery_queue WHERE status IN (?, ?)`,
			JobRunning, JobStopping).Scan(&report.SkippedRunning)
		if err != nil {
			return nil, err
		}
		res, err := s.db.Exec(`DELETE FROM recovery_queue WHERE status NOT IN (?, ?)`,
			JobRunning, JobStopping)
		if err != nil {
			return nil, err
		}
		n, _ := res.RowsAffected()
		report.Deleted = int(n)
		return report, nil
	}

	res, err := s.db.Exec(`DELETE FROM recovery_queue`)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	report.Deleted = int(n)
	return report, nil
}

// IsStopRequested reports whether the worker should abandon the job. A
// missing row counts as a stop: the operator deleted the job mid-flight.
func (s *Store) IsStopRequested(id int64) (bool, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM recovery_queue WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return status == JobStopping || status == JobStopped, nil
}

// ResetRunningRecoveryTasks sweeps running jobs back to pending, keeping the
// checkpoint. Called once at process start to undo a crashed worker's claims.
func (s *Store) ResetRunningRecoveryTasks() (int, error) {
	return s.execCount(`UPDATE recovery_queue SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, now(), JobRunning)
}

// MarkRecoveryAssignedChannel records the replacement channel on the job.
func (s *Store) MarkRecoveryAssignedChannel(id, newChannelChatID int64) error {
	_, err := s.exec(`UPDATE recovery_queue SET new_channel_chat_id = ?, updated_at = ? WHERE id = ?`,
		newChannelChatID, now(), id)
	return err
}

// UpdateRecoveryProgress advances the checkpoint. The stored value never
// decreases; a restart is the only way back to zero.
func (s *Store) UpdateRecoveryProgress(id, lastClonedMessageID int64) error {
	_, err := s.exec(`
		UPDATE recovery_queue
		SET last_cloned_message_id = MAX(last_cloned_message_id, ?), updated_at = ?
		WHERE id = ?`, lastClonedMessageID, now(), id)
	return err
}

// MarkRecoveryDone finalizes a job. A zero lastClonedMessageID keeps the
// stored checkpoint.
func (s *Store) MarkRecoveryDone(id, newChannelChatID int64, summary string, lastClonedMessageID int64) error {
	var last any
	if lastClonedMessageID > 0 {
		last = lastClonedMessageID
	}
	_, err := s.exec(`
		UPDATE recovery_queue
		SET status = ?, new_channel_chat_id = ?, last_error = ?,
			last_cloned_message_id = COALESCE(?, last_cloned_message_id), updated_at = ?
		WHERE id = ?`, JobDone, newChannelChatID, summary, last, now(), id)
	return err
}

// MarkRecoveryStopped parks a job after a cooperative stop, keeping the
// checkpoint for a later continue.
func (s *Store) MarkRecoveryStopped(id int64, note string) error {
	_, err := s.exec(`
		UPDATE recovery_queue SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`, JobStopped, note, now(), id)
	return err
}

// MarkRecoveryFailed records a failure. While retries remain the job goes
// back to pending with retry_count bumped; at the limit it parks as failed.
// The error text is truncated to 500 bytes.
func (s *Store) MarkRecoveryFailed(id int64, errText string, maxRetry int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retry int
	err := s.db.QueryRow(`SELECT retry_count FROM recovery_queue WHERE id = ?`, id).Scan(&retry)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: job %d not found", ErrPrecondition, id)
	}
	if err != nil {
		return "", err
	}

	next := JobFailed
	if retry+1 < maxRetry {
		next = JobPending
	}
	_, err = s.db.Exec(`
		UPDATE recovery_queue SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?`, next, retry+1, truncateError(errText), now(), id)
	if err != nil {
		return "", err
	}
	return next, nil
}

// CountRunningRecoveryJobs counts jobs in running or stopping.
func (s *Store) CountRunningRecoveryJobs() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM recovery_queue WHERE status IN (?, ?)`,
		JobRunning, JobStopping).Scan(&n)
	return n, err
}
