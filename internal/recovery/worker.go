package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// Worker drains the recovery queue one job at a time: consume a standby,
// rebind, replay the topic history from the checkpoint, finalize. It is the
// only component that moves a job out of running, apart from the startup
// reset sweep.
type Worker struct {
	st       *store.Store
	gw       *upstream.Gateway
	pl       *pool.Pool
	engine   *clone.Engine
	maxRetry int
}

func New(st *store.Store, gw *upstream.Gateway, pl *pool.Pool, engine *clone.Engine, maxRetry int) *Worker {
	return &Worker{st: st, gw: gw, pl: pl, engine: engine, maxRetry: maxRetry}
}

// RunOnce claims the oldest pending job and processes it. Returns false when
// the queue is empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.st.ClaimNextRecovery()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// RunByID claims a specific job, the panel's run-now path.
func (w *Worker) RunByID(ctx context.Context, id int64) error {
	job, err := w.st.ClaimRecoveryByID(id)
	if err != nil {
		return err
	}
	w.process(ctx, job)
	return nil
}

func (w *Worker) process(ctx context.Context, job *store.RecoveryJob) {
	slog.Info("recovery job started",
		"job_id", job.ID, "source_group_id", job.SourceGroupID, "topic_id", job.TopicID,
		"checkpoint", job.LastClonedMessageID, "retry", job.RetryCount)

	group, topic, err := w.resolveRows(job)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	target, err := w.selectTarget(ctx, job, topic)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	res, err := w.engine.CloneTopicHistory(ctx, clone.HistoryOptions{
		Source:         group.ChatID,
		Target:         target,
		TopicID:        job.TopicID,
		StartMessageID: job.LastClonedMessageID,
		ShouldStop: func() bool {
			stop, serr := w.st.IsStopRequested(job.ID)
			if serr != nil {
				slog.Warn("stop check failed", "job_id", job.ID, "error", serr)
				return false
			}
			return stop
		},
		Progress: func(checkpoint int64) error {
			if perr := w.st.UpdateRecoveryProgress(job.ID, checkpoint); perr != nil {
				return perr
			}
			stop, serr := w.st.IsStopRequested(job.ID)
			if serr != nil {
				return serr
			}
			if stop {
				return upstream.ErrStopped
			}
			return nil
		},
	})

	switch {
	case errors.Is(err, upstream.ErrStopped):
		note := fmt.Sprintf("stopped at checkpoint %d", res.LastClonedMessageID)
		if serr := w.st.MarkRecoveryStopped(job.ID, note); serr != nil {
			slog.Error("mark stopped", "job_id", job.ID, "error", serr)
		}
		slog.Info("recovery job stopped", "job_id", job.ID, "checkpoint", res.LastClonedMessageID)
		w.gw.Notify(ctx, fmt.Sprintf("recovery job #%d stopped at checkpoint %d", job.ID, res.LastClonedMessageID))

	case err != nil:
		w.fail(ctx, job, err)

	default:
		summary := fmt.Sprintf("cloned %d of %d messages (skipped %d)", res.Cloned, res.Total, res.Skipped)
		if derr := w.st.MarkRecoveryDone(job.ID, target, summary, res.LastClonedMessageID); derr != nil {
			slog.Error("mark done", "job_id", job.ID, "error", derr)
			return
		}
		slog.Info("recovery job done", "job_id", job.ID, "target", target, "cloned", res.Cloned)
		w.gw.Notify(ctx, fmt.Sprintf(
			"recovery job #%d done: topic %q rebound to channel %d, %s",
			job.ID, topic.Title, target, summary))

		if _, berr := w.st.RemoveBannedChannel(job.SourceGroupID, job.TopicID, job.OldChannelChatID); berr != nil {
			slog.Warn("clear banned row", "job_id", job.ID, "error", berr)
		}
		if derr := w.st.DeleteRecoveryTask(job.ID); derr != nil {
			slog.Warn("delete finished job", "job_id", job.ID, "error", derr)
		}
	}
}

func (w *Worker) resolveRows(job *store.RecoveryJob) (*store.SourceGroup, *store.Topic, error) {
	group, err := w.st.GetSourceGroupByID(job.SourceGroupID)
	if err != nil {
		return nil, nil, err
	}
	if group == nil {
		return nil, nil, fmt.Errorf("%w: source group %d is gone", store.ErrPrecondition, job.SourceGroupID)
	}
	topic, err := w.st.GetTopic(job.SourceGroupID, job.TopicID)
	if err != nil {
		return nil, nil, err
	}
	if topic == nil {
		return nil, nil, fmt.Errorf("%w: topic %d is gone", store.ErrPrecondition, job.TopicID)
	}
	return group, topic, nil
}

// selectTarget returns the replacement channel: the pre-assigned one on the
// manual path, otherwise a standby consumed, renamed, and rebound here.
func (w *Worker) selectTarget(ctx context.Context, job *store.RecoveryJob, topic *store.Topic) (int64, error) {
	if job.NewChannelChatID != nil && *job.NewChannelChatID != 0 {
		target := *job.NewChannelChatID
		if err := w.rebind(job, target); err != nil {
			return 0, err
		}
		return target, nil
	}

	ch, err := w.pl.Consume(ctx)
	if err != nil {
		return 0, err
	}
	if err := w.pl.RenameChannel(ctx, ch.ChatID, topic.Title); err != nil {
		// A failed rename is cosmetic, the channel still works.
		slog.Warn("rename replacement channel failed",
			"chat_id", ch.ChatID, "job_id", job.ID, "error", err)
	}
	if err := w.rebind(job, ch.ChatID); err != nil {
		return 0, err
	}
	if err := w.st.MarkRecoveryAssignedChannel(job.ID, ch.ChatID); err != nil {
		return 0, err
	}
	return ch.ChatID, nil
}

func (w *Worker) rebind(job *store.RecoveryJob, target int64) error {
	if _, err := w.st.DetachChannelBindings(job.OldChannelChatID); err != nil {
		return fmt.Errorf("detach old bindings: %w", err)
	}
	if err := w.st.UpsertBinding(job.SourceGroupID, job.TopicID, target); err != nil {
		return fmt.Errorf("bind replacement channel: %w", err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, job *store.RecoveryJob, cause error) {
	status, err := w.st.MarkRecoveryFailed(job.ID, cause.Error(), w.maxRetry)
	if err != nil {
		slog.Error("mark failed", "job_id", job.ID, "error", err)
		return
	}
	slog.Warn("recovery job failed", "job_id", job.ID, "next_status", status, "error", cause)
	if status == store.JobFailed {
		w.gw.Notify(ctx, fmt.Sprintf("recovery job #%d failed permanently: %v", job.ID, cause))
	}
}
