package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

// Engine mirrors messages into target channels without forward headers.
// It guarantees three things: the destination never shows the original
// author, album members land together or the unit fails, and after every
// progress call the reported checkpoint is safe to resume from.
type Engine struct {
	reader upstream.Client
	writer upstream.Client
}

func New(reader, writer upstream.Client) *Engine {
	return &Engine{reader: reader, writer: writer}
}

// unitDelay is the cooperative yield between history units. Tests zero it.
var unitDelay = 30 * time.Millisecond

// CloneNoRef copies one message to target. Forward-with-drop-author is the
// fast path; when the provider refuses, the content is re-sent: first by
// media reference, then via download and re-upload.
func (e *Engine) CloneNoRef(ctx context.Context, msg *upstream.Message, source, target int64) error {
	if !msg.Cloneable() {
		return fmt.Errorf("%w: message %d has no cloneable content", upstream.ErrInvalidInput, msg.ID)
	}

	err := upstream.WithFloodRetry(func() error {
		return e.writer.ForwardMessages(ctx, source, target, []int64{msg.ID}, true)
	})
	if err == nil {
		return nil
	}
	if upstream.IsChannelUnavailable(err) {
		return err
	}
	slog.Debug("forward failed, copying instead", "message_id", msg.ID, "error", err)

	if msg.Media == nil {
		return upstream.WithFloodRetry(func() error {
			return e.writer.SendMessage(ctx, target, msg.Text, msg.Entities)
		})
	}

	err = upstream.WithFloodRetry(func() error {
		return e.writer.SendMedia(ctx, target, msg.Media, msg.Text, msg.Entities)
	})
	if err == nil {
		return nil
	}
	if upstream.IsChannelUnavailable(err) {
		return err
	}
	slog.Debug("media reference re-send failed, downloading", "message_id", msg.ID, "error", err)

	dir, err := os.MkdirTemp("", "clone-media-*")
	if err != nil {
		return fmt.Errorf("create media temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	res, err := e.reader.DownloadMedia(ctx, msg.Media, dir)
	if err != nil {
		return fmt.Errorf("download message %d media: %w", msg.ID, err)
	}
	return upstream.WithFloodRetry(func() error {
		return e.writer.SendFile(ctx, target, res, msg.Media, msg.Text, msg.Entities)
	})
}

// CloneMediaGroup delivers an album. One forward of all ids first; if that
// fails, each member is retried individually and the group only counts as
// cloned when every cloneable member made it.
func (e *Engine) CloneMediaGroup(ctx context.Context, members []*upstream.Message, source, target int64) error {
	ids := make([]int64, 0, len(members))
	cloneable := 0
	for _, m := range members {
		ids = append(ids, m.ID)
		if m.Cloneable() {
			cloneable++
		}
	}
	if cloneable == 0 {
		return nil
	}

	err := upstream.WithFloodRetry(func() error {
		return e.writer.ForwardMessages(ctx, source, target, ids, true)
	})
	if err == nil {
		return nil
	}
	if upstream.IsChannelUnavailable(err) {
		return err
	}
	slog.Debug("album forward failed, retrying members individually", "ids", ids, "error", err)

	succeeded := 0
	for _, m := range members {
		if !m.Cloneable() {
			continue
		}
		if err := e.CloneNoRef(ctx, m, source, target); err != nil {
			if upstream.IsChannelUnavailable(err) {
				return err
			}
			slog.Warn("album member clone failed", "message_id", m.ID, "error", err)
			continue
		}
		succeeded++
	}
	if succeeded != cloneable {
		return fmt.Errorf("album %v: cloned %d of %d members", ids, succeeded, cloneable)
	}
	return nil
}

// HistoryOptions shapes one topic replay.
type HistoryOptions struct {
	Source  int64
	Target  int64
	TopicID int64

	// StartMessageID is the checkpoint to resume from; messages with id <=
	// the effective start are skipped.
	StartMessageID int64

	// ShouldStop is polled before each unit. Returning true ends the replay
	// with ErrStopped, checkpoint intact.
	ShouldStop func() bool

	// Progress persists the checkpoint. An error aborts the replay.
	Progress func(checkpoint int64) error
}

// HistoryResult summarizes a completed replay.
type HistoryResult struct {
	Total               int
	Cloned              int
	Skipped             int
	StartedMinID        int64
	LastClonedMessageID int64
}

const checkpointEvery = 5

// CloneTopicHistory replays a topic oldest-to-newest into the target. Any
// clone failure aborts so the checkpoint never advances past a hole.
func (e *Engine) CloneTopicHistory(ctx context.Context, opts HistoryOptions) (*HistoryResult, error) {
	effectiveStart := opts.StartMessageID
	if opts.TopicID > effectiveStart {
		// Nothing before the topic root can belong to the topic.
		effectiveStart = opts.TopicID
	}

	result := &HistoryResult{
		StartedMinID:        effectiveStart,
		LastClonedMessageID: effectiveStart,
	}
	seenGroups := make(map[int64]bool)
	units := 0

	checkpoint := func() error {
		if opts.Progress == nil {
			return nil
		}
		return opts.Progress(result.LastClonedMessageID)
	}

	err := e.reader.IterMessages(ctx, opts.Source, upstream.IterOptions{
		Reverse: true,
		MinID:   effectiveStart,
	}, func(msg *upstream.Message) error {
		if opts.ShouldStop != nil && opts.ShouldStop() {
			return upstream.ErrStopped
		}
		if !msg.InTopic(opts.TopicID) {
			return nil
		}
		result.Total++

		var unitHigh int64
		switch {
		case msg.GroupedID != 0 && seenGroups[msg.GroupedID]:
			// Album already delivered via an earlier member.
			return nil
		case msg.GroupedID != 0:
			seenGroups[msg.GroupedID] = true
			members, err := e.CollectMediaGroup(ctx, opts.Source, msg)
			if err != nil {
				return fmt.Errorf("collect album for message %d: %w", msg.ID, err)
			}
			if err := e.CloneMediaGroup(ctx, members, opts.Source, opts.Target); err != nil {
				return fmt.Errorf("clone album at message %d: %w", msg.ID, err)
			}
			for _, m := range members {
				if m.Cloneable() {
					result.Cloned++
				}
				if m.ID > unitHigh {
					unitHigh = m.ID
				}
			}
		case !msg.Cloneable():
			// Skipped messages still advance the checkpoint: a resume must
			// not revisit a service message it already saw.
			result.Skipped++
			unitHigh = msg.ID
		default:
			if err := e.CloneNoRef(ctx, msg, opts.Source, opts.Target); err != nil {
				return fmt.Errorf("clone message %d: %w", msg.ID, err)
			}
			result.Cloned++
			unitHigh = msg.ID
		}

		if unitHigh > result.LastClonedMessageID {
			result.LastClonedMessageID = unitHigh
		}
		units++
		if units%checkpointEvery == 0 {
			if err := checkpoint(); err != nil {
				return err
			}
		}
		if unitDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(unitDelay):
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, upstream.ErrStopped) {
			// The caller parks the job; the checkpoint stays valid.
			if cerr := checkpoint(); cerr != nil {
				slog.Warn("checkpoint after stop failed", "error", cerr)
			}
		}
		return result, err
	}

	if err := checkpoint(); err != nil {
		return result, err
	}
	return result, nil
}
