package recovery

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream/upstreamtest"
)

const (
	srcChat    = int64(-1001000)
	deadChan   = int64(-1002000)
	spareChan  = int64(-1003000)
	manualChan = int64(-1004000)
)

type fixture struct {
	st     *store.Store
	reader *upstreamtest.FakeClient
	writer *upstreamtest.FakeClient
	worker *Worker
	group  *store.SourceGroup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reader := upstreamtest.New()
	writer := upstreamtest.New()
	writer.SessionRole = upstream.RoleWriter
	gw := upstream.NewGateway(reader, writer, 0)
	pl := pool.New(st, gw)
	engine := clone.New(reader, writer)

	group, err := st.AddOrUpdateSourceGroup(srcChat, "source")
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: 10, Title: "news"}}); err != nil {
		t.Fatalf("seed topic: %v", err)
	}

	return &fixture{
		st:     st,
		reader: reader,
		writer: writer,
		worker: New(st, gw, pl, engine, 3),
		group:  group,
	}
}

func (f *fixture) seedHistory(t *testing.T, from, to int64) {
	t.Helper()
	for id := from; id <= to; id++ {
		f.reader.Histories[srcChat] = append(f.reader.Histories[srcChat], &upstream.Message{
			ID: id, ChatID: srcChat, Kind: upstream.KindText, Text: "m", ReplyToTopID: 10,
		})
	}
}

func TestRecoveryPromotesStandbyAndReplays(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, 11, 22)
	f.st.UpsertBinding(f.group.ID, 10, deadChan)
	f.st.UpsertChannel(spareChan, "spare", true, false, nil)
	f.st.AddBannedChannel(f.group.ID, 10, deadChan, "dead")
	f.st.EnqueueRecovery(f.group.ID, 10, deadChan, "dead")

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("run: processed=%v err=%v", processed, err)
	}

	// The finished job row is removed.
	jobs, _ := f.st.ListRecoveryQueue()
	if len(jobs) != 0 {
		t.Fatalf("queue should be empty, got %+v", jobs)
	}

	binding, _ := f.st.GetBinding(f.group.ID, 10)
	if binding == nil || binding.ChannelChatID != spareChan || !binding.Active {
		t.Fatalf("binding not moved to the standby: %+v", binding)
	}
	ch, _ := f.st.GetChannel(spareChan)
	if ch.IsStandby || !ch.InUse {
		t.Fatalf("standby not consumed: %+v", ch)
	}
	if f.writer.Titles[spareChan] != "news" {
		t.Fatalf("channel not renamed to topic title: %q", f.writer.Titles[spareChan])
	}
	if len(f.writer.Forwarded) != 12 {
		t.Fatalf("forwards=%d, want 12", len(f.writer.Forwarded))
	}
	banned, _ := f.st.ListBannedChannels()
	if len(banned) != 0 {
		t.Fatalf("banned row should be cleared: %+v", banned)
	}
}

func TestRecoveryWithoutStandbyReschedules(t *testing.T) {
	f := newFixture(t)
	id, _ := f.st.EnqueueRecovery(f.group.ID, 10, deadChan, "dead")

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("run: processed=%v err=%v", processed, err)
	}

	job, _ := f.st.GetRecoveryByID(id)
	if job.Status != store.JobPending || job.RetryCount != 1 {
		t.Fatalf("job should be rescheduled: %+v", job)
	}
	if !strings.Contains(job.LastError, upstream.ErrNoStandby.Error()) {
		t.Fatalf("last_error should name the empty pool: %q", job.LastError)
	}
}

func TestRecoveryParksAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	id, _ := f.st.EnqueueRecovery(f.group.ID, 10, deadChan, "dead")

	for i := 0; i < 3; i++ {
		processed, err := f.worker.RunOnce(context.Background())
		if err != nil || !processed {
			t.Fatalf("run %d: processed=%v err=%v", i, processed, err)
		}
	}
	job, _ := f.st.GetRecoveryByID(id)
	if job.Status != store.JobFailed {
		t.Fatalf("job should be parked failed, got %s", job.Status)
	}

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || processed {
		t.Fatalf("failed job must not be claimed again: processed=%v err=%v", processed, err)
	}
}

func TestRecoveryManualPathUsesAssignedChannel(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, 11, 15)
	f.st.UpsertChannel(spareChan, "spare", true, false, nil)
	f.st.EnqueueManualRecovery(f.group.ID, 10, deadChan, manualChan, "manual")

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("run: processed=%v err=%v", processed, err)
	}

	binding, _ := f.st.GetBinding(f.group.ID, 10)
	if binding == nil || binding.ChannelChatID != manualChan {
		t.Fatalf("manual channel not bound: %+v", binding)
	}
	// The pool must be untouched.
	standby, _ := f.st.ListStandbyChannels()
	if len(standby) != 1 {
		t.Fatalf("standby pool consumed on the manual path: %+v", standby)
	}
}

func TestRecoveryCooperativeStopPreservesCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, 11, 40)
	id, _ := f.st.EnqueueManualRecovery(f.group.ID, 10, deadChan, manualChan, "manual")

	// Request the stop mid-replay, from inside the clone path.
	forwards := 0
	f.writer.ForwardErr = func(to int64, ids []int64) error {
		forwards++
		if forwards == 8 {
			if _, err := f.st.StopRecoveryTask(id); err != nil {
				t.Errorf("stop: %v", err)
			}
		}
		return nil
	}

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("run: processed=%v err=%v", processed, err)
	}

	job, _ := f.st.GetRecoveryByID(id)
	if job.Status != store.JobStopped {
		t.Fatalf("status=%s, want stopped", job.Status)
	}
	if job.LastClonedMessageID == 0 || job.LastClonedMessageID >= 40 {
		t.Fatalf("checkpoint=%d, want a mid-replay value", job.LastClonedMessageID)
	}

	// Continue resumes from the checkpoint without re-cloning.
	checkpoint := job.LastClonedMessageID
	f.writer.ForwardErr = nil
	if err := f.st.RequeueRecoveryTask(id, false); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	f.writer.Forwarded = nil
	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	for _, fw := range f.writer.Forwarded {
		if fw.IDs[0] <= checkpoint {
			t.Fatalf("re-cloned id %d at or below checkpoint %d", fw.IDs[0], checkpoint)
		}
	}
}

func TestRecoveryMissingTopicFails(t *testing.T) {
	f := newFixture(t)
	id, _ := f.st.EnqueueRecovery(f.group.ID, 999, deadChan, "dead")
	f.st.UpsertChannel(spareChan, "spare", true, false, nil)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, _ := f.st.GetRecoveryByID(id)
	if job.Status != store.JobPending || job.RetryCount != 1 {
		t.Fatalf("missing topic should fail the attempt: %+v", job)
	}
	// The pool must not leak a consumed channel on the fail-fast path.
	standby, _ := f.st.ListStandbyChannels()
	if len(standby) != 1 {
		t.Fatalf("standby pool leaked: %+v", standby)
	}
}
