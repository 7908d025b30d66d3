package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream/upstreamtest"
)

const (
	srcChat = int64(-1001000)
	dstChat = int64(-1002000)
	topicID = int64(10)
)

type fixture struct {
	st     *store.Store
	reader *upstreamtest.FakeClient
	writer *upstreamtest.FakeClient
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

	group, err := st.AddOrUpdateSourceGroup(srcChat, "src")
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: topicID, Title: "news"}}); err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	topics, _ := st.ListTopics(group.ID)
	if err := st.SetTopicEnabled(topics[0].ID, true); err != nil {
		t.Fatalf("enable topic: %v", err)
	}
	if err := st.UpsertBinding(group.ID, topicID, dstChat); err != nil {
		t.Fatalf("seed binding: %v", err)
	}

	New(st, gw, clone.New(reader, writer)).Start()
	return &fixture{st: st, reader: reader, writer: writer, group: group}
}

func topicMessage(id int64) *upstream.Message {
	return &upstream.Message{
		ID: id, ChatID: srcChat, Kind: upstream.KindText, Text: "live", ReplyToTopID: topicID,
	}
}

func TestLiveMessageIsMirrored(t *testing.T) {
	f := newFixture(t)
	f.reader.Emit(context.Background(), topicMessage(100))

	if len(f.writer.Forwarded) != 1 {
		t.Fatalf("forwards=%+v, want one", f.writer.Forwarded)
	}
	fw := f.writer.Forwarded[0]
	if fw.From != srcChat || fw.To != dstChat || fw.IDs[0] != 100 || !fw.DropAuthor {
		t.Fatalf("forward call: %+v", fw)
	}
}

func TestLiveMessageOutsideTopicsIsDropped(t *testing.T) {
	f := newFixture(t)
	f.reader.Emit(context.Background(), &upstream.Message{
		ID: 100, ChatID: srcChat, Kind: upstream.KindText, Text: "general",
	})
	if len(f.writer.Forwarded) != 0 || len(f.writer.Sent) != 0 {
		t.Fatal("message without a topic header must not be mirrored")
	}
}

func TestLiveMessageUnknownChatIsDropped(t *testing.T) {
	f := newFixture(t)
	msg := topicMessage(100)
	msg.ChatID = -999
	f.reader.Emit(context.Background(), msg)
	if len(f.writer.Forwarded) != 0 {
		t.Fatal("unknown chats must be ignored")
	}
}

func TestLiveMessageDisabledTopicIsDropped(t *testing.T) {
	f := newFixture(t)
	topics, _ := f.st.ListTopics(f.group.ID)
	if err := f.st.SetTopicEnabled(topics[0].ID, false); err != nil {
		t.Fatalf("disable topic: %v", err)
	}
	f.reader.Emit(context.Background(), topicMessage(100))
	if len(f.writer.Forwarded) != 0 {
		t.Fatal("disabled topic must not be mirrored")
	}
}

func TestLiveServiceMessageIsDropped(t *testing.T) {
	f := newFixture(t)
	msg := topicMessage(100)
	msg.Kind = upstream.KindService
	f.reader.Emit(context.Background(), msg)
	if len(f.writer.Forwarded) != 0 {
		t.Fatal("service messages must not be mirrored")
	}
}

func TestLiveDeadTargetQueuesRecovery(t *testing.T) {
	f := newFixture(t)
	f.writer.ForwardErr = func(to int64, ids []int64) error {
		return fmt.Errorf("CHANNEL_PRIVATE")
	}

	f.reader.Emit(context.Background(), topicMessage(100))

	jobs, _ := f.st.ListRecoveryQueue()
	if len(jobs) != 1 || jobs[0].OldChannelChatID != dstChat {
		t.Fatalf("queue=%+v, want one job for the lost target", jobs)
	}
	banned, _ := f.st.ListBannedChannels()
	if len(banned) != 1 {
		t.Fatalf("banned=%+v", banned)
	}
}
