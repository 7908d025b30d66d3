package pool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream/upstreamtest"
)

func newTestPool(t *testing.T) (*Pool, *store.Store, *upstreamtest.FakeClient, *upstreamtest.FakeClient) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reader := upstreamtest.New()
	writer := upstreamtest.New()
	writer.SessionRole = upstream.RoleWriter
	return New(st, upstream.NewGateway(reader, writer, 0)), st, reader, writer
}

func TestAddChannelsAdmission(t *testing.T) {
	pl, st, _, writer := newTestPool(t)
	writer.ResolveFn = func(ref upstream.Ref) (*upstream.Entity, error) {
		switch ref.Username {
		case "good":
			return &upstream.Entity{ID: -1002001, Title: "good", IsBroadcast: true}, nil
		case "group":
			return &upstream.Entity{ID: -1002002, Title: "group", IsMegagroup: true}, nil
		default:
			return nil, fmt.Errorf("username not found")
		}
	}

	results := pl.AddChannels(context.Background(), []string{"@good", "@group", "@missing", "bad input @"})
	if len(results) != 4 {
		t.Fatalf("results=%d, want 4", len(results))
	}
	if !results[0].Added || results[0].ChatID != -1002001 {
		t.Fatalf("good channel not admitted: %+v", results[0])
	}
	if results[1].Added || results[1].Error != "not a broadcast channel" {
		t.Fatalf("megagroup should be refused: %+v", results[1])
	}
	if results[2].Added || results[2].Error == "" {
		t.Fatalf("unresolvable ref should be refused: %+v", results[2])
	}
	if results[3].Added {
		t.Fatalf("malformed ref should be refused: %+v", results[3])
	}

	standby, _ := st.ListStandbyChannels()
	if len(standby) != 1 || standby[0].ChatID != -1002001 {
		t.Fatalf("pool=%+v, want only the good channel", standby)
	}
}

func TestAddChannelsBoundChannelEntersInUse(t *testing.T) {
	pl, st, _, writer := newTestPool(t)
	group, _ := st.AddOrUpdateSourceGroup(-1001, "src")
	st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: 7, Title: "t"}})
	st.UpsertBinding(group.ID, 7, -1002001)

	writer.ResolveFn = func(ref upstream.Ref) (*upstream.Entity, error) {
		return &upstream.Entity{ID: -1002001, Title: "bound", IsBroadcast: true}, nil
	}
	results := pl.AddChannels(context.Background(), []string{"@bound"})
	if results[0].Added {
		t.Fatalf("bound channel must not join the standby pool: %+v", results[0])
	}
	ch, _ := st.GetChannel(-1002001)
	if ch.IsStandby || !ch.InUse {
		t.Fatalf("bound channel state: %+v", ch)
	}
}

func TestRefreshDropsChannelsWithoutAdmin(t *testing.T) {
	pl, st, _, writer := newTestPool(t)
	st.UpsertChannel(-1002001, "keep", true, false, nil)
	st.UpsertChannel(-1002002, "lost", true, false, nil)

	writer.PermissionsFn = func(chat int64) (*upstream.Permissions, error) {
		if chat == -1002002 {
			return &upstream.Permissions{}, nil
		}
		return &upstream.Permissions{IsAdmin: true}, nil
	}

	if err := pl.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	standby, _ := st.ListStandbyChannels()
	if len(standby) != 1 || standby[0].ChatID != -1002001 {
		t.Fatalf("pool after refresh: %+v", standby)
	}
	if ch, _ := st.GetChannel(-1002002); ch != nil {
		t.Fatalf("demoted channel should be deleted: %+v", ch)
	}
}

func TestRefreshFlipsNewlyBoundStandby(t *testing.T) {
	pl, st, _, _ := newTestPool(t)
	st.UpsertChannel(-1002001, "spare", true, false, nil)
	group, _ := st.AddOrUpdateSourceGroup(-1001, "src")
	st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: 7, Title: "t"}})
	st.UpsertBinding(group.ID, 7, -1002001)

	if err := pl.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ch, _ := st.GetChannel(-1002001)
	if ch.IsStandby || !ch.InUse {
		t.Fatalf("bound standby should flip to in-use: %+v", ch)
	}
}

func TestConsumeOrderAndExhaustion(t *testing.T) {
	pl, st, _, _ := newTestPool(t)
	st.UpsertChannel(-1002002, "second", true, false, nil)
	st.UpsertChannel(-1002001, "first", true, false, nil)

	// Oldest row wins regardless of chat id.
	ch, err := pl.Consume(context.Background())
	if err != nil || ch.ChatID != -1002002 {
		t.Fatalf("consume: ch=%+v err=%v", ch, err)
	}
	if _, err := pl.Consume(context.Background()); err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if _, err := pl.Consume(context.Background()); !errors.Is(err, upstream.ErrNoStandby) {
		t.Fatalf("empty pool should return ErrNoStandby, got %v", err)
	}
}

func TestRenameChannel(t *testing.T) {
	pl, _, _, writer := newTestPool(t)
	ctx := context.Background()

	if err := pl.RenameChannel(ctx, -1002001, "news"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if writer.Titles[-1002001] != "news" {
		t.Fatalf("title=%q", writer.Titles[-1002001])
	}

	// Empty titles fall back to a placeholder.
	if err := pl.RenameChannel(ctx, -1002002, ""); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if writer.Titles[-1002002] != fallbackTitle {
		t.Fatalf("fallback title=%q", writer.Titles[-1002002])
	}

	// Long titles are cut at the limit without splitting a rune.
	long := strings.Repeat("话", 60)
	if err := pl.RenameChannel(ctx, -1002003, long); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got := writer.Titles[-1002003]
	if len(got) > maxChannelTitle || !utf8.ValidString(got) {
		t.Fatalf("cut title len=%d valid=%v", len(got), utf8.ValidString(got))
	}

	// A failing rename surfaces so the caller can log it.
	writer.EditTitleErr = func(chat int64) error { return fmt.Errorf("CHAT_ADMIN_REQUIRED") }
	if err := pl.RenameChannel(ctx, -1002004, "x"); err == nil {
		t.Fatal("rename failure must be reported")
	}
	if writer.Titles[-1002004] != "" {
		t.Fatalf("failed rename must not record a title, got %q", writer.Titles[-1002004])
	}
}

func TestCheckChannelAccess(t *testing.T) {
	pl, _, reader, writer := newTestPool(t)
	ctx := context.Background()

	if ok, reason := pl.CheckChannelAccess(ctx, -1002001); !ok {
		t.Fatalf("healthy channel reported dead: %s", reason)
	}

	writer.RefreshErr = func(chat int64) error { return fmt.Errorf("CHANNEL_PRIVATE") }
	ok, reason := pl.CheckChannelAccess(ctx, -1002001)
	if ok || !strings.Contains(reason, "inaccessible") {
		t.Fatalf("ok=%v reason=%q, want writer inaccessible", ok, reason)
	}

	writer.RefreshErr = nil
	reader.PermissionsFn = func(chat int64) (*upstream.Permissions, error) {
		return &upstream.Permissions{}, nil
	}
	ok, reason = pl.CheckChannelAccess(ctx, -1002001)
	if ok || !strings.Contains(reason, "not admin") {
		t.Fatalf("ok=%v reason=%q, want reader not admin", ok, reason)
	}
}

func TestReasonFor(t *testing.T) {
	cases := []struct {
		err  string
		want string
	}{
		{"rpc error: USER_NOT_PARTICIPANT", "not in channel"},
		{"rpc error: CHAT_ADMIN_REQUIRED", "not admin"},
		{"rpc error: CHANNEL_PRIVATE", "inaccessible"},
		{"rpc error: CHANNEL_INVALID", "ref invalid"},
		{"unauthorized: not logged in", "actor not logged in"},
		{"something else", "something else"},
	}
	for _, tc := range cases {
		if got := reasonFor(errors.New(tc.err)); got != tc.want {
			t.Errorf("reasonFor(%q) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
