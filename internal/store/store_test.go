package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetSetting("cursor"); err != nil || ok {
		t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting("cursor", "42"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting("cursor", "43"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.GetSetting("cursor")
	if err != nil || !ok || v != "43" {
		t.Fatalf("got %q ok=%v err=%v, want 43", v, ok, err)
	}
}

func TestSourceGroupUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	g1, err := s.AddOrUpdateSourceGroup(-1001, "alpha")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	g2, err := s.AddOrUpdateSourceGroup(-1001, "alpha renamed")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if g1.ID != g2.ID {
		t.Fatalf("upsert created a second row: %d vs %d", g1.ID, g2.ID)
	}
	if g2.Title != "alpha renamed" {
		t.Fatalf("title not refreshed: %q", g2.Title)
	}
	if !g2.Enabled {
		t.Fatal("new group should start enabled")
	}
}

func TestTopicsStartDisabled(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")

	err := s.UpsertTopics(g.ID, []TopicInfo{{TopicID: 10, Title: "news"}, {TopicID: 20, Title: "chat"}})
	if err != nil {
		t.Fatalf("upsert topics: %v", err)
	}

	topics, err := s.ListTopics(g.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("got %d topics, want 2", len(topics))
	}
	for _, tp := range topics {
		if tp.Enabled {
			t.Fatalf("topic %d should start disabled", tp.TopicID)
		}
	}

	if err := s.SetTopicEnabled(topics[0].ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	enabled, err := s.ListEnabledTopics(g.ID)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].TopicID != 10 {
		t.Fatalf("unexpected enabled set: %+v", enabled)
	}

	// Re-sync refreshes titles but does not flip enabled back.
	if err := s.UpsertTopics(g.ID, []TopicInfo{{TopicID: 10, Title: "news v2"}}); err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	tp, err := s.GetTopic(g.ID, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tp.Title != "news v2" || !tp.Enabled {
		t.Fatalf("re-sync clobbered state: %+v", tp)
	}
}

func TestBindingFlipsChannelState(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")

	if err := s.UpsertChannel(-10021, "standby", true, false, nil); err != nil {
		t.Fatalf("upsert channel: %v", err)
	}
	if err := s.UpsertBinding(g.ID, 100, -10021); err != nil {
		t.Fatalf("bind: %v", err)
	}

	standby, err := s.ListStandbyChannels()
	if err != nil {
		t.Fatalf("list standby: %v", err)
	}
	if len(standby) != 0 {
		t.Fatalf("standby pool should be empty after bind, got %d", len(standby))
	}

	c, err := s.GetChannel(-10021)
	if err != nil || c == nil {
		t.Fatalf("get channel: %v", err)
	}
	if !c.InUse || c.IsStandby {
		t.Fatalf("channel state after bind: in_use=%v is_standby=%v", c.InUse, c.IsStandby)
	}
}

func TestConsumeStandbyIsSingleWinner(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertChannel(-2001, "a", true, false, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.ConsumeStandbyChannel(-2001); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := s.ConsumeStandbyChannel(-2001); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("second consume should fail precondition, got %v", err)
	}

	c, _ := s.GetChannel(-2001)
	if c.ConsumedAt == nil {
		t.Fatal("consumed_at not set")
	}
}

func TestStandbyFIFO(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []int64{-3001, -3002, -3003} {
		if err := s.UpsertChannel(id, "c", true, false, nil); err != nil {
			t.Fatalf("upsert %d: %v", id, err)
		}
	}
	next, err := s.GetNextAvailableStandby()
	if err != nil || next == nil {
		t.Fatalf("next: %v", err)
	}
	if next.ChatID != -3001 {
		t.Fatalf("expected oldest standby -3001, got %d", next.ChatID)
	}
}

func TestClearStandbyKeepsBoundChannels(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")

	s.UpsertChannel(-4001, "standby", true, false, nil)
	s.UpsertChannel(-4002, "tracked", false, false, nil)
	s.UpsertChannel(-4003, "bound", true, false, nil)
	if err := s.UpsertBinding(g.ID, 7, -4003); err != nil {
		t.Fatalf("bind: %v", err)
	}

	n, err := s.ClearStandbyChannels()
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("cleared %d rows, want 2", n)
	}
	if c, _ := s.GetChannel(-4003); c == nil {
		t.Fatal("bound channel must survive the clear")
	}
}

func TestUpsertChannelKeepsAdminCheckAt(t *testing.T) {
	s := newTestStore(t)
	ts := "2026-01-02T03:04:05Z"

	s.UpsertChannel(-5001, "c", true, false, &ts)
	s.UpsertChannel(-5001, "c2", true, false, nil)

	c, _ := s.GetChannel(-5001)
	if c.AdminCheckAt == nil || *c.AdminCheckAt != ts {
		t.Fatalf("nil adminCheckAt clobbered stored value: %+v", c.AdminCheckAt)
	}
	if c.Title != "c2" {
		t.Fatalf("title not refreshed: %q", c.Title)
	}
}

func TestBannedChannelLatestWins(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")

	for _, reason := range []string{"first", "second", "third"} {
		if err := s.AddBannedChannel(g.ID, 10, -1002, reason); err != nil {
			t.Fatalf("add %q: %v", reason, err)
		}
	}
	rows, err := s.ListBannedChannels()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("dupes not collapsed: %d rows", len(rows))
	}
	if rows[0].Reason != "third" {
		t.Fatalf("latest reason not kept: %q", rows[0].Reason)
	}

	n, err := s.RemoveBannedChannel(g.ID, 10, -1002)
	if err != nil || n != 1 {
		t.Fatalf("remove: n=%d err=%v", n, err)
	}
}

func TestDeleteSourceGroupCascadesAndReleases(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")
	s.UpsertTopics(g.ID, []TopicInfo{{TopicID: 10, Title: "a"}, {TopicID: 20, Title: "b"}})
	s.UpsertBinding(g.ID, 10, -1002)
	s.AddBannedChannel(g.ID, 10, -1003, "dead")
	s.EnqueueRecovery(g.ID, 10, -1003, "dead")

	report, err := s.DeleteSourceGroup(g.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if report.SourceGroups != 1 || report.Topics != 2 || report.TopicBindings != 1 ||
		report.BannedChannels != 1 || report.RecoveryQueue != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.ReleasedChannels != 1 {
		t.Fatalf("channel -1002 not released: %+v", report)
	}
	c, _ := s.GetChannel(-1002)
	if c == nil || c.InUse {
		t.Fatalf("released channel still in_use: %+v", c)
	}
}

func TestDeleteSourceGroupRefusedWhileJobRuns(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")
	s.EnqueueRecovery(g.ID, 10, -1002, "dead")
	if _, err := s.ClaimNextRecovery(); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := s.DeleteSourceGroup(g.ID)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if g2, _ := s.GetSourceGroupByID(g.ID); g2 == nil {
		t.Fatal("group must survive a refused delete")
	}
}

func TestDetachChannelBindings(t *testing.T) {
	s := newTestStore(t)
	g, _ := s.AddOrUpdateSourceGroup(-1001, "g")
	s.UpsertBinding(g.ID, 10, -1002)
	s.UpsertBinding(g.ID, 20, -1002)
	s.UpsertBinding(g.ID, 30, -1009)

	n, err := s.DetachChannelBindings(-1002)
	if err != nil || n != 2 {
		t.Fatalf("detach: n=%d err=%v", n, err)
	}
	active, err := s.ListActiveBindings()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ChannelChatID != -1009 {
		t.Fatalf("unexpected active set: %+v", active)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}

func TestTruncateError(t *testing.T) {
	long := ""
	for len(long) < 600 {
		long += "错误" // multibyte, forces a boundary check at the cut
	}
	got := truncateError(long)
	if len(got) > 500 {
		t.Fatalf("truncated to %d bytes", len(got))
	}
	// Must still be a whole number of runes.
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation split a UTF-8 sequence")
		}
	}
	if truncateError("short") != "short" {
		t.Fatal("short strings must pass through")
	}
}
