package panel

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moeacgx/TelegramAutoClone/internal/clone"
	"github.com/moeacgx/TelegramAutoClone/internal/monitor"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/recovery"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/topics"
	"github.com/moeacgx/TelegramAutoClone/internal/update"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream/upstreamtest"
)

func newTestServer(t *testing.T) *Server {
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
	worker := recovery.New(st, gw, pl, engine, 3)
	mon := monitor.New(st, gw, pl)
	upd := update.New(st, gw, "", "", "", false, time.Second)
	tokens := NewTokenService("secret", time.Hour)

	return NewServer(":0", st, gw, pl, topics.New(st, gw), worker, mon, upd, tokens)
}

func (s *Server) do(t *testing.T, method, path, body, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	if body == "" {
		body = "{}"
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestPanelLoginFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "POST", "/api/panel/login", `{"password":"wrong"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status=%d", rec.Code)
	}

	rec = s.do(t, "POST", "/api/panel/login", `{"password":"secret"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", rec.Code, rec.Body)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie || !s.tokens.Verify(cookies[0].Value) {
		t.Fatalf("login should set a valid session cookie: %+v", cookies)
	}

	rec = s.do(t, "GET", "/api/groups", "", cookies[0].Value)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed request: status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestPanelRejectsWithoutSession(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/groups", "/api/channels", "/api/queue", "/api/status"} {
		rec := s.do(t, "GET", path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d, want 401", path, rec.Code)
		}
	}
	if rec := s.do(t, "GET", "/api/groups", "", "110.deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged cookie accepted: status=%d", rec.Code)
	}
}

func TestPanelQueueEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := s.tokens.Issue()

	group, _ := s.st.AddOrUpdateSourceGroup(-1001, "src")
	s.st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: 10, Title: "news"}})
	id, _ := s.st.EnqueueRecovery(group.ID, 10, -1002000, "dead")

	rec := s.do(t, "GET", "/api/queue", "", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"jobs"`) {
		t.Fatalf("list queue: status=%d body=%s", rec.Code, rec.Body)
	}

	rec = s.do(t, "POST", "/api/queue/1/stop", "", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), store.JobStopped) {
		t.Fatalf("stop pending job: status=%d body=%s", rec.Code, rec.Body)
	}

	// Deleting a stopped job is allowed.
	rec = s.do(t, "DELETE", "/api/queue/1", "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete job: status=%d body=%s", rec.Code, rec.Body)
	}
	if job, _ := s.st.GetRecoveryByID(id); job != nil {
		t.Fatalf("job should be gone: %+v", job)
	}
}

func TestPanelPreconditionMapsToConflict(t *testing.T) {
	s := newTestServer(t)
	token := s.tokens.Issue()

	group, _ := s.st.AddOrUpdateSourceGroup(-1001, "src")
	s.st.UpsertTopics(group.ID, []store.TopicInfo{{TopicID: 10, Title: "news"}})
	id, _ := s.st.EnqueueRecovery(group.ID, 10, -1002000, "dead")
	if _, err := s.st.ClaimRecoveryByID(id); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rec := s.do(t, "DELETE", "/api/queue/1", "", token)
	if rec.Code != http.StatusConflict {
		t.Fatalf("deleting a running job: status=%d, want 409", rec.Code)
	}
}
