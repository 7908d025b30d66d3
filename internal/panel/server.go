package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/moeacgx/TelegramAutoClone/internal/monitor"
	"github.com/moeacgx/TelegramAutoClone/internal/pool"
	"github.com/moeacgx/TelegramAutoClone/internal/recovery"
	"github.com/moeacgx/TelegramAutoClone/internal/store"
	"github.com/moeacgx/TelegramAutoClone/internal/topics"
	"github.com/moeacgx/TelegramAutoClone/internal/update"
	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

const sessionCookie = "panel_session"

// Server is the operator control panel: a JSON API guarded by a single
// password and an HMAC session cookie.
type Server struct {
	st      *store.Store
	gw      *upstream.Gateway
	pl      *pool.Pool
	topics  *topics.Service
	worker  *recovery.Worker
	monitor *monitor.Monitor
	updates *update.Checker
	tokens  *TokenService

	httpServer *http.Server
}

func NewServer(addr string, st *store.Store, gw *upstream.Gateway, pl *pool.Pool, ts *topics.Service, worker *recovery.Worker, mon *monitor.Monitor, upd *update.Checker, tokens *TokenService) *Server {
	s := &Server{
		st:      st,
		gw:      gw,
		pl:      pl,
		topics:  ts,
		worker:  worker,
		monitor: mon,
		updates: upd,
		tokens:  tokens,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("panel listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/panel/login", s.handlePanelLogin)
	mux.HandleFunc("POST /api/panel/logout", s.handlePanelLogout)
	mux.HandleFunc("GET /api/panel/session", s.handlePanelSession)

	mux.HandleFunc("GET /api/status", s.authMiddleware(s.handleStatus))

	mux.HandleFunc("GET /api/auth/status", s.authMiddleware(s.handleAuthStatus))
	mux.HandleFunc("POST /api/auth/phone", s.authMiddleware(s.handleAuthPhone))
	mux.HandleFunc("POST /api/auth/code", s.authMiddleware(s.handleAuthCode))
	mux.HandleFunc("GET /api/auth/qr", s.authMiddleware(s.handleAuthQR))
	mux.HandleFunc("POST /api/auth/reset", s.authMiddleware(s.handleAuthReset))

	mux.HandleFunc("GET /api/groups", s.authMiddleware(s.handleListGroups))
	mux.HandleFunc("POST /api/groups", s.authMiddleware(s.handleAddGroup))
	mux.HandleFunc("POST /api/groups/{id}/enabled", s.authMiddleware(s.handleSetGroupEnabled))
	mux.HandleFunc("DELETE /api/groups/{id}", s.authMiddleware(s.handleDeleteGroup))
	mux.HandleFunc("GET /api/groups/{id}/topics", s.authMiddleware(s.handleListTopics))
	mux.HandleFunc("POST /api/groups/{id}/topics/sync", s.authMiddleware(s.handleSyncTopics))
	mux.HandleFunc("POST /api/topics/{id}/enabled", s.authMiddleware(s.handleSetTopicEnabled))

	mux.HandleFunc("GET /api/bindings", s.authMiddleware(s.handleListBindings))
	mux.HandleFunc("POST /api/bindings", s.authMiddleware(s.handleCreateBinding))
	mux.HandleFunc("POST /api/bindings/{id}/active", s.authMiddleware(s.handleSetBindingActive))

	mux.HandleFunc("GET /api/channels", s.authMiddleware(s.handleListChannels))
	mux.HandleFunc("POST /api/channels", s.authMiddleware(s.handleAddChannels))
	mux.HandleFunc("POST /api/channels/refresh", s.authMiddleware(s.handleRefreshChannels))
	mux.HandleFunc("POST /api/channels/clear", s.authMiddleware(s.handleClearChannels))
	mux.HandleFunc("DELETE /api/channels/{chatID}", s.authMiddleware(s.handleDeleteChannel))

	mux.HandleFunc("GET /api/banned", s.authMiddleware(s.handleListBanned))
	mux.HandleFunc("POST /api/banned/remove", s.authMiddleware(s.handleRemoveBanned))
	mux.HandleFunc("POST /api/banned/clear", s.authMiddleware(s.handleClearBanned))

	mux.HandleFunc("GET /api/queue", s.authMiddleware(s.handleListQueue))
	mux.HandleFunc("POST /api/queue", s.authMiddleware(s.handleEnqueueManual))
	mux.HandleFunc("POST /api/queue/clear", s.authMiddleware(s.handleClearQueue))
	mux.HandleFunc("POST /api/queue/{id}/stop", s.authMiddleware(s.handleStopJob))
	mux.HandleFunc("POST /api/queue/{id}/requeue", s.authMiddleware(s.handleRequeueJob))
	mux.HandleFunc("POST /api/queue/{id}/run", s.authMiddleware(s.handleRunJob))
	mux.HandleFunc("DELETE /api/queue/{id}", s.authMiddleware(s.handleDeleteJob))
	mux.HandleFunc("POST /api/monitor/run", s.authMiddleware(s.handleRunMonitor))

	mux.HandleFunc("GET /api/update", s.authMiddleware(s.handleUpdateStatus))
	mux.HandleFunc("POST /api/update/apply", s.authMiddleware(s.handleUpdateApply))
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.tokens.Verify(cookie.Value) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, upstream.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrPrecondition):
		status = http.StatusConflict
	case errors.Is(err, upstream.ErrNoStandby):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// pathID parses the {id}-style path value; writes the 400 itself on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	groups, err := s.st.ListSourceGroups()
	if err != nil {
		writeError(w, err)
		return
	}
	bindings, err := s.st.ListBindings()
	if err != nil {
		writeError(w, err)
		return
	}
	standby, err := s.st.ListStandbyChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.st.ListRecoveryQueue()
	if err != nil {
		writeError(w, err)
		return
	}
	running, err := s.st.CountRunningRecoveryJobs()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reader_authorized": s.gw.ReaderAuthorized(r.Context()),
		"writer_authorized": s.gw.WriterAuthorized(r.Context()),
		"source_groups":     len(groups),
		"bindings":          len(bindings),
		"standby_channels":  len(standby),
		"queued_jobs":       len(jobs),
		"running_jobs":      running,
	})
}
