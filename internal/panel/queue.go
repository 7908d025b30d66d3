package panel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.st.ListRecoveryQueue()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleEnqueueManual queues a recovery for a topic the operator picks. With
// new_channel_ref set, replay targets that channel instead of a pool standby.
func (s *Server) handleEnqueueManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceGroupID    int64  `json:"source_group_id"`
		TopicID          int64  `json:"topic_id"`
		OldChannelChatID int64  `json:"old_channel_chat_id"`
		NewChannelRef    string `json:"new_channel_ref"`
		Reason           string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	var newChatID int64
	if req.NewChannelRef != "" {
		ref, err := upstream.NormalizeRef(req.NewChannelRef)
		if err != nil {
			writeError(w, err)
			return
		}
		entity, err := s.gw.Writer().Resolve(r.Context(), ref)
		if err != nil {
			writeError(w, fmt.Errorf("resolve replacement channel: %w", err))
			return
		}
		if !entity.IsBroadcast {
			writeError(w, fmt.Errorf("%w: %s is not a broadcast channel", upstream.ErrInvalidInput, req.NewChannelRef))
			return
		}
		newChatID = entity.ID
	}

	id, err := s.st.EnqueueManualRecovery(req.SourceGroupID, req.TopicID, req.OldChannelChatID, newChatID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"job_id": id})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status, err := s.st.StopRecoveryTask(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Restart bool `json:"restart"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.st.RequeueRecoveryTask(id, req.Restart); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

// handleRunJob claims and processes the job out of band so the request does
// not hang for the length of a replay.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := s.st.GetRecoveryByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	go func() {
		if err := s.worker.RunByID(context.Background(), id); err != nil {
			slog.Error("run job", "job_id", id, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.st.DeleteRecoveryTask(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IncludeRunning bool `json:"include_running"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.st.ClearRecoveryQueue(req.IncludeRunning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}

func (s *Server) handleRunMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.RunOnce(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.updates.CheckOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateApply(w http.ResponseWriter, r *http.Request) {
	if err := s.updates.Apply(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
