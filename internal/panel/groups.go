package panel

import (
	"fmt"
	"net/http"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.st.ListSourceGroups()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	group, err := s.topics.AddSourceGroup(r.Context(), req.Ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group": group})
}

func (s *Server) handleSetGroupEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.st.SetSourceGroupEnabled(id, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := s.st.DeleteSourceGroup(id)
	if err != nil {
		if report != nil {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	topics, err := s.st.ListTopics(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

func (s *Server) handleSyncTopics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.topics.SyncTopics(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleSetTopicEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.st.SetTopicEnabled(id, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.st.ListBindings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bindings": bindings})
}

// handleCreateBinding binds a topic to a channel the operator names directly.
// The channel must resolve through the writer and be a broadcast channel.
func (s *Server) handleCreateBinding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceGroupID int64  `json:"source_group_id"`
		TopicID       int64  `json:"topic_id"`
		ChannelRef    string `json:"channel_ref"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	topic, err := s.st.GetTopic(req.SourceGroupID, req.TopicID)
	if err != nil {
		writeError(w, err)
		return
	}
	if topic == nil {
		writeError(w, fmt.Errorf("%w: unknown topic %d in group %d", upstream.ErrInvalidInput, req.TopicID, req.SourceGroupID))
		return
	}

	ref, err := upstream.NormalizeRef(req.ChannelRef)
	if err != nil {
		writeError(w, err)
		return
	}
	entity, err := s.gw.Writer().Resolve(r.Context(), ref)
	if err != nil {
		writeError(w, fmt.Errorf("resolve channel: %w", err))
		return
	}
	if !entity.IsBroadcast {
		writeError(w, fmt.Errorf("%w: %s is not a broadcast channel", upstream.ErrInvalidInput, req.ChannelRef))
		return
	}

	if err := s.st.UpsertBinding(req.SourceGroupID, req.TopicID, entity.ID); err != nil {
		writeError(w, err)
		return
	}
	binding, err := s.st.GetBinding(req.SourceGroupID, req.TopicID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"binding": binding})
}

func (s *Server) handleSetBindingActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.st.SetBindingActive(id, req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
