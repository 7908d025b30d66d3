package panel

import (
	"net/http"
)

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.st.ListChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	standby, err := s.st.ListStandbyChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels":      channels,
		"standby_count": len(standby),
	})
}

func (s *Server) handleAddChannels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refs []string `json:"refs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Refs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refs is empty"})
		return
	}
	results := s.pl.AddChannels(r.Context(), req.Refs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleRefreshChannels(w http.ResponseWriter, r *http.Request) {
	if err := s.pl.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	standby, err := s.st.ListStandbyChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"standby_count": len(standby)})
}

func (s *Server) handleClearChannels(w http.ResponseWriter, r *http.Request) {
	n, err := s.st.ClearStandbyChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	if err := s.st.DeleteChannel(chatID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleListBanned(w http.ResponseWriter, r *http.Request) {
	banned, err := s.st.ListBannedChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"banned": banned})
}

func (s *Server) handleRemoveBanned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceGroupID int64 `json:"source_group_id"`
		TopicID       int64 `json:"topic_id"`
		ChannelChatID int64 `json:"channel_chat_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.st.RemoveBannedChannel(req.SourceGroupID, req.TopicID, req.ChannelChatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleClearBanned(w http.ResponseWriter, r *http.Request) {
	n, err := s.st.ClearBannedChannels()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
