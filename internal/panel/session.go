package panel

import (
	"net/http"
	"time"
)

func (s *Server) handlePanelLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.tokens.CheckPassword(req.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "wrong password"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.tokens.Issue(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handlePanelLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handlePanelSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	ok := err == nil && s.tokens.Verify(cookie.Value)
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": ok})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"reader_authorized": s.gw.ReaderAuthorized(r.Context()),
		"writer_authorized": s.gw.WriterAuthorized(r.Context()),
	})
}

func (s *Server) handleAuthPhone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.gw.StartPhoneLogin(r.Context(), req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"login_token": token})
}

func (s *Server) handleAuthCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoginToken string `json:"login_token"`
		Code       string `json:"code"`
		Password   string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.gw.CompletePhoneLogin(r.Context(), req.LoginToken, req.Code, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleAuthQR(w http.ResponseWriter, r *http.Request) {
	url, err := s.gw.LoginURL(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.ResetUserSession(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
