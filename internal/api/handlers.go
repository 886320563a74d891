package api

import (
	"log"
	"net/http"
	"strings"
)

type sessionRequest struct {
	Name    string `json:"name"`
	Token   string `json:"token"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	name := strings.TrimSpace(req.Name)
	token := strings.TrimSpace(req.Token)
	if name == "" || token == "" {
		writeError(w, http.StatusBadRequest, "Missing session name or token.")
		return
	}

	client := clientInfo(r)
	log.Printf("session_request name=%s ip=%s ua=%q", name, client.IP, client.UserAgent)

	result := s.d.Sessions.Start(name, token, client)
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":          false,
			"status":      "occupied",
			"active_user": result.ActiveUser,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "accepted", "name": name})
}

func (s *Server) handleSessionTakeover(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	name := strings.TrimSpace(req.Name)
	token := strings.TrimSpace(req.Token)
	if name == "" || token == "" {
		writeError(w, http.StatusBadRequest, "Missing session name or token.")
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusConflict, "Takeover not confirmed.")
		return
	}

	client := clientInfo(r)
	log.Printf("session_takeover name=%s ip=%s ua=%q", name, client.IP, client.UserAgent)

	result := s.d.Sessions.Takeover(name, token, client)
	if result.PreviousUser != "" {
		log.Printf("session_takeover_kicked by=%s previous=%s", name, result.PreviousUser)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"status":        "took_over",
		"previous_user": result.PreviousUser,
	})
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	_ = decodeJSON(r, &req)
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token = sessionToken(r)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing session token.")
		return
	}
	s.d.Sessions.Close(token)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "closed"})
}

func (s *Server) handleStateGet(w http.ResponseWriter, _ *http.Request) {
	st := s.d.State.Armed()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"armed":    st.Armed,
		"armed_at": st.ArmedAt,
		"armed_by": st.ArmedBy,
	})
}

func (s *Server) handleStateSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Armed   bool   `json:"armed"`
		ArmedBy string `json:"armed_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	st := s.d.State.SetArmed(req.Armed, strings.TrimSpace(req.ArmedBy))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"armed":    st.Armed,
		"armed_at": st.ArmedAt,
		"armed_by": st.ArmedBy,
	})
}

func (s *Server) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": s.d.State.Config()})
}

func (s *Server) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := decodeJSON(r, &doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "Invalid config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": s.d.State.SetConfig(doc)})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.d.Monitor.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"running":              st.Running,
		"last_run":             st.LastRun,
		"last_success":         st.LastSuccess,
		"last_error":           st.LastError,
		"last_error_at":        st.LastErrorAt,
		"consecutive_timeouts": st.ConsecutiveTimeouts,
	})
}

func (s *Server) handleResponses(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.d.Responses.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "responses": snapshot})
}
