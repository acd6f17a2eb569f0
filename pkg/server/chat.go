package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"aegis/pkg/agent"
)

type chatRequest struct {
	SessionID int64   `json:"session_id"`
	Message   string  `json:"message"`
	ModelID   string  `json:"model_id"`
	FileIDs   []int64 `json:"file_ids"`
}

// buildRun validates a chat request against the caller's sessions and
// resolves the model to use.
func (s *Server) buildRun(r *http.Request, req chatRequest) (agent.Request, int, string) {
	sess, err := s.store.SessionByID(r.Context(), req.SessionID)
	if err != nil || sess.UserID != currentUserID(r) {
		return agent.Request{}, http.StatusNotFound, "session not found"
	}

	if strings.TrimSpace(req.Message) == "" {
		return agent.Request{}, http.StatusBadRequest, "message must not be empty"
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = sess.ModelID
	}
	if modelID != "" {
		if _, ok := s.models.Get(modelID); !ok {
			return agent.Request{}, http.StatusBadRequest, "unknown model: " + modelID
		}
	}

	return agent.Request{
		SessionID: sess.ID,
		Message:   req.Message,
		ModelID:   modelID,
		FileIDs:   req.FileIDs,
	}, 0, ""
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, status, detail := s.buildRun(r, req)
	if status != 0 {
		writeError(w, status, detail)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for ev := range s.engine.Run(r.Context(), run) {
		if err := sse.Send(ev); err != nil {
			slog.WarnContext(r.Context(), "SSE client went away", "session_id", run.SessionID, "error", err)
			return
		}
	}
}

// checkWSOrigin accepts non-browser clients (no Origin header),
// same-host pages, and any origin whitelisted in the server config.
// Everything else is refused at the upgrade.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), strings.TrimSuffix(origin, "/")) {
			return true
		}
	}
	return false
}

// handleChatWS serves the same event stream over a websocket. Each
// incoming JSON frame starts one run; its events are written back as
// JSON frames.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(r.Context(), "Websocket read ended", "error", err)
			}
			return
		}

		run, status, detail := s.buildRun(r, req)
		if status != 0 {
			ev := agent.Event{Type: agent.EventError, ErrorCode: agent.ErrCodeInternal, ErrorMessage: detail}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			continue
		}

		for ev := range s.engine.Run(r.Context(), run) {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
