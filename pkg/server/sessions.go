package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aegis/pkg/store"
)

type sessionRequest struct {
	Title   string `json:"title"`
	ModelID string `json:"model_id"`
}

// ownedSession loads the addressed session and enforces ownership.
// Foreign sessions are reported as not found.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return store.Session{}, false
	}

	sess, err := s.store.SessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load session")
		}
		return store.Session{}, false
	}
	if sess.UserID != currentUserID(r) {
		writeError(w, http.StatusNotFound, "session not found")
		return store.Session{}, false
	}
	return sess, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.SessionsByUser(r.Context(), currentUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}
	if req.ModelID != "" {
		if _, ok := s.models.Get(req.ModelID); !ok {
			writeError(w, http.StatusBadRequest, "unknown model: "+req.ModelID)
			return
		}
	}

	sess, err := s.store.CreateSession(r.Context(), currentUserID(r), req.Title, req.ModelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ModelID != "" {
		if _, ok := s.models.Get(req.ModelID); !ok {
			writeError(w, http.StatusBadRequest, "unknown model: "+req.ModelID)
			return
		}
	}

	updated, err := s.store.UpdateSession(r.Context(), sess.ID, req.Title, req.ModelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	messages, err := s.store.Messages(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
