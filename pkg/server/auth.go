package server

import (
	"errors"
	"net/http"
	"strings"

	"aegis/pkg/auth"
	"aegis/pkg/store"
)

type credentialsRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	RegistrationToken string `json:"registration_token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "username required and password must be at least 6 characters")
		return
	}

	if gate := s.cfg.Auth.RegistrationToken; gate != "" && req.RegistrationToken != gate {
		writeError(w, http.StatusForbidden, "invalid registration token")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process password")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	s.issueToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.UserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	s.issueToken(w, user)
}

func (s *Server) issueToken(w http.ResponseWriter, user store.User) {
	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      user.ID,
		Username:    user.Username,
	})
}
