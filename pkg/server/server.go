package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"aegis/pkg/agent"
	"aegis/pkg/auth"
	"aegis/pkg/config"
	"aegis/pkg/llm"
	"aegis/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ctxKey string

const (
	userIDKey   ctxKey = "user_id"
	usernameKey ctxKey = "username"
)

// Server exposes the HTTP API: auth, sessions, files, models, and the
// chat stream.
type Server struct {
	store  *store.Store
	engine *agent.Engine
	tokens *auth.Manager
	models *llm.Router
	cfg    *config.Config
	router chi.Router
}

func New(st *store.Store, engine *agent.Engine, tokens *auth.Manager, models *llm.Router, cfg *config.Config) *Server {
	s := &Server{
		store:  st,
		engine: engine,
		tokens: tokens,
		models: models,
		cfg:    cfg,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/models", s.handleListModels)
			r.Get("/auth/me", s.handleMe)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleCreateSession)
				r.Get("/{sessionID}", s.handleGetSession)
				r.Patch("/{sessionID}", s.handleUpdateSession)
				r.Delete("/{sessionID}", s.handleDeleteSession)
				r.Get("/{sessionID}/messages", s.handleListMessages)
			})

			r.Post("/files/upload", s.handleUpload)
			r.Get("/files/{fileID}", s.handleGetFile)

			r.Post("/chat/stream", s.handleChatStream)
			r.Get("/chat/ws", s.handleChatWS)
		})
	})

	return r
}

// authMiddleware resolves the caller from a Bearer header, or from the
// token query parameter for transports that cannot set headers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if q := r.URL.Query().Get("token"); q != "" {
			tokenString = q
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		userID, username, err := s.tokens.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUserID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.models.Models()})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.UserByID(r.Context(), currentUserID(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
