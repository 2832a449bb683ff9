// Package server exposes the HTTP API: chat, documents, and sessions.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"docuchat/internal/app"
	"docuchat/internal/usertoken"
	"docuchat/internal/util"
	"docuchat/pkg/ai"
)

// Limiter gates requests per key. Nil disables limiting.
type Limiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
	ChatLimiter   Limiter
	// TrustedProxies controls which peers may supply forwarded-for
	// headers when resolving the client IP for rate limiting.
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the chat backend.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	chatLimiter    Limiter
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		chatLimiter:    cfg.ChatLimiter,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("docuchat", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/api/chat", s.withOwner(s.handleChat))
	s.mux.Handle("/api/documents", s.withOwner(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.withOwner(s.handleDocumentByID))
	s.mux.Handle("/api/sessions", s.withOwner(s.handleSessions))
	s.mux.Handle("/api/sessions/", s.withOwner(s.handleSessionByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ownerID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ownerID)
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.chatLimiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if s.chatLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// providerErrorBody is the structured failure shape for chat calls.
type providerErrorBody struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeProviderError(w http.ResponseWriter, err error) {
	body := providerErrorBody{
		Error:     "provider call failed",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusInternalServerError
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		status = pe.Status
		body.Error = pe.Message
		body.Details = pe.Hint
		body.Provider = pe.Provider
		body.Model = pe.Model
	} else if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
