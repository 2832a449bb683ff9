package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

type createSessionRequest struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

// handleSessions serves POST (create) and GET (list) on /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, ownerID string) {
	switch r.Method {
	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		session, err := s.app.CreateSession(r.Context(), ownerID, req.Title, req.Provider, req.Model)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, session)
	case http.MethodGet:
		sessions, err := s.app.Store.ListSessionsByOwner(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	default:
		methodNotAllowed(w)
	}
}

// handleSessionByID serves /api/sessions/{id} and /api/sessions/{id}/messages.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, ownerID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			notFound(w, "not found")
			return
		}
		s.handleSessionMessages(w, r, ownerID, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, ok, err := s.app.Store.GetSession(r.Context(), ownerID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			notFound(w, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodPatch:
		var req renameSessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		// Concurrent renames are last-write-wins.
		if err := s.app.Store.RenameSession(r.Context(), ownerID, id, req.Title); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
	case http.MethodDelete:
		if err := s.app.Store.DeleteSession(r.Context(), ownerID, id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, ownerID, sessionID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	msgs, err := s.app.Store.ListMessages(r.Context(), ownerID, sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
