package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docuchat/internal/app"
	"docuchat/internal/util"
	"docuchat/pkg/ai"
)

type chatRequest struct {
	Messages  []ai.Message `json:"messages"`
	Model     string       `json:"model"`
	Provider  string       `json:"provider"`
	SessionID string       `json:"sessionId"`
}

// handleChat runs one retrieval-augmented chat turn and streams the
// response as plain text. Errors before the first token surface as JSON
// with a status from the provider-error taxonomy; tokens already flushed
// are never retracted.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, ownerID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	history := ai.CleanHistory(req.Messages)
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, "at least one non-empty message is required")
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	question := history[len(history)-1].Content

	ctx := r.Context()
	logger := util.LoggerFromContext(ctx)

	systemPrompt, err := s.app.PrepareContext(ctx, ownerID, question)
	if err != nil {
		// Retrieval failure degrades the prompt, never the turn.
		logger.Warn("context assembly failed, degrading prompt", "err", err)
		systemPrompt = app.ErrorPrompt()
	}

	endpoint, err := s.app.Router.Resolve(ctx, req.Provider, ai.ResolveOptions{
		Model:           req.Model,
		APIKey:          providerKeyHeader(r, req.Provider),
		BaseURLOverride: r.Header.Get("X-Ollama-URL"),
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	var assistant strings.Builder
	streamErr := ai.StreamChat(ctx, endpoint, systemPrompt, history, func(token string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		assistant.WriteString(token)
		return nil
	})
	if streamErr != nil {
		if !started {
			writeProviderError(w, streamErr)
			return
		}
		// Tokens already delivered stand. A terminal marker lets the
		// client tell a cut-off answer from a completed one.
		logger.Error("stream aborted mid-response", "provider", endpoint.Provider, "model", endpoint.Model, "err", streamErr)
		msg := "stream interrupted"
		var pe *ai.ProviderError
		if errors.As(streamErr, &pe) && pe.Message != "" {
			msg = pe.Message
		}
		fmt.Fprintf(w, "\n\n[stream error: %s]", msg)
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	if !started {
		// Stream completed without a single token.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}

	if req.SessionID != "" && assistant.Len() > 0 {
		s.app.RecordTurn(ctx, ownerID, req.SessionID, question, assistant.String())
	}
}

func providerKeyHeader(r *http.Request, provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ai.ProviderOpenAI:
		return strings.TrimSpace(r.Header.Get("X-OpenAI-Key"))
	case ai.ProviderOpenRouter:
		return strings.TrimSpace(r.Header.Get("X-OpenRouter-Key"))
	default:
		return ""
	}
}
