// Package app implements the application core: document lifecycle, chat
// sessions, and retrieval-augmented prompt assembly.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"docuchat/internal/util"
	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/queue"
	"docuchat/pkg/retry"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

// Enqueuer pushes document-processing jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID, ownerID string) (queue.JobStatus, error)
}

// App wires the stores and AI clients behind the HTTP handlers.
type App struct {
	Store    store.Store
	Objects  storage.ObjectStore
	Queue    Enqueuer
	Embedder ai.Embedder
	Router   *ai.Router

	writePolicy retry.Policy
}

// New builds the application core.
func New(st store.Store, objects storage.ObjectStore, q Enqueuer, embedder ai.Embedder, router *ai.Router) *App {
	return &App{
		Store:       st,
		Objects:     objects,
		Queue:       q,
		Embedder:    embedder,
		Router:      router,
		writePolicy: retry.DefaultPolicy(),
	}
}

// UploadDocument registers a document, stores its raw bytes, and enqueues
// processing. The document starts in the uploading state; the worker moves
// it through processing to completed or error.
func (a *App) UploadDocument(ctx context.Context, ownerID, name, contentType string, size int64, r io.Reader) (domain.Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Document{}, fmt.Errorf("document name required")
	}
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          util.NewID(),
		OwnerID:     ownerID,
		Name:        name,
		SizeBytes:   size,
		ContentType: contentType,
		Status:      domain.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc.StorageKey = fmt.Sprintf("uploads/%s/%s", ownerID, doc.ID)

	if err := a.Store.SaveDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	if err := a.Objects.Put(ctx, doc.StorageKey, r, size, contentType); err != nil {
		_ = a.Store.SetDocumentStatus(ctx, doc.ID, domain.StatusError, 0, "upload failed: "+err.Error())
		return domain.Document{}, fmt.Errorf("store upload: %w", err)
	}
	if _, err := a.Queue.Enqueue(ctx, doc.ID, ownerID); err != nil {
		_ = a.Store.SetDocumentStatus(ctx, doc.ID, domain.StatusError, 0, "enqueue failed: "+err.Error())
		return domain.Document{}, fmt.Errorf("enqueue processing: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the owner's documents.
func (a *App) ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error) {
	return a.Store.ListDocumentsByOwner(ctx, ownerID)
}

// GetDocument returns one of the owner's documents.
func (a *App) GetDocument(ctx context.Context, ownerID, id string) (domain.Document, bool, error) {
	return a.Store.GetDocument(ctx, ownerID, id)
}

// DeleteDocument removes the document, its chunks, and its stored object.
func (a *App) DeleteDocument(ctx context.Context, ownerID, id string) error {
	doc, ok, err := a.Store.GetDocument(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := a.Store.DeleteDocument(ctx, ownerID, id); err != nil {
		return err
	}
	if doc.StorageKey != "" {
		if err := a.Objects.Delete(ctx, doc.StorageKey); err != nil {
			slog.Warn("delete stored object failed", "document_id", id, "err", err)
		}
	}
	return nil
}

// downloadURLTTL bounds how long a presigned download link stays valid.
const downloadURLTTL = 15 * time.Minute

// DocumentDownloadURL returns a short-lived presigned URL for the raw
// uploaded file. The second return reports whether the document exists.
func (a *App) DocumentDownloadURL(ctx context.Context, ownerID, id string) (string, bool, error) {
	doc, ok, err := a.Store.GetDocument(ctx, ownerID, id)
	if err != nil || !ok {
		return "", ok, err
	}
	url, err := a.Objects.PresignGet(ctx, doc.StorageKey, downloadURLTTL)
	if err != nil {
		return "", true, fmt.Errorf("presign download: %w", err)
	}
	return url, true, nil
}

// CreateSession starts a chat session bound to one provider/model pair.
func (a *App) CreateSession(ctx context.Context, ownerID, title, provider, model string) (domain.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()
	session := domain.ChatSession{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		Model:     strings.TrimSpace(model),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.Provider == "" || session.Model == "" {
		return domain.ChatSession{}, fmt.Errorf("provider and model are required")
	}
	if err := a.Store.CreateSession(ctx, session); err != nil {
		return domain.ChatSession{}, err
	}
	return session, nil
}

// PrepareContext runs the retrieval half of a chat turn and returns the
// assembled system prompt. Errors are returned to the caller, which
// decides whether to degrade to ErrorPrompt rather than abort the turn.
func (a *App) PrepareContext(ctx context.Context, ownerID, question string) (string, error) {
	if IsGreeting(question) {
		// Greetings skip retrieval entirely; only document existence
		// shapes the template.
		docs, err := a.Store.ListDocumentsByOwner(ctx, ownerID)
		if err != nil {
			return "", fmt.Errorf("list documents: %w", err)
		}
		hasDocs := false
		for _, doc := range docs {
			if doc.Status == domain.StatusCompleted {
				hasDocs = true
				break
			}
		}
		return BuildSystemPrompt(PromptInput{Greeting: true, HasDocuments: hasDocs}), nil
	}

	vec := a.Embedder.Embed(ctx, question)
	chunks, err := a.Store.SearchChunks(ctx, ownerID, vec, RetrievalThreshold, RetrievalTopK)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}

	names := map[string]string{}
	if len(chunks) > 0 {
		ids := distinctDocumentIDs(chunks)
		names, err = a.Store.GetDocumentNames(ctx, ids)
		if err != nil {
			return "", fmt.Errorf("resolve document names: %w", err)
		}
	}
	return BuildSystemPrompt(PromptInput{
		Question:      question,
		Chunks:        chunks,
		DocumentNames: names,
	}), nil
}

// RecordTurn persists the user and assistant messages of a completed chat
// turn. Persistence failures are logged, never surfaced: losing history is
// preferable to failing a response already delivered.
func (a *App) RecordTurn(ctx context.Context, ownerID, sessionID, userText, assistantText string) {
	now := time.Now().UTC()
	msgs := []domain.ChatMessage{
		{ID: util.NewID(), SessionID: sessionID, OwnerID: ownerID, Role: "user", Content: userText, CreatedAt: now},
		{ID: util.NewID(), SessionID: sessionID, OwnerID: ownerID, Role: "assistant", Content: assistantText, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, msg := range msgs {
		msg := msg
		err := retry.Do(ctx, a.writePolicy, func(ctx context.Context) error {
			return a.Store.AppendMessage(ctx, msg)
		})
		if err != nil {
			slog.Error("persist chat message failed", "session_id", sessionID, "role", msg.Role, "err", err)
		}
	}
}

func distinctDocumentIDs(chunks []domain.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.DocumentID]; ok {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}
		ids = append(ids, chunk.DocumentID)
	}
	return ids
}
