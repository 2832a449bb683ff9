package store

import (
	"context"

	"docuchat/pkg/domain"
)

// Store defines persistence for documents, chunks, sessions, and messages.
// Every read and write is scoped to an owner id; an owner can never observe
// another owner's rows through this interface.
type Store interface {
	// documents
	SaveDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, ownerID, id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
	SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, chunkCount int, errMsg string) error
	DeleteDocument(ctx context.Context, ownerID, id string) error
	// GetDocumentNames batch-resolves display names for the given ids.
	// Missing ids are simply absent from the result map.
	GetDocumentNames(ctx context.Context, ids []string) (map[string]string, error)

	// chunks
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	// SearchChunks returns the chunks of the owner's completed documents
	// whose similarity to the query vector strictly exceeds threshold,
	// ordered by similarity descending, limited to topK. An empty result
	// is a valid outcome, not an error.
	SearchChunks(ctx context.Context, ownerID string, embedding []float32, threshold float64, topK int) ([]domain.RetrievedChunk, error)

	// sessions
	CreateSession(ctx context.Context, session domain.ChatSession) error
	GetSession(ctx context.Context, ownerID, id string) (domain.ChatSession, bool, error)
	// ListSessionsByOwner prunes zero-message sessions as a side effect
	// before returning the remainder, newest first.
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]domain.ChatSession, error)
	RenameSession(ctx context.Context, ownerID, id, title string) error
	DeleteSession(ctx context.Context, ownerID, id string) error

	// messages
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	ListMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.ChatMessage, error)
}
