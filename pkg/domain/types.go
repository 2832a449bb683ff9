package domain

import "time"

type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// Document is a user-owned uploaded artifact. It is created on upload
// initiation and mutated only by the processing stage until it reaches a
// terminal status.
type Document struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"ownerId"`
	Name         string         `json:"name"`
	SizeBytes    int64          `json:"sizeBytes"`
	ContentType  string         `json:"contentType"`
	StorageKey   string         `json:"-"`
	Status       DocumentStatus `json:"status"`
	ChunkCount   int            `json:"chunkCount"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Chunk is a bounded slice of a document's extracted text plus its
// embedding vector. OwnerID duplicates the parent document's owner so
// retrieval can filter without touching the parent row per chunk.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	OwnerID    string            `json:"ownerId"`
	Index      int               `json:"index"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ChatSession is a named conversation bound to one provider/model pair.
type ChatSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	OwnerID      string    `json:"ownerId"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatMessage is one turn in a session. Append-only, ordered by CreatedAt.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	OwnerID   string    `json:"ownerId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RetrievedChunk is the result of one similarity query. It lives only for
// the duration of a request and is never persisted.
type RetrievedChunk struct {
	Content    string            `json:"content"`
	DocumentID string            `json:"documentId"`
	OwnerID    string            `json:"ownerId"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
