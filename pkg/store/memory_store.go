package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"docuchat/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors GormStore semantics, including owner scoping, cascade
// deletes, and cosine similarity search.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk // by document id
	sessions  map[string]domain.ChatSession
	messages  map[string][]domain.ChatMessage // by session id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
		sessions:  make(map[string]domain.ChatSession),
		messages:  make(map[string][]domain.ChatMessage),
	}
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, ownerID, id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return domain.Document{}, false, nil
	}
	return doc, true, nil
}

func (s *MemoryStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0)
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (s *MemoryStore) SetDocumentStatus(_ context.Context, id string, status domain.DocumentStatus, chunkCount int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) GetDocumentNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok {
			names[id] = doc.Name
		}
	}
	return names, nil
}

func (s *MemoryStore) InsertChunks(_ context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		s.chunks[chunk.DocumentID] = append(s.chunks[chunk.DocumentID], chunk)
	}
	return nil
}

func (s *MemoryStore) SearchChunks(_ context.Context, ownerID string, embedding []float32, threshold float64, topK int) ([]domain.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	results := make([]domain.RetrievedChunk, 0)
	for docID, chunks := range s.chunks {
		doc, ok := s.documents[docID]
		if !ok || doc.Status != domain.StatusCompleted {
			continue
		}
		for _, chunk := range chunks {
			if chunk.OwnerID != ownerID {
				continue
			}
			sim := cosineSimilarity(embedding, chunk.Embedding)
			if sim > threshold {
				results = append(results, domain.RetrievedChunk{
					Content:    chunk.Content,
					DocumentID: chunk.DocumentID,
					OwnerID:    chunk.OwnerID,
					Similarity: sim,
					Metadata:   chunk.Metadata,
				})
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *MemoryStore) CreateSession(_ context.Context, session domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, ownerID, id string) (domain.ChatSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok || session.OwnerID != ownerID {
		return domain.ChatSession{}, false, nil
	}
	session.MessageCount = len(s.messages[id])
	return session, true, nil
}

func (s *MemoryStore) ListSessionsByOwner(_ context.Context, ownerID string) ([]domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]domain.ChatSession, 0)
	for id, session := range s.sessions {
		if session.OwnerID != ownerID {
			continue
		}
		if len(s.messages[id]) == 0 {
			delete(s.sessions, id)
			continue
		}
		session.MessageCount = len(s.messages[id])
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	return sessions, nil
}

func (s *MemoryStore) RenameSession(_ context.Context, ownerID, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.OwnerID != ownerID {
		return nil
	}
	session.Title = strings.TrimSpace(title)
	session.UpdatedAt = time.Now().UTC()
	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.OwnerID != ownerID {
		return nil
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	if session, ok := s.sessions[msg.SessionID]; ok {
		session.UpdatedAt = time.Now().UTC()
		s.sessions[msg.SessionID] = session
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, ownerID, sessionID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]domain.ChatMessage, 0)
	for _, msg := range s.messages[sessionID] {
		if msg.OwnerID == ownerID {
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

var _ Store = (*MemoryStore)(nil)
