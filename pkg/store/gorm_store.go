package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docuchat/pkg/domain"
)

const migrateLockID int64 = 48123712

const defaultEmbeddingDim = 1536

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the vector dimension used by the chunk table.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&DocumentModel{}, &ChunkModel{}, &SessionModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM chunk_models c
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = c.document_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM session_models s WHERE s.id = m.session_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_document_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_session_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES session_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveDocument creates or updates a document record.
func (s *GormStore) SaveDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "name", "size_bytes", "content_type", "storage_key", "status", "chunk_count", "error_message", "updated_at"}),
	}).Create(&model).Error
}

// GetDocument retrieves one of the owner's documents.
func (s *GormStore) GetDocument(ctx context.Context, ownerID, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents, newest first.
func (s *GormStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// SetDocumentStatus updates lifecycle status, chunk count, and error text.
func (s *GormStore) SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, chunkCount int, errMsg string) error {
	return s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"chunk_count":   chunkCount,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DeleteDocument removes the owner's document; chunks go with it via the
// FK cascade.
func (s *GormStore) DeleteDocument(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).
		Delete(&DocumentModel{}, "id = ? AND owner_id = ?", id, ownerID).Error
}

// GetDocumentNames batch-resolves display names for document ids.
func (s *GormStore) GetDocumentNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var rows []struct {
		ID   string
		Name string
	}
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("id", "name").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}

// InsertChunks batch-inserts chunk records with their embeddings.
func (s *GormStore) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]ChunkModel, 0, len(chunks))
	for _, chunk := range chunks {
		if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
			return err
		}
		models = append(models, chunkToModel(chunk))
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 200).Error
}

// SearchChunks finds the most similar chunks among the owner's completed
// documents. Similarity is 1 - cosine distance, in [0,1] for normalized
// vectors, and must strictly exceed threshold.
func (s *GormStore) SearchChunks(ctx context.Context, ownerID string, embedding []float32, threshold float64, topK int) ([]domain.RetrievedChunk, error) {
	if topK <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var rows []struct {
		Content    string
		DocumentID string
		OwnerID    string
		Metadata   []byte
		Similarity float64
	}
	if err := s.db.WithContext(ctx).Raw(`
		SELECT c.content,
		       c.document_id,
		       c.owner_id,
		       c.metadata,
		       1 - (c.embedding <=> ?) AS similarity
		FROM chunk_models c
		JOIN document_models d ON d.id = c.document_id
		WHERE c.owner_id = ?
		  AND d.status = ?
		  AND c.embedding IS NOT NULL
		  AND 1 - (c.embedding <=> ?) > ?
		ORDER BY similarity DESC
		LIMIT ?`,
		vec, ownerID, string(domain.StatusCompleted), vec, threshold, topK,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		var meta map[string]string
		if len(row.Metadata) > 0 {
			_ = json.Unmarshal(row.Metadata, &meta)
		}
		out = append(out, domain.RetrievedChunk{
			Content:    row.Content,
			DocumentID: row.DocumentID,
			OwnerID:    row.OwnerID,
			Similarity: row.Similarity,
			Metadata:   meta,
		})
	}
	return out, nil
}

// CreateSession creates a new chat session record.
func (s *GormStore) CreateSession(ctx context.Context, session domain.ChatSession) error {
	model := sessionToModel(session)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetSession returns one of the owner's sessions.
func (s *GormStore) GetSession(ctx context.Context, ownerID, id string) (domain.ChatSession, bool, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND owner_id = ?", id, ownerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChatSession{}, false, nil
		}
		return domain.ChatSession{}, false, err
	}
	session := sessionFromModel(model)
	var count int64
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("session_id = ?", id).Count(&count).Error; err != nil {
		return domain.ChatSession{}, false, err
	}
	session.MessageCount = int(count)
	return session, true, nil
}

// ListSessionsByOwner prunes zero-message sessions, then returns the rest
// with message counts, most recently updated first.
func (s *GormStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]domain.ChatSession, error) {
	// Sessions that never accumulated a message are abandoned drafts.
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND NOT EXISTS (SELECT 1 FROM message_models m WHERE m.session_id = session_models.id)", ownerID).
		Delete(&SessionModel{}).Error; err != nil {
		return nil, err
	}
	var models []SessionModel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	sessions := make([]domain.ChatSession, 0, len(models))
	for _, m := range models {
		session := sessionFromModel(m)
		var count int64
		if err := s.db.WithContext(ctx).Model(&MessageModel{}).
			Where("session_id = ?", m.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		session.MessageCount = int(count)
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// RenameSession updates the title. Concurrent renames are last-write-wins.
func (s *GormStore) RenameSession(ctx context.Context, ownerID, id, title string) error {
	return s.db.WithContext(ctx).Model(&SessionModel{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]any{
			"title":      strings.TrimSpace(title),
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteSession removes the owner's session; messages cascade.
func (s *GormStore) DeleteSession(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).
		Delete(&SessionModel{}, "id = ? AND owner_id = ?", id, ownerID).Error
}

// AppendMessage records a message and bumps the session's updated_at.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	model := messageToModel(msg)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&SessionModel{}).
			Where("id = ?", msg.SessionID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// ListMessages returns the owner's session messages in chronological order.
func (s *GormStore) ListMessages(ctx context.Context, ownerID, sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := s.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Name:         d.Name,
		SizeBytes:    d.SizeBytes,
		ContentType:  d.ContentType,
		StorageKey:   d.StorageKey,
		Status:       string(d.Status),
		ChunkCount:   d.ChunkCount,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Name:         m.Name,
		SizeBytes:    m.SizeBytes,
		ContentType:  m.ContentType,
		StorageKey:   m.StorageKey,
		Status:       domain.DocumentStatus(m.Status),
		ChunkCount:   m.ChunkCount,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	var embedding *pgvector.Vector
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		embedding = &vec
	}
	return ChunkModel{
		ID:         chunk.ID,
		DocumentID: chunk.DocumentID,
		OwnerID:    chunk.OwnerID,
		Idx:        chunk.Index,
		Content:    chunk.Content,
		Metadata:   meta,
		Embedding:  embedding,
		CreatedAt:  chunk.CreatedAt,
	}
}

func sessionToModel(s domain.ChatSession) SessionModel {
	return SessionModel{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Title:     s.Title,
		Model:     s.Model,
		Provider:  s.Provider,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.ChatSession {
	return domain.ChatSession{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		Model:     m.Model,
		Provider:  m.Provider,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.ChatMessage) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		OwnerID:   msg.OwnerID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		OwnerID:   m.OwnerID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
