package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	OwnerID      string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	SizeBytes    int64  `gorm:"not null"`
	ContentType  string
	StorageKey   string
	Status       string `gorm:"not null;index"`
	ChunkCount   int    `gorm:"not null;default:0"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID         string           `gorm:"primaryKey"`
	DocumentID string           `gorm:"not null;index"`
	OwnerID    string           `gorm:"not null;index"`
	Idx        int              `gorm:"column:ordinal;not null"`
	Content    string           `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt  time.Time        `gorm:"not null;index"`
}

type SessionModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"not null;index"`
	Title     string `gorm:"not null"`
	Model     string `gorm:"not null"`
	Provider  string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"not null;index"`
	OwnerID   string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
