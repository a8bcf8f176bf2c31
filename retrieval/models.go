package retrieval

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultFolder is the access scope assigned to documents whose storage key
// carries no path prefix.
const DefaultFolder = "shared"

// WildcardFolder authorizes retrieval across all folders when it is the sole
// entry of a folder list.
const WildcardFolder = "*"

// Document is one ingested file. Immutable once created; removed only by
// deleting the underlying object and cascading its chunks.
type Document struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	AgentID   string    `gorm:"size:100;not null;index" json:"agent_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Bucket    string    `gorm:"size:100;not null" json:"bucket"`
	FileKey   string    `gorm:"size:255;not null" json:"file_key"`
	Folder    string    `gorm:"size:100;not null;default:'shared';index" json:"folder"`
	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Chunk is a contiguous slice of a document's decoded text. ChunkIndex values
// for a document are contiguous integers starting at 0, in chunker order.
type Chunk struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	DocumentID string    `gorm:"size:36;not null;index:idx_document_chunk" json:"document_id"`
	ChunkIndex int       `gorm:"not null;index:idx_document_chunk" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// ChunkEmbedding holds the vector for exactly one chunk. The JSON column is
// what the in-process fallback reads; the pgvector column populated by
// insert_chunk_embeddings (scripts/schema.sql) serves the server-side path.
type ChunkEmbedding struct {
	ChunkID   string         `gorm:"primaryKey;size:36" json:"chunk_id"`
	Embedding datatypes.JSON `gorm:"type:json;not null" json:"embedding"`
}

func (ChunkEmbedding) TableName() string {
	return "chunk_embeddings"
}

// DocumentRef is the document metadata attached to every search result.
type DocumentRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Bucket  string `json:"bucket"`
	FileKey string `json:"file_key"`
	Folder  string `json:"folder"`
}

// SearchResult is one ranked chunk, highest cosine similarity first.
type SearchResult struct {
	ChunkID    string      `json:"chunk_id"`
	Content    string      `json:"content"`
	ChunkIndex int         `json:"chunk_index"`
	Score      float64     `json:"score"`
	Folder     string      `json:"folder"`
	Document   DocumentRef `json:"document"`
}
