package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultExpectDim = 1536
	defaultTopK      = 5
)

// Downloader is the only blob-storage capability the pipeline depends on.
type Downloader interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// Service orchestrates the retrieval pipeline: indexing flows
// download → chunk → embed → persist, search flows embed → ranked lookup →
// result shaping. It is the sole integration point for the HTTP layer and
// the wrapper; nothing else touches the store or the embedding provider.
type Service struct {
	store     *Store
	files     Downloader
	embedder  Embedder
	cache     *embedCache
	expectDim int
}

// NewService wires a service with explicit collaborators. Used by tests and
// by NewServiceFromEnv.
func NewService(db *gorm.DB, files Downloader, embedder Embedder, expectDim int) *Service {
	if expectDim <= 0 {
		expectDim = defaultExpectDim
	}
	return &Service{
		store:     NewStore(db),
		files:     files,
		embedder:  embedder,
		expectDim: expectDim,
	}
}

// NewServiceFromEnv builds the embedder and optional Redis embedding cache
// from environment variables. EMBEDDING_VECTOR_DIM overrides the expected
// dimension (default 1536).
func NewServiceFromEnv(db *gorm.DB, files Downloader) (*Service, error) {
	if db == nil {
		return nil, errors.New("retrieval: database connection is required")
	}
	embedder, err := NewHTTPEmbedderFromEnv()
	if err != nil {
		return nil, err
	}

	expectDim := defaultExpectDim
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_VECTOR_DIM")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 0 {
			expectDim = parsed
		}
	}

	service := NewService(db, files, embedder, expectDim)
	service.cache = newEmbedCacheFromEnv()
	return service, nil
}

// AutoMigrate creates the relational tables used by the pipeline.
func (s *Service) AutoMigrate() error {
	return s.store.AutoMigrate()
}

// Store exposes the underlying store for diagnostics probes.
func (s *Service) Store() *Store {
	return s.store
}

// IndexRequest names one object to ingest for a tenant.
type IndexRequest struct {
	Bucket         string        `json:"bucket"`
	FileKey        string        `json:"file_key"`
	AgentID        string        `json:"agent_id"`
	Title          string        `json:"title"`
	Folder         string        `json:"folder"`
	ChunkOptions   *ChunkOptions `json:"chunk_options"`
	EmbeddingModel string        `json:"embedding_model"`
}

// IndexResult reports the created document and its chunk count.
type IndexResult struct {
	DocumentID string `json:"documentId"`
	ChunkCount int    `json:"chunkCount"`
}

// IndexFile downloads the object, chunks and embeds its text, then persists
// document, chunks and embeddings in that order. The three writes are
// independent: a failure partway leaves a partially indexed document rather
// than rolling back (at-most-once per stage). The dimension invariant is
// checked before any write, so a mismatch leaves zero rows.
func (s *Service) IndexFile(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	raw, err := s.files.Download(ctx, req.Bucket, req.FileKey)
	if err != nil {
		code := CodeDownloadFailed
		if isObjectNotFound(err) {
			code = CodeObjectNotFound
		}
		return nil, stageErr(code, "download object", err, map[string]any{
			"bucket":   req.Bucket,
			"file_key": req.FileKey,
		})
	}

	content := decodeText(raw)
	opts := ChunkOptions{}
	if req.ChunkOptions != nil {
		opts = *req.ChunkOptions
	}
	chunks := newChunker(opts).split(content)
	if len(chunks) == 0 {
		return nil, stageErr(CodeChunkingFailed, "document produced no chunks", nil, map[string]any{
			"content_len": len(content),
		})
	}

	embeddings, err := s.embedder.Embed(ctx, req.EmbeddingModel, chunks)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, stageErr(CodeEmbedDimMismatch, "embedding count does not match chunk count", nil, map[string]any{
			"chunks":     len(chunks),
			"embeddings": len(embeddings),
		})
	}
	if err := verifyDimensions(embeddings, s.expectDim); err != nil {
		return nil, err
	}

	folder := strings.TrimSpace(req.Folder)
	if folder == "" {
		folder = extractFolder(req.FileKey)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.FileKey
	}

	doc := &Document{
		ID:      uuid.NewString(),
		AgentID: req.AgentID,
		Title:   title,
		Bucket:  req.Bucket,
		FileKey: req.FileKey,
		Folder:  folder,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	rows := make([]Chunk, len(chunks))
	for i, text := range chunks {
		rows[i] = Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    text,
		}
	}
	if err := s.store.InsertChunks(ctx, rows); err != nil {
		return nil, err
	}

	byIndex, err := s.store.ChunkIDsByIndex(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	embedRows := make([]ChunkEmbedding, 0, len(embeddings))
	for i, vec := range embeddings {
		chunkID, ok := byIndex[i]
		if !ok {
			return nil, stageErr(CodeEmbedInsertFailed, "persisted chunk missing for index", nil, map[string]any{
				"chunk_index": i,
				"document_id": doc.ID,
			})
		}
		payload, marshalErr := json.Marshal(vec)
		if marshalErr != nil {
			return nil, stageErr(CodeEmbedInsertFailed, "encode embedding vector", marshalErr, map[string]any{
				"chunk_index": i,
			})
		}
		embedRows = append(embedRows, ChunkEmbedding{ChunkID: chunkID, Embedding: datatypes.JSON(payload)})
	}
	if err := s.store.InsertEmbeddings(ctx, embedRows); err != nil {
		return nil, err
	}

	return &IndexResult{DocumentID: doc.ID, ChunkCount: len(chunks)}, nil
}

// SearchRequest scopes a similarity query to a tenant and its folders.
type SearchRequest struct {
	AgentID        string   `json:"agent_id"`
	Query          string   `json:"query"`
	TopK           int      `json:"top_k"`
	Folders        []string `json:"folders"`
	EmbeddingModel string   `json:"embedding_model"`
}

// Search embeds the query once, asks the server-side ranking procedure for
// the top-K rows, and falls back to the in-process brute-force pass when the
// procedure is unavailable or errors.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return []SearchResult{}, nil
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	folders := req.Folders
	if len(folders) == 0 {
		folders = []string{DefaultFolder}
	}

	queryVec, err := s.embedQuery(ctx, req.EmbeddingModel, query)
	if err != nil {
		return nil, err
	}

	results, err := s.store.MatchChunks(ctx, queryVec, topK, req.AgentID, folders)
	if err == nil {
		return results, nil
	}
	log.Printf("retrieval: match_chunks unavailable, using fallback: %v", err)

	return s.store.SearchFallback(ctx, queryVec, topK, req.AgentID, folders)
}

func (s *Service) embedQuery(ctx context.Context, model, query string) ([]float32, error) {
	cacheModel := model
	if cacheModel == "" {
		cacheModel = defaultEmbeddingModel
	}
	if vec, ok := s.cache.Get(ctx, cacheModel, query); ok {
		return vec, nil
	}
	vectors, err := s.embedder.Embed(ctx, model, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, stageErr(CodeEmbeddingsFailed, "provider returned no vector for query", nil, map[string]any{
			"query_len": len(query),
		})
	}
	s.cache.Put(ctx, cacheModel, query, vectors[0])
	return vectors[0], nil
}

// extractFolder infers the access scope from the key's first path segment;
// keys without a separator land in the shared folder.
func extractFolder(fileKey string) string {
	if idx := strings.IndexByte(fileKey, '/'); idx > 0 {
		return fileKey[:idx]
	}
	return DefaultFolder
}

// decodeText interprets the object bytes as UTF-8, replacing invalid
// sequences rather than failing the pipeline on stray bytes.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "nosuchkey") || strings.Contains(msg, "no such key")
}
