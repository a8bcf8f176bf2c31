package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Store persists documents, chunks and embeddings, and answers ranked
// similarity queries: a server-side match_chunks call when the backing store
// provides one, and a client-side brute-force pass when it does not.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the relational tables. The pgvector column and the
// match_chunks / insert_chunk_embeddings procedures come from
// scripts/schema.sql and are deliberately not managed here.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Document{}, &Chunk{}, &ChunkEmbedding{})
}

func (s *Store) InsertDocument(ctx context.Context, doc *Document) error {
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return classifyStoreErr(CodeDocInsertFailed, "insert document row", err, map[string]any{
			"agent_id": doc.AgentID,
			"bucket":   doc.Bucket,
			"file_key": doc.FileKey,
			"folder":   doc.Folder,
		})
	}
	return nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return classifyStoreErr(CodeChunksInsertFailed, "insert chunk rows", err, map[string]any{
			"rows": len(chunks),
		})
	}
	return nil
}

// ChunkIDsByIndex re-reads the persisted chunk rows of a document and maps
// chunk_index to chunk id. Embedding rows are correlated through this map
// rather than by array position, since the store need not preserve insert
// order across round trips.
func (s *Store) ChunkIDsByIndex(ctx context.Context, documentID string) (map[int]string, error) {
	var rows []Chunk
	if err := s.db.WithContext(ctx).
		Select("id", "chunk_index").
		Where("document_id = ?", documentID).
		Find(&rows).Error; err != nil {
		return nil, classifyStoreErr(CodeChunksInsertFailed, "read back chunk ids", err, map[string]any{
			"document_id": documentID,
		})
	}
	byIndex := make(map[int]string, len(rows))
	for _, row := range rows {
		byIndex[row.ChunkIndex] = row.ID
	}
	return byIndex, nil
}

func (s *Store) InsertEmbeddings(ctx context.Context, embeddings []ChunkEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&embeddings).Error; err != nil {
		return classifyStoreErr(CodeEmbedInsertFailed, "insert embedding rows", err, map[string]any{
			"rows": len(embeddings),
		})
	}
	return nil
}

// MatchChunks invokes the server-side ranking procedure. Callers fall back to
// SearchFallback when it errors (missing function, missing extension).
func (s *Store) MatchChunks(ctx context.Context, queryVec []float32, topK int, agentID string, folders []string) ([]SearchResult, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Raw("SELECT * FROM match_chunks(?::vector, ?, ?, ?::text[])",
			vectorLiteral(queryVec), topK, agentID, textArrayLiteral(folders)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("retrieval: match_chunks rpc: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, searchResultFromRow(row))
	}
	return results, nil
}

// searchResultFromRow shapes one match_chunks row into the result contract.
// The procedure returns the full document metadata (title, bucket, file_key)
// so both search tiers produce the same shape.
func searchResultFromRow(row map[string]any) SearchResult {
	folder := stringField(row, "folder")
	if folder == "" {
		folder = DefaultFolder
	}
	return SearchResult{
		ChunkID:    firstString(row, "chunk_id", "id"),
		Content:    stringField(row, "content"),
		ChunkIndex: intField(row, "chunk_index"),
		Score:      resolveScore(row),
		Folder:     folder,
		Document: DocumentRef{
			ID:      stringField(row, "document_id"),
			Title:   stringField(row, "title"),
			Bucket:  stringField(row, "bucket"),
			FileKey: stringField(row, "file_key"),
			Folder:  folder,
		},
	}
}

// SearchFallback ranks the tenant's folder-scoped corpus in process with
// brute-force cosine similarity. O(corpus) per query; acceptable for small
// and medium corpora, documented as a non-answer for very large ones.
func (s *Store) SearchFallback(ctx context.Context, queryVec []float32, topK int, agentID string, folders []string) ([]SearchResult, error) {
	docQuery := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at, id")
	if !isWildcard(folders) && len(folders) > 0 {
		docQuery = docQuery.Where("folder IN ?", folders)
	}
	var docs []Document
	if err := docQuery.Find(&docs).Error; err != nil {
		return nil, classifyStoreErr(CodeSearchFailed, "load candidate documents", err, map[string]any{
			"agent_id": agentID,
		})
	}
	if len(docs) == 0 {
		return []SearchResult{}, nil
	}

	docIDs := make([]string, len(docs))
	byDoc := make(map[string]*Document, len(docs))
	for i := range docs {
		docIDs[i] = docs[i].ID
		byDoc[docs[i].ID] = &docs[i]
	}

	var chunks []Chunk
	if err := s.db.WithContext(ctx).
		Where("document_id IN ?", docIDs).
		Find(&chunks).Error; err != nil {
		return nil, classifyStoreErr(CodeSearchFailed, "load candidate chunks", err, map[string]any{
			"documents": len(docs),
		})
	}
	if len(chunks) == 0 {
		return []SearchResult{}, nil
	}

	chunkIDs := make([]string, len(chunks))
	byChunk := make(map[string]*Chunk, len(chunks))
	for i := range chunks {
		chunkIDs[i] = chunks[i].ID
		byChunk[chunks[i].ID] = &chunks[i]
	}

	var embeds []ChunkEmbedding
	if err := s.db.WithContext(ctx).
		Where("chunk_id IN ?", chunkIDs).
		Find(&embeds).Error; err != nil {
		return nil, classifyStoreErr(CodeSearchFailed, "load candidate embeddings", err, map[string]any{
			"chunks": len(chunks),
		})
	}

	vecByChunk := make(map[string][]float32, len(embeds))
	for _, e := range embeds {
		var vec []float32
		if err := json.Unmarshal(e.Embedding, &vec); err != nil {
			continue
		}
		vecByChunk[e.ChunkID] = vec
	}

	// Assemble candidates in (document insert order, chunk_index) order so
	// the stable sort below keeps corpus order on score ties.
	chunksByDoc := make(map[string][]*Chunk, len(docs))
	for i := range chunks {
		chunksByDoc[chunks[i].DocumentID] = append(chunksByDoc[chunks[i].DocumentID], &chunks[i])
	}
	scored := make([]SearchResult, 0, len(chunks))
	for _, doc := range docs {
		ordered := chunksByDoc[doc.ID]
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkIndex < ordered[j].ChunkIndex })
		for _, chunk := range ordered {
			vec, ok := vecByChunk[chunk.ID]
			if !ok {
				continue
			}
			scored = append(scored, SearchResult{
				ChunkID:    chunk.ID,
				Content:    chunk.Content,
				ChunkIndex: chunk.ChunkIndex,
				Score:      cosineSimilarity(queryVec, vec),
				Folder:     doc.Folder,
				Document: DocumentRef{
					ID:      doc.ID,
					Title:   doc.Title,
					Bucket:  doc.Bucket,
					FileKey: doc.FileKey,
					Folder:  doc.Folder,
				},
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// cosineSimilarity computes dot(a,b)/(|a|*|b|), flooring the denominator to 1
// so degenerate zero vectors score 0 instead of dividing by zero.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		denom = 1
	}
	return dot / denom
}

func isWildcard(folders []string) bool {
	return len(folders) == 1 && folders[0] == WildcardFolder
}

// resolveScore translates the heterogeneous score field of a match_chunks row
// into one canonical value: the first present of score, similarity, distance.
// This adapter is the only place that knows about the aliasing.
func resolveScore(row map[string]any) float64 {
	for _, key := range []string{"score", "similarity", "distance"} {
		if raw, ok := row[key]; ok {
			if v, ok := numeric(raw); ok {
				return v
			}
		}
	}
	return 0
}

func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case []byte:
		var f float64
		if _, err := fmt.Sscanf(string(v), "%g", &f); err == nil {
			return f, true
		}
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringField(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func firstString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := stringField(row, key); v != "" {
			return v
		}
	}
	return ""
}

func intField(row map[string]any, key string) int {
	if v, ok := numeric(row[key]); ok {
		return int(v)
	}
	return 0
}

// vectorLiteral renders a query vector in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// textArrayLiteral renders folders as a Postgres text[] literal.
func textArrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		quoted[i] = `"` + escaped + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
