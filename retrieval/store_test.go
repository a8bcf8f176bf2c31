package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "retrieval.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func mustEmbedding(t *testing.T, vec []float32) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(vec)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

// seedDocument inserts one document with chunks and embeddings, one vector
// per chunk, and returns the document id.
func seedDocument(t *testing.T, store *Store, agentID, folder string, vectors [][]float32) string {
	t.Helper()
	ctx := context.Background()
	docID := fmt.Sprintf("doc-%s-%s-%d", agentID, folder, len(vectors))
	require.NoError(t, store.InsertDocument(ctx, &Document{
		ID:      docID,
		AgentID: agentID,
		Title:   docID,
		Bucket:  "test-bucket",
		FileKey: folder + "/" + docID + ".txt",
		Folder:  folder,
	}))

	chunks := make([]Chunk, len(vectors))
	embeds := make([]ChunkEmbedding, len(vectors))
	for i, vec := range vectors {
		chunkID := fmt.Sprintf("%s-chunk-%d", docID, i)
		chunks[i] = Chunk{ID: chunkID, DocumentID: docID, ChunkIndex: i, Content: fmt.Sprintf("content %d of %s", i, docID)}
		embeds[i] = ChunkEmbedding{ChunkID: chunkID, Embedding: mustEmbedding(t, vec)}
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))
	require.NoError(t, store.InsertEmbeddings(ctx, embeds))
	return docID
}

func TestResolveScoreAliases(t *testing.T) {
	require.Equal(t, 0.91, resolveScore(map[string]any{"score": 0.91}))
	require.Equal(t, 0.82, resolveScore(map[string]any{"similarity": 0.82}))
	require.Equal(t, 0.37, resolveScore(map[string]any{"distance": 0.37}))
	// First present wins in alias order.
	require.Equal(t, 0.5, resolveScore(map[string]any{"score": 0.5, "distance": 0.9}))
	require.Equal(t, 0.25, resolveScore(map[string]any{"similarity": "0.25"}))
	require.Equal(t, float64(0), resolveScore(map[string]any{"content": "no score"}))
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	// Zero vectors score 0 through the denominator floor, not NaN.
	require.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestMatchChunksUnavailableOnSqlite(t *testing.T) {
	store := newTestStore(t)
	_, err := store.MatchChunks(context.Background(), []float32{1, 0}, 5, "default", []string{"shared"})
	require.Error(t, err)
}

func TestSearchFallbackRanksAndScopes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocument(t, store, "agent-1", "shared", [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	})
	seedDocument(t, store, "agent-1", "private", [][]float32{
		{0.9, 0.1, 0},
	})
	seedDocument(t, store, "agent-2", "shared", [][]float32{
		{1, 0, 0},
	})

	query := []float32{1, 0, 0}

	shared, err := store.SearchFallback(ctx, query, 10, "agent-1", []string{"shared"})
	require.NoError(t, err)
	require.Len(t, shared, 2)
	require.Equal(t, 0, shared[0].ChunkIndex)
	require.Greater(t, shared[0].Score, shared[1].Score)
	for _, result := range shared {
		require.Equal(t, "shared", result.Folder)
	}

	all, err := store.SearchFallback(ctx, query, 10, "agent-1", []string{WildcardFolder})
	require.NoError(t, err)
	require.Len(t, all, 3)

	topOne, err := store.SearchFallback(ctx, query, 1, "agent-1", []string{WildcardFolder})
	require.NoError(t, err)
	require.Len(t, topOne, 1)
	require.InDelta(t, 1.0, topOne[0].Score, 1e-9)

	other, err := store.SearchFallback(ctx, query, 10, "agent-3", []string{"shared"})
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestSearchFallbackTieBreakKeepsCorpusOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two chunks with identical vectors tie on score; the earlier chunk
	// index must come first.
	seedDocument(t, store, "agent-1", "shared", [][]float32{
		{1, 1, 0},
		{1, 1, 0},
	})

	results, err := store.SearchFallback(ctx, []float32{1, 1, 0}, 10, "agent-1", []string{"shared"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, results[0].Score, results[1].Score)
	require.Equal(t, 0, results[0].ChunkIndex)
	require.Equal(t, 1, results[1].ChunkIndex)
}

func TestSearchResultFromRowMatchesFallbackShape(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocument(t, store, "agent-1", "team-a", [][]float32{{1, 0, 0}})
	fallback, err := store.SearchFallback(ctx, []float32{1, 0, 0}, 1, "agent-1", []string{"team-a"})
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	want := fallback[0]

	// The same chunk as a match_chunks row, with the column set the
	// procedure returns; drivers hand some columns back as []byte.
	row := map[string]any{
		"chunk_id":    want.ChunkID,
		"document_id": want.Document.ID,
		"chunk_index": int64(want.ChunkIndex),
		"content":     want.Content,
		"folder":      want.Folder,
		"title":       []byte(want.Document.Title),
		"bucket":      want.Document.Bucket,
		"file_key":    want.Document.FileKey,
		"score":       want.Score,
	}
	require.Equal(t, want, searchResultFromRow(row))
}

func TestSearchResultFromRowDefaults(t *testing.T) {
	result := searchResultFromRow(map[string]any{"id": "c1", "similarity": 0.5})
	require.Equal(t, "c1", result.ChunkID)
	require.Equal(t, 0.5, result.Score)
	require.Equal(t, DefaultFolder, result.Folder)
	require.Equal(t, DefaultFolder, result.Document.Folder)
}

func TestChunkIDsByIndex(t *testing.T) {
	store := newTestStore(t)
	docID := seedDocument(t, store, "agent-1", "shared", [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	})

	byIndex, err := store.ChunkIDsByIndex(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, byIndex, 3)
	for i := 0; i < 3; i++ {
		require.Equal(t, fmt.Sprintf("%s-chunk-%d", docID, i), byIndex[i])
	}
}

func TestVectorAndArrayLiterals(t *testing.T) {
	require.Equal(t, "[0.5,-1,2]", vectorLiteral([]float32{0.5, -1, 2}))
	require.Equal(t, `{"shared","team-a"}`, textArrayLiteral([]string{"shared", "team-a"}))
}
