package retrieval

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T, migrate bool) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "handler.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	files := &fakeFiles{objects: map[string][]byte{
		"docs/team-a/guide.txt": []byte("aaaa bbbb cccc"),
	}}
	service := NewService(db, files, &fakeEmbedder{dim: 3}, 3)
	if migrate {
		require.NoError(t, service.AutoMigrate())
	}

	module := &Module{service: service}
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("run_id", "run-test") })
	router.POST("/manager/index", module.handleIndex)
	router.POST("/manager/search", module.handleSearch)
	return router, service
}

func doPost(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Type    string         `json:"type"`
		Message string         `json:"message"`
		Code    string         `json:"code"`
		RunID   string         `json:"run_id"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHandleIndexAndSearch(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doPost(router, "/manager/index", gin.H{
		"bucket":   "docs",
		"file_key": "team-a/guide.txt",
		"agent_id": "agent-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var indexed IndexResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexed))
	require.NotEmpty(t, indexed.DocumentID)
	require.Equal(t, 1, indexed.ChunkCount)

	rec = doPost(router, "/manager/search", gin.H{
		"agent_id": "agent-1",
		"query":    "aaaa",
		"folders":  []string{"team-a"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var searched searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searched))
	require.Equal(t, "agent-1", searched.AgentID)
	require.Equal(t, defaultTopK, searched.TopK)
	require.Len(t, searched.Results, 1)
	require.Equal(t, "team-a", searched.Results[0].Folder)
}

func TestHandleIndexValidation(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doPost(router, "/manager/index", gin.H{"file_key": "x.txt"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "MISSING_BUCKET", envelope.Error.Code)
	require.Equal(t, "run-test", envelope.Error.RunID)

	rec = doPost(router, "/manager/index", gin.H{"bucket": "docs"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "MISSING_FILE_KEY")
}

func TestHandleSearchValidation(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doPost(router, "/manager/search", gin.H{"agent_id": "agent-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "MISSING_QUERY")
}

func TestHandleIndexObjectNotFound(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rec := doPost(router, "/manager/index", gin.H{"bucket": "docs", "file_key": "absent.txt"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, CodeObjectNotFound, envelope.Error.Code)
	require.Equal(t, "internal_error", envelope.Error.Type)
}

func TestHandleIndexMissingSchemaAnswers400(t *testing.T) {
	// Tables never created: the first insert fails with a missing-schema
	// error, which the boundary maps to 400 rather than 500.
	router, _ := newTestRouter(t, false)

	rec := doPost(router, "/manager/index", gin.H{"bucket": "docs", "file_key": "team-a/guide.txt"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, CodeMissingSchema, envelope.Error.Code)
}
