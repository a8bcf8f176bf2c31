package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestModule(t *testing.T) (*gin.Engine, *Module) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	module := &Module{store: NewMemoryStore()}
	router := gin.New()
	router.GET("/manager/agents", module.handleList)
	router.POST("/manager/agents", module.handleCreate)
	router.GET("/manager/agents/:id", module.handleGet)
	router.PATCH("/manager/agents/:id", module.handlePatch)
	router.DELETE("/manager/agents/:id", module.handleDelete)
	return router, module
}

func request(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAgentLifecycle(t *testing.T) {
	router, _ := newTestModule(t)

	rec := request(router, http.MethodPost, "/manager/agents", gin.H{
		"id":     "agent-1",
		"config": gin.H{"folders": []string{"team-a"}, "name": "alpha"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = request(router, http.MethodGet, "/manager/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(router, http.MethodGet, "/manager/agents/absent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "AGENT_NOT_FOUND")

	rec = request(router, http.MethodDelete, "/manager/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":true`)

	rec = request(router, http.MethodDelete, "/manager/agents/agent-1", nil)
	require.Contains(t, rec.Body.String(), `"deleted":false`)
}

func TestAgentCreateGeneratesID(t *testing.T) {
	router, module := newTestModule(t)

	rec := request(router, http.MethodPost, "/manager/agents", gin.H{})
	require.Equal(t, http.StatusCreated, rec.Code)

	var record Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.NotEmpty(t, record.ID)
	require.JSONEq(t, `{}`, string(record.Config))

	records, err := module.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestAgentPatchMergesConfig(t *testing.T) {
	router, _ := newTestModule(t)

	rec := request(router, http.MethodPost, "/manager/agents", gin.H{
		"id":     "agent-1",
		"config": gin.H{"folders": []string{"team-a"}, "name": "alpha"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = request(router, http.MethodPatch, "/manager/agents/agent-1", gin.H{
		"config": gin.H{"folders": []string{"team-b", "shared"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var record Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, []string{"team-b", "shared"}, record.Folders())

	// Untouched keys survive the merge.
	var config map[string]any
	require.NoError(t, json.Unmarshal(record.Config, &config))
	require.Equal(t, "alpha", config["name"])
}

func TestAgentPatchCreatesMissingRecord(t *testing.T) {
	router, _ := newTestModule(t)

	rec := request(router, http.MethodPatch, "/manager/agents/new-agent", gin.H{
		"config": gin.H{"folders": []string{"x"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(router, http.MethodGet, "/manager/agents/new-agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
