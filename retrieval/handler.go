package retrieval

import (
	"net/http"

	"agentwrap_back/authorization"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Module exposes the retrieval pipeline on the manager surface.
type Module struct {
	service *Service
}

// RegisterRoutes mounts /manager/index and /manager/search and returns the
// module so other packages (wrapper, diagnostics) can reach the service.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, db *gorm.DB, files Downloader) (*Module, error) {
	service, err := NewServiceFromEnv(db, files)
	if err != nil {
		return nil, err
	}
	if err := service.AutoMigrate(); err != nil {
		return nil, err
	}

	module := &Module{service: service}

	group := router.Group("/manager")
	group.Use(guard.RequireManager())
	group.POST("/index", module.handleIndex)
	group.POST("/search", module.handleSearch)

	return module, nil
}

// Service returns the pipeline behind this module.
func (m *Module) Service() *Service {
	return m.service
}

func (m *Module) handleIndex(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON", nil)
		return
	}
	if req.Bucket == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_BUCKET", "bucket required", nil)
		return
	}
	if req.FileKey == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_FILE_KEY", "file_key required", nil)
		return
	}
	if req.AgentID == "" {
		req.AgentID = "default"
	}

	result, err := m.service.IndexFile(c.Request.Context(), req)
	if err != nil {
		writeStageError(c, err, "INDEX_FAILED")
		return
	}
	c.JSON(http.StatusOK, result)
}

type searchResponse struct {
	AgentID string         `json:"agent_id"`
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Folders []string       `json:"folders"`
	Results []SearchResult `json:"results"`
}

func (m *Module) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON", nil)
		return
	}
	if req.AgentID == "" {
		req.AgentID = "default"
	}
	if req.Query == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_QUERY", "query required", nil)
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}
	if len(req.Folders) == 0 {
		req.Folders = []string{DefaultFolder}
	}

	results, err := m.service.Search(c.Request.Context(), req)
	if err != nil {
		writeStageError(c, err, CodeSearchFailed)
		return
	}
	c.JSON(http.StatusOK, searchResponse{
		AgentID: req.AgentID,
		Query:   req.Query,
		TopK:    req.TopK,
		Folders: req.Folders,
		Results: results,
	})
}

// writeStageError maps a pipeline error onto the boundary contract: schema
// problems answer 400, everything downstream answers 500, always with the
// structured error envelope.
func writeStageError(c *gin.Context, err error, fallbackCode string) {
	code := fallbackCode
	message := err.Error()
	var details map[string]any
	if stage, ok := AsStageError(err); ok {
		code = stage.Code
		message = stage.Message
		if stage.Err != nil {
			message = message + ": " + stage.Err.Error()
		}
		details = stage.Details
	}
	status := http.StatusInternalServerError
	if code == CodeMissingSchema {
		status = http.StatusBadRequest
	}
	errorJSON(c, status, code, message, details)
}

func errorJSON(c *gin.Context, status int, code, message string, details map[string]any) {
	payload := gin.H{
		"type":    "invalid_request_error",
		"message": message,
		"code":    code,
		"run_id":  c.GetString("run_id"),
	}
	if status >= http.StatusInternalServerError {
		payload["type"] = "internal_error"
	}
	if details != nil {
		payload["details"] = details
	}
	c.JSON(status, gin.H{"error": payload})
}
