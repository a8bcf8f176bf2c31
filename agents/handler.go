package agents

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"agentwrap_back/authorization"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Module serves the registry on the manager surface.
type Module struct {
	store Store
}

// RegisterRoutes mounts /manager/agents. The backing is chosen by
// AGENT_REGISTRY: "db" persists records through gorm, anything else keeps
// them in memory.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, db *gorm.DB) (*Module, error) {
	var store Store
	if strings.EqualFold(strings.TrimSpace(os.Getenv("AGENT_REGISTRY")), "db") {
		persistent, err := NewGormStore(db)
		if err != nil {
			return nil, err
		}
		store = persistent
	} else {
		store = NewMemoryStore()
	}

	module := &Module{store: store}

	group := router.Group("/manager/agents")
	group.Use(guard.RequireManager())
	group.GET("", module.handleList)
	group.POST("", module.handleCreate)
	group.GET("/:id", module.handleGet)
	group.PATCH("/:id", module.handlePatch)
	group.DELETE("/:id", module.handleDelete)

	return module, nil
}

// Registry returns the store so the wrapper can resolve agent folders.
func (m *Module) Registry() Store {
	return m.store
}

type agentRequest struct {
	ID     string         `json:"id"`
	Config map[string]any `json:"config"`
}

func (m *Module) handleList(c *gin.Context) {
	records, err := m.store.List(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, records)
}

func (m *Module) handleCreate(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	config := req.Config
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_CONFIG", "config must be a JSON object")
		return
	}

	record := &Record{ID: id, Config: datatypes.JSON(raw)}
	if err := m.store.Put(c.Request.Context(), record); err != nil {
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (m *Module) handleGet(c *gin.Context) {
	record, err := m.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, record)
}

// handlePatch merges incoming config keys over the stored config; an unknown
// id creates the record, matching the reference behavior.
func (m *Module) handlePatch(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	existing, err := m.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}

	merged := map[string]any{}
	if existing != nil && len(existing.Config) > 0 {
		_ = json.Unmarshal(existing.Config, &merged)
	}
	for key, value := range req.Config {
		merged[key] = value
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_CONFIG", "config must be a JSON object")
		return
	}

	record := &Record{ID: id, Config: datatypes.JSON(raw)}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
	}
	if err := m.store.Put(ctx, record); err != nil {
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, record)
}

func (m *Module) handleDelete(c *gin.Context) {
	deleted, err := m.store.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "REGISTRY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func errorJSON(c *gin.Context, status int, code, message string) {
	payload := gin.H{
		"type":    "invalid_request_error",
		"message": message,
		"code":    code,
		"run_id":  c.GetString("run_id"),
	}
	switch {
	case status == http.StatusNotFound:
		payload["type"] = "not_found"
	case status >= http.StatusInternalServerError:
		payload["type"] = "internal_error"
	}
	c.JSON(status, gin.H{"error": payload})
}
