// Package diagnostics serves the unauthenticated operational endpoints:
// liveness, a configuration/schema self-check, and the SQL schema file.
package diagnostics

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"agentwrap_back/retrieval"
	"agentwrap_back/scripts"
	"agentwrap_back/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Module answers health and diagnostics probes.
type Module struct {
	db      *gorm.DB
	files   *storage.FileStorage
	service *retrieval.Service
}

// RegisterRoutes mounts /health, /diagnostics and /schema.
func RegisterRoutes(router *gin.Engine, db *gorm.DB, files *storage.FileStorage, service *retrieval.Service) *Module {
	module := &Module{db: db, files: files, service: service}
	router.GET("/health", module.handleHealth)
	router.GET("/diagnostics", module.handleDiagnostics)
	router.GET("/schema", module.handleSchema)
	return module
}

func (m *Module) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "run_id": c.GetString("run_id")})
}

type tableChecks struct {
	Documents       bool `json:"documents"`
	Chunks          bool `json:"chunks"`
	ChunkEmbeddings bool `json:"chunk_embeddings"`
}

// handleDiagnostics reports which pieces of the deployment are wired up:
// env presence, object-store reachability, table presence, and whether the
// server-side ranking procedure answers a zero-vector probe.
func (m *Module) handleDiagnostics(c *gin.Context) {
	ctx := c.Request.Context()

	report := gin.H{
		"databaseDsn":     os.Getenv("DATABASE_DSN") != "",
		"storageEndpoint": os.Getenv("MINIO_ENDPOINT") != "",
		"providerUrl":     os.Getenv("THIRD_PARTY_BASE_URL") != "",
		"providerKey":     os.Getenv("THIRD_PARTY_API_KEY") != "",
	}

	storageOk := false
	var storageError *string
	if err := m.files.EnsureBucket(ctx, m.files.DefaultBucket()); err != nil {
		msg := err.Error()
		storageError = &msg
	} else {
		storageOk = true
	}
	report["storageOk"] = storageOk
	report["storageError"] = storageError

	migrator := m.db.Migrator()
	tables := tableChecks{
		Documents:       migrator.HasTable("documents"),
		Chunks:          migrator.HasTable("chunks"),
		ChunkEmbeddings: migrator.HasTable("chunk_embeddings"),
	}
	report["tables"] = tables
	report["schemaOk"] = tables.Documents && tables.Chunks && tables.ChunkEmbeddings

	dim := 1536
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_VECTOR_DIM")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			dim = parsed
		}
	}
	rpcOk := false
	var rpcError *string
	zeros := make([]float32, dim)
	if _, err := m.service.Store().MatchChunks(ctx, zeros, 1, "default", []string{"shared"}); err != nil {
		msg := err.Error()
		rpcError = &msg
	} else {
		rpcOk = true
	}
	report["rpcOk"] = rpcOk
	report["rpcError"] = rpcError

	c.JSON(http.StatusOK, report)
}

func (m *Module) handleSchema(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", scripts.SchemaSQL)
}
