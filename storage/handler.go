package storage

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"agentwrap_back/authorization"
	"github.com/gin-gonic/gin"
)

const maxUploadBytes int64 = 50 * 1024 * 1024

// Module exposes the object-store operations on the manager surface.
type Module struct {
	files *FileStorage
}

// RegisterRoutes mounts /manager/files and returns the module so the
// retrieval pipeline can reuse its Download path.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard) (*Module, error) {
	files, err := NewFileStorageFromEnv()
	if err != nil {
		return nil, err
	}
	module := &Module{files: files}

	group := router.Group("/manager/files")
	group.Use(guard.RequireManager())
	group.POST("/upload", module.handleUpload)
	group.POST("/upload-archive", module.handleUploadArchive)
	group.GET("", module.handleList)
	group.GET("/url", module.handleSignedURL)
	group.DELETE("/*key", module.handleDelete)

	return module, nil
}

// Files returns the storage behind this module.
func (m *Module) Files() *FileStorage {
	return m.files
}

func (m *Module) resolveBucket(c *gin.Context, requested string) (string, bool) {
	bucket := strings.TrimSpace(requested)
	if bucket == "" {
		bucket = m.files.DefaultBucket()
	}
	if bucket == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_BUCKET", "bucket required")
		return "", false
	}
	return bucket, true
}

func readUploadFile(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
}

// destinationKey prefixes the object name with its folder unless the folder
// is the shared default, mirroring how folder scope is inferred back from
// the key at index time.
func destinationKey(folder, filename string) string {
	if folder != "" && folder != "shared" {
		return folder + "/" + filename
	}
	return filename
}

func (m *Module) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "MISSING_FILE", "no file provided")
		return
	}
	bucket, ok := m.resolveBucket(c, c.PostForm("bucket"))
	if !ok {
		return
	}
	folder := strings.TrimSpace(c.PostForm("folder"))
	if folder == "" {
		folder = "shared"
	}
	upsert := strings.EqualFold(strings.TrimSpace(c.PostForm("upsert")), "true")

	data, err := readUploadFile(header)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error())
		return
	}
	if int64(len(data)) > maxUploadBytes {
		errorJSON(c, http.StatusBadRequest, "FILE_TOO_LARGE", "file exceeds upload limit")
		return
	}

	ctx := c.Request.Context()
	if err := m.files.EnsureBucket(ctx, bucket); err != nil {
		errorJSON(c, http.StatusInternalServerError, "BUCKET_FAILED", err.Error())
		return
	}
	key := destinationKey(folder, header.Filename)
	if _, err := m.files.Upload(ctx, bucket, key, data, header.Header.Get("Content-Type"), upsert); err != nil {
		errorJSON(c, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bucket": bucket, "key": key, "folder": folder})
}

func (m *Module) handleUploadArchive(c *gin.Context) {
	header, err := c.FormFile("archive")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "MISSING_FILE", "no archive provided")
		return
	}
	bucket, ok := m.resolveBucket(c, c.PostForm("bucket"))
	if !ok {
		return
	}
	folder := strings.TrimSpace(c.PostForm("folder"))
	if folder == "" {
		folder = "shared"
	}
	upsert := strings.EqualFold(strings.TrimSpace(c.PostForm("upsert")), "true")

	data, err := readUploadFile(header)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error())
		return
	}
	entries, err := extractArchive(header.Filename, data)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_ARCHIVE", err.Error())
		return
	}
	if len(entries) == 0 {
		errorJSON(c, http.StatusBadRequest, "EMPTY_ARCHIVE", "archive contains no files")
		return
	}

	ctx := c.Request.Context()
	if err := m.files.EnsureBucket(ctx, bucket); err != nil {
		errorJSON(c, http.StatusInternalServerError, "BUCKET_FAILED", err.Error())
		return
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		key := destinationKey(folder, entry.Name)
		if _, err := m.files.Upload(ctx, bucket, key, entry.Data, "", upsert); err != nil {
			errorJSON(c, http.StatusInternalServerError, "UPLOAD_FAILED", err.Error())
			return
		}
		keys = append(keys, key)
	}
	c.JSON(http.StatusCreated, gin.H{"bucket": bucket, "folder": folder, "keys": keys})
}

func (m *Module) handleList(c *gin.Context) {
	bucket, ok := m.resolveBucket(c, c.Query("bucket"))
	if !ok {
		return
	}
	entries, err := m.files.List(c.Request.Context(), bucket, c.Query("prefix"))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (m *Module) handleSignedURL(c *gin.Context) {
	bucket, ok := m.resolveBucket(c, c.Query("bucket"))
	if !ok {
		return
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_KEY", "key required")
		return
	}
	signed, err := m.files.SignedURL(c.Request.Context(), bucket, key, time.Hour)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "SIGN_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"signedUrl": signed})
}

func (m *Module) handleDelete(c *gin.Context) {
	bucket, ok := m.resolveBucket(c, c.Query("bucket"))
	if !ok {
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		errorJSON(c, http.StatusBadRequest, "MISSING_KEY", "key required")
		return
	}
	if err := m.files.Delete(c.Request.Context(), bucket, key); err != nil {
		errorJSON(c, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func errorJSON(c *gin.Context, status int, code, message string) {
	payload := gin.H{
		"type":    "invalid_request_error",
		"message": message,
		"code":    code,
		"run_id":  c.GetString("run_id"),
	}
	if status >= http.StatusInternalServerError {
		payload["type"] = "internal_error"
	}
	c.JSON(status, gin.H{"error": payload})
}
