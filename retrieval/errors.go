package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// Stage codes surfaced to callers. The HTTP layer maps MISSING_SCHEMA and
// MISSING_QUERY to 400 and everything else to 500.
const (
	CodeDownloadFailed     = "DOWNLOAD_FAILED"
	CodeChunkingFailed     = "CHUNKING_FAILED"
	CodeEmbeddingsFailed   = "EMBEDDINGS_FAILED"
	CodeEmbedDimMismatch   = "EMBED_DIM_MISMATCH"
	CodeDocInsertFailed    = "DOC_INSERT_FAILED"
	CodeChunksInsertFailed = "CHUNKS_INSERT_FAILED"
	CodeEmbedInsertFailed  = "EMBED_INSERT_FAILED"
	CodeObjectNotFound     = "OBJECT_NOT_FOUND"
	CodeSearchFailed       = "SEARCH_FAILED"
	CodeMissingSchema      = "MISSING_SCHEMA"
)

// StageError identifies which pipeline stage failed and carries enough
// context for an operator to diagnose partial setup without log archaeology.
type StageError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(code, message string, err error, details map[string]any) *StageError {
	return &StageError{Code: code, Message: message, Details: details, Err: err}
}

// AsStageError unwraps err into a *StageError when one is present.
func AsStageError(err error) (*StageError, bool) {
	var stage *StageError
	if errors.As(err, &stage) {
		return stage, true
	}
	return nil, false
}

// isMissingSchema recognizes store errors caused by the documents/chunks/
// chunk_embeddings tables not existing yet, across the supported drivers.
func isMissingSchema(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "could not find the table")
}

// classifyStoreErr wraps a raw store error, promoting missing-schema failures
// so the boundary can answer 400 instead of a generic 500.
func classifyStoreErr(code, message string, err error, details map[string]any) *StageError {
	if isMissingSchema(err) {
		return stageErr(CodeMissingSchema, message, err, details)
	}
	return stageErr(code, message, err, details)
}
