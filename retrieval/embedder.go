package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Embedder converts a batch of texts into vectors, one vector per input in
// input order. An empty model selects the deployment default.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

type httpEmbedder struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
	batchSize    int
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewHTTPEmbedderFromEnv builds an embedder against an OpenAI-compatible
// /embeddings endpoint configured by THIRD_PARTY_BASE_URL and
// THIRD_PARTY_API_KEY (EMBEDDING_BASE_URL / EMBEDDING_API_KEY override).
//
// EMBEDDING_BATCH_SIZE is a policy knob, not an architectural constraint:
// the default of 1 issues one call per input, which is the most
// provider-compatible behavior; larger values batch while preserving input
// order and count.
func NewHTTPEmbedderFromEnv() (Embedder, error) {
	apiKey := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("THIRD_PARTY_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("retrieval: embedding API key is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("THIRD_PARTY_BASE_URL"))
	}
	if baseURL == "" {
		return nil, errors.New("retrieval: embedding base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("retrieval: invalid embedding base URL %q", baseURL)
	}

	model := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL_ID"))
	if model == "" {
		model = defaultEmbeddingModel
	}

	batchSize := 1
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_BATCH_SIZE")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			batchSize = parsed
		}
	}

	return &httpEmbedder{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      baseURL,
		apiKey:       apiKey,
		defaultModel: model,
		batchSize:    batchSize,
	}, nil
}

func (e *httpEmbedder) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if e == nil {
		return nil, errors.New("retrieval: embedder is not configured")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if model == "" {
		model = e.defaultModel
	}

	batch := e.batchSize
	if batch <= 0 {
		batch = 1
	}

	results := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += batch {
		end := start + batch
		if end > len(inputs) {
			end = len(inputs)
		}
		vectors, err := e.embedBatch(ctx, model, inputs[start:end])
		if err != nil {
			return nil, stageErr(CodeEmbeddingsFailed, "embedding call failed", err, map[string]any{
				"model":       model,
				"attempted":   len(inputs),
				"batch_start": start,
				"sample_len":  len(inputs[start]),
			})
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (e *httpEmbedder) embedBatch(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	payload := embeddingRequest{Model: model, Input: inputs}
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("retrieval: encode embedding payload: %w", err)
	}

	endpoint := e.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("retrieval: create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("retrieval: embedding API status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("retrieval: decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, fmt.Errorf("retrieval: embedding response count mismatch (expected %d, got %d)", len(inputs), len(decoded.Data))
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, item := range decoded.Data {
		vector := make([]float32, len(item.Embedding))
		for j, value := range item.Embedding {
			vector[j] = float32(value)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// verifyDimensions enforces the deployment-wide dimension invariant. It must
// run before any persistence call: a mismatch aborts indexing with no rows
// written.
func verifyDimensions(vectors [][]float32, expect int) error {
	dims := make([]int, 0, 2)
	seen := make(map[int]struct{}, 2)
	for _, v := range vectors {
		if _, ok := seen[len(v)]; !ok {
			seen[len(v)] = struct{}{}
			dims = append(dims, len(v))
		}
	}
	if len(dims) != 1 || dims[0] != expect {
		return stageErr(CodeEmbedDimMismatch,
			fmt.Sprintf("expected embedding dimension %d, got %v", expect, dims),
			nil,
			map[string]any{"expected": expect, "got": dims, "vectors": len(vectors)})
	}
	return nil
}
