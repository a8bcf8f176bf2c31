package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const embedCacheTTL = 10 * time.Minute

// embedCache keeps recent query embeddings in Redis so repeated searches for
// the same query skip the provider round trip. Optional: a nil cache is a
// no-op, and cache failures never fail a search.
type embedCache struct {
	client *redis.Client
}

// newEmbedCacheFromEnv returns nil (cache disabled) when REDIS_ADDR is unset
// or the server is unreachable.
func newEmbedCacheFromEnv() *embedCache {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil
	}
	db := 0
	if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			db = parsed
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("retrieval: redis %s unreachable, embedding cache disabled: %v", addr, err)
		_ = client.Close()
		return nil
	}
	return &embedCache{client: client}
}

func embedCacheKey(model, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "retrieval:embed:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *embedCache) Get(ctx context.Context, model, query string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	raw, err := c.client.Get(ctx, embedCacheKey(model, query)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("retrieval: read embedding cache failed: %v", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *embedCache) Put(ctx context.Context, model, query string, vec []float32) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, embedCacheKey(model, query), raw, embedCacheTTL).Err(); err != nil {
		log.Printf("retrieval: store embedding cache failed: %v", err)
	}
}
