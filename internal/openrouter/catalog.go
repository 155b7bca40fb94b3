package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Thainyx11/GameMaster/internal/metrics"
)

// Model is one catalog entry offered to conversation creation.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
}

// Cache stores the model catalog between upstream fetches. The TTL and, for
// the in-memory implementation, the clock are injected rather than ambient.
type Cache interface {
	Get(ctx context.Context) ([]Model, bool)
	Set(ctx context.Context, models []Model)
}

// MemoryCache is a process-local catalog cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	models  []Model
	expires time.Time
}

// NewMemoryCache creates an in-memory cache with the given TTL and clock.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: now}
}

func (c *MemoryCache) Get(ctx context.Context) ([]Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil || c.now().After(c.expires) {
		return nil, false
	}
	// Hand out a copy so callers cannot mutate the cached entry.
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out, true
}

func (c *MemoryCache) Set(ctx context.Context, models []Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.expires = c.now().Add(c.ttl)
}

const redisCatalogKey = "openrouter:models"

// RedisCache shares the catalog across instances via Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed catalog cache.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context) ([]Model, bool) {
	data, err := c.client.Get(ctx, redisCatalogKey).Bytes()
	if err != nil {
		return nil, false
	}
	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, false
	}
	return models, true
}

func (c *RedisCache) Set(ctx context.Context, models []Model) {
	data, err := json.Marshal(models)
	if err != nil {
		return
	}
	// Best effort: a missed write only costs an extra upstream fetch.
	c.client.Set(ctx, redisCatalogKey, data, c.ttl)
}

type catalogResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Description   string `json:"description"`
		ContextLength int    `json:"context_length"`
		Architecture  struct {
			OutputModalities []string `json:"output_modalities"`
		} `json:"architecture"`
	} `json:"data"`
}

// Models returns the catalog of text-output models, sorted by name. Results
// are cached; a cache miss fetches GET /models upstream.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	if cached, ok := c.catalog.Get(ctx); ok {
		return cached, nil
	}

	metrics.ModelCatalogRefreshes.Inc()

	req, err := c.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()
	metrics.UpstreamRequestDuration.WithLabelValues("models").Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var parsed catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if !outputsText(m.Architecture.OutputModalities) {
			continue
		}
		models = append(models, Model{
			ID:            m.ID,
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	c.catalog.Set(ctx, models)
	return models, nil
}

func outputsText(modalities []string) bool {
	for _, m := range modalities {
		if m == "text" {
			return true
		}
	}
	return false
}
