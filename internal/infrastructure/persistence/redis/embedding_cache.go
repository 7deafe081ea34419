package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// EmbeddingCache 查询向量缓存。
// 同一查询文本在 TTL 内复用嵌入结果，省掉一次外部调用；
// 读写失败都只降级为未命中，绝不影响检索本身。
type EmbeddingCache struct {
	client *Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewEmbeddingCache 创建查询向量缓存
func NewEmbeddingCache(client *Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EmbeddingCache{
		client: client,
		ttl:    ttl,
	}
}

// cacheKey 以模型名 + 查询文本哈希作为缓存键
func cacheKey(model, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "embed:" + model + ":" + hex.EncodeToString(sum[:])
}

// Get 读取缓存的查询向量；未命中或任何错误都返回 (nil, false)
func (c *EmbeddingCache) Get(ctx context.Context, model, query string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := cacheKey(model, query)
	ctx, span := tracer.Start(ctx, "cache.GetEmbedding",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		span.RecordError(err)
		return nil, false
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return vec, true
}

// Set 写入查询向量，写失败静默忽略
func (c *EmbeddingCache) Set(ctx context.Context, model, query string, vec []float32) {
	if c == nil || c.client == nil || len(vec) == 0 {
		return
	}

	key := cacheKey(model, query)
	ctx, span := tracer.Start(ctx, "cache.SetEmbedding",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	data, err := json.Marshal(vec)
	if err != nil {
		span.RecordError(err)
		return
	}
	if err := c.client.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		span.RecordError(err)
	}
}

// GetOrLoad Read-Through：未命中时用 loader 加载并回填，singleflight 合并并发同键请求
func (c *EmbeddingCache) GetOrLoad(ctx context.Context, model, query string, loader func() ([]float32, error)) ([]float32, error) {
	if c == nil || c.client == nil {
		return loader()
	}

	if vec, ok := c.Get(ctx, model, query); ok {
		return vec, nil
	}

	key := cacheKey(model, query)
	result, err, _ := c.group.Do(key, func() (any, error) {
		// 再次检查缓存（可能已被其他请求填充）
		if vec, ok := c.Get(ctx, model, query); ok {
			return vec, nil
		}
		vec, err := loader()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, model, query, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
