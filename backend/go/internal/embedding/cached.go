package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/util"

	"github.com/OneOfOne/xxhash"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

// RemoteCache 是跨进程共享的向量缓存。未命中时返回 (nil, nil)。
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache 用 Redis 实现 RemoteCache。
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 创建 Redis 缓存，键以 prefix 开头。
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get 读取缓存。
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// Set 写入缓存。
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// CachedModel 在模型前面放置两级缓存：进程内 LRU，然后是可选的远程缓存。
// 远程缓存失败只记录日志，不会让嵌入失败。
type CachedModel struct {
	inner  Embedding
	local  *util.LRUCache[uint64, []float32]
	remote RemoteCache
	ttl    time.Duration
	group  singleflight.Group
	log    *logger.Logger
}

// NewCachedModel 包装 inner。remote 可以为 nil。
func NewCachedModel(inner Embedding, size int, ttl time.Duration, remote RemoteCache, log *logger.Logger) (*CachedModel, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := util.NewWithConfig(util.CacheConfig[uint64, []float32]{Capacity: size, TTL: ttl})
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedModel{inner: inner, local: local, remote: remote, ttl: ttl, log: log}, nil
}

// Name 返回被包装模型的标识。
func (c *CachedModel) Name() string { return c.inner.Name() }

func (c *CachedModel) key(text string) uint64 {
	return xxhash.ChecksumString64(c.inner.Name() + "\x00" + text)
}

// sharedLookupTimeout 限制一次共享查找的总时长。
const sharedLookupTimeout = 30 * time.Second

// Embed 返回文本的嵌入向量，优先使用缓存。返回的切片不可修改。
// 调用方取消只结束自己的等待，不影响同一文本的其他调用方。
func (c *CachedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.local.Get(k); ok {
		return v, nil
	}

	skey := strconv.FormatUint(k, 16)
	ch := c.group.DoChan(skey, func() (interface{}, error) {
		// 共享查找不随发起它的调用方取消，其他等待者仍能拿到结果
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		if c.remote != nil {
			raw, err := c.remote.Get(sctx, skey)
			if err != nil {
				c.log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("读取远程嵌入缓存失败")
			} else if vec, ok := decodeVector(raw); ok {
				c.local.Put(k, vec, 1)
				return vec, nil
			}
		}

		vec, err := c.inner.Embed(sctx, text)
		if err != nil {
			return nil, err
		}
		c.local.Put(k, vec, 1)
		if c.remote != nil {
			if err := c.remote.Set(sctx, skey, encodeVector(vec), c.ttl); err != nil {
				c.log.WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Warn("写入远程嵌入缓存失败")
			}
		}
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("embed with %s: %w", c.inner.Name(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("embed with %s: %w", c.inner.Name(), res.Err)
		}
		return res.Val.([]float32), nil
	}
}

// EmbedBatch 只为未命中的文本调用模型。
func (c *CachedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.local.Get(c.key(t)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embed batch with %s: %w", c.inner.Name(), err)
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.local.Put(c.key(texts[i]), vecs[j], 1)
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, true
}
