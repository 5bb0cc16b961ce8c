package util

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// CacheConfig 用于配置 LRU 缓存。
type CacheConfig[K comparable, V any] struct {
	// Capacity 是最大条目数，0 表示不限制。
	Capacity int
	// MaxWeight 是所有条目权重之和的上限，0 表示不限制。
	MaxWeight int
	// TTL 是条目的存活时间，0 表示永不过期。
	TTL time.Duration
	// OnEvict 在条目因容量或过期被移除时调用，调用时持有锁。
	OnEvict func(key K, value V)
	// Now 是时钟，nil 表示 time.Now。
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	weight    int
	expiresAt time.Time
}

// LRUCache 是泛型、并发安全的 LRU 缓存，同时支持条目数、权重和 TTL 限制。
type LRUCache[K comparable, V any] struct {
	config CacheConfig[K, V]

	mu     sync.Mutex
	ll     *list.List
	items  map[K]*list.Element
	weight int
	hits   uint64
	misses uint64
}

// ErrNoLimit 表示既没有设置容量也没有设置权重上限。
var ErrNoLimit = errors.New("lru: 必须设置 Capacity 或 MaxWeight 中的至少一个")

// NewWithConfig 使用指定配置创建缓存。
func NewWithConfig[K comparable, V any](config CacheConfig[K, V]) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 && config.MaxWeight <= 0 {
		return nil, ErrNoLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		items:  make(map[K]*list.Element),
	}, nil
}

// Get 返回 key 对应的值，并把条目标记为最近使用。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok || c.expired(el) {
		if ok {
			c.remove(el, true)
		}
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Peek 返回 key 对应的值，但不改变其使用顺序。
func (c *LRUCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok && !c.expired(el) {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put 添加或更新一个条目。只按条目数限制时 weight 传 1。
func (c *LRUCache[K, V]) Put(key K, value V, weight int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.config.TTL > 0 {
		expiresAt = c.config.Now().Add(c.config.TTL)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		c.weight += weight - e.weight
		e.value, e.weight, e.expiresAt = value, weight, expiresAt
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value, weight: weight, expiresAt: expiresAt})
		c.weight += weight
	}

	// 一个较重的新条目可能需要淘汰多个旧条目
	for c.overLimit() {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.remove(back, true)
	}
}

// Remove 删除 key，返回它是否存在。
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.remove(el, false)
	}
	return ok
}

// Len 返回当前条目数，包括尚未被动淘汰的过期条目。
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Weight 返回当前总权重。
func (c *LRUCache[K, V]) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

// Stats 返回命中与未命中次数。
func (c *LRUCache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRUCache[K, V]) expired(el *list.Element) bool {
	e := el.Value.(*entry[K, V])
	return c.config.TTL > 0 && c.config.Now().After(e.expiresAt)
}

func (c *LRUCache[K, V]) overLimit() bool {
	if c.config.Capacity > 0 && c.ll.Len() > c.config.Capacity {
		return true
	}
	return c.config.MaxWeight > 0 && c.weight > c.config.MaxWeight
}

func (c *LRUCache[K, V]) remove(el *list.Element, evicted bool) {
	c.ll.Remove(el)
	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.weight -= e.weight
	if evicted && c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}
