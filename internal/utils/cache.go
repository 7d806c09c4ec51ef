package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
)

// Cache 全局 KV 缓存：探活结果、最近一次任务结果等
var Cache = cache.New(5*time.Minute, 10*time.Minute)

// CacheGet 获取缓存值
func CacheGet(key string) (interface{}, bool) {
	return Cache.Get(key)
}

// CacheSet 设置缓存值，duration 为 0 时使用默认过期时间，cache.NoExpiration 表示永不过期
func CacheSet(key string, value interface{}, duration time.Duration) {
	Cache.Set(key, value, duration)
}

// NoExpiration 永不过期
const NoExpiration = cache.NoExpiration

// CacheDelete 删除缓存
func CacheDelete(key string) {
	Cache.Delete(key)
}

// CacheRemember 命中直接返回，否则调用 load 并写入缓存
// load 出错时不缓存
func CacheRemember[T any](key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if cached, found := Cache.Get(key); found {
		if v, ok := cached.(T); ok {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	Cache.Set(key, v, ttl)
	return v, nil
}

// lruItem 包装实际的数据，增加过期时间
type lruItem[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// LookupCache 带 TTL 的 LRU 缓存，用于外部 API 查询结果
type LookupCache[T any] struct {
	storage *lru.Cache[string, lruItem[T]]
	ttl     time.Duration
}

// NewLookupCache size 是最大缓存条数，ttl 是数据有效期
func NewLookupCache[T any](size int, ttl time.Duration) *LookupCache[T] {
	if size <= 0 {
		size = 256
	}
	// lru.New 是线程安全的，size > 0 时不会返回错误
	c, _ := lru.New[string, lruItem[T]](size)
	return &LookupCache[T]{
		storage: c,
		ttl:     ttl,
	}
}

// Set 写入（LRU 中 Add 会自动处理更新）
func (c *LookupCache[T]) Set(key string, value T) {
	c.storage.Add(key, lruItem[T]{
		Value:     value,
		ExpiredAt: time.Now().Add(c.ttl),
	})
}

// Get 读取，过期条目会被顺手删除
func (c *LookupCache[T]) Get(key string) (T, bool) {
	var zero T
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}
	if time.Now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		return zero, false
	}
	return item.Value, true
}

// Delete 删除
func (c *LookupCache[T]) Delete(key string) {
	c.storage.Remove(key)
}

// Len 当前条数
func (c *LookupCache[T]) Len() int {
	return c.storage.Len()
}
