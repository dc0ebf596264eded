/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache is the read-through store for completed idempotency results.
// A miss is never an error.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the cached value into data and reports whether the key was found.
	Get(ctx context.Context, key string, data interface{}) (bool, error)
}

// RedisCache keeps a TinyLFU local tier in front of Redis.
type RedisCache struct {
	cache *cache.Cache
}

const (
	cacheSize     = 128000
	localCacheTTL = time.Minute
)

// NewCache builds a RedisCache on an existing client so the cache shares
// the connection pool opened at startup.
func NewCache(client redis.UniversalClient) Cache {
	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(cacheSize, localCacheTTL),
	})}
}

// NewLocalCache has no Redis tier. Used when Redis caching is disabled and in tests.
func NewLocalCache() Cache {
	return &RedisCache{cache: cache.New(&cache.Options{
		LocalCache: cache.NewTinyLFU(cacheSize, localCacheTTL),
	})}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
