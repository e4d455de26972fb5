// Copyright 2025 The ML-Orchestrator Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores model translations. Implementations must treat their own
// failures as misses.
type Cache interface {
	Get(ctx context.Context, key string) (*Workflow, bool)
	Set(ctx context.Context, key string, wf *Workflow)
}

func cacheKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])[:32]
}

// RedisCache is a Cache backed by Redis string keys with a TTL.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisCache creates a cache under "<namespace>:translate:".
func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration) *RedisCache {
	if namespace == "" {
		namespace = "mlorch"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, namespace: namespace, ttl: ttl}
}

func (c *RedisCache) key(k string) string {
	return c.namespace + ":translate:" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Workflow, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[TranslationCache] get failed, treating as miss: %v", err)
		}
		return nil, false
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		log.Printf("[TranslationCache] corrupt entry %s: %v", key, err)
		return nil, false
	}
	return &wf, true
}

func (c *RedisCache) Set(ctx context.Context, key string, wf *Workflow) {
	data, err := json.Marshal(wf)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		log.Printf("[TranslationCache] set failed: %v", err)
	}
}
