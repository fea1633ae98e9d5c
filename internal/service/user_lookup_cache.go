package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserLookupCache amortigua el re-chequeo de existencia de usuario que
// el gate hace en cada petición protegida. El TTL es corto: una cuenta
// borrada deja de pasar el gate en segundos, no en los 15 minutos que
// viviría el access token.
type UserLookupCache interface {
	Get(userID string) (exists, ok bool)
	Set(userID string, exists bool, ttl time.Duration)
}

type memoryUserLookupCache struct {
	mu    sync.Mutex
	items map[string]memoryLookupEntry
}

type memoryLookupEntry struct {
	exists    bool
	expiresAt time.Time
}

func NewMemoryUserLookupCache() UserLookupCache {
	return &memoryUserLookupCache{
		items: make(map[string]memoryLookupEntry),
	}
}

func (c *memoryUserLookupCache) Get(userID string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[userID]
	if !ok {
		return false, false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		delete(c.items, userID)
		return false, false
	}
	return entry.exists, true
}

func (c *memoryUserLookupCache) Set(userID string, exists bool, ttl time.Duration) {
	if strings.TrimSpace(userID) == "" || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[userID] = memoryLookupEntry{
		exists:    exists,
		expiresAt: time.Now().UTC().Add(ttl),
	}
}

type redisUserLookupCache struct {
	client *redis.Client
	prefix string
}

func NewRedisUserLookupCache(client *redis.Client) UserLookupCache {
	if client == nil {
		return nil
	}
	return &redisUserLookupCache{
		client: client,
		prefix: "auth:user:",
	}
}

func (c *redisUserLookupCache) Get(userID string) (bool, bool) {
	if strings.TrimSpace(userID) == "" {
		return false, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	val, err := c.client.Get(ctx, c.prefix+userID).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

func (c *redisUserLookupCache) Set(userID string, exists bool, ttl time.Duration) {
	if strings.TrimSpace(userID) == "" || ttl <= 0 {
		return
	}
	val := "0"
	if exists {
		val = "1"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = c.client.Set(ctx, c.prefix+userID, val, ttl).Err()
}
