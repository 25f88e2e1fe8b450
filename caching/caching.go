// Package caching wraps an in-memory TTL cache shared by components that
// need short-lived lookups, such as panel session reuse.
package caching

import (
	"time"

	"github.com/patrickmn/go-cache"
)

type Cache struct {
	memoryCache *cache.Cache
}

func NewCache() *Cache {
	return &Cache{}
}

func (s *Cache) Init(ttl time.Duration) (err error) {
	defer func() {
		if err != nil {
			s.Flush()
		}
	}()

	s.memoryCache = cache.New(ttl, ttl)

	return nil
}

func (s *Cache) Flush() error {
	if s.memoryCache != nil {
		s.memoryCache.Flush()
	}

	return nil
}

func (s *Cache) Memory() *cache.Cache {
	return s.memoryCache
}
