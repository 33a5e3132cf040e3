package cache

import (
	"context"
	"sort"
	"sync"
)

// NewMemoryStorage 返回进程内 Storage，进程退出即丢失。
func NewMemoryStorage() Storage {
	return &memoryStorage{caches: make(map[string]*memoryCache)}
}

type memoryStorage struct {
	mu     sync.RWMutex
	caches map[string]*memoryCache
}

type memoryCache struct {
	storage  *memoryStorage
	name     string
	sealed   bool
	manifest string
	entries  map[string][]byte
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{storage: s, name: name, entries: make(map[string][]byte)}
		s.caches[name] = c
	}
	return c, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	return true, nil
}

func (s *memoryStorage) Match(ctx context.Context, key string) (*MatchResult, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range names {
		c, ok := s.caches[name]
		if !ok || !c.sealed {
			continue
		}
		if data, ok := c.entries[key]; ok {
			return &MatchResult{CacheName: name, Key: key, Data: cloneBytes(data)}, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStorage) Close() error {
	return nil
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) Put(ctx context.Context, key string, data []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.entries[key] = cloneBytes(data)
	return nil
}

func (c *memoryCache) Match(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()
	data, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(data), nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *memoryCache) Seal(ctx context.Context, manifest string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.sealed = true
	c.manifest = manifest
	return nil
}

func (c *memoryCache) Unseal(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.sealed = false
	c.manifest = ""
	return nil
}

func (c *memoryCache) Manifest(ctx context.Context) (string, bool, error) {
	if err := checkContext(ctx); err != nil {
		return "", false, err
	}
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()
	return c.manifest, c.sealed, nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
