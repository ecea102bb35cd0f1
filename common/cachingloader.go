package common

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingLoader is a read-through LRU cache in front of any Loader. It keeps
// raw records, so cached data is shared between all consumers of the loader
type CachingLoader struct {
	inner Loader
	cache *lru.Cache[Reference, []byte]
}

func NewCachingLoader(inner Loader, size int) (*CachingLoader, error) {
	cache, err := lru.New[Reference, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachingLoader{inner: inner, cache: cache}, nil
}

func (c *CachingLoader) LoadRaw(ref Reference) ([]byte, error) {
	if data, ok := c.cache.Get(ref); ok {
		return data, nil
	}
	data, err := c.inner.LoadRaw(ref)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ref, data)
	return data, nil
}
