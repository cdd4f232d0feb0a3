package sstable

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type blockKey struct {
	table uint64
	block int
}

// BlockCache caches decoded data blocks across all tables of an engine.
// Table ids are never reused, so entries of deleted tables simply age out.
type BlockCache struct {
	cache *lru.Cache[blockKey, *block]
}

// NewBlockCache creates a cache holding up to size blocks.
// A size <= 0 disables caching and returns nil, which is a valid cache.
func NewBlockCache(size int) (*BlockCache, error) {
	if size <= 0 {
		return nil, nil
	}
	l, err := lru.New[blockKey, *block](size)
	if err != nil {
		return nil, err
	}
	return &BlockCache{cache: l}, nil
}

func (c *BlockCache) get(table uint64, idx int) (*block, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(blockKey{table: table, block: idx})
}

func (c *BlockCache) add(table uint64, idx int, b *block) {
	if c == nil {
		return
	}
	c.cache.Add(blockKey{table: table, block: idx}, b)
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
