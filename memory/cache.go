package memory

import (
	"github.com/dgraph-io/ristretto"
)

// embedCache caches text-to-embedding lookups. Embeddings are pure functions
// of their input text for a pinned model version, so cached entries never go
// stale within a process.
type embedCache struct {
	cache *ristretto.Cache
}

func newEmbedCache(maxBytes int64) (*embedCache, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &embedCache{cache: cache}, nil
}

func (c *embedCache) Get(text string) ([]float32, bool) {
	v, ok := c.cache.Get(text)
	if !ok {
		return nil, false
	}
	embedding, ok := v.([]float32)
	return embedding, ok
}

func (c *embedCache) Set(text string, embedding []float32) {
	c.cache.Set(text, embedding, int64(4*len(embedding)))
}

func (c *embedCache) Close() {
	c.cache.Close()
}
