package embed

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryCacheSize is the number of query vectors kept by Cached.
const QueryCacheSize = 64

// Cached remembers recent EmbedSingle results so repeated searches do not
// call the model again.
type Cached struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(e Embedder) *Cached {
	c, _ := lru.New[string, []float32](QueryCacheSize)
	return &Cached{Embedder: e, cache: c}
}

func (c *Cached) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}
