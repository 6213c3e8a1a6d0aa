package blocks

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of distinct document texts remembered.
const DefaultCacheSize = 64

// Cache memoizes Discover by document text. Safe for concurrent use.
type Cache struct {
	parsed *lru.Cache[string, []Block]
}

// NewCache creates a cache holding up to size parsed documents.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	parsed, err := lru.New[string, []Block](size)
	if err != nil {
		return nil, err
	}
	return &Cache{parsed: parsed}, nil
}

// Discover returns the blocks of text, parsing only on a cache miss.
// The returned slice is a copy and may be modified by the caller.
func (c *Cache) Discover(text string) []Block {
	key := textKey(text)
	if found, ok := c.parsed.Get(key); ok {
		return append([]Block(nil), found...)
	}
	found := Discover(text)
	c.parsed.Add(key, found)
	return append([]Block(nil), found...)
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	return c.parsed.Len()
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
