package static

import (
	"encoding/base64"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
)

// etagCache memoizes the blake3 fingerprint of a resolved path's
// (size, mtime) identity, the same content-identity fingerprint
// internal/acme uses for account/certificate keys, reused here instead
// of the original's per-file sha256 hash.
type etagCache struct {
	cache *lru.Cache[string, string]
}

func newEtagCache(size int) *etagCache {
	c, _ := lru.New[string, string](size)
	return &etagCache{cache: c}
}

func (c *etagCache) get(path string, size int64, modTime time.Time) string {
	key := path + "\x00" + strconv.FormatInt(size, 10) + "\x00" + modTime.UTC().Format(time.RFC3339Nano)
	if etag, ok := c.cache.Get(key); ok {
		return etag
	}
	sum := blake3.Sum256([]byte(key))
	etag := `"` + base64.RawURLEncoding.EncodeToString(sum[:16]) + `"`
	c.cache.Add(key, etag)
	return etag
}
