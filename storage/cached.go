package storage

import (
	"context"

	"github.com/coocood/freecache"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
)

// CachedSource keeps recently fetched raw tiles in a fixed-size in-memory cache in front
// of a slower source.  Tiles are held Snappy compressed with a CRC32 checksum.
type CachedSource struct {
	src   TileSource
	cache *freecache.Cache
}

// NewCachedSource returns a source that caches up to numBytes of compressed tiles.
func NewCachedSource(src TileSource, numBytes int) *CachedSource {
	horta.Infof("Caching up to %s of raw tiles in memory\n", horta.ByteCount(uint64(numBytes)))
	return &CachedSource{src: src, cache: freecache.NewCache(numBytes)}
}

// Fetch implements TileSource.
func (c *CachedSource) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	k := []byte(key.String())
	if s, err := c.cache.Get(k); err == nil {
		data, _, err := horta.DeserializeData(s, true)
		if err == nil {
			return data, nil
		}
		horta.Errorf("dropping corrupt cached tile %s: %v\n", key, err)
		c.cache.Del(k)
	} else if err != freecache.ErrNotFound {
		horta.Errorf("tile cache lookup for %s: %v\n", key, err)
	}

	data, err := c.src.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	s, err := horta.SerializeData(data, horta.Snappy, horta.CRC32)
	if err != nil {
		return data, nil
	}
	if err := c.cache.Set(k, s, 0); err != nil {
		horta.Debugf("not caching tile %s of %d bytes: %v\n", key, len(s), err)
	}
	return data, nil
}

// CacheStats reports raw tile cache effectiveness.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns the current cache statistics.
func (c *CachedSource) Stats() CacheStats {
	return CacheStats{
		Entries: c.cache.EntryCount(),
		Hits:    c.cache.HitCount(),
		Misses:  c.cache.MissCount(),
	}
}
