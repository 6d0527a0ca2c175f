package storage

import (
	"context"
	"net/http"

	"github.com/golang/groupcache"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
)

// GroupcacheConfig is the groupcache portion of the [source] configuration.
type GroupcacheConfig struct {
	MB    int
	Self  string   // this server's groupcache URL, e.g., "http://10.0.0.1:8601"
	Peers []string // every peer's URL, including Self
}

// SetupGroupcachePeers registers this process in a groupcache peer pool and returns the
// handler that must be served at the Self address.  Call at most once per process.
func SetupGroupcachePeers(config GroupcacheConfig) http.Handler {
	pool := groupcache.NewHTTPPool(config.Self)
	if len(config.Peers) != 0 {
		pool.Set(config.Peers...)
	}
	horta.Infof("Initializing groupcache at %s with %d peers\n", config.Self, len(config.Peers))
	return pool
}

// GroupcacheSource shares fetched tiles among a group of servers.  Each tile is fetched
// from the wrapped source by only one peer.
type GroupcacheSource struct {
	group *groupcache.Group
}

// NewGroupcacheSource returns a groupcache-backed source.  The name must be unique
// within the process.
func NewGroupcacheSource(name string, src TileSource, cacheBytes int64) *GroupcacheSource {
	group := groupcache.NewGroup(name, cacheBytes, groupcache.GetterFunc(
		func(ctx context.Context, key string, dest groupcache.Sink) error {
			tk, err := octree.ParseTileKey(key)
			if err != nil {
				return err
			}
			data, err := src.Fetch(ctx, tk)
			if err != nil {
				return err
			}
			return dest.SetBytes(data)
		}))
	return &GroupcacheSource{group: group}
}

// Fetch implements TileSource.
func (g *GroupcacheSource) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	var data []byte
	if err := g.group.Get(ctx, key.String(), groupcache.AllocatingByteSliceSink(&data)); err != nil {
		return nil, TransportError(key, err)
	}
	return data, nil
}
