package tilecache

import (
	"context"

	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
	"github.com/janelia-flyem/horta/voxels"
	"github.com/janelia-flyem/horta/voxels/ktx"
)

// Loader fetches and decodes one tile.  Loads run on the cache's worker pool.
type Loader interface {
	Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, key octree.TileKey) (*voxels.Block, error)

func (f LoaderFunc) Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error) {
	return f(ctx, key)
}

// SourceLoader fetches tile bytes from a TileSource and decodes them as KTX.
type SourceLoader struct {
	Source storage.TileSource
}

// NewLoader returns a loader for KTX tiles from the source.
func NewLoader(src storage.TileSource) SourceLoader {
	return SourceLoader{Source: src}
}

func (l SourceLoader) Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error) {
	data, err := l.Source.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return ktx.DecodeBytes(ctx, data)
}
