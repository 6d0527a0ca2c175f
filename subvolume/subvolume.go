/*
Package subvolume assembles a padded voxel box from octree tiles for path tracing.

A Subvolume holds read locks on every cache-resident tile it uses and loads the rest
directly, so it must be released when the caller is done with it.  Tiles that cannot
be loaded leave gaps that read as voxels.NoData.
*/
package subvolume

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/tilecache"
	"github.com/janelia-flyem/horta/voxels"
)

const (
	// DefaultPadding is the number of voxels added to every side of a trace's
	// bounding box.
	DefaultPadding = 10

	// MaxParallelLoads bounds the direct tile loads issued for one subvolume.
	MaxParallelLoads = 20
)

// PaddedExtents returns the box spanned by two points, expanded by padding voxels on
// every side.
func PaddedExtents(a, b horta.Point3d, padding int32) horta.Extents3d {
	return horta.NewExtents(a, b).Pad(padding)
}

// BlockSource provides tiles to subvolumes.
type BlockSource interface {
	// Resident returns a read-locked tile if it is already in memory.
	Resident(key octree.TileKey) (block *voxels.Block, release func(), ok bool)

	// Load fetches and decodes a tile that is not resident.
	Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error)
}

// CacheSource serves resident tiles from a tile cache and loads others directly.
// Concurrent direct loads of the same tile share one fetch.  Directly loaded tiles are
// not inserted into the cache.
type CacheSource struct {
	Cache  *tilecache.Cache
	Loader tilecache.Loader

	flight singleflight.Group
}

// NewCacheSource returns a block source backed by the cache and loader.
func NewCacheSource(cache *tilecache.Cache, loader tilecache.Loader) *CacheSource {
	return &CacheSource{Cache: cache, Loader: loader}
}

func (s *CacheSource) Resident(key octree.TileKey) (*voxels.Block, func(), bool) {
	return s.Cache.Acquire(key)
}

// Load fetches a tile directly unless the cache has given up on it, in which case the
// cache's retry budget error is returned and the tile becomes a gap.
func (s *CacheSource) Load(ctx context.Context, key octree.TileKey) (*voxels.Block, error) {
	if status := s.Cache.Poll(key); status.State == tilecache.Failed && errors.Is(status.Err, tilecache.ErrRetryBudget) {
		return nil, status.Err
	}
	v, err, shared := s.flight.Do(key.String(), func() (interface{}, error) {
		return s.Loader.Load(ctx, key)
	})
	if err != nil {
		// The shared load may have been cancelled by another subvolume.
		if shared && ctx.Err() == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return s.Loader.Load(ctx, key)
		}
		return nil, err
	}
	return v.(*voxels.Block), nil
}

// Subvolume is a voxel box at one octree depth.
type Subvolume struct {
	ext         horta.Extents3d
	layout      octree.Layout
	depth       int
	levelOrigin horta.Point3d

	// blocks overlapping ext, indexed by block coordinate relative to b0
	b0, nb horta.Point3d
	grid   []*voxels.Block

	gaps []octree.TileKey

	mu       sync.Mutex
	releases []func()
}

// New builds a subvolume over the box at the depth, using resident tiles where
// possible and loading the others in parallel.  Tiles that fail to load become gaps.
// An error is returned only if the context is done.
func New(ctx context.Context, layout octree.Layout, depth int, ext horta.Extents3d, src BlockSource) (*Subvolume, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if depth < 0 || depth > layout.MaxDepth {
		return nil, fmt.Errorf("depth %d is outside octree of depth %d", depth, layout.MaxDepth)
	}
	sv := &Subvolume{
		ext:         ext,
		layout:      layout,
		depth:       depth,
		levelOrigin: layout.LevelOrigin(depth),
	}
	clipped, overlaps := ext.Intersect(layout.Extents(depth))
	if !overlaps {
		horta.Warningf("Subvolume %s is outside the octree at depth %d\n", ext, depth)
		return sv, nil
	}
	sv.b0 = clipped.MinPoint.Sub(sv.levelOrigin).Chunk(layout.BlockSize)
	b1 := clipped.MaxPoint.Sub(sv.levelOrigin).Chunk(layout.BlockSize)
	sv.nb = b1.Sub(sv.b0).AddScalar(1)
	sv.grid = make([]*voxels.Block, sv.nb.Prod())

	var missing []octree.TileKey
	for _, key := range layout.KeysForExtents(ext, depth) {
		if block, release, ok := src.Resident(key); ok {
			sv.set(key, block)
			sv.releases = append(sv.releases, release)
		} else {
			missing = append(missing, key)
		}
	}

	timedLog := horta.NewTimeLog()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelLoads)
	for _, key := range missing {
		g.Go(func() error {
			block, err := src.Load(gctx, key)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				horta.Warningf("Tile %s unavailable for subvolume %s, leaving gap: %v\n", key, ext, err)
				sv.mu.Lock()
				sv.gaps = append(sv.gaps, key)
				sv.mu.Unlock()
				return nil
			}
			sv.mu.Lock()
			sv.set(key, block)
			sv.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sv.Release()
		return nil, err
	}
	if len(missing) != 0 {
		timedLog.Debugf("Subvolume %s: %d resident, %d loaded, %d gaps",
			ext, len(sv.releases), len(missing)-len(sv.gaps), len(sv.gaps))
	}
	return sv, nil
}

// FromBlock returns a subvolume over a single in-memory block whose minimum voxel is
// at origin.
func FromBlock(origin horta.Point3d, block *voxels.Block) *Subvolume {
	size := horta.Point3d{int32(block.Width), int32(block.Height), int32(block.Depth)}
	layout := octree.Layout{Origin: origin, BlockSize: size}
	return &Subvolume{
		ext:         horta.Extents3d{MinPoint: origin, MaxPoint: origin.Add(size).AddScalar(-1)},
		layout:      layout,
		levelOrigin: origin,
		nb:          horta.Point3d{1, 1, 1},
		grid:        []*voxels.Block{block},
	}
}

func (sv *Subvolume) set(key octree.TileKey, block *voxels.Block) {
	if i, ok := sv.gridIndex(octree.BlockIndex(key.Address)); ok {
		sv.grid[i] = block
	}
}

func (sv *Subvolume) gridIndex(b horta.Point3d) (int, bool) {
	r := b.Sub(sv.b0)
	for i := 0; i < 3; i++ {
		if r[i] < 0 || r[i] >= sv.nb[i] {
			return 0, false
		}
	}
	return int((r[2]*sv.nb[1]+r[1])*sv.nb[0] + r[0]), true
}

// Extents returns the subvolume's voxel box.
func (sv *Subvolume) Extents() horta.Extents3d {
	return sv.ext
}

// Depth returns the octree depth of the subvolume's voxels.
func (sv *Subvolume) Depth() int {
	return sv.depth
}

// Gaps returns the keys of tiles that could not be loaded.
func (sv *Subvolume) Gaps() []octree.TileKey {
	return sv.gaps
}

// Intensity returns the sample for channel c at voxel p, or voxels.NoData if p is
// outside the box or in a gap.
func (sv *Subvolume) Intensity(p horta.Point3d, c int) int32 {
	if !sv.ext.Contains(p) {
		return voxels.NoData
	}
	local := p.Sub(sv.levelOrigin)
	i, ok := sv.gridIndex(local.Chunk(sv.layout.BlockSize))
	if !ok {
		return voxels.NoData
	}
	block := sv.grid[i]
	if block == nil {
		return voxels.NoData
	}
	in := local.PointInChunk(sv.layout.BlockSize)
	return block.Intensity(int(in[0]), int(in[1]), int(in[2]), c)
}

// Stats describes the intensities of one channel.
type Stats struct {
	Count  int64
	Mean   float64
	StdDev float64
	Max    int32
}

// Stats computes intensity statistics of channel c over voxels that have data.
func (sv *Subvolume) Stats(c int) Stats {
	var s Stats
	var sum, sumSq float64
	minPt, maxPt := sv.ext.MinPoint, sv.ext.MaxPoint
	for z := minPt[2]; z <= maxPt[2]; z++ {
		for y := minPt[1]; y <= maxPt[1]; y++ {
			for x := minPt[0]; x <= maxPt[0]; x++ {
				v := sv.Intensity(horta.Point3d{x, y, z}, c)
				if v == voxels.NoData {
					continue
				}
				if s.Count == 0 || v > s.Max {
					s.Max = v
				}
				s.Count++
				f := float64(v)
				sum += f
				sumSq += f * f
			}
		}
	}
	if s.Count == 0 {
		return s
	}
	n := float64(s.Count)
	s.Mean = sum / n
	if variance := sumSq/n - s.Mean*s.Mean; variance > 0 {
		s.StdDev = math.Sqrt(variance)
	}
	return s
}

// Release drops the subvolume's read locks on cached tiles.  It may be called more
// than once.
func (sv *Subvolume) Release() {
	sv.mu.Lock()
	releases := sv.releases
	sv.releases = nil
	sv.mu.Unlock()
	for _, release := range releases {
		release()
	}
}
