package octree

import (
	"fmt"
	"math"
	"sort"

	"github.com/janelia-flyem/horta/horta"
)

// Layout describes how an octree of tiles covers voxel space.  Every tile holds
// BlockSize voxels regardless of depth; a tile at depth d samples the volume at
// 2^(MaxDepth-d) times the spacing of the full-resolution tiles at MaxDepth.
// Voxel coordinates passed to Layout methods are in the voxel space of the requested
// depth.
type Layout struct {
	Origin    horta.Point3d // full-resolution voxel coordinate of the root's minimum corner
	BlockSize horta.Point3d
	MaxDepth  int
	SourceID  string
}

// Validate checks the layout for usable settings.
func (l Layout) Validate() error {
	for i := 0; i < 3; i++ {
		if l.BlockSize[i] <= 0 {
			return fmt.Errorf("block size %s must be positive along every axis", l.BlockSize)
		}
	}
	if l.MaxDepth < 0 || l.MaxDepth > 20 {
		return fmt.Errorf("octree depth %d is not in [0,20]", l.MaxDepth)
	}
	return nil
}

// Resolution returns the resolution level of tiles at the given depth.  Full
// resolution tiles are at level 0.
func (l Layout) Resolution(depth int) int {
	return l.MaxDepth - depth
}

// Scale returns the number of full-resolution voxels spanned by one voxel at the depth.
func (l Layout) Scale(depth int) int32 {
	return int32(1) << uint(l.MaxDepth-depth)
}

// LevelOrigin returns the root's minimum corner in the voxel space of the depth.
func (l Layout) LevelOrigin(depth int) horta.Point3d {
	s := l.Scale(depth)
	return l.Origin.Chunk(horta.Point3d{s, s, s})
}

// Extents returns the voxel box covered by the whole octree at the depth.
func (l Layout) Extents(depth int) horta.Extents3d {
	n := int32(1) << uint(depth)
	minPt := l.LevelOrigin(depth)
	span := l.BlockSize.Mult(horta.Point3d{n, n, n})
	return horta.Extents3d{MinPoint: minPt, MaxPoint: minPt.Add(span).AddScalar(-1)}
}

// Key returns the TileKey for an address in this layout.
func (l Layout) Key(addr Address) TileKey {
	return TileKey{Address: addr, Resolution: l.Resolution(addr.Depth()), SourceID: l.SourceID}
}

// BlockIndex returns the block coordinate of the address among the 2^depth blocks
// along each axis at its depth.
func BlockIndex(addr Address) horta.Point3d {
	var b horta.Point3d
	for level := 1; level <= addr.Depth(); level++ {
		o := int32(addr.Octant(level))
		b[0] = b[0]<<1 | (o & UpperX)
		b[1] = b[1]<<1 | (o&UpperY)>>1
		b[2] = b[2]<<1 | (o&UpperZ)>>2
	}
	return b
}

// AddressFromIndex is the inverse of BlockIndex.
func AddressFromIndex(b horta.Point3d, depth int) Address {
	buf := make([]byte, depth)
	for level := 1; level <= depth; level++ {
		bit := uint(depth - level)
		o := (b[0]>>bit)&1 | ((b[1]>>bit)&1)<<1 | ((b[2]>>bit)&1)<<2
		buf[level-1] = byte('0' + o)
	}
	return Address{string(buf)}
}

// KeyAt returns the key of the tile at the depth containing voxel p, or false if p
// is outside the octree.
func (l Layout) KeyAt(p horta.Point3d, depth int) (TileKey, bool) {
	if !l.Extents(depth).Contains(p) {
		return TileKey{}, false
	}
	b := p.Sub(l.LevelOrigin(depth)).Chunk(l.BlockSize)
	return l.Key(AddressFromIndex(b, depth)), true
}

// BlockOrigin returns the minimum voxel of the tile in the voxel space of its depth.
func (l Layout) BlockOrigin(key TileKey) horta.Point3d {
	depth := key.Address.Depth()
	return l.LevelOrigin(depth).Add(BlockIndex(key.Address).Mult(l.BlockSize))
}

// BlockExtents returns the voxel box covered by the tile.
func (l Layout) BlockExtents(key TileKey) horta.Extents3d {
	minPt := l.BlockOrigin(key)
	return horta.Extents3d{MinPoint: minPt, MaxPoint: minPt.Add(l.BlockSize).AddScalar(-1)}
}

// KeysForExtents returns the keys of all tiles at the depth overlapping the box,
// ordered by z, then y, then x block coordinate.
func (l Layout) KeysForExtents(ext horta.Extents3d, depth int) []TileKey {
	clipped, ok := ext.Intersect(l.Extents(depth))
	if !ok {
		return nil
	}
	levelOrigin := l.LevelOrigin(depth)
	b0 := clipped.MinPoint.Sub(levelOrigin).Chunk(l.BlockSize)
	b1 := clipped.MaxPoint.Sub(levelOrigin).Chunk(l.BlockSize)
	keys := make([]TileKey, 0, horta.NewExtents(b0, b1).NumVoxels())
	for z := b0[2]; z <= b1[2]; z++ {
		for y := b0[1]; y <= b1[1]; y++ {
			for x := b0[0]; x <= b1[0]; x++ {
				keys = append(keys, l.Key(AddressFromIndex(horta.Point3d{x, y, z}, depth)))
			}
		}
	}
	return keys
}

// ClosestKeys returns up to n keys at the depth whose tile centers are nearest the
// voxel p, nearest first.  Ties are broken by address.
func (l Layout) ClosestKeys(p horta.Point3d, depth, n int) []TileKey {
	if n <= 0 {
		return nil
	}
	perAxis := int32(1) << uint(depth)
	levelOrigin := l.LevelOrigin(depth)
	center := l.Extents(depth)
	clamped := p.Max(center.MinPoint).Min(center.MaxPoint)
	b := clamped.Sub(levelOrigin).Chunk(l.BlockSize)

	// Grow a cube of blocks around p's block until it holds at least n blocks, then
	// one more ring so that blocks just outside the cube can compete on distance.
	var radius int32
	for side := int64(1); side*side*side < int64(n) && radius < perAxis; side = int64(2*radius + 1) {
		radius++
	}
	radius++

	type candidate struct {
		key  TileKey
		dist float64
	}
	var candidates []candidate
	for z := b[2] - radius; z <= b[2]+radius; z++ {
		for y := b[1] - radius; y <= b[1]+radius; y++ {
			for x := b[0] - radius; x <= b[0]+radius; x++ {
				if x < 0 || y < 0 || z < 0 || x >= perAxis || y >= perAxis || z >= perAxis {
					continue
				}
				idx := horta.Point3d{x, y, z}
				var dist2 float64
				for i := 0; i < 3; i++ {
					c := float64(levelOrigin[i]) + (float64(idx[i])+0.5)*float64(l.BlockSize[i])
					d := c - float64(p[i])
					dist2 += d * d
				}
				candidates = append(candidates, candidate{
					key:  l.Key(AddressFromIndex(idx, depth)),
					dist: math.Sqrt(dist2),
				})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].key.Address.path < candidates[j].key.Address.path
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	keys := make([]TileKey, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}
