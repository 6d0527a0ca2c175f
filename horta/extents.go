package horta

import "fmt"

// Extents3d is an axis-aligned voxel box.  Both corners are inclusive.
type Extents3d struct {
	MinPoint Point3d
	MaxPoint Point3d
}

// NewExtents returns the smallest box containing both points.
func NewExtents(a, b Point3d) Extents3d {
	return Extents3d{MinPoint: a.Min(b), MaxPoint: a.Max(b)}
}

// Pad returns the box expanded by n voxels on every side of every axis.
func (ext Extents3d) Pad(n int32) Extents3d {
	return Extents3d{
		MinPoint: ext.MinPoint.AddScalar(-n),
		MaxPoint: ext.MaxPoint.AddScalar(n),
	}
}

// Size returns the number of voxels along each axis.
func (ext Extents3d) Size() Point3d {
	return ext.MaxPoint.Sub(ext.MinPoint).AddScalar(1)
}

// NumVoxels returns the number of voxels in the box.
func (ext Extents3d) NumVoxels() int64 {
	return ext.Size().Prod()
}

// Contains returns true if the point is within the box.
func (ext Extents3d) Contains(p Point3d) bool {
	for i := 0; i < 3; i++ {
		if p[i] < ext.MinPoint[i] || p[i] > ext.MaxPoint[i] {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of two boxes and false if they don't overlap.
func (ext Extents3d) Intersect(ext2 Extents3d) (Extents3d, bool) {
	result := Extents3d{
		MinPoint: ext.MinPoint.Max(ext2.MinPoint),
		MaxPoint: ext.MaxPoint.Min(ext2.MaxPoint),
	}
	for i := 0; i < 3; i++ {
		if result.MinPoint[i] > result.MaxPoint[i] {
			return Extents3d{}, false
		}
	}
	return result, true
}

func (ext Extents3d) String() string {
	return fmt.Sprintf("%s -> %s", ext.MinPoint, ext.MaxPoint)
}
