package horta

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point3d is an ordered list of three 32-bit signed integers giving a voxel coordinate.
type Point3d [3]int32

// ParsePoint3d parses a string of the form "x,y,z".
func ParsePoint3d(s string) (Point3d, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Point3d{}, fmt.Errorf("point %q does not have three comma-separated elements", s)
	}
	var p Point3d
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return Point3d{}, fmt.Errorf("bad element %d of point %q: %v", i, s, err)
		}
		p[i] = int32(v)
	}
	return p, nil
}

// AddScalar adds a scalar value to each element of this point.
func (p Point3d) AddScalar(value int32) Point3d {
	return Point3d{p[0] + value, p[1] + value, p[2] + value}
}

// Add returns the addition of two points.
func (p Point3d) Add(p2 Point3d) Point3d {
	return Point3d{p[0] + p2[0], p[1] + p2[1], p[2] + p2[2]}
}

// Sub returns the subtraction of the passed point from the receiver.
func (p Point3d) Sub(p2 Point3d) Point3d {
	return Point3d{p[0] - p2[0], p[1] - p2[1], p[2] - p2[2]}
}

// Mult returns the element-wise multiplication of the receiver by the passed point.
func (p Point3d) Mult(p2 Point3d) Point3d {
	return Point3d{p[0] * p2[0], p[1] * p2[1], p[2] * p2[2]}
}

// Max returns a Point3d where each of its elements are the maximum of two points' elements.
func (p Point3d) Max(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] > result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// Min returns a Point3d where each of its elements are the minimum of two points' elements.
func (p Point3d) Min(p2 Point3d) Point3d {
	result := p
	for i := 0; i < 3; i++ {
		if p2[i] < result[i] {
			result[i] = p2[i]
		}
	}
	return result
}

// Distance returns the Euclidean distance between two points.
func (p Point3d) Distance(p2 Point3d) float64 {
	dx := float64(p[0] - p2[0])
	dy := float64(p[1] - p2[1])
	dz := float64(p[2] - p2[2])
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Prod returns the product of the elements.
func (p Point3d) Prod() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// Chunk returns the block coordinate of the block of given size containing the point.
// Negative coordinates round toward negative infinity.
func (p Point3d) Chunk(size Point3d) Point3d {
	var c Point3d
	for i := 0; i < 3; i++ {
		if p[i] < 0 {
			c[i] = (p[i] - size[i] + 1) / size[i]
		} else {
			c[i] = p[i] / size[i]
		}
	}
	return c
}

// PointInChunk returns the block-local coordinate of the point for blocks of the given size.
func (p Point3d) PointInChunk(size Point3d) Point3d {
	var c Point3d
	for i := 0; i < 3; i++ {
		c[i] = p[i] % size[i]
		if c[i] < 0 {
			c[i] += size[i]
		}
	}
	return c
}
