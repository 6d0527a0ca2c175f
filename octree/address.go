/*
Package octree addresses the cubic regions of a volume that are stored as tiles.  Each
octree level halves the region along every axis, so an Address is the list of octant
choices made on the way down from the root.
*/
package octree

import (
	"fmt"
	"strings"
)

// NumOctants is the number of children of each octree node.
const NumOctants = 8

// Octant bits.  An octant index is the sum of the bits for the upper halves it lies in.
const (
	UpperX = 1
	UpperY = 2
	UpperZ = 4
)

// Address is an immutable sequence of octant indices in [0,8), one per octree level.
// The zero value is the root.  Addresses are comparable and can be used as map keys.
type Address struct {
	path string // one byte per level, each in '0'..'7'
}

// Root returns the address of the octree root.
func Root() Address {
	return Address{}
}

// NewAddress returns an address from a list of octant indices.
func NewAddress(octants ...int) (Address, error) {
	var a Address
	for _, o := range octants {
		var err error
		if a, err = a.Child(o); err != nil {
			return Address{}, err
		}
	}
	return a, nil
}

// ParseAddress parses a slash-separated path string such as "2/0/5".  The empty
// string is the root.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, nil
	}
	parts := strings.Split(s, "/")
	buf := make([]byte, len(parts))
	for i, part := range parts {
		if len(part) != 1 || part[0] < '0' || part[0] > '7' {
			return Address{}, fmt.Errorf("bad octant %q at level %d of octree path %q", part, i+1, s)
		}
		buf[i] = part[0]
	}
	return Address{string(buf)}, nil
}

// MustParseAddress is like ParseAddress but panics on error.  Use for constants in tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the slash-separated path, e.g., "2/0/5".
func (a Address) String() string {
	if len(a.path) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(2*len(a.path) - 1)
	for i := 0; i < len(a.path); i++ {
		if i != 0 {
			sb.WriteByte('/')
		}
		sb.WriteByte(a.path[i])
	}
	return sb.String()
}

// Depth returns the number of levels below the root.
func (a Address) Depth() int {
	return len(a.path)
}

// IsRoot returns true for the root address.
func (a Address) IsRoot() bool {
	return len(a.path) == 0
}

// Octant returns the octant index chosen at the given level, where level 1 is the
// first step below the root.
func (a Address) Octant(level int) int {
	return int(a.path[level-1] - '0')
}

// Octants returns a copy of the octant indices.
func (a Address) Octants() []int {
	octants := make([]int, len(a.path))
	for i := range octants {
		octants[i] = int(a.path[i] - '0')
	}
	return octants
}

// Child returns the address one level down in octant i.
func (a Address) Child(i int) (Address, error) {
	if i < 0 || i >= NumOctants {
		return Address{}, fmt.Errorf("octant %d is not in [0,%d)", i, NumOctants)
	}
	return Address{a.path + string(rune('0'+i))}, nil
}

// Parent returns the address one level up.  The root is its own parent.
func (a Address) Parent() Address {
	if len(a.path) == 0 {
		return a
	}
	return Address{a.path[:len(a.path)-1]}
}

// Contains returns true if b is a or lies below a.
func (a Address) Contains(b Address) bool {
	return strings.HasPrefix(b.path, a.path)
}
