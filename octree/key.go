package octree

import (
	"fmt"
	"strconv"
	"strings"
)

// TileKey identifies one tile: a region of the octree at a resolution level in a
// particular data source.  TileKeys are comparable and can be used as map keys.
type TileKey struct {
	Address    Address
	Resolution int // 0 is the finest resolution
	SourceID   string
}

// NewTileKey returns a TileKey.
func NewTileKey(addr Address, resolution int, sourceID string) TileKey {
	return TileKey{Address: addr, Resolution: resolution, SourceID: sourceID}
}

// String returns "<source>:<resolution>:<path>", the form accepted by ParseTileKey.
func (k TileKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.SourceID, k.Resolution, k.Address)
}

// ParseTileKey parses the output of TileKey.String.
func ParseTileKey(s string) (TileKey, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return TileKey{}, fmt.Errorf("bad tile key %q", s)
	}
	j := strings.LastIndex(s[:i], ":")
	if j < 0 {
		return TileKey{}, fmt.Errorf("bad tile key %q", s)
	}
	res, err := strconv.Atoi(s[j+1 : i])
	if err != nil {
		return TileKey{}, fmt.Errorf("bad resolution in tile key %q: %v", s, err)
	}
	addr, err := ParseAddress(s[i+1:])
	if err != nil {
		return TileKey{}, err
	}
	return TileKey{Address: addr, Resolution: res, SourceID: s[:j]}, nil
}
