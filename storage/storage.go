/*
Package storage provides the byte-level sources that tiles are fetched from.  A number of
engines can serve tiles (local directories, cloud buckets, a local badger mirror) and
sources can be stacked so that in-memory or shared caches sit in front of slow ones.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/horta/octree"
)

// BlockName is the file name of a tile within its octree directory.
const BlockName = "block_8_xy_.ktx"

var (
	// ErrTransport is wrapped by every error returned from a TileSource fetch.
	ErrTransport = errors.New("tile transport error")

	// ErrTileNotFound is additionally wrapped when the source has no such tile.
	ErrTileNotFound = errors.New("tile not found")
)

// TileSource returns the raw bytes of a tile.
type TileSource interface {
	Fetch(ctx context.Context, key octree.TileKey) ([]byte, error)
}

// TileSourceFunc adapts a function to the TileSource interface.
type TileSourceFunc func(ctx context.Context, key octree.TileKey) ([]byte, error)

func (f TileSourceFunc) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	return f(ctx, key)
}

// FetchError describes a failed fetch.  It matches ErrTransport, and ErrTileNotFound if
// the tile was missing, via errors.Is.
type FetchError struct {
	Key      octree.TileKey
	NotFound bool
	Err      error
}

func (e *FetchError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("tile %s not found: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("error fetching tile %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrTransport || (e.NotFound && target == ErrTileNotFound)
}

// TransportError wraps an error from fetching a tile.  Errors that already
// describe a failed fetch are returned unchanged.
func TransportError(key octree.TileKey, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Key: key, Err: err}
}

// NotFoundError returns an error for a missing tile.
func NotFoundError(key octree.TileKey, err error) error {
	return &FetchError{Key: key, NotFound: true, Err: err}
}

// TilePath returns the slash-separated location of a tile relative to the root of a
// tile tree.  Octree directories are named 1 through 8, one more than the octant.
func TilePath(addr octree.Address) string {
	var sb strings.Builder
	for _, o := range addr.Octants() {
		sb.WriteString(strconv.Itoa(o + 1))
		sb.WriteByte('/')
	}
	sb.WriteString(BlockName)
	return sb.String()
}
