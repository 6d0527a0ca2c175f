package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
)

func init() {
	RegisterEngine(fileEngine{newBaseEngine("filestore", "Octree tile directory on a local or mounted file system", "0.2.0")})
}

type fileEngine struct {
	baseEngine
}

// NewSource returns a file source.  The config must contain a "path" setting.
func (e fileEngine) NewSource(config Config) (TileSource, error) {
	path, found, err := config.GetString("path")
	if err != nil {
		return nil, err
	}
	if !found || path == "" {
		return nil, fmt.Errorf("%q must be specified for filestore configuration", "path")
	}
	return NewFileSource(path)
}

// FileSource reads tiles from a directory tree.  A tile may also be stored compressed
// with a ".zst" or ".gz" suffix.
type FileSource struct {
	root string
}

// NewFileSource returns a source rooted at the directory.
func NewFileSource(root string) (*FileSource, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot open tile directory: %v", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("tile path %q is not a directory", root)
	}
	horta.Infof("Serving tiles from directory %q\n", root)
	return &FileSource{root: root}, nil
}

var fileVariants = []struct {
	suffix   string
	compress horta.Compression
}{
	{"", horta.Uncompressed},
	{".zst", horta.Zstd},
	{".gz", horta.Gzip},
}

// Fetch implements TileSource.
func (src *FileSource) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, TransportError(key, err)
	}
	base := filepath.Join(src.root, filepath.FromSlash(TilePath(key.Address)))
	for _, v := range fileVariants {
		data, err := os.ReadFile(base + v.suffix)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, TransportError(key, err)
		}
		if data, err = horta.Uncompress(data, v.compress); err != nil {
			return nil, TransportError(key, fmt.Errorf("bad compressed tile %s%s: %v", base, v.suffix, err))
		}
		return data, nil
	}
	return nil, NotFoundError(key, fmt.Errorf("no file at %s", base))
}
