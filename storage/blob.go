package storage

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
)

func init() {
	RegisterEngine(blobEngine{newBaseEngine("blob", "Octree tiles in a cloud bucket (gs://, file://, mem://)", "0.1.0")})
}

type blobEngine struct {
	baseEngine
}

// NewSource returns a blob source.  The config must contain a "path" bucket URL and may
// contain a "prefix" within the bucket.
func (e blobEngine) NewSource(config Config) (TileSource, error) {
	url, found, err := config.GetString("path")
	if err != nil {
		return nil, err
	}
	if !found || url == "" {
		return nil, fmt.Errorf("%q bucket URL must be specified for blob configuration", "path")
	}
	prefix, _, err := config.GetString("prefix")
	if err != nil {
		return nil, err
	}
	return OpenBlobSource(context.Background(), url, prefix)
}

// BlobSource reads tiles from a gocloud bucket.
type BlobSource struct {
	bucket *blob.Bucket
	prefix string
}

// OpenBlobSource opens the bucket at the URL.
func OpenBlobSource(ctx context.Context, url, prefix string) (*BlobSource, error) {
	horta.Infof("Trying to open tile bucket @ %q ...\n", url)
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cannot open tile bucket %q: %v", url, err)
	}
	return NewBlobSource(bucket, prefix), nil
}

// NewBlobSource returns a source reading tiles below the prefix of an open bucket.
func NewBlobSource(bucket *blob.Bucket, prefix string) *BlobSource {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobSource{bucket: bucket, prefix: prefix}
}

func (b *BlobSource) blobKey(key octree.TileKey) string {
	return b.prefix + TilePath(key.Address)
}

// Fetch implements TileSource.
func (b *BlobSource) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, b.blobKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, NotFoundError(key, err)
		}
		return nil, TransportError(key, err)
	}
	return data, nil
}

// Put writes a tile to the bucket.
func (b *BlobSource) Put(ctx context.Context, key octree.TileKey, data []byte) error {
	return b.bucket.WriteAll(ctx, b.blobKey(key), data, nil)
}

// Close closes the bucket.
func (b *BlobSource) Close() error {
	return b.bucket.Close()
}
