package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
)

func testKey(path string) octree.TileKey {
	return octree.NewTileKey(octree.MustParseAddress(path), 0, "test")
}

func TestTilePath(t *testing.T) {
	tests := map[string]string{
		"":      "block_8_xy_.ktx",
		"0":     "1/block_8_xy_.ktx",
		"2/0/7": "3/1/8/block_8_xy_.ktx",
	}
	for addr, expected := range tests {
		if got := TilePath(octree.MustParseAddress(addr)); got != expected {
			t.Errorf("address %q: expected %q, got %q\n", addr, expected, got)
		}
	}
}

func TestFetchError(t *testing.T) {
	key := testKey("1")
	err := NotFoundError(key, fmt.Errorf("gone"))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrTileNotFound) {
		t.Errorf("not found error should match both sentinels: %v\n", err)
	}
	err = TransportError(key, context.Canceled)
	if !errors.Is(err, ErrTransport) || errors.Is(err, ErrTileNotFound) {
		t.Errorf("transport error matched wrong sentinels: %v\n", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("transport error should unwrap to cause\n")
	}
	if again := TransportError(key, err); again != err {
		t.Errorf("expected fetch errors to pass through unchanged\n")
	}
}

func writeTile(t *testing.T, root, addr, suffix string, data []byte) {
	path := filepath.Join(root, filepath.FromSlash(TilePath(octree.MustParseAddress(addr)))) + suffix
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("can't make tile dir: %v\n", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("can't write tile: %v\n", err)
	}
}

func TestFileSource(t *testing.T) {
	root := t.TempDir()
	plain := []byte("plain tile")
	writeTile(t, root, "", "", plain)

	zst, _ := horta.Compress([]byte("zstd tile"), horta.Zstd)
	writeTile(t, root, "1", ".zst", zst)
	gz, _ := horta.Compress([]byte("gzip tile"), horta.Gzip)
	writeTile(t, root, "1/2", ".gz", gz)

	src, err := NewSource("filestore", Config{"path": root})
	if err != nil {
		t.Fatalf("can't create file source: %v\n", err)
	}
	ctx := context.Background()
	expected := map[string]string{"": "plain tile", "1": "zstd tile", "1/2": "gzip tile"}
	for addr, content := range expected {
		data, err := src.Fetch(ctx, testKey(addr))
		if err != nil {
			t.Fatalf("error fetching %q: %v\n", addr, err)
		}
		if string(data) != content {
			t.Errorf("tile %q: expected %q, got %q\n", addr, content, data)
		}
	}
	if _, err := src.Fetch(ctx, testKey("7")); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected not found error, got %v\n", err)
	}
	if _, err := NewSource("filestore", Config{}); err == nil {
		t.Errorf("expected error for missing path\n")
	}
	if _, err := NewFileSource(filepath.Join(root, "nonexistent")); err == nil {
		t.Errorf("expected error for missing directory\n")
	}
}

func TestBlobSource(t *testing.T) {
	ctx := context.Background()
	src := NewBlobSource(memblob.OpenBucket(nil), "sample/ktx")
	defer src.Close()
	key := testKey("3/3")
	if err := src.Put(ctx, key, []byte("tile 33")); err != nil {
		t.Fatalf("can't put tile: %v\n", err)
	}
	data, err := src.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("can't fetch tile: %v\n", err)
	}
	if string(data) != "tile 33" {
		t.Errorf("bad tile data %q\n", data)
	}
	if _, err := src.Fetch(ctx, testKey("3")); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected not found, got %v\n", err)
	}

	viaEngine, err := NewSource("blob", Config{"path": "mem://"})
	if err != nil {
		t.Fatalf("can't open mem:// bucket through engine: %v\n", err)
	}
	if _, err := viaEngine.Fetch(ctx, key); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected empty bucket, got %v\n", err)
	}
}

type countingSource struct {
	fetches int32
}

func (c *countingSource) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	atomic.AddInt32(&c.fetches, 1)
	if key.Address.String() == "7" {
		return nil, NotFoundError(key, fmt.Errorf("no tile"))
	}
	return bytes.Repeat([]byte(key.String()), 100), nil
}

func TestCachedSource(t *testing.T) {
	primary := &countingSource{}
	cached := NewCachedSource(primary, 1*horta.Mega)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		for _, addr := range []string{"1", "2"} {
			data, err := cached.Fetch(ctx, testKey(addr))
			if err != nil {
				t.Fatalf("fetch error: %v\n", err)
			}
			if !bytes.Equal(data, bytes.Repeat([]byte(testKey(addr).String()), 100)) {
				t.Errorf("bad cached data for %s\n", addr)
			}
		}
	}
	if primary.fetches != 2 {
		t.Errorf("expected 2 primary fetches, got %d\n", primary.fetches)
	}
	if _, err := cached.Fetch(ctx, testKey("7")); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected primary error to pass through, got %v\n", err)
	}
	stats := cached.Stats()
	if stats.Entries != 2 || stats.Hits != 4 {
		t.Errorf("bad cache stats %+v\n", stats)
	}
}

func TestGroupcacheSource(t *testing.T) {
	primary := &countingSource{}
	gc := NewGroupcacheSource("test-tiles", primary, 4*horta.Mega)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		data, err := gc.Fetch(ctx, testKey("5/5"))
		if err != nil {
			t.Fatalf("fetch error: %v\n", err)
		}
		if len(data) == 0 {
			t.Errorf("expected tile data\n")
		}
	}
	if primary.fetches != 1 {
		t.Errorf("expected 1 primary fetch, got %d\n", primary.fetches)
	}
	if _, err := gc.Fetch(ctx, testKey("7")); !errors.Is(err, ErrTileNotFound) {
		t.Errorf("expected not found through groupcache, got %v\n", err)
	}
}

func TestEngines(t *testing.T) {
	for _, name := range []string{"filestore", "blob"} {
		e, err := GetEngine(name)
		if err != nil {
			t.Fatalf("engine %s not registered: %v\n", name, err)
		}
		if e.GetSemVer().Major != 0 || e.GetDescription() == "" {
			t.Errorf("bad engine %s\n", e)
		}
	}
	if _, err := GetEngine("leveldb"); err == nil {
		t.Errorf("expected error for unknown engine\n")
	}
}
