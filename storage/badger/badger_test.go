package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
)

func TestStore(t *testing.T) {
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("can't open in-memory badger: %v\n", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := octree.NewTileKey(octree.MustParseAddress("4/2"), 1, "sample")
	if _, err := store.Fetch(ctx, key); !errors.Is(err, storage.ErrTileNotFound) {
		t.Errorf("expected not found in empty store, got %v\n", err)
	}
	if err := store.Put(key, []byte("some tile bytes")); err != nil {
		t.Fatalf("can't put: %v\n", err)
	}
	data, err := store.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("can't fetch: %v\n", err)
	}
	if string(data) != "some tile bytes" {
		t.Errorf("bad data %q\n", data)
	}
	other := octree.NewTileKey(octree.MustParseAddress("4/2"), 1, "other")
	if _, err := store.Fetch(ctx, other); !errors.Is(err, storage.ErrTileNotFound) {
		t.Errorf("source id should separate keys, got %v\n", err)
	}
}

func TestMirror(t *testing.T) {
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("can't open in-memory badger: %v\n", err)
	}
	defer store.Close()

	var fetches int
	primary := storage.TileSourceFunc(func(ctx context.Context, key octree.TileKey) ([]byte, error) {
		fetches++
		if key.Address.Depth() > 2 {
			return nil, storage.NotFoundError(key, fmt.Errorf("too deep"))
		}
		return []byte("primary " + key.String()), nil
	})
	mirror := NewMirror(primary, store)
	ctx := context.Background()
	key := octree.NewTileKey(octree.MustParseAddress("1/1"), 0, "s")
	for i := 0; i < 3; i++ {
		data, err := mirror.Fetch(ctx, key)
		if err != nil {
			t.Fatalf("mirror fetch: %v\n", err)
		}
		if string(data) != "primary s:0:1/1" {
			t.Errorf("bad data %q\n", data)
		}
	}
	if fetches != 1 {
		t.Errorf("expected one primary fetch, got %d\n", fetches)
	}
	if _, err := mirror.Fetch(ctx, octree.NewTileKey(octree.MustParseAddress("1/1/1"), 0, "s")); !errors.Is(err, storage.ErrTileNotFound) {
		t.Errorf("expected primary not found, got %v\n", err)
	}
}

func TestEngine(t *testing.T) {
	dir := t.TempDir()
	src, err := storage.NewSource("badger", storage.Config{"path": dir})
	if err != nil {
		t.Fatalf("can't create badger source: %v\n", err)
	}
	store := src.(*Store)
	defer store.Close()
	key := octree.NewTileKey(octree.Root(), 3, "s")
	if err := store.Put(key, []byte("root")); err != nil {
		t.Fatalf("can't put: %v\n", err)
	}
	if data, err := src.Fetch(context.Background(), key); err != nil || string(data) != "root" {
		t.Errorf("bad fetch %q: %v\n", data, err)
	}
}
