/*
Package badger implements a local tile store on BadgerDB.  It is used as a persistent
mirror so tiles fetched once from a slow remote source are served locally afterward.
*/
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
)

// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
// at cost of speed.
const DefaultSyncWrites = false

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		horta.Errorf("Unable to make semver in badger: %v\n", err)
	}
	storage.RegisterEngine(Engine{"badger", "BadgerDB tile mirror", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewSource returns a store serving only tiles already written to it.  The config must
// contain a "path" directory.
func (e Engine) NewSource(config storage.Config) (storage.TileSource, error) {
	path, found, err := config.GetString("path")
	if err != nil {
		return nil, err
	}
	if !found || path == "" {
		return nil, fmt.Errorf("%q must be specified for badger configuration", "path")
	}
	return Open(path)
}

// Store holds serialized tiles keyed by TileKey.
type Store struct {
	db        *badger.DB
	directory string
}

// Open returns a store at the directory, creating it if necessary.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		horta.Infof("Tile mirror not already at path (%s). Creating directory...\n", path)
		if err := os.MkdirAll(path, 0744); err != nil {
			return nil, fmt.Errorf("can't make directory at %s: %v", path, err)
		}
	}
	opts := badger.DefaultOptions(path).WithLogger(nil).WithSyncWrites(DefaultSyncWrites).WithNumVersionsToKeep(1)
	return open(opts, path)
}

// OpenInMemory returns a store that is discarded when closed.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts, "")
}

func open(opts badger.Options, path string) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open badger tile store @ %q: %v", path, err)
	}
	return &Store{db: db, directory: path}, nil
}

func dbKey(key octree.TileKey) []byte {
	return []byte(key.String())
}

// Put stores a tile, compressed with zstd and checksummed.
func (s *Store) Put(key octree.TileKey, data []byte) error {
	v, err := horta.SerializeData(data, horta.Zstd, horta.CRC32)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(key), v)
	})
}

// Fetch implements storage.TileSource.
func (s *Store) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.TransportError(key, err)
	}
	var v []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		v, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.NotFoundError(key, err)
	}
	if err != nil {
		return nil, storage.TransportError(key, err)
	}
	data, _, err := horta.DeserializeData(v, true)
	if err != nil {
		return nil, storage.TransportError(key, err)
	}
	return data, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.directory != "" {
		horta.Infof("Closing tile mirror @ %s\n", s.directory)
	}
	return s.db.Close()
}

// Mirror serves tiles from a local store, fetching missing tiles from a primary source
// and writing them through to the store.
type Mirror struct {
	primary storage.TileSource
	store   *Store
}

// NewMirror returns a mirroring source.
func NewMirror(primary storage.TileSource, store *Store) *Mirror {
	return &Mirror{primary: primary, store: store}
}

// Fetch implements storage.TileSource.
func (m *Mirror) Fetch(ctx context.Context, key octree.TileKey) ([]byte, error) {
	data, err := m.store.Fetch(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrTileNotFound) {
		horta.Warningf("tile mirror read of %s failed, using primary: %v\n", key, err)
	}
	if data, err = m.primary.Fetch(ctx, key); err != nil {
		return nil, err
	}
	if err := m.store.Put(key, data); err != nil {
		horta.Errorf("unable to mirror tile %s: %v\n", key, err)
	}
	return data, nil
}
