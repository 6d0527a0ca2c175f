/*
Package tilecache keeps decoded tiles in memory for the tiles currently needed by
viewers and tracers.

Callers mark tiles as desired with Request or Reconcile and read them with Poll or
Acquire, none of which wait on I/O.  A fixed pool of workers performs all loads, and at
most one load per tile is in flight at any time.  Each Reconcile starts a new
generation; tiles not desired in the newest generation are evicted unless a reader
holds them.
*/
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/voxels"
)

const (
	DefaultWorkers = 4
	DefaultRetries = 3
)

var (
	// ErrCacheExhausted is the failure of a load that could not fit under the
	// cache's byte ceiling even after evicting unneeded tiles.
	ErrCacheExhausted = errors.New("tile cache exhausted")

	// ErrRetryBudget is wrapped by the failure of a tile that has failed to load
	// more times than allowed.  Such tiles are not loaded again until evicted.
	ErrRetryBudget = errors.New("tile retry budget exceeded")

	// ErrClosed is the failure of loads outstanding when the cache is closed.
	ErrClosed = errors.New("tile cache closed")
)

// State is the load state of a cache entry.
type State uint8

const (
	Absent State = iota // never requested or evicted
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state %d", s)
	}
}

// Status is a snapshot of a cache entry.
type Status struct {
	State State
	Block *voxels.Block // set if Ready
	Err   error         // set if Failed
}

// Config sets the cache's resource limits.
type Config struct {
	Workers  int    // size of the load worker pool
	MaxBytes uint64 // ceiling on decoded tile bytes; 0 is unbounded
	Retries  int    // loads allowed after the first failure of a tile
}

type entry struct {
	state      State
	block      *voxels.Block
	err        error
	generation uint64 // last generation in which the tile was desired
	readers    int
	failures   int
	exhausted  bool // failed beyond the retry budget
	stale      bool // evict when the last reader releases
	abandoned  bool // pending load no longer desired
	loading    bool
	cancel     context.CancelFunc
	done       chan struct{} // closed when the entry leaves Pending
}

// Cache is a bounded, concurrent map from tile keys to decoded blocks.
type Cache struct {
	loader Loader
	config Config

	mu         sync.RWMutex
	cond       *sync.Cond // signals workers, uses mu
	entries    map[octree.TileKey]*entry
	queue      []octree.TileKey
	generation uint64
	bytes      uint64
	closed     bool
	counts     counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type counters struct {
	loads     uint64
	failures  uint64
	evictions uint64
	hits      uint64
}

// New returns a cache with a running worker pool.  Close must be called to stop it.
func New(loader Loader, config Config) *Cache {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	c := &Cache{
		loader:  loader,
		config:  config,
		entries: make(map[octree.TileKey]*entry),
	}
	c.cond = sync.NewCond(&c.mu)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go c.worker()
	}
	maxBytes := "unbounded"
	if config.MaxBytes != 0 {
		maxBytes = horta.ByteCount(config.MaxBytes)
	}
	horta.Infof("Started tile cache with %d load workers, %s ceiling, %d retries\n",
		config.Workers, maxBytes, config.Retries)
	return c
}

// Handle refers to a requested tile.
type Handle struct {
	key octree.TileKey
	c   *Cache
}

// Key returns the requested tile's key.
func (h Handle) Key() octree.TileKey {
	return h.key
}

// Poll returns the tile's current status without blocking.
func (h Handle) Poll() Status {
	return h.c.Poll(h.key)
}

// Wait blocks until the tile leaves Pending or the context is done.
func (h Handle) Wait(ctx context.Context) (Status, error) {
	return h.c.Wait(ctx, h.key)
}

// Request marks the tile as desired in the current generation and schedules a load if
// it is absent, or failed but still within its retry budget.  It never blocks.
func (c *Cache) Request(key octree.TileKey) Handle {
	c.mu.Lock()
	c.requestLocked(key)
	c.mu.Unlock()
	return Handle{key: key, c: c}
}

func (c *Cache) requestLocked(key octree.TileKey) {
	if c.closed {
		return
	}
	e, found := c.entries[key]
	if !found {
		e = &entry{state: Pending, done: make(chan struct{})}
		c.entries[key] = e
		c.enqueueLocked(key)
	} else {
		switch e.state {
		case Pending:
			e.abandoned = false
		case Failed:
			if !e.exhausted {
				e.state, e.err = Pending, nil
				e.done = make(chan struct{})
				c.enqueueLocked(key)
			}
		}
	}
	e.generation = c.generation
	e.stale = false
}

func (c *Cache) enqueueLocked(key octree.TileKey) {
	c.queue = append(c.queue, key)
	c.cond.Signal()
}

// Poll returns the tile's current status without blocking.
func (c *Cache) Poll(key octree.TileKey) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[key]
	if !found {
		return Status{State: Absent}
	}
	return Status{State: e.state, Block: e.block, Err: e.err}
}

// Wait blocks until the tile is no longer Pending or the context is done.
func (c *Cache) Wait(ctx context.Context, key octree.TileKey) (Status, error) {
	for {
		c.mu.RLock()
		e, found := c.entries[key]
		if !found || e.state != Pending {
			c.mu.RUnlock()
			return c.Poll(key), nil
		}
		done := e.done
		c.mu.RUnlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Status{State: Pending}, ctx.Err()
		}
	}
}

// Acquire read-locks a Ready tile so it cannot be evicted until release is called.
// It returns false if the tile is not Ready.
func (c *Cache) Acquire(key octree.TileKey) (block *voxels.Block, release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || e.state != Ready {
		return nil, nil, false
	}
	e.readers++
	c.counts.hits++
	var once sync.Once
	release = func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.readers--
			if e.readers == 0 && e.stale && c.entries[key] == e {
				c.evictLocked(key, e)
			}
		})
	}
	return e.block, release, true
}

// Reconcile makes keys the complete desired set.  It starts a new generation, requests
// every desired tile, and evicts every Ready or Failed tile not desired in the new
// generation unless it is read-locked.  Read-locked tiles are evicted when released.
// Pending loads that are no longer desired are cancelled and discarded.  It returns
// the number of evicted tiles.
func (c *Cache) Reconcile(keys []octree.TileKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	gen := c.generation
	for _, key := range keys {
		c.requestLocked(key)
	}
	var evicted int
	for key, e := range c.entries {
		if e.generation == gen {
			continue
		}
		switch {
		case e.state == Pending:
			e.abandoned = true
			if e.cancel != nil {
				e.cancel()
			}
		case e.readers > 0:
			e.stale = true
		default:
			c.evictLocked(key, e)
			evicted++
		}
	}
	if evicted != 0 {
		horta.Debugf("Tile cache generation %d: %d desired, %d evicted, %d resident\n",
			gen, len(keys), evicted, len(c.entries))
	}
	return evicted
}

// UpdateFocus reconciles the cache to the n tiles at the depth nearest a voxel.
func (c *Cache) UpdateFocus(layout octree.Layout, p horta.Point3d, depth, n int) []octree.TileKey {
	keys := layout.ClosestKeys(p, depth, n)
	c.Reconcile(keys)
	return keys
}

func (c *Cache) evictLocked(key octree.TileKey, e *entry) {
	if e.block != nil {
		c.bytes -= e.block.NumBytes()
	}
	delete(c.entries, key)
	c.counts.evictions++
}

// makeRoomLocked evicts unlocked tiles from older generations, oldest first, until
// numBytes more fit under the ceiling.
func (c *Cache) makeRoomLocked(numBytes uint64) bool {
	if c.config.MaxBytes == 0 || c.bytes+numBytes <= c.config.MaxBytes {
		return true
	}
	for c.bytes+numBytes > c.config.MaxBytes {
		var oldestKey octree.TileKey
		var oldest *entry
		for key, e := range c.entries {
			if e.state == Pending || e.readers > 0 || e.generation >= c.generation {
				continue
			}
			if oldest == nil || e.generation < oldest.generation {
				oldestKey, oldest = key, e
			}
		}
		if oldest == nil {
			return false
		}
		c.evictLocked(oldestKey, oldest)
	}
	return true
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		key := c.queue[0]
		c.queue = c.queue[1:]
		e := c.entries[key]
		if e == nil || e.state != Pending || e.loading {
			c.mu.Unlock()
			continue
		}
		if e.abandoned {
			delete(c.entries, key)
			close(e.done)
			c.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(c.ctx)
		e.loading, e.cancel = true, cancel
		c.counts.loads++
		c.mu.Unlock()

		timedLog := horta.NewTimeLog()
		block, err := c.loader.Load(ctx, key)
		cancelled := ctx.Err() != nil
		cancel()
		if err == nil {
			timedLog.Debugf("Loaded tile %s", key)
		}
		c.finish(key, e, block, err, cancelled)
	}
}

func (c *Cache) finish(key octree.TileKey, e *entry, block *voxels.Block, err error, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.loading, e.cancel = false, nil
	if c.entries[key] != e {
		return
	}
	if e.abandoned {
		delete(c.entries, key)
		close(e.done)
		return
	}
	if c.closed {
		err = ErrClosed
	} else if err != nil && cancelled {
		// Abandoned and then desired again while loading.
		c.enqueueLocked(key)
		return
	}
	if err == nil {
		if block == nil {
			err = fmt.Errorf("loader returned no block for tile %s", key)
		} else if !c.makeRoomLocked(block.NumBytes()) {
			err = fmt.Errorf("%w: %s tile needs %s with %s of %s in use", ErrCacheExhausted, key,
				horta.ByteCount(block.NumBytes()), horta.ByteCount(c.bytes), horta.ByteCount(c.config.MaxBytes))
		}
	}
	if err == nil {
		e.state, e.block, e.err = Ready, block, nil
		e.failures = 0
		c.bytes += block.NumBytes()
	} else {
		e.failures++
		c.counts.failures++
		e.state, e.block = Failed, nil
		if e.failures > c.config.Retries && !errors.Is(err, ErrClosed) {
			e.exhausted = true
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetryBudget, e.failures, err)
		}
		e.err = err
		horta.Debugf("Failed to load tile %s (attempt %d): %v\n", key, e.failures, err)
	}
	close(e.done)
}

// Close stops the workers, cancels in-flight loads, and fails pending tiles.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.cond.Broadcast()
	for _, key := range c.queue {
		if e := c.entries[key]; e != nil && e.state == Pending && !e.loading {
			e.state, e.err = Failed, ErrClosed
			close(e.done)
		}
	}
	c.queue = nil
	c.mu.Unlock()
	c.wg.Wait()
}
