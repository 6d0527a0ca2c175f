package tilecache

import (
	"fmt"

	"github.com/DmitriyVTitov/size"

	"github.com/janelia-flyem/horta/horta"
)

// Stats summarizes cache occupancy and activity.
type Stats struct {
	Generation uint64         `json:"generation"`
	Entries    map[string]int `json:"entries"` // count per state
	Locked     int            `json:"locked"`  // entries with at least one reader
	Bytes      uint64         `json:"bytes"`   // decoded block bytes
	MaxBytes   uint64         `json:"max_bytes"`
	Footprint  int            `json:"footprint"` // estimated heap bytes of the entry map
	Loads      uint64         `json:"loads"`
	Failures   uint64         `json:"failures"`
	Evictions  uint64         `json:"evictions"`
	Hits       uint64         `json:"hits"`
	Queued     int            `json:"queued"`
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Generation: c.generation,
		Entries:    make(map[string]int, 4),
		Bytes:      c.bytes,
		MaxBytes:   c.config.MaxBytes,
		Footprint:  size.Of(c.entries),
		Loads:      c.counts.loads,
		Failures:   c.counts.failures,
		Evictions:  c.counts.evictions,
		Hits:       c.counts.hits,
		Queued:     len(c.queue),
	}
	for _, e := range c.entries {
		s.Entries[e.state.String()]++
		if e.readers > 0 {
			s.Locked++
		}
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("generation %d: %d ready, %d pending, %d failed (%d locked), %s decoded, ~%s resident, %d loads, %d failures, %d evictions",
		s.Generation, s.Entries[Ready.String()], s.Entries[Pending.String()], s.Entries[Failed.String()], s.Locked,
		horta.ByteCount(s.Bytes), horta.ByteCount(uint64(s.Footprint)), s.Loads, s.Failures, s.Evictions)
}
