package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
)

// Config holds engine settings, typically read from a TOML table.
type Config map[string]interface{}

// GetString returns a string setting and whether it was present.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	var ok bool
	if s, ok = v.(string); !ok {
		err = fmt.Errorf("%q setting must be a string (%v)", key, v)
	}
	return
}

// GetInt returns an integer setting and whether it was present.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found {
		return
	}
	switch n := v.(type) {
	case int:
		i = n
	case int64:
		i = int(n)
	case float64:
		i = int(n)
	default:
		err = fmt.Errorf("%q setting must be an integer (%v)", key, v)
	}
	return
}

// Engine creates tile sources of one kind.
type Engine interface {
	fmt.Stringer
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewSource returns a tile source using the engine-specific settings.
	NewSource(config Config) (TileSource, error)
}

var (
	enginesMu sync.RWMutex
	engines   = map[string]Engine{}
)

// RegisterEngine makes an engine available by name.  Engines call this from init().
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	engines[e.GetName()] = e
	enginesMu.Unlock()
}

// GetEngine returns the engine registered with the name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, fmt.Errorf("no tile storage engine %q available; compiled engines: %s", name, enginesLocked())
	}
	return e, nil
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return enginesLocked()
}

func enginesLocked() string {
	var names []string
	for _, e := range engines {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// NewSource returns a source from the named engine.
func NewSource(engine string, config Config) (TileSource, error) {
	e, err := GetEngine(engine)
	if err != nil {
		return nil, err
	}
	return e.NewSource(config)
}

// baseEngine holds the identifying fields shared by the engines in this package.
type baseEngine struct {
	name   string
	desc   string
	semver semver.Version
}

func newBaseEngine(name, desc, version string) baseEngine {
	ver, err := semver.Make(version)
	if err != nil {
		panic(fmt.Sprintf("bad semver %q for engine %s: %v", version, name, err))
	}
	return baseEngine{name, desc, ver}
}

func (e baseEngine) GetName() string {
	return e.name
}

func (e baseEngine) GetDescription() string {
	return e.desc
}

func (e baseEngine) GetSemVer() semver.Version {
	return e.semver
}

func (e baseEngine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}
