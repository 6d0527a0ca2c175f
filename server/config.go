package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
)

const (
	// DefaultWebAddress is the default URL of the horta web server
	DefaultWebAddress = "localhost:8600"

	DefaultKafkaTopic = "horta-traces"
)

// Config is the parsed TOML configuration of a horta server.
type Config struct {
	Server  serverConfig
	Logging horta.LogConfig
	Auth    authConfig
	Cache   cacheConfig
	Source  sourceConfig
	Volume  volumeConfig
	Trace   traceConfig
	Kafka   kafkaConfig

	location string
}

type serverConfig struct {
	HTTPAddress string   `toml:"httpAddress"`
	CorsDomains []string `toml:"corsDomains"`
	Note        string
}

type cacheConfig struct {
	Workers  int
	MaxBytes int `toml:"max_bytes"` // MB
	Retries  int
	RawMB    int `toml:"raw_mb"`
}

type sourceConfig struct {
	Engine          string
	Path            string
	Prefix          string
	Mirror          string
	GroupcacheMB    int      `toml:"groupcache_mb"`
	GroupcacheHost  string   `toml:"groupcache_host"`
	GroupcachePeers []string `toml:"groupcache_peers"`
}

type volumeConfig struct {
	Origin    [3]int32
	BlockSize [3]int32 `toml:"block_size"`
	Depth     int
	SourceID  string     `toml:"source_id"`
	VoxelSize [3]float64 `toml:"voxel_size"`
}

type traceConfig struct {
	Timeout       duration
	Padding       int32
	MaxConcurrent int `toml:"max_concurrent"`
	Channel       int
}

type kafkaConfig struct {
	Servers []string
	Topic   string
}

// duration is a time.Duration written as a string like "10s" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Location returns the file the configuration was loaded from.
func (c *Config) Location() string {
	return c.location
}

// Layout returns the octree layout of the served volume.
func (c *Config) Layout() octree.Layout {
	return octree.Layout{
		Origin:    horta.Point3d(c.Volume.Origin),
		BlockSize: horta.Point3d(c.Volume.BlockSize),
		MaxDepth:  c.Volume.Depth,
		SourceID:  c.Volume.SourceID,
	}
}

// SourceConfig returns the storage engine settings for the tile source.
func (c *Config) SourceConfig() storage.Config {
	return storage.Config{"path": c.Source.Path, "prefix": c.Source.Prefix}
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configDir string) error {
	var err error

	// [logging].logfile
	if c.Logging.Logfile, err = horta.ConvertToAbsolute(c.Logging.Logfile, configDir); err != nil {
		return fmt.Errorf("error converting logfile setting to absolute path")
	}

	// [source].path
	if c.Source.Engine != "blob" {
		if c.Source.Path, err = horta.ConvertToAbsolute(c.Source.Path, configDir); err != nil {
			return fmt.Errorf("error converting source path %q to absolute path", c.Source.Path)
		}
	}

	// [source].mirror
	if c.Source.Mirror, err = horta.ConvertToAbsolute(c.Source.Mirror, configDir); err != nil {
		return fmt.Errorf("error converting mirror path %q to absolute path", c.Source.Mirror)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = DefaultWebAddress
	}
	if c.Cache.Workers == 0 {
		c.Cache.Workers = 4
	}
	if c.Cache.Retries == 0 {
		c.Cache.Retries = 3
	}
	if c.Source.Engine == "" {
		c.Source.Engine = "filestore"
	}
	if c.Volume.BlockSize == [3]int32{} {
		c.Volume.BlockSize = [3]int32{64, 64, 64}
	}
	if c.Volume.SourceID == "" {
		c.Volume.SourceID = "default"
	}
	if c.Trace.Timeout.Duration == 0 {
		c.Trace.Timeout.Duration = 10 * time.Second
	}
	if c.Trace.Padding == 0 {
		c.Trace.Padding = 10
	}
	if c.Trace.MaxConcurrent == 0 {
		c.Trace.MaxConcurrent = 4
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
}

func (c *Config) validate() error {
	if c.Source.Path == "" {
		return fmt.Errorf("no tile source path given in [source] section")
	}
	if _, err := horta.ParseLogMode(c.Logging.Level); err != nil {
		return err
	}
	if _, err := storage.GetEngine(c.Source.Engine); err != nil {
		return err
	}
	if c.Cache.Workers < 0 || c.Cache.Retries < 0 || c.Cache.MaxBytes < 0 || c.Cache.RawMB < 0 {
		return fmt.Errorf("[cache] settings cannot be negative")
	}
	if c.Source.GroupcacheMB > 0 && c.Source.GroupcacheHost == "" {
		return fmt.Errorf("groupcache_host must be set to use groupcache")
	}
	return c.Layout().Validate()
}

// LoadConfig loads horta server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := new(Config)
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	return c, c.finish(filename, filepath.Dir(filename))
}

// ParseConfig parses TOML configuration text.  Relative paths are taken relative to dir.
func ParseConfig(text, dir string) (*Config, error) {
	c := new(Config)
	if _, err := toml.Decode(text, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	return c, c.finish("", dir)
}

func (c *Config) finish(location, dir string) error {
	c.location = location
	c.setDefaults()
	if err := c.convertPathsToAbsolute(dir); err != nil {
		return fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	return c.validate()
}
