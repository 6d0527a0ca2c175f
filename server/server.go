/*
Package server wires a tile source, tile cache, and trace service together and serves
them over HTTP.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/horta/horta"
	"github.com/janelia-flyem/horta/octree"
	"github.com/janelia-flyem/horta/storage"
	"github.com/janelia-flyem/horta/storage/badger"
	"github.com/janelia-flyem/horta/subvolume"
	"github.com/janelia-flyem/horta/tilecache"
	"github.com/janelia-flyem/horta/trace"
)

//go:generate go run ../cmd/gen-version -o version.go

// Version of the horta server.
const Version = "0.3.0"

// gitVersion is set by a generated version.go when built from a git checkout.
var gitVersion = "unknown"

// Server holds the running components for one volume.
type Server struct {
	config *Config
	layout octree.Layout

	base   storage.TileSource    // configured engine's source
	source storage.TileSource    // base wrapped by mirror and caches
	raw    *storage.CachedSource // nil if no raw byte cache
	mirror *badger.Store         // nil if no mirror
	loader tilecache.Loader
	cache  *tilecache.Cache
	traces *trace.Service

	users map[string]string // authorized users; nil allows any valid token
	mux   *web.Mux
}

// New opens the configured tile source and starts the cache and trace service.
func New(config *Config) (*Server, error) {
	s := &Server{config: config, layout: config.Layout()}
	if err := s.openSource(); err != nil {
		return nil, err
	}
	s.loader = tilecache.NewLoader(s.source)
	s.cache = tilecache.New(s.loader, tilecache.Config{
		Workers:  config.Cache.Workers,
		MaxBytes: uint64(config.Cache.MaxBytes) * horta.Mega,
		Retries:  config.Cache.Retries,
	})

	var publisher trace.Publisher = trace.NopPublisher{}
	if len(config.Kafka.Servers) != 0 {
		kp, err := trace.NewKafkaPublisher(config.Kafka.Servers, config.Kafka.Topic)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("unable to start kafka publisher: %v", err)
		}
		publisher = kp
	}
	var err error
	s.traces, err = trace.NewService(trace.Config{
		Layout:        s.layout,
		Depth:         s.layout.MaxDepth,
		Blocks:        subvolume.NewCacheSource(s.cache, s.loader),
		Timeout:       config.Trace.Timeout.Duration,
		Padding:       config.Trace.Padding,
		MaxConcurrent: config.Trace.MaxConcurrent,
		Channel:       config.Trace.Channel,
		VoxelSize:     config.Volume.VoxelSize,
		Publisher:     publisher,
	})
	if err != nil {
		publisher.Close()
		s.Close()
		return nil, err
	}

	if config.Auth.SecretKey != "" {
		if s.users, err = loadAuthFile(config.Auth.AuthFile); err != nil {
			s.Close()
			return nil, fmt.Errorf("unable to load auth file: %v", err)
		}
	}
	s.mux = s.routes()
	return s, nil
}

func (s *Server) openSource() error {
	c := s.config.Source
	src, err := storage.NewSource(c.Engine, s.config.SourceConfig())
	if err != nil {
		return err
	}
	s.base = src
	horta.Infof("Serving %s tiles from %s engine @ %s\n", s.config.Volume.SourceID, c.Engine, c.Path)
	if c.Mirror != "" {
		if s.mirror, err = badger.Open(c.Mirror); err != nil {
			return err
		}
		src = badger.NewMirror(src, s.mirror)
		horta.Infof("Mirroring fetched tiles to %s\n", c.Mirror)
	}
	if s.config.Cache.RawMB > 0 {
		s.raw = storage.NewCachedSource(src, s.config.Cache.RawMB*horta.Mega)
		src = s.raw
	}
	if c.GroupcacheMB > 0 {
		src = storage.NewGroupcacheSource("tiles-"+s.config.Volume.SourceID, src, int64(c.GroupcacheMB)*horta.Mega)
	}
	s.source = src
	return nil
}

func (s *Server) routes() *web.Mux {
	mux := web.New()
	mux.Use(middleware.EnvInit)
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(logHTTPRequests)
	if s.config.Auth.SecretKey != "" {
		mux.Use(s.authMiddleware)
	}
	if c := s.config.Source; c.GroupcacheMB > 0 {
		pool := storage.SetupGroupcachePeers(storage.GroupcacheConfig{
			MB:    c.GroupcacheMB,
			Self:  c.GroupcacheHost,
			Peers: c.GroupcachePeers,
		})
		mux.Handle("/_groupcache/*", pool)
	}

	mux.Get(WebAPIPath+"server/info", s.serverInfoHandler)
	mux.Post(WebAPIPath+"trace", s.traceHandler)
	mux.Delete(WebAPIPath+"trace/:anchor1/:anchor2", s.cancelTraceHandler)
	mux.Get(WebAPIPath+"cache/stats", s.cacheStatsHandler)
	mux.Post(WebAPIPath+"cache/focus", s.focusHandler)
	mux.Get(WebAPIPath+"tile/*", s.tileHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no API endpoint %s %s", r.Method, r.URL.Path)
	})
	mux.Compile()
	return mux
}

// Handler returns the HTTP handler for the server's API with CORS support.
func (s *Server) Handler() http.Handler {
	if len(s.config.Server.CorsDomains) == 0 {
		return s.mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.CorsDomains,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
	})
	return c.Handler(s.mux)
}

// Cache returns the server's tile cache.
func (s *Server) Cache() *tilecache.Cache {
	return s.cache
}

// Traces returns the server's trace service.
func (s *Server) Traces() *trace.Service {
	return s.traces
}

// Close stops the trace service and cache and closes any mirror.
func (s *Server) Close() error {
	var errs []error
	if s.traces != nil {
		errs = append(errs, s.traces.Close())
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.mirror != nil {
		errs = append(errs, s.mirror.Close())
	}
	if closer, ok := s.base.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Serve runs an HTTP server for the configuration until interrupted.
func Serve(config *Config) error {
	if err := config.Logging.SetLogger(); err != nil {
		return err
	}
	defer horta.Shutdown()
	s, err := New(config)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:        config.Server.HTTPAddress,
		Handler:     s.Handler(),
		ReadTimeout: 1 * time.Hour,
	}
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		horta.Infof("Web server listening at %s ...\n", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()
	select {
	case err := <-serveErr:
		return err
	case sig := <-stop:
		horta.Infof("Received %s signal, shutting down...\n", sig)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
