// Package api serves tiles and pyramid blobs over HTTP, together with the
// health, readiness and metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/holeshot/tilecache/internal/metrics"
	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/internal/resolver"
	"github.com/holeshot/tilecache/pkg/health"
	"github.com/holeshot/tilecache/pkg/status"
	"github.com/holeshot/tilecache/pkg/types"
)

// TileFetcher resolves tile requests
type TileFetcher interface {
	FetchTileRange(ctx context.Context, coord types.TileCoordinate, header string) (*resolver.Tile, error)
}

// IndexSource returns the loaded index of a pyramid and the blob layout it was read from
type IndexSource interface {
	Get(ctx context.Context, pyramid types.PyramidKey) (*mrf.IndexFile, error)
	Layout() mrf.Layout
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., ":8080")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// RequestTimeout bounds the handling of a single request; zero disables it
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	EnableCORS     bool     `yaml:"enable_cors" json:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// RequestsPerSecond limits tile and blob requests; zero disables limiting
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`

	// EnableMetrics mounts the prometheus handler at /metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 30 * time.Second,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
	}
}

// Dependencies are the collaborators the handlers call into. Tiles is
// required; the rest may be nil, which disables the routes that need them.
// The /admin warm and operation routes need both Warmer and Operations.
type Dependencies struct {
	Tiles      TileFetcher
	Indexes    IndexSource
	Store      types.ObjectStore
	Health     *health.Tracker
	Metrics    *metrics.Collector
	Warmer     WarmRunner
	Operations *status.Tracker
	Tiers      TierSwitch
	Recovery   ComponentRecovery
	Logger     *slog.Logger
}

// Server is the HTTP surface of the tile cache
type Server struct {
	httpServer *http.Server
	router     chi.Router
	tiles      TileFetcher
	indexes    IndexSource
	store      types.ObjectStore
	health     *health.Tracker
	metrics    *metrics.Collector
	warmer     WarmRunner
	operations *status.Tracker
	tiers      TierSwitch
	recovery   ComponentRecovery
	config     ServerConfig
	logger     *slog.Logger
	started    time.Time

	// jobs parents background operations and is canceled on Shutdown
	jobs       context.Context
	cancelJobs context.CancelFunc
	jobsWG     sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tiles:      deps.Tiles,
		indexes:    deps.Indexes,
		store:      deps.Store,
		health:     deps.Health,
		metrics:    deps.Metrics,
		warmer:     deps.Warmer,
		operations: deps.Operations,
		tiers:      deps.Tiers,
		recovery:   deps.Recovery,
		config:     config,
		logger:     logger.With("component", "api"),
		started:    time.Now(),
	}
	s.jobs, s.cancelJobs = context.WithCancel(context.Background())
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	if s.config.EnableCORS {
		r.Use(cors(s.config.AllowedOrigins))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.handleHealth)
		r.Get("/live", s.handleLiveness)
		r.Get("/ready", s.handleReadiness)
	})
	if s.config.EnableMetrics && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/info", s.handleInfo)
	if s.adminEnabled() {
		r.Route("/admin", s.adminRoutes)
	}

	r.Group(func(r chi.Router) {
		if s.config.RequestsPerSecond > 0 {
			r.Use(rateLimit(s.config.RequestsPerSecond, s.config.Burst))
		}
		if s.config.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(s.config.RequestTimeout))
		}

		r.With(s.observe("tile")).Get("/tiles/{imageId}/{timestamp}/{rSet}/{col}/{row}/{band}", s.handleTile)

		if s.indexes != nil && s.store != nil {
			r.Route("/mrf/{imageId}/{timestamp}", func(r chi.Router) {
				r.With(s.observe("mrf_index")).Get("/"+mrf.IndexBlob, s.handleIndexBlob)
				r.With(s.observe("mrf_data")).Get("/"+mrf.DataBlob, s.handleDataBlob)
				r.With(s.observe("mrf_metadata")).Get("/"+mrf.MetadataBlob, s.handleMetadata)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (s *Server) warmEnabled() bool {
	return s.warmer != nil && s.operations != nil
}

func (s *Server) adminEnabled() bool {
	return s.warmEnabled() || s.tiers != nil || s.recovery != nil
}

// Handler returns the root handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", "address", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()
}

// Shutdown gracefully shuts down the server and cancels background operations
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	err := s.httpServer.Shutdown(ctx)

	s.cancelJobs()
	done := make(chan struct{})
	go func() {
		s.jobsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
