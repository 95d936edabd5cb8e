package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-wiz/internal/bridges/wiz"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// FixtureService is the bridge surface the API drives. *wiz.Bridge
// satisfies it.
type FixtureService interface {
	Fixtures() []wiz.FixtureInfo
	Fixture(address string) (wiz.FixtureInfo, bool)
	Execute(ctx context.Context, address, command string, params map[string]any) error
	ReadState(ctx context.Context, address string) (wiz.PilotState, error)
	Subscribe(ctx context.Context, address string) error
	Unsubscribe(address string) error
	DiscoverNow(ctx context.Context) ([]wiz.DiscoveredDevice, error)
	OnState(fn func(wiz.StateMessage)) (remove func())
	Health() wiz.HealthMessage
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Bridge  FixtureService
	Version string

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Checks are run by /health in addition to the bridge status,
	// keyed by name ("mqtt", "database", "influxdb").
	Checks map[string]HealthCheck
}

// Server is the bridge's HTTP API and live state stream.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	bridge   FixtureService
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	version  string

	server      *http.Server
	hub         *Hub
	removeState func()
	cancel      context.CancelFunc
}

// New validates deps and creates a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		bridge:   deps.Bridge,
		gatherer: gatherer,
		checks:   deps.Checks,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start relays bridge state to the websocket hub and begins listening in
// the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.removeState = s.bridge.OnState(s.hub.PublishState)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the state relay, disconnects websocket clients and shuts
// the listener down gracefully.
func (s *Server) Close() error {
	if s.removeState != nil {
		s.removeState()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
