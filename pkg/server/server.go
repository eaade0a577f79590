// Package server assembles and runs the Vixy proxy: the health monitor,
// the HTTP pass-through surface, the WebSocket proxy and the telemetry
// endpoints, with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chainbound/vixy/pkg/config"
	"github.com/chainbound/vixy/pkg/health"
	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/proxy/handlers"
	"github.com/chainbound/vixy/pkg/proxy/middleware"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
	"github.com/chainbound/vixy/pkg/telemetry/report"
	"github.com/chainbound/vixy/pkg/wsproxy"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server is the assembled Vixy proxy process.
type Server struct {
	cfg   *config.Config
	topo  *node.Topology
	state *node.State

	collector *metrics.Collector
	monitor   *health.Monitor
	reporter  *report.Reporter

	httpServer    *http.Server
	metricsServer *http.Server

	shutdownOnce sync.Once
}

// New wires all components from a validated configuration.
func New(cfg *config.Config) *Server {
	topo := cfg.Topology()
	state := node.NewState(topo, cfg.Limits())

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(nil)
	}

	s := &Server{
		cfg:       cfg,
		topo:      topo,
		state:     state,
		collector: collector,
		monitor: health.New(topo, state, collector,
			cfg.Global.HealthCheckInterval(), cfg.Global.HealthCheckTimeout()),
		reporter: report.New(topo, state),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Global.ListenAddress,
		Handler: s.routes(),
	}
	return s
}

// routes builds the handler chain: request id, logging and recovery
// around the proxy surface.
func (s *Server) routes() http.Handler {
	g := &s.cfg.Global
	mux := http.NewServeMux()

	mux.Handle("/el", handlers.NewELHandler(s.topo, s.state, s.collector, g.ProxyTimeout(), g.MaxRetries))
	mux.Handle("/el/ws", wsproxy.New(s.topo, s.state, s.collector, g.WSQueueSize))
	mux.Handle("/cl/", handlers.NewCLHandler(s.topo, s.state, s.collector, "/cl", g.ProxyTimeout(), g.MaxRetries))
	mux.HandleFunc("/health", handlers.Health)
	mux.Handle("/status", handlers.NewStatusHandler(s.topo, s.state))

	// Metrics land on the main listener unless a separate one is set.
	if s.collector != nil && s.cfg.Metrics.ListenAddress == "" {
		mux.Handle("/metrics", s.collector.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.Recovery(handler)
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// Start runs the proxy until the context is cancelled or a shutdown
// signal arrives.
func (s *Server) Start(ctx context.Context, configPath string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// WebSocket connections inherit this context through the request
	// context, so cancellation tears them down.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return runCtx }

	go s.monitor.Run(runCtx)

	if err := s.reporter.Start(s.cfg.Report.Schedule); err != nil {
		return fmt.Errorf("failed to start health reporter: %w", err)
	}
	defer s.reporter.Stop()

	if configPath != "" {
		go func() {
			if err := config.Watch(runCtx, configPath); err != nil {
				slog.Warn("config watcher unavailable", "error", err)
			}
		}()
	}

	errChan := make(chan error, 2)

	if s.collector != nil && s.cfg.Metrics.ListenAddress != "" {
		s.metricsServer = &http.Server{
			Addr:    s.cfg.Metrics.ListenAddress,
			Handler: s.metricsMux(),
		}
		go func() {
			slog.Info("starting metrics server", "address", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	go func() {
		slog.Info("starting proxy server",
			"address", s.cfg.Global.ListenAddress,
			"el_nodes", len(s.topo.EL),
			"cl_nodes", len(s.topo.CL),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		return err
	}

	cancel()
	return s.Shutdown()
}

func (s *Server) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())
	return mux
}

// Shutdown drains in-flight requests and stops both listeners.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if s.metricsServer != nil {
			s.metricsServer.Shutdown(ctx)
		}
		err = s.httpServer.Shutdown(ctx)
		slog.Info("server stopped")
	})
	return err
}
