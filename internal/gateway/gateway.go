// ABOUTME: Gateway orchestrator that wires the coordination core to its HTTP, WebSocket and gRPC servers
// ABOUTME: Manages listener setup, the janitor, config reload and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/args-gateway/internal/auth"
	"github.com/2389/args-gateway/internal/config"
	"github.com/2389/args-gateway/internal/coordinator"
	"github.com/2389/args-gateway/internal/dispatch"
	"github.com/2389/args-gateway/internal/hub"
	"github.com/2389/args-gateway/internal/janitor"
	"github.com/2389/args-gateway/internal/ledger"
	"github.com/2389/args-gateway/internal/metrics"
	"github.com/2389/args-gateway/internal/registry"
)

// shutdownTimeout bounds graceful shutdown once Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the args-gateway server components.
type Gateway struct {
	config   *config.Config
	registry *registry.Registry
	metrics  *metrics.Aggregator
	hub      *hub.Hub
	coord    *coordinator.Coordinator
	ledger   *ledger.Ledger
	janitor  *janitor.Janitor
	verifier *auth.JWTVerifier
	promReg  *prometheus.Registry

	httpServer  *http.Server
	grpcServer  *grpc.Server
	grpcHealth  *health.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// background bounds work that outlives a request, such as simulated agent runs
	background context.Context
	stop       context.CancelFunc

	// configPath and level are set by WatchConfig
	configPath string
	level      *slog.LevelVar

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	var led *ledger.Ledger
	if cfg.Database.Path != "" {
		l, err := ledger.Open(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing ledger: %w", err)
		}
		led = l
	}

	reg := registry.New(logger)
	agg := metrics.New()

	hubCfg := hub.Config{
		RequireToken:   cfg.Auth.RequireToken,
		AnyOrigin:      cfg.IsDevelopment(),
		OriginPatterns: cfg.Server.AllowedOrigins,
	}
	if verifier != nil {
		hubCfg.Verifier = verifier
	}
	h := hub.New(hubCfg, logger)

	var recorder dispatch.Recorder
	if led != nil {
		recorder = led
	}
	coord := coordinator.New(coordinator.Params{
		Registry:    reg,
		Metrics:     agg,
		Transport:   h,
		Ledger:      recorder,
		Environment: cfg.Server.Environment,
		ServerName:  cfg.Server.Name,
		StepUnit:    cfg.Simulation.StepUnit,
		Logger:      logger,
	})
	h.SetHandler(coord)

	background, stop := context.WithCancel(context.Background())
	gw := &Gateway{
		config:     cfg,
		registry:   reg,
		metrics:    agg,
		hub:        h,
		coord:      coord,
		ledger:     led,
		verifier:   verifier,
		logger:     logger.With("component", "gateway"),
		background: background,
		stop:       stop,
	}

	gw.janitor = janitor.New(janitor.Config{
		Interval:          cfg.Sessions.SweepInterval,
		AssignmentTimeout: cfg.Tasks.AssignmentTimeout,
		IdleTTL:           cfg.Sessions.IdleTTL,
		MaxSessions:       cfg.Sessions.MaxSessions,
	}, coord.Dispatcher(), reg, logger)

	if cfg.Metrics.Enabled {
		gw.promReg = prometheus.NewRegistry()
		gw.promReg.MustRegister(
			metrics.NewCollector(agg, reg),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer, gw.grpcHealth = gw.newGRPCServer(logger)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newGRPCServer creates the query server with keepalive and auth interceptors.
func (g *Gateway) newGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	var verifier auth.TokenVerifier
	if g.verifier != nil {
		verifier = g.verifier
	}
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			auth.UnaryInterceptor(verifier, g.config.Auth.RequireToken, logger, healthCheckMethod),
		),
	)
	hs := registerQueryServices(server, g.coord)
	return server, hs
}

// Coordinator returns the event coordinator. Used by tests and embedding callers.
func (g *Gateway) Coordinator() *coordinator.Coordinator { return g.coord }

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// WatchConfig makes Run reload path on change and apply its log level to level.
func (g *Gateway) WatchConfig(path string, level *slog.LevelVar) {
	g.configPath = path
	g.level = level
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
		"environment", g.config.Server.Environment,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		return g.janitor.Run(egCtx)
	})

	if g.configPath != "" && g.level != nil {
		eg.Go(func() error {
			if err := config.Watch(egCtx, g.configPath, g.logger, g.applyConfig); err != nil {
				g.logger.Warn("config reload disabled", "error", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// applyConfig applies the runtime-adjustable parts of a reloaded config.
func (g *Gateway) applyConfig(cfg *config.Config) {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		g.logger.Warn("ignoring reloaded log level", "error", err)
		return
	}
	if level != g.level.Level() {
		g.logger.Info("log level changed", "from", g.level.Level(), "to", level)
		g.level.Set(level)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.grpcHealth.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources. Calls after the
// first return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "websocket shutdown", g.hub.Close(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	g.stop()
	g.coord.Wait()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "ledger close", g.ledger.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
