package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/apphost/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/focus"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/monitor"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/render"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/audit"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/notify"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// shutdownTimeout bounds the HTTP drain on shutdown
const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and every host component
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	bus        *events.Bus
	audit      *capability.AuditLog
	auditFile  *audit.FileSink
	registry   *session.Registry
	router     *router.Router
	dispatcher *render.Dispatcher
	hub        *ws.Hub
	stream     *ws.EventStream
	monitor    *monitor.Monitor
	sampler    *monitor.HTTPSampler
	catalog    *catalog.Catalog
	watcher    *catalog.Watcher
	notifier   *notify.Notifier

	engine *gin.Engine
	http   *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, OutputPaths: []string{"stdout"}})
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		logger = l
	}

	logger.Info("Initializing app host",
		zap.String("port", cfg.Server.Port),
		zap.String("catalog_dir", cfg.Catalog.Dir))

	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		tracer:  tracing.New("apphost", logger.Component("tracing")),
	}

	s.bus = events.NewBus(events.Config{
		History:          cfg.Events.History,
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
	}, logger.Component("events"))

	// Capabilities
	var sinks []capability.AuditSink
	if cfg.Capability.AuditFile != "" {
		sink, err := audit.NewFileSink(cfg.Capability.AuditFile)
		if err != nil {
			s.tracer.Close()
			return nil, fmt.Errorf("audit file: %w", err)
		}
		s.auditFile = sink
		sinks = append(sinks, sink)
		logger.Info("Audit file enabled", zap.String("path", sink.Path()))
	}
	s.audit = capability.NewAuditLog(capability.AuditConfig{
		Buffer: cfg.Capability.AuditBuffer,
		Retain: cfg.Capability.AuditRetain,
	}, logger.Component("audit"), sinks...)
	store := capability.NewStore()
	enforcer := capability.NewEnforcer(store, s.audit, capability.DefaultEnv(cfg.Capability.HomeDir),
		logger.Component("capability")).WithMetrics(s.metrics)

	// Sessions, routing, rendering
	fm := focus.NewManager()
	s.registry = session.NewRegistry(session.Config{
		TeardownGrace: cfg.Session.TeardownGrace,
		FocusOnReady:  cfg.Session.FocusOnReady,
	}, fm, store, nil, s.bus, logger.Component("session")).WithMetrics(s.metrics)

	s.router = router.New(router.Config{
		MailboxCapacity:   cfg.Router.MailboxCapacity,
		OverflowWarnEvery: cfg.Router.OverflowWarnEvery,
		RequestTimeout:    cfg.Router.RequestTimeout,
	}, s.registry, enforcer, s.bus, logger.Component("router")).WithMetrics(s.metrics)

	s.monitor = monitor.New(monitor.Config{
		Interval:        cfg.Monitor.Interval,
		Concurrency:     cfg.Monitor.Concurrency,
		MemoryCeiling:   cfg.Monitor.MemoryCeiling,
		CPUCeiling:      cfg.Monitor.CPUCeiling,
		AggregateMemory: cfg.Monitor.AggregateMemory,
		AggregateCPU:    cfg.Monitor.AggregateCPU,
	}, s.registry, s.buildSampler(), s.bus, logger.Component("monitor")).WithMetrics(s.metrics)

	surfaceCfg := ws.DefaultConfig()
	surfaceCfg.AllowedOrigins = cfg.Server.CORSOrigins
	s.hub = ws.NewHub(surfaceCfg, s.registry, s.router, s.monitor, logger.Component("surface")).WithMetrics(s.metrics)
	s.stream = ws.NewEventStream(surfaceCfg, s.bus, logger.Component("stream")).WithMetrics(s.metrics)

	s.dispatcher = render.NewDispatcher(render.Config{
		DeliverTimeout:  cfg.Dispatch.DeliverTimeout,
		BreakerFailures: cfg.Dispatch.BreakerFailures,
		BreakerTimeout:  cfg.Dispatch.BreakerTimeout,
	}, s.hub, s.router, s.registry, logger.Component("render")).WithMetrics(s.metrics)

	// Mailboxes must exist before the dispatcher pumps them, and the hub
	// slot before the surface is mounted.
	s.registry.Attach(s.router)
	s.registry.Attach(s.dispatcher)
	s.registry.Attach(s.hub)
	s.registry.SetSurface(s.hub)

	// Catalog
	s.catalog = catalog.New(s.bus, logger.Component("catalog")).WithMetrics(s.metrics)
	loader := catalog.NewLoader(cfg.Catalog.Dir, logger.Component("catalog"))
	if err := s.catalog.Reload(context.Background(), loader); err != nil {
		logger.Warn("Initial catalog load failed", zap.Error(err))
	}
	if cfg.Catalog.Watch {
		w, err := catalog.NewWatcher(s.catalog, loader, 0, logger.Component("catalog"))
		if err != nil {
			logger.Warn("Catalog watch disabled", zap.Error(err))
		} else {
			s.watcher = w
		}
	}

	if cfg.Notify.WebhookURL != "" {
		s.notifier = notify.New(notify.Config{
			WebhookURL: cfg.Notify.WebhookURL,
			RetryMax:   cfg.Notify.RetryMax,
			Timeout:    cfg.Notify.Timeout,
			Queue:      cfg.Notify.Queue,
			Source:     hostname(),
		}, logger.Component("notify"))
		logger.Info("Operator notifications enabled")
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Registry: s.registry,
		Focus:    fm,
		Store:    store,
		Enforcer: enforcer,
		Audit:    s.audit,
		Bus:      s.bus,
		Router:   s.router,
		Monitor:  s.monitor,
		Catalog:  s.catalog,
		Loader:   loader,
		Surfaces: s.hub,
		Notifier: s.notifier,
		Tracer:   s.tracer,
		Logger:   logger.Component("api"),
	})
	s.engine = s.routes(handlers)
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully",
		zap.Int("apps", s.catalog.Stats().Apps))
	return s, nil
}

// buildSampler builds the sweep sampler. Without a rendering host URL the
// monitor relies on usage pushed over the surface connection.
func (s *Server) buildSampler() monitor.Sampler {
	none := monitor.SamplerFunc(func(context.Context, types.SessionInfo) (types.Usage, error) {
		return types.Usage{}, monitor.ErrNoSample
	})
	url := s.config.Monitor.SamplerURL
	if url == "" {
		return none
	}
	s.sampler = monitor.NewHTTPSampler(url, s.config.Monitor.Interval)
	s.logger.Info("Usage sampler enabled", zap.String("url", url))
	return monitor.Chain(s.sampler, none)
}

func (s *Server) routes(handlers *apihttp.Handlers) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(tracing.HTTPMiddleware(s.tracer))
	engine.Use(monitoring.Middleware(s.metrics))
	engine.Use(middleware.CORS(middleware.CORSForOrigins(s.config.Server.CORSOrigins)))

	// Surface connections are long lived and outside the admin rate limit
	engine.GET("/surface/:id", s.hub.HandleSurface)
	engine.GET("/events/stream", s.stream.Handle)
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := engine.Group("")
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst))
		api.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}
	handlers.Register(api)
	return engine
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx ends or a component fails, then shuts down
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.monitor.Run(gctx)
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	if s.notifier != nil {
		listening := s.bus.Listen(gctx, events.Filter{Level: events.LevelWarning}, s.notifier.Notify)
		g.Go(func() error {
			s.notifier.Run(gctx)
			<-listening
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown stops every session, then the connections, then the HTTP server
func (s *Server) shutdown() {
	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.registry.Shutdown(ctx)
	s.stream.Close()
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
	}
}

// Close releases everything Run leaves behind. Call it after Run returns.
func (s *Server) Close() error {
	s.dispatcher.Close()
	s.router.Close()
	s.audit.Close()

	var errs []error
	if s.auditFile != nil {
		if err := s.auditFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit file: %w", err))
		}
	}
	if s.sampler != nil {
		s.sampler.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	s.tracer.Close()

	published, dropped := s.bus.Stats()
	s.logger.Info("Server stopped",
		zap.Uint64("events_published", published),
		zap.Uint64("events_dropped", dropped),
		zap.Uint64("audit_written", s.audit.Written()))
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "apphost"
	}
	return name
}
