package mentor

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/moneymentor/mentor/internal/adapters/http"
	"github.com/moneymentor/mentor/internal/config"
	"github.com/moneymentor/mentor/internal/export"
	"github.com/moneymentor/mentor/internal/logging"
	"github.com/moneymentor/mentor/internal/metrics"
	"github.com/moneymentor/mentor/pkg/adapters/file"
	"github.com/moneymentor/mentor/pkg/adapters/memory"
	redisadapter "github.com/moneymentor/mentor/pkg/adapters/redis"
	"github.com/moneymentor/mentor/pkg/engagement"
	"github.com/moneymentor/mentor/pkg/ports"
	"github.com/moneymentor/mentor/pkg/session"
	backend "github.com/redis/go-redis/v9"
)

// App wires the durable store, the session manager and the engagement syncer
// according to configuration. It is the composition root used by cmd/mentord
// and by embedders.
type App struct {
	Sessions *session.Manager
	Syncer   *engagement.Syncer // nil when export is not configured

	cfg       config.Config
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	responder httpadapter.Responder
	closers   []func() error
}

// Option configures the App.
type Option func(*appConfig)

type appConfig struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	responder  httpadapter.Responder
}

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *appConfig) {
		c.logger = logger
	}
}

// WithRegistry routes metrics through the given registry instead of the
// Prometheus defaults. Useful for tests and embedders.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *appConfig) {
		c.registerer = reg
		c.gatherer = reg
	}
}

// WithResponder sets the chat responder handed to the HTTP surface.
func WithResponder(r httpadapter.Responder) Option {
	return func(c *appConfig) {
		c.responder = r
	}
}

// New builds the application from configuration.
func New(cfg config.Config, opts ...Option) (*App, error) {
	ac := &appConfig{
		logger:     logging.NewNop(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(ac)
	}

	app := &App{
		cfg:      cfg,
		logger:   ac.logger,
		gatherer: ac.gatherer,
	}

	store, locker, err := app.buildStore()
	if err != nil {
		return nil, err
	}

	managerOpts := []session.Option{
		session.WithLogger(ac.logger),
		session.WithMetrics(metrics.New(ac.registerer)),
		session.WithReconciler(session.ReconcilerConfig{
			Workers:     cfg.Flush.Workers,
			QueueSize:   cfg.Flush.QueueSize,
			MaxAttempts: cfg.Flush.MaxAttempts,
			BaseBackoff: cfg.Flush.BaseBackoff.Std(),
		}),
	}
	if locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(locker))
	}
	if ttl := cfg.Cache.IdleTTL.Std(); ttl > 0 {
		interval := cfg.Cache.SweepInterval.Std()
		if interval <= 0 {
			interval = time.Minute
		}
		managerOpts = append(managerOpts, session.WithIdleEviction(ttl, interval))
	}

	app.Sessions = session.NewManager(store, managerOpts...)
	app.responder = ac.responder
	if app.responder == nil {
		app.responder = httpadapter.EchoResponder()
	}

	if cfg.Export.Path != "" {
		exporter := export.NewCSVExporter(cfg.Export.Path)
		app.Syncer = engagement.NewSyncer(app.Sessions, exporter, cfg.Export.Interval.Std(),
			engagement.WithLogger(ac.logger))
		app.Syncer.Start()
	}

	return app, nil
}

// Handler returns the HTTP handler for the configured application.
func (a *App) Handler() http.Handler {
	opts := []httpadapter.ServerOption{
		httpadapter.WithLogger(a.logger),
		httpadapter.WithResponder(a.responder),
	}
	if a.Syncer != nil {
		opts = append(opts, httpadapter.WithSyncer(a.Syncer))
	}
	return httpadapter.NewHandler(a.Sessions, a.gatherer, opts...)
}

// Close stops background work and releases store connections.
func (a *App) Close() error {
	if a.Syncer != nil {
		a.Syncer.Stop()
	}
	a.Sessions.Close()

	var firstErr error
	for _, closer := range a.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) buildStore() (ports.SessionStore, ports.DistributedLocker, error) {
	cfg := a.cfg.Store
	switch cfg.Backend {
	case "", "memory":
		return memory.NewStore(), nil, nil

	case "file":
		return file.NewStore(cfg.Path), nil, nil

	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisadapter.NewFromClient(client,
			redisadapter.WithPrefix(cfg.Redis.Prefix),
			redisadapter.WithTTL(cfg.Redis.TTL.Std()),
		)
		a.closers = append(a.closers, store.Close)

		var locker ports.DistributedLocker
		if cfg.Redis.Lock {
			locker = redisadapter.NewLocker(client, cfg.Redis.Prefix)
		}
		return store, locker, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
