package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"therapyline/internal/api"
	"therapyline/internal/broker"
	"therapyline/internal/config"
	"therapyline/internal/database"
	"therapyline/internal/hub"
	"therapyline/internal/presence"
	"therapyline/internal/request"
	"therapyline/internal/router"
	"therapyline/internal/sse"
	"therapyline/internal/websocket"
	"therapyline/pkg/logger"
)

// limiterCleanupInterval is how often idle rate-limit state is dropped.
const limiterCleanupInterval = 5 * time.Minute

// Application wires every component of the service.
// Initialization order: Store → Directory seed → Presence → Router → Hub →
// Engine → Transports → HTTP. Shutdown runs in reverse.
type Application struct {
	config     *config.Config
	log        *logger.Logger
	store      *database.Manager
	presence   *presence.Registry
	hub        *hub.Hub
	engine     *request.Engine
	janitor    *request.Janitor
	limiter    *api.RateLimiter
	httpServer *http.Server

	listener net.Listener
	group    *errgroup.Group
	cancel   context.CancelFunc
	ready    chan struct{}
}

// NewApplication builds the application. The database is migrated and the
// directory seeded before it returns.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(cfg.Database.StoreConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	if cfg.Directory.SeedFile != "" {
		seed, err := database.LoadSeedFile(cfg.Directory.SeedFile)
		if err == nil {
			err = database.ApplySeed(ctx, store, seed, log)
		}
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed directory: %w", err)
		}
	}

	var sinks []hub.Sink
	if cfg.Events.AMQPURL != "" {
		sink, err := broker.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize event sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	registry := presence.NewRegistry(log)
	fanout := router.NewRouter(registry, log)
	notifications := hub.NewHub(fanout, cfg.Events.QueueSize, log, sinks...)
	engine := request.NewEngine(store, store, notifications, log)
	janitor := request.NewJanitor(engine, cfg.Requests.PendingTTL, cfg.Requests.SweepInterval, log)
	limiter := api.NewRateLimiter(cfg.Requests.RateLimitPerMinute, time.Minute)

	apiServer := api.NewServer(api.Options{
		Engine:    engine,
		Directory: store,
		Store:     store,
		Presence:  registry,
		Dispatch:  notifications,
		WebSocket: websocket.NewHandler(registry, store, *cfg.WebSocket, log),
		Events:    sse.NewHandler(registry, cfg.WebSocket.BufferSize, cfg.WebSocket.PingInterval, cfg.WebSocket.WriteTimeout, log),
		Limiter:   limiter,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	// Delivery channels outlive any request; close them so Shutdown can finish.
	httpServer.RegisterOnShutdown(func() {
		closed := registry.CloseAll()
		log.Info("Closed delivery channels", logger.Int("count", closed))
	})

	return &Application{
		config:     cfg,
		log:        log.Named("app"),
		store:      store,
		presence:   registry,
		hub:        notifications,
		engine:     engine,
		janitor:    janitor,
		limiter:    limiter,
		httpServer: httpServer,
		ready:      make(chan struct{}),
	}, nil
}

// Start binds the listener and starts background work. It returns once the
// server accepts connections.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	// Background work stops on Stop, not when the caller's ctx ends, so the
	// hub can drain.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start notification hub: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	app.group = group

	group.Go(func() error {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	group.Go(func() error { return app.janitor.Run(groupCtx) })
	group.Go(func() error { return app.limiter.Run(groupCtx, limiterCleanupInterval) })

	app.log.Info("Therapyline started", logger.String("addr", listener.Addr().String()))
	close(app.ready)
	return nil
}

// Ready is closed once Start has bound the listener.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// Wait blocks until background work ends and returns its first error.
func (app *Application) Wait() error {
	if app.group == nil {
		return nil
	}
	return app.group.Wait()
}

// Run starts the application and stops it when ctx is cancelled or a
// background task fails.
func (app *Application) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	failed := make(chan error, 1)
	go func() { failed <- app.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-failed:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop shuts down in reverse dependency order: HTTP → background work → Hub →
// Database.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	if app.cancel != nil {
		app.cancel()
	}
	if err := app.Wait(); err != nil {
		errs = append(errs, err)
	}

	if app.hub.IsRunning() {
		if err := app.hub.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
	}

	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.log.Info("Shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, else the configured one.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Engine exposes the request engine, for embedding and tests.
func (app *Application) Engine() *request.Engine {
	return app.engine
}
