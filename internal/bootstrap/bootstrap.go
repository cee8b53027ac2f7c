package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"ordersync-go/internal/app/services"
	domainauth "ordersync-go/internal/domain/auth"
	"ordersync-go/internal/domain/auth/model"
	authstore "ordersync-go/internal/domain/auth/store"
	"ordersync-go/internal/domain/eventbus"
	eventinfra "ordersync-go/internal/domain/eventbus/infrastructure"
	"ordersync-go/internal/domain/eventbus/repository"
	"ordersync-go/internal/domain/orders"
	platformconfig "ordersync-go/internal/platform/config"
	platformerrors "ordersync-go/internal/platform/errors"
	platformlogging "ordersync-go/internal/platform/logging"
	platformobservability "ordersync-go/internal/platform/observability"
	platformstorage "ordersync-go/internal/platform/storage"
	"ordersync-go/internal/transport/rest"
	httptransport "ordersync-go/internal/transport/http"
	"ordersync-go/internal/transport/ws"
	"ordersync-go/internal/util"
)

const (
	eventBusBuffer  = 1024
	shutdownTimeout = 15 * time.Second
	journalSweep    = time.Hour
)

// Options configures Run.
type Options struct {
	ConfigPath string
	// DisableDotEnv skips loading a .env file.
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc

	databases    map[string]*gorm.DB
	refreshStore authstore.Storage
	tenant       model.TenantContext
	authManager  *domainauth.Manager

	bus     *eventbus.AsyncEventBus
	journal repository.EventRepository

	orderClient *rest.OrderClient
	store       *orders.Store
	inbox       *orders.Inbox
	orderSync   *services.OrderSync
	listener    *ws.Listener
	hub         *ws.Hub

	// authFailures is signalled when the listener gives up on credentials.
	authFailures chan struct{}

	router *httptransport.Router
}

// Run starts the synchroniser and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.release()
		return err
	}
	defer state.release()

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	return waitForShutdown(signalCtx, groupCtx, cancel, state, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.DebugTag("Bootstrap", "%s: %s", step.ID, step.Title)
			continue
		}
		logger.DebugTag("Bootstrap", "%s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the initialisation steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-refresh-store",
			Title:     "Initialise refresh token storage",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initRefreshStoreStep,
		},
		{
			ID:        "auth:init-manager",
			Title:     "Initialise token manager",
			DependsOn: []string{"storage:init-refresh-store", "observability:setup-hooks"},
			Execute:   initAuthStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise connection event bus",
			DependsOn: []string{"observability:setup-hooks"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "orders:init-store",
			Title:     "Initialise order store",
			DependsOn: []string{"auth:init-manager"},
			Kind:      platformerrors.KindDomain,
			Execute:   initOrdersStep,
		},
		{
			ID:        "connection:init-listener",
			Title:     "Initialise event connection",
			DependsOn: []string{"orders:init-store", "eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initConnectionStep,
		},
		{
			ID:        "http:init-router",
			Title:     "Initialise status API",
			DependsOn: []string{"connection:init-listener"},
			Kind:      platformerrors.KindTransport,
			Execute:   initHTTPStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader(state.opts.ConfigPath).
		WithDotEnv(!state.opts.DisableDotEnv).
		Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults+env"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("Bootstrap", "logging ready [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled || state.config.Connection.Debug,
		Verbose: state.config.Connection.Debug,
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// database opens dsn once and shares the handle between users.
func (s *appState) database(dsn string) (*gorm.DB, error) {
	if db, ok := s.databases[dsn]; ok {
		return db, nil
	}
	db, err := platformstorage.Open(dsn)
	if err != nil {
		return nil, err
	}
	if s.databases == nil {
		s.databases = make(map[string]*gorm.DB)
	}
	s.databases[dsn] = db
	return db, nil
}

func initRefreshStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.Auth.RefreshStore
	storeCfg := authstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Type)),
		TTL:    cfg.TTL,
	}

	var deps authstore.Dependencies
	switch storeCfg.Driver {
	case authstore.DriverSQLite:
		storeCfg.SQLite = &authstore.SQLiteConfig{DSN: cfg.SQLite.DSN}
		db, err := state.database(cfg.SQLite.DSN)
		if err != nil {
			return err
		}
		deps.SQLiteDB = db
	case authstore.DriverRedis:
		if cfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindConfig, "storage:init-refresh-store", "redis store addr is required")
		}
		storeCfg.Redis = &authstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	default:
		storeCfg.Driver = authstore.DriverMemory
		storeCfg.Memory = &authstore.MemoryConfig{GCInterval: 10 * time.Minute}
	}

	refreshStore, err := authstore.New(storeCfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-refresh-store", "failed to create refresh token store", err)
	}
	state.refreshStore = refreshStore
	state.logger.InfoTag("Auth", "refresh tokens kept in %s storage", storeCfg.Driver)
	return nil
}

func initAuthStep(_ context.Context, state *appState) error {
	cfg := state.config
	state.tenant = model.TenantContext{
		BaseURL:       strings.TrimRight(cfg.Ordering.BaseURL, "/"),
		Tenant:        cfg.Ordering.Tenant,
		BasicAuth:     cfg.Ordering.BasicAuth,
		AnonymousAuth: cfg.Ordering.AnonymousAuth,
	}

	authLogger := state.logger.Tagged("Auth")
	authClient := rest.NewAuthClient(rest.ClientConfig{
		BaseURL: state.tenant.BaseURL,
		Timeout: cfg.Ordering.RequestTimeout,
	}, authLogger)

	manager, err := domainauth.NewManager(domainauth.Options{
		Authorizer:          authClient,
		Logger:              authLogger,
		ExpiryMargin:        cfg.Auth.ExpiryMargin,
		NegativeCacheWindow: cfg.Auth.NegativeCacheWindow,
		GateTimeout:         cfg.Auth.GateTimeout,
		Listeners: map[string]model.InvalidationListener{
			state.tenant.Tenant: func(tenant string) {
				authLogger.Warn("refresh token of %s is no longer valid, manual login required", tenant)
			},
		},
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "auth:init-manager", "failed to create token manager", err)
	}
	state.authManager = manager
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(eventBusBuffer)
	handlers := []eventbus.EventHandler{eventbus.NewObservabilityHandler()}

	if state.config.Journal.Enabled {
		db, err := state.database(state.config.Journal.DSN)
		if err != nil {
			return err
		}
		state.journal = eventinfra.NewEventRepository(db)
		logger := state.logger
		handlers = append(handlers, eventbus.NewJournalHandler(state.journal, func(err error) {
			logger.WarnTag("WebSocket", "connection event not journaled: %v", err)
		}))
	}

	if err := eventbus.SetupEventHandlers(bus, handlers...); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "eventbus:init", "failed to subscribe event handlers", err)
	}
	state.bus = bus
	return nil
}

func initOrdersStep(_ context.Context, state *appState) error {
	cfg := state.config
	ordersLogger := state.logger.Tagged("Orders")
	provider := state.authManager.Provider(state.tenant, state.refreshStore, false)

	state.orderClient = rest.NewOrderClient(rest.ClientConfig{
		BaseURL: state.tenant.BaseURL,
		Timeout: cfg.Ordering.RequestTimeout,
	}, provider, nil, ordersLogger)

	store, err := orders.NewStore(orders.Options{
		Creator: state.orderClient,
		Logger:  ordersLogger,
	})
	if err != nil {
		return err
	}
	state.store = store
	state.authFailures = make(chan struct{}, 1)
	state.inbox = orders.NewInbox(store, orders.Scope{KDS: cfg.Ordering.KDS, Venue: cfg.Ordering.Venue}, cfg.Orders.InboxSize, ordersLogger)

	orderSync, err := services.NewOrderSync(services.OrderSyncConfig{
		Tenant:               cfg.Ordering.Tenant,
		Venue:                cfg.Ordering.Venue,
		KDS:                  cfg.Ordering.KDS,
		OnlyCompletedForUser: cfg.Ordering.OnlyCompletedForUser,
	}, store, state.inbox, state.orderClient, services.OrderSyncCallbacks{
		OnNotification: func(n orders.Notification) {
			ordersLogger.Info("notification for order %s: %s", n.ID, n.Message)
		},
		OnSteering: func(cmd services.SteeringCommand) {
			ordersLogger.Info("steering command %q received", cmd.Type)
		},
		OnAuthFailure: func() {
			select {
			case state.authFailures <- struct{}{}:
			default:
			}
		},
	}, state.logger)
	if err != nil {
		return err
	}
	state.orderSync = orderSync
	return nil
}

func initConnectionStep(_ context.Context, state *appState) error {
	cfg := state.config
	conn := cfg.Connection

	listener, err := ws.NewListener(ws.Config{
		BaseURL:           state.tenant.BaseURL,
		BrokerURL:         cfg.Ordering.BrokerURL,
		Tenant:            cfg.Ordering.Tenant,
		Venue:             cfg.Ordering.Venue,
		KDS:               cfg.Ordering.KDS,
		Steering:          conn.Steering,
		ReconnectDelay:    conn.ReconnectDelay,
		BrokerErrorDelay:  conn.BrokerErrorDelay,
		HandshakeTimeout:  conn.HandshakeTimeout,
		HeartbeatIncoming: conn.HeartbeatIncoming,
		HeartbeatOutgoing: conn.HeartbeatOutgoing,
		TokenRetry: util.RetryPolicy{
			MaxAttempts: conn.TokenRetry.MaxAttempts,
			Base:        conn.TokenRetry.BaseDelay,
			Multiplier:  conn.TokenRetry.Multiplier,
			Cap:         conn.TokenRetry.MaxDelay,
		},
	},
		state.authManager.Provider(state.tenant, state.refreshStore, false),
		state.orderSync.Handlers(),
		state.logger.Tagged("WebSocket"),
		ws.WithBus(state.bus),
	)
	if err != nil {
		return err
	}

	hub := ws.NewHub(state.logger.Tagged("WebSocket"))
	if err := hub.Register(listener); err != nil {
		return err
	}
	state.listener = listener
	state.hub = hub
	return nil
}

func initHTTPStep(_ context.Context, state *appState) error {
	cfg := state.config.HTTP
	if !cfg.Enabled {
		return nil
	}
	router, err := httptransport.Build(httptransport.Options{
		Logger:    state.logger,
		Debug:     strings.EqualFold(state.config.Log.Level, "debug"),
		StaticDir: cfg.StaticDir,
	})
	if err != nil {
		return err
	}
	httptransport.NewStatusHandler(state.config.Ordering.Tenant, state.store, state.hub, state.journal).RegisterRoutes(router)
	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", nil)
	})
	state.router = router
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	logger := state.logger

	state.bus.Start()

	g.Go(func() error {
		return state.inbox.Run(groupCtx)
	})

	if state.journal != nil && state.config.Journal.Retention > 0 {
		g.Go(func() error {
			sweepJournal(groupCtx, state.journal, state.config.Journal.Retention, logger)
			return nil
		})
	}

	if state.router != nil {
		startHTTPServer(state.config.HTTP.Addr, state.router, logger, g, groupCtx)
	}

	dispose, err := state.orderSync.Start(groupCtx, state.listener, func(rec *orders.Record, all map[string]orders.Record) {
		if rec != nil && rec.Order != nil {
			logger.DebugTag("Orders", "order %s is %s (%d tracked)", rec.Order.ID, rec.Status, len(all))
			return
		}
		logger.DebugTag("Orders", "order map changed (%d tracked)", len(all))
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "connection:start", "failed to start event connection", err)
	}
	g.Go(func() error {
		<-groupCtx.Done()
		dispose()
		_ = state.listener.Wait()
		return nil
	})

	g.Go(func() error {
		return superviseCredentials(groupCtx, state)
	})

	logger.InfoTag("Bootstrap", "order sync running for tenant %s", state.config.Ordering.Tenant)
	return nil
}

// superviseCredentials reconnects the event connection after it gave up
// waiting for a token. With no retry delay configured the failure is
// returned so the daemon exits.
func superviseCredentials(ctx context.Context, state *appState) error {
	logger := state.logger
	delay := state.config.Connection.AuthRetryDelay
	tenant := state.config.Ordering.Tenant

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-state.authFailures:
		}

		if delay <= 0 {
			logger.ErrorTag("Auth", "no credential for %s, stopping", tenant)
			return platformerrors.New(platformerrors.KindCredentialUnavailable, "connection:auth",
				fmt.Sprintf("no credential available for tenant %s", tenant))
		}

		logger.WarnTag("Auth", "no credential for %s, reconnecting in %s", tenant, delay)
		if err := util.Sleep(ctx, delay); err != nil {
			return nil
		}
		if _, err := state.listener.Connect(ctx); err != nil {
			switch {
			case errors.Is(err, ws.ErrShutDown):
				return nil
			case errors.Is(err, ws.ErrAlreadyConnected):
				continue
			}
			return platformerrors.Wrap(platformerrors.KindTransport, "connection:auth", "failed to restart event connection", err)
		}
	}
}

func startHTTPServer(addr string, router *httptransport.Router, logger *platformlogging.Logger, g *errgroup.Group, groupCtx context.Context) {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "status API listening on http://%s", addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "status API shutdown failed: %v", err)
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "status API failed: %v", err)
			return err
		}
		return nil
	})
}

func sweepJournal(ctx context.Context, journal repository.EventRepository, retention time.Duration, logger *platformlogging.Logger) {
	ticker := time.NewTicker(journalSweep)
	defer ticker.Stop()
	for {
		if err := journal.DeleteOldEvents(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			logger.WarnTag("WebSocket", "connection journal sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func waitForShutdown(signalCtx, groupCtx context.Context, cancel context.CancelFunc, state *appState, g *errgroup.Group) error {
	logger := state.logger
	select {
	case <-signalCtx.Done():
		logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(signalCtx))
	case <-groupCtx.Done():
		logger.WarnTag("Bootstrap", "a service stopped, shutting down: %v", context.Cause(groupCtx))
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

// release closes everything the init steps opened, in reverse order.
func (s *appState) release() {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	if s.inbox != nil {
		s.inbox.Stop()
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.refreshStore != nil {
		if err := s.refreshStore.Close(context.Background()); err != nil && s.logger != nil {
			s.logger.WarnTag("Auth", "refresh token store not closed: %v", err)
		}
	}
	for dsn, db := range s.databases {
		if err := platformstorage.Close(db); err != nil && s.logger != nil {
			s.logger.WarnTag("Bootstrap", "database %s not closed: %v", dsn, err)
		}
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.observabilityShutdown(ctx)
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
