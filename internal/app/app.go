// Package app assembles the hub, its adapters and its network surfaces from
// configuration and runs them until the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HMasataka/linehub/internal/config"
	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/adapter"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/gateway"
	"github.com/HMasataka/linehub/pkg/httpapi"
	"github.com/HMasataka/linehub/pkg/hub"
	"github.com/HMasataka/linehub/pkg/messagelog"
	"github.com/HMasataka/linehub/pkg/registry"
	"github.com/HMasataka/linehub/pkg/storage"
	"github.com/HMasataka/linehub/pkg/storage/filestore"
	"github.com/HMasataka/linehub/pkg/storage/redisstore"
	"github.com/HMasataka/linehub/pkg/storage/sqlitestore"
	"github.com/HMasataka/linehub/pkg/transport/websocket"
)

const (
	shutdownTimeout   = 5 * time.Second
	sessionSweepEvery = time.Minute
	eventBufferSize   = 256
	adapterQueueSize  = 128
)

// App is a fully wired hub process
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	store     storage.Store
	bus       *eventbus.InMemoryBus
	hub       *hub.Hub
	sessions  *auth.SessionStore
	simulator *adapter.Simulator
	binder    *adapter.Binder
	gateway   *websocket.Server
	handler   http.Handler
}

// New opens storage and wires every component. The returned App owns the
// store; Run closes it.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.New(cfg.Logging)
	}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New(store, registry.Options{MaxLines: cfg.Hub.MaxLines})
	msgs := messagelog.New(store, reg, messagelog.Options{
		DefaultLimit: cfg.Hub.HistoryDefault,
		MaxLimit:     cfg.Hub.HistoryMax,
	})
	bus := eventbus.NewInMemoryBus(eventBufferSize, logger.Component("eventbus"))

	seeds := make([]hub.Seed, 0, len(cfg.Hub.DefaultLines))
	for _, s := range cfg.Hub.DefaultLines {
		seeds = append(seeds, hub.Seed{ID: s.ID, DisplayName: s.DisplayName})
	}
	h := hub.New(reg, msgs, bus,
		hub.WithLogger(logger.Component("hub")),
		hub.WithAutoProvision(cfg.Hub.AutoProvision),
		hub.WithPairingTimeout(cfg.Hub.PairingTimeout),
		hub.WithSeeds(seeds),
	)

	if cfg.Adapter.Driver != adapter.SimulatorName {
		_ = store.Close()
		return nil, fmt.Errorf("unknown adapter driver %q", cfg.Adapter.Driver)
	}
	sim := adapter.NewSimulator(adapter.SimulatorConfig{
		SessionDir:    cfg.Adapter.SessionDir,
		AutoPairDelay: cfg.Adapter.AutoPairDelay,
		KeepDelivered: cfg.Adapter.KeepDelivered,
	}, h, logger.Component("adapter"))
	binder := adapter.NewBinder(sim, bus, adapterQueueSize, logger)
	binder.Bind()

	sessions := auth.NewSessionStore(cfg.Auth.SessionTTL)
	tokens := make([]auth.StaticToken, 0, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.StaticToken{Token: t.Token, SubjectID: t.SubjectID, SubjectType: t.SubjectType})
	}
	authn := auth.Chain{sessions, auth.NewStatic(tokens)}

	gw := gateway.New(h, bus, authn, gateway.Options{
		AllowAnonymousRead: cfg.Gateway.AllowAnonymousRead,
		OperatorTypes:      cfg.Gateway.OperatorTypes,
		RequestRate:        cfg.Gateway.RequestRate,
		RequestBurst:       cfg.Gateway.RequestBurst,
	}, logger.Component("gateway"))

	connOpts := websocket.DefaultConnOptions()
	connOpts.PingInterval = cfg.Gateway.PingInterval
	connOpts.ReadTimeout = cfg.Gateway.ReadTimeout
	connOpts.WriteTimeout = cfg.Gateway.WriteTimeout
	connOpts.SendBuffer = cfg.Gateway.SendBuffer

	wsServer := gw.Handler(
		websocket.WithLogger(logger.Component("websocket")),
		websocket.WithCheckOrigin(websocket.AllowOrigins(cfg.Server.AllowedOrigins)),
		websocket.WithConnOptions(connOpts),
	)

	router := httpapi.NewRouter(h, httpapi.Options{
		Authenticator:      authn,
		AllowAnonymousRead: cfg.Gateway.AllowAnonymousRead,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		DefaultLimit:       cfg.Hub.HistoryDefault,
		MaxLimit:           cfg.Hub.HistoryMax,
		GatewayPath:        cfg.Gateway.Path,
		Gateway:            wsServer,
		Logger:             logger.Component("http"),
	})

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		bus:       bus,
		hub:       h,
		sessions:  sessions,
		simulator: sim,
		binder:    binder,
		gateway:   wsServer,
		handler:   router,
	}, nil
}

// Handler returns the HTTP handler serving the API and the gateway
func (a *App) Handler() http.Handler {
	return a.handler
}

// Hub returns the wired hub
func (a *App) Hub() *hub.Hub {
	return a.hub
}

// Sessions returns the session store used to authenticate callers
func (a *App) Sessions() *auth.SessionStore {
	return a.sessions
}

// Run starts the hub and serves HTTP until ctx ends or a component fails
func (a *App) Run(ctx context.Context) error {
	addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	a.bus.Start(ctx)
	if err := a.hub.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start hub: %w", err)
	}

	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	a.logger.Info("linehub is up",
		"addr", ln.Addr().String(),
		"storage", a.cfg.Storage.Driver,
		"adapter", a.simulator.Name(),
		"gateway", a.cfg.Gateway.Path,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveHTTP(server, ln)
	})
	group.Go(func() error {
		return a.binder.Run(groupCtx)
	})
	group.Go(func() error {
		a.sweepSessions(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
		if err := a.gateway.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("gateway shutdown", "error", err)
		}
		return nil
	})

	err := group.Wait()
	a.logger.Info("linehub stopped")
	return err
}

func (a *App) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.PurgeExpired(); n > 0 {
				a.logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}

func (a *App) close() {
	a.simulator.Stop()
	if err := a.hub.Stop(); err != nil {
		a.logger.Warn("hub stop", "error", err)
	}
	a.bus.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("storage close", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverFile:
		return filestore.Open(cfg.Dir)
	case config.DriverSQLite:
		return sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLitePath, Logger: logger.Component("sqlite").Logger})
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func serveHTTP(server *http.Server, listener net.Listener) error {
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run wires cfg and serves until ctx ends
func Run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
