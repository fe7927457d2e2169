// Package app wires the bestiary server runtime: config, logging,
// storage, metrics, the command dispatcher and the websocket gateway.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bestiary/cmd/identity"
	"bestiary/cmd/internal/auth/session"
	"bestiary/cmd/internal/commands"
	"bestiary/cmd/internal/creature"
	"bestiary/cmd/internal/dispatch"
	"bestiary/cmd/internal/gateway"
	"bestiary/cmd/internal/mail"
	"bestiary/cmd/security/password"
)

// App owns the wired server runtime.
type App struct {
	cfg Config
	log *slog.Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics
	hub     *gateway.Hub
	manager *gateway.Manager
	reaper  *session.Reaper
}

// New constructs a fully wired App. With an empty database URL the
// identity and creature stores are disabled entirely: affected
// commands answer DB_NOT_SUPPORTED while sessions run in memory.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	metrics := NewMetrics()

	var (
		pool      *pgxpool.Pool
		dbEnabled bool

		users     identity.Store
		creatures creature.Store
		sessions  session.Store

		// The gate always needs a user lookup for its online snapshot,
		// even when command storage is off. Without a database nobody
		// can log in, so an empty store is correct.
		gateUsers identity.Store
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled", "store", "memory")
		sessions = session.NewMemoryStore()
		gateUsers = identity.NewMemoryStore()
	} else {
		var err error
		pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}

		userStore, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		creatureStore, err := creature.NewPostgresStore(pool, creature.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		sessionStore, err := session.NewPostgresStore(pool, session.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}

		// Bootstrap order matters: creatures and sessions reference users.
		for _, ensure := range []func(context.Context) error{
			userStore.EnsureSchema,
			creatureStore.EnsureSchema,
			sessionStore.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}

		users = userStore
		creatures = creatureStore
		sessions = sessionStore
		gateUsers = userStore
		dbEnabled = true
		log.Info("db.enabled", "schema", cfg.DBSchema)
	}

	hub := gateway.NewHub(log, metrics.Broadcasts, metrics.Subscribed)

	hasher := password.Default()

	sessCfg := session.DefaultConfig()
	if cfg.SessionTimeout > 0 {
		sessCfg.Timeout = cfg.SessionTimeout
	}
	if cfg.TokenDigits > 0 {
		sessCfg.TokenDigits = cfg.TokenDigits
	}
	if cfg.ReapInterval > 0 {
		sessCfg.ReapInterval = cfg.ReapInterval
	}

	gate, err := session.NewGate(sessCfg, sessions, gateUsers, hasher, hub, log)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	reaper := session.NewReaper(gate, metrics.ReapedSessions, log)

	var sender mail.Sender
	if cfg.SMTPHost == "" {
		log.Info("mail.disabled", "sender", "log")
		sender = mail.NewLogSender(log)
	} else {
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			SSL:      cfg.SMTPSSL,
		}, log)
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			return nil, err
		}
		sender = smtp
	}

	cmdEnv := commands.Env{
		Gate:            gate,
		Users:           users,
		Creatures:       creatures,
		Hasher:          hasher,
		Mail:            sender,
		Pub:             hub,
		Log:             log,
		CodeDigits:      sessCfg.TokenDigits,
		RegistrationTTL: cfg.RegistrationTTL,
		ResetTTL:        cfg.ResetTTL,
		CreatureQuota:   cfg.CreatureQuota,
	}
	registry, err := cmdEnv.Registry()
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	dispatcher := dispatch.NewDispatcher(registry, gate, metrics.Dispatches, log)

	manager := gateway.NewManager(log, hub, dispatcher, gateway.Options{
		OriginRequired:    cfg.WSOriginRequired,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		DevInsecure:       cfg.WSDevInsecure,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadIdleTimeout:   cfg.WSReadIdleTimeout,
		SendQueueSize:     cfg.WSSendQueue,
		HeartbeatInterval: cfg.WSHeartbeat,
		RateEvents:        cfg.WSRateEvents,
		RateWindow:        cfg.WSRateWindow,
		Live:              metrics.LiveConnections,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		hub:       hub,
		manager:   manager,
		reaper:    reaper,
	}, nil
}

// Run starts the reaper and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go a.reaper.Run(reapCtx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.manager, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not touch hijacked websocket connections; the
	// manager tears those down itself.
	a.manager.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}
