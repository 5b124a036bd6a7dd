// Package runtime builds the service from configuration and runs it until
// the process is asked to stop.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/pglocator/pglocator/internal/app"
	"github.com/pglocator/pglocator/internal/app/httpapi"
	"github.com/pglocator/pglocator/internal/app/realtime"
	"github.com/pglocator/pglocator/internal/app/scheduler"
	"github.com/pglocator/pglocator/internal/app/storage/postgres"
	"github.com/pglocator/pglocator/internal/app/storage/supabase"
	"github.com/pglocator/pglocator/internal/config"
	"github.com/pglocator/pglocator/internal/identity"
	"github.com/pglocator/pglocator/internal/kv"
	"github.com/pglocator/pglocator/internal/logging"
	"github.com/pglocator/pglocator/internal/middleware"
	"github.com/pglocator/pglocator/internal/platform/migrations"
	"github.com/pglocator/pglocator/supabase/client"
)

// Version is stamped at build time.
var Version = "dev"

// Application owns the configured service and the resources it opened.
type Application struct {
	cfg     *config.Config
	log     *logging.Logger
	app     *app.Application
	server  *httpServer
	closers []io.Closer
}

// Backends are the storage and identity pieces chosen by configuration.
type Backends struct {
	KV       kv.Store
	Stores   app.Stores
	Identity identity.Provider
	Supabase *client.Client
	closers  []io.Closer
}

// Close releases connections opened for the backends.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// OpenBackends connects the document store, the rooms store and the identity
// provider selected by cfg. Postgres schemas are migrated before use.
func OpenBackends(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Backends, error) {
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		_ = b.Close()
		return nil, err
	}

	if cfg.UsesSupabase() {
		c, _, err := client.NewResilient(client.Config{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.ServiceRoleKey,
		}, client.DefaultRetryConfig(), client.DefaultCircuitBreakerConfig())
		if err != nil {
			return fail(fmt.Errorf("supabase client: %w", err))
		}
		b.Supabase = c
	}

	var db *sqlx.DB
	if cfg.Storage.DatabaseURL != "" {
		if err := migrations.Up(cfg.Storage.DatabaseURL); err != nil {
			return fail(err)
		}
		var err error
		db, err = openDatabase(ctx, cfg.Storage)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, db)
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		b.KV = kv.NewPostgres(db)
	case config.BackendRedis:
		r, err := kv.NewRedisFromURL(ctx, cfg.Storage.RedisURL, "pglocator:")
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		b.KV = r
		b.closers = append(b.closers, r)
	case config.BackendSupabase:
		b.KV = kv.NewSupabase(b.Supabase, cfg.Storage.KVTable)
	default:
		b.KV = kv.NewMemory()
	}
	b.Stores = app.DocumentStores(b.KV)

	switch {
	case db != nil:
		rooms := postgres.New(db)
		b.Stores.Rooms, b.Stores.Amenities = rooms, rooms
	case cfg.Storage.Backend == config.BackendSupabase:
		rooms := supabase.New(b.Supabase)
		b.Stores.Rooms, b.Stores.Amenities = rooms, rooms
	}

	switch cfg.Auth.Provider {
	case config.AuthSupabase:
		b.Identity = identity.NewSupabase(b.Supabase, cfg.Supabase.JWTSecret)
	default:
		b.Identity = identity.NewLocal(b.KV, cfg.Auth.LocalJWTSecret, cfg.Auth.TokenTTL)
	}

	log.WithFields(map[string]interface{}{
		"storage":  cfg.Storage.Backend,
		"identity": b.Identity.Name(),
		"postgres": db != nil,
	}).Info("backends ready")
	return b, nil
}

func openDatabase(ctx context.Context, cfg config.StorageConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConn > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.MaxIdleConn > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewApplication wires the service described by cfg.
func NewApplication(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.New("pglocator", cfg.Logging.Level, cfg.Logging.Format)
	}
	backends, err := OpenBackends(ctx, cfg, log.Named("storage"))
	if err != nil {
		return nil, err
	}
	closers := append([]io.Closer{}, backends.closers...)
	fail := func(err error) (*Application, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	application, err := app.New(backends.Identity, backends.Stores, app.Options{
		AdminInviteCode:   cfg.Auth.AdminInviteCode,
		NotificationLimit: cfg.Features.NotificationCap,
	}, log)
	if err != nil {
		return fail(fmt.Errorf("build application: %w", err))
	}

	audit, err := httpapi.OpenAuditSink(cfg.Logging.AuditLogPath)
	if err != nil {
		return fail(fmt.Errorf("open audit log: %w", err))
	}
	closers = append(closers, audit)

	limiter := middleware.NewRateLimiter(float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, log.Named("ratelimit"))
	handler := httpapi.NewHandler(application, httpapi.Options{
		BasePath:       cfg.Server.BasePath,
		Version:        Version,
		AllowedOrigins: cfg.Server.AllowedOrigins(),
		RateLimiter:    limiter,
		DemoEndpoints:  cfg.Features.DemoEndpoints,
		AuditOutput:    audit,
	}, log.Named("http"))

	if cfg.Features.BackfillCron != "" {
		sched := scheduler.New(log.Named("scheduler"))
		if err := sched.Add("booking-backfill", cfg.Features.BackfillCron, scheduler.BackfillJob(application.Bookings, log.Named("backfill"))); err != nil {
			return fail(err)
		}
		if err := application.Attach(sched); err != nil {
			return fail(err)
		}
	}

	if cfg.Features.RealtimeBridge {
		source := client.NewRealtimeClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey)
		if err := application.Attach(realtime.NewBridge(source, application.Hub, log.Named("realtime"))); err != nil {
			return fail(err)
		}
	}

	if err := application.Attach(limiter); err != nil {
		return fail(err)
	}

	server := newHTTPServer(&http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}, log.Named("http"))
	if err := application.Attach(server); err != nil {
		return fail(err)
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		server:  server,
		closers: closers,
	}, nil
}

// Services lists the lifecycle components in start order.
func (a *Application) Services() []string {
	return a.app.Services()
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		a.closeResources()
		return fmt.Errorf("start: %w", err)
	}
	a.log.WithField("services", a.app.Services()).Infof("listening on %s", a.cfg.Server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown requested")
	case runErr = <-a.server.Err():
		a.log.WithError(runErr).Error("http server stopped")
	}
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops every component in reverse start order and closes the
// resources opened for them.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err := a.app.Stop(ctx)
	return errors.Join(err, a.closeResources())
}

func (a *Application) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
