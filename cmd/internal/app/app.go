// Package app wires the OpenOn server runtime: config, logging, stores,
// domain services, HTTP routes, and the letter lifecycle sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"openon/cmd/internal/api"
	"openon/cmd/internal/auth"
	"openon/cmd/internal/identity"
	"openon/cmd/internal/letter"
	"openon/cmd/internal/lifecycle"
	"openon/cmd/internal/media"
	"openon/cmd/internal/metrics"
	"openon/cmd/internal/migrate"
	"openon/cmd/internal/realtime"
	"openon/cmd/internal/recipient"
)

// App is the OpenOn server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Metrics
	api     *api.Handler
	gateway *realtime.Gateway
	sweeper *lifecycle.Sweeper
}

// stores groups the per-domain persistence picked by newStores.
type stores struct {
	letters    letter.Store
	letterRecs letter.RecipientSource
	recipients recipient.Store
	users      identity.Store
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTTTL)
	if err != nil {
		return nil, err
	}

	pool, st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	dbEnabled := pool != nil

	m := metrics.New()
	feed := realtime.NewFeed(log)

	letterSvc, err := letter.NewService(st.letters, st.letterRecs, log, letter.WithEventSink(feed))
	if err != nil {
		return nil, err
	}
	recipientSvc, err := recipient.NewService(st.recipients, log)
	if err != nil {
		return nil, err
	}
	userSvc, err := identity.NewService(st.users, log)
	if err != nil {
		return nil, err
	}

	sweeper, err := lifecycle.New(st.letters, log,
		lifecycle.WithInterval(cfg.SweepInterval),
		lifecycle.WithEventSink(feed),
		lifecycle.WithCounters(m.LettersPromoted, m.LettersExpired),
	)
	if err != nil {
		return nil, err
	}

	apiOpts := []api.HandlerOption{api.WithMetrics(m)}
	if cfg.S3Bucket != "" {
		storage, err := media.NewStorage(ctx, media.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithStorage(storage))
		log.Info("media.enabled", "bucket", cfg.S3Bucket)
	}

	apiHandler, err := api.NewHandler(log, letterSvc, recipientSvc, userSvc, tokens, apiOpts...)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		metrics:   m,
		api:       apiHandler,
		gateway:   realtime.NewGateway(log, feed, tokens),
		sweeper:   sweeper,
	}, nil
}

// Run starts the sweeper and the HTTP server, then blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.api, a.gateway)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log, a.metrics)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go func() {
		if err := a.sweeper.Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("sweeper.fail", "err", err)
		}
	}()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores. The pool is nil in memory mode.
func newStores(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		letters := letter.NewMemoryStore()
		return nil, stores{
			letters:    letters,
			letterRecs: letters,
			recipients: &mirrorRecipientStore{
				MemoryStore: recipient.NewMemoryStore(),
				letters:     letters,
			},
			users: identity.NewMemoryStore(),
		}, nil
	}

	if cfg.MigrateOnStart {
		if err := migrate.Up(ctx, cfg.DatabaseURL, log); err != nil {
			return nil, stores{}, err
		}
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, stores{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	letters, err := letter.NewPostgresStore(pool, letter.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, stores{}, err
	}
	recipients, err := recipient.NewPostgresStore(pool, recipient.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, stores{}, err
	}
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, stores{}, err
	}

	return pool, stores{
		letters:    letters,
		letterRecs: recipientSource{store: recipients},
		recipients: recipients,
		users:      users,
	}, nil
}

// recipientSource bridges the recipient store into the letter domain's
// narrow lookup interface.
type recipientSource struct {
	store recipient.Store
}

func (r recipientSource) GetOwned(ctx context.Context, ownerID, recipientID string) (letter.RecipientRef, error) {
	rec, err := r.store.GetOwned(ctx, ownerID, recipientID)
	if err != nil {
		if errors.Is(err, recipient.ErrNotFound) {
			return letter.RecipientRef{}, letter.ErrNotFound
		}
		return letter.RecipientRef{}, err
	}
	return letter.RecipientRef{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		LinkedUserID: rec.LinkedUserID,
		Email:        rec.Email,
	}, nil
}

// mirrorRecipientStore copies contact creates into the letter MemoryStore so
// joined letter reads resolve in memory mode, the way the Postgres stores
// share one recipients table.
type mirrorRecipientStore struct {
	*recipient.MemoryStore
	letters *letter.MemoryStore
}

func (m *mirrorRecipientStore) Create(ctx context.Context, in recipient.Recipient) (recipient.Recipient, error) {
	rec, err := m.MemoryStore.Create(ctx, in)
	if err != nil {
		return rec, err
	}
	m.letters.PutRecipient(letter.RecipientRef{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		LinkedUserID: rec.LinkedUserID,
		Email:        rec.Email,
	})
	return rec, nil
}
