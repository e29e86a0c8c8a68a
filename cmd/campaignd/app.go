package main

import (
	"context"
	"errors"

	"voice-campaigns/internal/audit"
	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/events"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/migrate"
	"voice-campaigns/internal/poller"
	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/reconcile"
	"voice-campaigns/internal/reporting"
	"voice-campaigns/internal/sweeper"
	"voice-campaigns/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	db  *pgxpool.Pool
	rdb *redis.Client

	publisher events.Publisher
	closePub  func() error

	campaigns *campaigns.PostgresStore
	ledger    *ledger.Service
	audit     *audit.Service
	provider  *provider.Client
	engine    *reconcile.Engine
	poller    *poller.Poller
	sweeper   *sweeper.Sweeper
	reporting *reporting.Service
}

func newApp(ctx context.Context) (*app, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, eris.Wrap(err, "postgres init")
	}
	a := &app{db: db, publisher: events.Noop{}, closePub: func() error { return nil }}

	if cfg.DB.MigrateOnBoot {
		if err := migrate.Migrate(ctx, db, log); err != nil {
			a.Close()
			return nil, err
		}
	}

	lease := poller.Lease(poller.LocalLease{})
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			a.Close()
			return nil, eris.Wrap(err, "redis init")
		}
		a.rdb = rdb
		lease = poller.NewRedisLease(rdb)
	} else {
		log.Warn("REDIS_HOST not set; poller leases are process-local")
	}

	if cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			a.Close()
			return nil, eris.Wrap(err, "amqp init")
		}
		a.publisher = pub
		a.closePub = pub.Close
	}

	a.provider, err = provider.NewClient(provider.ClientOptions{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		Burst:         cfg.Provider.Burst,
		Retry:         provider.DefaultRetryConfig(),
		Logger:        log,
	})
	if err != nil {
		a.Close()
		return nil, eris.Wrap(err, "provider init")
	}

	a.campaigns = campaigns.NewPostgresStore(db)
	a.ledger = ledger.NewService(ledger.NewPostgresStore(db))
	a.audit = audit.NewService(audit.NewPostgresRepo(db))
	a.engine = reconcile.NewEngine(reconcile.Options{
		Ledger: a.ledger,
		Store:  a.campaigns,
		Audit:  a.audit,
		Events: a.publisher,
		Logger: log,
	})
	a.poller = poller.New(a.provider, a.engine, lease, poller.Config{
		Interval:      cfg.Poller.Interval,
		MaxIterations: cfg.Poller.MaxIterations,
	}, log)
	a.sweeper = sweeper.New(a.campaigns, a.ledger, sweeper.Config{
		Interval:    cfg.Sweeper.Interval,
		GraceWindow: cfg.Sweeper.GraceWindow,
		BatchSize:   cfg.Sweeper.BatchSize,
		Concurrency: cfg.Sweeper.Concurrency,
	}, log)
	a.reporting = reporting.NewService(a.campaigns, a.ledger)
	return a, nil
}

func (a *app) Close() {
	var errs []error
	if a.closePub != nil {
		errs = append(errs, a.closePub())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("shutdown cleanup failed", "err", err)
	}
}
