// Package app is the composition root: it builds every component from
// Config and owns their lifetimes.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"taskpulse/internal/config"
	"taskpulse/internal/geo"
	"taskpulse/internal/lifecycle"
	"taskpulse/internal/notify"
	"taskpulse/internal/queue"
	"taskpulse/internal/remote"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
	"taskpulse/internal/store"
)

type App struct {
	cfg config.Config
	db  *sql.DB
	rdb *redis.Client

	Adapter     storage.Adapter
	Scheduler   *scheduler.Scheduler
	Store       *store.Store
	Sync        *queue.SyncQueue
	Resolver    *geo.Resolver
	Coordinator *lifecycle.Coordinator
}

func New(cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	adapter, err := a.newAdapter()
	if err != nil {
		return nil, err
	}
	a.Adapter = adapter

	a.Scheduler = scheduler.New(newNotifier(cfg.Reminder), newAlerter(cfg.Reminder), scheduler.Options{
		Lead:         cfg.Reminder.Lead.Duration(),
		ClampDelay:   cfg.Reminder.ClampDelay.Duration(),
		ClampPastDue: cfg.Reminder.ClampPastDue,
		PushTimeout:  cfg.Reminder.PushTimeout.Duration(),
	})
	a.Store = store.New(adapter, a.Scheduler)

	authority, conn, err := newRemote(cfg.Sync)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.Sync = queue.NewSyncQueue(adapter, authority, conn, cfg.Sync.Timeout.Duration())

	var primary geo.Geocoder
	if cfg.Geo.URL != "" {
		primary = geo.NewNominatim(cfg.Geo.URL, cfg.Geo.Timeout.Duration())
	}
	a.Resolver = geo.NewResolver(primary)

	a.Coordinator = lifecycle.New(a.Store, a.Scheduler, a.Sync, lifecycle.Options{
		ReconcileSpec: cfg.Lifecycle.ReconcileCron,
		SyncRetrySpec: cfg.Sync.RetryCron,
	})
	return a, nil
}

// Start loads persisted state and starts periodic jobs.
func (a *App) Start(ctx context.Context) error {
	return a.Coordinator.Start(ctx)
}

// Close drains the store writer before stopping reminders, so no mutation
// can arm a timer after shutdown.
func (a *App) Close(ctx context.Context) error {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Coordinator != nil {
		a.Coordinator.Stop(ctx)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	return nil
}

func (a *App) newAdapter() (storage.Adapter, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		return storage.NewMemory(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.rdb = rdb
		return storage.NewRedis(rdb, a.cfg.Redis.Prefix), nil
	default:
		db, err := storage.OpenSQLite(a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		return storage.NewSQLite(db), nil
	}
}

func newNotifier(cfg config.ReminderConfig) notify.Notifier {
	if cfg.PushURL == "" {
		return notify.Disabled{}
	}
	return notify.NewGateway(cfg.PushURL, cfg.PushTimeout.Duration())
}

func newAlerter(cfg config.ReminderConfig) notify.Alerter {
	fields := strings.Fields(cfg.AlertCommand)
	if len(fields) == 0 {
		return notify.LogAlerter{}
	}
	return notify.CommandAlerter{Command: fields[0], Args: fields[1:]}
}

func newRemote(cfg config.SyncConfig) (remote.Authority, remote.Connectivity, error) {
	if cfg.URL == "" {
		log.Info().Float64("success_rate", cfg.SuccessRate).Msg("no SYNC_URL, using simulated authority")
		return remote.NewSimulated(cfg.SuccessRate), remote.Static(true), nil
	}
	probe, err := remote.ProbeFor(cfg.URL, 3*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("SYNC_URL: %w", err)
	}
	return remote.NewHTTP(cfg.URL, cfg.Timeout.Duration()), probe, nil
}
