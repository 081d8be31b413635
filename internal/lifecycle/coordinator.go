// Package lifecycle connects application state changes and periodic jobs to
// the store, reminder scheduler and sync queue.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"taskpulse/internal/domain"
)

type AppState string

const (
	StateActive     AppState = "active"
	StateBackground AppState = "background"
	StateInactive   AppState = "inactive"
)

func ParseState(s string) (AppState, error) {
	switch st := AppState(s); st {
	case StateActive, StateBackground, StateInactive:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown app state %q", domain.ErrValidation, s)
}

type Store interface {
	Load(ctx context.Context) error
	Tasks() []domain.Task
}

type Reminders interface {
	RequestPermission(ctx context.Context) bool
	ActiveCount() int
	Shutdown()
}

type Syncer interface {
	Sync(ctx context.Context, tasks []domain.Task) error
	Pending(ctx context.Context) (*domain.PendingSyncRecord, error)
}

type Options struct {
	// ReconcileSpec is a cron expression for the periodic armed-slot report.
	// Empty disables it.
	ReconcileSpec string
	// SyncRetrySpec is a cron expression for re-running a sync while a
	// pending record exists. Empty disables it.
	SyncRetrySpec string
}

type Coordinator struct {
	store     Store
	reminders Reminders
	syncer    Syncer
	opts      Options
	cron      *cron.Cron

	mu    sync.Mutex
	state AppState
}

func New(store Store, reminders Reminders, syncer Syncer, opts Options) *Coordinator {
	return &Coordinator{
		store:     store,
		reminders: reminders,
		syncer:    syncer,
		opts:      opts,
		cron:      cron.New(),
		state:     StateActive,
	}
}

// Start asks for push permission, loads persisted state (re-arming
// reminders) and starts the periodic jobs. A load failure is logged; the
// coordinator keeps running on whatever state is in memory.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.opts.ReconcileSpec != "" {
		if _, err := c.cron.AddFunc(c.opts.ReconcileSpec, func() { c.Reconcile() }); err != nil {
			return fmt.Errorf("reconcile schedule %q: %w", c.opts.ReconcileSpec, err)
		}
	}
	if c.opts.SyncRetrySpec != "" {
		if _, err := c.cron.AddFunc(c.opts.SyncRetrySpec, func() {
			if err := c.RetryPending(ctx); err != nil {
				log.Warn().Err(err).Msg("pending sync retry failed")
			}
		}); err != nil {
			return fmt.Errorf("sync retry schedule %q: %w", c.opts.SyncRetrySpec, err)
		}
	}

	c.reminders.RequestPermission(ctx)
	if err := c.store.Load(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load state, continuing with memory")
	}
	c.cron.Start()
	log.Info().
		Str("reconcile", c.opts.ReconcileSpec).
		Str("sync_retry", c.opts.SyncRetrySpec).
		Msg("lifecycle started")
	return nil
}

// HandleAppState records a transition. Returning to the foreground reports
// the armed reminder count.
func (c *Coordinator) HandleAppState(ctx context.Context, next AppState) int {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	log.Debug().Str("from", string(prev)).Str("state", string(next)).Msg("app state changed")
	if next == StateActive {
		return c.Reconcile()
	}
	return c.reminders.ActiveCount()
}

func (c *Coordinator) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconcile reports how many reminders are armed. It re-arms nothing.
func (c *Coordinator) Reconcile() int {
	n := c.reminders.ActiveCount()
	log.Info().Int("armed", n).Msg("active reminders")
	return n
}

// RetryPending syncs the current tasks if a pending record exists.
func (c *Coordinator) RetryPending(ctx context.Context) error {
	rec, err := c.syncer.Pending(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return c.syncer.Sync(ctx, c.store.Tasks())
}

// Stop halts periodic jobs, waiting for a running one, and stops local
// reminder timers. Push registrations stay with the push service.
func (c *Coordinator) Stop(ctx context.Context) {
	done := c.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	c.reminders.Shutdown()
	log.Info().Msg("lifecycle stopped")
}
