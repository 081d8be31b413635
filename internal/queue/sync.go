// Package queue defers delivery of task snapshots to the remote authority.
// A failed or impossible attempt leaves exactly one pending record behind,
// overwritten by the next failure and cleared by the next success. Nothing
// here retries on its own.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"taskpulse/internal/domain"
	"taskpulse/internal/remote"
	"taskpulse/internal/storage"
)

const defaultTimeout = 10 * time.Second

type SyncQueue struct {
	adapter   storage.Adapter
	authority remote.Authority
	conn      remote.Connectivity
	timeout   time.Duration
	now       func() time.Time
}

func NewSyncQueue(adapter storage.Adapter, authority remote.Authority, conn remote.Connectivity, timeout time.Duration) *SyncQueue {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SyncQueue{
		adapter:   adapter,
		authority: authority,
		conn:      conn,
		timeout:   timeout,
		now:       time.Now,
	}
}

// WithClock overrides time.Now; used by tests.
func (q *SyncQueue) WithClock(now func() time.Time) *SyncQueue {
	q.now = now
	return q
}

// Sync delivers tasks if connected. On any failure the snapshot is stored as
// the pending record and an error wrapping domain.ErrSync is returned.
func (q *SyncQueue) Sync(ctx context.Context, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	if !q.conn.IsConnected(ctx) {
		log.Info().Int("tasks", len(tasks)).Msg("offline, sync deferred")
		q.savePending(ctx, tasks)
		return fmt.Errorf("%w: no connectivity", domain.ErrSync)
	}

	log.Info().Int("tasks", len(tasks)).Msg("syncing tasks")
	dctx, cancel := context.WithTimeout(ctx, q.timeout)
	err := q.authority.Deliver(dctx, tasks)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("sync failed")
		q.savePending(ctx, tasks)
		return fmt.Errorf("%w: %v", domain.ErrSync, err)
	}

	now := q.now()
	if b, err := json.Marshal(now); err == nil {
		if err := q.adapter.Set(ctx, storage.KeyLastSync, b); err != nil {
			log.Error().Err(err).Str("key", storage.KeyLastSync).Msg("failed to record sync time")
		}
	}
	if err := q.adapter.RemoveMany(ctx, storage.KeyPendingSync); err != nil {
		log.Error().Err(err).Str("key", storage.KeyPendingSync).Msg("failed to clear pending sync")
	}
	log.Info().Time("synced_at", now).Msg("tasks synced")
	return nil
}

func (q *SyncQueue) savePending(ctx context.Context, tasks []domain.Task) {
	rec := domain.PendingSyncRecord{Tasks: tasks, Timestamp: q.now()}
	b, err := json.Marshal(rec)
	if err == nil {
		err = q.adapter.Set(context.WithoutCancel(ctx), storage.KeyPendingSync, b)
	}
	if err != nil {
		log.Error().Err(err).Str("key", storage.KeyPendingSync).Msg("failed to save pending sync")
	}
}

// Pending returns the stored pending record, or nil if there is none.
func (q *SyncQueue) Pending(ctx context.Context) (*domain.PendingSyncRecord, error) {
	b, err := q.adapter.Get(ctx, storage.KeyPendingSync)
	if errors.Is(err, storage.ErrAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pending sync: %v", domain.ErrStorage, err)
	}
	var rec domain.PendingSyncRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode pending sync: %v", domain.ErrStorage, err)
	}
	return &rec, nil
}

func (q *SyncQueue) ClearPending(ctx context.Context) error {
	if err := q.adapter.RemoveMany(ctx, storage.KeyPendingSync); err != nil {
		return fmt.Errorf("%w: clear pending sync: %v", domain.ErrStorage, err)
	}
	return nil
}

// LastSync returns the time of the last successful sync, zero if never.
func (q *SyncQueue) LastSync(ctx context.Context) (time.Time, error) {
	b, err := q.adapter.Get(ctx, storage.KeyLastSync)
	if errors.Is(err, storage.ErrAbsent) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read last sync: %v", domain.ErrStorage, err)
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return time.Time{}, fmt.Errorf("%w: decode last sync: %v", domain.ErrStorage, err)
	}
	return t, nil
}
