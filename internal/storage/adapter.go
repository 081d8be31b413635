// Package storage provides durable key/value blob storage for the tracker.
package storage

import (
	"context"
	"errors"
)

// Keys used by the tracker.
const (
	KeyTasks       = "tasks"
	KeyHistory     = "history"
	KeyLastSync    = "lastSync"
	KeyPendingSync = "pendingSync"
)

// AllKeys lists every key the tracker persists.
var AllKeys = []string{KeyTasks, KeyHistory, KeyLastSync, KeyPendingSync}

// ErrAbsent is returned by Get when no blob is stored under the key.
var ErrAbsent = errors.New("key not found")

type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, blob []byte) error
	RemoveMany(ctx context.Context, keys ...string) error
}
