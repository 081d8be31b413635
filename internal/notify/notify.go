// Package notify holds the two reminder channels: a push notification
// service reached over the network and a local, user-visible alert.
package notify

import (
	"context"
	"time"
)

// Payload is what a push registration carries.
type Payload struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Notifier schedules push notifications. Registrations are keyed by the id
// passed to ScheduleAt so Cancel can target them directly.
type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	ScheduleAt(ctx context.Context, id string, fireAt time.Time, p Payload) (string, error)
	Cancel(ctx context.Context, id string) error
}

// Alerter surfaces a reminder to the user immediately.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}

// Disabled is a Notifier that never grants permission.
type Disabled struct{}

func (Disabled) RequestPermission(context.Context) (bool, error) { return false, nil }

func (Disabled) ScheduleAt(context.Context, string, time.Time, Payload) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Cancel(context.Context, string) error { return nil }
