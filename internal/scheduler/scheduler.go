// Package scheduler arms and cancels task reminders. Each task has at most
// one reminder slot; a slot owns a local timer and, when push notifications
// are permitted, a push registration keyed by the task id.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"taskpulse/internal/domain"
	"taskpulse/internal/notify"
)

const (
	DefaultLead        = 30 * time.Minute
	DefaultClampDelay  = 60 * time.Second
	defaultPushTimeout = 5 * time.Second

	alertTitle = "Task reminder"
)

// Timer is the handle returned by AfterFunc.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	// Lead is how long before the due date a reminder fires.
	Lead time.Duration
	// ClampDelay replaces a fire time that is not in the future.
	ClampDelay time.Duration
	// ClampPastDue keeps reminders for tasks whose lead window has already
	// started. When false such tasks get no reminder.
	ClampPastDue bool
	PushTimeout  time.Duration
	Now          func() time.Time
	AfterFunc    AfterFunc
}

// DefaultOptions returns the 30 minute lead, 60 second clamp configuration.
func DefaultOptions() Options {
	return Options{
		Lead:         DefaultLead,
		ClampDelay:   DefaultClampDelay,
		ClampPastDue: true,
		PushTimeout:  defaultPushTimeout,
	}
}

type slot struct {
	gen    uint64
	taskID string
	title  string
	fireAt time.Time
	timer  Timer
	pushID string
}

func (s *slot) view() domain.ReminderSlot {
	return domain.ReminderSlot{
		TaskID:         s.taskID,
		Title:          s.title,
		FireAt:         s.fireAt,
		PushID:         s.pushID,
		LocalArmed:     s.timer != nil,
		PushRegistered: s.pushID != "",
	}
}

type Scheduler struct {
	notifier notify.Notifier
	alerter  notify.Alerter
	opts     Options

	mu      sync.Mutex
	slots   map[string]*slot
	gen     uint64
	granted bool
}

func New(n notify.Notifier, a notify.Alerter, opts Options) *Scheduler {
	if n == nil {
		n = notify.Disabled{}
	}
	if a == nil {
		a = notify.LogAlerter{}
	}
	if opts.Lead <= 0 {
		opts.Lead = DefaultLead
	}
	if opts.ClampDelay <= 0 {
		opts.ClampDelay = DefaultClampDelay
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = defaultPushTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	return &Scheduler{notifier: n, alerter: a, opts: opts, slots: make(map[string]*slot)}
}

// RequestPermission asks the push service for permission and remembers the
// answer. Without it only the local channel is armed.
func (s *Scheduler) RequestPermission(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
	defer cancel()
	granted, err := s.notifier.RequestPermission(pctx)
	if err != nil {
		log.Warn().Err(err).Msg("push permission request failed")
		granted = false
	}
	s.mu.Lock()
	s.granted = granted
	s.mu.Unlock()
	log.Info().Bool("granted", granted).Msg("push permission")
	return granted
}

func (s *Scheduler) PushEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted
}

// FireTime returns when a reminder for a task due at due should fire. A fire
// time that is not strictly after now becomes now+ClampDelay, or no reminder
// at all when ClampPastDue is off.
func (s *Scheduler) FireTime(due, now time.Time) (time.Time, bool) {
	fireAt := due.Add(-s.opts.Lead)
	if fireAt.After(now) {
		return fireAt, true
	}
	if !s.opts.ClampPastDue {
		return time.Time{}, false
	}
	return now.Add(s.opts.ClampDelay), true
}

// Schedule retires any reminder armed for task.ID, then arms a new one. The
// push channel is best effort and never prevents the local timer. Push calls
// run without holding the slot lock; callers serialize Schedule and Cancel
// per task id.
func (s *Scheduler) Schedule(ctx context.Context, task domain.Task) (domain.ReminderSlot, bool) {
	s.mu.Lock()
	s.dropLocked(task.ID)
	granted := s.granted

	now := s.opts.Now()
	fireAt, ok := s.FireTime(task.DueDate, now)
	if !ok {
		s.mu.Unlock()
		s.cancelPush(ctx, task.ID, granted)
		log.Debug().Str("task_id", task.ID).Msg("reminder window elapsed, not scheduling")
		return domain.ReminderSlot{}, false
	}

	s.gen++
	sl := &slot{gen: s.gen, taskID: task.ID, title: task.Title, fireAt: fireAt}
	gen, id := sl.gen, task.ID
	sl.timer = s.opts.AfterFunc(fireAt.Sub(now), func() { s.fire(id, gen) })
	s.slots[task.ID] = sl
	view := sl.view()
	s.mu.Unlock()

	s.cancelPush(ctx, task.ID, granted)
	if granted {
		pctx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
		pushID, err := s.notifier.ScheduleAt(pctx, task.ID, fireAt, notify.Payload{
			TaskID: task.ID,
			Title:  alertTitle,
			Body:   s.message(task.Title),
		})
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("push registration failed, local reminder only")
		} else {
			s.mu.Lock()
			// The slot may have fired or been replaced while the gateway answered.
			if cur, ok := s.slots[id]; ok && cur.gen == gen {
				cur.pushID = pushID
			}
			s.mu.Unlock()
			view.PushID = pushID
			view.PushRegistered = true
		}
	} else {
		log.Debug().Err(domain.ErrNotificationPermission).Str("task_id", task.ID).Msg("push channel skipped")
	}

	log.Info().
		Str("task_id", task.ID).
		Time("fire_at", fireAt).
		Bool("push", view.PushRegistered).
		Msg("reminder scheduled")
	return view, true
}

// Cancel retires both channels for id. Missing channels are not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) {
	s.mu.Lock()
	s.dropLocked(id)
	granted := s.granted
	s.mu.Unlock()
	s.cancelPush(ctx, id, granted)
}

// dropLocked stops the local timer for id and forgets its slot.
func (s *Scheduler) dropLocked(id string) {
	sl, ok := s.slots[id]
	if !ok {
		return
	}
	if sl.timer != nil {
		sl.timer.Stop()
	}
	delete(s.slots, id)
	log.Debug().Str("task_id", id).Msg("reminder cancelled")
}

// cancelPush removes the push registration for id. Registrations outlive the
// process, so this runs even when no slot is armed here.
func (s *Scheduler) cancelPush(ctx context.Context, id string, granted bool) {
	if !granted {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
	defer cancel()
	if err := s.notifier.Cancel(pctx, id); err != nil && !errors.Is(err, notify.ErrDisabled) {
		log.Warn().Err(err).Str("task_id", id).Msg("push cancel failed")
	}
}

// CancelAll retires every armed reminder.
func (s *Scheduler) CancelAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
		s.dropLocked(id)
	}
	granted := s.granted
	s.mu.Unlock()
	for _, id := range ids {
		s.cancelPush(ctx, id, granted)
	}
}

// Shutdown stops every local timer and forgets all slots. Push
// registrations are left in place so reminders still arrive while the
// process is gone.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sl := range s.slots {
		if sl.timer != nil {
			sl.timer.Stop()
		}
		delete(s.slots, id)
	}
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	sl, ok := s.slots[id]
	if !ok || sl.gen != gen {
		// Replaced or cancelled after the timer was already running.
		s.mu.Unlock()
		return
	}
	delete(s.slots, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PushTimeout)
	defer cancel()
	if err := s.alerter.Alert(ctx, alertTitle, s.message(sl.title)); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("failed to show reminder")
		return
	}
	log.Info().Str("task_id", id).Msg("reminder fired")
}

func (s *Scheduler) message(title string) string {
	return fmt.Sprintf("Task %q starts in %d minutes", title, int(s.opts.Lead.Minutes()))
}

// ActiveCount reports how many slots are armed.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[id]
	return ok
}

func (s *Scheduler) Slot(id string) (domain.ReminderSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return domain.ReminderSlot{}, false
	}
	return sl.view(), true
}

// Slots lists armed reminders, soonest first.
func (s *Scheduler) Slots() []domain.ReminderSlot {
	s.mu.Lock()
	out := make([]domain.ReminderSlot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.view())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// ScheduleTest arms a reminder for a synthetic task due in 30 seconds.
func (s *Scheduler) ScheduleTest(ctx context.Context) (domain.ReminderSlot, bool) {
	now := s.opts.Now()
	return s.Schedule(ctx, domain.Task{
		ID:      "test-" + strconv.FormatInt(now.UnixMilli(), 10),
		Title:   "Test reminder",
		DueDate: now.Add(30 * time.Second),
		Status:  domain.StatusPending,
	})
}
