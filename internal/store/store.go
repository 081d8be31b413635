// Package store owns the task and history collections. Mutations run one at
// a time on a single writer, publish a new immutable snapshot and write both
// collections through to the persistence adapter before returning.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	"taskpulse/internal/worker"
)

// Reminders is the part of the reminder scheduler the store drives.
type Reminders interface {
	Schedule(ctx context.Context, task domain.Task) (domain.ReminderSlot, bool)
	Cancel(ctx context.Context, id string)
	CancelAll(ctx context.Context)
}

type state struct {
	tasks   []domain.Task
	history []domain.HistoryEntry
}

func emptyState() *state {
	return &state{tasks: []domain.Task{}, history: []domain.HistoryEntry{}}
}

type Store struct {
	adapter   storage.Adapter
	reminders Reminders
	writer    *worker.Serial
	now       func() time.Time
	newID     func() string

	cur atomic.Pointer[state]
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides id generation.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func New(adapter storage.Adapter, reminders Reminders, opts ...Option) *Store {
	s := &Store{
		adapter:   adapter,
		reminders: reminders,
		writer:    worker.NewSerial(64),
		now:       time.Now,
		newID:     newID,
	}
	for _, o := range opts {
		o(s)
	}
	s.cur.Store(emptyState())
	return s
}

// newID returns a UUIDv7: time-ordered, and unique within the same millisecond.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Close stops the writer. Pending mutations fail with worker.ErrStopped.
func (s *Store) Close() { s.writer.Close() }

func (s *Store) Create(ctx context.Context, d domain.TaskDraft) (domain.Task, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}

	var created domain.Task
	err := s.writer.Do(ctx, func(ctx context.Context) error {
		now := s.now()
		t := domain.Task{
			ID:          s.newID(),
			Title:       title,
			Description: d.Description,
			DueDate:     d.DueDate,
			Location:    d.Location,
			Attachments: append([]string{}, d.Attachments...),
			Status:      domain.StatusPending,
			CreatedAt:   now,
		}
		cur := s.cur.Load()
		next := &state{
			tasks:   append(cloneTasks(cur.tasks), t),
			history: prepend(cur.history, s.entry(domain.ActionCreate, t.ID, t.Title, now)),
		}
		s.commit(ctx, next)
		s.reminders.Schedule(context.WithoutCancel(ctx), t)
		created = t.Clone()
		log.Info().Str("task_id", t.ID).Time("due", t.DueDate).Msg("task created")
		return nil
	})
	return created, err
}

// Update merges patch into the task. The history entry records the new title.
func (s *Store) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Task{}, fmt.Errorf("%w: title cannot be blank", domain.ErrValidation)
		}
		patch.Title = &title
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, *patch.Status)
	}

	var updated domain.Task
	err := s.writer.Do(ctx, func(ctx context.Context) error {
		cur := s.cur.Load()
		i := indexOf(cur.tasks, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		t := patch.Apply(cur.tasks[i])
		if t.Attachments == nil {
			t.Attachments = []string{}
		}
		tasks := cloneTasks(cur.tasks)
		tasks[i] = t
		next := &state{
			tasks:   tasks,
			history: prepend(cur.history, s.entry(domain.ActionUpdate, id, t.Title, s.now())),
		}
		s.commit(ctx, next)
		// Schedule cancels the previous slot before arming the new one.
		s.reminders.Schedule(context.WithoutCancel(ctx), t)
		updated = t.Clone()
		log.Info().Str("task_id", id).Msg("task updated")
		return nil
	})
	return updated, err
}

// Delete removes the task. The history entry records the title it had.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.writer.Do(ctx, func(ctx context.Context) error {
		cur := s.cur.Load()
		i := indexOf(cur.tasks, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		prior := cur.tasks[i]
		tasks := make([]domain.Task, 0, len(cur.tasks)-1)
		tasks = append(tasks, cloneTasks(cur.tasks[:i])...)
		tasks = append(tasks, cloneTasks(cur.tasks[i+1:])...)
		next := &state{
			tasks:   tasks,
			history: prepend(cur.history, s.entry(domain.ActionDelete, id, prior.Title, s.now())),
		}
		s.commit(ctx, next)
		s.reminders.Cancel(context.WithoutCancel(ctx), id)
		log.Info().Str("task_id", id).Msg("task deleted")
		return nil
	})
}

// Load replaces memory with the persisted collections and re-arms reminders
// for tasks that are not yet due. A collection that cannot be read keeps its
// in-memory value and the error is returned.
func (s *Store) Load(ctx context.Context) error {
	return s.writer.Do(ctx, func(ctx context.Context) error {
		cur := s.cur.Load()
		next := &state{tasks: cur.tasks, history: cur.history}
		var errs []error

		var tasks []domain.Task
		if found, err := s.read(ctx, storage.KeyTasks, &tasks); err != nil {
			errs = append(errs, err)
		} else if found {
			for i := range tasks {
				if tasks[i].Attachments == nil {
					tasks[i].Attachments = []string{}
				}
			}
			next.tasks = tasks
		} else {
			next.tasks = []domain.Task{}
		}

		var history []domain.HistoryEntry
		if found, err := s.read(ctx, storage.KeyHistory, &history); err != nil {
			errs = append(errs, err)
		} else if found {
			next.history = history
		} else {
			next.history = []domain.HistoryEntry{}
		}

		if len(cur.tasks) > 0 {
			s.reminders.CancelAll(ctx)
		}
		s.cur.Store(next)

		now := s.now()
		armed := 0
		for _, t := range next.tasks {
			if !t.DueDate.After(now) {
				continue
			}
			if _, ok := s.reminders.Schedule(ctx, t); ok {
				armed++
			}
		}
		log.Info().
			Int("tasks", len(next.tasks)).
			Int("history", len(next.history)).
			Int("armed", armed).
			Msg("state loaded")
		return errors.Join(errs...)
	})
}

// Wipe cancels every reminder and removes all persisted state, history
// included. Unlike mutations it reports a storage failure to the caller.
func (s *Store) Wipe(ctx context.Context) error {
	return s.writer.Do(ctx, func(ctx context.Context) error {
		s.reminders.CancelAll(context.WithoutCancel(ctx))
		s.cur.Store(emptyState())
		if err := s.adapter.RemoveMany(ctx, storage.AllKeys...); err != nil {
			return fmt.Errorf("%w: could not clear data: %v", domain.ErrStorage, err)
		}
		log.Info().Msg("all data cleared")
		return nil
	})
}

func (s *Store) Tasks() []domain.Task {
	return cloneTasks(s.cur.Load().tasks)
}

func (s *Store) Task(id string) (domain.Task, bool) {
	cur := s.cur.Load()
	i := indexOf(cur.tasks, id)
	if i < 0 {
		return domain.Task{}, false
	}
	return cur.tasks[i].Clone(), true
}

// History returns entries most recent first.
func (s *Store) History() []domain.HistoryEntry {
	h := s.cur.Load().history
	return append(make([]domain.HistoryEntry, 0, len(h)), h...)
}

// TasksWithLocation returns tasks that carry a non-blank location.
func (s *Store) TasksWithLocation() []domain.Task {
	out := []domain.Task{}
	for _, t := range s.cur.Load().tasks {
		if strings.TrimSpace(t.Location) != "" {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Store) Export() domain.Export {
	cur := s.cur.Load()
	return domain.Export{
		Tasks:        cloneTasks(cur.tasks),
		History:      append([]domain.HistoryEntry{}, cur.history...),
		ExportDate:   s.now(),
		TotalTasks:   len(cur.tasks),
		TotalHistory: len(cur.history),
	}
}

func (s *Store) entry(action domain.Action, taskID, title string, at time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        s.newID(),
		Action:    action,
		TaskID:    taskID,
		TaskTitle: title,
		Timestamp: at,
	}
}

// commit publishes next and writes it through. Write failures are logged and
// swallowed: memory stays authoritative until the next successful write.
func (s *Store) commit(ctx context.Context, next *state) {
	s.cur.Store(next)
	// An accepted mutation is persisted even if the caller gives up waiting.
	ctx = context.WithoutCancel(ctx)
	if err := s.write(ctx, storage.KeyTasks, next.tasks); err != nil {
		log.Error().Err(err).Str("key", storage.KeyTasks).Msg("failed to persist tasks")
	}
	if err := s.write(ctx, storage.KeyHistory, next.history); err != nil {
		log.Error().Err(err).Str("key", storage.KeyHistory).Msg("failed to persist history")
	}
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrStorage, key, err)
	}
	if err := s.adapter.Set(ctx, key, b); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.adapter.Get(ctx, key)
	if errors.Is(err, storage.ErrAbsent) {
		return false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to read")
		return false, fmt.Errorf("%w: read %s: %v", domain.ErrStorage, key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to decode")
		return false, fmt.Errorf("%w: decode %s: %v", domain.ErrStorage, key, err)
	}
	return true, nil
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTasks(in []domain.Task) []domain.Task {
	out := make([]domain.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

func prepend(h []domain.HistoryEntry, e domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, 0, len(h)+1)
	out = append(out, e)
	return append(out, h...)
}
