package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
)

type fakeReminders struct {
	mu        sync.Mutex
	armed     map[string]time.Time
	cancelled []string
	maxArmed  int
	// cancellable records, per call, whether the ctx passed in could be cancelled.
	cancellable []bool
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{armed: make(map[string]time.Time)}
}

func (f *fakeReminders) Schedule(ctx context.Context, t domain.Task) (domain.ReminderSlot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellable = append(f.cancellable, ctx.Done() != nil)
	f.armed[t.ID] = t.DueDate
	if len(f.armed) > f.maxArmed {
		f.maxArmed = len(f.armed)
	}
	return domain.ReminderSlot{TaskID: t.ID, FireAt: t.DueDate, LocalArmed: true}, true
}

func (f *fakeReminders) Cancel(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellable = append(f.cancellable, ctx.Done() != nil)
	delete(f.armed, id)
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeReminders) CancelAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = make(map[string]time.Time)
}

func (f *fakeReminders) isArmed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

// failingAdapter wraps Memory and fails the operations that are switched on.
type failingAdapter struct {
	*storage.Memory
	failGet, failSet, failRemove bool
}

var errDisk = errors.New("disk full")

func (a *failingAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	if a.failGet {
		return nil, errDisk
	}
	return a.Memory.Get(ctx, key)
}

func (a *failingAdapter) Set(ctx context.Context, key string, blob []byte) error {
	if a.failSet {
		return errDisk
	}
	return a.Memory.Set(ctx, key, blob)
}

func (a *failingAdapter) RemoveMany(ctx context.Context, keys ...string) error {
	if a.failRemove {
		return errDisk
	}
	return a.Memory.RemoveMany(ctx, keys...)
}

func newTestStore(t *testing.T, a storage.Adapter, r Reminders) *Store {
	t.Helper()
	s := New(a, r)
	t.Cleanup(s.Close)
	return s
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndReload(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := newTestStore(t, mem, newFakeReminders())

	due := time.Now().Add(3 * time.Hour).Truncate(time.Millisecond)
	created, err := s.Create(ctx, domain.TaskDraft{
		Title:       "  Dentist  ",
		Description: "Bring the forms",
		DueDate:     due,
		Location:    "Kyiv, Khreshchatyk 1",
		Attachments: []string{"forms.pdf"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Title != "Dentist" {
		t.Errorf("Expected trimmed title, got %q", created.Title)
	}
	if created.Status != domain.StatusPending {
		t.Errorf("Expected pending status, got %s", created.Status)
	}

	r2 := newFakeReminders()
	reloaded := newTestStore(t, mem, r2)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := reloaded.Task(created.ID)
	if !ok {
		t.Fatal("task missing after reload")
	}
	if got.Title != created.Title || got.Description != created.Description || got.Location != created.Location {
		t.Errorf("Expected %+v, got %+v", created, got)
	}
	if !got.DueDate.Equal(created.DueDate) || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Expected times %v/%v, got %v/%v", created.DueDate, created.CreatedAt, got.DueDate, got.CreatedAt)
	}
	if len(got.Attachments) != 1 || got.Attachments[0] != "forms.pdf" {
		t.Errorf("Expected attachments [forms.pdf], got %v", got.Attachments)
	}
	if !r2.isArmed(created.ID) {
		t.Error("Expected reminder re-armed on load")
	}
}

func TestCreateDefaultsAttachments(t *testing.T) {
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())

	created, err := s.Create(context.Background(), domain.TaskDraft{Title: "Call mom", DueDate: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Attachments == nil || len(created.Attachments) != 0 {
		t.Errorf("Expected empty attachments, got %#v", created.Attachments)
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	mem := storage.NewMemory()
	r := newFakeReminders()
	s := newTestStore(t, mem, r)

	_, err := s.Create(context.Background(), domain.TaskDraft{Title: "   ", DueDate: time.Now().Add(time.Hour)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if len(s.Tasks()) != 0 || len(s.History()) != 0 {
		t.Error("Expected no state change")
	}
	if _, err := mem.Get(context.Background(), storage.KeyTasks); !errors.Is(err, storage.ErrAbsent) {
		t.Errorf("Expected nothing persisted, got %v", err)
	}
	if len(r.armed) != 0 {
		t.Error("Expected no reminder armed")
	}
}

func TestPersistedBytesMatchMemory(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := newTestStore(t, mem, newFakeReminders())

	a, _ := s.Create(ctx, domain.TaskDraft{Title: "A", DueDate: time.Now().Add(time.Hour)})
	b, _ := s.Create(ctx, domain.TaskDraft{Title: "B", DueDate: time.Now().Add(2 * time.Hour)})
	if _, err := s.Update(ctx, a.ID, domain.TaskPatch{Status: ptr(domain.StatusDone)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	assertPersisted(t, mem, storage.KeyTasks, s.Tasks())
	assertPersisted(t, mem, storage.KeyHistory, s.History())
}

func assertPersisted(t *testing.T, a storage.Adapter, key string, v any) {
	t.Helper()
	want, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := a.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s: %v", key, err)
	}
	if string(got) != string(want) {
		t.Errorf("Expected %s to be\n%s\ngot\n%s", key, want, got)
	}
}

func TestHistoryRecordsEveryMutation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())

	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Old title", DueDate: time.Now().Add(time.Hour)})
	if _, err := s.Update(ctx, task.ID, domain.TaskPatch{Title: ptr("New title")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(h))
	}
	wantActions := []domain.Action{domain.ActionDelete, domain.ActionUpdate, domain.ActionCreate}
	wantTitles := []string{"New title", "New title", "Old title"}
	for i := range h {
		if h[i].Action != wantActions[i] {
			t.Errorf("entry %d: expected %s, got %s", i, wantActions[i], h[i].Action)
		}
		if h[i].TaskTitle != wantTitles[i] {
			t.Errorf("entry %d: expected title %q, got %q", i, wantTitles[i], h[i].TaskTitle)
		}
		if h[i].TaskID != task.ID {
			t.Errorf("entry %d: expected task id %s, got %s", i, task.ID, h[i].TaskID)
		}
	}
	if h[0].Timestamp.Before(h[1].Timestamp) || h[1].Timestamp.Before(h[2].Timestamp) {
		t.Error("Expected most recent entry first")
	}
}

func TestUpdateAndDeleteUnknownTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())

	if _, err := s.Update(ctx, "missing", domain.TaskPatch{Title: ptr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Update, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Delete, got %v", err)
	}
	if len(s.History()) != 0 {
		t.Error("Expected no history for failed mutations")
	}
}

func TestUpdateRejectsBlankTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())
	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Keep me", DueDate: time.Now().Add(time.Hour)})

	if _, err := s.Update(ctx, task.ID, domain.TaskPatch{Title: ptr(" ")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	got, _ := s.Task(task.ID)
	if got.Title != "Keep me" {
		t.Errorf("Expected title unchanged, got %q", got.Title)
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := newTestStore(t, mem, newFakeReminders())
	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Status check", DueDate: time.Now().Add(time.Hour)})

	_, err := s.Update(ctx, task.ID, domain.TaskPatch{Status: ptr(domain.Status("archived"))})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	got, _ := s.Task(task.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Expected status unchanged, got %q", got.Status)
	}
	if len(s.History()) != 1 {
		t.Errorf("Expected no history entry for the rejected update, got %d", len(s.History()))
	}
	assertPersisted(t, mem, storage.KeyTasks, s.Tasks())

	if _, err := s.Update(ctx, task.ID, domain.TaskPatch{Status: ptr(domain.StatusDone)}); err != nil {
		t.Errorf("Expected done to be accepted, got %v", err)
	}
}

func TestRemindersOutliveCallerContext(t *testing.T) {
	r := newFakeReminders()
	s := newTestStore(t, storage.NewMemory(), r)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task, err := s.Create(ctx, domain.TaskDraft{Title: "Detached", DueDate: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Update(ctx, task.ID, domain.TaskPatch{Title: ptr("Still detached")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cancellable) != 3 {
		t.Fatalf("Expected 3 reminder calls, got %d", len(r.cancellable))
	}
	for i, c := range r.cancellable {
		if c {
			t.Errorf("call %d: expected a context detached from the caller", i)
		}
	}
}

func TestDeleteIsNeverResurrected(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	r := newFakeReminders()
	s := newTestStore(t, mem, r)

	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Gone", DueDate: time.Now().Add(time.Hour)})
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if r.isArmed(task.ID) {
		t.Error("Expected reminder cancelled on delete")
	}

	r2 := newFakeReminders()
	reloaded := newTestStore(t, mem, r2)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := reloaded.Task(task.ID); ok {
		t.Error("deleted task came back after reload")
	}
	if r2.isArmed(task.ID) {
		t.Error("deleted task re-armed after reload")
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	a := &failingAdapter{Memory: storage.NewMemory(), failSet: true}
	s := newTestStore(t, a, newFakeReminders())

	task, err := s.Create(context.Background(), domain.TaskDraft{Title: "Offline", DueDate: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Expected write failure to be swallowed, got %v", err)
	}
	if _, ok := s.Task(task.ID); !ok {
		t.Error("Expected task kept in memory")
	}
}

func TestLoadKeepsMemoryOnReadFailure(t *testing.T) {
	ctx := context.Background()
	a := &failingAdapter{Memory: storage.NewMemory()}
	s := newTestStore(t, a, newFakeReminders())
	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Survivor", DueDate: time.Now().Add(time.Hour)})

	a.failGet = true
	err := s.Load(ctx)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
	if _, ok := s.Task(task.ID); !ok {
		t.Error("Expected in-memory task to survive the failed load")
	}
}

func TestLoadRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	_ = mem.Set(ctx, storage.KeyTasks, []byte("{not json"))
	s := newTestStore(t, mem, newFakeReminders())

	if err := s.Load(ctx); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
	if got := s.Tasks(); len(got) != 0 {
		t.Errorf("Expected no tasks, got %d", len(got))
	}
}

func TestLoadArmsOnlyFutureTasks(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	now := time.Now()
	seed := []domain.Task{
		{ID: "past", Title: "Past", DueDate: now.Add(-time.Hour), Status: domain.StatusPending},
		{ID: "future", Title: "Future", DueDate: now.Add(time.Hour), Status: domain.StatusPending},
	}
	b, _ := json.Marshal(seed)
	_ = mem.Set(ctx, storage.KeyTasks, b)

	r := newFakeReminders()
	s := newTestStore(t, mem, r)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.isArmed("past") {
		t.Error("Expected overdue task left unarmed")
	}
	if !r.isArmed("future") {
		t.Error("Expected future task armed")
	}
	if len(s.History()) != 0 {
		t.Error("Expected empty history when none is stored")
	}
}

func TestWipe(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	r := newFakeReminders()
	s := newTestStore(t, mem, r)
	_, _ = s.Create(ctx, domain.TaskDraft{Title: "One", DueDate: time.Now().Add(time.Hour)})
	_ = mem.Set(ctx, storage.KeyLastSync, []byte(`"2026-10-19T12:00:00Z"`))

	if err := s.Wipe(ctx); err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}
	if len(s.Tasks()) != 0 || len(s.History()) != 0 {
		t.Error("Expected empty collections")
	}
	if len(r.armed) != 0 {
		t.Error("Expected all reminders cancelled")
	}
	for _, k := range storage.AllKeys {
		if _, err := mem.Get(ctx, k); !errors.Is(err, storage.ErrAbsent) {
			t.Errorf("Expected %s removed, got %v", k, err)
		}
	}
}

func TestWipeReportsStorageFailure(t *testing.T) {
	a := &failingAdapter{Memory: storage.NewMemory(), failRemove: true}
	s := newTestStore(t, a, newFakeReminders())

	err := s.Wipe(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Expected ErrStorage, got %v", err)
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	s := newTestStore(t, mem, newFakeReminders())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Create(ctx, domain.TaskDraft{Title: fmt.Sprintf("task %d", i), DueDate: time.Now().Add(time.Hour)}); err != nil {
				t.Errorf("Create %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.Tasks()); got != n {
		t.Errorf("Expected %d tasks, got %d", n, got)
	}
	if got := len(s.History()); got != n {
		t.Errorf("Expected %d history entries, got %d", n, got)
	}
	assertPersisted(t, mem, storage.KeyTasks, s.Tasks())
}

func TestConcurrentUpdatesKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())
	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Shared", DueDate: time.Now().Add(time.Hour)})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Update(ctx, task.ID, domain.TaskPatch{Description: ptr(fmt.Sprintf("rev %d", i))})
		}(i)
	}
	wg.Wait()

	if got := len(s.History()); got != n+1 {
		t.Errorf("Expected %d history entries, got %d", n+1, got)
	}
}

func TestTasksWithLocation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())
	if got := s.TasksWithLocation(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}

	_, _ = s.Create(ctx, domain.TaskDraft{Title: "Here", DueDate: time.Now().Add(time.Hour), Location: "Minsk office"})
	_, _ = s.Create(ctx, domain.TaskDraft{Title: "Nowhere", DueDate: time.Now().Add(time.Hour), Location: "  "})

	got := s.TasksWithLocation()
	if len(got) != 1 || got[0].Title != "Here" {
		t.Errorf("Expected only the located task, got %+v", got)
	}
}

func TestReturnedTasksAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemory(), newFakeReminders())
	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Immutable", DueDate: time.Now().Add(time.Hour), Attachments: []string{"a"}})

	list := s.Tasks()
	list[0].Title = "mutated"
	list[0].Attachments[0] = "mutated"

	got, _ := s.Task(task.ID)
	if got.Title != "Immutable" || got.Attachments[0] != "a" {
		t.Errorf("Expected stored task untouched, got %+v", got)
	}
}

func TestReminderSlotsTrackStore(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.New(nil, nil, scheduler.DefaultOptions())
	t.Cleanup(sched.Shutdown)
	s := newTestStore(t, storage.NewMemory(), sched)

	task, _ := s.Create(ctx, domain.TaskDraft{Title: "Standup", DueDate: time.Now().Add(2 * time.Hour)})
	for i := 0; i < 3; i++ {
		due := time.Now().Add(time.Duration(3+i) * time.Hour)
		if _, err := s.Update(ctx, task.ID, domain.TaskPatch{DueDate: &due}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if sched.ActiveCount() != 1 {
			t.Fatalf("Expected 1 armed slot, got %d", sched.ActiveCount())
		}
	}
	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if sched.ActiveCount() != 0 {
		t.Errorf("Expected no armed slots, got %d", sched.ActiveCount())
	}
}
