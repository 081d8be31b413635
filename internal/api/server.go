package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"taskpulse/internal/domain"
	"taskpulse/internal/geo"
	"taskpulse/internal/lifecycle"
	"taskpulse/internal/queue"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/store"
)

type Deps struct {
	Store       *store.Store
	Scheduler   *scheduler.Scheduler
	Sync        *queue.SyncQueue
	Resolver    *geo.Resolver
	Coordinator *lifecycle.Coordinator
}

type Server struct {
	r *chi.Mux
	Deps
}

func NewServer(d Deps) http.Handler {
	return NewServerWithDebug(d, false)
}

func NewServerWithDebug(d Deps, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, Deps: d}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Patch("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Get("/history", s.history)

		r.Post("/sync", s.sync)
		r.Get("/sync/pending", s.pending)
		r.Delete("/sync/pending", s.clearPending)

		r.Post("/lifecycle/{state}", s.appState)
		r.Get("/reminders", s.reminders)
		r.Post("/reminders/test", s.testReminder)

		r.Get("/export", s.export)
		r.Delete("/data", s.clearData)

		r.Get("/geocode", s.geocode)
		r.Get("/map", s.mapPins)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if rec, err := s.Sync.Pending(r.Context()); err == nil && rec != nil {
		pending = 1
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "taskpulse_up 1\n")
	fmt.Fprintf(w, "taskpulse_tasks %d\n", len(s.Store.Tasks()))
	fmt.Fprintf(w, "taskpulse_history_entries %d\n", len(s.Store.History()))
	fmt.Fprintf(w, "taskpulse_reminders_armed %d\n", s.Scheduler.ActiveCount())
	fmt.Fprintf(w, "taskpulse_sync_pending %d\n", pending)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.Tasks())
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req domain.TaskDraft
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.Store.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.Store.Task(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var patch domain.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.Store.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.History())
}

type syncResp struct {
	Synced bool   `json:"synced"`
	Tasks  int    `json:"tasks"`
	Error  string `json:"error,omitempty"`
}

// sync answers 202 when delivery failed: the snapshot is queued, not lost.
func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	tasks := s.Store.Tasks()
	if err := s.Sync.Sync(r.Context(), tasks); err != nil {
		writeJSON(w, http.StatusAccepted, syncResp{Synced: false, Tasks: len(tasks), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResp{Synced: true, Tasks: len(tasks)})
}

type pendingResp struct {
	Pending  *domain.PendingSyncRecord `json:"pending"`
	LastSync *time.Time                `json:"lastSync"`
}

func (s *Server) pending(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Sync.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := pendingResp{Pending: rec}
	if last, err := s.Sync.LastSync(r.Context()); err == nil && !last.IsZero() {
		resp.LastSync = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearPending(w http.ResponseWriter, r *http.Request) {
	if err := s.Sync.ClearPending(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) appState(w http.ResponseWriter, r *http.Request) {
	state, err := lifecycle.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		writeError(w, err)
		return
	}
	armed := s.Coordinator.HandleAppState(r.Context(), state)
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "armed": armed})
}

func (s *Server) reminders(w http.ResponseWriter, r *http.Request) {
	slots := s.Scheduler.Slots()
	writeJSON(w, http.StatusOK, map[string]any{
		"armed":       len(slots),
		"pushEnabled": s.Scheduler.PushEnabled(),
		"slots":       slots,
	})
}

func (s *Server) testReminder(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.Scheduler.ScheduleTest(r.Context())
	if !ok {
		http.Error(w, "test reminder not scheduled", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	data := s.Store.Export()
	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Disposition", `attachment; filename="taskpulse-export.json"`)
		writeJSON(w, http.StatusOK, data)
	case "yaml":
		b, err := yaml.Marshal(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="taskpulse-export.yaml"`)
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	default:
		http.Error(w, "format must be json or yaml", http.StatusBadRequest)
	}
}

func (s *Server) clearData(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Wipe(r.Context()); err != nil {
		log.Error().Err(err).Msg("clear data")
		http.Error(w, "could not clear data", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type geocodeResp struct {
	Address     string             `json:"address"`
	Coordinates domain.Coordinates `json:"coordinates"`
	Label       string             `json:"label"`
}

func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	c, ok := s.Resolver.Resolve(r.Context(), addr)
	if !ok {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, geocodeResp{Address: addr, Coordinates: c, Label: geo.FormatCoordinates(c)})
}

func (s *Server) mapPins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Resolver.Locate(r.Context(), s.Store.TasksWithLocation()))
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
