package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"remindflow/internal/delivery"
	"remindflow/internal/domain"
	"remindflow/internal/scheduler"
)

const (
	statusOnline  = "Reminder Agent Online ✔️"
	msgNoMessage  = "❓ No message received"
	defaultSender = "unknown-user"
	maxListLimit  = 500
)

// MessageHandler answers one inbound chat message with a plain-text reply.
type MessageHandler interface {
	Handle(ctx context.Context, user, text string) string
}

// Trigger runs a poll cycle on demand.
type Trigger interface {
	RunOnce(ctx context.Context) scheduler.Report
}

// TaskStore is the management side of the task store.
type TaskStore interface {
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	ListTasks(ctx context.Context, f domain.ListFilter) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id int64, u domain.TaskUpdate) (bool, error)
	DeleteTask(ctx context.Context, id int64) (bool, error)
	SnoozeTask(ctx context.Context, id int64, minutes int) (bool, error)
}

type Server struct {
	r       *chi.Mux
	intake  MessageHandler
	tasks   TaskStore
	trigger Trigger
	log     zerolog.Logger
}

func NewServer(in MessageHandler, tasks TaskStore, trigger Trigger, log zerolog.Logger) http.Handler {
	return NewServerWithDebug(in, tasks, trigger, log, false)
}

func NewServerWithDebug(in MessageHandler, tasks TaskStore, trigger Trigger, log zerolog.Logger, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)

	s := &Server{r: r, intake: in, tasks: tasks, trigger: trigger, log: log}

	r.Get("/", s.home)
	r.Get("/health", s.health)
	r.Get("/trigger-reminders", s.triggerReminders)
	r.Post("/webhook/telex", s.telexWebhook)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Get("/{id}", s.getTask)
		r.Patch("/{id}", s.updateTask)
		r.Delete("/{id}", s.deleteTask)
		r.Post("/{id}/snooze", s.snoozeTask)
	})

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

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOnline})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type triggerResp struct {
	Status string `json:"status"`
	scheduler.Report
}

func (s *Server) triggerReminders(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Msg("manual reminder check triggered")
	// A client disconnect must not abort MarkSent after a reminder went out.
	rep := s.trigger.RunOnce(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, triggerResp{Status: "Reminder check executed", Report: rep})
}

type webhookReq struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type webhookResp struct {
	Response string `json:"response"`
}

func (s *Server) telexWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Type == delivery.TypeReminder {
		// Our own reminder echoed back through the channel.
		writeJSON(w, http.StatusOK, webhookResp{})
		return
	}
	user := req.Sender
	if user == "" {
		user = defaultSender
	}
	s.log.Info().Str("user", user).Str("message", req.Message).Msg("inbound message")

	if req.Message == "" {
		s.log.Warn().Str("user", user).Msg("empty message received")
		writeJSON(w, http.StatusOK, webhookResp{Response: msgNoMessage})
		return
	}

	reply := s.intake.Handle(r.Context(), user, req.Message)
	s.log.Debug().Str("user", user).Str("reply", reply).Msg("reply")
	writeJSON(w, http.StatusOK, webhookResp{Response: reply})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListFilter{User: q.Get("user"), Status: domain.Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxListLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	tasks, err := s.tasks.ListTasks(r.Context(), f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateReq struct {
	Description *string    `json:"description" validate:"omitempty,min=1"`
	DueTime     *time.Time `json:"due_time"`
	Status      *string    `json:"status" validate:"omitempty,oneof=pending sent cancelled done"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req updateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := domain.Validate(req); err != nil {
		http.Error(w, domain.Reason(err), http.StatusBadRequest)
		return
	}
	u := domain.TaskUpdate{Description: req.Description, DueTime: req.DueTime}
	if req.Status != nil {
		st := domain.Status(*req.Status)
		u.Status = &st
	}
	found, err := s.tasks.UpdateTask(r.Context(), id, u)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondTask(w, r, id, found)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	found, err := s.tasks.DeleteTask(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snoozeReq struct {
	Minutes int `json:"minutes" validate:"required,gte=1,lte=10080"`
}

func (s *Server) snoozeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req snoozeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := domain.Validate(req); err != nil {
		http.Error(w, domain.Reason(err), http.StatusBadRequest)
		return
	}
	found, err := s.tasks.SnoozeTask(r.Context(), id, req.Minutes)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondTask(w, r, id, found)
}

func (s *Server) respondTask(w http.ResponseWriter, r *http.Request, id int64, found bool) {
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	t, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, domain.Reason(err), http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("task store failure")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
