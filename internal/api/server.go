package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hookq/internal/domain"
	"hookq/internal/signer"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	maxBodyBytes   = 1 << 20
	streamInterval = time.Second
)

type TaskService interface {
	Submit(ctx context.Context, t domain.Task) (string, error)
	Status(ctx context.Context, id string) (*domain.TaskResult, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (map[domain.Priority]domain.QueueStats, error)
	CleanupOldTasks(ctx context.Context, maxAgeDays int) (int, error)
	WatchProgress(ctx context.Context, id string, interval time.Duration, emit func(domain.TaskResult) error) error
}

type EventService interface {
	CreateEvent(ctx context.Context, t domain.EventType, data map[string]any, userID, orgID, source string) (string, error)
	EventStatus(ctx context.Context, id string) (*domain.EventStatusView, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type eventReq struct {
	EventType      domain.EventType `json:"event_type"`
	Data           map[string]any   `json:"data"`
	UserID         string           `json:"user_id"`
	OrganizationID string           `json:"organization_id"`
	Source         string           `json:"source"`
}

type inboundReq struct {
	Event          domain.EventType `json:"event"`
	Data           map[string]any   `json:"data"`
	UserID         string           `json:"user_id"`
	OrganizationID string           `json:"organization_id"`
}

type Server struct {
	router *chi.Mux
	tasks  TaskService
	events EventService
	store  Pinger
	signer *signer.Signer
	// StreamInterval is how often a progress stream polls the task record.
	StreamInterval time.Duration
}

// NewServer mounts the task and event routes. secret verifies inbound
// webhook requests.
func NewServer(tasks TaskService, events EventService, store Pinger, secret string) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		tasks:          tasks,
		events:         events,
		store:          store,
		signer:         signer.New(secret),
		StreamInterval: streamInterval,
	}

	r := s.router
	r.Get("/health", s.health)

	r.Post("/tasks", s.submitTask)
	r.Get("/tasks/{id}", s.taskStatus)
	r.Get("/tasks/{id}/logs", s.taskLogs)
	r.Get("/tasks/{id}/stream", s.taskStream)
	r.Delete("/tasks/{id}", s.cancelTask)
	r.Get("/stats", s.stats)
	r.Post("/cleanup", s.cleanup)

	r.Post("/events", s.createEvent)
	r.Get("/events/{id}", s.eventStatus)
	r.Post("/webhooks/inbound", s.inbound)

	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps use-case errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownTaskType),
		errors.Is(err, domain.ErrNoHandler),
		errors.Is(err, domain.ErrUnknownEventType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("health check: queue store unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "queues": stats})
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	// Absent fields keep the defaults of a new task.
	t := domain.NewTask("", "", nil)
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t.Name == "" {
		t.Name = string(t.Type)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown priority %q", t.Priority))
		return
	}

	id, err := s.tasks.Submit(r.Context(), t)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "status": domain.StatusPending})
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.tasks.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.tasks.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "logs": res.Logs})
}

// taskStream sends a server-sent event for every progress or status change
// until the task reaches a terminal status.
func (s *Server) taskStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.tasks.Status(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err := s.tasks.WatchProgress(r.Context(), id, s.StreamInterval, func(res domain.TaskResult) error {
		b, err := json.Marshal(map[string]any{
			"task_id":  res.TaskID,
			"status":   res.Status,
			"progress": res.Progress,
			"message":  res.LastMessage,
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(r.Context()).Warn().Err(err).Str("task_id", id).Msg("progress stream ended")
	}
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.tasks.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "cancelled": ok})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("max_age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid max_age_days %q", v))
			return
		}
		days = n
	}
	n, err := s.tasks.CleanupOldTasks(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "max_age_days": days})
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req eventReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.events.CreateEvent(r.Context(), req.EventType, req.Data, req.UserID, req.OrganizationID, req.Source)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event_id": id})
}

func (s *Server) eventStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.events.EventStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// inbound accepts a signed event from an external system.
func (s *Server) inbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sig := r.Header.Get(signer.SignatureHeader)
	ts := r.Header.Get(signer.TimestampHeader)
	if !s.signer.Verify(string(body), ts, sig) {
		writeError(w, http.StatusUnauthorized, errors.New("invalid signature"))
		return
	}

	var req inboundReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	id, err := s.events.CreateEvent(r.Context(), req.Event, req.Data, req.UserID, req.OrganizationID, "webhook")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "received", "event_id": id})
}

// Handler returns the router wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/health" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)
}

// Run method of the Server struct runs the HTTP server on the specified port. It initializes
// a new HTTP server instance with the specified port and the server's router.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 60 * time.Second,
		// no write timeout: progress streams stay open until the task ends
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
