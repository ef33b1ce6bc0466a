package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/internal/presentation/graph"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Server exposes the instances attached to a session manager over HTTP: read-only
// introspection, replication ingress for observers and an SSE stream of state changes.
type Server struct {
	Sessions *session.Manager
	Streams  *StreamManager

	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server over the given session manager.
func NewServer(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		Sessions: sessions,
		Streams:  NewStreamManager(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger
	return s
}

// NewHandler creates a new HTTP handler for the instances of the session manager.
func NewHandler(sessions *session.Manager, opts ...Option) http.Handler {
	return NewServer(sessions, opts...).Handler()
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.ListInstances)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetInstance)
			r.Get("/history", s.GetHistory)
			r.Get("/graph", s.GetGraph)
			r.Get("/events", s.SubscribeEvents)
			r.Post("/transitions", s.ApplyTransition)
			r.Post("/evaluate/{transition}", s.EvaluateTransition)
			r.Post("/checkpoint", s.Checkpoint)
			r.Post("/restore", s.Restore)
		})
	})

	return enableCORS(r)
}

// Hooks returns lifecycle hooks that broadcast the changes of the instance attached
// under key to its SSE subscribers. Compose them into the instance with
// domain.ChainHooks.
func (s *Server) Hooks(key string) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChanged: func(_ context.Context, e *domain.StateChangedEvent) {
			s.broadcast(key, "state_changed", e)
		},
		OnTransitionTaken: func(_ context.Context, e *domain.TransitionTakenEvent) {
			s.broadcast(key, "transition_taken", e)
		},
	}
}

func (s *Server) broadcast(key, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("SSE payload encode failed", "error", err, "event", event)
		return
	}
	s.Streams.Broadcast(key, fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StateView is the wire form of one active state.
type StateView struct {
	GUID        uuid.UUID     `json:"guid"`
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	EndState    bool          `json:"end_state"`
	StartTime   time.Time     `json:"start_time"`
	TimeInState time.Duration `json:"time_in_state"`
	Previous    uuid.UUID     `json:"previous"`
}

// InstanceView is the wire form of an attached instance.
type InstanceView struct {
	ID         string      `json:"id"`
	Graph      string      `json:"graph"`
	Status     string      `json:"status"`
	InEndState bool        `json:"in_end_state"`
	Active     []StateView `json:"active,omitempty"`
}

func viewOf(id string, inst *arbor.Instance, withStates bool) InstanceView {
	v := InstanceView{
		ID:     id,
		Graph:  inst.Graph().Name(),
		Status: inst.Status().String(),
	}
	if !inst.IsActive() {
		return v
	}
	v.InEndState = inst.IsInEndState()
	if withStates {
		for _, st := range inst.ActiveStates() {
			v.Active = append(v.Active, StateView{
				GUID:        st.GUID,
				Name:        st.Name,
				Path:        st.Path,
				EndState:    st.EndState,
				StartTime:   st.StartTime,
				TimeInState: st.TimeInState,
				Previous:    st.Previous,
			})
		}
	}
	return v
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "arbor-http",
		"version": strings.TrimSpace(arbor.Version),
	})
}

// ListInstances handles the GET /instances request.
func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	views := make([]InstanceView, 0)
	for _, key := range s.Sessions.Keys() {
		err := s.Sessions.Do(r.Context(), key, func(_ context.Context, inst *arbor.Instance) error {
			views = append(views, viewOf(key, inst, false))
			return nil
		})
		if errors.Is(err, session.ErrInstanceNotFound) {
			// detached while listing
			continue
		}
		if err != nil {
			s.fail(w, "ListInstances", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetInstance handles the GET /instances/{id} request.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var view InstanceView
	err := s.Sessions.Do(r.Context(), id, func(_ context.Context, inst *arbor.Instance) error {
		view = viewOf(id, inst, true)
		return nil
	})
	if err != nil {
		s.fail(w, "GetInstance", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetHistory handles the GET /instances/{id}/history request.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	var history []domain.HistoryEntry
	err := s.Sessions.Do(r.Context(), chi.URLParam(r, "id"), func(_ context.Context, inst *arbor.Instance) error {
		history = inst.History()
		return nil
	})
	if err != nil {
		s.fail(w, "GetHistory", err)
		return
	}
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

// GetGraph handles the GET /instances/{id}/graph request. The response is a Mermaid
// flowchart with the active and visited states highlighted.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	var chart string
	err := s.Sessions.Do(r.Context(), chi.URLParam(r, "id"), func(_ context.Context, inst *arbor.Instance) error {
		overlay := &graph.GraphOverlay{}
		for _, h := range inst.History() {
			if st, ok := inst.FindState(h.State); ok {
				overlay.VisitedStates = append(overlay.VisitedStates, st.Path)
			}
		}
		for _, st := range inst.ActiveStates() {
			overlay.ActiveStates = append(overlay.ActiveStates, st.Path)
		}
		chart = graph.GenerateMermaid(inst.Graph(), overlay)
		return nil
	})
	if err != nil {
		s.fail(w, "GetGraph", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(chart))
}

// ApplyTransition handles the POST /instances/{id}/transitions request. The body is a
// TransitionTakenEvent published by the authority.
func (s *Server) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	var ev domain.TransitionTakenEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("ApplyTransition: Invalid request body", "error", err)
		return
	}
	err := s.Sessions.Do(r.Context(), chi.URLParam(r, "id"), func(ctx context.Context, inst *arbor.Instance) error {
		return inst.ApplyReplicatedTransition(ctx, &ev)
	})
	if err != nil {
		s.fail(w, "ApplyTransition", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// EvaluateTransition handles the POST /instances/{id}/evaluate/{transition} request,
// evaluating an event-driven transition now.
func (s *Server) EvaluateTransition(w http.ResponseWriter, r *http.Request) {
	tid, err := uuid.Parse(chi.URLParam(r, "transition"))
	if err != nil {
		http.Error(w, "Invalid transition id", http.StatusBadRequest)
		return
	}
	var taken bool
	err = s.Sessions.Do(r.Context(), chi.URLParam(r, "id"), func(ctx context.Context, inst *arbor.Instance) error {
		if !inst.IsActive() {
			return domain.ErrNotActive
		}
		if _, ok := inst.FindTransition(tid); !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownGUID, tid)
		}
		taken = inst.EvaluateFromEvent(ctx, tid)
		return nil
	})
	if err != nil {
		s.fail(w, "EvaluateTransition", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"taken": taken})
}

// Checkpoint handles the POST /instances/{id}/checkpoint request.
func (s *Server) Checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Checkpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "Checkpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles the POST /instances/{id}/restore request.
func (s *Server) Restore(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Restore(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "Restore", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles the GET /instances/{id}/events request (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.Sessions.Instance(id); !ok {
		s.fail(w, "SubscribeEvents", fmt.Errorf("%w: %s", session.ErrInstanceNotFound, id))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Info("SSE: Subscribing to instance updates", "instance", id)
	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "instance", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprint(w, msg)
			flusher.Flush()
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	} else {
		s.logger.Debug(op+" rejected", "error", err, "status", status)
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrInstanceNotFound),
		errors.Is(err, domain.ErrUnknownGUID),
		errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrNotInitialized),
		errors.Is(err, domain.ErrTransitionRejected),
		errors.Is(err, domain.ErrShuttingDown):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
