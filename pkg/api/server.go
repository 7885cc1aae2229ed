// Package api exposes the coordination service over HTTP/JSON. The
// wire shapes mirror the service façade; the transport itself carries
// no coordination semantics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/metrics"
	"github.com/conclave-io/conclave/pkg/service"
	"github.com/conclave-io/conclave/pkg/types"
)

// Server is the coordinator HTTP API server
type Server struct {
	svc            *service.Service
	requestTimeout time.Duration
	httpServer     *http.Server
}

// NewServer creates an API server over the coordination service
func NewServer(svc *service.Service, requestTimeout time.Duration) *Server {
	return &Server{svc: svc, requestTimeout: requestTimeout}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// Ready means the coordinator can accept work, even if degraded.
		if s.svc.HealthCheck().Status == "unhealthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Delete("/tasks/{taskID}", s.handleCancelTask)
		r.Get("/tasks/{taskID}/result", s.handleGetResult)
		r.Post("/tasks/{taskID}/results", s.handleRecordPartial)

		r.Post("/nodes", s.handleRegisterNode)
		r.Get("/nodes", s.handleListNodes)
		r.Get("/nodes/active", s.handleActiveNodes)
		r.Delete("/nodes/{nodeID}", s.handleDeregisterNode)
		r.Post("/nodes/{nodeID}/heartbeat", s.handleHeartbeat)

		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
	})

	// The event stream outlives the request timeout window.
	r.Get("/v1/events", s.handleEvents)

	return r
}

// Start serves the API on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	logger := log.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// --- task handlers ---

type taskConstraintsRequest struct {
	Priority             string   `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	MaxNodes             int      `json:"maxNodes,omitempty"`
	MinConfidence        float64  `json:"minConfidence,omitempty"`
	TimeoutMs            int64    `json:"timeoutMs,omitempty"`
	Strategy             string   `json:"strategy,omitempty"`
}

type submitTaskRequest struct {
	Query       types.ReasoningQuery    `json:"query"`
	Constraints *taskConstraintsRequest `json:"constraints,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var constraints types.TaskConstraints
	if req.Constraints != nil {
		constraints = types.TaskConstraints{
			Priority:             types.TaskPriority(req.Constraints.Priority),
			RequiredCapabilities: req.Constraints.RequiredCapabilities,
			MaxNodes:             req.Constraints.MaxNodes,
			MinConfidence:        req.Constraints.MinConfidence,
			Timeout:              time.Duration(req.Constraints.TimeoutMs) * time.Millisecond,
			Strategy:             types.AggregationStrategy(req.Constraints.Strategy),
		}
	}

	task, err := s.svc.SubmitTask(req.Query, constraints)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"taskId": task.ID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListTasks())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTaskStatus(chi.URLParam(r, "taskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             task.Status,
		"reason":             task.Reason,
		"partialResultCount": len(task.Partials),
		"task":               task,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelTask(chi.URLParam(r, "taskID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.GetResult(chi.URLParam(r, "taskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type partialResultRequest struct {
	NodeID    string                `json:"nodeId"`
	Result    types.ReasoningResult `json:"result"`
	Error     string                `json:"error,omitempty"`
	ElapsedMs int64                 `json:"elapsedMs,omitempty"`
}

func (s *Server) handleRecordPartial(w http.ResponseWriter, r *http.Request) {
	var req partialResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "nodeId is required")
		return
	}

	s.svc.RecordPartialResult(chi.URLParam(r, "taskID"), req.NodeID, req.Result,
		req.Error, time.Duration(req.ElapsedMs)*time.Millisecond)
	// Late, duplicate and unassigned partials are absorbed silently.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- node handlers ---

type registerNodeRequest struct {
	Endpoint     string            `json:"endpoint"`
	Capabilities []string          `json:"capabilities"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	node, err := s.svc.RegisterNode(req.Endpoint, req.Capabilities, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"nodeId": node.ID})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if capability := r.URL.Query().Get("capability"); capability != "" {
		writeJSON(w, http.StatusOK, s.svc.GetNodesByCapability(capability))
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ListNodes())
}

func (s *Server) handleActiveNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetActiveNodes())
}

func (s *Server) handleDeregisterNode(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeregisterNode(chi.URLParam(r, "nodeID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

type heartbeatRequest struct {
	Status      string                `json:"status,omitempty"`
	Load        float64               `json:"load"`
	Performance types.NodePerformance `json:"performance"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s.svc.SendHeartbeat(types.Heartbeat{
		NodeID:      chi.URLParam(r, "nodeID"),
		Status:      types.NodeStatus(req.Status),
		Load:        req.Load,
		Performance: req.Performance,
	})
	// Fire-and-forget from the node's perspective: unknown IDs are
	// logged server-side, never bounced.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- system handlers ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetSystemStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.HealthCheck()
	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// handleEvents streams coordinator events as JSON lines until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.svc.Subscribe()
	defer s.svc.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// --- helpers ---

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidTask), errors.Is(err, types.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrTerminalState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
