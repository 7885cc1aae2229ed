// Package worker implements the node agent. A worker registers with
// the coordinator, advertises its reasoning capabilities, heartbeats
// on an interval, accepts task dispatches over HTTP and reports
// partial results back through the coordinator API.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/conclave-io/conclave/pkg/client"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/types"
)

// Executor runs a reasoning query and produces a result. Execution
// must honor ctx cancellation; a cancelled task's result is discarded.
type Executor interface {
	Execute(ctx context.Context, query types.ReasoningQuery) (types.ReasoningResult, error)
}

// ExecutorFunc adapts a plain function to the Executor interface
type ExecutorFunc func(ctx context.Context, query types.ReasoningQuery) (types.ReasoningResult, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, query types.ReasoningQuery) (types.ReasoningResult, error) {
	return f(ctx, query)
}

// Config holds worker settings
type Config struct {
	// CoordinatorURL is the base URL of the coordinator API
	CoordinatorURL string

	// ListenAddr is the address the worker's own HTTP listener binds to
	ListenAddr string

	// AdvertiseURL is the endpoint registered with the coordinator.
	// Defaults to "http://" + ListenAddr.
	AdvertiseURL string

	// Capabilities lists the reasoning types this worker handles
	Capabilities []string

	// Metadata is attached to the node registration
	Metadata map[string]string

	// HeartbeatInterval defaults to 5s
	HeartbeatInterval time.Duration

	// MaxConcurrent caps parallel task executions, defaults to 4
	MaxConcurrent int
}

// Worker is a single reasoning node
type Worker struct {
	cfg      Config
	executor Executor
	client   *client.Client
	logger   zerolog.Logger

	mu        sync.Mutex
	nodeID    string
	startedAt time.Time
	running   map[string]context.CancelFunc
	perf      perfCounters

	httpServer *http.Server
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

type perfCounters struct {
	completed     int64
	failed        int64
	totalDuration time.Duration
}

// NewWorker creates a worker with the given executor
func NewWorker(cfg Config, executor Executor) (*Worker, error) {
	if cfg.CoordinatorURL == "" {
		return nil, errors.New("coordinator URL is required")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	if len(cfg.Capabilities) == 0 {
		return nil, errors.New("at least one capability is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.AdvertiseURL == "" {
		cfg.AdvertiseURL = "http://" + cfg.ListenAddr
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	return &Worker{
		cfg:      cfg,
		executor: executor,
		client:   client.NewClient(cfg.CoordinatorURL),
		logger:   log.WithComponent("worker"),
		running:  make(map[string]context.CancelFunc),
		stopCh:   make(chan struct{}),
	}, nil
}

// NodeID returns the coordinator-assigned node ID, empty before Run.
func (w *Worker) NodeID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nodeID
}

// Run registers the worker, starts the HTTP listener and the heartbeat
// loop, and blocks until the context is cancelled. On shutdown the
// worker deregisters so its tasks are reassigned promptly.
func (w *Worker) Run(ctx context.Context) error {
	nodeID, err := w.client.RegisterNode(ctx, w.cfg.AdvertiseURL, w.cfg.Capabilities, w.cfg.Metadata)
	if err != nil {
		return fmt.Errorf("registering with coordinator: %w", err)
	}
	w.mu.Lock()
	w.nodeID = nodeID
	w.startedAt = time.Now()
	w.mu.Unlock()
	w.logger.Info().Str("node_id", nodeID).Str("endpoint", w.cfg.AdvertiseURL).
		Strs("capabilities", w.cfg.Capabilities).Msg("registered with coordinator")

	w.httpServer = &http.Server{
		Addr:    w.cfg.ListenAddr,
		Handler: w.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := w.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	w.wg.Add(1)
	go w.heartbeatLoop()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	close(w.stopCh)
	w.cancelAll()
	w.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.httpServer.Shutdown(shutdownCtx)
	if err := w.client.DeregisterNode(shutdownCtx, nodeID); err != nil {
		w.logger.Warn().Err(err).Msg("deregistration failed")
	}
	return runErr
}

func (w *Worker) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/execute", w.handleExecute)
	r.Post("/tasks/{taskID}/stop", w.handleStop)
	return r
}

func (w *Worker) handleExecute(rw http.ResponseWriter, req *http.Request) {
	var task types.Task
	if err := json.NewDecoder(req.Body).Decode(&task); err != nil || task.ID == "" {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	if len(w.running) >= w.cfg.MaxConcurrent {
		w.mu.Unlock()
		rw.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if _, exists := w.running[task.ID]; exists {
		w.mu.Unlock()
		rw.WriteHeader(http.StatusAccepted)
		return
	}
	ctx, cancel := context.WithDeadline(context.Background(), task.Deadline)
	w.running[task.ID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.execute(ctx, &task)

	rw.WriteHeader(http.StatusAccepted)
}

func (w *Worker) handleStop(rw http.ResponseWriter, req *http.Request) {
	taskID := chi.URLParam(req, "taskID")

	w.mu.Lock()
	cancel, ok := w.running[taskID]
	w.mu.Unlock()
	if ok {
		cancel()
		w.logger.Info().Str("task_id", taskID).Msg("task execution cancelled on request")
	}
	rw.WriteHeader(http.StatusOK)
}

func (w *Worker) execute(ctx context.Context, task *types.Task) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		if cancel, ok := w.running[task.ID]; ok {
			cancel()
			delete(w.running, task.ID)
		}
		w.mu.Unlock()
	}()

	start := time.Now()
	result, err := w.executor.Execute(ctx, task.Query)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// Cancelled or past deadline. The coordinator has already moved
		// on, so the outcome is discarded rather than reported.
		w.logger.Debug().Str("task_id", task.ID).Msg("dropping result for cancelled task")
		return
	}

	w.mu.Lock()
	nodeID := w.nodeID
	if err != nil {
		w.perf.failed++
	} else {
		w.perf.completed++
	}
	w.perf.totalDuration += elapsed
	w.mu.Unlock()

	var execErr string
	if err != nil {
		execErr = err.Error()
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("task execution failed")
	} else {
		w.logger.Info().Str("task_id", task.ID).Dur("elapsed", elapsed).
			Float64("confidence", result.Confidence).Msg("task executed")
	}

	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.client.ReportResult(reportCtx, task.ID, nodeID, result, execErr, elapsed); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to report result")
	}
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sendHeartbeat()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sendHeartbeat() {
	w.mu.Lock()
	nodeID := w.nodeID
	load := float64(len(w.running)) / float64(w.cfg.MaxConcurrent)
	status := types.NodeOnline
	if len(w.running) >= w.cfg.MaxConcurrent {
		status = types.NodeBusy
	}
	perf := w.performanceLocked()
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.SendHeartbeat(ctx, nodeID, status, load, perf); err != nil {
		w.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}

func (w *Worker) performanceLocked() types.NodePerformance {
	total := w.perf.completed + w.perf.failed
	perf := types.NodePerformance{
		TasksCompleted: w.perf.completed,
		TasksErrored:   w.perf.failed,
		Uptime:         time.Since(w.startedAt),
	}
	if total > 0 {
		perf.AverageResponseTime = w.perf.totalDuration / time.Duration(total)
	}
	return perf
}

func (w *Worker) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, cancel := range w.running {
		cancel()
		delete(w.running, id)
	}
}
