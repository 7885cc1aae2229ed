// Package client provides a typed HTTP client for the coordinator API.
// It is used by the CLI and by worker nodes reporting back results.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conclave-io/conclave/pkg/types"
)

// Client talks to a coordinator over HTTP/JSON
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the coordinator at baseURL,
// e.g. "http://127.0.0.1:7410".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TaskConstraints is the wire form of task constraints
type TaskConstraints struct {
	Priority             string   `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	MaxNodes             int      `json:"maxNodes,omitempty"`
	MinConfidence        float64  `json:"minConfidence,omitempty"`
	TimeoutMs            int64    `json:"timeoutMs,omitempty"`
	Strategy             string   `json:"strategy,omitempty"`
}

// TaskStatusResponse is the response to a task status query
type TaskStatusResponse struct {
	Status             types.TaskStatus `json:"status"`
	Reason             string           `json:"reason,omitempty"`
	PartialResultCount int              `json:"partialResultCount"`
	Task               *types.Task      `json:"task"`
}

// SubmitTask submits a reasoning task and returns its ID.
func (c *Client) SubmitTask(ctx context.Context, query types.ReasoningQuery, constraints *TaskConstraints) (string, error) {
	body := map[string]any{"query": query}
	if constraints != nil {
		body["constraints"] = constraints
	}
	var resp struct {
		TaskID string `json:"taskId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", body, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// GetTask returns the current status of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	var resp TaskStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetResult returns the aggregated result of a completed task.
func (c *Client) GetResult(ctx context.Context, taskID string) (*types.AggregatedResult, error) {
	var resp types.AggregatedResult
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+taskID+"/result", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTask cancels a non-terminal task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/tasks/"+taskID, nil, nil)
}

// ListTasks returns all known tasks.
func (c *Client) ListTasks(ctx context.Context) ([]*types.Task, error) {
	var resp []*types.Task
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RegisterNode registers a worker node and returns its assigned ID.
func (c *Client) RegisterNode(ctx context.Context, endpoint string, capabilities []string, metadata map[string]string) (string, error) {
	body := map[string]any{
		"endpoint":     endpoint,
		"capabilities": capabilities,
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var resp struct {
		NodeID string `json:"nodeId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/nodes", body, &resp); err != nil {
		return "", err
	}
	return resp.NodeID, nil
}

// DeregisterNode removes a node from the pool.
func (c *Client) DeregisterNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/nodes/"+nodeID, nil, nil)
}

// SendHeartbeat reports node liveness, load and performance.
func (c *Client) SendHeartbeat(ctx context.Context, nodeID string, status types.NodeStatus, load float64, perf types.NodePerformance) error {
	body := map[string]any{
		"status":      status,
		"load":        load,
		"performance": perf,
	}
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+nodeID+"/heartbeat", body, nil)
}

// ReportResult posts a node's partial result for a task.
func (c *Client) ReportResult(ctx context.Context, taskID, nodeID string, result types.ReasoningResult, execErr string, elapsed time.Duration) error {
	body := map[string]any{
		"nodeId":    nodeID,
		"result":    result,
		"elapsedMs": elapsed.Milliseconds(),
	}
	if execErr != "" {
		body["error"] = execErr
	}
	return c.do(ctx, http.MethodPost, "/v1/tasks/"+taskID+"/results", body, nil)
}

// ListNodes returns all registered nodes.
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var resp []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ActiveNodes returns nodes currently eligible for work.
func (c *Client) ActiveNodes(ctx context.Context) ([]*types.Node, error) {
	var resp []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NodesByCapability returns nodes advertising the given capability.
func (c *Client) NodesByCapability(ctx context.Context, capability string) ([]*types.Node, error) {
	var resp []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/nodes?capability="+capability, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns aggregate coordinator statistics.
func (c *Client) Stats(ctx context.Context) (*types.SystemStats, error) {
	var resp types.SystemStats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the coordinator health report.
func (c *Client) Health(ctx context.Context) (*types.HealthReport, error) {
	var resp types.HealthReport
	// A 503 still carries a valid report body.
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNodeUnreachable, err)
	}
	defer httpResp.Body.Close()
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding health report: %w", err)
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return mapStatusError(resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func mapStatusError(status int, message string) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", types.ErrNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", types.ErrTerminalState, message)
	default:
		return fmt.Errorf("coordinator error (%d): %s", status, message)
	}
}
