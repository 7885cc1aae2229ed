package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conclave-io/conclave/pkg/types"
)

// HTTPDispatcher delivers task assignments to worker nodes over HTTP.
// Each node listens on the endpoint it advertised at registration.
type HTTPDispatcher struct {
	httpClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher with the given per-call timeout
func NewHTTPDispatcher(timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Dispatch sends the task to the node's /execute endpoint.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, node *types.Node, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	url := node.Endpoint + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: node %s rejected task (%d)", types.ErrNodeUnreachable, node.ID, resp.StatusCode)
	}
	return nil
}

// Signal asks the node to abandon a task. A failed signal is not an
// error the caller can act on, but it is reported for logging.
func (d *HTTPDispatcher) Signal(ctx context.Context, node *types.Node, taskID string) error {
	url := node.Endpoint + "/tasks/" + taskID + "/stop"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("stop signal rejected by node %s (%d)", node.ID, resp.StatusCode)
	}
	return nil
}
