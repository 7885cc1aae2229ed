package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestSubmitTaskReturnsAssignedID(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		jsonHandler(http.StatusCreated, map[string]string{"taskId": "task-42"})(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	taskID, err := c.SubmitTask(context.Background(),
		types.ReasoningQuery{Type: "deduction", Premises: []string{"a -> b"}},
		&TaskConstraints{Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "task-42", taskID)
	assert.Equal(t, "/v1/tasks", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestStatusCodesMapToSentinelErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			jsonHandler(http.StatusNotFound, map[string]string{"error": "task missing: not found"})(w, r)
		default:
			jsonHandler(http.StatusConflict, map[string]string{"error": "task is cancelled"})(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	err = c.CancelTask(context.Background(), "done")
	assert.True(t, errors.Is(err, types.ErrTerminalState))
}

func TestTransportFailureWrapsUnreachable(t *testing.T) {
	// Grab a port that refuses connections by closing the listener.
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := NewClient(addr)
	_, err := c.ListNodes(context.Background())
	assert.True(t, errors.Is(err, types.ErrNodeUnreachable))
}

func TestHealthDecodesDegradedReport(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusServiceUnavailable, types.HealthReport{
		Healthy: false,
		Status:  "unhealthy",
		Issues:  []string{"critical task t1 has no eligible nodes"},
	}))
	defer server.Close()

	report, err := NewClient(server.URL).Health(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, "unhealthy", report.Status)
	require.Len(t, report.Issues, 1)
}
