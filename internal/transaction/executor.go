package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Executor re-runs one operation type during a scheduled retry.
type Executor interface {
	Execute(ctx context.Context, operationType string, payload json.RawMessage) (json.RawMessage, error)
}

// ExecutorFunc adapts a plain function into an Executor.
type ExecutorFunc func(ctx context.Context, operationType string, payload json.RawMessage) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, operationType string, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, operationType, payload)
}

// Largest response body kept as a transaction result.
const maxResultSize = 1 << 20

// HTTPExecutor retries an operation by POSTing its payload to a collaborator endpoint.
// A 2xx reply confirms the transaction and its body becomes the result.
type HTTPExecutor struct {
	url    string
	client *http.Client
}

func NewHTTPExecutor(url string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{url: url, client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Execute(ctx context.Context, operationType string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build executor request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operation-Type", operationType)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "execute %s", operationType)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultSize))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read executor response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("executor replied %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	switch {
	case len(body) == 0:
		return nil, nil
	case !json.Valid(body):
		// non-JSON bodies are kept as a JSON string
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return body, nil
}
