// Package backend implements the client side of the annotation backend
// contracts: running steps, undoing through a step, and fetching task
// metadata. Every call is a form POST answered with JSON.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/pkg/httputil"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/logger"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/metrics/prometheus"
	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/telemetry"
)

const formContentType = "application/x-www-form-urlencoded"

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTracer sets the tracer used for backend spans.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithConfig sets form fields sent with every steps and undo_through request.
// Per-request Config entries take precedence.
func WithConfig(cfg map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range cfg {
			c.config[k] = v
		}
	}
}

// Client talks to a single backend endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tracer     trace.Tracer
	config     map[string]string
}

// NewClient creates a Client posting to endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httputil.NewTracedHTTPClient(httputil.DefaultBackendTimeout),
		config:     map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = telemetry.Tracer(nil)
	}
	return c
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Steps runs req.Steps on req.Input. A response carrying both successes and an
// error is returned without error; callers apply the successes and then
// surface resp.Failure().
func (c *Client) Steps(ctx context.Context, req StepsRequest) (*StepsResponse, error) {
	form := c.baseForm(OperationSteps, req.Task, req.Workflow, req.Config)
	form.Set("steps", joinSteps(req.Steps))
	form.Set("input", string(req.Input))

	var resp StepsResponse
	if err := c.post(ctx, OperationSteps, req.Task, req.Workflow, req.Steps, form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UndoThrough undoes req.UndoThrough and every step downstream of it. A
// backend-reported error is returned as an *ApplicationFailure, since a failed
// undo leaves nothing to apply.
func (c *Client) UndoThrough(ctx context.Context, req UndoRequest) (*UndoResponse, error) {
	form := c.baseForm(OperationUndoThrough, req.Task, req.Workflow, req.Config)
	form.Set("undo_through", req.UndoThrough)
	form.Set("input", string(req.Input))

	var resp UndoResponse
	err := c.post(ctx, OperationUndoThrough, req.Task, req.Workflow, []string{req.UndoThrough}, form, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ApplicationFailure{Operation: OperationUndoThrough, Step: resp.ErrorStep, Message: resp.Error}
	}
	return &resp, nil
}

// FetchTasks loads the task metadata the backend knows about.
func (c *Client) FetchTasks(ctx context.Context) (*TasksResponse, error) {
	form := url.Values{}
	form.Set("operation", OperationFetchTasks)

	var resp TasksResponse
	if err := c.post(ctx, OperationFetchTasks, "", "", nil, form, &resp); err != nil {
		return nil, err
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]json.RawMessage{}
	}
	return &resp, nil
}

func (c *Client) baseForm(operation, task, workflow string, cfg map[string]string) url.Values {
	form := url.Values{}
	for k, v := range c.config {
		form.Set(k, v)
	}
	for k, v := range cfg {
		form.Set(k, v)
	}
	form.Set("operation", operation)
	if task != "" {
		form.Set("task", task)
	}
	if workflow != "" {
		form.Set("workflow", workflow)
	}
	return form
}

func (c *Client) post(
	ctx context.Context, operation, task, workflow string, steps []string, form url.Values, out any,
) (err error) {
	ctx, span := telemetry.StartBackendSpan(ctx, c.tracer, operation, task, workflow, steps)
	start := time.Now()
	statusCode := 0
	defer func() {
		elapsed := time.Since(start)
		status := prometheus.StatusSuccess
		if err != nil {
			status = prometheus.StatusError
		}
		prometheus.RecordBackendRequest(operation, status, elapsed.Seconds())
		logger.BackendResponse(ctx, operation, statusCode, elapsed, err)
		telemetry.EndSpan(span, err)
	}()

	fields := make(map[string]string, len(form))
	for k := range form {
		fields[k] = form.Get(k)
	}
	logger.BackendRequest(ctx, operation, c.endpoint, fields)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return &TransportFailure{Operation: operation, Err: err}
	}
	httpReq.Header.Set("Content-Type", formContentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportFailure{Operation: operation, Err: err}
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportFailure{Operation: operation, StatusCode: statusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportFailure{
			Operation:  operation,
			StatusCode: statusCode,
			Err:        errors.New(logger.RedactPayload(string(body))),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeFailure{Operation: operation, Err: err}
	}
	return nil
}
