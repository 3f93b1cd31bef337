// Package httputil provides shared HTTP client construction so that every
// caller of the annotation backend uses consistent timeouts and transport
// instrumentation.
package httputil

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Standard timeout defaults.
const (
	// DefaultBackendTimeout bounds a backend step round trip. Steps may run
	// taggers over whole documents, so the limit is generous.
	DefaultBackendTimeout = 120 * time.Second

	// DefaultFetchTimeout bounds lightweight requests such as fetch_tasks.
	DefaultFetchTimeout = 30 * time.Second
)

// NewHTTPClient returns an *http.Client configured with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewTracedHTTPClient returns a client whose transport emits an OpenTelemetry
// client span per request and injects the configured propagation headers.
func NewTracedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
