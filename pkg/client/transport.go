package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"GoGate/pkg/config"
	"GoGate/pkg/metrics"
	"GoGate/pkg/observability"
)

// RawResponse is a gateway response before any interpretation. Exactly one
// of Body and Stream is set: Stream only for successful streaming calls.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
	RequestID  string
}

// OK reports a 2xx status.
func (r *RawResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError converts a non-2xx response into a StatusError. It returns nil
// for successful responses.
func (r *RawResponse) StatusError() *StatusError {
	if r.OK() {
		return nil
	}
	return &StatusError{Code: r.StatusCode, Body: strings.TrimSpace(string(r.Body))}
}

// Close releases the streaming body, if any.
func (r *RawResponse) Close() error {
	if r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}

// timeoutError is the cancellation cause when a call runs out of time.
type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string   { return fmt.Sprintf("timed out after %s", e.after) }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// streamBody releases the per-call context together with the body.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}

// Transport issues single HTTP calls against the gateway. It never retries
// and never turns an HTTP status into an error.
type Transport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewTransport creates a Transport for cfg.BaseURL.
func NewTransport(cfg config.Config, opts ...Option) *Transport {
	o := buildOptions(opts)
	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: o.httpClient,
		logger:     o.logger,
		tracer:     observability.Tracer(),
	}
}

// Execute performs one request. body, when non-nil, is sent as JSON.
//
// With stream=false the timeout covers the whole call including the body,
// which is returned in RawResponse.Body. With stream=true the timeout only
// covers connecting and receiving headers; a 2xx body is handed back
// unread in RawResponse.Stream and the caller must Close it. Non-2xx
// bodies are always read fully.
func (t *Transport) Execute(ctx context.Context, method, path string, body any, stream bool, timeout time.Duration) (*RawResponse, error) {
	url := t.baseURL + path

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	requestID := uuid.NewString()
	ctx, span := t.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
			attribute.Bool("gogate.stream", stream),
			attribute.String("gogate.request_id", requestID),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(timeout, func() { cancel(&timeoutError{after: timeout}) })

	req, err := http.NewRequestWithContext(callCtx, method, url, payload)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	req.Header.Set("X-Request-ID", requestID)

	t.logger.Debug("gateway request", "method", method, "url", url, "stream", stream, "request_id", requestID)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		timer.Stop()
		netErr := t.networkError(callCtx, method, url, err)
		cancel(nil)
		t.observe(method, path, 0, start, span, netErr)
		return nil, netErr
	}

	raw := &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RequestID:  requestID,
	}

	if stream && raw.OK() {
		if !timer.Stop() {
			// headers raced the deadline; the context is already cancelled
			_ = resp.Body.Close()
			netErr := t.networkError(callCtx, method, url, context.Canceled)
			cancel(nil)
			t.observe(method, path, 0, start, span, netErr)
			return nil, netErr
		}
		raw.Stream = &streamBody{ReadCloser: resp.Body, cancel: cancel}
		t.observe(method, path, resp.StatusCode, start, span, nil)
		return raw, nil
	}

	defer func() {
		timer.Stop()
		cancel(nil)
	}()
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		netErr := t.networkError(callCtx, "read "+method, url, err)
		t.observe(method, path, 0, start, span, netErr)
		return nil, netErr
	}
	raw.Body = data
	t.observe(method, path, resp.StatusCode, start, span, nil)
	return raw, nil
}

// networkError wraps err, substituting the timeout cause when the call's own
// deadline is what cancelled it.
func (t *Transport) networkError(ctx context.Context, op, url string, err error) *NetworkError {
	var te *timeoutError
	if cause := context.Cause(ctx); errors.As(cause, &te) {
		err = fmt.Errorf("%w: %w", te, err)
	}
	return &NetworkError{Op: op, URL: url, Err: err}
}

func (t *Transport) observe(method, path string, status int, start time.Time, span trace.Span, err error) {
	metrics.RequestsTotal.WithLabelValues(method, path, metrics.StatusLabel(status)).Inc()
	metrics.RequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Debug("gateway request failed", "method", method, "path", path, "error", err)
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 400 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	t.logger.Debug("gateway response", "method", method, "path", path, "status", status,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
