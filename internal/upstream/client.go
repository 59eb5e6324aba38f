// Package upstream wraps outbound HTTP calls to the gateways ToneShift relies
// on. Every call carries a fixed deadline; hitting it yields ErrTimeout so
// callers can report a gateway timeout instead of hanging.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout applies to upstream calls with no natural completion signal.
const DefaultTimeout = 8 * time.Second

// ErrTimeout marks a call that exceeded its deadline.
var ErrTimeout = errors.New("gateway timeout")

// Error is a non-2xx answer from a gateway. Status is preserved so proxies can
// relay it unchanged.
type Error struct {
	Service     string
	Status      int
	ContentType string
	Body        []byte
}

func (e *Error) Error() string {
	detail := string(e.Body)
	if len(detail) > 256 {
		detail = detail[:256]
	}
	if detail == "" {
		detail = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, detail)
}

// StatusOf returns the HTTP status that best describes err for a client.
func StatusOf(err error) int {
	var upErr *Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &upErr):
		return upErr.Status
	default:
		return http.StatusBadGateway
	}
}

// Client performs deadline-bounded requests against one named service.
type Client struct {
	service string
	http    *http.Client
	timeout time.Duration
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

func NewClient(service string, timeout time.Duration, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		service: service,
		http:    httpClient,
		timeout: timeout,
		tracer:  otel.Tracer("github.com/loqalabs/toneshift/upstream"),
	}
	hist, err := otel.Meter("github.com/loqalabs/toneshift/upstream").Float64Histogram(
		"toneshift.upstream.latency",
		metric.WithDescription("Upstream call latency"),
		metric.WithUnit("s"),
	)
	if err == nil {
		c.latency = hist
	}
	return c
}

// Response is a fully buffered upstream answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the status is 2xx.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Do sends req with the client deadline applied on top of ctx and buffers the
// body. Cancellation of ctx is returned as ctx.Err(); only the client deadline
// is translated into ErrTimeout. Non-2xx answers are returned as-is, callers
// decide whether they are errors.
func (c *Client) Do(ctx context.Context, req *http.Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callCtx, span := c.tracer.Start(callCtx, c.service+" "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", req.URL.Redacted())),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.http.Do(req.WithContext(callCtx))
	if err != nil {
		err = c.classify(ctx, callCtx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = c.classify(ctx, callCtx, err)
		span.RecordError(err)
		return Response{}, err
	}
	c.record(ctx, start, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Expect2xx converts a non-2xx response into *Error.
func (c *Client) Expect2xx(resp Response) error {
	if resp.OK() {
		return nil
	}
	return &Error{Service: c.service, Status: resp.Status, ContentType: resp.ContentType, Body: resp.Body}
}

func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", c.service, ErrTimeout, c.timeout)
	}
	return fmt.Errorf("%s request failed: %w", c.service, err)
}

func (c *Client) record(ctx context.Context, start time.Time, status int) {
	if c.latency == nil {
		return
	}
	c.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("service", c.service),
		attribute.Int("status", status),
	))
}
