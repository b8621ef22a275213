// Package client talks to the external analysis and anchoring services over
// HTTP. Calls are traced and guarded by a circuit breaker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "civicwatch/pkg/domain-errors"
	"civicwatch/pkg/platform/circuit"
)

const maxResponseBytes = 1 << 20

// Option configures both clients.
type Option func(*base)

func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		if c != nil {
			b.http = c
		}
	}
}

func WithBreaker(br *circuit.Breaker) Option {
	return func(b *base) {
		b.breaker = br
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		b.logger = logger
	}
}

// base holds the transport shared by the analyzer and anchorer clients.
type base struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	tracer  trace.Tracer
}

func newBase(name, baseURL string, timeout time.Duration, opts []Option) base {
	b := base{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("civicwatch/analysis/client"),
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// post sends body as JSON and decodes a 2xx JSON response into out. Every
// failure carries the given code.
func (b *base) post(ctx context.Context, path string, body, out any, code dErrors.Code) error {
	ctx, span := b.tracer.Start(ctx, b.name+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if b.breaker != nil && !b.breaker.Allow() {
		span.SetStatus(codes.Error, "circuit open")
		return dErrors.New(code, b.name+" circuit open")
	}

	err := b.do(ctx, span, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.recordFailure(ctx)
		return dErrors.Wrap(err, code, b.name+" unavailable")
	}
	b.recordSuccess(ctx)
	return nil
}

func (b *base) do(ctx context.Context, span trace.Span, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", b.name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (b *base) recordFailure(ctx context.Context) {
	if b.breaker == nil {
		return
	}
	if _, change := b.breaker.RecordFailure(); change.Opened {
		b.logger.WarnContext(ctx, "circuit opened", "collaborator", b.name)
	}
}

func (b *base) recordSuccess(ctx context.Context) {
	if b.breaker == nil {
		return
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.logger.InfoContext(ctx, "circuit closed", "collaborator", b.name)
	}
}
