// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracing follows replication runs across the operator API, the
// replicators and the remote peer with jaeger spans.
//
// A trace started by an operator request continues in the run it
// triggers, and every request a run makes to the remote carries the span
// of the run in its headers.
package tracing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethersphere/mirror/pkg/logging"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/sirupsen/logrus"
	"github.com/uber/jaeger-client-go"
	"github.com/uber/jaeger-client-go/config"
)

// ErrContextNotFound is returned when there is no span context to
// propagate.
var ErrContextNotFound = errors.New("tracing context not found")

// noopTracer stands in for a nil Tracer.
var noopTracer = &Tracer{tracer: new(opentracing.NoopTracer)}

type contextKey struct{}

// LogField is the log entry field holding the trace id.
const LogField = "traceid"

const (
	// TraceContextHeaderName carries the span context between the mirror
	// and its peers.
	TraceContextHeaderName = "mirror-trace-id"

	// TraceBaggageHeaderPrefix prefixes the headers carrying baggage items.
	TraceBaggageHeaderPrefix = "mirrorctx-"
)

// Tracer starts spans and moves their contexts in and out of HTTP headers.
// A nil Tracer is valid and records nothing.
type Tracer struct {
	tracer opentracing.Tracer
}

type Options struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	// SampleRate is the fraction of runs that are traced, all of them if
	// zero.
	SampleRate float64
}

// NewTracer returns a Tracer reporting to the jaeger agent at the
// endpoint. The closer flushes buffered spans.
func NewTracer(o *Options) (*Tracer, io.Closer, error) {
	if o == nil {
		o = new(Options)
	}

	sampler := &config.SamplerConfig{
		Type:  jaeger.SamplerTypeConst,
		Param: 1,
	}
	if o.SampleRate > 0 && o.SampleRate < 1 {
		sampler = &config.SamplerConfig{
			Type:  jaeger.SamplerTypeProbabilistic,
			Param: o.SampleRate,
		}
	}

	cfg := config.Configuration{
		Disabled:    !o.Enabled,
		ServiceName: o.ServiceName,
		Sampler:     sampler,
		Reporter: &config.ReporterConfig{
			BufferFlushInterval: time.Second,
			LocalAgentHostPort:  o.Endpoint,
		},
		Headers: &jaeger.HeadersConfig{
			TraceContextHeaderName:   TraceContextHeaderName,
			TraceBaggageHeaderPrefix: TraceBaggageHeaderPrefix,
		},
	}

	t, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, nil, err
	}
	return &Tracer{tracer: t}, closer, nil
}

// StartSpanFromContext starts a span, a child of the span context in ctx if
// there is one. The returned log entry carries the trace id when l is not
// nil.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string, l logging.Logger, opts ...opentracing.StartSpanOption) (opentracing.Span, *logrus.Entry, context.Context) {
	if t == nil {
		t = noopTracer
	}

	if parent := FromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	sc := span.Context()
	return span, loggerWithTraceID(sc, l), WithContext(ctx, sc)
}

// FinishSpan marks the span as failed unless err is nil or a cancellation,
// then finishes it.
func FinishSpan(span opentracing.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
	}
	span.Finish()
}

// InjectHTTPHeaders writes the span context of ctx into outgoing request
// headers. ErrContextNotFound is returned if ctx has none.
func (t *Tracer) InjectHTTPHeaders(ctx context.Context, headers http.Header) error {
	if t == nil {
		t = noopTracer
	}

	c := FromContext(ctx)
	if c == nil {
		return ErrContextNotFound
	}
	return t.tracer.Inject(c, opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
}

// HTTPHandler continues the trace of incoming requests: the span context
// found in the request headers is put into the request context, where
// handlers and StartSpanFromContext pick it up.
func (t *Tracer) HTTPHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := t.extract(r.Header); err == nil {
			r = r.WithContext(WithContext(r.Context(), c))
		}
		h.ServeHTTP(w, r)
	})
}

func (t *Tracer) extract(headers http.Header) (opentracing.SpanContext, error) {
	if t == nil {
		t = noopTracer
	}

	c, err := t.tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
	if err != nil {
		if errors.Is(err, opentracing.ErrSpanContextNotFound) {
			return nil, ErrContextNotFound
		}
		return nil, err
	}
	return c, nil
}

// WithContext returns a copy of ctx holding the span context.
func WithContext(ctx context.Context, c opentracing.SpanContext) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the span context held by ctx, or nil.
func FromContext(ctx context.Context) opentracing.SpanContext {
	c, _ := ctx.Value(contextKey{}).(opentracing.SpanContext)
	return c
}

// NewLoggerWithTraceID returns a log entry with the trace id of the span
// context in ctx, if any. It returns nil for a nil logger.
func NewLoggerWithTraceID(ctx context.Context, l logging.Logger) *logrus.Entry {
	return loggerWithTraceID(FromContext(ctx), l)
}

func loggerWithTraceID(sc opentracing.SpanContext, l logging.Logger) *logrus.Entry {
	if l == nil {
		return nil
	}
	jsc, ok := sc.(jaeger.SpanContext)
	if !ok || !jsc.TraceID().IsValid() {
		return l.NewEntry()
	}
	return l.WithField(LogField, jsc.TraceID().String())
}
