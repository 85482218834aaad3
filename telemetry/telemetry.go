// Package telemetry wires OpenTelemetry tracing and a Prometheus metrics
// registry into the core.Telemetry interface. Tracing uses the stdout
// exporter; metrics are exposed on /metrics by the server package.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/schmitech/orbit/core"
)

// Provider implements core.Telemetry on OTel tracing plus the otel metric
// API. One Provider is constructed at process start and injected.
type Provider struct {
	tracer   trace.Tracer
	meter    metric.Meter
	tp       *sdktrace.TracerProvider
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// Options configures telemetry construction.
type Options struct {
	ServiceName string
	// TraceStdout enables span export to stdout. Off by default because the
	// volume is unsuitable for production log pipelines.
	TraceStdout bool
}

// New constructs the telemetry provider and its Prometheus registry.
func New(opts Options) (*Provider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "orbit"
	}

	var tpOpts []sdktrace.TracerProviderOption
	if opts.TraceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Provider{
		tracer:   tp.Tracer(opts.ServiceName),
		meter:    otel.Meter(opts.ServiceName),
		tp:       tp,
		registry: registry,
		counters: make(map[string]metric.Float64Counter),
	}, nil
}

// Registry exposes the Prometheus registry for the /metrics handler and for
// subsystem collectors (circuit breaker, throttle).
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a named span and returns the derived context.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric adds value to a counter named name, creating it on first use.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}
