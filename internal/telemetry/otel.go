// Package telemetry wires OpenTelemetry metrics/tracing and the domain metric
// instruments the health endpoint and trading loop report through.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the OTel providers installed for the process lifetime.
type Telemetry struct {
	mp *sdkmetric.MeterProvider
}

// Setup installs the Prometheus metric exporter and initializes the domain
// metric instruments. Tracing uses the no-op global tracer unless a
// collector is configured elsewhere; this pack only ships the metrics path
// the health endpoint (§6) depends on.
func Setup(serviceName string) (*Telemetry, error) {
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if err := GetGlobalMetrics().Init(mp.Meter(serviceName)); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return &Telemetry{mp: mp}, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.mp == nil {
		return nil
	}
	return t.mp.Shutdown(ctx)
}

// GetMeter returns a meter for the given instrumentation name.
func GetMeter(name string) metric.Meter { return otel.GetMeterProvider().Meter(name) }

// GetTracer returns a tracer for the given instrumentation name.
func GetTracer(name string) trace.Tracer { return otel.GetTracerProvider().Tracer(name) }
