// Package obs wires CORTEX's tracing and metrics surface: one process-wide
// otel TracerProvider and MeterProvider, installed as the global defaults
// so every component can call otel.Tracer("cortex.<pkg>") /
// otel.Meter("cortex.<pkg>") without threading a handle through every
// constructor. No exporter is configured by default — spans and metrics are
// computed and immediately dropped — so the instrumentation has a real,
// measurable cost (matching the teacher's dolt store span-per-write
// posture) without requiring an operator to stand up a collector just to
// run CORTEX locally. A production deployment registers its own exporter
// before calling Init by constructing its own providers and calling
// otel.SetTracerProvider/otel.SetMeterProvider itself.
package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ServiceName identifies CORTEX in exported telemetry (when a real exporter
// is later attached to the providers this package installs).
const ServiceName = "cortex"

var (
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
)

// Init installs CORTEX's TracerProvider and MeterProvider as the otel
// globals. Idempotent-by-replacement: calling it twice simply swaps in a
// fresh pair of providers, which is fine since the engine calls it exactly
// once at construction.
func Init() error {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return fmt.Errorf("obs: build resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tracerProvider)

	meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(meterProvider)
	return nil
}

// Shutdown flushes and releases both providers. Safe to call even if Init
// was never called.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("obs: shutdown tracer provider: %w", err)
		}
	}
	if meterProvider != nil {
		if err := meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("obs: shutdown meter provider: %w", err)
		}
	}
	return nil
}

// Tracer returns a named tracer off the global provider, for a component to
// call once at construction (e.g. obs.Tracer("cortex.ledger")).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a named meter off the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
