// Package observability provides OpenTelemetry instrumentation for
// tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics
// endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterJobGauges registers observable gauges for the number of
// running jobs and the approved backlog. The callbacks are invoked on
// each Prometheus scrape.
func RegisterJobGauges(running, queued func(context.Context) (int64, error)) error {
	meter := otel.Meter("scraperd")

	runningGauge, err := meter.Int64ObservableGauge("scraperd_jobs_running",
		metric.WithDescription("Number of jobs currently executing"))
	if err != nil {
		return fmt.Errorf("failed to create running gauge: %w", err)
	}
	queuedGauge, err := meter.Int64ObservableGauge("scraperd_jobs_queued",
		metric.WithDescription("Number of approved jobs waiting for a slot"))
	if err != nil {
		return fmt.Errorf("failed to create queued gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if n, err := running(ctx); err == nil {
			o.ObserveInt64(runningGauge, n)
		}
		if n, err := queued(ctx); err == nil {
			o.ObserveInt64(queuedGauge, n)
		}
		return nil
	}, runningGauge, queuedGauge)
	if err != nil {
		return fmt.Errorf("failed to register gauge callback: %w", err)
	}
	return nil
}
