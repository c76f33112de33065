// Package metrics exposes OpenTelemetry metrics through a Prometheus
// endpoint on a dedicated loopback listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/block/gitbridge/internal/logging"
)

// Config holds metrics configuration. Port 0 disables the listener.
type Config struct {
	ServiceName string `json:"serviceName,omitempty"`
	Port        int    `json:"port,omitempty"`
}

// Client provides OpenTelemetry metrics with a Prometheus exporter.
type Client struct {
	provider metric.MeterProvider
	registry *prometheus.Registry
	port     int
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gitbridge"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &Client{provider: provider, registry: registry, port: cfg.Port}, nil
}

func (c *Client) Close() error {
	if provider, ok := c.provider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
	}
	return nil
}

func (c *Client) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ServeMetrics starts the scrape listener, loopback only like every other
// socket this daemon owns.
func (c *Client) ServeMetrics(ctx context.Context) error {
	if c.port == 0 {
		return nil
	}
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", c.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "Starting metrics server", "port", c.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "Metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Metrics server shutdown error", "error", err)
		}
	}()

	return nil
}

// Operations records the daemon's two interesting counters: admission
// outcomes and job outcomes.
type Operations struct {
	admissions metric.Int64Counter
	jobs       metric.Int64Counter
}

func NewOperations() (*Operations, error) {
	meter := otel.Meter("gitbridge")

	admissions, err := meter.Int64Counter(
		"gitbridge.admission.count",
		metric.WithDescription("Requests by admission outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission counter: %w", err)
	}

	jobs, err := meter.Int64Counter(
		"gitbridge.job.count",
		metric.WithDescription("Jobs by operation and terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job counter: %w", err)
	}

	return &Operations{admissions: admissions, jobs: jobs}, nil
}

// RecordAdmission counts one request, outcome "allowed" or the rejection
// error code.
func (o *Operations) RecordAdmission(ctx context.Context, outcome string) {
	if o == nil {
		return
	}
	o.admissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordJob counts one job reaching a terminal state.
func (o *Operations) RecordJob(ctx context.Context, operation string, state string) {
	if o == nil {
		return
	}
	o.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("state", state),
	))
}
