// Package observability exposes the relay's metrics over Prometheus.
package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the relay.
type MetricsCollector struct {
	meter metric.Meter

	// Event pipeline metrics
	eventsPublished metric.Int64Counter
	eventsDelivered metric.Int64Counter
	eventsDropped   metric.Int64Counter

	// Stream metrics
	streamsActive metric.Int64UpDownCounter
	streamsTotal  metric.Int64Counter

	// Job status metrics
	jobReads       metric.Int64Counter
	publishLatency metric.Float64Histogram

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port" mapstructure:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("relay")

	eventsPublished, err := meter.Int64Counter(
		"relay.events.published.total",
		metric.WithDescription("Total number of task events accepted for broadcast"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_published counter: %w", err)
	}

	eventsDelivered, err := meter.Int64Counter(
		"relay.events.delivered.total",
		metric.WithDescription("Total number of events delivered to connected clients"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_delivered counter: %w", err)
	}

	eventsDropped, err := meter.Int64Counter(
		"relay.events.dropped.total",
		metric.WithDescription("Total number of events dropped due to full client buffers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events_dropped counter: %w", err)
	}

	streamsActive, err := meter.Int64UpDownCounter(
		"relay.streams.active",
		metric.WithDescription("Number of currently connected event stream clients"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streams_active gauge: %w", err)
	}

	streamsTotal, err := meter.Int64Counter(
		"relay.streams.total",
		metric.WithDescription("Total number of event stream connections ever made"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streams_total counter: %w", err)
	}

	jobReads, err := meter.Int64Counter(
		"relay.jobs.reads.total",
		metric.WithDescription("Total number of job status reads"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job_reads counter: %w", err)
	}

	publishLatency, err := meter.Float64Histogram(
		"relay.events.publish.latency",
		metric.WithDescription("Event publish handling latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish_latency histogram: %w", err)
	}

	collector := &MetricsCollector{
		meter:           meter,
		eventsPublished: eventsPublished,
		eventsDelivered: eventsDelivered,
		eventsDropped:   eventsDropped,
		streamsActive:   streamsActive,
		streamsTotal:    streamsTotal,
		jobReads:        jobReads,
		publishLatency:  publishLatency,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordEventPublished records an accepted task event along with how long
// the publish path took.
func (m *MetricsCollector) RecordEventPublished(ctx context.Context, entity, status string, latency time.Duration) {
	if m.eventsPublished == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.String("status", status),
	}

	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// RecordEventDelivered records a successful delivery to one client.
func (m *MetricsCollector) RecordEventDelivered(ctx context.Context) {
	if m.eventsDelivered == nil {
		return
	}
	m.eventsDelivered.Add(ctx, 1)
}

// RecordEventDropped records an event dropped because a client buffer was full.
func (m *MetricsCollector) RecordEventDropped(ctx context.Context) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.Add(ctx, 1)
}

// RecordJobRead records a job status read.
func (m *MetricsCollector) RecordJobRead(ctx context.Context, status string) {
	if m.jobReads == nil {
		return
	}
	m.jobReads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// IncrementActiveStreams increments the active stream gauge.
func (m *MetricsCollector) IncrementActiveStreams(ctx context.Context) {
	if m.streamsActive == nil {
		return
	}
	m.streamsActive.Add(ctx, 1)
	m.streamsTotal.Add(ctx, 1)
}

// DecrementActiveStreams decrements the active stream gauge.
func (m *MetricsCollector) DecrementActiveStreams(ctx context.Context) {
	if m.streamsActive == nil {
		return
	}
	m.streamsActive.Add(ctx, -1)
}
