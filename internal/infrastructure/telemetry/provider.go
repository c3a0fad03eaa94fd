package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metrics pipeline.
type Config struct {
	Enabled     bool
	Exporter    string // prometheus|stdout|none
	ServiceName string
	Version     string

	// Writer receives stdout exporter output. Default: os.Stdout
	Writer io.Writer
}

// Provider owns the meter provider and, for the prometheus exporter, the
// scrape handler.
type Provider struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewProvider builds a meter for cfg. A disabled config yields a no-op meter.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if !cfg.Enabled || exporter == "" || exporter == "none" {
		return &Provider{meter: noop.NewMeterProvider().Meter("kvcache")}, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{}
	var reader sdkmetric.Reader

	switch exporter {
	case "prometheus":
		registry := promclient.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exp
		p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp)
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", cfg.Exporter)
	}

	p.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	p.meter = p.provider.Meter("kvcache")
	return p, nil
}

func (p *Provider) Meter() metric.Meter { return p.meter }

// Handler serves the Prometheus exposition format. Nil unless the exporter is prometheus.
func (p *Provider) Handler() http.Handler { return p.handler }

// Shutdown flushes and stops the provider. Safe on a no-op provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
