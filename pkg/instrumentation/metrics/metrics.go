// Copyright The ZenEdge Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/zenedge/kernel/pkg/log"
	"github.com/zenedge/kernel/pkg/metrics"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type (
	Option func() error
)

const (
	promExporter = "prometheus"
	httpExporter = "otlp-http"
)

// Settings mirrors the handful of knobs the exporter startup needs.
// It stands in for the CRD-driven configuration object a clustered
// deployment would normally source this from.
type Settings struct {
	Enabled []string
	Polled  []string
}

var (
	namespace    = "zenedge"
	exporter     string
	provider     *metric.MeterProvider
	enabled      []string
	reportPeriod time.Duration
	mux          *http.ServeMux
	log          = logger.Get("metrics")
)

// WithExporter sets the type of metrics exporter to use.
func WithExporter(v string) Option {
	return func() error {
		if v != "" && exporter != "" && v != exporter {
			return fmt.Errorf("conflicting metrics exporter: %q and %q requested",
				exporter, v)
		}

		if v != "" {
			exporter = v
		}
		return nil
	}
}

// WithNamespace sets a common namespace (prefix) for all metrics.
func WithNamespace(v string) Option {
	return func() error {
		namespace = v
		return nil
	}
}

// WithReportPeriod sets the reporting period for the periodic otlp-http exporter.
func WithReportPeriod(v time.Duration) Option {
	return func() error {
		reportPeriod = v
		return nil
	}
}

// WithMetrics sets the enabled metrics from the given settings.
func WithMetrics(cfg *Settings) Option {
	return func() error {
		if cfg != nil {
			enabled = append(append([]string{}, cfg.Enabled...), cfg.Polled...)
		} else {
			enabled = nil
		}
		return nil
	}
}

// Start metrics collection and exporting.
func Start(m *http.ServeMux, resource *resource.Resource, opts ...Option) error {
	Stop()

	for _, opt := range opts {
		if err := opt(); err != nil {
			return err
		}
	}

	metrics.Configure(enabled)

	if exporter == "" {
		log.Info("no metrics exporter configured, metrics collection disabled")
		metrics.SetProvider(nil)
		metrics.Configure(nil)
		return nil
	}

	if m == nil {
		log.Info("no mux provided, metrics collection disabled")
		metrics.SetProvider(nil)
		metrics.Configure(nil)
		return nil
	}

	var (
		ctx     = context.Background()
		options = []metric.Option{metric.WithResource(resource)}
	)

	switch exporter {
	case promExporter:
		log.Info("using OpenTelemetry Prometheus exporter")

		registry := prometheus.DefaultRegisterer
		if !metrics.IsEnabled("standard", "") {
			registry = prometheus.NewRegistry()
		}
		gatherer := registry.(prometheus.Gatherer)

		exp, err := otelprom.New(
			otelprom.WithNamespace(namespace),
			otelprom.WithRegisterer(registry),
			otelprom.WithoutScopeInfo(),
			otelprom.WithoutTargetInfo(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry Prometheus exporter: %w", err)
		}

		options = append(options, metric.WithReader(exp))

		handlerOpts := promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}
		m.Handle("/metrics", promhttp.HandlerFor(gatherer, handlerOpts))

	case httpExporter:
		log.Info("using OpenTelemetry HTTP exporter")

		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry HTTP exporter: %w", err)
		}

		options = append(options,
			metric.WithReader(
				metric.NewPeriodicReader(exp, metric.WithInterval(reportPeriod)),
			),
		)
	}

	log.Info("starting metrics exporter...")

	provider = metric.NewMeterProvider(options...)
	metrics.SetProvider(provider)

	mux = m

	return nil
}

// Stop metrics collection and exporting.
func Stop() {
	// net/http.ServeMux has no handler-removal API, so a stopped exporter
	// simply leaves its /metrics handler in place serving stale data until
	// the process restarts with a fresh mux.
	mux = nil

	if provider != nil {
		err := provider.Shutdown(context.Background())
		if err != nil {
			log.Error("failed to shut down metrics provider: %v", err)
		}
		provider = nil
	}

	exporter = ""
	namespace = "zenedge"
	enabled = nil
	reportPeriod = 0
}
