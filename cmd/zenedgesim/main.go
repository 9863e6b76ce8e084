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

// Command zenedgesim is a standalone simulator for a single ZENEDGE
// kernel core: it boots the kernel against an mmap'd shared-memory
// region, serves /healthz and /metrics over HTTP, and submits a demo
// job graph so the wiring can be exercised end to end without any real
// hardware or Linux bridge peer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/zenedge/kernel/pkg/console"
	"github.com/zenedge/kernel/pkg/healthz"
	otelmetrics "github.com/zenedge/kernel/pkg/instrumentation/metrics"
	"github.com/zenedge/kernel/pkg/instrumentation/tracing"
	"github.com/zenedge/kernel/pkg/kernel/config"
	"github.com/zenedge/kernel/pkg/kernel/contract"
	"github.com/zenedge/kernel/pkg/kernel/jobgraph"
	"github.com/zenedge/kernel/pkg/kernel/platform"
	"github.com/zenedge/kernel/pkg/kernel/zenedge"
	logger "github.com/zenedge/kernel/pkg/log"
	"github.com/zenedge/kernel/pkg/metrics"
	_ "github.com/zenedge/kernel/pkg/metrics/collectors"
)

var log = logger.Get("zenedgesim")

func main() {
	var (
		configFile    string
		listenAddr    string
		traceEndpoint string
		traceSampling float64
		otelMetrics   bool
		verbose       bool
	)

	flag.StringVar(&configFile, "config", "", "kernel configuration file (YAML)")
	flag.StringVar(&listenAddr, "listen", ":9100", "address to serve /healthz and /metrics on")
	flag.StringVar(&traceEndpoint, "trace-endpoint", "", "otel trace collector endpoint (otlp-http, stdout, or a URL); empty disables tracing")
	flag.Float64Var(&traceSampling, "trace-sampling", 1.0, "otel trace sampling ratio, 0.0-1.0")
	flag.BoolVar(&otelMetrics, "otel-metrics", false, "also push OTel metrics via OTLP/HTTP (endpoint from OTEL_EXPORTER_OTLP_ENDPOINT), independent of the pull-based /metrics endpoint")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	if verbose {
		if err := logger.SetDebugFlags("on:*"); err != nil {
			log.Warnf("failed to enable verbose logging: %v", err)
		}
	}

	if err := tracing.Start(
		tracing.WithServiceName("zenedgesim"),
		tracing.WithCollectorEndpoint(traceEndpoint),
		tracing.WithSamplingRatio(traceSampling),
	); err != nil {
		log.Panic("failed to start tracing: %v", err)
	}
	defer tracing.Stop()

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Panic("%v", err)
	}

	plat, err := platform.NewMmapPlatform(cfg.SharedMemBytes, os.Stdout)
	if err != nil {
		log.Panic("failed to bring up platform: %v", err)
	}
	defer plat.Close()

	k, err := zenedge.Boot(plat, cfg)
	if err != nil {
		log.Panic("failed to boot kernel: %v", err)
	}

	con := console.New(plat.Console())
	con.Banner("ZENEDGE KERNEL SIMULATOR")

	runDemoJob(k, con)

	mux := http.NewServeMux()
	healthz.Setup(mux)
	healthz.RegisterHealthChecker("contract", func() (healthz.Status, error) {
		return healthz.Healthy, nil
	})

	if err := k.RegisterMetrics(metrics.Default()); err != nil {
		log.Panic("failed to register kernel metrics: %v", err)
	}
	gatherer, err := metrics.NewGatherer(metrics.WithMetrics([]string{"*"}, nil))
	if err != nil {
		log.Panic("failed to create metrics gatherer: %v", err)
	}
	defer gatherer.Stop()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if otelMetrics {
		hostname, _ := os.Hostname()
		res := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("zenedgesim"),
			semconv.HostNameKey.String(hostname),
			attribute.Int64("pid", int64(os.Getpid())),
		)
		if err := otelmetrics.Start(
			http.NewServeMux(), // a throwaway mux: otlp-http never touches it, only "prometheus" would
			res,
			otelmetrics.WithExporter("otlp-http"),
			otelmetrics.WithReportPeriod(15*time.Second),
			otelmetrics.WithMetrics(&otelmetrics.Settings{Enabled: []string{"*"}}),
		); err != nil {
			log.Warnf("failed to start OTel metrics push exporter: %v", err)
		}
		defer otelmetrics.Stop()
	}

	log.Infof("serving /healthz and /metrics on %s", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		log.Panic("http server exited: %v", err)
	}
}

func loadConfig(path string) (*config.KernelConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("zenedgesim: loading configuration %q: %w", path, err)
	}
	return cfg, nil
}

// runDemoJob submits a small two-step job graph (two control steps,
// the second depending on the first) under the kernel's default contract
// budget, demonstrating the scheduler/contract wiring without requiring a
// connected bridge peer, since control steps are simulated locally. The whole run is wrapped
// in an otel span so an operator watching a trace collector sees one
// job.run span per submission, independent of whether /metrics is
// being scraped.
func runDemoJob(k *zenedge.Kernel, con *console.Console) {
	const jobID = 1

	_, span := tracing.StartSpan(context.Background(), "job.run",
		tracing.WithAttributes(tracing.Attribute("job_id", int64(jobID))))
	var err error
	defer func() { span.End(tracing.WithStatus(err)) }()

	g := jobgraph.New()
	if err = g.AddStep(1, jobgraph.StepControl); err != nil {
		log.Errorf("demo job: %v", err)
		return
	}
	if err = g.AddStep(2, jobgraph.StepControl); err != nil {
		log.Errorf("demo job: %v", err)
		return
	}
	if err = g.AddDep(2, 1); err != nil {
		log.Errorf("demo job: %v", err)
		return
	}

	cfg := k.Config()
	jobStats, result, err := k.SubmitJob(jobID, g, contract.PriorityNormal, cfg.Contract.MemoryKB, cfg.Contract.CPUBudgetUsec)
	if err != nil {
		log.Errorf("demo job failed: %v", err)
		return
	}
	span.SetAttributes(tracing.Attribute("admit_result", result.String()))
	con.JobResult(jobID, result, jobStats)
}
