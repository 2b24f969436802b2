// Copyright 2025 Tom Barlow
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

// Package telemetry wires the engine's spans and counters to an OTel
// tracer/meter pair, choosing an exporter from environment configuration:
// OTLP over gRPC, OTLP over HTTP, or a stdout fallback so a trace is always
// produced even with no collector configured.
package telemetry

import (
	"context"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	envOTLPGRPC = "STEPWISE_OTLP_ENDPOINT"
	envOTLPHTTP = "STEPWISE_OTLP_ENDPOINT_HTTP"
)

// Provider bundles the tracer and metric instruments the engine records
// against, plus a shutdown hook that flushes and closes the exporter.
type Provider struct {
	Tracer trace.Tracer

	StepsTotal      metric.Int64Counter
	StepDuration    metric.Float64Histogram
	RetryAttempts   metric.Int64Counter

	shutdown func(context.Context) error
}

// New builds a Provider for serviceName. Exporter selection:
//  1. STEPWISE_OTLP_ENDPOINT set -> OTLP/gRPC
//  2. STEPWISE_OTLP_ENDPOINT_HTTP set -> OTLP/HTTP
//  3. otherwise -> stdout exporter
func New(ctx context.Context, serviceName string) (*Provider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	exporter, err := newSpanExporter(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	meter := mp.Meter(serviceName)
	stepsTotal, err := meter.Int64Counter("stepwise_steps_total",
		metric.WithDescription("workflow steps dispatched, by terminal status"))
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram("stepwise_step_duration_seconds",
		metric.WithDescription("per-step wall-clock duration"))
	if err != nil {
		return nil, err
	}
	retryAttempts, err := meter.Int64Counter("stepwise_retry_attempts_total",
		metric.WithDescription("total retry attempts made by the retry primitive"))
	if err != nil {
		return nil, err
	}

	return &Provider{
		Tracer:        tp.Tracer(serviceName),
		StepsTotal:    stepsTotal,
		StepDuration:  stepDuration,
		RetryAttempts: retryAttempts,
		shutdown: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				return err
			}
			return mp.Shutdown(ctx)
		},
	}, nil
}

// Shutdown flushes and closes the exporter. Safe to call on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Handler returns an http.Handler serving the process's Prometheus metrics.
// New's exporter registers stepwise's counters and histograms against the
// default registerer, so this handler is what the CLI's metrics endpoint
// (or an ad hoc "curl it yourself" check) should mount to scrape them.
func Handler() http.Handler {
	return promhttp.Handler()
}

func newSpanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if endpoint := os.Getenv(envOTLPGRPC); endpoint != "" {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	}
	if endpoint := os.Getenv(envOTLPHTTP); endpoint != "" {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}
