// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is ambient OpenTelemetry instrumentation threaded through the
// server facade (C8) and its components. It never gates a code path: every
// call here is fire-and-forget observability, matching spec §1's framing
// of logging/metrics as an outer concern the core itself doesn't depend
// on.
type Metrics struct {
	connections    metric.Int64UpDownCounter
	requestsTotal  metric.Int64Counter
	handlerLatency metric.Float64Histogram
	fanoutTotal    metric.Int64Counter
}

// NewMetrics builds the instrument set on meter. Pass
// otel.Meter("github.com/corewire/rpc") for a real exporter, or a meter
// from a noop MeterProvider in tests.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	connections, err := meter.Int64UpDownCounter(
		"rpc.connections.active",
		metric.WithDescription("number of currently live connections"),
	)
	if err != nil {
		return nil, err
	}
	requestsTotal, err := meter.Int64Counter(
		"rpc.requests.total",
		metric.WithDescription("requests routed, by protocol and outcome"),
	)
	if err != nil {
		return nil, err
	}
	handlerLatency, err := meter.Float64Histogram(
		"rpc.handler.latency",
		metric.WithDescription("handler execution time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	fanoutTotal, err := meter.Int64Counter(
		"rpc.broker.fanout.total",
		metric.WithDescription("push frames delivered by the broker, by topic"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		connections:    connections,
		requestsTotal:  requestsTotal,
		handlerLatency: handlerLatency,
		fanoutTotal:    fanoutTotal,
	}, nil
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Add(context.Background(), 1)
}

func (m *Metrics) ConnectionClosed() {
	m.connections.Add(context.Background(), -1)
}

func (m *Metrics) recordRequest(protocol, outcome string) {
	m.requestsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("protocol", protocol), attribute.String("outcome", outcome)))
}

func (m *Metrics) recordHandlerLatency(protocol string, d time.Duration) {
	m.handlerLatency.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("protocol", protocol)))
}

func (m *Metrics) recordFanout(topic string, n int) {
	if n == 0 {
		return
	}
	m.fanoutTotal.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("topic", topic)))
}
