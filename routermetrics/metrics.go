// Package routermetrics exposes the router's observability counters as
// real OpenTelemetry instruments rather than ad hoc atomics.
package routermetrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/go-i2p/go-i2p-router"

// Metrics bundles the router's counters. NumPeers and NumTransitTunnels
// are observable gauges fed by a callback registered at construction; the
// rest are monotonic counters updated inline.
type Metrics struct {
	totalSentBytes     metric.Int64Counter
	totalReceivedBytes metric.Int64Counter
	buildSuccess       metric.Int64Counter
	buildFailure       metric.Int64Counter

	numTransitTunnels func(ctx context.Context) int64
	numPeers          func(ctx context.Context) int64
}

// New builds the Metrics bundle on the global OTel MeterProvider.
// numTransitTunnels and numPeers are callbacks polled by the observable
// gauges; both may be nil before the owning subsystems exist yet, in
// which case the gauge reports zero.
func New(numTransitTunnels, numPeers func(ctx context.Context) int64) (*Metrics, error) {
	meter := otel.Meter(meterName)

	sent, err := meter.Int64Counter("router.total_sent_bytes")
	if err != nil {
		return nil, err
	}
	recv, err := meter.Int64Counter("router.total_received_bytes")
	if err != nil {
		return nil, err
	}
	buildOK, err := meter.Int64Counter("router.tunnel_build_success")
	if err != nil {
		return nil, err
	}
	buildFail, err := meter.Int64Counter("router.tunnel_build_failure")
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		totalSentBytes:     sent,
		totalReceivedBytes: recv,
		buildSuccess:       buildOK,
		buildFailure:       buildFail,
		numTransitTunnels:  numTransitTunnels,
		numPeers:           numPeers,
	}

	if _, err := meter.Int64ObservableGauge("router.num_transit_tunnels",
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			if m.numTransitTunnels == nil {
				return nil
			}
			o.Observe(m.numTransitTunnels(ctx))
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err := meter.Int64ObservableGauge("router.num_peers",
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			if m.numPeers == nil {
				return nil
			}
			o.Observe(m.numPeers(ctx))
			return nil
		})); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordSent(ctx context.Context, n int64) {
	m.totalSentBytes.Add(ctx, n)
}

func (m *Metrics) RecordReceived(ctx context.Context, n int64) {
	m.totalReceivedBytes.Add(ctx, n)
}

// RecordBuildResult updates the tunnel_build_success_rate counters; the
// rate itself is derived at query time (success / (success + failure)) by
// whatever metrics backend scrapes these two monotonic counters.
func (m *Metrics) RecordBuildResult(ctx context.Context, established bool) {
	if established {
		m.buildSuccess.Add(ctx, 1)
		return
	}
	m.buildFailure.Add(ctx, 1)
}
