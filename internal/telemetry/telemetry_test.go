package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelCountAndObserve(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tel := NewOTel(provider.Meter("authd-test"))

	tel.Count(MetricLoginSuccess)
	tel.Count(MetricLoginSuccess)
	tel.Add(MetricTokenSweepRemoved, 3)
	tel.Observe(MetricLoginLatencySecs, 0.05)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	var sawCounter, sawHistogram bool
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch m.Name {
			case MetricLoginSuccess:
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
					t.Fatalf("unexpected counter data %+v", m.Data)
				}
				sawCounter = true
			case MetricTokenSweepRemoved:
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
					t.Fatalf("unexpected sweep counter data %+v", m.Data)
				}
			case MetricLoginLatencySecs:
				hist, ok := m.Data.(metricdata.Histogram[float64])
				if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
					t.Fatalf("unexpected histogram data %+v", m.Data)
				}
				sawHistogram = true
			}
		}
	}

	if !sawCounter || !sawHistogram {
		t.Fatalf("missing instruments: counter=%v histogram=%v", sawCounter, sawHistogram)
	}
}

func TestNoopIsSafe(t *testing.T) {
	var tel Telemetry = Noop{}
	tel.Count(MetricRefreshReuse)
	tel.Add(MetricTokenSweepRemoved, 10)
	tel.Observe(MetricLoginLatencySecs, 1)
}
