// Package telemetry defines the counting/observation capability consumed
// by the authentication core and provides an OpenTelemetry-backed
// implementation.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Telemetry is the metrics sink consumed by the core. Implementations must
// be cheap and non-blocking; they run on the request hot path.
type Telemetry interface {
	Count(name string)
	Add(name string, delta int64)
	Observe(name string, value float64)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) Count(string)            {}
func (Noop) Add(string, int64)       {}
func (Noop) Observe(string, float64) {}

// Metric names emitted by the core.
const (
	MetricLoginSuccess       = "auth_login_success_total"
	MetricLoginFailure       = "auth_login_failure_total"
	MetricLoginLocked        = "auth_login_locked_total"
	MetricLoginRateLimited   = "auth_login_rate_limited_total"
	MetricRegister           = "auth_register_total"
	MetricRefreshSuccess     = "auth_refresh_success_total"
	MetricRefreshFailure     = "auth_refresh_failure_total"
	MetricRefreshReuse       = "auth_refresh_reuse_detected_total"
	MetricSessionCreated     = "auth_session_created_total"
	MetricSessionDestroyed   = "auth_session_destroyed_total"
	MetricSessionLimitHit    = "auth_session_limit_exceeded_total"
	MetricCsrfRejected       = "auth_csrf_rejected_total"
	MetricPasswordReset      = "auth_password_reset_total"
	MetricTokenSweepRemoved  = "auth_token_sweep_removed_total"
	MetricLoginLatencySecs   = "auth_login_duration_seconds"
	MetricSessionLatencySecs = "auth_session_read_duration_seconds"
)

// OTel bridges Telemetry onto an OpenTelemetry meter. Instruments are
// created lazily on first use and cached.
type OTel struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTel wraps the given meter.
func NewOTel(meter metric.Meter) *OTel {
	return &OTel{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (t *OTel) Count(name string) { t.Add(name, 1) }

func (t *OTel) Add(name string, delta int64) {
	t.mu.Lock()
	counter, ok := t.counters[name]
	if !ok {
		var err error
		counter, err = t.meter.Int64Counter(name)
		if err != nil {
			t.mu.Unlock()
			return
		}
		t.counters[name] = counter
	}
	t.mu.Unlock()

	counter.Add(context.Background(), delta)
}

func (t *OTel) Observe(name string, value float64) {
	t.mu.Lock()
	hist, ok := t.histograms[name]
	if !ok {
		var err error
		hist, err = t.meter.Float64Histogram(name)
		if err != nil {
			t.mu.Unlock()
			return
		}
		t.histograms[name] = hist
	}
	t.mu.Unlock()

	hist.Record(context.Background(), value)
}
