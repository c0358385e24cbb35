// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RaidsObserved         prometheus.Counter
	ShoutoutsSucceeded    prometheus.Counter
	ShoutoutsFailed       prometheus.Counter
	ShoutoutsSuppressed   prometheus.Counter
	ShoutoutsDeadLettered prometheus.Counter
	SweepCycles           prometheus.Counter
	TokenRefreshes        prometheus.Counter

	// Histograms (seconds)
	SweepDuration    prometheus.Observer
	ShoutoutDuration prometheus.Observer

	// Gauges
	PendingRaidsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RaidsObserved = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_events_observed_total", Help: "Number of raid events recorded as pending shoutouts"})
		ShoutoutsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_shoutouts_succeeded_total", Help: "Number of shoutouts delivered"})
		ShoutoutsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_shoutouts_failed_total", Help: "Number of shoutout attempts that failed and were scheduled for retry"})
		ShoutoutsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_shoutouts_suppressed_total", Help: "Number of pending shoutouts dropped because the destination deactivated"})
		ShoutoutsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_shoutouts_dead_lettered_total", Help: "Number of pending shoutouts abandoned after exhausting retries"})
		SweepCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_sweep_cycles_total", Help: "Number of outbox sweep cycles (sweepOnce invocations)"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "raid_token_refreshes_total", Help: "Number of OAuth token rotations persisted"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "raid_sweep_duration_seconds", Help: "Outbox sweep cycle duration seconds", Buckets: prometheus.DefBuckets})
		ShoutoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "raid_shoutout_duration_seconds", Help: "Single shoutout API call duration seconds", Buckets: prometheus.DefBuckets})
		PendingRaidsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "raid_pending_shoutouts", Help: "Current number of undelivered shoutouts"})
	})
}

// IncTokenRefreshes counts one persisted token rotation.
func IncTokenRefreshes() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// SetPendingRaids records the current undelivered shoutout count.
func SetPendingRaids(n int) {
	if PendingRaidsGauge != nil {
		PendingRaidsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
