// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the keeper's prometheus metrics on a private registry so
// tests can construct collectors independently.
type Collector struct {
	registry *prometheus.Registry

	rebalanceTotal   *prometheus.CounterVec
	swapAttempts     prometheus.Counter
	swapSuccess      prometheus.Counter
	swapDuration     prometheus.Histogram
	bundleLanded     prometheus.Counter
	bundleFailed     *prometheus.CounterVec
	bundleTipLamport prometheus.Histogram
	confirmLatency   prometheus.Histogram
	valuationUSD     prometheus.Gauge
}

// NewCollector creates and registers all keeper metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rebalanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlmm_rebalance_total",
			Help: "Rebalance attempts by outcome",
		}, []string{"outcome"}),
		swapAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlmm_swap_attempts_total",
			Help: "Total swap execution attempts",
		}),
		swapSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlmm_swap_success_total",
			Help: "Total confirmed swaps",
		}),
		swapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlmm_swap_duration_seconds",
			Help:    "End-to-end swap duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		bundleLanded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlmm_bundle_landed_total",
			Help: "Bundles that landed atomically",
		}),
		bundleFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dlmm_bundle_failed_total",
			Help: "Failed bundles by reason",
		}, []string{"reason"}),
		bundleTipLamport: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlmm_bundle_tip_lamports",
			Help:    "Tip paid per landed bundle in lamports",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 10),
		}),
		confirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlmm_confirmation_latency_seconds",
			Help:    "Transaction confirmation latency in seconds",
			Buckets: prometheus.LinearBuckets(0, 0.5, 20),
		}),
		valuationUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dlmm_position_value_usd",
			Help: "Latest total position valuation in USD",
		}),
	}

	c.registry.MustRegister(
		c.rebalanceTotal,
		c.swapAttempts,
		c.swapSuccess,
		c.swapDuration,
		c.bundleLanded,
		c.bundleFailed,
		c.bundleTipLamport,
		c.confirmLatency,
		c.valuationUSD,
	)
	return c
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordRebalance(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.rebalanceTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSwapAttempt() { c.swapAttempts.Inc() }
func (c *Collector) RecordSwapSuccess(d time.Duration) {
	c.swapSuccess.Inc()
	c.swapDuration.Observe(d.Seconds())
}

func (c *Collector) RecordBundleLanded(tipLamports uint64) {
	c.bundleLanded.Inc()
	c.bundleTipLamport.Observe(float64(tipLamports))
}

func (c *Collector) RecordBundleFailed(reason string) {
	c.bundleFailed.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordConfirmation(d time.Duration) {
	c.confirmLatency.Observe(d.Seconds())
}

func (c *Collector) SetValuation(usd float64) {
	c.valuationUSD.Set(usd)
}
