// Package metrics adapts the teacher's Prometheus Collector shape
// (one custom registry per process, Vec metrics keyed by a label,
// plain accessor methods) to the authentication-and-dispatch core's own
// events: waiter registration/notify, console-redirect outcomes, pool
// hit/miss, connect attempts, wake_compute calls, and SCRAM verify
// latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric this core emits.
type Collector struct {
	Registry *prometheus.Registry

	waiterRegistrations *prometheus.CounterVec
	waiterNotifications *prometheus.CounterVec
	consoleAuthOutcomes *prometheus.CounterVec
	confirmationWait    *prometheus.HistogramVec

	poolHits    *prometheus.CounterVec
	poolMisses  *prometheus.CounterVec
	poolEvicted *prometheus.CounterVec
	poolStats   *prometheus.GaugeVec

	connectAttempts   *prometheus.CounterVec
	connectDuration   *prometheus.HistogramVec
	wakeComputeCalls  *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec

	scramVerifyDuration *prometheus.HistogramVec
	authAttemptsThrottled *prometheus.CounterVec
}

// New creates and registers every metric on a fresh registry. Safe to
// call multiple times (e.g. in tests): each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		waiterRegistrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_waiter_registrations_total",
				Help: "Waiter registry registration attempts by outcome",
			},
			[]string{"outcome"}, // ok, collision
		),
		waiterNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_waiter_notifications_total",
				Help: "Waiter registry notify calls by outcome",
			},
			[]string{"outcome"}, // delivered, unknown
		),
		consoleAuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_console_auth_outcomes_total",
				Help: "Console-redirect authentication attempts by outcome",
			},
			[]string{"outcome"}, // ok, timeout, ip_denied, service_error
		),
		confirmationWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outpost_confirmation_wait_seconds",
				Help:    "Time spent waiting for the control plane's console-redirect callback",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"outcome"},
		),
		poolHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_pool_hits_total",
				Help: "Pool lookups that found a reusable idle entry",
			},
			[]string{"pool"}, // native, http2, local
		),
		poolMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_pool_misses_total",
				Help: "Pool lookups that found no idle entry",
			},
			[]string{"pool"},
		),
		poolEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_pool_evicted_total",
				Help: "Idle entries evicted by the reaper, by reason",
			},
			[]string{"pool", "reason"}, // expired, unhealthy
		),
		poolStats: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outpost_pool_entries",
				Help: "Current entry counts per pool and state",
			},
			[]string{"pool", "state"}, // idle, active
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_connect_attempts_total",
				Help: "Connect-mechanism attempts by mechanism and outcome",
			},
			[]string{"mechanism", "outcome"}, // native/http2, ok/retry/fail
		),
		connectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outpost_connect_duration_seconds",
				Help:    "Duration of the full retry/wake controller dispatch",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"mechanism"},
		),
		wakeComputeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_wake_compute_calls_total",
				Help: "wake_compute RPC calls by outcome",
			},
			[]string{"outcome"}, // ok, error, breaker_open
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outpost_wake_compute_breaker_state",
				Help: "wake_compute circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{},
		),
		scramVerifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outpost_scram_verify_duration_seconds",
				Help:    "Time spent deriving and comparing a SCRAM secret on the worker pool",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"outcome"}, // match, mismatch
		),
		authAttemptsThrottled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outpost_auth_attempts_throttled_total",
				Help: "Auth attempts rejected by the per-endpoint rate limiters",
			},
			[]string{"limiter"}, // connection, auth_attempt
		),
	}

	reg.MustRegister(
		c.waiterRegistrations,
		c.waiterNotifications,
		c.consoleAuthOutcomes,
		c.confirmationWait,
		c.poolHits,
		c.poolMisses,
		c.poolEvicted,
		c.poolStats,
		c.connectAttempts,
		c.connectDuration,
		c.wakeComputeCalls,
		c.breakerState,
		c.scramVerifyDuration,
		c.authAttemptsThrottled,
	)

	return c
}

func (c *Collector) WaiterRegistered(collided bool) {
	outcome := "ok"
	if collided {
		outcome = "collision"
	}
	c.waiterRegistrations.WithLabelValues(outcome).Inc()
}

func (c *Collector) WaiterNotified(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "unknown"
	}
	c.waiterNotifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) ConsoleAuthCompleted(outcome string, wait time.Duration) {
	c.consoleAuthOutcomes.WithLabelValues(outcome).Inc()
	c.confirmationWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

func (c *Collector) PoolLookup(pool string, hit bool) {
	if hit {
		c.poolHits.WithLabelValues(pool).Inc()
		return
	}
	c.poolMisses.WithLabelValues(pool).Inc()
}

func (c *Collector) PoolEvicted(pool, reason string) {
	c.poolEvicted.WithLabelValues(pool, reason).Inc()
}

func (c *Collector) SetPoolStats(pool string, idle, active int) {
	c.poolStats.WithLabelValues(pool, "idle").Set(float64(idle))
	c.poolStats.WithLabelValues(pool, "active").Set(float64(active))
}

func (c *Collector) ConnectAttempt(mechanism, outcome string) {
	c.connectAttempts.WithLabelValues(mechanism, outcome).Inc()
}

func (c *Collector) ConnectDispatchCompleted(mechanism string, d time.Duration) {
	c.connectDuration.WithLabelValues(mechanism).Observe(d.Seconds())
}

func (c *Collector) WakeComputeCompleted(outcome string) {
	c.wakeComputeCalls.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetBreakerState(state int) {
	c.breakerState.WithLabelValues().Set(float64(state))
}

func (c *Collector) ScramVerifyCompleted(matched bool, d time.Duration) {
	outcome := "match"
	if !matched {
		outcome = "mismatch"
	}
	c.scramVerifyDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) AuthAttemptThrottled(limiter string) {
	c.authAttemptsThrottled.WithLabelValues(limiter).Inc()
}
