package slo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauges mirror a Report on a private registry so they can be pushed without
// touching the process-wide /metrics registry.
type Gauges struct {
	registry      *prometheus.Registry
	pending       *prometheus.GaugeVec
	pendingCapped *prometheus.GaugeVec
	oldestAge     *prometheus.GaugeVec
	nextAttemptIn *prometheus.GaugeVec
	deadLettered  *prometheus.GaugeVec
}

func NewGauges() *Gauges {
	labels := []string{"org_id"}
	g := &Gauges{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tixgate_outbox_pending",
			Help: "Undelivered outbox rows, capped at the configured pending cap.",
		}, labels),
		pendingCapped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tixgate_outbox_pending_capped",
			Help: "1 when the pending count hit the cap.",
		}, labels),
		oldestAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tixgate_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest undelivered outbox row.",
		}, labels),
		nextAttemptIn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tixgate_outbox_next_attempt_in_seconds",
			Help: "Seconds until the soonest scheduled delivery attempt; negative when overdue.",
		}, labels),
		deadLettered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tixgate_outbox_dead_lettered_24h",
			Help: "Outbox rows dead-lettered in the last 24 hours.",
		}, labels),
	}
	g.registry.MustRegister(g.pending, g.pendingCapped, g.oldestAge, g.nextAttemptIn, g.deadLettered)
	return g
}

func (g *Gauges) Registry() *prometheus.Registry {
	return g.registry
}

func (g *Gauges) Set(report Report) {
	org := "all"
	if report.OrgID != 0 {
		org = report.OrgID.String()
	}

	g.pending.WithLabelValues(org).Set(float64(report.PendingCount))
	capped := 0.0
	if report.PendingCapped {
		capped = 1
	}
	g.pendingCapped.WithLabelValues(org).Set(capped)
	g.oldestAge.WithLabelValues(org).Set(report.OldestPendingAgeSec)

	nextIn := 0.0
	if report.NextAttemptAt != nil {
		nextIn = report.NextAttemptAt.Sub(report.GeneratedAt).Round(time.Millisecond).Seconds()
	}
	g.nextAttemptIn.WithLabelValues(org).Set(nextIn)
	g.deadLettered.WithLabelValues(org).Set(float64(report.DeadLetteredLast24h))
}
