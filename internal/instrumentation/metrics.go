package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's Prometheus collectors.
type Metrics struct {
	BidsAccepted     prometheus.Counter
	BidsRejected     *prometheus.CounterVec
	BidLatency       prometheus.Histogram
	ActiveSessions   prometheus.Gauge
	Subscribers      prometheus.Gauge
	LedgerViolations prometheus.Counter
}

// NewMetrics creates and registers all collectors on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		BidsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bidding_bids_accepted_total",
			Help: "Total number of accepted bids across all auctions",
		}),
		BidsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bidding_bids_rejected_total",
			Help: "Total number of rejected bids by rejection reason",
		}, []string{"reason"}),
		BidLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bidding_bid_evaluation_seconds",
			Help:    "Time spent inside the per-auction bid critical section",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bidding_active_sessions",
			Help: "Number of live auction sessions",
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bidding_subscribers",
			Help: "Number of live subscriber connections across all auctions",
		}),
		LedgerViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bidding_ledger_violations_total",
			Help: "Out-of-order ledger appends; any increment indicates a concurrency bug",
		}),
	}
}

// RecordRejection increments the rejection counter for a reason label.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.BidsRejected.WithLabelValues(reason).Inc()
}

// RecordAcceptance increments the accepted-bid counter.
func (m *Metrics) RecordAcceptance() {
	if m == nil {
		return
	}
	m.BidsAccepted.Inc()
}

// ObserveBidLatency records one critical-section duration in seconds.
func (m *Metrics) ObserveBidLatency(seconds float64) {
	if m == nil {
		return
	}
	m.BidLatency.Observe(seconds)
}

// RecordLedgerViolation counts an OutOfOrderBid firing.
func (m *Metrics) RecordLedgerViolation() {
	if m == nil {
		return
	}
	m.LedgerViolations.Inc()
}

// AddSessions moves the active-session gauge by delta.
func (m *Metrics) AddSessions(delta float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(delta)
}

// AddSubscribers moves the subscriber gauge by delta.
func (m *Metrics) AddSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(delta)
}
