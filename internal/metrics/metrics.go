package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DurationBuckets covers dispatches up to the relay timeout, in milliseconds.
var DurationBuckets = []float64{
	25, 50, 100, 200, 300, 500, 750,
	1000, 1500, 2000, 3000, 5000,
	10000, 15000, 20000, 30000, 45000, 60000,
}

// Recorder groups the collectors for dispatch and billing outcomes.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	billingEvents    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_dispatch_total",
				Help: "dispatch attempts by outcome",
			},
			[]string{"status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_dispatch_duration_ms",
				Help:    "dispatch latency in milliseconds",
				Buckets: DurationBuckets,
			},
			[]string{"status"},
		),
		billingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_events_total",
				Help: "billing provider events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{r.dispatchTotal, r.dispatchDuration, r.billingEvents} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveDispatch records one dispatch attempt.
func (r *Recorder) ObserveDispatch(status string, durationMs int64) {
	if r == nil {
		return
	}
	r.dispatchTotal.WithLabelValues(status).Inc()
	r.dispatchDuration.WithLabelValues(status).Observe(float64(durationMs))
}

// BillingEvent records how a billing event was handled.
func (r *Recorder) BillingEvent(eventType, outcome string) {
	if r == nil {
		return
	}
	r.billingEvents.WithLabelValues(eventType, outcome).Inc()
}
