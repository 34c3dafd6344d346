// Package metrics provides Prometheus-based metrics recording for the intake
// conversation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery status labels.
const (
	DeliveryOK      = "ok"
	DeliveryError   = "error"
	DeliveryTimeout = "timeout"
)

// Recorder counts session lifecycle events and observes delivery outcomes.
type Recorder struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsCancelled prometheus.Counter
	renderFailures    prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	deliveryDuration  prometheus.Histogram
}

// NewRecorder registers the intake metrics with the given registerer. Tests
// pass a fresh registry to avoid duplicate registration.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_started_total",
			Help: "Total number of intake conversations started",
		}),
		sessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_completed_total",
			Help: "Total number of intake conversations that reached delivery",
		}),
		sessionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_cancelled_total",
			Help: "Total number of intake conversations cancelled by the user",
		}),
		renderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_render_failures_total",
			Help: "Total number of document render failures",
		}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_deliveries_total",
			Help: "Total number of delivery attempts by status",
		}, []string{"status"}),
		deliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_delivery_duration_seconds",
			Help:    "Duration of render-and-send delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SessionStarted counts a successful /start.
func (r *Recorder) SessionStarted() {
	r.sessionsStarted.Inc()
}

// SessionCompleted counts a conversation that answered every question.
func (r *Recorder) SessionCompleted() {
	r.sessionsCompleted.Inc()
}

// SessionCancelled counts an explicit /cancel.
func (r *Recorder) SessionCancelled() {
	r.sessionsCancelled.Inc()
}

// RenderFailed counts a document render failure.
func (r *Recorder) RenderFailed() {
	r.renderFailures.Inc()
}

// ObserveDelivery records one delivery attempt with its outcome and duration.
func (r *Recorder) ObserveDelivery(status string, duration time.Duration) {
	r.deliveriesTotal.WithLabelValues(status).Inc()
	r.deliveryDuration.Observe(duration.Seconds())
}

// RegisterSessionGauge exposes the number of in-flight sessions as a gauge
// sampled at scrape time.
func RegisterSessionGauge(reg prometheus.Registerer, active func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "intake_sessions_active",
		Help: "Number of intake conversations currently in progress",
	}, func() float64 {
		return float64(active())
	}))
}
