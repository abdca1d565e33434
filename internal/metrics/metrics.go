package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for reminders, plan validation,
// notification delivery and the HTTP API. A nil *Metrics is a valid no-op.
type Metrics struct {
	reminders   *prometheus.CounterVec
	validations *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors with reg (the default registerer
// when nil). Collectors that are already registered are reused; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reminders := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindflow",
			Subsystem: "reminders",
			Name:      "operations_total",
			Help:      "Reminder lifecycle operations by outcome.",
		},
		[]string{"outcome"},
	)
	validations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindflow",
			Subsystem: "assistant",
			Name:      "plan_validations_total",
			Help:      "Assistant replies by validation result (structured or plain).",
		},
		[]string{"result"},
	)
	deliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindflow",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by status.",
		},
		[]string{"status"},
	)
	requests := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mindflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	collectors := []prometheus.Collector{reminders, validations, deliveries, requests}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case reminders:
				reminders = already.ExistingCollector.(*prometheus.CounterVec)
			case validations:
				validations = already.ExistingCollector.(*prometheus.CounterVec)
			case deliveries:
				deliveries = already.ExistingCollector.(*prometheus.CounterVec)
			case requests:
				requests = already.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
	}

	return &Metrics{
		reminders:   reminders,
		validations: validations,
		deliveries:  deliveries,
		requests:    requests,
	}
}

// ObserveReminder counts a reminder operation outcome.
func (m *Metrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(outcome).Inc()
}

// ObservePlanValidation counts an assistant reply by whether it carried a valid plan.
func (m *Metrics) ObservePlanValidation(structured bool) {
	if m == nil {
		return
	}
	result := "plain"
	if structured {
		result = "structured"
	}
	m.validations.WithLabelValues(result).Inc()
}

// ObserveDelivery counts a notification delivery attempt.
func (m *Metrics) ObserveDelivery(ok bool) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "delivered"
	}
	m.deliveries.WithLabelValues(status).Inc()
}

// Middleware records request latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
	})
}
