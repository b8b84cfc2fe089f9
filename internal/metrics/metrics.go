package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Clicks          *prometheus.CounterVec
	Conversions     prometheus.Counter
	ConversionValue prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Clicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Click tracking attempts by outcome",
			},
			[]string{"outcome"},
		),
		Conversions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Clicks marked as converted",
			},
		),
		ConversionValue: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_value_total",
				Help:      "Sum of recorded conversion values",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) ClickRecorded() {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues("recorded").Inc()
}

func (m *Metrics) ClickRejected() {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues("rejected").Inc()
}

func (m *Metrics) ClickFailed() {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues("failed").Inc()
}

func (m *Metrics) ConversionRecorded(value decimal.Decimal) {
	if m == nil {
		return
	}
	m.Conversions.Inc()
	if f := value.InexactFloat64(); f > 0 {
		m.ConversionValue.Add(f)
	}
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			if err := next(c); err != nil {
				// resolve the status through the error handler before counting
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, status).Inc()
			m.HTTPLatency.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
