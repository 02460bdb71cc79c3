// Package metrics exposes Prometheus counters for the add-on's outbound calls
// and opt-in decisions.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmoptin/internal/campaignmonitor"
	"github.com/cmoptin/internal/license"
	"github.com/cmoptin/internal/optin"
)

const namespace = "cmoptin"

// Metrics implements the observers of campaignmonitor, license and optin.
type Metrics struct {
	DirectoryCalls  *prometheus.CounterVec
	LicenseCalls    *prometheus.CounterVec
	OptinDecisions  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		DirectoryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_monitor_calls_total",
			Help:      "Campaign Monitor API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		LicenseCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_calls_total",
			Help:      "License endpoint calls by action and mapped status.",
		}, []string{"action", "status"}),
		OptinDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optin_decisions_total",
			Help:      "Checkout opt-in submissions by flow and decision.",
		}, []string{"flow", "decision"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{m.DirectoryCalls, m.LicenseCalls, m.OptinDecisions, m.RequestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDirectory(op string, outcome campaignmonitor.Outcome) {
	m.DirectoryCalls.WithLabelValues(op, string(outcome)).Inc()
}

func (m *Metrics) ObserveLicense(action string, status license.Status) {
	m.LicenseCalls.WithLabelValues(action, string(status)).Inc()
}

func (m *Metrics) ObserveOptin(flow string, decision optin.Decision) {
	m.OptinDecisions.WithLabelValues(flow, string(decision)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records request latency labelled by the matched chi route.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
