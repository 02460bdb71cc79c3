package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmoptin/internal/campaignmonitor"
	"github.com/cmoptin/internal/license"
	"github.com/cmoptin/internal/optin"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObservers(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveDirectory("list_clients", campaignmonitor.OutcomeOK)
	m.ObserveDirectory("list_clients", campaignmonitor.OutcomeOK)
	m.ObserveDirectory("subscribe", campaignmonitor.OutcomeSkipped)
	m.ObserveLicense("activate", license.StatusExpired)
	m.ObserveOptin(optin.FlowGuest, optin.Subscribed)

	assert.Equal(t, 2.0, getCounterValue(t, m.DirectoryCalls, "list_clients", "ok"))
	assert.Equal(t, 1.0, getCounterValue(t, m.DirectoryCalls, "subscribe", "skipped"))
	assert.Equal(t, 1.0, getCounterValue(t, m.LicenseCalls, "activate", "expired"))
	assert.Equal(t, 1.0, getCounterValue(t, m.OptinDecisions, "guest", "subscribed"))
	assert.Equal(t, 0.0, getCounterValue(t, m.OptinDecisions, "registration", "subscribed"))
}

func TestNew_RejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandlerAndInstrument(t *testing.T) {
	m := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/sites/{site}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sites/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cmoptin_http_request_duration_seconds_count{code="418",route="/sites/{site}"} 1`)
}
