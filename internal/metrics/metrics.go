// Package metrics exposes Prometheus counters for webhook handling and
// field extraction.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Extraction outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFallback  = "fallback"
	OutcomeDuplicate = "duplicate"
	OutcomeNoContact = "no_contact"
)

type Metrics struct {
	registry *prometheus.Registry

	Extractions    *prometheus.CounterVec
	FieldsResolved *prometheus.CounterVec
	Webhooks       *prometheus.CounterVec
	CRMErrors      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_extractions_total",
				Help: "Call reports processed, by outcome",
			},
			[]string{"outcome"},
		),
		FieldsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_fields_resolved_total",
				Help: "Fields resolved, by field key and provenance",
			},
			[]string{"field", "source"},
		),
		Webhooks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_webhooks_total",
				Help: "Webhooks received, by message type",
			},
			[]string{"type"},
		),
		CRMErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_crm_errors_total",
				Help: "Failed CRM calls, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
