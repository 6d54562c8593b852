// Package metrics holds the Prometheus collectors of the form service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topo4d_form"

// Geometry derivation outcomes.
const (
	GeometryNative      = "native"
	GeometryReprojected = "reprojected"
	GeometryFailed      = "failed"
)

// Registry owns the service collectors. A nil *Registry is valid and records
// nothing, so components may run without metrics.
type Registry struct {
	reg *prometheus.Registry

	submissions *prometheus.CounterVec
	validations *prometheus.CounterVec
	findings    prometheus.Counter
	geometry    *prometheus.CounterVec
	published   *prometheus.CounterVec
}

// NewRegistry creates a registry with the Go runtime and process collectors
// plus the service collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Form submissions received, by entity.",
		}, []string{"entity"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Schema validations run, by entity and outcome.",
		}, []string{"entity", "valid"}),
		findings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_findings_total",
			Help:      "Schema findings reported to users.",
		}),
		geometry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geometry_derivations_total",
			Help:      "Header geometry derivations, by result.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_published_total",
			Help:      "Valid items published, by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.submissions,
		r.validations,
		r.findings,
		r.geometry,
		r.published,
	)
	return r
}

// TrackSessions exports the live session count reported by count.
func (r *Registry) TrackSessions(count func() int) {
	if r == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Live form sessions.",
	}, func() float64 { return float64(count()) }))
}

// Submission counts one submission for entity.
func (r *Registry) Submission(entity string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(entity).Inc()
}

// Validation records one validation and the number of findings it produced.
func (r *Registry) Validation(entity string, findings int) {
	if r == nil {
		return
	}
	valid := "true"
	if findings > 0 {
		valid = "false"
	}
	r.validations.WithLabelValues(entity, valid).Inc()
	r.findings.Add(float64(findings))
}

// Geometry counts one derivation with the given result.
func (r *Registry) Geometry(result string) {
	if r == nil {
		return
	}
	r.geometry.WithLabelValues(result).Inc()
}

// Published counts one publish attempt.
func (r *Registry) Published(err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.published.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
