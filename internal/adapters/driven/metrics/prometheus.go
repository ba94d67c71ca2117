package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/renait/aselect-sub006/internal/core/ports"
)

// PrometheusRecorder records metrics using Prometheus.
type PrometheusRecorder struct {
	ticketsIssuedTotal   *prometheus.CounterVec
	ticketsRemovedTotal  *prometheus.CounterVec
	logoutTotal          *prometheus.CounterVec
	sessionSyncTotal     *prometheus.CounterVec
	metadataResolveTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder on the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWithRegistry creates a recorder with a custom
// registry. Use this for testing.
func NewPrometheusRecorderWithRegistry(reg prometheus.Registerer) *PrometheusRecorder {
	ticketsIssuedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aselect_tickets_issued_total",
		Help: "Total tickets issued",
	}, []string{"kind"})

	ticketsRemovedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aselect_tickets_removed_total",
		Help: "Total tickets removed",
	}, []string{"reason"})

	logoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aselect_logout_total",
		Help: "Total logout exchanges",
	}, []string{"direction", "result"})

	sessionSyncTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aselect_session_sync_total",
		Help: "Total session synchronization outcomes",
	}, []string{"result"})

	metadataResolveTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aselect_metadata_resolve_total",
		Help: "Total metadata resolution attempts",
	}, []string{"source", "result"})

	reg.MustRegister(
		ticketsIssuedTotal,
		ticketsRemovedTotal,
		logoutTotal,
		sessionSyncTotal,
		metadataResolveTotal,
	)

	return &PrometheusRecorder{
		ticketsIssuedTotal:   ticketsIssuedTotal,
		ticketsRemovedTotal:  ticketsRemovedTotal,
		logoutTotal:          logoutTotal,
		sessionSyncTotal:     sessionSyncTotal,
		metadataResolveTotal: metadataResolveTotal,
	}
}

// RecordTicketIssued records a ticket issuance.
func (p *PrometheusRecorder) RecordTicketIssued(kind string) {
	p.ticketsIssuedTotal.WithLabelValues(kind).Inc()
}

// RecordTicketRemoved records a ticket removal.
func (p *PrometheusRecorder) RecordTicketRemoved(reason string) {
	p.ticketsRemovedTotal.WithLabelValues(reason).Inc()
}

// RecordLogout records a logout exchange.
func (p *PrometheusRecorder) RecordLogout(direction string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.logoutTotal.WithLabelValues(direction, result).Inc()
}

// RecordSessionSync records a session-sync outcome.
func (p *PrometheusRecorder) RecordSessionSync(result string) {
	p.sessionSyncTotal.WithLabelValues(result).Inc()
}

// RecordMetadataResolve records a metadata resolution attempt.
func (p *PrometheusRecorder) RecordMetadataResolve(source string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.metadataResolveTotal.WithLabelValues(source, result).Inc()
}

// Ensure PrometheusRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*PrometheusRecorder)(nil)
