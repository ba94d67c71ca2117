package metrics

import "github.com/renait/aselect-sub006/internal/core/ports"

// NoopRecorder discards all metrics. Used when metrics are disabled and in
// tests that do not assert on them.
type NoopRecorder struct{}

// NewNoopRecorder creates a new NoopRecorder.
func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTicketIssued(string)          {}
func (n *NoopRecorder) RecordTicketRemoved(string)         {}
func (n *NoopRecorder) RecordLogout(string, bool)          {}
func (n *NoopRecorder) RecordSessionSync(string)           {}
func (n *NoopRecorder) RecordMetadataResolve(string, bool) {}

// Ensure NoopRecorder implements ports.MetricsRecorder
var _ ports.MetricsRecorder = (*NoopRecorder)(nil)
