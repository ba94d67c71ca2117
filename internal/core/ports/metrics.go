package ports

// MetricsRecorder is the port interface for recording metrics.
// Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	// RecordTicketIssued records a ticket issuance. kind is one of
	// "new", "merge", "cross" or "error".
	RecordTicketIssued(kind string)

	// RecordTicketRemoved records a ticket removal with its reason
	// ("logout", "sync_denied", "sync_failed", "expired", "admin").
	RecordTicketRemoved(reason string)

	// RecordLogout records a logout exchange. direction is "sp_initiated"
	// or "idp_initiated".
	RecordLogout(direction string, success bool)

	// RecordSessionSync records a session-sync outcome: "updated",
	// "sync_denied" or "sync_failed".
	RecordSessionSync(result string)

	// RecordMetadataResolve records a metadata resolution attempt for the
	// given source kind ("file" or "url").
	RecordMetadataResolve(source string, success bool)
}
