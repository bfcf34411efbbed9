package services

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/pacs-node/internal/metrics"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

// NodeObserver fans server activity out to metrics and the audit trail.
// It implements dimse.ServerObserver.
type NodeObserver struct {
	audit   *AuditService
	metrics *metrics.Metrics
}

// NewNodeObserver creates a new node observer. Either dependency may be
// nil.
func NewNodeObserver(audit *AuditService, m *metrics.Metrics) *NodeObserver {
	return &NodeObserver{audit: audit, metrics: m}
}

// ConnectionRefused counts a connection turned away at the ceiling
func (o *NodeObserver) ConnectionRefused(remoteAddr string) {
	o.metrics.ConnectionRefused()
	log.Warn().
		Str("remote_addr", remoteAddr).
		Msg("Connection refused at association ceiling")
}

// AssociationOpened tracks a negotiated association
func (o *NodeObserver) AssociationOpened(rec dimse.AssociationRecord) {
	o.metrics.AssociationOpened()
}

// OperationServed counts one served DIMSE operation
func (o *NodeObserver) OperationServed(id uuid.UUID, op string, status dimse.Status) {
	o.metrics.OperationServed(op, statusClass(status))
}

// AssociationClosed records the association outcome
func (o *NodeObserver) AssociationClosed(rec dimse.AssociationRecord) {
	o.metrics.AssociationClosed(rec.Outcome, rec.EndedAt.Sub(rec.StartedAt))
	if o.audit != nil {
		o.audit.Record(rec)
	}
}

// statusClass buckets a DIMSE status for metric labels.
func statusClass(s dimse.Status) string {
	switch {
	case s.IsSuccess():
		return "success"
	case s.IsPending():
		return "pending"
	case s.IsCancel():
		return "cancel"
	case s.IsWarning():
		return "warning"
	default:
		return "failure"
	}
}
