package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

// AssociationSink is the slice of the association repository the audit
// service writes through.
type AssociationSink interface {
	Create(ctx context.Context, entry *models.AssociationLog) error
}

// AuditService records one row per served association.
type AuditService struct {
	repo AssociationSink
}

// NewAuditService creates a new audit service
func NewAuditService(repo AssociationSink) *AuditService {
	return &AuditService{repo: repo}
}

// Record persists one association summary. It runs on its own deadline
// because callers invoke it while the association is tearing down.
func (s *AuditService) Record(rec dimse.AssociationRecord) {
	entry := &models.AssociationLog{
		ID:             rec.ID,
		CallingAETitle: rec.CallingAETitle,
		CalledAETitle:  rec.CalledAETitle,
		RemoteAddr:     rec.RemoteAddr,
		Outcome:        rec.Outcome,
		EchoOps:        rec.Operations["C-ECHO-RQ"],
		FindOps:        rec.Operations["C-FIND-RQ"],
		StoreOps:       rec.Operations["C-STORE-RQ"],
		MoveOps:        rec.Operations["C-MOVE-RQ"],
		GetOps:         rec.Operations["C-GET-RQ"],
		Duration:       rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Create(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("association_id", rec.ID.String()).
			Msg("Failed to record association")
	}
}
