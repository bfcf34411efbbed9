package repository

import (
	"context"
	"fmt"

	"github.com/otcheredev/pacs-node/internal/database"
	"github.com/otcheredev/pacs-node/internal/models"
)

// AssociationRepository handles association log persistence
type AssociationRepository struct{}

// NewAssociationRepository creates a new association repository
func NewAssociationRepository() *AssociationRepository {
	return &AssociationRepository{}
}

// Create inserts an association log entry
func (r *AssociationRepository) Create(ctx context.Context, entry *models.AssociationLog) error {
	if err := database.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create association log: %w", err)
	}
	return nil
}

// List retrieves association logs with pagination, newest first
func (r *AssociationRepository) List(ctx context.Context, limit, offset int) ([]models.AssociationLog, error) {
	var entries []models.AssociationLog
	if err := database.DB.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list association logs: %w", err)
	}
	return entries, nil
}

// Count returns the total number of association log entries
func (r *AssociationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := database.DB.WithContext(ctx).
		Model(&models.AssociationLog{}).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count association logs: %w", err)
	}
	return n, nil
}
