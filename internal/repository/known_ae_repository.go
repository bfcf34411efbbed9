package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/otcheredev/pacs-node/internal/database"
	"github.com/otcheredev/pacs-node/internal/models"
	"gorm.io/gorm"
)

// KnownAERepository handles known application entity database operations
type KnownAERepository struct{}

// NewKnownAERepository creates a new known AE repository
func NewKnownAERepository() *KnownAERepository {
	return &KnownAERepository{}
}

// Create registers a new application entity
func (r *KnownAERepository) Create(ctx context.Context, ae *models.KnownAE) error {
	if err := database.DB.WithContext(ctx).Create(ae).Error; err != nil {
		return fmt.Errorf("failed to create known AE: %w", err)
	}
	return nil
}

// GetByAETitle retrieves an active application entity by AE title.
// Returns (nil, nil) when no active row matches.
func (r *KnownAERepository) GetByAETitle(ctx context.Context, aeTitle string) (*models.KnownAE, error) {
	var ae models.KnownAE
	err := database.DB.WithContext(ctx).
		Where("ae_title = ? AND is_active = ?", aeTitle, true).
		First(&ae).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get known AE: %w", err)
	}
	return &ae, nil
}

// GetByID retrieves an application entity by ID
func (r *KnownAERepository) GetByID(ctx context.Context, id uuid.UUID) (*models.KnownAE, error) {
	var ae models.KnownAE
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&ae).Error; err != nil {
		return nil, fmt.Errorf("failed to get known AE: %w", err)
	}
	return &ae, nil
}

// List retrieves all registered application entities
func (r *KnownAERepository) List(ctx context.Context) ([]models.KnownAE, error) {
	var aes []models.KnownAE
	if err := database.DB.WithContext(ctx).
		Order("ae_title ASC").
		Find(&aes).Error; err != nil {
		return nil, fmt.Errorf("failed to list known AEs: %w", err)
	}
	return aes, nil
}

// Update updates an application entity
func (r *KnownAERepository) Update(ctx context.Context, ae *models.KnownAE) error {
	if err := database.DB.WithContext(ctx).Save(ae).Error; err != nil {
		return fmt.Errorf("failed to update known AE: %w", err)
	}
	return nil
}

// Delete soft deletes an application entity
func (r *KnownAERepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.KnownAE{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete known AE: %w", err)
	}
	return nil
}

// CountActive returns the number of active application entities
func (r *KnownAERepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := database.DB.WithContext(ctx).
		Model(&models.KnownAE{}).
		Where("is_active = ?", true).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count known AEs: %w", err)
	}
	return n, nil
}
