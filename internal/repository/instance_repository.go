package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/otcheredev/pacs-node/internal/database"
	"github.com/otcheredev/pacs-node/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceFilter carries the matching keys of a query identifier.
// Empty fields match everything and add no clause.
type InstanceFilter struct {
	PatientName       string
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	AccessionNumber   string
	StudyDate         string
	Modality          string
	InstanceNumber    string
}

// RetrieveFilter selects the instances addressed by a retrieve
// identifier. Populated lists are combined with AND, values within a
// list with OR; callers populate the lists for their retrieve level.
type RetrieveFilter struct {
	PatientIDs []string
	StudyUIDs  []string
	SeriesUIDs []string
	SOPUIDs    []string
}

// InstanceRepository handles stored instance database operations
type InstanceRepository struct{}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{}
}

// wildcardToILIKE rewrites a DICOM wildcard value into a SQL LIKE
// pattern, escaping LIKE metacharacters in the literal parts.
func wildcardToILIKE(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dateRange splits a DICOM date range value into its bounds. ok is
// false when the value carries no range separator.
func dateRange(value string) (from, to string, ok bool) {
	i := strings.IndexByte(value, '-')
	if i < 0 {
		return "", "", false
	}
	return value[:i], value[i+1:], true
}

// matchClause adds an equality or wildcard clause for a single-valued key.
func matchClause(db *gorm.DB, column, value string) *gorm.DB {
	if value == "" {
		return db
	}
	if strings.ContainsAny(value, "*?") {
		return db.Where(column+" ILIKE ?", wildcardToILIKE(value))
	}
	return db.Where(column+" = ?", value)
}

// dateClause adds a study date clause, honoring DICOM range values
// ("A-B" inclusive, "A-" on or after, "-B" on or before).
func dateClause(db *gorm.DB, value string) *gorm.DB {
	if value == "" {
		return db
	}
	if from, to, ok := dateRange(value); ok {
		switch {
		case from != "" && to != "":
			return db.Where("study_date BETWEEN ? AND ?", from, to)
		case from != "":
			return db.Where("study_date >= ?", from)
		case to != "":
			return db.Where("study_date <= ?", to)
		}
		return db
	}
	return matchClause(db, "study_date", value)
}

func applyFilter(db *gorm.DB, f InstanceFilter) *gorm.DB {
	db = matchClause(db, "patient_name", f.PatientName)
	db = matchClause(db, "patient_id", f.PatientID)
	db = matchClause(db, "accession_number", f.AccessionNumber)
	db = matchClause(db, "modality", f.Modality)
	db = matchClause(db, "instance_number", f.InstanceNumber)
	db = dateClause(db, f.StudyDate)
	if f.StudyInstanceUID != "" {
		db = db.Where("study_instance_uid = ?", f.StudyInstanceUID)
	}
	if f.SeriesInstanceUID != "" {
		db = db.Where("series_instance_uid = ?", f.SeriesInstanceUID)
	}
	if f.SOPInstanceUID != "" {
		db = db.Where("sop_instance_uid = ?", f.SOPInstanceUID)
	}
	return db
}

// SearchPatients returns one representative instance row per matching patient
func (r *InstanceRepository) SearchPatients(ctx context.Context, f InstanceFilter) ([]models.Instance, error) {
	var rows []models.Instance
	if err := applyFilter(database.DB.WithContext(ctx).Model(&models.Instance{}), f).
		Select("DISTINCT ON (patient_id) *").
		Order("patient_id, created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search patients: %w", err)
	}
	return rows, nil
}

// SearchStudies returns one representative instance row per matching study
func (r *InstanceRepository) SearchStudies(ctx context.Context, f InstanceFilter) ([]models.Instance, error) {
	var rows []models.Instance
	if err := applyFilter(database.DB.WithContext(ctx).Model(&models.Instance{}), f).
		Select("DISTINCT ON (study_instance_uid) *").
		Order("study_instance_uid, created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search studies: %w", err)
	}
	return rows, nil
}

// SearchSeries returns one representative instance row per matching series
func (r *InstanceRepository) SearchSeries(ctx context.Context, f InstanceFilter) ([]models.Instance, error) {
	var rows []models.Instance
	if err := applyFilter(database.DB.WithContext(ctx).Model(&models.Instance{}), f).
		Select("DISTINCT ON (series_instance_uid) *").
		Order("series_instance_uid, created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search series: %w", err)
	}
	return rows, nil
}

// SearchInstances returns all matching instance rows
func (r *InstanceRepository) SearchInstances(ctx context.Context, f InstanceFilter) ([]models.Instance, error) {
	var rows []models.Instance
	if err := applyFilter(database.DB.WithContext(ctx).Model(&models.Instance{}), f).
		Order("study_instance_uid, series_instance_uid, sop_instance_uid").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search instances: %w", err)
	}
	return rows, nil
}

// StudyCounts returns the number of series and instances under a study
func (r *InstanceRepository) StudyCounts(ctx context.Context, studyUID string) (series, instances int64, err error) {
	if err := database.DB.WithContext(ctx).Model(&models.Instance{}).
		Where("study_instance_uid = ?", studyUID).
		Distinct("series_instance_uid").
		Count(&series).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count study series: %w", err)
	}
	if err := database.DB.WithContext(ctx).Model(&models.Instance{}).
		Where("study_instance_uid = ?", studyUID).
		Count(&instances).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count study instances: %w", err)
	}
	return series, instances, nil
}

// SeriesCount returns the number of instances under a series
func (r *InstanceRepository) SeriesCount(ctx context.Context, seriesUID string) (int64, error) {
	var n int64
	if err := database.DB.WithContext(ctx).Model(&models.Instance{}).
		Where("series_instance_uid = ?", seriesUID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count series instances: %w", err)
	}
	return n, nil
}

// StudyModalities returns the distinct modalities present in a study
func (r *InstanceRepository) StudyModalities(ctx context.Context, studyUID string) ([]string, error) {
	var modalities []string
	if err := database.DB.WithContext(ctx).Model(&models.Instance{}).
		Where("study_instance_uid = ? AND modality <> ''", studyUID).
		Distinct().
		Order("modality").
		Pluck("modality", &modalities).Error; err != nil {
		return nil, fmt.Errorf("failed to list study modalities: %w", err)
	}
	return modalities, nil
}

// Upsert inserts an instance row, replacing the previous row for the
// same SOP Instance UID when one exists
func (r *InstanceRepository) Upsert(ctx context.Context, inst *models.Instance) error {
	if err := database.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sop_instance_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sop_class_uid", "study_instance_uid", "series_instance_uid",
			"patient_id", "patient_name", "study_date", "accession_number",
			"modality", "instance_number", "transfer_syntax_uid",
			"received_from_ae", "file_path", "size_bytes", "updated_at",
		}),
	}).Create(inst).Error; err != nil {
		return fmt.Errorf("failed to upsert instance: %w", err)
	}
	return nil
}

// ListForRetrieve returns the instances addressed by a retrieve
// identifier, ordered for sequential sub-operations
func (r *InstanceRepository) ListForRetrieve(ctx context.Context, f RetrieveFilter) ([]models.Instance, error) {
	db := database.DB.WithContext(ctx).Model(&models.Instance{})
	if len(f.PatientIDs) > 0 {
		db = db.Where("patient_id IN ?", f.PatientIDs)
	}
	if len(f.StudyUIDs) > 0 {
		db = db.Where("study_instance_uid IN ?", f.StudyUIDs)
	}
	if len(f.SeriesUIDs) > 0 {
		db = db.Where("series_instance_uid IN ?", f.SeriesUIDs)
	}
	if len(f.SOPUIDs) > 0 {
		db = db.Where("sop_instance_uid IN ?", f.SOPUIDs)
	}
	var rows []models.Instance
	if err := db.Order("study_instance_uid, series_instance_uid, sop_instance_uid").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances for retrieve: %w", err)
	}
	return rows, nil
}

// GetBySOPInstanceUID retrieves an instance row by SOP Instance UID.
// Returns (nil, nil) when no row matches.
func (r *InstanceRepository) GetBySOPInstanceUID(ctx context.Context, uid string) (*models.Instance, error) {
	var inst models.Instance
	err := database.DB.WithContext(ctx).
		Where("sop_instance_uid = ?", uid).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return &inst, nil
}

// List retrieves stored instances with pagination, newest first
func (r *InstanceRepository) List(ctx context.Context, limit, offset int) ([]models.Instance, error) {
	var rows []models.Instance
	if err := database.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return rows, nil
}

// Count returns the total number of stored instances
func (r *InstanceRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := database.DB.WithContext(ctx).Model(&models.Instance{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}
