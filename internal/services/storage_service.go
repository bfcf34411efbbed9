package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/pacs-node/internal/cache"
	"github.com/otcheredev/pacs-node/internal/metrics"
	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/pkg/dicom"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

// InstanceWriter is the slice of the instance repository the storage
// service writes through.
type InstanceWriter interface {
	Upsert(ctx context.Context, inst *models.Instance) error
}

// StorageService persists instances received over the network under the
// storage root and indexes them. It implements dimse.PersistenceStore.
type StorageService struct {
	root    string
	index   InstanceWriter
	cache   cache.Cache
	metrics *metrics.Metrics
}

// NewStorageService creates a new storage service. cache and metrics
// may be nil.
func NewStorageService(root string, index InstanceWriter, c cache.Cache, m *metrics.Metrics) *StorageService {
	return &StorageService{root: root, index: index, cache: c, metrics: m}
}

// Store writes the received dataset to disk and upserts its index row.
// Disk failures report status 0xA700, malformed instances 0xC000.
func (s *StorageService) Store(ctx context.Context, inst *dimse.StoredInstance) error {
	ds := inst.DataSet
	if ds == nil {
		return &dimse.ServiceError{
			Op:      "C-STORE",
			Status:  dimse.StatusUnableToProcess,
			Comment: "no data set received",
		}
	}

	sopUID := inst.SOPInstanceUID
	if sopUID == "" {
		sopUID, _ = ds.GetString(dicom.TagSOPInstanceUID)
	}
	sopClass := inst.SOPClassUID
	if sopClass == "" {
		sopClass, _ = ds.GetString(dicom.TagSOPClassUID)
	}
	studyUID, _ := ds.GetString(dicom.TagStudyInstanceUID)
	seriesUID, _ := ds.GetString(dicom.TagSeriesInstanceUID)

	// UIDs become path components, so malformed ones are refused rather
	// than sanitized.
	for _, uid := range []string{sopUID, studyUID, seriesUID} {
		if !validUID(uid) {
			return &dimse.ServiceError{
				Op:      "C-STORE",
				Status:  dimse.StatusUnableToProcess,
				Comment: "instance carries a missing or malformed UID",
			}
		}
	}

	ts := dicom.ExplicitVRLittleEndian
	if inst.TransferSyntax != nil {
		ts = inst.TransferSyntax
	}

	dir := filepath.Join(s.root, studyUID, seriesUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &dimse.ServiceError{
			Op:     "C-STORE",
			Status: dimse.StatusOutOfResources,
			Err:    fmt.Errorf("failed to create storage directory: %w", err),
		}
	}

	path := filepath.Join(dir, sopUID+".dcm")
	size, err := writeInstanceFile(path, ds, ts)
	if err != nil {
		return &dimse.ServiceError{Op: "C-STORE", Status: dimse.StatusOutOfResources, Err: err}
	}

	row := &models.Instance{
		SOPInstanceUID:    sopUID,
		SOPClassUID:       sopClass,
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		TransferSyntaxUID: ts.UID,
		ReceivedFromAE:    inst.CallingAETitle,
		FilePath:          path,
		SizeBytes:         size,
	}
	row.PatientID, _ = ds.GetString(dicom.TagPatientID)
	row.PatientName, _ = ds.GetString(dicom.TagPatientName)
	row.StudyDate, _ = ds.GetString(dicom.TagStudyDate)
	row.AccessionNumber, _ = ds.GetString(dicom.TagAccessionNumber)
	row.Modality, _ = ds.GetString(dicom.TagModality)
	row.InstanceNumber, _ = ds.GetString(dicom.TagInstanceNumber)

	if err := s.index.Upsert(ctx, row); err != nil {
		return fmt.Errorf("failed to index instance: %w", err)
	}

	// Counting attributes for this study changed
	if s.cache != nil {
		s.cache.Delete(ctx, cache.StudyCountsKey(studyUID))
		s.cache.Delete(ctx, cache.SeriesCountKey(seriesUID))
		s.cache.Delete(ctx, cache.StudyModalitiesKey(studyUID))
	}
	s.metrics.InstanceStored(size)

	log.Info().
		Str("sop_instance_uid", sopUID).
		Str("calling_ae", inst.CallingAETitle).
		Int64("size_bytes", size).
		Msg("Instance stored")

	return nil
}

// writeInstanceFile writes ds as a Part-10 file, via a temp file and
// rename so the final path only ever holds complete files.
func writeInstanceFile(path string, ds *dicom.DataSet, ts *dicom.TransferSyntax) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".recv-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create instance file: %w", err)
	}
	tmp := f.Name()

	if err := dicom.WriteFile(f, ds, dicom.WithWriteTransferSyntax(ts)); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write instance file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to stat instance file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close instance file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to move instance file: %w", err)
	}
	return fi.Size(), nil
}

// validUID reports whether s is a legal UID usable as a path component:
// digit components separated by single dots, at most 64 characters.
func validUID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, comp := range strings.Split(s, ".") {
		if comp == "" {
			return false
		}
		for _, r := range comp {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
