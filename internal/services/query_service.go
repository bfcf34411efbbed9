package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/otcheredev/pacs-node/internal/cache"
	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/internal/repository"
	"github.com/otcheredev/pacs-node/pkg/dicom"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

// Query retrieve levels in hierarchy order
const (
	levelPatient = "PATIENT"
	levelStudy   = "STUDY"
	levelSeries  = "SERIES"
	levelImage   = "IMAGE"
)

// levelRank orders the retrieve hierarchy. Attributes of a deeper level
// are echoed empty in matches for shallower queries.
var levelRank = map[string]int{
	levelPatient: 0,
	levelStudy:   1,
	levelSeries:  2,
	levelImage:   3,
}

// countsTTL bounds how stale cached counting attributes may get.
const countsTTL = 30 * time.Second

// InstanceIndex is the slice of the instance repository the query
// service reads.
type InstanceIndex interface {
	SearchPatients(ctx context.Context, f repository.InstanceFilter) ([]models.Instance, error)
	SearchStudies(ctx context.Context, f repository.InstanceFilter) ([]models.Instance, error)
	SearchSeries(ctx context.Context, f repository.InstanceFilter) ([]models.Instance, error)
	SearchInstances(ctx context.Context, f repository.InstanceFilter) ([]models.Instance, error)
	StudyCounts(ctx context.Context, studyUID string) (series, instances int64, err error)
	SeriesCount(ctx context.Context, seriesUID string) (int64, error)
	StudyModalities(ctx context.Context, studyUID string) ([]string, error)
	ListForRetrieve(ctx context.Context, f repository.RetrieveFilter) ([]models.Instance, error)
}

// QueryService resolves query and retrieve identifiers against the
// instance index. It implements dimse.QueryResolver.
type QueryService struct {
	index   InstanceIndex
	cache   cache.Cache
	aeTitle string
}

// NewQueryService creates a new query service. aeTitle is returned as
// the Retrieve AE Title in matches; cache may be nil.
func NewQueryService(index InstanceIndex, c cache.Cache, aeTitle string) *QueryService {
	return &QueryService{index: index, cache: c, aeTitle: aeTitle}
}

// Find answers a query identifier, invoking next once per match
func (s *QueryService) Find(ctx context.Context, q dimse.Query, next func(*dicom.DataSet) error) error {
	if q.Identifier == nil {
		return &dimse.ServiceError{
			Op:      "C-FIND",
			Status:  dimse.StatusIdentifierMismatch,
			Comment: "query carries no identifier",
		}
	}

	level, err := normalizeLevel(q.Identifier)
	if err != nil {
		return err
	}
	if _, ok := levelRank[level]; !ok {
		return &dimse.ServiceError{
			Op:      "C-FIND",
			Status:  dimse.StatusIdentifierMismatch,
			Comment: "unsupported query retrieve level " + level,
		}
	}

	f := identifierFilter(q.Identifier)
	var rows []models.Instance
	switch level {
	case levelPatient:
		rows, err = s.index.SearchPatients(ctx, f)
	case levelStudy:
		rows, err = s.index.SearchStudies(ctx, f)
	case levelSeries:
		rows, err = s.index.SearchSeries(ctx, f)
	default:
		rows, err = s.index.SearchInstances(ctx, f)
	}
	if err != nil {
		return fmt.Errorf("failed to search %s level: %w", strings.ToLower(level), err)
	}

	for _, row := range rows {
		match, err := s.buildMatch(ctx, level, row, q.Identifier)
		if err != nil {
			return err
		}
		if err := next(match); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve resolves a retrieve identifier to the stored instances it
// addresses
func (s *QueryService) Retrieve(ctx context.Context, q dimse.Query) ([]dimse.InstanceSource, error) {
	if q.Identifier == nil {
		return nil, &dimse.ServiceError{
			Op:      "retrieve",
			Status:  dimse.StatusIdentifierMismatch,
			Comment: "retrieve carries no identifier",
		}
	}

	level, err := normalizeLevel(q.Identifier)
	if err != nil {
		return nil, err
	}
	if _, ok := levelRank[level]; !ok {
		return nil, &dimse.ServiceError{
			Op:      "retrieve",
			Status:  dimse.StatusIdentifierMismatch,
			Comment: "unsupported query retrieve level " + level,
		}
	}

	var f repository.RetrieveFilter
	var required dicom.Tag
	switch level {
	case levelPatient:
		required = dicom.TagPatientID
		f.PatientIDs, err = uidList(q.Identifier, dicom.TagPatientID)
	case levelStudy:
		required = dicom.TagStudyInstanceUID
		f.StudyUIDs, err = uidList(q.Identifier, dicom.TagStudyInstanceUID)
	case levelSeries:
		required = dicom.TagSeriesInstanceUID
		if f.SeriesUIDs, err = uidList(q.Identifier, dicom.TagSeriesInstanceUID); err == nil {
			f.StudyUIDs, err = uidList(q.Identifier, dicom.TagStudyInstanceUID)
		}
	default:
		required = dicom.TagSOPInstanceUID
		if f.SOPUIDs, err = uidList(q.Identifier, dicom.TagSOPInstanceUID); err == nil {
			if f.SeriesUIDs, err = uidList(q.Identifier, dicom.TagSeriesInstanceUID); err == nil {
				f.StudyUIDs, err = uidList(q.Identifier, dicom.TagStudyInstanceUID)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if empty(f, level) {
		return nil, &dimse.ServiceError{
			Op:      "retrieve",
			Status:  dimse.StatusIdentifierMismatch,
			Comment: fmt.Sprintf("identifier has no %s values", dicom.NameOf(required)),
		}
	}

	rows, err := s.index.ListForRetrieve(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve retrieve identifier: %w", err)
	}

	sources := make([]dimse.InstanceSource, len(rows))
	for i := range rows {
		sources[i] = &fileSource{row: rows[i]}
	}
	return sources, nil
}

// empty reports whether the level's unique key list is unpopulated.
func empty(f repository.RetrieveFilter, level string) bool {
	switch level {
	case levelPatient:
		return len(f.PatientIDs) == 0
	case levelStudy:
		return len(f.StudyUIDs) == 0
	case levelSeries:
		return len(f.SeriesUIDs) == 0
	default:
		return len(f.SOPUIDs) == 0
	}
}

// normalizeLevel reads the retrieve level, defaulting to STUDY and
// folding the INSTANCE spelling into IMAGE.
func normalizeLevel(ds *dicom.DataSet) (string, error) {
	level, err := ds.GetString(dicom.TagQueryRetrieveLevel)
	if err != nil {
		return "", fmt.Errorf("failed to read query retrieve level: %w", err)
	}
	level = strings.ToUpper(strings.TrimSpace(level))
	switch level {
	case "":
		return levelStudy, nil
	case "INSTANCE":
		return levelImage, nil
	}
	return level, nil
}

// identifierFilter maps the identifier's matching keys onto the index
// filter. A bare "*" matches everything, so it adds no clause.
func identifierFilter(ds *dicom.DataSet) repository.InstanceFilter {
	get := func(tag dicom.Tag) string {
		v, _ := ds.GetString(tag)
		if v == "*" {
			return ""
		}
		return v
	}

	f := repository.InstanceFilter{
		PatientName:       get(dicom.TagPatientName),
		PatientID:         get(dicom.TagPatientID),
		StudyDate:         get(dicom.TagStudyDate),
		AccessionNumber:   get(dicom.TagAccessionNumber),
		StudyInstanceUID:  get(dicom.TagStudyInstanceUID),
		SeriesInstanceUID: get(dicom.TagSeriesInstanceUID),
		SOPInstanceUID:    get(dicom.TagSOPInstanceUID),
		InstanceNumber:    get(dicom.TagInstanceNumber),
		Modality:          get(dicom.TagModality),
	}
	if f.Modality == "" {
		f.Modality = get(dicom.TagModalitiesInStudy)
	}
	return f
}

// uidList reads a possibly multi-valued key, dropping empty values.
func uidList(ds *dicom.DataSet, tag dicom.Tag) ([]string, error) {
	values, err := ds.GetStrings(tag)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dicom.NameOf(tag), err)
	}
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// uniqueKeyTag returns the key that identifies a match at the given level.
func uniqueKeyTag(level string) dicom.Tag {
	switch level {
	case levelPatient:
		return dicom.TagPatientID
	case levelStudy:
		return dicom.TagStudyInstanceUID
	case levelSeries:
		return dicom.TagSeriesInstanceUID
	default:
		return dicom.TagSOPInstanceUID
	}
}

// buildMatch assembles one response identifier: the level, the level's
// unique key, then every requested key echoed with its matched value or
// empty when the key has no value at this level.
func (s *QueryService) buildMatch(ctx context.Context, level string, row models.Instance, req *dicom.DataSet) (*dicom.DataSet, error) {
	out := dicom.NewDataSet()

	levelEl, err := dicom.NewElement(dicom.TagQueryRetrieveLevel, level)
	if err != nil {
		return nil, err
	}
	out.Add(levelEl)

	unique := uniqueKeyTag(level)
	uv, err := s.matchValue(ctx, level, row, unique)
	if err != nil {
		return nil, err
	}
	uniqueEl, err := dicom.NewElement(unique, uv)
	if err != nil {
		return nil, err
	}
	out.Add(uniqueEl)

	for _, e := range req.Elements {
		switch e.Tag {
		case dicom.TagQueryRetrieveLevel, dicom.TagSpecificCharacterSet, unique:
			continue
		}
		v, err := s.matchValue(ctx, level, row, e.Tag)
		if err != nil {
			return nil, err
		}
		var el *dicom.Element
		if v == nil {
			el, err = dicom.NewElementVR(e.Tag, e.VR, nil)
		} else {
			el, err = dicom.NewElement(e.Tag, v)
		}
		if err != nil {
			return nil, err
		}
		out.Add(el)
	}
	return out, nil
}

// matchValue resolves one requested key against a matched row. nil
// means the key has no value at this level and is echoed empty.
func (s *QueryService) matchValue(ctx context.Context, level string, row models.Instance, tag dicom.Tag) (any, error) {
	rank := levelRank[level]
	switch tag {
	case dicom.TagPatientName:
		return row.PatientName, nil
	case dicom.TagPatientID:
		return row.PatientID, nil
	case dicom.TagRetrieveAETitle:
		if s.aeTitle == "" {
			return nil, nil
		}
		return s.aeTitle, nil

	case dicom.TagStudyInstanceUID:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		return row.StudyInstanceUID, nil
	case dicom.TagStudyDate:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		return row.StudyDate, nil
	case dicom.TagAccessionNumber:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		return row.AccessionNumber, nil
	case dicom.TagModalitiesInStudy:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		return s.studyModalities(ctx, row.StudyInstanceUID)
	case dicom.TagNumberOfStudyRelatedSeries:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		series, _, err := s.studyCounts(ctx, row.StudyInstanceUID)
		return int(series), err
	case dicom.TagNumberOfStudyRelatedInstances:
		if rank < levelRank[levelStudy] {
			return nil, nil
		}
		_, instances, err := s.studyCounts(ctx, row.StudyInstanceUID)
		return int(instances), err

	case dicom.TagSeriesInstanceUID:
		if rank < levelRank[levelSeries] {
			return nil, nil
		}
		return row.SeriesInstanceUID, nil
	case dicom.TagModality:
		if rank < levelRank[levelSeries] {
			return nil, nil
		}
		return row.Modality, nil
	case dicom.TagNumberOfSeriesRelatedInstances:
		if rank < levelRank[levelSeries] {
			return nil, nil
		}
		n, err := s.seriesCount(ctx, row.SeriesInstanceUID)
		return int(n), err

	case dicom.TagSOPInstanceUID:
		if rank < levelRank[levelImage] {
			return nil, nil
		}
		return row.SOPInstanceUID, nil
	case dicom.TagSOPClassUID:
		if rank < levelRank[levelImage] {
			return nil, nil
		}
		return row.SOPClassUID, nil
	case dicom.TagInstanceNumber:
		if rank < levelRank[levelImage] {
			return nil, nil
		}
		return row.InstanceNumber, nil
	}
	return nil, nil
}

type studyCountsPayload struct {
	Series    int64 `json:"series"`
	Instances int64 `json:"instances"`
}

// studyCounts returns cached study-level counting attributes.
func (s *QueryService) studyCounts(ctx context.Context, studyUID string) (int64, int64, error) {
	key := cache.StudyCountsKey(studyUID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var c studyCountsPayload
			if json.Unmarshal(raw, &c) == nil {
				return c.Series, c.Instances, nil
			}
		}
	}

	series, instances, err := s.index.StudyCounts(ctx, studyUID)
	if err != nil {
		return 0, 0, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(studyCountsPayload{Series: series, Instances: instances}); err == nil {
			s.cache.Set(ctx, key, raw, countsTTL)
		}
	}
	return series, instances, nil
}

// seriesCount returns the cached series instance count.
func (s *QueryService) seriesCount(ctx context.Context, seriesUID string) (int64, error) {
	key := cache.SeriesCountKey(seriesUID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var n int64
			if json.Unmarshal(raw, &n) == nil {
				return n, nil
			}
		}
	}

	n, err := s.index.SeriesCount(ctx, seriesUID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(n); err == nil {
			s.cache.Set(ctx, key, raw, countsTTL)
		}
	}
	return n, nil
}

// studyModalities returns the cached modality list of a study.
func (s *QueryService) studyModalities(ctx context.Context, studyUID string) ([]string, error) {
	key := cache.StudyModalitiesKey(studyUID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var m []string
			if json.Unmarshal(raw, &m) == nil {
				return m, nil
			}
		}
	}

	m, err := s.index.StudyModalities(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(m); err == nil {
			s.cache.Set(ctx, key, raw, countsTTL)
		}
	}
	return m, nil
}

// fileSource loads one stored instance from disk on demand.
type fileSource struct {
	row models.Instance
}

func (f *fileSource) SOPInstanceUID() string { return f.row.SOPInstanceUID }

func (f *fileSource) DataSet(_ context.Context) (*dicom.DataSet, error) {
	fh, err := os.Open(f.row.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance file: %w", err)
	}
	defer fh.Close()

	ds, err := dicom.ReadDataSet(dicom.NewScanner(fh))
	if err != nil {
		return nil, fmt.Errorf("failed to parse instance file: %w", err)
	}
	if ds == nil {
		return nil, fmt.Errorf("instance file %s is empty", f.row.FilePath)
	}
	return ds, nil
}
