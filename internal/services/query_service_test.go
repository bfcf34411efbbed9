package services

import (
	"context"
	"errors"
	"testing"

	"github.com/otcheredev/pacs-node/internal/cache"
	"github.com/otcheredev/pacs-node/internal/models"
	"github.com/otcheredev/pacs-node/internal/repository"
	"github.com/otcheredev/pacs-node/pkg/dicom"
	"github.com/otcheredev/pacs-node/pkg/dimse"
)

type fakeIndex struct {
	patients  []models.Instance
	studies   []models.Instance
	series    []models.Instance
	instances []models.Instance
	retrieve  []models.Instance

	studySeries    int64
	studyInstances int64
	seriesN        int64
	modalities     []string

	lastFilter   repository.InstanceFilter
	lastRetrieve repository.RetrieveFilter
	countCalls   int
}

func (f *fakeIndex) SearchPatients(_ context.Context, fl repository.InstanceFilter) ([]models.Instance, error) {
	f.lastFilter = fl
	return f.patients, nil
}

func (f *fakeIndex) SearchStudies(_ context.Context, fl repository.InstanceFilter) ([]models.Instance, error) {
	f.lastFilter = fl
	return f.studies, nil
}

func (f *fakeIndex) SearchSeries(_ context.Context, fl repository.InstanceFilter) ([]models.Instance, error) {
	f.lastFilter = fl
	return f.series, nil
}

func (f *fakeIndex) SearchInstances(_ context.Context, fl repository.InstanceFilter) ([]models.Instance, error) {
	f.lastFilter = fl
	return f.instances, nil
}

func (f *fakeIndex) StudyCounts(_ context.Context, _ string) (int64, int64, error) {
	f.countCalls++
	return f.studySeries, f.studyInstances, nil
}

func (f *fakeIndex) SeriesCount(_ context.Context, _ string) (int64, error) {
	f.countCalls++
	return f.seriesN, nil
}

func (f *fakeIndex) StudyModalities(_ context.Context, _ string) ([]string, error) {
	return f.modalities, nil
}

func (f *fakeIndex) ListForRetrieve(_ context.Context, fl repository.RetrieveFilter) ([]models.Instance, error) {
	f.lastRetrieve = fl
	return f.retrieve, nil
}

func addElement(t *testing.T, ds *dicom.DataSet, tag dicom.Tag, value any) {
	t.Helper()
	el, err := dicom.NewElement(tag, value)
	if err != nil {
		t.Fatalf("NewElement(%s) => %v", tag, err)
	}
	ds.Add(el)
}

func TestQueryServiceFindDefaultsToStudy(t *testing.T) {
	idx := &fakeIndex{studies: []models.Instance{{
		StudyInstanceUID: "1.2.3",
		PatientName:      "DOE^JANE",
	}}}
	svc := NewQueryService(idx, nil, "PACS_NODE")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagPatientName, "DOE*")

	var matches []*dicom.DataSet
	err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(ds *dicom.DataSet) error {
		matches = append(matches, ds)
		return nil
	})
	if err != nil {
		t.Fatalf("Find => %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Find => %d matches, want 1", len(matches))
	}

	if level, _ := matches[0].GetString(dicom.TagQueryRetrieveLevel); level != "STUDY" {
		t.Errorf("QueryRetrieveLevel => %q, want STUDY", level)
	}
	if uid, _ := matches[0].GetString(dicom.TagStudyInstanceUID); uid != "1.2.3" {
		t.Errorf("StudyInstanceUID => %q, want 1.2.3", uid)
	}
	if name, _ := matches[0].GetString(dicom.TagPatientName); name != "DOE^JANE" {
		t.Errorf("PatientName => %q, want DOE^JANE", name)
	}
	if idx.lastFilter.PatientName != "DOE*" {
		t.Errorf("filter PatientName => %q, want DOE*", idx.lastFilter.PatientName)
	}
}

func TestQueryServiceFindNormalizesBareWildcard(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagPatientName, "*")

	if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(*dicom.DataSet) error {
		return nil
	}); err != nil {
		t.Fatalf("Find => %v", err)
	}
	if idx.lastFilter.PatientName != "" {
		t.Errorf("filter PatientName => %q, want empty for bare wildcard", idx.lastFilter.PatientName)
	}
}

func TestQueryServiceFindRejectsUnknownLevel(t *testing.T) {
	svc := NewQueryService(&fakeIndex{}, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "WORKLIST")

	err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(*dicom.DataSet) error {
		return nil
	})
	var svcErr *dimse.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Status != dimse.StatusIdentifierMismatch {
		t.Fatalf("Find => %v, want identifier mismatch", err)
	}
}

func TestQueryServiceFindRejectsMissingIdentifier(t *testing.T) {
	svc := NewQueryService(&fakeIndex{}, nil, "")

	err := svc.Find(context.Background(), dimse.Query{}, func(*dicom.DataSet) error {
		return nil
	})
	var svcErr *dimse.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Status != dimse.StatusIdentifierMismatch {
		t.Fatalf("Find => %v, want identifier mismatch", err)
	}
}

func TestQueryServiceFindFillsStudyCounts(t *testing.T) {
	idx := &fakeIndex{
		studies:        []models.Instance{{StudyInstanceUID: "1.2.3"}},
		studySeries:    2,
		studyInstances: 54,
		modalities:     []string{"CT", "SR"},
	}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "STUDY")
	addElement(t, req, dicom.TagNumberOfStudyRelatedSeries, nil)
	addElement(t, req, dicom.TagNumberOfStudyRelatedInstances, nil)
	addElement(t, req, dicom.TagModalitiesInStudy, nil)

	var match *dicom.DataSet
	if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(ds *dicom.DataSet) error {
		match = ds
		return nil
	}); err != nil {
		t.Fatalf("Find => %v", err)
	}

	if n, ok, _ := match.GetInt(dicom.TagNumberOfStudyRelatedSeries); !ok || n != 2 {
		t.Errorf("NumberOfStudyRelatedSeries => %d (%v), want 2", n, ok)
	}
	if n, ok, _ := match.GetInt(dicom.TagNumberOfStudyRelatedInstances); !ok || n != 54 {
		t.Errorf("NumberOfStudyRelatedInstances => %d (%v), want 54", n, ok)
	}
	mods, _ := match.GetStrings(dicom.TagModalitiesInStudy)
	if len(mods) != 2 || mods[0] != "CT" || mods[1] != "SR" {
		t.Errorf("ModalitiesInStudy => %v, want [CT SR]", mods)
	}
}

func TestQueryServiceFindSeriesLevel(t *testing.T) {
	idx := &fakeIndex{
		series: []models.Instance{{
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: "1.2.3.1",
			Modality:          "CT",
		}},
		seriesN: 10,
	}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "SERIES")
	addElement(t, req, dicom.TagStudyInstanceUID, "1.2.3")
	addElement(t, req, dicom.TagModality, nil)
	addElement(t, req, dicom.TagNumberOfSeriesRelatedInstances, nil)
	addElement(t, req, dicom.TagSOPInstanceUID, nil)

	var match *dicom.DataSet
	if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(ds *dicom.DataSet) error {
		match = ds
		return nil
	}); err != nil {
		t.Fatalf("Find => %v", err)
	}

	if uid, _ := match.GetString(dicom.TagSeriesInstanceUID); uid != "1.2.3.1" {
		t.Errorf("SeriesInstanceUID => %q, want 1.2.3.1", uid)
	}
	if mod, _ := match.GetString(dicom.TagModality); mod != "CT" {
		t.Errorf("Modality => %q, want CT", mod)
	}
	if n, ok, _ := match.GetInt(dicom.TagNumberOfSeriesRelatedInstances); !ok || n != 10 {
		t.Errorf("NumberOfSeriesRelatedInstances => %d (%v), want 10", n, ok)
	}

	// Keys below the query level are echoed empty, not omitted.
	el, ok := match.Get(dicom.TagSOPInstanceUID)
	if !ok {
		t.Fatal("SOPInstanceUID missing from match")
	}
	if v, _ := el.StringValue(); v != "" {
		t.Errorf("SOPInstanceUID => %q, want empty below IMAGE level", v)
	}
}

func TestQueryServiceFindInstanceAliasesImage(t *testing.T) {
	idx := &fakeIndex{instances: []models.Instance{{
		SOPInstanceUID: "1.2.3.1.1",
		SOPClassUID:    dimse.CTImageStorage,
	}}}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "INSTANCE")
	addElement(t, req, dicom.TagSOPClassUID, nil)

	var match *dicom.DataSet
	if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(ds *dicom.DataSet) error {
		match = ds
		return nil
	}); err != nil {
		t.Fatalf("Find => %v", err)
	}

	if level, _ := match.GetString(dicom.TagQueryRetrieveLevel); level != "IMAGE" {
		t.Errorf("QueryRetrieveLevel => %q, want IMAGE", level)
	}
	if uid, _ := match.GetString(dicom.TagSOPInstanceUID); uid != "1.2.3.1.1" {
		t.Errorf("SOPInstanceUID => %q, want 1.2.3.1.1", uid)
	}
	if class, _ := match.GetString(dicom.TagSOPClassUID); class != dimse.CTImageStorage {
		t.Errorf("SOPClassUID => %q, want %q", class, dimse.CTImageStorage)
	}
}

func TestQueryServiceFindRetrieveAETitle(t *testing.T) {
	idx := &fakeIndex{studies: []models.Instance{{StudyInstanceUID: "1.2.3"}}}
	svc := NewQueryService(idx, nil, "ARCHIVE01")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "STUDY")
	addElement(t, req, dicom.TagRetrieveAETitle, nil)

	var match *dicom.DataSet
	if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(ds *dicom.DataSet) error {
		match = ds
		return nil
	}); err != nil {
		t.Fatalf("Find => %v", err)
	}

	if ae, _ := match.GetString(dicom.TagRetrieveAETitle); ae != "ARCHIVE01" {
		t.Errorf("RetrieveAETitle => %q, want ARCHIVE01", ae)
	}
}

func TestQueryServiceFindStopsOnCallbackError(t *testing.T) {
	idx := &fakeIndex{studies: []models.Instance{
		{StudyInstanceUID: "1.2.3"},
		{StudyInstanceUID: "1.2.4"},
	}}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "STUDY")

	stop := errors.New("peer cancelled")
	calls := 0
	err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(*dicom.DataSet) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Find => %v, want callback error", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestQueryServiceCachesCounts(t *testing.T) {
	idx := &fakeIndex{
		studies:        []models.Instance{{StudyInstanceUID: "1.2.3"}},
		studySeries:    1,
		studyInstances: 2,
	}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	svc := NewQueryService(idx, mc, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "STUDY")
	addElement(t, req, dicom.TagNumberOfStudyRelatedInstances, nil)

	for i := 0; i < 2; i++ {
		if err := svc.Find(context.Background(), dimse.Query{Identifier: req}, func(*dicom.DataSet) error {
			return nil
		}); err != nil {
			t.Fatalf("Find #%d => %v", i+1, err)
		}
	}

	if idx.countCalls != 1 {
		t.Errorf("StudyCounts calls => %d, want 1 with warm cache", idx.countCalls)
	}
}

func TestQueryServiceRetrieveStudyLevel(t *testing.T) {
	idx := &fakeIndex{retrieve: []models.Instance{
		{SOPInstanceUID: "1.2.3.1.1"},
		{SOPInstanceUID: "1.2.3.1.2"},
	}}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "STUDY")
	addElement(t, req, dicom.TagStudyInstanceUID, []string{"1.2.3", "1.2.4"})

	sources, err := svc.Retrieve(context.Background(), dimse.Query{Identifier: req})
	if err != nil {
		t.Fatalf("Retrieve => %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("Retrieve => %d sources, want 2", len(sources))
	}
	if sources[0].SOPInstanceUID() != "1.2.3.1.1" {
		t.Errorf("source SOPInstanceUID => %q, want 1.2.3.1.1", sources[0].SOPInstanceUID())
	}

	want := []string{"1.2.3", "1.2.4"}
	if len(idx.lastRetrieve.StudyUIDs) != 2 ||
		idx.lastRetrieve.StudyUIDs[0] != want[0] ||
		idx.lastRetrieve.StudyUIDs[1] != want[1] {
		t.Errorf("retrieve StudyUIDs => %v, want %v", idx.lastRetrieve.StudyUIDs, want)
	}
}

func TestQueryServiceRetrieveImageLevelScoped(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewQueryService(idx, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "IMAGE")
	addElement(t, req, dicom.TagStudyInstanceUID, "1.2.3")
	addElement(t, req, dicom.TagSeriesInstanceUID, "1.2.3.1")
	addElement(t, req, dicom.TagSOPInstanceUID, "1.2.3.1.1")

	if _, err := svc.Retrieve(context.Background(), dimse.Query{Identifier: req}); err != nil {
		t.Fatalf("Retrieve => %v", err)
	}

	f := idx.lastRetrieve
	if len(f.SOPUIDs) != 1 || f.SOPUIDs[0] != "1.2.3.1.1" {
		t.Errorf("retrieve SOPUIDs => %v, want [1.2.3.1.1]", f.SOPUIDs)
	}
	if len(f.SeriesUIDs) != 1 || len(f.StudyUIDs) != 1 {
		t.Errorf("retrieve scoping => series %v study %v, want both populated", f.SeriesUIDs, f.StudyUIDs)
	}
}

func TestQueryServiceRetrieveRequiresUniqueKey(t *testing.T) {
	svc := NewQueryService(&fakeIndex{}, nil, "")

	req := dicom.NewDataSet()
	addElement(t, req, dicom.TagQueryRetrieveLevel, "IMAGE")

	_, err := svc.Retrieve(context.Background(), dimse.Query{Identifier: req})
	var svcErr *dimse.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Status != dimse.StatusIdentifierMismatch {
		t.Fatalf("Retrieve => %v, want identifier mismatch", err)
	}
}
