package dicom

import (
	"reflect"
	"testing"
)

func TestDataSetAccessors(t *testing.T) {
	item := NewDataSet()
	item.Add(mustElement(t, TagSeriesInstanceUID, "9.8.7"))

	ds := NewDataSet()
	ds.Add(mustElement(t, TagPatientName, "DOE^JOHN"))
	ds.Add(mustElement(t, Tag{0x0008, 0x0008}, []string{"ORIGINAL", "PRIMARY"}))
	ds.Add(mustElement(t, Tag{0x0028, 0x0010}, uint16(512)))
	ds.Add(mustElement(t, Tag{0x0020, 0x1208}, 17))
	ds.Add(mustElement(t, Tag{0x0008, 0x1115}, []*DataSet{item}))

	if got, err := ds.GetString(TagPatientName); err != nil || got != "DOE^JOHN" {
		t.Errorf("GetString => (%q, %v), want DOE^JOHN", got, err)
	}
	if got, err := ds.GetString(TagPatientID); err != nil || got != "" {
		t.Errorf("GetString(absent) => (%q, %v), want empty and nil", got, err)
	}
	if got, err := ds.GetStrings(Tag{0x0008, 0x0008}); err != nil || !reflect.DeepEqual(got, []string{"ORIGINAL", "PRIMARY"}) {
		t.Errorf("GetStrings => (%v, %v)", got, err)
	}
	if v, ok, err := ds.GetUint16(Tag{0x0028, 0x0010}); err != nil || !ok || v != 512 {
		t.Errorf("GetUint16 => (%d, %v, %v), want 512", v, ok, err)
	}
	if _, ok, err := ds.GetUint16(Tag{0x0028, 0x0011}); ok || err != nil {
		t.Errorf("GetUint16(absent) => (_, %v, %v), want not found", ok, err)
	}
	if n, ok, err := ds.GetInt(Tag{0x0020, 0x1208}); err != nil || !ok || n != 17 {
		t.Errorf("GetInt => (%d, %v, %v), want 17", n, ok, err)
	}
	items := ds.GetSequence(Tag{0x0008, 0x1115})
	if len(items) != 1 {
		t.Fatalf("GetSequence => %d items, want 1", len(items))
	}
	if got, _ := items[0].GetString(TagSeriesInstanceUID); got != "9.8.7" {
		t.Errorf("nested GetString => %q, want 9.8.7", got)
	}
	if _, ok := ds.Get(TagPixelData); ok {
		t.Error("Get(absent) => found")
	}
}

func TestNilDataSetIsEmpty(t *testing.T) {
	var ds *DataSet
	if ds.Len() != 0 {
		t.Errorf("nil Len => %d", ds.Len())
	}
	if _, ok := ds.Get(TagPatientName); ok {
		t.Error("nil Get => found")
	}
	if got, err := ds.GetString(TagPatientName); err != nil || got != "" {
		t.Errorf("nil GetString => (%q, %v)", got, err)
	}
}

func TestStringValuesRejectsBinaryVR(t *testing.T) {
	el := mustElement(t, Tag{0x0028, 0x0010}, uint16(1))
	if _, err := el.StringValues(); err == nil {
		t.Error("StringValues on US => nil error, want type error")
	}
}

func TestElementEmptyValues(t *testing.T) {
	text, err := NewElement(TagPatientName, nil)
	if err != nil {
		t.Fatalf("NewElement => %v", err)
	}
	v, err := text.Value()
	if err != nil {
		t.Fatalf("Value => %v", err)
	}
	if !reflect.DeepEqual(v, []string{}) {
		t.Errorf("empty PN value => %#v, want []string{}", v)
	}

	num, err := NewElement(Tag{0x0028, 0x0010}, nil)
	if err != nil {
		t.Fatalf("NewElement => %v", err)
	}
	nv, err := num.Value()
	if err != nil {
		t.Fatalf("Value => %v", err)
	}
	if !reflect.DeepEqual(nv, []uint16{}) {
		t.Errorf("empty US value => %#v, want []uint16{}", nv)
	}
}
