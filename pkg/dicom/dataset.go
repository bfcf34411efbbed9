package dicom

import (
	"io"
	"strconv"
	"strings"
)

// DataSet is the in-memory tree form of a dataset: an ordered element list in
// which sequence elements own nested item datasets. Element order is preserved
// exactly as read; re-serialization depends on it.
type DataSet struct {
	Elements []*Element
}

// NewDataSet returns an empty dataset.
func NewDataSet() *DataSet {
	return &DataSet{}
}

// Add appends an element, keeping insertion order.
func (ds *DataSet) Add(e *Element) {
	ds.Elements = append(ds.Elements, e)
}

// Len returns the number of top-level elements.
func (ds *DataSet) Len() int {
	if ds == nil {
		return 0
	}
	return len(ds.Elements)
}

// Get returns the first element with the given tag.
func (ds *DataSet) Get(tag Tag) (*Element, bool) {
	if ds == nil {
		return nil, false
	}
	for _, e := range ds.Elements {
		if e.Tag == tag {
			return e, true
		}
	}
	return nil, false
}

// GetString returns the first string value of the element with the given tag,
// or "" when the element is absent or empty.
func (ds *DataSet) GetString(tag Tag) (string, error) {
	e, ok := ds.Get(tag)
	if !ok {
		return "", nil
	}
	return e.StringValue()
}

// GetStrings returns all string values of the element with the given tag, or
// nil when absent.
func (ds *DataSet) GetStrings(tag Tag) ([]string, error) {
	e, ok := ds.Get(tag)
	if !ok {
		return nil, nil
	}
	return e.StringValues()
}

// GetUint16 returns the first US value of the element with the given tag.
func (ds *DataSet) GetUint16(tag Tag) (uint16, bool, error) {
	e, ok := ds.Get(tag)
	if !ok {
		return 0, false, nil
	}
	v, err := e.Value()
	if err != nil {
		return 0, false, err
	}
	vals, ok := v.([]uint16)
	if !ok || len(vals) == 0 {
		return 0, false, parseErrorf(0, tag, "expected US value")
	}
	return vals[0], true, nil
}

// GetUint32 returns the first UL value of the element with the given tag.
func (ds *DataSet) GetUint32(tag Tag) (uint32, bool, error) {
	e, ok := ds.Get(tag)
	if !ok {
		return 0, false, nil
	}
	v, err := e.Value()
	if err != nil {
		return 0, false, err
	}
	vals, ok := v.([]uint32)
	if !ok || len(vals) == 0 {
		return 0, false, parseErrorf(0, tag, "expected UL value")
	}
	return vals[0], true, nil
}

// GetInt parses the first value of an IS element as an integer. IS values may
// carry leading as well as trailing space padding.
func (ds *DataSet) GetInt(tag Tag) (int, bool, error) {
	s, err := ds.GetString(tag)
	if err != nil {
		return 0, false, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, parseErrorWrap(0, tag, err)
	}
	return n, true, nil
}

// GetSequence returns the item list of a sequence element, or nil when absent.
func (ds *DataSet) GetSequence(tag Tag) []*DataSet {
	e, ok := ds.Get(tag)
	if !ok {
		return nil
	}
	return e.Items
}

// ReadDataSet drains the scanner into a tree, honoring its stop condition. An
// empty stream (zero elements before EOF or stop) returns (nil, nil). Any
// element error aborts the build; no partially built tree is returned.
func ReadDataSet(s *Scanner) (*DataSet, error) {
	ds := NewDataSet()
	for {
		e, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ds.Add(e)
	}
	if ds.Len() == 0 {
		return nil, nil
	}
	return ds, nil
}
