package dicom

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"sort"
	"strconv"
)

// Identification the writer and the association layer present to peers.
const (
	ImplementationClassUID     = "1.2.826.0.1.3680043.10.1081.1"
	ImplementationVersionName  = "PACSNODE_010"
	fileMetaInformationVersion = "\x00\x01"
)

// NewElement builds an element for the given tag with the VR the dictionary
// assigns it. See NewElementVR for the accepted value types.
func NewElement(tag Tag, value any) (*Element, error) {
	return NewElementVR(tag, vrOf(tag), value)
}

// NewElementVR builds an element with an explicit VR. Accepted value types
// depend on the VR: string or []string for text and UID VRs (an int is
// formatted for convenience), the matching numeric slice or a single value for
// binary VRs, Tag or []Tag for AT, []byte for bulk VRs ([][]byte builds an
// encapsulated element), and *DataSet or []*DataSet for SQ. A nil value builds
// a zero-length element.
func NewElementVR(tag Tag, vr *VR, value any) (*Element, error) {
	el := &Element{Tag: tag, VR: vr, order: binary.LittleEndian}
	if value == nil {
		el.raw = []byte{}
		return el, nil
	}

	switch vr.kind {
	case vrKindSequence:
		switch v := value.(type) {
		case *DataSet:
			el.Items = []*DataSet{v}
		case []*DataSet:
			el.Items = v
		default:
			return nil, writeErrorf(tag, "SQ value must be a dataset, got %T", value)
		}
		return el, nil

	case vrKindBytes:
		switch v := value.(type) {
		case []byte:
			el.raw = padValue(v, vr.paddingByte())
		case [][]byte:
			el.Fragments = v
			el.Length = UndefinedLength
		default:
			return nil, writeErrorf(tag, "%s value must be bytes, got %T", vr.Name, value)
		}
		return el, nil

	case vrKindText, vrKindLongText, vrKindUID:
		s, err := joinStrings(tag, value)
		if err != nil {
			return nil, err
		}
		raw, err := defaultRepertoire.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, &WriteError{Tag: tag, Msg: "encode text", Err: err}
		}
		el.raw = padValue(raw, vr.paddingByte())
		return el, nil

	case vrKindTag:
		var tags []Tag
		switch v := value.(type) {
		case Tag:
			tags = []Tag{v}
		case []Tag:
			tags = v
		default:
			return nil, writeErrorf(tag, "AT value must be a tag, got %T", value)
		}
		raw := make([]byte, 0, len(tags)*4)
		var b [4]byte
		for _, t := range tags {
			binary.LittleEndian.PutUint16(b[0:], t.Group)
			binary.LittleEndian.PutUint16(b[2:], t.Element)
			raw = append(raw, b[:]...)
		}
		el.raw = raw
		return el, nil
	}

	v, err := numericValue(tag, vr, value)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, &WriteError{Tag: tag, Msg: "encode value", Err: err}
	}
	el.raw = buf.Bytes()
	return el, nil
}

func joinStrings(tag Tag, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []string:
		out := ""
		for i, s := range v {
			if i > 0 {
				out += `\`
			}
			out += s
		}
		return out, nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", writeErrorf(tag, "text value must be a string, got %T", value)
	}
}

// numericValue coerces value to the fixed-size slice binary.Write expects for
// the VR's kind.
func numericValue(tag Tag, vr *VR, value any) (any, error) {
	switch vr.kind {
	case vrKindUint16:
		switch v := value.(type) {
		case uint16:
			return []uint16{v}, nil
		case int:
			return []uint16{uint16(v)}, nil
		case []uint16:
			return v, nil
		}
	case vrKindInt16:
		switch v := value.(type) {
		case int16:
			return []int16{v}, nil
		case int:
			return []int16{int16(v)}, nil
		case []int16:
			return v, nil
		}
	case vrKindUint32:
		switch v := value.(type) {
		case uint32:
			return []uint32{v}, nil
		case int:
			return []uint32{uint32(v)}, nil
		case []uint32:
			return v, nil
		}
	case vrKindInt32:
		switch v := value.(type) {
		case int32:
			return []int32{v}, nil
		case int:
			return []int32{int32(v)}, nil
		case []int32:
			return v, nil
		}
	case vrKindUint64:
		switch v := value.(type) {
		case uint64:
			return []uint64{v}, nil
		case int:
			return []uint64{uint64(v)}, nil
		case []uint64:
			return v, nil
		}
	case vrKindInt64:
		switch v := value.(type) {
		case int64:
			return []int64{v}, nil
		case int:
			return []int64{int64(v)}, nil
		case []int64:
			return v, nil
		}
	case vrKindFloat32:
		switch v := value.(type) {
		case float32:
			return []float32{v}, nil
		case []float32:
			return v, nil
		}
	case vrKindFloat64:
		switch v := value.(type) {
		case float64:
			return []float64{v}, nil
		case []float64:
			return v, nil
		}
	}
	return nil, writeErrorf(tag, "%s value has unsupported type %T", vr.Name, value)
}

func padValue(raw []byte, pad byte) []byte {
	if len(raw)%2 == 0 {
		return raw
	}
	return append(raw, pad)
}

// byteWidth is the size of one machine unit of the VR's value, used to swap
// between byte orders. Text and single-byte bulk VRs are order independent.
func (v *VR) byteWidth() int {
	switch v.kind {
	case vrKindInt16, vrKindUint16, vrKindTag:
		return 2
	case vrKindInt32, vrKindUint32, vrKindFloat32:
		return 4
	case vrKindInt64, vrKindUint64, vrKindFloat64:
		return 8
	case vrKindBytes:
		switch v.Name {
		case "OW":
			return 2
		case "OF", "OL":
			return 4
		case "OD", "OV":
			return 8
		}
	}
	return 1
}

// WriteDataSet encodes ds to w in the given transfer syntax. Elements are
// written in the order the dataset holds them; nested sequence and item
// lengths are recomputed, with parsed undefined-length sequences re-emitted in
// the delimited form.
func WriteDataSet(w io.Writer, ds *DataSet, ts *TransferSyntax) error {
	if ts.Deflated {
		fw, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return &WriteError{Msg: "deflate", Err: err}
		}
		if err := writeElements(fw, ds, ts); err != nil {
			return err
		}
		if err := fw.Close(); err != nil {
			return &WriteError{Msg: "deflate flush", Err: err}
		}
		return nil
	}
	return writeElements(w, ds, ts)
}

func writeElements(w io.Writer, ds *DataSet, ts *TransferSyntax) error {
	if ds == nil {
		return nil
	}
	for _, el := range ds.Elements {
		if err := writeElement(w, el, ts); err != nil {
			return err
		}
	}
	return nil
}

func writeElement(w io.Writer, el *Element, ts *TransferSyntax) error {
	if el.skipped {
		return writeErrorf(el.Tag, "element value was never read")
	}
	if el.VR == nil {
		return writeErrorf(el.Tag, "element has no VR")
	}

	switch {
	case el.Fragments != nil:
		if err := writeHeader(w, el, ts, UndefinedLength); err != nil {
			return err
		}
		return writeFragments(w, el, ts)

	case el.Items != nil || el.VR.kind == vrKindSequence:
		if el.Length == UndefinedLength {
			if err := writeHeader(w, el, ts, UndefinedLength); err != nil {
				return err
			}
			return writeItemsUndefined(w, el, ts)
		}
		body, err := renderItemsDefined(el, ts)
		if err != nil {
			return err
		}
		if err := writeHeader(w, el, ts, uint32(len(body))); err != nil {
			return err
		}
		return writeRaw(w, el.Tag, body)

	default:
		raw := el.raw
		if width := el.VR.byteWidth(); width > 1 && el.byteOrder() != ts.Order {
			raw = swapBytes(raw, width)
		}
		if len(raw)%2 != 0 {
			return &WriteError{Tag: el.Tag, Err: ErrOddLength}
		}
		if err := writeHeader(w, el, ts, uint32(len(raw))); err != nil {
			return err
		}
		return writeRaw(w, el.Tag, raw)
	}
}

// writeHeader emits the tag, the VR code for explicit syntaxes, and the length
// field in its short or long form.
func writeHeader(w io.Writer, el *Element, ts *TransferSyntax, length uint32) error {
	var buf [12]byte
	ts.Order.PutUint16(buf[0:], el.Tag.Group)
	ts.Order.PutUint16(buf[2:], el.Tag.Element)

	if !ts.Explicit {
		ts.Order.PutUint32(buf[4:], length)
		return writeRaw(w, el.Tag, buf[:8])
	}

	copy(buf[4:6], el.VR.Name)
	if el.VR.longForm {
		buf[6], buf[7] = 0, 0
		ts.Order.PutUint32(buf[8:], length)
		return writeRaw(w, el.Tag, buf[:12])
	}
	if length > 0xFFFF {
		return writeErrorf(el.Tag, "%s value of %d bytes exceeds the short length field", el.VR.Name, length)
	}
	ts.Order.PutUint16(buf[6:], uint16(length))
	return writeRaw(w, el.Tag, buf[:8])
}

func writeItemsUndefined(w io.Writer, el *Element, ts *TransferSyntax) error {
	itemTS := ts
	if el.VR == UNVR {
		itemTS = ImplicitVRLittleEndian
	}
	for _, item := range el.Items {
		if err := writeDelimiter(w, TagItem, ts, UndefinedLength); err != nil {
			return err
		}
		if err := writeElements(w, item, itemTS); err != nil {
			return err
		}
		if err := writeDelimiter(w, TagItemDelimitationItem, ts, 0); err != nil {
			return err
		}
	}
	return writeDelimiter(w, TagSequenceDelimitationItem, ts, 0)
}

func renderItemsDefined(el *Element, ts *TransferSyntax) ([]byte, error) {
	itemTS := ts
	if el.VR == UNVR {
		itemTS = ImplicitVRLittleEndian
	}
	buf := new(bytes.Buffer)
	for _, item := range el.Items {
		body := new(bytes.Buffer)
		if err := writeElements(body, item, itemTS); err != nil {
			return nil, err
		}
		if err := writeDelimiter(buf, TagItem, ts, uint32(body.Len())); err != nil {
			return nil, err
		}
		buf.Write(body.Bytes())
	}
	return buf.Bytes(), nil
}

func writeFragments(w io.Writer, el *Element, ts *TransferSyntax) error {
	for _, frag := range el.Fragments {
		if len(frag)%2 != 0 {
			return &WriteError{Tag: el.Tag, Msg: "fragment", Err: ErrOddLength}
		}
		if err := writeDelimiter(w, TagItem, ts, uint32(len(frag))); err != nil {
			return err
		}
		if err := writeRaw(w, el.Tag, frag); err != nil {
			return err
		}
	}
	return writeDelimiter(w, TagSequenceDelimitationItem, ts, 0)
}

func writeDelimiter(w io.Writer, tag Tag, ts *TransferSyntax, length uint32) error {
	var buf [8]byte
	ts.Order.PutUint16(buf[0:], tag.Group)
	ts.Order.PutUint16(buf[2:], tag.Element)
	ts.Order.PutUint32(buf[4:], length)
	return writeRaw(w, tag, buf[:])
}

func writeRaw(w io.Writer, tag Tag, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return &WriteError{Tag: tag, Msg: "write", Err: err}
	}
	return nil
}

func swapBytes(raw []byte, width int) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	for i := 0; i+width <= len(out); i += width {
		for a, b := i, i+width-1; a < b; a, b = a+1, b-1 {
			out[a], out[b] = out[b], out[a]
		}
	}
	return out
}

// WriteOption configures WriteFile.
type WriteOption func(*writeConfig)

type writeConfig struct {
	ts   *TransferSyntax
	meta *DataSet
}

// WithWriteTransferSyntax selects the transfer syntax for the dataset body.
// The file meta group is rewritten to declare it.
func WithWriteTransferSyntax(ts *TransferSyntax) WriteOption {
	return func(c *writeConfig) { c.ts = ts }
}

// WithFileMeta supplies the file meta group to write instead of synthesizing
// one from the dataset. The group length element is recomputed either way.
func WithFileMeta(meta *DataSet) WriteOption {
	return func(c *writeConfig) { c.meta = meta }
}

// WriteFile encodes ds as a Part-10 stream: 128 zero bytes, the DICM magic,
// the file meta group in Explicit VR Little Endian, then the body in the
// configured transfer syntax. Without options the body is written in Explicit
// VR Little Endian, or in the syntax a supplied file meta declares.
func WriteFile(w io.Writer, ds *DataSet, opts ...WriteOption) error {
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ts := cfg.ts
	if ts == nil && cfg.meta != nil {
		if uid, err := cfg.meta.GetString(TagTransferSyntaxUID); err == nil && uid != "" {
			if known, ok := LookupTransferSyntax(uid); ok {
				ts = known
			}
		}
	}
	if ts == nil {
		ts = ExplicitVRLittleEndian
	}

	meta, err := buildFileMeta(cfg.meta, ds, ts)
	if err != nil {
		return err
	}

	var head [preambleSize + 4]byte
	copy(head[preambleSize:], "DICM")
	if err := writeRaw(w, Tag{}, head[:]); err != nil {
		return err
	}
	if err := writeElements(w, meta, ExplicitVRLittleEndian); err != nil {
		return err
	}
	return WriteDataSet(w, ds, ts)
}

// buildFileMeta assembles the meta group to write: the caller's group or one
// synthesized from the dataset, with TransferSyntaxUID forced to the effective
// syntax and the group length recomputed.
func buildFileMeta(meta, ds *DataSet, ts *TransferSyntax) (*DataSet, error) {
	group := NewDataSet()
	if meta != nil {
		for _, el := range meta.Elements {
			switch el.Tag {
			case TagFileMetaInformationGroupLength, TagTransferSyntaxUID:
				continue
			}
			group.Add(el)
		}
		tsEl, err := NewElement(TagTransferSyntaxUID, ts.UID)
		if err != nil {
			return nil, err
		}
		group.Add(tsEl)
		// The group must stay in ascending tag order after the rewrite.
		sort.Slice(group.Elements, func(i, j int) bool {
			return group.Elements[i].Tag.Compare(group.Elements[j].Tag) < 0
		})
	} else {
		sopClass, _ := ds.GetString(TagSOPClassUID)
		sopInstance, _ := ds.GetString(TagSOPInstanceUID)
		fields := []struct {
			tag   Tag
			value any
		}{
			{TagFileMetaInformationVersion, []byte(fileMetaInformationVersion)},
			{TagMediaStorageSOPClassUID, sopClass},
			{TagMediaStorageSOPInstanceUID, sopInstance},
			{TagTransferSyntaxUID, ts.UID},
			{TagImplementationClassUID, ImplementationClassUID},
			{TagImplementationVersionName, ImplementationVersionName},
		}
		for _, f := range fields {
			el, err := NewElement(f.tag, f.value)
			if err != nil {
				return nil, err
			}
			group.Add(el)
		}
	}

	body := new(bytes.Buffer)
	if err := writeElements(body, group, ExplicitVRLittleEndian); err != nil {
		return nil, err
	}
	lenEl, err := NewElement(TagFileMetaInformationGroupLength, uint32(body.Len()))
	if err != nil {
		return nil, err
	}
	out := NewDataSet()
	out.Add(lenEl)
	for _, el := range group.Elements {
		out.Add(el)
	}
	return out, nil
}
