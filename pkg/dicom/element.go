package dicom

import (
	"encoding/binary"
	"math"
	"strings"

	"golang.org/x/text/encoding"
)

// UndefinedLength is the length sentinel marking a sequence or item whose end
// is located by an explicit delimitation element rather than a byte count.
const UndefinedLength uint32 = 0xFFFFFFFF

// Element is one data element as read from a stream: its tag, resolved VR,
// declared length, and the raw value bytes. Typed values are not produced
// during iteration; call Value (or one of the dataset accessors) to decode.
type Element struct {
	Tag    Tag
	VR     *VR
	Length uint32

	// Items holds the nested datasets of a sequence element. Nil for
	// non-sequence VRs.
	Items []*DataSet

	// Fragments holds the items of an undefined-length non-sequence element
	// (encapsulated pixel data). The first fragment is the basic offset table,
	// possibly empty.
	Fragments [][]byte

	raw     []byte
	order   binary.ByteOrder
	enc     encoding.Encoding
	skipped bool
}

// RawValue returns the undecoded value bytes as read from the stream. Nil for
// sequences and for elements whose value was never read due to a stop
// condition.
func (e *Element) RawValue() []byte { return e.raw }

// Value decodes the element's raw bytes into its typed representation:
// []string for text and UID VRs, the matching numeric slice for binary VRs,
// []Tag for AT, []byte for bulk VRs, and []*DataSet for sequences. Zero-length
// elements decode to an empty value of the proper type.
func (e *Element) Value() (any, error) {
	if e.skipped {
		return nil, parseErrorWrap(0, e.Tag, ErrValueNotRead)
	}
	if e.VR == nil {
		return e.raw, nil
	}
	switch e.VR.kind {
	case vrKindSequence:
		return e.Items, nil
	case vrKindBytes:
		if e.Fragments != nil {
			return e.Fragments, nil
		}
		// Multi-byte bulk values are normalized to little endian word order.
		if w := e.VR.byteWidth(); w > 1 && e.byteOrder() != binary.ByteOrder(binary.LittleEndian) {
			return swapBytes(e.raw, w), nil
		}
		if e.raw == nil {
			return []byte{}, nil
		}
		return e.raw, nil
	case vrKindText, vrKindUID:
		s, err := decodeText(e.raw, e.enc)
		if err != nil {
			return nil, parseErrorWrap(0, e.Tag, err)
		}
		s = strings.TrimRight(s, " \x00")
		if s == "" {
			return []string{}, nil
		}
		return strings.Split(s, `\`), nil
	case vrKindLongText:
		s, err := decodeText(e.raw, e.enc)
		if err != nil {
			return nil, parseErrorWrap(0, e.Tag, err)
		}
		s = strings.TrimRight(s, " \x00")
		if s == "" {
			return []string{}, nil
		}
		return []string{s}, nil
	case vrKindInt16:
		out := make([]int16, len(e.raw)/2)
		for i := range out {
			out[i] = int16(e.byteOrder().Uint16(e.raw[i*2:]))
		}
		return out, nil
	case vrKindUint16:
		out := make([]uint16, len(e.raw)/2)
		for i := range out {
			out[i] = e.byteOrder().Uint16(e.raw[i*2:])
		}
		return out, nil
	case vrKindInt32:
		out := make([]int32, len(e.raw)/4)
		for i := range out {
			out[i] = int32(e.byteOrder().Uint32(e.raw[i*4:]))
		}
		return out, nil
	case vrKindUint32:
		out := make([]uint32, len(e.raw)/4)
		for i := range out {
			out[i] = e.byteOrder().Uint32(e.raw[i*4:])
		}
		return out, nil
	case vrKindInt64:
		out := make([]int64, len(e.raw)/8)
		for i := range out {
			out[i] = int64(e.byteOrder().Uint64(e.raw[i*8:]))
		}
		return out, nil
	case vrKindUint64:
		out := make([]uint64, len(e.raw)/8)
		for i := range out {
			out[i] = e.byteOrder().Uint64(e.raw[i*8:])
		}
		return out, nil
	case vrKindFloat32:
		out := make([]float32, len(e.raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(e.byteOrder().Uint32(e.raw[i*4:]))
		}
		return out, nil
	case vrKindFloat64:
		out := make([]float64, len(e.raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(e.byteOrder().Uint64(e.raw[i*8:]))
		}
		return out, nil
	case vrKindTag:
		out := make([]Tag, len(e.raw)/4)
		for i := range out {
			out[i] = Tag{
				Group:   e.byteOrder().Uint16(e.raw[i*4:]),
				Element: e.byteOrder().Uint16(e.raw[i*4+2:]),
			}
		}
		return out, nil
	}
	return e.raw, nil
}

// StringValues decodes a text or UID element into its values.
func (e *Element) StringValues() ([]string, error) {
	if e.VR == nil || !e.VR.isString() {
		return nil, parseErrorf(0, e.Tag, "VR %s does not hold strings", e.vrName())
	}
	v, err := e.Value()
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// StringValue decodes a text element and returns its first value, or "" when
// the element is empty.
func (e *Element) StringValue() (string, error) {
	vals, err := e.StringValues()
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", nil
	}
	return vals[0], nil
}

func (e *Element) byteOrder() binary.ByteOrder {
	if e.order == nil {
		return binary.LittleEndian
	}
	return e.order
}

func (e *Element) vrName() string {
	if e.VR == nil {
		return "??"
	}
	return e.VR.Name
}
