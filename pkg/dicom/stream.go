package dicom

import (
	"bytes"
	"compress/flate"
	"io"

	"golang.org/x/text/encoding"
)

const preambleSize = 128

// ScanOption configures a Scanner.
type ScanOption func(*Scanner)

// WithStopBeforeTag stops iteration at the first top-level element with the
// given tag. The element is yielded with its tag, VR, and length, but its
// value bytes are not consumed from the stream and cannot be decoded.
func WithStopBeforeTag(t Tag) ScanOption {
	return func(s *Scanner) { s.stopBefore = &t }
}

// WithStopAfterTag stops iteration after the first top-level element with the
// given tag has been fully read.
func WithStopAfterTag(t Tag) ScanOption {
	return func(s *Scanner) { s.stopAfter = &t }
}

// WithTransferSyntax reads the stream as a bare dataset in the given syntax,
// with no preamble, magic, or file meta group. This is how datasets arriving
// over an association are parsed.
func WithTransferSyntax(ts *TransferSyntax) ScanOption {
	return func(s *Scanner) { s.forced = ts }
}

// Scanner reads a byte stream and yields data elements one at a time. It is
// forward-only and single-consumer; after an error the stream position is not
// recoverable and Next keeps returning the same error. A clean end of stream
// (or a satisfied stop condition) is reported as io.EOF.
type Scanner struct {
	rd  *reader
	src io.Reader

	ts   *TransferSyntax
	enc  encoding.Encoding
	meta *DataSet

	forced     *TransferSyntax
	stopBefore *Tag
	stopAfter  *Tag

	started bool
	done    bool
	err     error
}

// NewScanner returns a Scanner over r. Without options the stream is treated
// as a Part-10 file: an optional 128-byte preamble and DICM magic, a file meta
// group in Explicit VR Little Endian, then the body in the transfer syntax the
// meta declares.
func NewScanner(r io.Reader, opts ...ScanOption) *Scanner {
	s := &Scanner{src: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransferSyntax returns the syntax the dataset body is encoded in. It is not
// valid before the first call to Next or Meta.
func (s *Scanner) TransferSyntax() *TransferSyntax { return s.ts }

// Meta returns the file meta group, parsing the stream header if it has not
// been read yet. Nil for bare datasets.
func (s *Scanner) Meta() (*DataSet, error) {
	if err := s.start(); err != nil && err != io.EOF {
		return nil, err
	}
	return s.meta, nil
}

// Next returns the next top-level element, io.EOF at the end of the stream or
// once the configured stop condition has been satisfied, or the parse error
// that ended iteration.
func (s *Scanner) Next() (*Element, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.start(); err != nil {
		return nil, s.fail(err)
	}
	if s.done {
		return nil, io.EOF
	}

	tag, err := s.rd.tag(s.ts.Order)
	if err == io.EOF {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, s.fail(err)
	}
	if tag.IsDelimiter() {
		return nil, s.fail(parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter))
	}

	vr, length, err := s.readHeader(s.ts, tag)
	if err != nil {
		return nil, s.fail(err)
	}

	el := &Element{Tag: tag, VR: vr, Length: length, order: s.ts.Order, enc: s.enc}
	if s.stopBefore != nil && tag == *s.stopBefore {
		el.skipped = length > 0
		s.done = true
		return el, nil
	}
	if err := s.readValue(s.ts, el); err != nil {
		return nil, s.fail(err)
	}
	if s.stopAfter != nil && tag == *s.stopAfter {
		s.done = true
	}
	return el, nil
}

func (s *Scanner) fail(err error) error {
	if err != io.EOF {
		s.err = err
	}
	return err
}

// start consumes the stream header once: preamble detection, file meta parse,
// transfer syntax switch, deflate wrapping.
func (s *Scanner) start() error {
	if s.started {
		return nil
	}
	s.started = true

	if s.forced != nil {
		s.rd = newReader(s.src)
		s.ts = s.forced
		if s.forced.Deflated {
			s.rd.swap(flate.NewReader(s.rd.in))
		}
		return nil
	}

	head := make([]byte, preambleSize+4)
	n, err := io.ReadFull(s.src, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}
	head = head[:n]

	if n == preambleSize+4 && bytes.Equal(head[preambleSize:], []byte("DICM")) {
		s.rd = newReader(s.src)
		s.rd.offset = int64(n)
		return s.readFileMeta()
	}

	// No magic. Re-present the consumed bytes and decide between a headerless
	// meta group and a bare dataset.
	s.rd = newReader(io.MultiReader(bytes.NewReader(head), s.src))
	if n >= 4 && bytes.Equal(head[:4], []byte{0x02, 0x00, 0x00, 0x00}) {
		return s.readFileMeta()
	}
	if n == 0 {
		// Empty stream; the first Next will see a clean EOF.
		s.ts = ExplicitVRLittleEndian
		return nil
	}
	s.ts = sniffBareSyntax(head)
	return nil
}

// sniffBareSyntax guesses the syntax of a dataset with no file meta: if the
// bytes after the first tag form a known VR code the stream is Explicit VR,
// otherwise Implicit VR. Little endian either way.
func sniffBareSyntax(head []byte) *TransferSyntax {
	if len(head) >= 6 {
		if _, ok := VRByName(string(head[4:6])); ok {
			return ExplicitVRLittleEndian
		}
	}
	return ImplicitVRLittleEndian
}

func (s *Scanner) readFileMeta() error {
	metaTS := ExplicitVRLittleEndian

	tag, err := s.rd.tag(metaTS.Order)
	if err != nil {
		if err == io.EOF {
			return parseErrorWrap(s.rd.offset, Tag{}, ErrTruncated)
		}
		return err
	}
	if tag != TagFileMetaInformationGroupLength {
		return parseErrorf(s.rd.offset, tag, "expected FileMetaInformationGroupLength")
	}
	vr, length, err := s.readHeader(metaTS, tag)
	if err != nil {
		return err
	}
	groupLen := &Element{Tag: tag, VR: vr, Length: length, order: metaTS.Order}
	if err := s.readValue(metaTS, groupLen); err != nil {
		return err
	}
	v, err := groupLen.Value()
	if err != nil {
		return err
	}
	lens, ok := v.([]uint32)
	if !ok || len(lens) != 1 {
		return parseErrorf(s.rd.offset, tag, "malformed group length value")
	}

	s.meta = NewDataSet()
	s.meta.Add(groupLen)
	s.rd.pushLimit(int64(lens[0]))
	for !s.rd.atLimit() {
		tag, err := s.rd.tag(metaTS.Order)
		if err != nil {
			if err == io.EOF {
				return parseErrorWrap(s.rd.offset, Tag{}, ErrTruncated)
			}
			return err
		}
		vr, length, err := s.readHeader(metaTS, tag)
		if err != nil {
			return err
		}
		el := &Element{Tag: tag, VR: vr, Length: length, order: metaTS.Order}
		if err := s.readValue(metaTS, el); err != nil {
			return err
		}
		s.meta.Add(el)
	}
	s.rd.popLimit()

	uid, err := s.meta.GetString(TagTransferSyntaxUID)
	if err != nil {
		return err
	}
	if uid == "" {
		return parseErrorf(s.rd.offset, TagTransferSyntaxUID, "file meta missing TransferSyntaxUID")
	}
	ts, ok := LookupTransferSyntax(uid)
	if !ok {
		return &ParseError{Offset: s.rd.offset, Tag: TagTransferSyntaxUID, Msg: uid, Err: ErrUnknownTransferSyntax}
	}
	s.ts = ts
	if ts.Deflated {
		s.rd.swap(flate.NewReader(s.rd.in))
	}
	return nil
}

// readHeader reads the VR (explicit syntaxes) and length field for the element
// whose tag has just been read.
func (s *Scanner) readHeader(ts *TransferSyntax, tag Tag) (*VR, uint32, error) {
	if !ts.Explicit {
		length, err := s.rd.uint32(ts.Order)
		if err != nil {
			return nil, 0, err
		}
		return vrOf(tag), length, nil
	}

	var code [2]byte
	if err := s.rd.readFull(code[:]); err != nil {
		if err == io.EOF {
			return nil, 0, parseErrorWrap(s.rd.offset, tag, ErrTruncated)
		}
		return nil, 0, err
	}
	vr, ok := VRByName(string(code[:]))
	if !ok {
		return nil, 0, parseErrorf(s.rd.offset, tag, "unknown VR code %q", string(code[:]))
	}
	if vr.longForm {
		if err := s.rd.skip(2); err != nil {
			return nil, 0, err
		}
		length, err := s.rd.uint32(ts.Order)
		if err != nil {
			return nil, 0, err
		}
		return vr, length, nil
	}
	length, err := s.rd.uint16(ts.Order)
	if err != nil {
		return nil, 0, err
	}
	return vr, uint32(length), nil
}

// readValue consumes the element's value: raw bytes for plain VRs, nested
// items for sequences, fragment items for undefined-length bulk data. Updates
// the active character repertoire when the element is Specific Character Set.
func (s *Scanner) readValue(ts *TransferSyntax, el *Element) error {
	if el.Length == UndefinedLength {
		if el.VR != nil && el.VR.kind == vrKindSequence {
			items, err := s.readItems(ts)
			if err != nil {
				return err
			}
			el.Items = items
			return nil
		}
		if el.VR == UNVR {
			// Undefined-length UN is an implicitly encoded sequence.
			items, err := s.readItems(ImplicitVRLittleEndian)
			if err != nil {
				return err
			}
			el.Items = items
			return nil
		}
		frags, err := s.readFragments(ts)
		if err != nil {
			return err
		}
		el.Fragments = frags
		return nil
	}

	if el.Length%2 != 0 {
		return parseErrorWrap(s.rd.offset, el.Tag, ErrOddLength)
	}

	if el.VR != nil && el.VR.kind == vrKindSequence {
		s.rd.pushLimit(int64(el.Length))
		items, err := s.readItemsBounded(ts)
		if err != nil {
			return err
		}
		s.rd.popLimit()
		el.Items = items
		return nil
	}

	raw, err := s.rd.bytes(el.Length)
	if err != nil {
		return err
	}
	el.raw = raw

	if el.Tag == TagSpecificCharacterSet {
		terms, err := el.StringValues()
		if err == nil {
			s.enc = encodingForTerms(terms)
		}
	}
	return nil
}

// readItems reads sequence items until the Sequence Delimitation Item.
func (s *Scanner) readItems(ts *TransferSyntax) ([]*DataSet, error) {
	var items []*DataSet
	for {
		tag, err := s.rd.tag(ts.Order)
		if err != nil {
			if err == io.EOF {
				return nil, parseErrorWrap(s.rd.offset, Tag{}, ErrUnbalancedDelimiter)
			}
			return nil, err
		}
		length, err := s.rd.uint32(ts.Order)
		if err != nil {
			return nil, err
		}
		if tag == TagSequenceDelimitationItem {
			return items, nil
		}
		if tag != TagItem {
			return nil, parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter)
		}
		item, err := s.readItem(ts, length)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

// readItemsBounded reads items of a defined-length sequence until the
// sequence's byte limit is reached.
func (s *Scanner) readItemsBounded(ts *TransferSyntax) ([]*DataSet, error) {
	var items []*DataSet
	for !s.rd.atLimit() {
		tag, err := s.rd.tag(ts.Order)
		if err != nil {
			if err == io.EOF {
				return nil, parseErrorWrap(s.rd.offset, Tag{}, ErrUnbalancedDelimiter)
			}
			return nil, err
		}
		length, err := s.rd.uint32(ts.Order)
		if err != nil {
			return nil, err
		}
		if tag != TagItem {
			return nil, parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter)
		}
		item, err := s.readItem(ts, length)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// readItem reads one item dataset, bounded by a byte count or terminated by an
// Item Delimitation Item when the length is undefined.
func (s *Scanner) readItem(ts *TransferSyntax, length uint32) (*DataSet, error) {
	ds := NewDataSet()
	if length != UndefinedLength {
		s.rd.pushLimit(int64(length))
		for !s.rd.atLimit() {
			el, err := s.readItemElement(ts)
			if err != nil {
				return nil, err
			}
			ds.Add(el)
		}
		s.rd.popLimit()
		return ds, nil
	}
	for {
		tag, err := s.rd.tag(ts.Order)
		if err != nil {
			if err == io.EOF {
				return nil, parseErrorWrap(s.rd.offset, Tag{}, ErrUnbalancedDelimiter)
			}
			return nil, err
		}
		if tag == TagItemDelimitationItem {
			if _, err := s.rd.uint32(ts.Order); err != nil {
				return nil, err
			}
			return ds, nil
		}
		if tag.IsDelimiter() {
			return nil, parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter)
		}
		vr, elLen, err := s.readHeader(ts, tag)
		if err != nil {
			return nil, err
		}
		el := &Element{Tag: tag, VR: vr, Length: elLen, order: ts.Order, enc: s.enc}
		if err := s.readValue(ts, el); err != nil {
			return nil, err
		}
		ds.Add(el)
	}
}

func (s *Scanner) readItemElement(ts *TransferSyntax) (*Element, error) {
	tag, err := s.rd.tag(ts.Order)
	if err != nil {
		if err == io.EOF {
			return nil, parseErrorWrap(s.rd.offset, Tag{}, ErrUnbalancedDelimiter)
		}
		return nil, err
	}
	if tag.IsDelimiter() {
		return nil, parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter)
	}
	vr, length, err := s.readHeader(ts, tag)
	if err != nil {
		return nil, err
	}
	el := &Element{Tag: tag, VR: vr, Length: length, order: ts.Order, enc: s.enc}
	if err := s.readValue(ts, el); err != nil {
		return nil, err
	}
	return el, nil
}

// readFragments reads the items of an undefined-length bulk data element
// (encapsulated pixel data) until the Sequence Delimitation Item.
func (s *Scanner) readFragments(ts *TransferSyntax) ([][]byte, error) {
	frags := [][]byte{}
	for {
		tag, err := s.rd.tag(ts.Order)
		if err != nil {
			if err == io.EOF {
				return nil, parseErrorWrap(s.rd.offset, Tag{}, ErrUnbalancedDelimiter)
			}
			return nil, err
		}
		length, err := s.rd.uint32(ts.Order)
		if err != nil {
			return nil, err
		}
		if tag == TagSequenceDelimitationItem {
			return frags, nil
		}
		if tag != TagItem {
			return nil, parseErrorWrap(s.rd.offset, tag, ErrUnbalancedDelimiter)
		}
		if length == UndefinedLength {
			return nil, parseErrorf(s.rd.offset, tag, "fragment item with undefined length")
		}
		if length%2 != 0 {
			return nil, parseErrorWrap(s.rd.offset, tag, ErrOddLength)
		}
		frag, err := s.rd.bytes(length)
		if err != nil {
			return nil, err
		}
		frags = append(frags, frag)
	}
}
