package dicom

import (
	"encoding/binary"
	"io"
)

// reader tracks the absolute byte offset of an element stream and supports a
// stack of nested read limits for bounded regions (file meta group, defined
// length sequences and items). Limits hold absolute end offsets, innermost
// last.
type reader struct {
	in     io.Reader
	offset int64
	limits []int64
}

func newReader(in io.Reader) *reader {
	return &reader{in: in}
}

// swap replaces the underlying byte source, keeping the current offset. Used
// when the body of a deflated stream begins.
func (r *reader) swap(in io.Reader) {
	r.in = in
}

func (r *reader) pushLimit(n int64) {
	r.limits = append(r.limits, r.offset+n)
}

func (r *reader) popLimit() {
	r.limits = r.limits[:len(r.limits)-1]
}

// remaining returns the bytes left before the innermost limit, or -1 when
// unlimited.
func (r *reader) remaining() int64 {
	if len(r.limits) == 0 {
		return -1
	}
	return r.limits[len(r.limits)-1] - r.offset
}

// atLimit reports whether the innermost limit has been reached exactly.
func (r *reader) atLimit() bool {
	return r.remaining() == 0
}

// readFull fills buf or fails. Reading past the innermost limit is a
// truncation error; a clean io.EOF before the first byte is passed through so
// callers can distinguish end of stream from a torn element.
func (r *reader) readFull(buf []byte) error {
	if rem := r.remaining(); rem >= 0 && int64(len(buf)) > rem {
		return parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	n, err := io.ReadFull(r.in, buf)
	r.offset += int64(n)
	if err == io.ErrUnexpectedEOF {
		return parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	return err
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readFull(buf); err != nil {
		if err == io.EOF {
			return nil, parseErrorWrap(r.offset, Tag{}, ErrTruncated)
		}
		return nil, err
	}
	return buf, nil
}

func (r *reader) skip(n uint32) error {
	if rem := r.remaining(); rem >= 0 && int64(n) > rem {
		return parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	copied, err := io.CopyN(io.Discard, r.in, int64(n))
	r.offset += copied
	if err == io.EOF {
		return parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	return err
}

func (r *reader) uint16(order binary.ByteOrder) (uint16, error) {
	var buf [2]byte
	if err := r.readFull(buf[:]); err != nil {
		if err == io.EOF {
			return 0, parseErrorWrap(r.offset, Tag{}, ErrTruncated)
		}
		return 0, err
	}
	return order.Uint16(buf[:]), nil
}

func (r *reader) uint32(order binary.ByteOrder) (uint32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		if err == io.EOF {
			return 0, parseErrorWrap(r.offset, Tag{}, ErrTruncated)
		}
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

// tag reads a (group, element) pair. A clean io.EOF on the first byte is
// returned as io.EOF; running dry mid-tag is a truncation error.
func (r *reader) tag(order binary.ByteOrder) (Tag, error) {
	var buf [4]byte
	if rem := r.remaining(); rem >= 0 && rem < 4 {
		if rem == 0 {
			return Tag{}, io.EOF
		}
		return Tag{}, parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	n, err := io.ReadFull(r.in, buf[:])
	r.offset += int64(n)
	if err == io.EOF {
		return Tag{}, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return Tag{}, parseErrorWrap(r.offset, Tag{}, ErrTruncated)
	}
	if err != nil {
		return Tag{}, err
	}
	return Tag{Group: order.Uint16(buf[0:2]), Element: order.Uint16(buf[2:4])}, nil
}
