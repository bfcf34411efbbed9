package dicom

import (
	"errors"
	"fmt"
)

// Structural faults detectable while parsing. They are always returned wrapped
// in a *ParseError so callers can match with errors.Is.
var (
	ErrOddLength             = errors.New("odd value length")
	ErrUnknownTransferSyntax = errors.New("unknown transfer syntax")
	ErrMissingMagic          = errors.New("missing DICM magic")
	ErrUnbalancedDelimiter   = errors.New("unbalanced sequence delimiter")
	ErrValueNotRead          = errors.New("value bytes were not read")
	ErrTruncated             = errors.New("truncated stream")
)

// ParseError describes a structural fault in an encoded dataset. Offset is the
// byte position in the stream where the fault was detected; Tag is the element
// being parsed when known.
type ParseError struct {
	Offset int64
	Tag    Tag
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	s := fmt.Sprintf("dicom: parse error at offset %d", e.Offset)
	if e.Tag != (Tag{}) {
		s += " " + e.Tag.String()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ParseError) Unwrap() error { return e.Err }

// WriteError describes a fault encoding a dataset, usually a mismatch between
// an element's VR and the Go type of its value.
type WriteError struct {
	Tag Tag
	Msg string
	Err error
}

func (e *WriteError) Error() string {
	s := "dicom: write error"
	if e.Tag != (Tag{}) {
		s += " " + e.Tag.String()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *WriteError) Unwrap() error { return e.Err }

func parseErrorf(offset int64, tag Tag, format string, args ...any) *ParseError {
	return &ParseError{Offset: offset, Tag: tag, Msg: fmt.Sprintf(format, args...)}
}

func parseErrorWrap(offset int64, tag Tag, err error) *ParseError {
	return &ParseError{Offset: offset, Tag: tag, Err: err}
}

func writeErrorf(tag Tag, format string, args ...any) *WriteError {
	return &WriteError{Tag: tag, Msg: fmt.Sprintf(format, args...)}
}
