package dimse

import (
	"errors"
	"fmt"
)

var (
	ErrPDUTooLarge         = errors.New("PDU exceeds negotiated maximum length")
	ErrUnknownPDUType      = errors.New("unknown PDU type")
	ErrUnexpectedPDU       = errors.New("PDU not allowed in current state")
	ErrAssociationIdle     = errors.New("association not established")
	ErrAssociationReleased = errors.New("association released by peer")
	ErrNoAcceptedContext   = errors.New("no accepted presentation context for SOP class")
	ErrCancelled           = errors.New("operation cancelled by peer")
)

// PduError describes a malformed or oversized PDU. Type is the PDU type byte
// when it was readable.
type PduError struct {
	Type byte
	Msg  string
	Err  error
}

func (e *PduError) Error() string {
	s := fmt.Sprintf("dimse: PDU error (type 0x%02X)", e.Type)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *PduError) Unwrap() error { return e.Err }

func pduErrorf(typ byte, format string, args ...any) *PduError {
	return &PduError{Type: typ, Msg: fmt.Sprintf(format, args...)}
}

// AssociationError describes a failed negotiation or a protocol violation.
// Reject is set when the peer answered with A-ASSOCIATE-RJ, Abort when either
// side tore the association down with A-ABORT.
type AssociationError struct {
	State  State
	Msg    string
	Reject *AAssociateRJ
	Abort  *AAbort
	Err    error
}

func (e *AssociationError) Error() string {
	s := "dimse: association error"
	if e.State != StateIdle {
		s += " in state " + e.State.String()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Reject != nil {
		s += ": " + e.Reject.String()
	}
	if e.Abort != nil {
		s += ": " + e.Abort.String()
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *AssociationError) Unwrap() error { return e.Err }

// ServiceError describes a DIMSE operation that completed with a failure
// status, carrying the peer's status code and error comment when present.
type ServiceError struct {
	Op      string
	Status  Status
	Comment string
	Err     error
}

func (e *ServiceError) Error() string {
	s := fmt.Sprintf("dimse: %s failed with status %s", e.Op, e.Status)
	if e.Comment != "" {
		s += ": " + e.Comment
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ServiceError) Unwrap() error { return e.Err }
