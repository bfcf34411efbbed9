package dimse

import "fmt"

// Status is the (0000,0900) value of a DIMSE response. Codes are propagated
// verbatim between peers; the class predicates below drive control flow.
type Status uint16

const (
	StatusSuccess Status = 0x0000

	// Cancel acknowledges a C-CANCEL-RQ.
	StatusCancel Status = 0xFE00

	// Pending statuses announce more responses on the way. 0xFF01 warns that
	// optional keys were not supported.
	StatusPending            Status = 0xFF00
	StatusPendingWithWarning Status = 0xFF01

	// Warning completions.
	StatusSubOpsCompleteWithFailures Status = 0xB000

	// Failures.
	StatusSOPClassNotSupported   Status = 0x0122
	StatusProcessingFailure      Status = 0x0110
	StatusOutOfResources         Status = 0xA700
	StatusMoveDestinationUnknown Status = 0xA801
	StatusIdentifierMismatch     Status = 0xA900
	StatusUnableToProcess        Status = 0xC000
)

// IsPending reports whether more responses follow this one.
func (s Status) IsPending() bool {
	return s == StatusPending || s == StatusPendingWithWarning
}

// IsSuccess reports a fully successful completion.
func (s Status) IsSuccess() bool { return s == StatusSuccess }

// IsCancel reports a completion caused by a C-CANCEL-RQ.
func (s Status) IsCancel() bool { return s == StatusCancel }

// IsWarning reports a completion with partial failures.
func (s Status) IsWarning() bool {
	return s == StatusSubOpsCompleteWithFailures || (s&0xF000) == 0xB000
}

// IsFailure reports a terminal failure completion.
func (s Status) IsFailure() bool {
	return !s.IsPending() && !s.IsSuccess() && !s.IsCancel() && !s.IsWarning()
}

func (s Status) String() string {
	switch {
	case s.IsSuccess():
		return "success"
	case s.IsPending():
		return fmt.Sprintf("pending(0x%04X)", uint16(s))
	case s.IsCancel():
		return "cancel"
	case s.IsWarning():
		return fmt.Sprintf("warning(0x%04X)", uint16(s))
	default:
		return fmt.Sprintf("failure(0x%04X)", uint16(s))
	}
}
