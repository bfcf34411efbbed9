package dicom

import "encoding/binary"

// Transfer syntax UIDs the codec encodes and decodes natively.
const (
	ImplicitVRLittleEndianUID         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndianUID         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndianUID = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndianUID            = "1.2.840.10008.1.2.2"
)

// TransferSyntax fixes the byte order, VR explicitness, and compression of an
// encoded dataset. Values are immutable; use the package variables.
type TransferSyntax struct {
	UID      string
	Explicit bool
	Order    binary.ByteOrder
	Deflated bool
}

var (
	ImplicitVRLittleEndian = &TransferSyntax{
		UID:   ImplicitVRLittleEndianUID,
		Order: binary.LittleEndian,
	}
	ExplicitVRLittleEndian = &TransferSyntax{
		UID:      ExplicitVRLittleEndianUID,
		Explicit: true,
		Order:    binary.LittleEndian,
	}
	DeflatedExplicitVRLittleEndian = &TransferSyntax{
		UID:      DeflatedExplicitVRLittleEndianUID,
		Explicit: true,
		Order:    binary.LittleEndian,
		Deflated: true,
	}
	ExplicitVRBigEndian = &TransferSyntax{
		UID:      ExplicitVRBigEndianUID,
		Explicit: true,
		Order:    binary.BigEndian,
	}
)

var transferSyntaxes = map[string]*TransferSyntax{
	ImplicitVRLittleEndianUID:         ImplicitVRLittleEndian,
	ExplicitVRLittleEndianUID:         ExplicitVRLittleEndian,
	DeflatedExplicitVRLittleEndianUID: DeflatedExplicitVRLittleEndian,
	ExplicitVRBigEndianUID:            ExplicitVRBigEndian,
}

// LookupTransferSyntax resolves a transfer syntax UID. Unknown UIDs return
// ok=false; whether that is an error depends on where the caller stands (the
// parser fails when it must switch to one, negotiation just skips it).
func LookupTransferSyntax(uid string) (*TransferSyntax, bool) {
	ts, ok := transferSyntaxes[uid]
	return ts, ok
}

// longHeader reports whether an element of the given VR uses the long header
// form (two reserved bytes, 32 bit length) under this syntax.
func (ts *TransferSyntax) longHeader(vr *VR) bool {
	if !ts.Explicit {
		return true
	}
	return vr.longForm
}

// headerSize returns the encoded size of an element header (tag, VR if
// explicit, length field) under this syntax.
func (ts *TransferSyntax) headerSize(vr *VR) uint32 {
	if !ts.Explicit {
		return 8
	}
	if vr.longForm {
		return 12
	}
	return 8
}
