package dicom

type vrKind int

const (
	// vrKindText covers space-padded string VRs with backslash multiplicity.
	vrKindText vrKind = iota
	// vrKindLongText covers space-padded string VRs whose value is a single
	// string; backslash is an ordinary character for these.
	vrKindLongText
	// vrKindUID covers UI, NUL-padded string with backslash multiplicity.
	vrKindUID
	vrKindInt16
	vrKindUint16
	vrKindInt32
	vrKindUint32
	vrKindInt64
	vrKindUint64
	vrKindFloat32
	vrKindFloat64
	vrKindTag
	vrKindBytes
	vrKindSequence
)

// VR is a DICOM value representation. It fixes the byte layout, the padding
// rule, and the length field form of a data element value.
type VR struct {
	// Name is the two-letter VR code, e.g. "PN".
	Name string

	kind vrKind

	// longForm marks VRs encoded in Explicit VR with two reserved bytes and a
	// 32 bit length field instead of a 16 bit one.
	longForm bool
}

// String returns the two-letter VR code.
func (vr *VR) String() string { return vr.Name }

// paddingByte returns the byte used to pad odd-length values of this VR.
func (vr *VR) paddingByte() byte {
	switch vr.kind {
	case vrKindText, vrKindLongText:
		return ' '
	default:
		return 0x00
	}
}

// isString reports whether values of this VR decode to strings.
func (vr *VR) isString() bool {
	return vr.kind == vrKindText || vr.kind == vrKindLongText || vr.kind == vrKindUID
}

var (
	AEVR = &VR{Name: "AE", kind: vrKindText}
	ASVR = &VR{Name: "AS", kind: vrKindText}
	ATVR = &VR{Name: "AT", kind: vrKindTag}
	CSVR = &VR{Name: "CS", kind: vrKindText}
	DAVR = &VR{Name: "DA", kind: vrKindText}
	DSVR = &VR{Name: "DS", kind: vrKindText}
	DTVR = &VR{Name: "DT", kind: vrKindText}
	FLVR = &VR{Name: "FL", kind: vrKindFloat32}
	FDVR = &VR{Name: "FD", kind: vrKindFloat64}
	ISVR = &VR{Name: "IS", kind: vrKindText}
	LOVR = &VR{Name: "LO", kind: vrKindText}
	LTVR = &VR{Name: "LT", kind: vrKindLongText}
	OBVR = &VR{Name: "OB", kind: vrKindBytes, longForm: true}
	ODVR = &VR{Name: "OD", kind: vrKindBytes, longForm: true}
	OFVR = &VR{Name: "OF", kind: vrKindBytes, longForm: true}
	OLVR = &VR{Name: "OL", kind: vrKindBytes, longForm: true}
	OVVR = &VR{Name: "OV", kind: vrKindBytes, longForm: true}
	OWVR = &VR{Name: "OW", kind: vrKindBytes, longForm: true}
	PNVR = &VR{Name: "PN", kind: vrKindText}
	SHVR = &VR{Name: "SH", kind: vrKindText}
	SLVR = &VR{Name: "SL", kind: vrKindInt32}
	SQVR = &VR{Name: "SQ", kind: vrKindSequence, longForm: true}
	SSVR = &VR{Name: "SS", kind: vrKindInt16}
	STVR = &VR{Name: "ST", kind: vrKindLongText}
	SVVR = &VR{Name: "SV", kind: vrKindInt64, longForm: true}
	TMVR = &VR{Name: "TM", kind: vrKindText}
	UCVR = &VR{Name: "UC", kind: vrKindText, longForm: true}
	UIVR = &VR{Name: "UI", kind: vrKindUID}
	ULVR = &VR{Name: "UL", kind: vrKindUint32}
	UNVR = &VR{Name: "UN", kind: vrKindBytes, longForm: true}
	URVR = &VR{Name: "UR", kind: vrKindLongText, longForm: true}
	USVR = &VR{Name: "US", kind: vrKindUint16}
	UTVR = &VR{Name: "UT", kind: vrKindLongText, longForm: true}
	UVVR = &VR{Name: "UV", kind: vrKindUint64, longForm: true}
)

var vrByName = map[string]*VR{
	"AE": AEVR, "AS": ASVR, "AT": ATVR, "CS": CSVR, "DA": DAVR, "DS": DSVR,
	"DT": DTVR, "FL": FLVR, "FD": FDVR, "IS": ISVR, "LO": LOVR, "LT": LTVR,
	"OB": OBVR, "OD": ODVR, "OF": OFVR, "OL": OLVR, "OV": OVVR, "OW": OWVR,
	"PN": PNVR, "SH": SHVR, "SL": SLVR, "SQ": SQVR, "SS": SSVR, "ST": STVR,
	"SV": SVVR, "TM": TMVR, "UC": UCVR, "UI": UIVR, "UL": ULVR, "UN": UNVR,
	"UR": URVR, "US": USVR, "UT": UTVR, "UV": UVVR,
}

// VRByName returns the VR for a two-letter code, or false if the code is not a
// known value representation.
func VRByName(name string) (*VR, bool) {
	vr, ok := vrByName[name]
	return vr, ok
}
