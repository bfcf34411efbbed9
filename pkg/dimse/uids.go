package dimse

// ApplicationContextName is the single application context DICOM defines.
const ApplicationContextName = "1.2.840.10008.3.1.1.1"

// DICOMProtocolVersion is the only association protocol version in use.
const DICOMProtocolVersion uint16 = 0x0001

// Service class UIDs.
const (
	VerificationSOPClass = "1.2.840.10008.1.1"

	PatientRootQRFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQRMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQRGet  = "1.2.840.10008.5.1.4.1.2.1.3"
	StudyRootQRFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQRMove   = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQRGet    = "1.2.840.10008.5.1.4.1.2.2.3"
)

// Storage SOP class UIDs for the common modalities.
const (
	CRImageStorage               = "1.2.840.10008.5.1.4.1.1.1"
	DXImageStoragePresentation   = "1.2.840.10008.5.1.4.1.1.1.1"
	CTImageStorage               = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage       = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage               = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage       = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage       = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage  = "1.2.840.10008.5.1.4.1.1.20"
	PositronEmissionImageStorage = "1.2.840.10008.5.1.4.1.1.128"
)

// StorageClasses lists the storage SOP classes offered and accepted by
// default. Order matters: it is the presentation context proposal order.
var StorageClasses = []string{
	CRImageStorage,
	DXImageStoragePresentation,
	CTImageStorage,
	EnhancedCTImageStorage,
	MRImageStorage,
	EnhancedMRImageStorage,
	UltrasoundImageStorage,
	SecondaryCaptureImageStorage,
	XRayAngiographicImageStorage,
	NuclearMedicineImageStorage,
	PositronEmissionImageStorage,
}

// QueryRetrieveClasses lists the query/retrieve SOP classes offered and
// accepted by default.
var QueryRetrieveClasses = []string{
	PatientRootQRFind,
	PatientRootQRMove,
	PatientRootQRGet,
	StudyRootQRFind,
	StudyRootQRMove,
	StudyRootQRGet,
}

var storageClassSet = func() map[string]bool {
	m := make(map[string]bool, len(StorageClasses))
	for _, uid := range StorageClasses {
		m[uid] = true
	}
	return m
}()

// IsStorageClass reports whether uid is a storage SOP class this package
// proposes by default.
func IsStorageClass(uid string) bool { return storageClassSet[uid] }
