package dicom

// Entry is one immutable tag dictionary record.
type Entry struct {
	Tag  Tag
	Name string
	VR   *VR
	VM   string
}

// Lookup returns the dictionary entry for a tag. Group length elements and
// sequence delimiters resolve for every group; a miss returns ok=false and is
// never an error, callers degrade to a numeric name and VR UN.
func Lookup(tag Tag) (Entry, bool) {
	if e, ok := dictionary[tag]; ok {
		return e, true
	}
	if tag.IsGroupLength() {
		return Entry{Tag: tag, Name: "GroupLength", VR: ULVR, VM: "1"}, true
	}
	return Entry{}, false
}

// NameOf returns the canonical element name, or the formatted numeric tag when
// the dictionary has no entry.
func NameOf(tag Tag) string {
	if e, ok := Lookup(tag); ok {
		return e.Name
	}
	return tag.String()
}

// vrOf resolves the VR to use for a tag under Implicit VR. Unknown tags are
// opaque binary, not an error.
func vrOf(tag Tag) *VR {
	if e, ok := Lookup(tag); ok && e.VR != nil {
		return e.VR
	}
	return UNVR
}

var dictionary = map[Tag]Entry{
	// DIMSE command set, group 0000.
	{0x0000, 0x0000}: {Tag{0x0000, 0x0000}, "CommandGroupLength", ULVR, "1"},
	{0x0000, 0x0002}: {Tag{0x0000, 0x0002}, "AffectedSOPClassUID", UIVR, "1"},
	{0x0000, 0x0003}: {Tag{0x0000, 0x0003}, "RequestedSOPClassUID", UIVR, "1"},
	{0x0000, 0x0100}: {Tag{0x0000, 0x0100}, "CommandField", USVR, "1"},
	{0x0000, 0x0110}: {Tag{0x0000, 0x0110}, "MessageID", USVR, "1"},
	{0x0000, 0x0120}: {Tag{0x0000, 0x0120}, "MessageIDBeingRespondedTo", USVR, "1"},
	{0x0000, 0x0600}: {Tag{0x0000, 0x0600}, "MoveDestination", AEVR, "1"},
	{0x0000, 0x0700}: {Tag{0x0000, 0x0700}, "Priority", USVR, "1"},
	{0x0000, 0x0800}: {Tag{0x0000, 0x0800}, "CommandDataSetType", USVR, "1"},
	{0x0000, 0x0900}: {Tag{0x0000, 0x0900}, "Status", USVR, "1"},
	{0x0000, 0x0901}: {Tag{0x0000, 0x0901}, "OffendingElement", ATVR, "1-n"},
	{0x0000, 0x0902}: {Tag{0x0000, 0x0902}, "ErrorComment", LOVR, "1"},
	{0x0000, 0x1000}: {Tag{0x0000, 0x1000}, "AffectedSOPInstanceUID", UIVR, "1"},
	{0x0000, 0x1001}: {Tag{0x0000, 0x1001}, "RequestedSOPInstanceUID", UIVR, "1"},
	{0x0000, 0x1020}: {Tag{0x0000, 0x1020}, "NumberOfRemainingSuboperations", USVR, "1"},
	{0x0000, 0x1021}: {Tag{0x0000, 0x1021}, "NumberOfCompletedSuboperations", USVR, "1"},
	{0x0000, 0x1022}: {Tag{0x0000, 0x1022}, "NumberOfFailedSuboperations", USVR, "1"},
	{0x0000, 0x1023}: {Tag{0x0000, 0x1023}, "NumberOfWarningSuboperations", USVR, "1"},
	{0x0000, 0x1030}: {Tag{0x0000, 0x1030}, "MoveOriginatorApplicationEntityTitle", AEVR, "1"},
	{0x0000, 0x1031}: {Tag{0x0000, 0x1031}, "MoveOriginatorMessageID", USVR, "1"},

	// File meta, group 0002.
	{0x0002, 0x0000}: {Tag{0x0002, 0x0000}, "FileMetaInformationGroupLength", ULVR, "1"},
	{0x0002, 0x0001}: {Tag{0x0002, 0x0001}, "FileMetaInformationVersion", OBVR, "1"},
	{0x0002, 0x0002}: {Tag{0x0002, 0x0002}, "MediaStorageSOPClassUID", UIVR, "1"},
	{0x0002, 0x0003}: {Tag{0x0002, 0x0003}, "MediaStorageSOPInstanceUID", UIVR, "1"},
	{0x0002, 0x0010}: {Tag{0x0002, 0x0010}, "TransferSyntaxUID", UIVR, "1"},
	{0x0002, 0x0012}: {Tag{0x0002, 0x0012}, "ImplementationClassUID", UIVR, "1"},
	{0x0002, 0x0013}: {Tag{0x0002, 0x0013}, "ImplementationVersionName", SHVR, "1"},
	{0x0002, 0x0016}: {Tag{0x0002, 0x0016}, "SourceApplicationEntityTitle", AEVR, "1"},

	// Identification, group 0008.
	{0x0008, 0x0005}: {Tag{0x0008, 0x0005}, "SpecificCharacterSet", CSVR, "1-n"},
	{0x0008, 0x0008}: {Tag{0x0008, 0x0008}, "ImageType", CSVR, "2-n"},
	{0x0008, 0x0016}: {Tag{0x0008, 0x0016}, "SOPClassUID", UIVR, "1"},
	{0x0008, 0x0018}: {Tag{0x0008, 0x0018}, "SOPInstanceUID", UIVR, "1"},
	{0x0008, 0x0020}: {Tag{0x0008, 0x0020}, "StudyDate", DAVR, "1"},
	{0x0008, 0x0021}: {Tag{0x0008, 0x0021}, "SeriesDate", DAVR, "1"},
	{0x0008, 0x0023}: {Tag{0x0008, 0x0023}, "ContentDate", DAVR, "1"},
	{0x0008, 0x0030}: {Tag{0x0008, 0x0030}, "StudyTime", TMVR, "1"},
	{0x0008, 0x0031}: {Tag{0x0008, 0x0031}, "SeriesTime", TMVR, "1"},
	{0x0008, 0x0033}: {Tag{0x0008, 0x0033}, "ContentTime", TMVR, "1"},
	{0x0008, 0x0050}: {Tag{0x0008, 0x0050}, "AccessionNumber", SHVR, "1"},
	{0x0008, 0x0052}: {Tag{0x0008, 0x0052}, "QueryRetrieveLevel", CSVR, "1"},
	{0x0008, 0x0054}: {Tag{0x0008, 0x0054}, "RetrieveAETitle", AEVR, "1-n"},
	{0x0008, 0x0058}: {Tag{0x0008, 0x0058}, "FailedSOPInstanceUIDList", UIVR, "1-n"},
	{0x0008, 0x0060}: {Tag{0x0008, 0x0060}, "Modality", CSVR, "1"},
	{0x0008, 0x0061}: {Tag{0x0008, 0x0061}, "ModalitiesInStudy", CSVR, "1-n"},
	{0x0008, 0x0070}: {Tag{0x0008, 0x0070}, "Manufacturer", LOVR, "1"},
	{0x0008, 0x0080}: {Tag{0x0008, 0x0080}, "InstitutionName", LOVR, "1"},
	{0x0008, 0x0090}: {Tag{0x0008, 0x0090}, "ReferringPhysicianName", PNVR, "1"},
	{0x0008, 0x1030}: {Tag{0x0008, 0x1030}, "StudyDescription", LOVR, "1"},
	{0x0008, 0x103E}: {Tag{0x0008, 0x103E}, "SeriesDescription", LOVR, "1"},
	{0x0008, 0x1090}: {Tag{0x0008, 0x1090}, "ManufacturerModelName", LOVR, "1"},
	{0x0008, 0x1110}: {Tag{0x0008, 0x1110}, "ReferencedStudySequence", SQVR, "1"},
	{0x0008, 0x1115}: {Tag{0x0008, 0x1115}, "ReferencedSeriesSequence", SQVR, "1"},
	{0x0008, 0x1150}: {Tag{0x0008, 0x1150}, "ReferencedSOPClassUID", UIVR, "1"},
	{0x0008, 0x1155}: {Tag{0x0008, 0x1155}, "ReferencedSOPInstanceUID", UIVR, "1"},
	{0x0008, 0x1199}: {Tag{0x0008, 0x1199}, "ReferencedSOPSequence", SQVR, "1"},

	// Patient, group 0010.
	{0x0010, 0x0010}: {Tag{0x0010, 0x0010}, "PatientName", PNVR, "1"},
	{0x0010, 0x0020}: {Tag{0x0010, 0x0020}, "PatientID", LOVR, "1"},
	{0x0010, 0x0021}: {Tag{0x0010, 0x0021}, "IssuerOfPatientID", LOVR, "1"},
	{0x0010, 0x0030}: {Tag{0x0010, 0x0030}, "PatientBirthDate", DAVR, "1"},
	{0x0010, 0x0032}: {Tag{0x0010, 0x0032}, "PatientBirthTime", TMVR, "1"},
	{0x0010, 0x0040}: {Tag{0x0010, 0x0040}, "PatientSex", CSVR, "1"},
	{0x0010, 0x1010}: {Tag{0x0010, 0x1010}, "PatientAge", ASVR, "1"},
	{0x0010, 0x1020}: {Tag{0x0010, 0x1020}, "PatientSize", DSVR, "1"},
	{0x0010, 0x1030}: {Tag{0x0010, 0x1030}, "PatientWeight", DSVR, "1"},
	{0x0010, 0x4000}: {Tag{0x0010, 0x4000}, "PatientComments", LTVR, "1"},

	// Study and series, group 0020.
	{0x0020, 0x000D}: {Tag{0x0020, 0x000D}, "StudyInstanceUID", UIVR, "1"},
	{0x0020, 0x000E}: {Tag{0x0020, 0x000E}, "SeriesInstanceUID", UIVR, "1"},
	{0x0020, 0x0010}: {Tag{0x0020, 0x0010}, "StudyID", SHVR, "1"},
	{0x0020, 0x0011}: {Tag{0x0020, 0x0011}, "SeriesNumber", ISVR, "1"},
	{0x0020, 0x0013}: {Tag{0x0020, 0x0013}, "InstanceNumber", ISVR, "1"},
	{0x0020, 0x0032}: {Tag{0x0020, 0x0032}, "ImagePositionPatient", DSVR, "3"},
	{0x0020, 0x0037}: {Tag{0x0020, 0x0037}, "ImageOrientationPatient", DSVR, "6"},
	{0x0020, 0x0052}: {Tag{0x0020, 0x0052}, "FrameOfReferenceUID", UIVR, "1"},
	{0x0020, 0x1041}: {Tag{0x0020, 0x1041}, "SliceLocation", DSVR, "1"},
	{0x0020, 0x1200}: {Tag{0x0020, 0x1200}, "NumberOfPatientRelatedStudies", ISVR, "1"},
	{0x0020, 0x1202}: {Tag{0x0020, 0x1202}, "NumberOfPatientRelatedSeries", ISVR, "1"},
	{0x0020, 0x1204}: {Tag{0x0020, 0x1204}, "NumberOfPatientRelatedInstances", ISVR, "1"},
	{0x0020, 0x1206}: {Tag{0x0020, 0x1206}, "NumberOfStudyRelatedSeries", ISVR, "1"},
	{0x0020, 0x1208}: {Tag{0x0020, 0x1208}, "NumberOfStudyRelatedInstances", ISVR, "1"},
	{0x0020, 0x1209}: {Tag{0x0020, 0x1209}, "NumberOfSeriesRelatedInstances", ISVR, "1"},

	// Image description, group 0028.
	{0x0028, 0x0002}: {Tag{0x0028, 0x0002}, "SamplesPerPixel", USVR, "1"},
	{0x0028, 0x0004}: {Tag{0x0028, 0x0004}, "PhotometricInterpretation", CSVR, "1"},
	{0x0028, 0x0008}: {Tag{0x0028, 0x0008}, "NumberOfFrames", ISVR, "1"},
	{0x0028, 0x0010}: {Tag{0x0028, 0x0010}, "Rows", USVR, "1"},
	{0x0028, 0x0011}: {Tag{0x0028, 0x0011}, "Columns", USVR, "1"},
	{0x0028, 0x0030}: {Tag{0x0028, 0x0030}, "PixelSpacing", DSVR, "2"},
	{0x0028, 0x0100}: {Tag{0x0028, 0x0100}, "BitsAllocated", USVR, "1"},
	{0x0028, 0x0101}: {Tag{0x0028, 0x0101}, "BitsStored", USVR, "1"},
	{0x0028, 0x0102}: {Tag{0x0028, 0x0102}, "HighBit", USVR, "1"},
	{0x0028, 0x0103}: {Tag{0x0028, 0x0103}, "PixelRepresentation", USVR, "1"},
	{0x0028, 0x1050}: {Tag{0x0028, 0x1050}, "WindowCenter", DSVR, "1-n"},
	{0x0028, 0x1051}: {Tag{0x0028, 0x1051}, "WindowWidth", DSVR, "1-n"},
	{0x0028, 0x1052}: {Tag{0x0028, 0x1052}, "RescaleIntercept", DSVR, "1"},
	{0x0028, 0x1053}: {Tag{0x0028, 0x1053}, "RescaleSlope", DSVR, "1"},

	{0x0040, 0x0275}: {Tag{0x0040, 0x0275}, "RequestAttributesSequence", SQVR, "1"},

	// Pixel data, group 7FE0.
	{0x7FE0, 0x0008}: {Tag{0x7FE0, 0x0008}, "FloatPixelData", OFVR, "1"},
	{0x7FE0, 0x0009}: {Tag{0x7FE0, 0x0009}, "DoubleFloatPixelData", ODVR, "1"},
	{0x7FE0, 0x0010}: {Tag{0x7FE0, 0x0010}, "PixelData", OWVR, "1"},

	// Delimiters, group FFFE. No VR of their own.
	{0xFFFE, 0xE000}: {Tag{0xFFFE, 0xE000}, "Item", nil, "1"},
	{0xFFFE, 0xE00D}: {Tag{0xFFFE, 0xE00D}, "ItemDelimitationItem", nil, "1"},
	{0xFFFE, 0xE0DD}: {Tag{0xFFFE, 0xE0DD}, "SequenceDelimitationItem", nil, "1"},
}
