package dicom

import "fmt"

// Tag identifies a data element as a (group, element) pair.
type Tag struct {
	Group   uint16
	Element uint16
}

// NewTag returns the Tag with the given group and element numbers.
func NewTag(group, element uint16) Tag {
	return Tag{Group: group, Element: element}
}

// Tags with structural meaning to the parser and the DIMSE layer.
var (
	TagItem                           = Tag{0xFFFE, 0xE000}
	TagItemDelimitationItem           = Tag{0xFFFE, 0xE00D}
	TagSequenceDelimitationItem       = Tag{0xFFFE, 0xE0DD}
	TagFileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	TagFileMetaInformationVersion     = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID              = Tag{0x0002, 0x0010}
	TagImplementationClassUID         = Tag{0x0002, 0x0012}
	TagImplementationVersionName      = Tag{0x0002, 0x0013}
	TagSpecificCharacterSet           = Tag{0x0008, 0x0005}
	TagSOPClassUID                    = Tag{0x0008, 0x0016}
	TagSOPInstanceUID                 = Tag{0x0008, 0x0018}
	TagStudyDate                      = Tag{0x0008, 0x0020}
	TagAccessionNumber                = Tag{0x0008, 0x0050}
	TagQueryRetrieveLevel             = Tag{0x0008, 0x0052}
	TagRetrieveAETitle                = Tag{0x0008, 0x0054}
	TagFailedSOPInstanceUIDList       = Tag{0x0008, 0x0058}
	TagModality                       = Tag{0x0008, 0x0060}
	TagModalitiesInStudy              = Tag{0x0008, 0x0061}
	TagPatientName                    = Tag{0x0010, 0x0010}
	TagPatientID                      = Tag{0x0010, 0x0020}
	TagStudyInstanceUID               = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID              = Tag{0x0020, 0x000E}
	TagInstanceNumber                 = Tag{0x0020, 0x0013}
	TagNumberOfStudyRelatedSeries     = Tag{0x0020, 0x1206}
	TagNumberOfStudyRelatedInstances  = Tag{0x0020, 0x1208}
	TagNumberOfSeriesRelatedInstances = Tag{0x0020, 0x1209}
	TagPixelData                      = Tag{0x7FE0, 0x0010}
)

// Command group (0000) tags used by DIMSE command sets.
var (
	TagCommandGroupLength        = Tag{0x0000, 0x0000}
	TagAffectedSOPClassUID       = Tag{0x0000, 0x0002}
	TagCommandField              = Tag{0x0000, 0x0100}
	TagMessageID                 = Tag{0x0000, 0x0110}
	TagMessageIDBeingRespondedTo = Tag{0x0000, 0x0120}
	TagMoveDestination           = Tag{0x0000, 0x0600}
	TagPriority                  = Tag{0x0000, 0x0700}
	TagCommandDataSetType        = Tag{0x0000, 0x0800}
	TagStatus                    = Tag{0x0000, 0x0900}
	TagOffendingElement          = Tag{0x0000, 0x0901}
	TagErrorComment              = Tag{0x0000, 0x0902}
	TagAffectedSOPInstanceUID    = Tag{0x0000, 0x1000}
	TagNumberOfRemainingSubOps   = Tag{0x0000, 0x1020}
	TagNumberOfCompletedSubOps   = Tag{0x0000, 0x1021}
	TagNumberOfFailedSubOps      = Tag{0x0000, 0x1022}
	TagNumberOfWarningSubOps     = Tag{0x0000, 0x1023}
	TagMoveOriginatorAETitle     = Tag{0x0000, 0x1030}
	TagMoveOriginatorMessageID   = Tag{0x0000, 0x1031}
)

// String formats the tag as (GGGG,EEEE) with uppercase hex digits.
func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// Compare orders tags by group then element. It returns a negative number
// when t sorts before other, zero when equal, positive otherwise.
func (t Tag) Compare(other Tag) int {
	if t.Group != other.Group {
		if t.Group < other.Group {
			return -1
		}
		return 1
	}
	if t.Element != other.Element {
		if t.Element < other.Element {
			return -1
		}
		return 1
	}
	return 0
}

// IsPrivate reports whether the tag belongs to an odd, privately defined group.
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// IsGroupLength reports whether the tag is a group length element (element 0000).
func (t Tag) IsGroupLength() bool {
	return t.Element == 0x0000
}

// IsFileMeta reports whether the tag belongs to the File Meta group (0002).
func (t Tag) IsFileMeta() bool {
	return t.Group == 0x0002
}

// IsCommand reports whether the tag belongs to the DIMSE command group (0000).
func (t Tag) IsCommand() bool {
	return t.Group == 0x0000
}

// IsDelimiter reports whether the tag is an Item, Item Delimitation Item, or
// Sequence Delimitation Item marker.
func (t Tag) IsDelimiter() bool {
	return t == TagItem || t == TagItemDelimitationItem || t == TagSequenceDelimitationItem
}
