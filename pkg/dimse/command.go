package dimse

import (
	"bytes"
	"fmt"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// CommandField identifies a DIMSE operation. Responses set the high bit of
// the corresponding request code.
type CommandField uint16

const (
	CommandCStoreRQ  CommandField = 0x0001
	CommandCStoreRSP CommandField = 0x8001
	CommandCGetRQ    CommandField = 0x0010
	CommandCGetRSP   CommandField = 0x8010
	CommandCFindRQ   CommandField = 0x0020
	CommandCFindRSP  CommandField = 0x8020
	CommandCMoveRQ   CommandField = 0x0021
	CommandCMoveRSP  CommandField = 0x8021
	CommandCEchoRQ   CommandField = 0x0030
	CommandCEchoRSP  CommandField = 0x8030
	CommandCCancelRQ CommandField = 0x0FFF
)

// IsResponse reports whether the field carries a response.
func (f CommandField) IsResponse() bool { return f&0x8000 != 0 }

func (f CommandField) String() string {
	switch f {
	case CommandCStoreRQ:
		return "C-STORE-RQ"
	case CommandCStoreRSP:
		return "C-STORE-RSP"
	case CommandCGetRQ:
		return "C-GET-RQ"
	case CommandCGetRSP:
		return "C-GET-RSP"
	case CommandCFindRQ:
		return "C-FIND-RQ"
	case CommandCFindRSP:
		return "C-FIND-RSP"
	case CommandCMoveRQ:
		return "C-MOVE-RQ"
	case CommandCMoveRSP:
		return "C-MOVE-RSP"
	case CommandCEchoRQ:
		return "C-ECHO-RQ"
	case CommandCEchoRSP:
		return "C-ECHO-RSP"
	case CommandCCancelRQ:
		return "C-CANCEL-RQ"
	default:
		return fmt.Sprintf("command(0x%04X)", uint16(f))
	}
}

// commandDataSetNull is the (0000,0800) value announcing that no data set
// follows the command set. Any other value means one does.
const commandDataSetNull uint16 = 0x0101

// Request priorities.
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

// SubOperations carries the C-MOVE/C-GET progress counters. Remaining is only
// present on pending responses; HasRemaining distinguishes absent from zero.
type SubOperations struct {
	Remaining    uint16
	Completed    uint16
	Failed       uint16
	Warning      uint16
	HasRemaining bool
}

// Command is a decoded DIMSE command set. Which fields are meaningful depends
// on Field; encode skips the rest.
type Command struct {
	Field                  CommandField
	MessageID              uint16
	RespondedTo            uint16
	AffectedSOPClassUID    string
	AffectedSOPInstanceUID string
	Priority               uint16
	HasDataSet             bool
	Status                 Status
	MoveDestination        string
	MoveOriginatorAE       string
	MoveOriginatorID       uint16
	SubOps                 *SubOperations
	ErrorComment           string
	OffendingElements      []dicom.Tag
}

// hasPriority reports whether the operation's request carries the (0000,0700)
// priority field.
func (c *Command) hasPriority() bool {
	switch c.Field {
	case CommandCStoreRQ, CommandCFindRQ, CommandCMoveRQ, CommandCGetRQ:
		return true
	}
	return false
}

// encode renders the command set in Implicit VR Little Endian with a
// recomputed group length element in front.
func (c *Command) encode() ([]byte, error) {
	ds := dicom.NewDataSet()
	add := func(tag dicom.Tag, value any) error {
		el, err := dicom.NewElement(tag, value)
		if err != nil {
			return err
		}
		ds.Add(el)
		return nil
	}

	if c.AffectedSOPClassUID != "" {
		if err := add(dicom.TagAffectedSOPClassUID, c.AffectedSOPClassUID); err != nil {
			return nil, err
		}
	}
	if err := add(dicom.TagCommandField, uint16(c.Field)); err != nil {
		return nil, err
	}
	if c.Field.IsResponse() || c.Field == CommandCCancelRQ {
		if err := add(dicom.TagMessageIDBeingRespondedTo, c.RespondedTo); err != nil {
			return nil, err
		}
	} else {
		if err := add(dicom.TagMessageID, c.MessageID); err != nil {
			return nil, err
		}
	}
	if c.MoveDestination != "" {
		if err := add(dicom.TagMoveDestination, c.MoveDestination); err != nil {
			return nil, err
		}
	}
	if c.hasPriority() {
		if err := add(dicom.TagPriority, c.Priority); err != nil {
			return nil, err
		}
	}
	dataSetType := commandDataSetNull
	if c.HasDataSet {
		dataSetType = 0x0000
	}
	if err := add(dicom.TagCommandDataSetType, dataSetType); err != nil {
		return nil, err
	}
	if c.Field.IsResponse() {
		if err := add(dicom.TagStatus, uint16(c.Status)); err != nil {
			return nil, err
		}
	}
	if len(c.OffendingElements) > 0 {
		if err := add(dicom.TagOffendingElement, c.OffendingElements); err != nil {
			return nil, err
		}
	}
	if c.ErrorComment != "" {
		if err := add(dicom.TagErrorComment, c.ErrorComment); err != nil {
			return nil, err
		}
	}
	if c.AffectedSOPInstanceUID != "" {
		if err := add(dicom.TagAffectedSOPInstanceUID, c.AffectedSOPInstanceUID); err != nil {
			return nil, err
		}
	}
	if c.SubOps != nil {
		if c.SubOps.HasRemaining {
			if err := add(dicom.TagNumberOfRemainingSubOps, c.SubOps.Remaining); err != nil {
				return nil, err
			}
		}
		if err := add(dicom.TagNumberOfCompletedSubOps, c.SubOps.Completed); err != nil {
			return nil, err
		}
		if err := add(dicom.TagNumberOfFailedSubOps, c.SubOps.Failed); err != nil {
			return nil, err
		}
		if err := add(dicom.TagNumberOfWarningSubOps, c.SubOps.Warning); err != nil {
			return nil, err
		}
	}
	if c.MoveOriginatorAE != "" {
		if err := add(dicom.TagMoveOriginatorAETitle, c.MoveOriginatorAE); err != nil {
			return nil, err
		}
		if err := add(dicom.TagMoveOriginatorMessageID, c.MoveOriginatorID); err != nil {
			return nil, err
		}
	}

	var body bytes.Buffer
	if err := dicom.WriteDataSet(&body, ds, dicom.ImplicitVRLittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode command set: %w", err)
	}
	lenEl, err := dicom.NewElement(dicom.TagCommandGroupLength, uint32(body.Len()))
	if err != nil {
		return nil, err
	}
	head := dicom.NewDataSet()
	head.Add(lenEl)
	var out bytes.Buffer
	if err := dicom.WriteDataSet(&out, head, dicom.ImplicitVRLittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode command group length: %w", err)
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// decodeCommand parses a reassembled command set.
func decodeCommand(raw []byte) (*Command, error) {
	s := dicom.NewScanner(bytes.NewReader(raw), dicom.WithTransferSyntax(dicom.ImplicitVRLittleEndian))
	ds, err := dicom.ReadDataSet(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode command set: %w", err)
	}
	if ds == nil {
		return nil, fmt.Errorf("empty command set")
	}

	field, ok, err := ds.GetUint16(dicom.TagCommandField)
	if err != nil {
		return nil, fmt.Errorf("command set command field: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("command set missing command field")
	}
	c := &Command{Field: CommandField(field)}

	if c.MessageID, _, err = ds.GetUint16(dicom.TagMessageID); err != nil {
		return nil, err
	}
	if c.RespondedTo, _, err = ds.GetUint16(dicom.TagMessageIDBeingRespondedTo); err != nil {
		return nil, err
	}
	if c.AffectedSOPClassUID, err = ds.GetString(dicom.TagAffectedSOPClassUID); err != nil {
		return nil, err
	}
	if c.AffectedSOPInstanceUID, err = ds.GetString(dicom.TagAffectedSOPInstanceUID); err != nil {
		return nil, err
	}
	if c.MoveDestination, err = ds.GetString(dicom.TagMoveDestination); err != nil {
		return nil, err
	}
	if c.Priority, _, err = ds.GetUint16(dicom.TagPriority); err != nil {
		return nil, err
	}
	dataSetType, ok, err := ds.GetUint16(dicom.TagCommandDataSetType)
	if err != nil {
		return nil, err
	}
	c.HasDataSet = ok && dataSetType != commandDataSetNull
	if status, ok, err := ds.GetUint16(dicom.TagStatus); err != nil {
		return nil, err
	} else if ok {
		c.Status = Status(status)
	}
	if c.ErrorComment, err = ds.GetString(dicom.TagErrorComment); err != nil {
		return nil, err
	}
	if el, ok := ds.Get(dicom.TagOffendingElement); ok {
		v, err := el.Value()
		if err != nil {
			return nil, err
		}
		if tags, ok := v.([]dicom.Tag); ok {
			c.OffendingElements = tags
		}
	}
	if c.MoveOriginatorAE, err = ds.GetString(dicom.TagMoveOriginatorAETitle); err != nil {
		return nil, err
	}
	if c.MoveOriginatorID, _, err = ds.GetUint16(dicom.TagMoveOriginatorMessageID); err != nil {
		return nil, err
	}

	completed, hasCompleted, err := ds.GetUint16(dicom.TagNumberOfCompletedSubOps)
	if err != nil {
		return nil, err
	}
	remaining, hasRemaining, err := ds.GetUint16(dicom.TagNumberOfRemainingSubOps)
	if err != nil {
		return nil, err
	}
	if hasCompleted || hasRemaining {
		sub := &SubOperations{Remaining: remaining, Completed: completed, HasRemaining: hasRemaining}
		if sub.Failed, _, err = ds.GetUint16(dicom.TagNumberOfFailedSubOps); err != nil {
			return nil, err
		}
		if sub.Warning, _, err = ds.GetUint16(dicom.TagNumberOfWarningSubOps); err != nil {
			return nil, err
		}
		c.SubOps = sub
	}
	return c, nil
}

// encodeDataSet renders a data set in the transfer syntax of the
// presentation context it travels on.
func encodeDataSet(ds *dicom.DataSet, ts *dicom.TransferSyntax) ([]byte, error) {
	var buf bytes.Buffer
	if err := dicom.WriteDataSet(&buf, ds, ts); err != nil {
		return nil, fmt.Errorf("failed to encode data set: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeDataSet parses a reassembled data set.
func decodeDataSet(raw []byte, ts *dicom.TransferSyntax) (*dicom.DataSet, error) {
	ds, err := dicom.ReadDataSet(dicom.NewScanner(bytes.NewReader(raw), dicom.WithTransferSyntax(ts)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode data set: %w", err)
	}
	return ds, nil
}
