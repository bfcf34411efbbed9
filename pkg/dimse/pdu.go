package dimse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PDUType identifies an upper-layer protocol data unit.
type PDUType byte

const (
	PDUTypeAAssociateRQ PDUType = 0x01
	PDUTypeAAssociateAC PDUType = 0x02
	PDUTypeAAssociateRJ PDUType = 0x03
	PDUTypePDataTF      PDUType = 0x04
	PDUTypeAReleaseRQ   PDUType = 0x05
	PDUTypeAReleaseRP   PDUType = 0x06
	PDUTypeAAbort       PDUType = 0x07
)

// Variable item and sub-item type codes used inside A-ASSOCIATE PDUs.
const (
	itemApplicationContext     byte = 0x10
	itemPresentationContextRQ  byte = 0x20
	itemPresentationContextAC  byte = 0x21
	itemAbstractSyntax         byte = 0x30
	itemTransferSyntax         byte = 0x40
	itemUserInformation        byte = 0x50
	itemMaxPDULength           byte = 0x51
	itemImplementationClassUID byte = 0x52
	itemAsyncOperationsWindow  byte = 0x53
	itemImplementationVersion  byte = 0x55
)

// Presentation context negotiation results.
const (
	PresentationAccepted               byte = 0
	PresentationUserRejection          byte = 1
	PresentationNoReason               byte = 2
	PresentationAbstractSyntaxRejected byte = 3
	PresentationTransferSyntaxRejected byte = 4
)

// DefaultMaxPDULength is the maximum PDU length offered when configuration
// does not specify one.
const DefaultMaxPDULength uint32 = 16384

// sanityMaxPDU bounds PDU lengths before a maximum has been negotiated.
const sanityMaxPDU uint32 = 1 << 20

// PDU is an upper-layer protocol data unit.
type PDU interface {
	PDUType() PDUType
}

// RawItem preserves an item this package does not interpret, so negotiation
// payloads survive a decode/encode round trip.
type RawItem struct {
	Type byte
	Data []byte
}

// PresentationContextRQ is one proposed presentation context: an abstract
// syntax with the transfer syntaxes the requestor can use for it, in
// preference order.
type PresentationContextRQ struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContextAC is the acceptor's answer for one proposed context.
// TransferSyntax is meaningful only when Result is PresentationAccepted.
type PresentationContextAC struct {
	ID             byte
	Result         byte
	TransferSyntax string
}

// UserInformation is the user information item of an A-ASSOCIATE PDU.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string

	// MaxOperationsInvoked/Performed mirror the asynchronous operations
	// window sub-item; zero means the sub-item was absent.
	MaxOperationsInvoked   uint16
	MaxOperationsPerformed uint16
	hasAsyncWindow         bool

	// Other carries unrecognized sub-items opaquely.
	Other []RawItem
}

// AAssociateRQ requests an association.
type AAssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*PresentationContextRQ
	UserInformation      UserInformation
}

func (p *AAssociateRQ) PDUType() PDUType { return PDUTypeAAssociateRQ }

// AAssociateAC accepts an association.
type AAssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*PresentationContextAC
	UserInformation      UserInformation
}

func (p *AAssociateAC) PDUType() PDUType { return PDUTypeAAssociateAC }

// AAssociateRJ refuses an association.
type AAssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

func (p *AAssociateRJ) PDUType() PDUType { return PDUTypeAAssociateRJ }

// Association rejection codes.
const (
	RejectResultPermanent byte = 1
	RejectResultTransient byte = 2

	RejectSourceUser                 byte = 1
	RejectSourceProviderACSE         byte = 2
	RejectSourceProviderPresentation byte = 3

	RejectReasonNoReason               byte = 1
	RejectReasonAppContextNotSupported byte = 2
	RejectReasonCallingAENotRecognized byte = 3
	RejectReasonCalledAENotRecognized  byte = 7

	RejectReasonTemporaryCongestion byte = 1
	RejectReasonLocalLimitExceeded  byte = 2
)

func (p *AAssociateRJ) String() string {
	result := "permanent"
	if p.Result == RejectResultTransient {
		result = "transient"
	}
	return fmt.Sprintf("association rejected (%s, source=%d, reason=%d)", result, p.Source, p.Reason)
}

// AReleaseRQ requests an orderly release.
type AReleaseRQ struct{}

func (p *AReleaseRQ) PDUType() PDUType { return PDUTypeAReleaseRQ }

// AReleaseRP confirms an orderly release.
type AReleaseRP struct{}

func (p *AReleaseRP) PDUType() PDUType { return PDUTypeAReleaseRP }

// AAbort tears an association down immediately.
type AAbort struct {
	Source byte
	Reason byte
}

func (p *AAbort) PDUType() PDUType { return PDUTypeAAbort }

// Abort codes.
const (
	AbortSourceUser     byte = 0
	AbortSourceProvider byte = 2

	AbortReasonNotSpecified        byte = 0
	AbortReasonUnrecognizedPDU     byte = 1
	AbortReasonUnexpectedPDU       byte = 2
	AbortReasonInvalidPDUParameter byte = 6
)

func (p *AAbort) String() string {
	source := "user"
	if p.Source == AbortSourceProvider {
		source = "provider"
	}
	return fmt.Sprintf("association aborted (source=%s, reason=%d)", source, p.Reason)
}

// PresentationDataValue is one PDV inside a P-DATA-TF PDU: a fragment of a
// command set or data set on one presentation context.
type PresentationDataValue struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// PDataTF carries presentation data values.
type PDataTF struct {
	Values []PresentationDataValue
}

func (p *PDataTF) PDUType() PDUType { return PDUTypePDataTF }

// WritePDU encodes p with its 6-byte header and writes it to w.
func WritePDU(w io.Writer, p PDU) error {
	payload, err := encodePayload(p)
	if err != nil {
		return err
	}
	header := make([]byte, 6)
	header[0] = byte(p.PDUType())
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write PDU header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write PDU payload: %w", err)
	}
	return nil
}

// ReadPDU reads one PDU from r. maxLength bounds the declared payload length;
// zero applies a pre-negotiation sanity bound. A clean EOF before the first
// header byte is returned as io.EOF.
func ReadPDU(r io.Reader, maxLength uint32) (PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &PduError{Msg: "short header", Err: err}
	}
	typ := header[0]
	length := binary.BigEndian.Uint32(header[2:])

	limit := maxLength
	if limit == 0 {
		limit = sanityMaxPDU
	}
	if length > limit {
		return nil, &PduError{Type: typ, Msg: fmt.Sprintf("declared length %d", length), Err: ErrPDUTooLarge}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &PduError{Type: typ, Msg: "short payload", Err: err}
	}
	return decodePayload(typ, payload)
}

func encodePayload(p PDU) ([]byte, error) {
	switch pdu := p.(type) {
	case *AAssociateRQ:
		return encodeAssociate(pdu.ProtocolVersion, pdu.CalledAETitle, pdu.CallingAETitle, func(buf *bytes.Buffer) {
			putItem(buf, itemApplicationContext, []byte(pdu.ApplicationContext))
			for _, pc := range pdu.PresentationContexts {
				var sub bytes.Buffer
				sub.Write([]byte{pc.ID, 0, 0, 0})
				putItem(&sub, itemAbstractSyntax, []byte(pc.AbstractSyntax))
				for _, ts := range pc.TransferSyntaxes {
					putItem(&sub, itemTransferSyntax, []byte(ts))
				}
				putItem(buf, itemPresentationContextRQ, sub.Bytes())
			}
			putUserInformation(buf, &pdu.UserInformation)
		})
	case *AAssociateAC:
		return encodeAssociate(pdu.ProtocolVersion, pdu.CalledAETitle, pdu.CallingAETitle, func(buf *bytes.Buffer) {
			putItem(buf, itemApplicationContext, []byte(pdu.ApplicationContext))
			for _, pc := range pdu.PresentationContexts {
				var sub bytes.Buffer
				sub.Write([]byte{pc.ID, 0, pc.Result, 0})
				putItem(&sub, itemTransferSyntax, []byte(pc.TransferSyntax))
				putItem(buf, itemPresentationContextAC, sub.Bytes())
			}
			putUserInformation(buf, &pdu.UserInformation)
		})
	case *AAssociateRJ:
		return []byte{0, pdu.Result, pdu.Source, pdu.Reason}, nil
	case *AReleaseRQ, *AReleaseRP:
		return []byte{0, 0, 0, 0}, nil
	case *AAbort:
		return []byte{0, 0, pdu.Source, pdu.Reason}, nil
	case *PDataTF:
		var buf bytes.Buffer
		for _, pdv := range pdu.Values {
			var control byte
			if pdv.Command {
				control |= 0x01
			}
			if pdv.Last {
				control |= 0x02
			}
			var head [6]byte
			binary.BigEndian.PutUint32(head[0:], uint32(len(pdv.Data))+2)
			head[4] = pdv.ContextID
			head[5] = control
			buf.Write(head[:])
			buf.Write(pdv.Data)
		}
		return buf.Bytes(), nil
	default:
		return nil, pduErrorf(byte(p.PDUType()), "cannot encode PDU type")
	}
}

func encodeAssociate(version uint16, called, calling string, items func(*bytes.Buffer)) ([]byte, error) {
	if err := validAETitle(called); err != nil {
		return nil, err
	}
	if err := validAETitle(calling); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	var fixed [68]byte
	binary.BigEndian.PutUint16(fixed[0:], version)
	copy(fixed[4:20], padAETitle(called))
	copy(fixed[20:36], padAETitle(calling))
	buf.Write(fixed[:])
	items(&buf)
	return buf.Bytes(), nil
}

func putItem(buf *bytes.Buffer, typ byte, payload []byte) {
	var head [4]byte
	head[0] = typ
	binary.BigEndian.PutUint16(head[2:], uint16(len(payload)))
	buf.Write(head[:])
	buf.Write(payload)
}

func putUserInformation(buf *bytes.Buffer, ui *UserInformation) {
	var sub bytes.Buffer
	var maxLen [4]byte
	binary.BigEndian.PutUint32(maxLen[:], ui.MaxPDULength)
	putItem(&sub, itemMaxPDULength, maxLen[:])
	if ui.ImplementationClassUID != "" {
		putItem(&sub, itemImplementationClassUID, []byte(ui.ImplementationClassUID))
	}
	if ui.hasAsyncWindow || ui.MaxOperationsInvoked != 0 || ui.MaxOperationsPerformed != 0 {
		var window [4]byte
		binary.BigEndian.PutUint16(window[0:], ui.MaxOperationsInvoked)
		binary.BigEndian.PutUint16(window[2:], ui.MaxOperationsPerformed)
		putItem(&sub, itemAsyncOperationsWindow, window[:])
	}
	if ui.ImplementationVersionName != "" {
		putItem(&sub, itemImplementationVersion, []byte(ui.ImplementationVersionName))
	}
	for _, raw := range ui.Other {
		putItem(&sub, raw.Type, raw.Data)
	}
	putItem(buf, itemUserInformation, sub.Bytes())
}

func decodePayload(typ byte, payload []byte) (PDU, error) {
	switch PDUType(typ) {
	case PDUTypeAAssociateRQ:
		return decodeAssociateRQ(payload)
	case PDUTypeAAssociateAC:
		return decodeAssociateAC(payload)
	case PDUTypeAAssociateRJ:
		if len(payload) < 4 {
			return nil, pduErrorf(typ, "payload too short")
		}
		return &AAssociateRJ{Result: payload[1], Source: payload[2], Reason: payload[3]}, nil
	case PDUTypeAReleaseRQ:
		return &AReleaseRQ{}, nil
	case PDUTypeAReleaseRP:
		return &AReleaseRP{}, nil
	case PDUTypeAAbort:
		if len(payload) < 4 {
			return nil, pduErrorf(typ, "payload too short")
		}
		return &AAbort{Source: payload[2], Reason: payload[3]}, nil
	case PDUTypePDataTF:
		return decodePDataTF(payload)
	default:
		return nil, &PduError{Type: typ, Err: ErrUnknownPDUType}
	}
}

func decodeAssociateFixed(typ byte, payload []byte) (version uint16, called, calling string, rest []byte, err error) {
	if len(payload) < 68 {
		return 0, "", "", nil, pduErrorf(typ, "associate payload too short (%d bytes)", len(payload))
	}
	version = binary.BigEndian.Uint16(payload[0:2])
	called = strings.TrimRight(string(payload[4:20]), " \x00")
	calling = strings.TrimRight(string(payload[20:36]), " \x00")
	return version, called, calling, payload[68:], nil
}

func decodeAssociateRQ(payload []byte) (PDU, error) {
	typ := byte(PDUTypeAAssociateRQ)
	version, called, calling, rest, err := decodeAssociateFixed(typ, payload)
	if err != nil {
		return nil, err
	}
	pdu := &AAssociateRQ{ProtocolVersion: version, CalledAETitle: called, CallingAETitle: calling}
	err = eachItem(typ, rest, func(itemType byte, data []byte) error {
		switch itemType {
		case itemApplicationContext:
			pdu.ApplicationContext = string(data)
		case itemPresentationContextRQ:
			pc, err := decodePresentationContextRQ(typ, data)
			if err != nil {
				return err
			}
			pdu.PresentationContexts = append(pdu.PresentationContexts, pc)
		case itemUserInformation:
			return decodeUserInformation(typ, data, &pdu.UserInformation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pdu, nil
}

func decodeAssociateAC(payload []byte) (PDU, error) {
	typ := byte(PDUTypeAAssociateAC)
	version, called, calling, rest, err := decodeAssociateFixed(typ, payload)
	if err != nil {
		return nil, err
	}
	pdu := &AAssociateAC{ProtocolVersion: version, CalledAETitle: called, CallingAETitle: calling}
	err = eachItem(typ, rest, func(itemType byte, data []byte) error {
		switch itemType {
		case itemApplicationContext:
			pdu.ApplicationContext = string(data)
		case itemPresentationContextAC:
			if len(data) < 4 {
				return pduErrorf(typ, "presentation context item too short")
			}
			pc := &PresentationContextAC{ID: data[0], Result: data[2]}
			err := eachItem(typ, data[4:], func(subType byte, sub []byte) error {
				if subType == itemTransferSyntax {
					pc.TransferSyntax = string(sub)
				}
				return nil
			})
			if err != nil {
				return err
			}
			pdu.PresentationContexts = append(pdu.PresentationContexts, pc)
		case itemUserInformation:
			return decodeUserInformation(typ, data, &pdu.UserInformation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pdu, nil
}

func decodePresentationContextRQ(typ byte, data []byte) (*PresentationContextRQ, error) {
	if len(data) < 4 {
		return nil, pduErrorf(typ, "presentation context item too short")
	}
	pc := &PresentationContextRQ{ID: data[0]}
	err := eachItem(typ, data[4:], func(subType byte, sub []byte) error {
		switch subType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = string(sub)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, string(sub))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func decodeUserInformation(typ byte, data []byte, ui *UserInformation) error {
	return eachItem(typ, data, func(subType byte, sub []byte) error {
		switch subType {
		case itemMaxPDULength:
			if len(sub) != 4 {
				return pduErrorf(typ, "maximum length sub-item has %d bytes", len(sub))
			}
			ui.MaxPDULength = binary.BigEndian.Uint32(sub)
		case itemImplementationClassUID:
			ui.ImplementationClassUID = string(sub)
		case itemImplementationVersion:
			ui.ImplementationVersionName = string(sub)
		case itemAsyncOperationsWindow:
			if len(sub) != 4 {
				return pduErrorf(typ, "async operations window has %d bytes", len(sub))
			}
			ui.MaxOperationsInvoked = binary.BigEndian.Uint16(sub[0:2])
			ui.MaxOperationsPerformed = binary.BigEndian.Uint16(sub[2:4])
			ui.hasAsyncWindow = true
		default:
			ui.Other = append(ui.Other, RawItem{Type: subType, Data: append([]byte(nil), sub...)})
		}
		return nil
	})
}

// eachItem walks a run of type/reserved/length-prefixed items.
func eachItem(typ byte, data []byte, fn func(itemType byte, payload []byte) error) error {
	for len(data) > 0 {
		if len(data) < 4 {
			return pduErrorf(typ, "truncated item header")
		}
		itemType := data[0]
		length := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data) < 4+length {
			return pduErrorf(typ, "item 0x%02X declares %d bytes, %d remain", itemType, length, len(data)-4)
		}
		if err := fn(itemType, data[4:4+length]); err != nil {
			return err
		}
		data = data[4+length:]
	}
	return nil
}

func decodePDataTF(payload []byte) (PDU, error) {
	typ := byte(PDUTypePDataTF)
	pdu := &PDataTF{}
	for len(payload) > 0 {
		if len(payload) < 6 {
			return nil, pduErrorf(typ, "truncated presentation data value")
		}
		length := binary.BigEndian.Uint32(payload[0:4])
		if length < 2 || int(length) > len(payload)-4 {
			return nil, pduErrorf(typ, "presentation data value declares %d bytes, %d remain", length, len(payload)-4)
		}
		control := payload[5]
		pdu.Values = append(pdu.Values, PresentationDataValue{
			ContextID: payload[4],
			Command:   control&0x01 != 0,
			Last:      control&0x02 != 0,
			Data:      append([]byte(nil), payload[6:4+length]...),
		})
		payload = payload[4+length:]
	}
	return pdu, nil
}

// padAETitle space-pads an AE title to its fixed 16-byte field.
func padAETitle(aet string) []byte {
	field := make([]byte, 16)
	for i := range field {
		field[i] = ' '
	}
	copy(field, aet)
	return field
}

// validAETitle enforces the 16-character limit and printable ASCII charset.
func validAETitle(aet string) error {
	if aet == "" {
		return fmt.Errorf("AE title is empty")
	}
	if len(aet) > 16 {
		return fmt.Errorf("AE title %q exceeds 16 characters", aet)
	}
	for i := 0; i < len(aet); i++ {
		if aet[i] < 0x20 || aet[i] > 0x7E || aet[i] == '\\' {
			return fmt.Errorf("AE title %q contains invalid character", aet)
		}
	}
	return nil
}
