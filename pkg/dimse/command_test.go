package dimse

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

func TestCommandRoundTripEcho(t *testing.T) {
	in := &Command{
		Field:               CommandCEchoRQ,
		MessageID:           7,
		AffectedSOPClassUID: VerificationSOPClass,
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.Field != CommandCEchoRQ {
		t.Errorf("Field => %s, want C-ECHO-RQ", out.Field)
	}
	if out.MessageID != 7 {
		t.Errorf("MessageID => %d, want 7", out.MessageID)
	}
	if out.AffectedSOPClassUID != VerificationSOPClass {
		t.Errorf("AffectedSOPClassUID => %q", out.AffectedSOPClassUID)
	}
	if out.HasDataSet {
		t.Error("HasDataSet => true, want false")
	}
}

func TestCommandRoundTripStoreWithOriginator(t *testing.T) {
	in := &Command{
		Field:                  CommandCStoreRQ,
		MessageID:              21,
		AffectedSOPClassUID:    CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
		Priority:               PriorityHigh,
		HasDataSet:             true,
		MoveOriginatorAE:       "MOVER",
		MoveOriginatorID:       9,
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.Field != CommandCStoreRQ || out.MessageID != 21 {
		t.Errorf("header => %s/%d", out.Field, out.MessageID)
	}
	if out.AffectedSOPInstanceUID != "1.2.3.4.5" {
		t.Errorf("AffectedSOPInstanceUID => %q", out.AffectedSOPInstanceUID)
	}
	if out.Priority != PriorityHigh {
		t.Errorf("Priority => %d, want %d", out.Priority, PriorityHigh)
	}
	if !out.HasDataSet {
		t.Error("HasDataSet => false, want true")
	}
	if out.MoveOriginatorAE != "MOVER" || out.MoveOriginatorID != 9 {
		t.Errorf("originator => %q/%d, want MOVER/9", out.MoveOriginatorAE, out.MoveOriginatorID)
	}
}

func TestCommandRoundTripMoveRequest(t *testing.T) {
	in := &Command{
		Field:               CommandCMoveRQ,
		MessageID:           4,
		AffectedSOPClassUID: StudyRootQRMove,
		MoveDestination:     "WORKSTATION",
		Priority:            PriorityMedium,
		HasDataSet:          true,
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.MoveDestination != "WORKSTATION" {
		t.Errorf("MoveDestination => %q, want WORKSTATION", out.MoveDestination)
	}
}

func TestCommandRoundTripPendingCounters(t *testing.T) {
	in := &Command{
		Field:               CommandCMoveRSP,
		RespondedTo:         4,
		AffectedSOPClassUID: StudyRootQRMove,
		Status:              StatusPending,
		SubOps: &SubOperations{
			Remaining:    5,
			Completed:    3,
			Failed:       1,
			Warning:      1,
			HasRemaining: true,
		},
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.RespondedTo != 4 {
		t.Errorf("RespondedTo => %d, want 4", out.RespondedTo)
	}
	if out.Status != StatusPending {
		t.Errorf("Status => %s, want pending", out.Status)
	}
	if out.SubOps == nil {
		t.Fatal("SubOps => nil")
	}
	want := SubOperations{Remaining: 5, Completed: 3, Failed: 1, Warning: 1, HasRemaining: true}
	if *out.SubOps != want {
		t.Errorf("SubOps => %+v, want %+v", *out.SubOps, want)
	}
}

func TestCommandFinalCountersOmitRemaining(t *testing.T) {
	in := &Command{
		Field:       CommandCGetRSP,
		RespondedTo: 2,
		Status:      StatusSuccess,
		SubOps:      &SubOperations{Completed: 8},
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.SubOps == nil {
		t.Fatal("SubOps => nil")
	}
	if out.SubOps.HasRemaining {
		t.Error("HasRemaining => true, want false on a final response")
	}
	if out.SubOps.Completed != 8 {
		t.Errorf("Completed => %d, want 8", out.SubOps.Completed)
	}
}

func TestCommandCancelUsesRespondedTo(t *testing.T) {
	in := &Command{Field: CommandCCancelRQ, RespondedTo: 33}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.RespondedTo != 33 {
		t.Errorf("RespondedTo => %d, want 33", out.RespondedTo)
	}
	if out.MessageID != 0 {
		t.Errorf("MessageID => %d, want 0", out.MessageID)
	}
}

func TestCommandErrorCommentAndStatus(t *testing.T) {
	in := &Command{
		Field:        CommandCStoreRSP,
		RespondedTo:  11,
		Status:       StatusUnableToProcess,
		ErrorComment: "disk full",
	}
	raw, err := in.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	out, err := decodeCommand(raw)
	if err != nil {
		t.Fatalf("decodeCommand => %v", err)
	}
	if out.Status != StatusUnableToProcess {
		t.Errorf("Status => %s, want 0xC000", out.Status)
	}
	if out.ErrorComment != "disk full" {
		t.Errorf("ErrorComment => %q, want \"disk full\"", out.ErrorComment)
	}
}

func TestCommandGroupLengthPrefix(t *testing.T) {
	cmd := &Command{Field: CommandCEchoRQ, MessageID: 1, AffectedSOPClassUID: VerificationSOPClass}
	raw, err := cmd.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	// Implicit VR: (0000,0000) UL, 4-byte length, then the declared count of
	// command set bytes.
	if len(raw) < 12 {
		t.Fatalf("encoded command too short: %d bytes", len(raw))
	}
	head := []byte{0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00}
	if !bytes.Equal(raw[:8], head) {
		t.Fatalf("group length element header =>\n% X\nwant\n% X", raw[:8], head)
	}
	declared := binary.LittleEndian.Uint32(raw[8:12])
	if int(declared) != len(raw)-12 {
		t.Errorf("group length => %d, want %d", declared, len(raw)-12)
	}
}

func TestDecodeCommandMissingCommandField(t *testing.T) {
	ds := dicom.NewDataSet()
	el, err := dicom.NewElement(dicom.TagCommandDataSetType, commandDataSetNull)
	if err != nil {
		t.Fatalf("NewElement => %v", err)
	}
	ds.Add(el)
	var buf bytes.Buffer
	if err := dicom.WriteDataSet(&buf, ds, dicom.ImplicitVRLittleEndian); err != nil {
		t.Fatalf("WriteDataSet => %v", err)
	}
	_, err = decodeCommand(buf.Bytes())
	if err == nil || !strings.Contains(err.Error(), "command field") {
		t.Fatalf("decodeCommand => %v, want missing command field error", err)
	}
}
