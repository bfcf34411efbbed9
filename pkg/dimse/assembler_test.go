package dimse

import (
	"bytes"
	"strings"
	"testing"
)

func reassemble(t *testing.T, pdus []*PDataTF) (byte, *Command, []byte) {
	t.Helper()
	var asm messageAssembler
	done := false
	for _, p := range pdus {
		for _, v := range p.Values {
			var err error
			done, err = asm.add(v)
			if err != nil {
				t.Fatalf("add => %v", err)
			}
		}
	}
	if !done {
		t.Fatal("message incomplete after all fragments")
	}
	return asm.message()
}

func TestFragmentMessageSplitsAcrossPDUs(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	cmd := &Command{
		Field:               CommandCFindRQ,
		MessageID:           5,
		AffectedSOPClassUID: StudyRootQRFind,
	}

	const maxPDU = 46 // 40 bytes of fragment payload per PDU
	pdus, err := fragmentMessage(9, cmd, data, maxPDU)
	if err != nil {
		t.Fatalf("fragmentMessage => %v", err)
	}
	if len(pdus) < 4 {
		t.Fatalf("fragmentMessage => %d PDUs, want at least 4", len(pdus))
	}
	for i, p := range pdus {
		if len(p.Values) != 1 {
			t.Fatalf("PDU %d carries %d PDVs, want 1", i, len(p.Values))
		}
		var buf bytes.Buffer
		if err := WritePDU(&buf, p); err != nil {
			t.Fatalf("WritePDU => %v", err)
		}
		if payload := buf.Len() - 6; payload > maxPDU {
			t.Errorf("PDU %d payload %d bytes exceeds maximum %d", i, payload, maxPDU)
		}
	}

	contextID, out, raw := reassemble(t, pdus)
	if contextID != 9 {
		t.Errorf("context ID => %d, want 9", contextID)
	}
	if out.Field != CommandCFindRQ || out.MessageID != 5 {
		t.Errorf("command => %s/%d, want C-FIND-RQ/5", out.Field, out.MessageID)
	}
	if !out.HasDataSet {
		t.Error("HasDataSet => false, want true")
	}
	if !bytes.Equal(raw, data) {
		t.Errorf("data set bytes differ after reassembly:\n% X\nwant\n% X", raw, data)
	}
}

func TestFragmentMessageCommandOnly(t *testing.T) {
	cmd := &Command{Field: CommandCEchoRQ, MessageID: 2, AffectedSOPClassUID: VerificationSOPClass}
	pdus, err := fragmentMessage(1, cmd, nil, 0)
	if err != nil {
		t.Fatalf("fragmentMessage => %v", err)
	}
	if len(pdus) != 1 {
		t.Fatalf("fragmentMessage => %d PDUs, want 1", len(pdus))
	}
	pdv := pdus[0].Values[0]
	if !pdv.Command || !pdv.Last {
		t.Errorf("PDV flags => command=%v last=%v, want both", pdv.Command, pdv.Last)
	}

	_, out, raw := reassemble(t, pdus)
	if out.HasDataSet {
		t.Error("HasDataSet => true, want false")
	}
	if raw != nil {
		t.Errorf("data => %d bytes, want none", len(raw))
	}
}

func TestFragmentMessageRejectsTinyMaximum(t *testing.T) {
	cmd := &Command{Field: CommandCEchoRQ, MessageID: 1}
	if _, err := fragmentMessage(1, cmd, nil, 6); err == nil {
		t.Fatal("fragmentMessage => nil error, want one for unusable maximum")
	}
}

func TestAssemblerRejectsContextChange(t *testing.T) {
	cmd := &Command{Field: CommandCEchoRQ, MessageID: 1, AffectedSOPClassUID: VerificationSOPClass}
	raw, err := cmd.encode()
	if err != nil {
		t.Fatalf("encode => %v", err)
	}
	var asm messageAssembler
	if _, err := asm.add(PresentationDataValue{ContextID: 1, Command: true, Data: raw[:10]}); err != nil {
		t.Fatalf("add => %v", err)
	}
	_, err = asm.add(PresentationDataValue{ContextID: 3, Command: true, Last: true, Data: raw[10:]})
	if err == nil || !strings.Contains(err.Error(), "presentation context changed") {
		t.Fatalf("add => %v, want context change error", err)
	}
}

func TestAssemblerRejectsDataBeforeCommand(t *testing.T) {
	var asm messageAssembler
	_, err := asm.add(PresentationDataValue{ContextID: 1, Command: false, Data: []byte{0x00}})
	if err == nil || !strings.Contains(err.Error(), "before command") {
		t.Fatalf("add => %v, want ordering error", err)
	}
}

func TestAssemblerResetsBetweenMessages(t *testing.T) {
	first := &Command{Field: CommandCEchoRQ, MessageID: 1, AffectedSOPClassUID: VerificationSOPClass}
	second := &Command{Field: CommandCEchoRQ, MessageID: 2, AffectedSOPClassUID: VerificationSOPClass}

	var asm messageAssembler
	for i, cmd := range []*Command{first, second} {
		raw, err := cmd.encode()
		if err != nil {
			t.Fatalf("encode => %v", err)
		}
		done, err := asm.add(PresentationDataValue{ContextID: 1, Command: true, Last: true, Data: raw})
		if err != nil {
			t.Fatalf("add => %v", err)
		}
		if !done {
			t.Fatal("message incomplete")
		}
		_, out, _ := asm.message()
		if want := uint16(i + 1); out.MessageID != want {
			t.Errorf("MessageID => %d, want %d", out.MessageID, want)
		}
	}
}
