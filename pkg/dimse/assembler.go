package dimse

import (
	"bytes"
	"fmt"
)

// messageAssembler reassembles one DIMSE message from the PDV fragments of
// successive P-DATA-TF PDUs. A message is complete when its command set has
// been fully received and, when the command announces one, its data set too.
type messageAssembler struct {
	started     bool
	contextID   byte
	command     bytes.Buffer
	data        bytes.Buffer
	commandDone bool
	dataDone    bool
	cmd         *Command
}

// add consumes one PDV and reports whether the message is now complete.
func (a *messageAssembler) add(pdv PresentationDataValue) (bool, error) {
	if !a.started {
		a.started = true
		a.contextID = pdv.ContextID
	} else if pdv.ContextID != a.contextID {
		return false, fmt.Errorf("presentation context changed mid-message (%d then %d)", a.contextID, pdv.ContextID)
	}

	if pdv.Command {
		if a.commandDone {
			return false, fmt.Errorf("command fragment after final command fragment")
		}
		a.command.Write(pdv.Data)
		if pdv.Last {
			cmd, err := decodeCommand(a.command.Bytes())
			if err != nil {
				return false, err
			}
			a.cmd = cmd
			a.commandDone = true
		}
	} else {
		if !a.commandDone {
			return false, fmt.Errorf("data fragment before command set completed")
		}
		if a.dataDone {
			return false, fmt.Errorf("data fragment after final data fragment")
		}
		a.data.Write(pdv.Data)
		if pdv.Last {
			a.dataDone = true
		}
	}
	return a.complete(), nil
}

func (a *messageAssembler) complete() bool {
	if !a.commandDone {
		return false
	}
	return !a.cmd.HasDataSet || a.dataDone
}

// message returns the assembled command and raw data set bytes (nil when the
// command announced none) and resets the assembler for the next message.
func (a *messageAssembler) message() (byte, *Command, []byte) {
	contextID := a.contextID
	cmd := a.cmd
	var data []byte
	if cmd.HasDataSet {
		data = append([]byte(nil), a.data.Bytes()...)
	}
	*a = messageAssembler{}
	return contextID, cmd, data
}

// fragmentMessage renders a command set (and optional data set bytes) into
// P-DATA-TF PDUs, each no larger than the peer's maximum PDU length.
func fragmentMessage(contextID byte, cmd *Command, data []byte, maxPDU uint32) ([]*PDataTF, error) {
	cmd.HasDataSet = len(data) > 0
	raw, err := cmd.encode()
	if err != nil {
		return nil, err
	}

	if maxPDU == 0 {
		maxPDU = DefaultMaxPDULength
	}
	// One PDV per PDU; the PDV header costs 6 bytes of PDU payload.
	if maxPDU <= 6 {
		return nil, fmt.Errorf("maximum PDU length %d leaves no room for data", maxPDU)
	}
	chunk := int(maxPDU - 6)

	var pdus []*PDataTF
	pdus = appendFragments(pdus, contextID, true, raw, chunk)
	if len(data) > 0 {
		pdus = appendFragments(pdus, contextID, false, data, chunk)
	}
	return pdus, nil
}

func appendFragments(pdus []*PDataTF, contextID byte, command bool, payload []byte, chunk int) []*PDataTF {
	for offset := 0; ; offset += chunk {
		end := offset + chunk
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		pdus = append(pdus, &PDataTF{Values: []PresentationDataValue{{
			ContextID: contextID,
			Command:   command,
			Last:      last,
			Data:      payload[offset:end],
		}}})
		if last {
			return pdus
		}
	}
}
