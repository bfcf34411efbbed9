package dimse

import (
	"context"
	"fmt"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// CGetRequest represents a C-GET request
type CGetRequest struct {
	// SOPClassUID selects the retrieve model. Study root when empty.
	SOPClassUID string
	// Identifier carries the matching keys of the instances to retrieve.
	Identifier *dicom.DataSet
	Priority   uint16
}

// CGetResponse carries the final status and sub-operation counters of a
// C-GET operation.
type CGetResponse struct {
	Status     Status
	SubOps     SubOperations
	Identifier *dicom.DataSet
}

// CGetHandler persists one instance received during a C-GET and returns the
// status for its C-STORE response.
type CGetHandler func(cmd *Command, ds *dicom.DataSet) Status

// CGet retrieves the matching instances over this association. The peer
// inverts roles and sends each instance as a C-STORE, which is decoded and
// handed to handler. Cancelling ctx sends C-CANCEL.
func (a *Association) CGet(ctx context.Context, req CGetRequest, handler CGetHandler) (*CGetResponse, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}

	a.UpdateLastUsed()

	if handler == nil {
		return nil, fmt.Errorf("a C-GET handler is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = StudyRootQRGet
	}
	pc, ok := a.contexts.forAbstractSyntax(sopClass)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAcceptedContext, sopClass)
	}

	identifier, err := encodeDataSet(req.Identifier, pc.TransferSyntax)
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		Field:               CommandCGetRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
	}
	if err := a.writeMessage(pc.ID, cmd, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-GET request: %w", err)
	}

	var (
		cancelled   bool
		cancelCause error
	)
	sendCancel := func(cause error) error {
		if cancelled {
			return nil
		}
		cancelled = true
		cancelCause = cause
		err := a.writeMessage(pc.ID, &Command{Field: CommandCCancelRQ, RespondedTo: cmd.MessageID}, nil)
		if err != nil {
			return fmt.Errorf("failed to send C-CANCEL request: %w", err)
		}
		return nil
	}

	response := &CGetResponse{}
	for {
		if err := ctx.Err(); err != nil {
			if serr := sendCancel(err); serr != nil {
				return response, serr
			}
		}

		contextID, msg, data, err := a.readMessage()
		if err != nil {
			return response, fmt.Errorf("failed to receive C-GET response: %w", err)
		}

		switch msg.Field {
		case CommandCStoreRQ:
			if err := a.answerSubStore(contextID, msg, data, handler); err != nil {
				return response, err
			}

		case CommandCGetRSP:
			if msg.RespondedTo != cmd.MessageID {
				return response, a.violation(AbortReasonUnexpectedPDU,
					fmt.Sprintf("C-GET response to unknown message %d", msg.RespondedTo), ErrUnexpectedPDU)
			}
			response.Status = msg.Status
			if msg.SubOps != nil {
				response.SubOps = *msg.SubOps
			}
			switch {
			case msg.Status.IsPending():
			case msg.Status.IsCancel():
				if cancelCause != nil {
					return response, cancelCause
				}
				return response, ErrCancelled
			case msg.Status.IsFailure():
				if msg.HasDataSet {
					if response.Identifier, err = decodeDataSet(data, pc.TransferSyntax); err != nil {
						return response, err
					}
				}
				return response, &ServiceError{Op: "C-GET", Status: msg.Status, Comment: msg.ErrorComment}
			default:
				if msg.HasDataSet {
					if response.Identifier, err = decodeDataSet(data, pc.TransferSyntax); err != nil {
						return response, err
					}
				}
				return response, nil
			}

		default:
			return response, a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s message during C-GET", msg.Field), ErrUnexpectedPDU)
		}
	}
}

// answerSubStore handles one inverted C-STORE of a C-GET and responds with
// the handler's status. Callers must hold a.mu.
func (a *Association) answerSubStore(contextID byte, msg *Command, data []byte, handler CGetHandler) error {
	storeCtx, ok := a.contexts.byContextID(contextID)
	if !ok {
		return a.violation(AbortReasonInvalidPDUParameter,
			fmt.Sprintf("C-STORE on unaccepted presentation context %d", contextID), nil)
	}

	status := StatusSuccess
	ds, err := decodeDataSet(data, storeCtx.TransferSyntax)
	if err != nil {
		a.log.Debug().Err(err).Msg("failed to decode incoming instance")
		status = StatusUnableToProcess
	} else {
		status = handler(msg, ds)
	}

	rsp := &Command{
		Field:                  CommandCStoreRSP,
		RespondedTo:            msg.MessageID,
		AffectedSOPClassUID:    msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID: msg.AffectedSOPInstanceUID,
		Status:                 status,
	}
	if err := a.writeMessage(contextID, rsp, nil); err != nil {
		return fmt.Errorf("failed to send C-STORE response: %w", err)
	}
	return nil
}
