package dimse

import (
	"context"
	"fmt"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// CMoveRequest represents a C-MOVE request
type CMoveRequest struct {
	// SOPClassUID selects the retrieve model. Study root when empty.
	SOPClassUID string
	// Destination is the AE title that receives the sub-operations.
	Destination string
	// Identifier carries the matching keys of the instances to move.
	Identifier *dicom.DataSet
	Priority   uint16
}

// CMoveResponse carries the final status and sub-operation counters of a
// C-MOVE operation. Identifier holds the peer's list of instances it could
// not transfer, when it sent one.
type CMoveResponse struct {
	Status     Status
	SubOps     SubOperations
	Identifier *dicom.DataSet
}

// CMove asks the peer to transmit the matching instances to Destination.
// progress, when given, observes the counters of every pending response.
// Cancelling ctx sends C-CANCEL; the peer reports how far it got.
func (a *Association) CMove(ctx context.Context, req CMoveRequest, progress func(SubOperations)) (*CMoveResponse, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}

	a.UpdateLastUsed()

	if req.Destination == "" {
		return nil, fmt.Errorf("move destination AE title is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = StudyRootQRMove
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
		Field:               CommandCMoveRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
		MoveDestination:     req.Destination,
	}
	if err := a.writeMessage(pc.ID, cmd, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
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

	response := &CMoveResponse{}
	for {
		if err := ctx.Err(); err != nil {
			if serr := sendCancel(err); serr != nil {
				return response, serr
			}
		}

		_, rsp, data, err := a.readMessage()
		if err != nil {
			return response, fmt.Errorf("failed to receive C-MOVE response: %w", err)
		}
		if rsp.Field != CommandCMoveRSP || rsp.RespondedTo != cmd.MessageID {
			return response, a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s response to C-MOVE message %d", rsp.Field, cmd.MessageID), ErrUnexpectedPDU)
		}

		response.Status = rsp.Status
		if rsp.SubOps != nil {
			response.SubOps = *rsp.SubOps
		}

		switch {
		case rsp.Status.IsPending():
			if progress != nil && rsp.SubOps != nil {
				progress(*rsp.SubOps)
			}
		case rsp.Status.IsCancel():
			if cancelCause != nil {
				return response, cancelCause
			}
			return response, ErrCancelled
		case rsp.Status.IsFailure():
			if rsp.HasDataSet {
				if response.Identifier, err = decodeDataSet(data, pc.TransferSyntax); err != nil {
					return response, err
				}
			}
			return response, &ServiceError{Op: "C-MOVE", Status: rsp.Status, Comment: rsp.ErrorComment}
		default:
			// Success, or a warning carrying split counters.
			if rsp.HasDataSet {
				if response.Identifier, err = decodeDataSet(data, pc.TransferSyntax); err != nil {
					return response, err
				}
			}
			return response, nil
		}
	}
}
