package dimse

import (
	"context"
	"fmt"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// CFindRequest represents a C-FIND request
type CFindRequest struct {
	// SOPClassUID selects the query model. Study root when empty.
	SOPClassUID string
	// Identifier carries the matching and return keys.
	Identifier *dicom.DataSet
	Priority   uint16
}

// CFindResponse represents the outcome of a C-FIND operation
type CFindResponse struct {
	Status  Status
	Results []*dicom.DataSet
}

// CFind performs a C-FIND operation. Every pending match is passed to
// callback when one is given and collected into Results otherwise.
// Cancelling ctx sends C-CANCEL and drains the remaining responses. The
// callback must not call methods on the association.
func (a *Association) CFind(ctx context.Context, req CFindRequest, callback func(*dicom.DataSet) error) (*CFindResponse, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
	}

	a.UpdateLastUsed()

	a.mu.Lock()
	defer a.mu.Unlock()

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = StudyRootQRFind
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
		Field:               CommandCFindRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: sopClass,
		Priority:            req.Priority,
	}
	if err := a.writeMessage(pc.ID, cmd, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
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

	response := &CFindResponse{}
	for {
		if err := ctx.Err(); err != nil {
			if serr := sendCancel(err); serr != nil {
				return response, serr
			}
		}

		_, rsp, data, err := a.readMessage()
		if err != nil {
			return response, fmt.Errorf("failed to receive C-FIND response: %w", err)
		}
		if rsp.Field != CommandCFindRSP || rsp.RespondedTo != cmd.MessageID {
			return response, a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s response to C-FIND message %d", rsp.Field, cmd.MessageID), ErrUnexpectedPDU)
		}

		response.Status = rsp.Status
		switch {
		case rsp.Status.IsPending():
			if !rsp.HasDataSet {
				continue
			}
			match, err := decodeDataSet(data, pc.TransferSyntax)
			if err != nil {
				return response, err
			}
			if cancelled {
				continue
			}
			if callback == nil {
				response.Results = append(response.Results, match)
				continue
			}
			if err := callback(match); err != nil {
				if serr := sendCancel(err); serr != nil {
					return response, serr
				}
			}
		case rsp.Status.IsCancel():
			if cancelCause != nil {
				return response, cancelCause
			}
			return response, ErrCancelled
		case rsp.Status.IsSuccess():
			return response, nil
		default:
			return response, &ServiceError{Op: "C-FIND", Status: rsp.Status, Comment: rsp.ErrorComment}
		}
	}
}
