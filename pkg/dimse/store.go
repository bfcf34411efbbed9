package dimse

import (
	"context"
	"fmt"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

type storeOptions struct {
	priority         uint16
	moveOriginatorAE string
	moveOriginatorID uint16
}

// StoreOption adjusts a single C-STORE operation.
type StoreOption func(*storeOptions)

// WithPriority sets the request priority.
func WithPriority(priority uint16) StoreOption {
	return func(o *storeOptions) { o.priority = priority }
}

// WithMoveOriginator identifies the C-MOVE operation on whose behalf this
// store is performed.
func WithMoveOriginator(aeTitle string, messageID uint16) StoreOption {
	return func(o *storeOptions) {
		o.moveOriginatorAE = aeTitle
		o.moveOriginatorID = messageID
	}
}

// CStore transmits one composite instance to the peer and returns the status
// it answered with. The instance must carry its SOP class and instance UIDs.
func (a *Association) CStore(ctx context.Context, ds *dicom.DataSet, opts ...StoreOption) (Status, error) {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return 0, err
		}
	}

	a.UpdateLastUsed()

	var options storeOptions
	for _, opt := range opts {
		opt(&options)
	}

	sopClass, err := ds.GetString(dicom.TagSOPClassUID)
	if err != nil {
		return 0, err
	}
	sopInstance, err := ds.GetString(dicom.TagSOPInstanceUID)
	if err != nil {
		return 0, err
	}
	if sopClass == "" || sopInstance == "" {
		return 0, fmt.Errorf("instance is missing SOP class or SOP instance UID")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pc, ok := a.contexts.forAbstractSyntax(sopClass)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoAcceptedContext, sopClass)
	}

	payload, err := encodeDataSet(ds, pc.TransferSyntax)
	if err != nil {
		return 0, err
	}

	cmd := &Command{
		Field:                  CommandCStoreRQ,
		MessageID:              a.nextMessageID(),
		AffectedSOPClassUID:    sopClass,
		AffectedSOPInstanceUID: sopInstance,
		Priority:               options.priority,
		MoveOriginatorAE:       options.moveOriginatorAE,
		MoveOriginatorID:       options.moveOriginatorID,
	}
	if err := a.writeMessage(pc.ID, cmd, payload); err != nil {
		return 0, fmt.Errorf("failed to send C-STORE request: %w", err)
	}

	_, rsp, _, err := a.readMessage()
	if err != nil {
		return 0, fmt.Errorf("failed to receive C-STORE response: %w", err)
	}
	if rsp.Field != CommandCStoreRSP || rsp.RespondedTo != cmd.MessageID {
		return 0, a.violation(AbortReasonUnexpectedPDU,
			fmt.Sprintf("unexpected %s response to C-STORE message %d", rsp.Field, cmd.MessageID), ErrUnexpectedPDU)
	}
	if rsp.Status.IsFailure() {
		return rsp.Status, &ServiceError{Op: "C-STORE", Status: rsp.Status, Comment: rsp.ErrorComment}
	}
	return rsp.Status, nil
}
