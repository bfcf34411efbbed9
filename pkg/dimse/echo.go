package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO operation (DICOM ping)
func (a *Association) CEcho(ctx context.Context) error {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}

	a.UpdateLastUsed()

	a.mu.Lock()
	defer a.mu.Unlock()

	pc, ok := a.contexts.forAbstractSyntax(VerificationSOPClass)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAcceptedContext, VerificationSOPClass)
	}

	cmd := &Command{
		Field:               CommandCEchoRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: VerificationSOPClass,
	}
	if err := a.writeMessage(pc.ID, cmd, nil); err != nil {
		return fmt.Errorf("failed to send C-ECHO request: %w", err)
	}

	_, rsp, _, err := a.readMessage()
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO response: %w", err)
	}
	if rsp.Field != CommandCEchoRSP || rsp.RespondedTo != cmd.MessageID {
		return a.violation(AbortReasonUnexpectedPDU,
			fmt.Sprintf("unexpected %s response to C-ECHO message %d", rsp.Field, cmd.MessageID), ErrUnexpectedPDU)
	}
	if !rsp.Status.IsSuccess() {
		return &ServiceError{Op: "C-ECHO", Status: rsp.Status, Comment: rsp.ErrorComment}
	}
	return nil
}
