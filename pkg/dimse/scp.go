package dimse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// Query is one C-FIND/C-MOVE/C-GET identifier presented to the resolver.
type Query struct {
	// SOPClassUID is the query/retrieve model the peer negotiated.
	SOPClassUID string
	// CallingAETitle identifies the asking peer.
	CallingAETitle string
	// Identifier carries the matching and return keys.
	Identifier *dicom.DataSet
}

// InstanceSource yields one stored instance for a retrieval sub-operation.
// Sources let retrievals count their sub-operations up front while loading
// each dataset only when it is about to be transmitted.
type InstanceSource interface {
	// SOPInstanceUID identifies the instance without loading it.
	SOPInstanceUID() string
	// DataSet loads the full composite object.
	DataSet(ctx context.Context) (*dicom.DataSet, error)
}

// QueryResolver answers identifier matching for C-FIND and enumerates the
// instances addressed by C-MOVE/C-GET retrievals. Matching semantics
// (wildcards, levels, ranges) are the resolver's business; the service layer
// only sequences messages.
type QueryResolver interface {
	// Find invokes next once per matching identifier. An error returned by
	// next stops the search and propagates.
	Find(ctx context.Context, q Query, next func(*dicom.DataSet) error) error
	// Retrieve resolves q to the instances a retrieval must transmit.
	Retrieve(ctx context.Context, q Query) ([]InstanceSource, error)
}

// StoredInstance is one composite object received via C-STORE.
type StoredInstance struct {
	CallingAETitle   string
	SOPClassUID      string
	SOPInstanceUID   string
	TransferSyntax   *dicom.TransferSyntax
	MoveOriginatorAE string
	DataSet          *dicom.DataSet
}

// PersistenceStore persists instances received via C-STORE. Returning a
// *ServiceError propagates its status to the peer; any other error maps to
// status 0xC000.
type PersistenceStore interface {
	Store(ctx context.Context, inst *StoredInstance) error
}

// sendFailure marks an error that already broke the association transport,
// as opposed to a resolver failure that can still be answered with a status.
type sendFailure struct{ err error }

func (e *sendFailure) Error() string { return e.err.Error() }
func (e *sendFailure) Unwrap() error { return e.err }

// scpSession drives one accepted association's DIMSE service loop.
type scpSession struct {
	server *Server
	assoc  *Association
	id     uuid.UUID
	rec    *AssociationRecord
	log    zerolog.Logger
}

// run serves messages until release, abort, or transport failure and
// returns the association outcome.
func (s *scpSession) run(ctx context.Context) string {
	a := s.assoc
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		if ctx.Err() != nil {
			a.abort(AbortSourceProvider, AbortReasonNotSpecified)
			return OutcomeAborted
		}

		contextID, cmd, data, err := a.readMessage()
		if err != nil {
			return outcomeFromError(err)
		}

		s.rec.Operations[cmd.Field.String()]++
		if err := s.dispatch(ctx, contextID, cmd, data); err != nil {
			s.log.Warn().Err(err).Str("operation", cmd.Field.String()).Msg("operation failed")
			a.abort(AbortSourceProvider, AbortReasonNotSpecified)
			return OutcomeFailed
		}
	}
}

func outcomeFromError(err error) string {
	if errors.Is(err, ErrAssociationReleased) {
		return OutcomeReleased
	}
	var assocErr *AssociationError
	if errors.As(err, &assocErr) && assocErr.Abort != nil {
		return OutcomeAborted
	}
	return OutcomeFailed
}

func (s *scpSession) dispatch(ctx context.Context, contextID byte, cmd *Command, data []byte) error {
	var (
		status Status
		err    error
	)
	switch cmd.Field {
	case CommandCEchoRQ:
		status, err = s.handleEcho(contextID, cmd)
	case CommandCFindRQ:
		status, err = s.handleFind(ctx, contextID, cmd, data)
	case CommandCStoreRQ:
		status, err = s.handleStore(ctx, contextID, cmd, data)
	case CommandCMoveRQ:
		status, err = s.handleMove(ctx, contextID, cmd, data)
	case CommandCGetRQ:
		status, err = s.handleGet(ctx, contextID, cmd, data)
	case CommandCCancelRQ:
		// Cancel for an operation that already finished.
		s.log.Debug().Uint16("responded_to", cmd.RespondedTo).Msg("ignoring stale C-CANCEL")
		return nil
	default:
		return s.assoc.violation(AbortReasonUnexpectedPDU,
			fmt.Sprintf("unexpected %s message", cmd.Field), ErrUnexpectedPDU)
	}
	if err != nil {
		return err
	}
	if s.server.config.Observer != nil {
		s.server.config.Observer.OperationServed(s.id, cmd.Field.String(), status)
	}
	return nil
}

// checkCancel reports whether a C-CANCEL for the given message is already
// buffered on the association. Other interleaved messages are logged and
// dropped.
func (s *scpSession) checkCancel(messageID uint16) (bool, error) {
	for {
		_, cmd, _, ok, err := s.assoc.takePendingMessage()
		if err != nil {
			return false, s.assoc.violation(AbortReasonInvalidPDUParameter, "malformed PDV stream", err)
		}
		if !ok {
			return false, nil
		}
		if cmd.Field == CommandCCancelRQ && cmd.RespondedTo == messageID {
			return true, nil
		}
		s.log.Debug().Str("operation", cmd.Field.String()).Msg("ignoring interleaved message during operation")
	}
}

func (s *scpSession) handleEcho(contextID byte, cmd *Command) (Status, error) {
	rsp := &Command{
		Field:               CommandCEchoRSP,
		RespondedTo:         cmd.MessageID,
		AffectedSOPClassUID: cmd.AffectedSOPClassUID,
		Status:              StatusSuccess,
	}
	if err := s.assoc.writeMessage(contextID, rsp, nil); err != nil {
		return 0, fmt.Errorf("failed to send C-ECHO response: %w", err)
	}
	return StatusSuccess, nil
}

func (s *scpSession) handleFind(ctx context.Context, contextID byte, cmd *Command, data []byte) (Status, error) {
	a := s.assoc
	pc, ok := a.contexts.byContextID(contextID)
	if !ok {
		return 0, a.violation(AbortReasonInvalidPDUParameter,
			fmt.Sprintf("message on unaccepted presentation context %d", contextID), nil)
	}

	final := func(status Status, comment string) (Status, error) {
		rsp := &Command{
			Field:               CommandCFindRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              status,
			ErrorComment:        clampComment(comment),
		}
		if err := a.writeMessage(contextID, rsp, nil); err != nil {
			return 0, fmt.Errorf("failed to send C-FIND response: %w", err)
		}
		return status, nil
	}

	if s.server.config.Query == nil {
		return final(StatusSOPClassNotSupported, "query not configured")
	}

	identifier, err := decodeDataSet(data, pc.TransferSyntax)
	if err != nil {
		return final(StatusIdentifierMismatch, "cannot parse identifier")
	}

	q := Query{
		SOPClassUID:    cmd.AffectedSOPClassUID,
		CallingAETitle: a.callingAET,
		Identifier:     identifier,
	}
	cancelled := false
	err = s.server.config.Query.Find(ctx, q, func(match *dicom.DataSet) error {
		if cancelled {
			return ErrCancelled
		}
		stop, err := s.checkCancel(cmd.MessageID)
		if err != nil {
			return &sendFailure{err: err}
		}
		if stop {
			cancelled = true
			return ErrCancelled
		}
		payload, err := encodeDataSet(match, pc.TransferSyntax)
		if err != nil {
			return err
		}
		pending := &Command{
			Field:               CommandCFindRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              StatusPending,
		}
		if err := a.writeMessage(contextID, pending, payload); err != nil {
			return &sendFailure{err: fmt.Errorf("failed to send C-FIND response: %w", err)}
		}
		return nil
	})

	switch {
	case cancelled:
		return final(StatusCancel, "")
	case err != nil:
		var sf *sendFailure
		if errors.As(err, &sf) {
			return 0, sf.err
		}
		status, comment := statusFromError(err)
		return final(status, comment)
	}
	return final(StatusSuccess, "")
}

func (s *scpSession) handleStore(ctx context.Context, contextID byte, cmd *Command, data []byte) (Status, error) {
	a := s.assoc
	pc, ok := a.contexts.byContextID(contextID)
	if !ok {
		return 0, a.violation(AbortReasonInvalidPDUParameter,
			fmt.Sprintf("message on unaccepted presentation context %d", contextID), nil)
	}

	respond := func(status Status, comment string) (Status, error) {
		rsp := &Command{
			Field:                  CommandCStoreRSP,
			RespondedTo:            cmd.MessageID,
			AffectedSOPClassUID:    cmd.AffectedSOPClassUID,
			AffectedSOPInstanceUID: cmd.AffectedSOPInstanceUID,
			Status:                 status,
			ErrorComment:           clampComment(comment),
		}
		if err := a.writeMessage(contextID, rsp, nil); err != nil {
			return 0, fmt.Errorf("failed to send C-STORE response: %w", err)
		}
		return status, nil
	}

	if s.server.config.Store == nil {
		return respond(StatusSOPClassNotSupported, "storage not configured")
	}

	ds, err := decodeDataSet(data, pc.TransferSyntax)
	if err != nil {
		return respond(StatusUnableToProcess, "cannot parse data set")
	}
	if ds.Len() == 0 {
		return respond(StatusUnableToProcess, "empty data set")
	}

	inst := &StoredInstance{
		CallingAETitle:   a.callingAET,
		SOPClassUID:      cmd.AffectedSOPClassUID,
		SOPInstanceUID:   cmd.AffectedSOPInstanceUID,
		TransferSyntax:   pc.TransferSyntax,
		MoveOriginatorAE: cmd.MoveOriginatorAE,
		DataSet:          ds,
	}
	if inst.SOPClassUID == "" {
		inst.SOPClassUID, _ = ds.GetString(dicom.TagSOPClassUID)
	}
	if inst.SOPInstanceUID == "" {
		inst.SOPInstanceUID, _ = ds.GetString(dicom.TagSOPInstanceUID)
	}

	if err := s.server.config.Store.Store(ctx, inst); err != nil {
		status, comment := statusFromError(err)
		return respond(status, comment)
	}
	return respond(StatusSuccess, "")
}

// subOpTally tracks retrieval sub-operation outcomes.
type subOpTally struct {
	remaining  int
	completed  int
	failed     int
	warned     int
	failedUIDs []string
}

func (t *subOpTally) fail(sopInstanceUID string) {
	t.failed++
	if sopInstanceUID != "" {
		t.failedUIDs = append(t.failedUIDs, sopInstanceUID)
	}
}

func (t *subOpTally) failRemaining(sources []InstanceSource) {
	for _, src := range sources {
		t.fail(src.SOPInstanceUID())
	}
	t.remaining = 0
}

func (t *subOpTally) progress() *SubOperations {
	return &SubOperations{
		Remaining:    uint16(t.remaining),
		Completed:    uint16(t.completed),
		Failed:       uint16(t.failed),
		Warning:      uint16(t.warned),
		HasRemaining: true,
	}
}

func (t *subOpTally) final() *SubOperations {
	return &SubOperations{
		Completed: uint16(t.completed),
		Failed:    uint16(t.failed),
		Warning:   uint16(t.warned),
	}
}

func (t *subOpTally) finalStatus() Status {
	if t.failed == 0 && t.warned == 0 {
		return StatusSuccess
	}
	return StatusSubOpsCompleteWithFailures
}

// failedUIDPayload encodes the failed SOP instance UID list attached to
// warning and failure finals.
func (t *subOpTally) failedUIDPayload(ts *dicom.TransferSyntax) []byte {
	if len(t.failedUIDs) == 0 {
		return nil
	}
	el, err := dicom.NewElement(dicom.TagFailedSOPInstanceUIDList, t.failedUIDs)
	if err != nil {
		return nil
	}
	ds := dicom.NewDataSet()
	ds.Add(el)
	payload, err := encodeDataSet(ds, ts)
	if err != nil {
		return nil
	}
	return payload
}

func (s *scpSession) handleMove(ctx context.Context, contextID byte, cmd *Command, data []byte) (Status, error) {
	a := s.assoc
	pc, ok := a.contexts.byContextID(contextID)
	if !ok {
		return 0, a.violation(AbortReasonInvalidPDUParameter,
			fmt.Sprintf("message on unaccepted presentation context %d", contextID), nil)
	}

	final := func(status Status, comment string, subs *SubOperations, payload []byte) (Status, error) {
		rsp := &Command{
			Field:               CommandCMoveRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              status,
			ErrorComment:        clampComment(comment),
			SubOps:              subs,
		}
		if err := a.writeMessage(contextID, rsp, payload); err != nil {
			return 0, fmt.Errorf("failed to send C-MOVE response: %w", err)
		}
		return status, nil
	}

	if s.server.config.Query == nil || s.server.config.Resolver == nil {
		return final(StatusSOPClassNotSupported, "move not configured", nil, nil)
	}

	identifier, err := decodeDataSet(data, pc.TransferSyntax)
	if err != nil {
		return final(StatusIdentifierMismatch, "cannot parse identifier", nil, nil)
	}

	q := Query{
		SOPClassUID:    cmd.AffectedSOPClassUID,
		CallingAETitle: a.callingAET,
		Identifier:     identifier,
	}
	sources, err := s.server.config.Query.Retrieve(ctx, q)
	if err != nil {
		status, comment := statusFromError(err)
		return final(status, comment, nil, nil)
	}
	tally := &subOpTally{remaining: len(sources)}

	peer, err := s.server.config.Resolver.Resolve(ctx, cmd.MoveDestination)
	if err != nil {
		status, comment := statusFromError(err)
		return final(status, comment, nil, nil)
	}
	if peer == nil {
		tally.failRemaining(sources)
		return final(StatusMoveDestinationUnknown,
			fmt.Sprintf("unknown move destination %q", cmd.MoveDestination),
			tally.final(), tally.failedUIDPayload(pc.TransferSyntax))
	}

	sub, err := s.server.pool.Get(ctx, *peer)
	if err != nil {
		s.log.Warn().Err(err).Str("destination", peer.AETitle).Msg("failed to reach move destination")
		tally.failRemaining(sources)
		return final(StatusOutOfResources,
			fmt.Sprintf("cannot reach move destination %q", cmd.MoveDestination),
			tally.final(), tally.failedUIDPayload(pc.TransferSyntax))
	}
	defer s.server.pool.Put(sub)

	for i, src := range sources {
		stop, err := s.checkCancel(cmd.MessageID)
		if err != nil {
			return 0, err
		}
		if stop {
			return final(StatusCancel, "", tally.progress(), nil)
		}

		ds, err := src.DataSet(ctx)
		if err != nil {
			s.log.Warn().Err(err).Str("sop_instance_uid", src.SOPInstanceUID()).Msg("failed to load instance")
			tally.fail(src.SOPInstanceUID())
		} else {
			status, err := sub.CStore(ctx, ds,
				WithPriority(cmd.Priority),
				WithMoveOriginator(a.callingAET, cmd.MessageID))
			switch {
			case err != nil && status == 0:
				// The sub-association broke; nothing further can be sent.
				s.log.Warn().Err(err).Str("destination", peer.AETitle).Msg("move sub-operation transport failed")
				tally.fail(src.SOPInstanceUID())
				tally.failRemaining(sources[i+1:])
				return final(tally.finalStatus(), "move destination lost mid-transfer",
					tally.final(), tally.failedUIDPayload(pc.TransferSyntax))
			case status.IsSuccess():
				tally.completed++
			case status.IsWarning():
				tally.warned++
			default:
				tally.fail(src.SOPInstanceUID())
			}
		}
		tally.remaining--

		pending := &Command{
			Field:               CommandCMoveRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              StatusPending,
			SubOps:              tally.progress(),
		}
		if err := a.writeMessage(contextID, pending, nil); err != nil {
			return 0, fmt.Errorf("failed to send C-MOVE response: %w", err)
		}
	}

	return final(tally.finalStatus(), "", tally.final(), tally.failedUIDPayload(pc.TransferSyntax))
}

func (s *scpSession) handleGet(ctx context.Context, contextID byte, cmd *Command, data []byte) (Status, error) {
	a := s.assoc
	pc, ok := a.contexts.byContextID(contextID)
	if !ok {
		return 0, a.violation(AbortReasonInvalidPDUParameter,
			fmt.Sprintf("message on unaccepted presentation context %d", contextID), nil)
	}

	final := func(status Status, comment string, subs *SubOperations, payload []byte) (Status, error) {
		rsp := &Command{
			Field:               CommandCGetRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              status,
			ErrorComment:        clampComment(comment),
			SubOps:              subs,
		}
		if err := a.writeMessage(contextID, rsp, payload); err != nil {
			return 0, fmt.Errorf("failed to send C-GET response: %w", err)
		}
		return status, nil
	}

	if s.server.config.Query == nil {
		return final(StatusSOPClassNotSupported, "retrieval not configured", nil, nil)
	}

	identifier, err := decodeDataSet(data, pc.TransferSyntax)
	if err != nil {
		return final(StatusIdentifierMismatch, "cannot parse identifier", nil, nil)
	}

	q := Query{
		SOPClassUID:    cmd.AffectedSOPClassUID,
		CallingAETitle: a.callingAET,
		Identifier:     identifier,
	}
	sources, err := s.server.config.Query.Retrieve(ctx, q)
	if err != nil {
		status, comment := statusFromError(err)
		return final(status, comment, nil, nil)
	}
	tally := &subOpTally{remaining: len(sources)}

	cancelled := false
	for _, src := range sources {
		stop, err := s.checkCancel(cmd.MessageID)
		if err != nil {
			return 0, err
		}
		if stop || cancelled {
			return final(StatusCancel, "", tally.progress(), nil)
		}

		status, cancelSeen, err := s.sendInvertedStore(ctx, cmd, src)
		if err != nil {
			return 0, err
		}
		if cancelSeen {
			cancelled = true
		}
		switch {
		case status.IsSuccess():
			tally.completed++
		case status.IsWarning():
			tally.warned++
		default:
			tally.fail(src.SOPInstanceUID())
		}
		tally.remaining--

		pending := &Command{
			Field:               CommandCGetRSP,
			RespondedTo:         cmd.MessageID,
			AffectedSOPClassUID: cmd.AffectedSOPClassUID,
			Status:              StatusPending,
			SubOps:              tally.progress(),
		}
		if err := a.writeMessage(contextID, pending, nil); err != nil {
			return 0, fmt.Errorf("failed to send C-GET response: %w", err)
		}
	}

	if cancelled {
		return final(StatusCancel, "", tally.progress(), nil)
	}
	return final(tally.finalStatus(), "", tally.final(), tally.failedUIDPayload(pc.TransferSyntax))
}

// sendInvertedStore transmits one instance back over the requesting
// association as a C-STORE sub-operation and waits for its response. It
// reports a C-CANCEL observed while waiting so the retrieval can stop after
// the in-flight sub-operation.
func (s *scpSession) sendInvertedStore(ctx context.Context, getCmd *Command, src InstanceSource) (Status, bool, error) {
	a := s.assoc

	ds, err := src.DataSet(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("sop_instance_uid", src.SOPInstanceUID()).Msg("failed to load instance")
		return StatusUnableToProcess, false, nil
	}
	sopClass, _ := ds.GetString(dicom.TagSOPClassUID)
	sopInstance, _ := ds.GetString(dicom.TagSOPInstanceUID)

	storeCtx, ok := a.contexts.forAbstractSyntax(sopClass)
	if !ok {
		s.log.Debug().Str("sop_class_uid", sopClass).Msg("peer accepted no storage context for instance")
		return StatusSOPClassNotSupported, false, nil
	}
	payload, err := encodeDataSet(ds, storeCtx.TransferSyntax)
	if err != nil {
		return StatusUnableToProcess, false, nil
	}

	subCmd := &Command{
		Field:                  CommandCStoreRQ,
		MessageID:              a.nextMessageID(),
		AffectedSOPClassUID:    sopClass,
		AffectedSOPInstanceUID: sopInstance,
		Priority:               getCmd.Priority,
	}
	if err := a.writeMessage(storeCtx.ID, subCmd, payload); err != nil {
		return 0, false, fmt.Errorf("failed to send C-STORE request: %w", err)
	}

	cancelSeen := false
	for {
		_, msg, _, err := a.readMessage()
		if err != nil {
			return 0, false, fmt.Errorf("failed to receive C-STORE response: %w", err)
		}
		switch {
		case msg.Field == CommandCStoreRSP && msg.RespondedTo == subCmd.MessageID:
			return msg.Status, cancelSeen, nil
		case msg.Field == CommandCCancelRQ && msg.RespondedTo == getCmd.MessageID:
			cancelSeen = true
		default:
			return 0, false, a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s message during C-GET", msg.Field), ErrUnexpectedPDU)
		}
	}
}

// statusFromError maps a collaborator failure to a response status. A
// *ServiceError carries its own status; anything else is 0xC000.
func statusFromError(err error) (Status, string) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		comment := svcErr.Comment
		if comment == "" && svcErr.Err != nil {
			comment = svcErr.Err.Error()
		}
		return svcErr.Status, comment
	}
	return StatusUnableToProcess, err.Error()
}

// clampComment bounds error comments to the 64 characters the LO value
// representation allows.
func clampComment(comment string) string {
	if len(comment) <= 64 {
		return comment
	}
	return comment[:64]
}
