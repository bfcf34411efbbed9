package dimse

import (
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// State is the lifecycle phase of an association.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateNegotiating
	StateEstablished
	StateReleasing
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateReleasing:
		return "releasing"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AcceptedContext is one presentation context agreed during negotiation.
type AcceptedContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax *dicom.TransferSyntax
}

// contextManager indexes the accepted presentation contexts of an
// association by context ID and by abstract syntax.
type contextManager struct {
	byID       map[byte]*AcceptedContext
	byAbstract map[string]*AcceptedContext
}

func newContextManager() *contextManager {
	return &contextManager{
		byID:       make(map[byte]*AcceptedContext),
		byAbstract: make(map[string]*AcceptedContext),
	}
}

func (m *contextManager) add(id byte, abstractSyntax string, ts *dicom.TransferSyntax) {
	ctx := &AcceptedContext{ID: id, AbstractSyntax: abstractSyntax, TransferSyntax: ts}
	m.byID[id] = ctx
	if _, ok := m.byAbstract[abstractSyntax]; !ok {
		m.byAbstract[abstractSyntax] = ctx
	}
}

func (m *contextManager) byContextID(id byte) (*AcceptedContext, bool) {
	ctx, ok := m.byID[id]
	return ctx, ok
}

func (m *contextManager) forAbstractSyntax(uid string) (*AcceptedContext, bool) {
	ctx, ok := m.byAbstract[uid]
	return ctx, ok
}

func (m *contextManager) count() int { return len(m.byID) }

// ProposedContext is one presentation context offered in an A-ASSOCIATE-RQ.
// Transfer syntaxes are listed in preference order.
type ProposedContext struct {
	AbstractSyntax   string
	TransferSyntaxes []string
}

// DefaultTransferSyntaxes is the transfer syntax list proposed when a
// configuration does not name its own, most expressive first.
func DefaultTransferSyntaxes() []string {
	return []string{
		dicom.ExplicitVRLittleEndianUID,
		dicom.ImplicitVRLittleEndianUID,
		dicom.DeflatedExplicitVRLittleEndianUID,
		dicom.ExplicitVRBigEndianUID,
	}
}

// StoragePresentationContexts proposes verification plus every storage SOP
// class this package knows, as used for store-only peers such as C-MOVE
// destinations.
func StoragePresentationContexts() []ProposedContext {
	classes := make([]string, 0, 1+len(StorageClasses))
	classes = append(classes, VerificationSOPClass)
	classes = append(classes, StorageClasses...)

	contexts := make([]ProposedContext, 0, len(classes))
	for _, uid := range classes {
		contexts = append(contexts, ProposedContext{
			AbstractSyntax:   uid,
			TransferSyntaxes: DefaultTransferSyntaxes(),
		})
	}
	return contexts
}

// DefaultPresentationContexts proposes verification, every query/retrieve
// model and every storage SOP class this package knows.
func DefaultPresentationContexts() []ProposedContext {
	classes := make([]string, 0, 1+len(QueryRetrieveClasses)+len(StorageClasses))
	classes = append(classes, VerificationSOPClass)
	classes = append(classes, QueryRetrieveClasses...)
	classes = append(classes, StorageClasses...)

	contexts := make([]ProposedContext, 0, len(classes))
	for _, uid := range classes {
		contexts = append(contexts, ProposedContext{
			AbstractSyntax:   uid,
			TransferSyntaxes: DefaultTransferSyntaxes(),
		})
	}
	return contexts
}

// Association represents a DICOM association. The requestor side builds one
// with NewAssociation and calls Connect; the acceptor side receives one from
// the server after negotiation.
type Association struct {
	conn         net.Conn
	callingAET   string
	calledAET    string
	host         string
	port         int
	maxPDULength uint32
	timeout      time.Duration
	proposed     []ProposedContext
	log          zerolog.Logger

	mu              sync.Mutex
	state           State
	contexts        *contextManager
	peerMaxPDU      uint32
	peerClassUID    string
	peerVersionName string
	messageID       uint16
	pending         []PresentationDataValue
	lastUsed        time.Time
}

// State returns the current lifecycle phase.
func (a *Association) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CallingAETitle returns the requesting application entity title.
func (a *Association) CallingAETitle() string { return a.callingAET }

// CalledAETitle returns the responding application entity title.
func (a *Association) CalledAETitle() string { return a.calledAET }

// ContextForSOPClass returns the accepted presentation context negotiated
// for the given SOP class.
func (a *Association) ContextForSOPClass(uid string) (*AcceptedContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateEstablished || a.contexts == nil {
		return nil, ErrAssociationIdle
	}
	ctx, ok := a.contexts.forAbstractSyntax(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAcceptedContext, uid)
	}
	return ctx, nil
}

// AcceptedContexts returns the accepted presentation contexts in no
// particular order.
func (a *Association) AcceptedContexts() []AcceptedContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.contexts == nil {
		return nil
	}
	out := make([]AcceptedContext, 0, a.contexts.count())
	for _, ctx := range a.contexts.byID {
		out = append(out, *ctx)
	}
	return out
}

func (a *Association) nextMessageID() uint16 {
	a.messageID++
	if a.messageID == 0 {
		a.messageID = 1
	}
	return a.messageID
}

func (a *Association) armReadDeadline() error {
	if a.timeout <= 0 {
		return nil
	}
	return a.conn.SetReadDeadline(time.Now().Add(a.timeout))
}

func (a *Association) armWriteDeadline() error {
	if a.timeout <= 0 {
		return nil
	}
	return a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
}

func (a *Association) writePDU(p PDU) error {
	if err := a.armWriteDeadline(); err != nil {
		return err
	}
	return WritePDU(a.conn, p)
}

func (a *Association) readPDU() (PDU, error) {
	if err := a.armReadDeadline(); err != nil {
		return nil, err
	}
	// Zero means no negotiated bound, which the protocol caps at the 32-bit
	// length field.
	limit := a.maxPDULength
	if limit == 0 {
		limit = math.MaxUint32
	}
	return ReadPDU(a.conn, limit)
}

// writeMessage fragments one DIMSE message into P-DATA-TF PDUs sized for the
// peer and writes them in order. Callers must hold a.mu.
func (a *Association) writeMessage(contextID byte, cmd *Command, data []byte) error {
	if a.state != StateEstablished {
		return ErrAssociationIdle
	}
	pdus, err := fragmentMessage(contextID, cmd, data, a.peerMaxPDU)
	if err != nil {
		return err
	}
	for _, p := range pdus {
		if err := a.writePDU(p); err != nil {
			return fmt.Errorf("failed to send P-DATA-TF: %w", err)
		}
	}
	return nil
}

// readMessage reads PDUs until one complete DIMSE message has been
// assembled. A release request from the peer is answered and reported as
// ErrAssociationReleased; an abort tears the state down. Callers must hold
// a.mu.
func (a *Association) readMessage() (byte, *Command, []byte, error) {
	if a.state != StateEstablished {
		return 0, nil, nil, ErrAssociationIdle
	}

	var assembler messageAssembler
	feed := func(pdvs []PresentationDataValue) (bool, int, error) {
		for i, pdv := range pdvs {
			done, err := assembler.add(pdv)
			if err != nil {
				return false, 0, err
			}
			if done {
				return true, i + 1, nil
			}
		}
		return false, len(pdvs), nil
	}

	if len(a.pending) > 0 {
		pdvs := a.pending
		a.pending = nil
		done, used, err := feed(pdvs)
		if err != nil {
			return 0, nil, nil, a.violation(AbortReasonInvalidPDUParameter, "malformed PDV stream", err)
		}
		if done {
			a.pending = pdvs[used:]
			contextID, cmd, data := assembler.message()
			return contextID, cmd, data, nil
		}
	}

	for {
		pdu, err := a.readPDU()
		if err != nil {
			return 0, nil, nil, err
		}

		switch p := pdu.(type) {
		case *PDataTF:
			done, used, err := feed(p.Values)
			if err != nil {
				return 0, nil, nil, a.violation(AbortReasonInvalidPDUParameter, "malformed PDV stream", err)
			}
			if done {
				a.pending = append(a.pending, p.Values[used:]...)
				contextID, cmd, data := assembler.message()
				return contextID, cmd, data, nil
			}
		case *AReleaseRQ:
			if err := a.writePDU(&AReleaseRP{}); err != nil {
				a.log.Debug().Err(err).Msg("failed to answer release request")
			}
			a.state = StateClosed
			a.conn.Close()
			return 0, nil, nil, &AssociationError{State: StateClosed, Err: ErrAssociationReleased}
		case *AAbort:
			a.state = StateAborted
			a.conn.Close()
			return 0, nil, nil, &AssociationError{State: StateAborted, Abort: p}
		default:
			return 0, nil, nil, a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s PDU while reading message", pduTypeName(pdu.PDUType())), ErrUnexpectedPDU)
		}
	}
}

// takePendingMessage assembles a message from PDVs already buffered on the
// association without reading from the transport. It reports false when no
// complete message is buffered. Callers must hold a.mu.
func (a *Association) takePendingMessage() (byte, *Command, []byte, bool, error) {
	if len(a.pending) == 0 {
		return 0, nil, nil, false, nil
	}
	var assembler messageAssembler
	for i, pdv := range a.pending {
		done, err := assembler.add(pdv)
		if err != nil {
			return 0, nil, nil, false, err
		}
		if done {
			a.pending = a.pending[i+1:]
			contextID, cmd, data := assembler.message()
			return contextID, cmd, data, true, nil
		}
	}
	return 0, nil, nil, false, nil
}

// violation aborts the association as provider and wraps the cause. Callers
// must hold a.mu.
func (a *Association) violation(reason byte, msg string, cause error) error {
	a.abort(AbortSourceProvider, reason)
	return &AssociationError{State: a.state, Msg: msg, Err: cause}
}

// Abort sends A-ABORT and closes the transport without a release handshake.
func (a *Association) Abort(source, reason byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abort(source, reason)
}

func (a *Association) abort(source, reason byte) error {
	if a.conn == nil || a.state == StateClosed || a.state == StateAborted {
		return nil
	}
	err := a.writePDU(&AAbort{Source: source, Reason: reason})
	a.state = StateAborted
	if cerr := a.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// release performs the requestor side of the release handshake. Data still
// in flight from the peer is drained and discarded. Callers must hold a.mu.
func (a *Association) release() error {
	if err := a.writePDU(&AReleaseRQ{}); err != nil {
		return fmt.Errorf("failed to send release request: %w", err)
	}
	a.state = StateReleasing

	for {
		pdu, err := a.readPDU()
		if err != nil {
			return err
		}
		switch p := pdu.(type) {
		case *AReleaseRP:
			a.state = StateClosed
			return nil
		case *PDataTF:
			continue
		case *AReleaseRQ:
			// Release collision. Answer the peer and treat our side as done.
			if err := a.writePDU(&AReleaseRP{}); err != nil {
				return err
			}
			a.state = StateClosed
			return nil
		case *AAbort:
			a.state = StateAborted
			return &AssociationError{State: StateReleasing, Abort: p}
		default:
			return a.violation(AbortReasonUnexpectedPDU,
				fmt.Sprintf("unexpected %s PDU during release", pduTypeName(pdu.PDUType())), ErrUnexpectedPDU)
		}
	}
}

// negotiate sends A-ASSOCIATE-RQ over the fresh connection and applies the
// peer's answer. Callers must hold a.mu.
func (a *Association) negotiate() error {
	rq := &AAssociateRQ{
		ProtocolVersion:    DICOMProtocolVersion,
		CalledAETitle:      a.calledAET,
		CallingAETitle:     a.callingAET,
		ApplicationContext: ApplicationContextName,
		UserInformation: UserInformation{
			MaxPDULength:              a.maxPDULength,
			ImplementationClassUID:    dicom.ImplementationClassUID,
			ImplementationVersionName: dicom.ImplementationVersionName,
		},
	}
	for i, pc := range a.proposed {
		rq.PresentationContexts = append(rq.PresentationContexts, &PresentationContextRQ{
			ID:               byte(2*i + 1),
			AbstractSyntax:   pc.AbstractSyntax,
			TransferSyntaxes: pc.TransferSyntaxes,
		})
	}

	a.state = StateRequesting
	if err := a.writePDU(rq); err != nil {
		return fmt.Errorf("failed to send associate request: %w", err)
	}

	pdu, err := a.readPDU()
	if err != nil {
		return fmt.Errorf("failed to receive associate response: %w", err)
	}
	switch p := pdu.(type) {
	case *AAssociateAC:
		return a.applyAccept(rq, p)
	case *AAssociateRJ:
		a.state = StateClosed
		return &AssociationError{State: StateRequesting, Reject: p}
	case *AAbort:
		a.state = StateAborted
		return &AssociationError{State: StateRequesting, Abort: p}
	default:
		return a.violation(AbortReasonUnexpectedPDU,
			fmt.Sprintf("unexpected %s PDU in response to associate request", pduTypeName(pdu.PDUType())), ErrUnexpectedPDU)
	}
}

func (a *Association) applyAccept(rq *AAssociateRQ, ac *AAssociateAC) error {
	proposed := make(map[byte]*PresentationContextRQ, len(rq.PresentationContexts))
	for _, pc := range rq.PresentationContexts {
		proposed[pc.ID] = pc
	}

	a.contexts = newContextManager()
	for _, pc := range ac.PresentationContexts {
		if pc.Result != PresentationAccepted {
			continue
		}
		rqCtx, ok := proposed[pc.ID]
		if !ok {
			return a.violation(AbortReasonInvalidPDUParameter,
				fmt.Sprintf("peer accepted presentation context %d which was never proposed", pc.ID), nil)
		}
		ts, ok := dicom.LookupTransferSyntax(pc.TransferSyntax)
		if !ok {
			return a.violation(AbortReasonInvalidPDUParameter,
				fmt.Sprintf("peer selected unsupported transfer syntax %q", pc.TransferSyntax), nil)
		}
		a.contexts.add(pc.ID, rqCtx.AbstractSyntax, ts)
	}

	a.peerMaxPDU = ac.UserInformation.MaxPDULength
	a.peerClassUID = ac.UserInformation.ImplementationClassUID
	a.peerVersionName = ac.UserInformation.ImplementationVersionName
	a.state = StateEstablished
	a.log.Debug().
		Int("accepted_contexts", a.contexts.count()).
		Uint32("peer_max_pdu", a.peerMaxPDU).
		Str("peer_implementation", a.peerClassUID).
		Msg("association established")
	return nil
}

// newAcceptedAssociation wraps a connection whose negotiation the acceptor
// side has already completed.
func newAcceptedAssociation(conn net.Conn, rq *AAssociateRQ, contexts *contextManager, timeout time.Duration, maxPDULength uint32, log zerolog.Logger) *Association {
	return &Association{
		conn:            conn,
		callingAET:      rq.CallingAETitle,
		calledAET:       rq.CalledAETitle,
		maxPDULength:    maxPDULength,
		timeout:         timeout,
		log:             log,
		state:           StateEstablished,
		contexts:        contexts,
		peerMaxPDU:      rq.UserInformation.MaxPDULength,
		peerClassUID:    rq.UserInformation.ImplementationClassUID,
		peerVersionName: rq.UserInformation.ImplementationVersionName,
		lastUsed:        time.Now(),
	}
}

func pduTypeName(t PDUType) string {
	switch t {
	case PDUTypeAAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case PDUTypeAAssociateAC:
		return "A-ASSOCIATE-AC"
	case PDUTypeAAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case PDUTypePDataTF:
		return "P-DATA-TF"
	case PDUTypeAReleaseRQ:
		return "A-RELEASE-RQ"
	case PDUTypeAReleaseRP:
		return "A-RELEASE-RP"
	case PDUTypeAAbort:
		return "A-ABORT"
	}
	return fmt.Sprintf("0x%02X", byte(t))
}
