package dimse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

// Peer is a dialable remote application entity.
type Peer struct {
	AETitle string
	Host    string
	Port    int
}

// AEResolver is the known application entity registry. It backs the calling
// AE admission policy and resolves C-MOVE destinations to addresses.
type AEResolver interface {
	// Resolve returns the peer registered under the given AE title, or nil
	// when the title is unknown.
	Resolve(ctx context.Context, aeTitle string) (*Peer, error)
	// Empty reports whether the registry holds no titles at all. An empty
	// registry admits every caller but cannot dial anyone back.
	Empty(ctx context.Context) (bool, error)
}

// StaticAEResolver resolves peers from a fixed in-memory table keyed by AE
// title.
type StaticAEResolver map[string]Peer

func (m StaticAEResolver) Resolve(_ context.Context, aeTitle string) (*Peer, error) {
	p, ok := m[aeTitle]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m StaticAEResolver) Empty(_ context.Context) (bool, error) { return len(m) == 0, nil }

// AssociationRecord summarizes one served association for observers.
type AssociationRecord struct {
	ID             uuid.UUID
	CallingAETitle string
	CalledAETitle  string
	RemoteAddr     string
	StartedAt      time.Time
	EndedAt        time.Time
	Outcome        string
	Operations     map[string]int
}

// Association outcomes reported to observers.
const (
	OutcomeReleased = "released"
	OutcomeAborted  = "aborted"
	OutcomeFailed   = "failed"
)

// ServerObserver receives server activity events. Implementations must be
// safe for concurrent use.
type ServerObserver interface {
	// ConnectionRefused fires when a connection is closed because the
	// association ceiling was reached.
	ConnectionRefused(remoteAddr string)
	// AssociationOpened fires after negotiation succeeds.
	AssociationOpened(rec AssociationRecord)
	// OperationServed fires once per DIMSE operation with its final status.
	OperationServed(id uuid.UUID, op string, status Status)
	// AssociationClosed fires when the association ends.
	AssociationClosed(rec AssociationRecord)
}

// ServerConfig holds configuration for the SCP listener.
type ServerConfig struct {
	// AETitle is the title this node answers to as the called AE.
	AETitle string
	// MaxAssociations caps concurrently served associations. Required.
	MaxAssociations int64
	// MaxPDULength bounds PDUs read from peers and is announced during
	// negotiation. Zero accepts any length the 32-bit field can carry.
	MaxPDULength uint32
	// Timeout, when nonzero, bounds every transport read and write.
	Timeout time.Duration
	// Query resolves C-FIND identifiers and enumerates instances for
	// C-MOVE/C-GET. Query/retrieve contexts are rejected when nil.
	Query QueryResolver
	// Store persists instances received via C-STORE. When nil, inbound
	// C-STORE answers SOP class not supported; storage contexts remain
	// negotiable while Query is set so C-GET sub-operations can use them.
	Store PersistenceStore
	// Resolver is the known AE registry. When nil every caller is admitted
	// and C-MOVE destinations cannot be resolved.
	Resolver AEResolver
	// MoveConfig shapes the sub-associations dialed for C-MOVE. Host, port
	// and called AE title are taken from the resolved destination.
	MoveConfig PoolConfig
	Observer   ServerObserver
	Logger     *zerolog.Logger
}

// Server accepts DIMSE associations and serves their operations.
type Server struct {
	config ServerConfig
	sem    *semaphore.Weighted
	pool   *ConnectionPool
	log    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	live     map[net.Conn]struct{}
	closed   bool
}

// NewServer validates the configuration and builds a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if err := validAETitle(config.AETitle); err != nil {
		return nil, err
	}
	if config.MaxAssociations <= 0 {
		return nil, fmt.Errorf("maximum concurrent associations is required")
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	moveConfig := config.MoveConfig
	if moveConfig.Base.CallingAET == "" {
		moveConfig.Base.CallingAET = config.AETitle
	}
	if moveConfig.Base.Timeout == 0 {
		moveConfig.Base.Timeout = config.Timeout
	}
	if len(moveConfig.Base.PresentationContexts) == 0 {
		moveConfig.Base.PresentationContexts = StoragePresentationContexts()
	}

	return &Server{
		config: config,
		sem:    semaphore.NewWeighted(config.MaxAssociations),
		pool:   NewConnectionPool(moveConfig),
		log:    log,
		live:   make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or the
// listener fails. Connections beyond the association ceiling are closed
// immediately, before any PDU is read.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is shut down")
	}
	s.listener = listener
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info().
		Str("address", listener.Addr().String()).
		Str("ae_title", s.config.AETitle).
		Int64("max_associations", s.config.MaxAssociations).
		Msg("DICOM server listening")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.sem.TryAcquire(1) {
			conn.Close()
			s.log.Warn().
				Str("remote_addr", conn.RemoteAddr().String()).
				Msg("connection refused: association ceiling reached")
			if s.config.Observer != nil {
				s.config.Observer.ConnectionRefused(conn.RemoteAddr().String())
			}
			continue
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// Shutdown stops accepting connections and closes every live association's
// transport, unwinding their service loops.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.pool.Close()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.live[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.live, conn)
	s.mu.Unlock()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.track(conn)
	defer s.untrack(conn)

	id := uuid.New()
	log := s.log.With().
		Stringer("association_id", id).
		Str("remote_addr", conn.RemoteAddr().String()).
		Logger()

	assoc, err := s.negotiate(ctx, conn, log)
	if err != nil {
		log.Debug().Err(err).Msg("association not established")
		return
	}

	rec := AssociationRecord{
		ID:             id,
		CallingAETitle: assoc.CallingAETitle(),
		CalledAETitle:  assoc.CalledAETitle(),
		RemoteAddr:     conn.RemoteAddr().String(),
		StartedAt:      time.Now(),
		Operations:     make(map[string]int),
	}
	log = log.With().Str("calling_ae", rec.CallingAETitle).Logger()
	log.Info().Msg("association established")
	if s.config.Observer != nil {
		s.config.Observer.AssociationOpened(rec)
	}

	session := &scpSession{
		server: s,
		assoc:  assoc,
		id:     id,
		rec:    &rec,
		log:    log,
	}
	outcome := session.run(ctx)

	rec.EndedAt = time.Now()
	rec.Outcome = outcome
	log.Info().
		Str("outcome", outcome).
		Dur("duration", rec.EndedAt.Sub(rec.StartedAt)).
		Msg("association ended")
	if s.config.Observer != nil {
		s.config.Observer.AssociationClosed(rec)
	}
}

// negotiate runs the acceptor side of association establishment: read the
// A-ASSOCIATE-RQ, apply the AE policy, select one transfer syntax per
// proposed context, and answer with AC or RJ.
func (s *Server) negotiate(ctx context.Context, conn net.Conn, log zerolog.Logger) (*Association, error) {
	if s.config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.config.Timeout)); err != nil {
			return nil, err
		}
		defer conn.SetDeadline(time.Time{})
	}

	pdu, err := ReadPDU(conn, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read associate request: %w", err)
	}
	rq, ok := pdu.(*AAssociateRQ)
	if !ok {
		WritePDU(conn, &AAbort{Source: AbortSourceProvider, Reason: AbortReasonUnexpectedPDU})
		return nil, fmt.Errorf("%w: expected A-ASSOCIATE-RQ, got %s", ErrUnexpectedPDU, pduTypeName(pdu.PDUType()))
	}

	reject := func(reason byte, cause error) (*Association, error) {
		rj := &AAssociateRJ{Result: RejectResultTransient, Source: RejectSourceUser, Reason: reason}
		if err := WritePDU(conn, rj); err != nil {
			return nil, err
		}
		return nil, &AssociationError{State: StateNegotiating, Reject: rj, Err: cause}
	}

	if rq.ApplicationContext != ApplicationContextName {
		return reject(RejectReasonAppContextNotSupported,
			fmt.Errorf("unsupported application context %q", rq.ApplicationContext))
	}
	if rq.CalledAETitle != s.config.AETitle {
		return reject(RejectReasonCalledAENotRecognized,
			fmt.Errorf("called AE title %q is not this node", rq.CalledAETitle))
	}
	if err := s.authorizeCalling(ctx, rq.CallingAETitle); err != nil {
		if errors.Is(err, errCallingAEUnknown) {
			return reject(RejectReasonCallingAENotRecognized, err)
		}
		return nil, err
	}

	contexts := newContextManager()
	acContexts := make([]*PresentationContextAC, 0, len(rq.PresentationContexts))
	for _, pc := range rq.PresentationContexts {
		result, ts := s.selectContext(pc)
		acContexts = append(acContexts, &PresentationContextAC{ID: pc.ID, Result: result, TransferSyntax: ts})
		if result == PresentationAccepted {
			agreed, _ := dicom.LookupTransferSyntax(ts)
			contexts.add(pc.ID, pc.AbstractSyntax, agreed)
		}
	}
	if contexts.count() == 0 {
		return reject(RejectReasonNoReason, fmt.Errorf("no presentation context could be accepted"))
	}

	ac := &AAssociateAC{
		ProtocolVersion:      DICOMProtocolVersion,
		CalledAETitle:        rq.CalledAETitle,
		CallingAETitle:       rq.CallingAETitle,
		ApplicationContext:   ApplicationContextName,
		PresentationContexts: acContexts,
		UserInformation: UserInformation{
			MaxPDULength:              s.config.MaxPDULength,
			ImplementationClassUID:    dicom.ImplementationClassUID,
			ImplementationVersionName: dicom.ImplementationVersionName,
		},
	}
	if err := WritePDU(conn, ac); err != nil {
		return nil, fmt.Errorf("failed to send associate accept: %w", err)
	}

	return newAcceptedAssociation(conn, rq, contexts, s.config.Timeout, s.config.MaxPDULength, log), nil
}

var errCallingAEUnknown = errors.New("calling AE title not registered")

// authorizeCalling applies the calling AE policy. An absent or empty
// registry admits every caller.
func (s *Server) authorizeCalling(ctx context.Context, callingAE string) error {
	if s.config.Resolver == nil {
		return nil
	}
	empty, err := s.config.Resolver.Empty(ctx)
	if err != nil {
		return fmt.Errorf("failed to consult AE registry: %w", err)
	}
	if empty {
		return nil
	}
	peer, err := s.config.Resolver.Resolve(ctx, callingAE)
	if err != nil {
		return fmt.Errorf("failed to resolve calling AE: %w", err)
	}
	if peer == nil {
		return fmt.Errorf("%w: %q", errCallingAEUnknown, callingAE)
	}
	return nil
}

// selectContext accepts a proposed presentation context with the first
// transfer syntax this node supports, preserving the requestor's preference
// order.
func (s *Server) selectContext(pc *PresentationContextRQ) (byte, string) {
	if !s.supportsAbstractSyntax(pc.AbstractSyntax) {
		return PresentationAbstractSyntaxRejected, ""
	}
	for _, ts := range pc.TransferSyntaxes {
		if _, ok := dicom.LookupTransferSyntax(ts); ok {
			return PresentationAccepted, ts
		}
	}
	return PresentationTransferSyntaxRejected, ""
}

// supportsAbstractSyntax admits the SOP classes the configured collaborators
// can actually serve.
func (s *Server) supportsAbstractSyntax(uid string) bool {
	switch uid {
	case VerificationSOPClass:
		return true
	case PatientRootQRFind, StudyRootQRFind, PatientRootQRGet, StudyRootQRGet:
		return s.config.Query != nil
	case PatientRootQRMove, StudyRootQRMove:
		return s.config.Query != nil && s.config.Resolver != nil
	}
	if IsStorageClass(uid) {
		// Storage contexts also carry C-GET sub-operations, so a query
		// resolver alone keeps them negotiable.
		return s.config.Store != nil || s.config.Query != nil
	}
	return false
}
