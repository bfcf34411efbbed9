package dimse

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otcheredev/pacs-node/pkg/dicom"
)

func mustElement(t *testing.T, tag dicom.Tag, value any) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tag, value)
	if err != nil {
		t.Fatalf("NewElement(%v) => %v", tag, err)
	}
	return el
}

func testInstance(t *testing.T, sopInstanceUID string) *dicom.DataSet {
	t.Helper()
	ds := dicom.NewDataSet()
	ds.Add(mustElement(t, dicom.TagSOPClassUID, CTImageStorage))
	ds.Add(mustElement(t, dicom.TagSOPInstanceUID, sopInstanceUID))
	ds.Add(mustElement(t, dicom.TagPatientID, "P-1"))
	return ds
}

func findIdentifier(t *testing.T) *dicom.DataSet {
	t.Helper()
	ds := dicom.NewDataSet()
	ds.Add(mustElement(t, dicom.TagQueryRetrieveLevel, "STUDY"))
	ds.Add(mustElement(t, dicom.TagPatientID, "*"))
	return ds
}

type memoryStore struct {
	mu        sync.Mutex
	instances []*StoredInstance
	err       error
}

func (m *memoryStore) Store(_ context.Context, inst *StoredInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.instances = append(m.instances, inst)
	return nil
}

func (m *memoryStore) stored() []*StoredInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*StoredInstance(nil), m.instances...)
}

type memorySource struct {
	uid string
	ds  *dicom.DataSet
	err error
}

func (s *memorySource) SOPInstanceUID() string { return s.uid }

func (s *memorySource) DataSet(context.Context) (*dicom.DataSet, error) { return s.ds, s.err }

type memoryQuery struct {
	matches   []*dicom.DataSet
	instances []InstanceSource
	findErr   error
}

func (m *memoryQuery) Find(_ context.Context, _ Query, next func(*dicom.DataSet) error) error {
	if m.findErr != nil {
		return m.findErr
	}
	for _, ds := range m.matches {
		if err := next(ds); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryQuery) Retrieve(context.Context, Query) ([]InstanceSource, error) {
	return m.instances, nil
}

type testObserver struct {
	mu       sync.Mutex
	refused  int
	opened   int
	ops      []string
	closedCh chan AssociationRecord
}

func newTestObserver() *testObserver {
	return &testObserver{closedCh: make(chan AssociationRecord, 8)}
}

func (o *testObserver) ConnectionRefused(string) {
	o.mu.Lock()
	o.refused++
	o.mu.Unlock()
}

func (o *testObserver) AssociationOpened(AssociationRecord) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *testObserver) OperationServed(_ uuid.UUID, op string, _ Status) {
	o.mu.Lock()
	o.ops = append(o.ops, op)
	o.mu.Unlock()
}

func (o *testObserver) AssociationClosed(rec AssociationRecord) { o.closedCh <- rec }

func (o *testObserver) refusedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refused
}

// startTestServer serves config on a loopback listener and tears everything
// down when the test ends.
func startTestServer(t *testing.T, config ServerConfig) string {
	t.Helper()
	if config.AETitle == "" {
		config.AETitle = "TESTSCP"
	}
	if config.MaxAssociations == 0 {
		config.MaxAssociations = 4
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	srv, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer => %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen => %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		<-done
	})
	return listener.Addr().String()
}

func clientConfig(t *testing.T, addr string) AssociationConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) => %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%q) => %v", portStr, err)
	}
	return AssociationConfig{
		Host:       host,
		Port:       port,
		CallingAET: "TESTSCU",
		CalledAET:  "TESTSCP",
		Timeout:    5 * time.Second,
	}
}

func dialTest(t *testing.T, addr string, config AssociationConfig) *Association {
	t.Helper()
	assoc := NewAssociation(config)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := assoc.Connect(ctx); err != nil {
		t.Fatalf("Connect => %v", err)
	}
	t.Cleanup(func() { assoc.Close() })
	return assoc
}

func TestServerEchoRoundTrip(t *testing.T) {
	observer := newTestObserver()
	addr := startTestServer(t, ServerConfig{Observer: observer})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := assoc.CEcho(ctx); err != nil {
		t.Fatalf("CEcho => %v", err)
	}
	if err := assoc.Close(); err != nil {
		t.Fatalf("Close => %v", err)
	}

	select {
	case rec := <-observer.closedCh:
		if rec.Outcome != OutcomeReleased {
			t.Errorf("outcome => %q, want %q", rec.Outcome, OutcomeReleased)
		}
		if rec.CallingAETitle != "TESTSCU" {
			t.Errorf("calling AE => %q, want TESTSCU", rec.CallingAETitle)
		}
		if rec.Operations["C-ECHO-RQ"] != 1 {
			t.Errorf("operations => %v, want one C-ECHO-RQ", rec.Operations)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("association close was never observed")
	}
}

func TestServerRejectsWrongCalledAE(t *testing.T) {
	addr := startTestServer(t, ServerConfig{})

	config := clientConfig(t, addr)
	config.CalledAET = "SOMEONE_ELSE"
	assoc := NewAssociation(config)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := assoc.Connect(ctx)
	var assocErr *AssociationError
	if !errors.As(err, &assocErr) || assocErr.Reject == nil {
		t.Fatalf("Connect => %v, want rejection", err)
	}
	if assocErr.Reject.Reason != RejectReasonCalledAENotRecognized {
		t.Errorf("reject reason => %d, want %d", assocErr.Reject.Reason, RejectReasonCalledAENotRecognized)
	}
}

func TestCallingAEPolicy(t *testing.T) {
	resolver := StaticAEResolver{
		"KNOWN": Peer{AETitle: "KNOWN", Host: "127.0.0.1", Port: 104},
	}
	addr := startTestServer(t, ServerConfig{Resolver: resolver})

	t.Run("unregistered caller is rejected", func(t *testing.T) {
		config := clientConfig(t, addr)
		config.CallingAET = "STRANGER"
		assoc := NewAssociation(config)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := assoc.Connect(ctx)
		var assocErr *AssociationError
		if !errors.As(err, &assocErr) || assocErr.Reject == nil {
			t.Fatalf("Connect => %v, want rejection", err)
		}
		if assocErr.Reject.Reason != RejectReasonCallingAENotRecognized {
			t.Errorf("reject reason => %d, want %d", assocErr.Reject.Reason, RejectReasonCallingAENotRecognized)
		}
	})

	t.Run("registered caller is admitted", func(t *testing.T) {
		config := clientConfig(t, addr)
		config.CallingAET = "KNOWN"
		assoc := dialTest(t, addr, config)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := assoc.CEcho(ctx); err != nil {
			t.Fatalf("CEcho => %v", err)
		}
	})
}

func TestNegotiationPrefersRequestorOrder(t *testing.T) {
	addr := startTestServer(t, ServerConfig{})

	config := clientConfig(t, addr)
	config.PresentationContexts = []ProposedContext{{
		AbstractSyntax: VerificationSOPClass,
		TransferSyntaxes: []string{
			dicom.ImplicitVRLittleEndianUID,
			dicom.ExplicitVRLittleEndianUID,
		},
	}}
	assoc := dialTest(t, addr, config)

	pc, err := assoc.ContextForSOPClass(VerificationSOPClass)
	if err != nil {
		t.Fatalf("ContextForSOPClass => %v", err)
	}
	if pc.TransferSyntax.UID != dicom.ImplicitVRLittleEndianUID {
		t.Errorf("selected transfer syntax => %s, want requestor's first choice %s",
			pc.TransferSyntax.UID, dicom.ImplicitVRLittleEndianUID)
	}
}

func TestNegotiationRejectsWhenNoContextUsable(t *testing.T) {
	addr := startTestServer(t, ServerConfig{})

	config := clientConfig(t, addr)
	config.PresentationContexts = []ProposedContext{{
		AbstractSyntax: VerificationSOPClass,
		// JPEG baseline, which this node does not decode.
		TransferSyntaxes: []string{"1.2.840.10008.1.2.4.50"},
	}}
	assoc := NewAssociation(config)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := assoc.Connect(ctx)
	var assocErr *AssociationError
	if !errors.As(err, &assocErr) || assocErr.Reject == nil {
		t.Fatalf("Connect => %v, want rejection", err)
	}
	if assocErr.Reject.Reason != RejectReasonNoReason {
		t.Errorf("reject reason => %d, want %d", assocErr.Reject.Reason, RejectReasonNoReason)
	}
}

func TestContextAdmissionFollowsCollaborators(t *testing.T) {
	// Storage is wired, query/retrieve is not.
	addr := startTestServer(t, ServerConfig{Store: &memoryStore{}})

	assoc := dialTest(t, addr, clientConfig(t, addr))

	if _, err := assoc.ContextForSOPClass(CTImageStorage); err != nil {
		t.Errorf("storage context => %v, want accepted", err)
	}
	if _, err := assoc.ContextForSOPClass(StudyRootQRFind); !errors.Is(err, ErrNoAcceptedContext) {
		t.Errorf("find context => %v, want %v", err, ErrNoAcceptedContext)
	}
}

func TestAssociationCeiling(t *testing.T) {
	observer := newTestObserver()
	addr := startTestServer(t, ServerConfig{MaxAssociations: 1, Observer: observer})

	first := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.CEcho(ctx); err != nil {
		t.Fatalf("CEcho => %v", err)
	}

	second := NewAssociation(clientConfig(t, addr))
	if err := second.Connect(ctx); err == nil {
		second.Close()
		t.Fatal("second Connect => nil error, want refusal at the ceiling")
	}

	deadline := time.Now().Add(2 * time.Second)
	for observer.refusedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refusal was never observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Releasing the first association frees the slot.
	if err := first.Close(); err != nil {
		t.Fatalf("Close => %v", err)
	}
	third := NewAssociation(clientConfig(t, addr))
	deadline = time.Now().Add(2 * time.Second)
	for {
		if err := third.Connect(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot was never freed after release")
		}
		time.Sleep(10 * time.Millisecond)
	}
	third.Close()
}

func TestCStoreRoundTrip(t *testing.T) {
	store := &memoryStore{}
	addr := startTestServer(t, ServerConfig{Store: store})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := assoc.CStore(ctx, testInstance(t, "1.2.3.4.100"))
	if err != nil {
		t.Fatalf("CStore => %v", err)
	}
	if !status.IsSuccess() {
		t.Fatalf("CStore status => %s, want success", status)
	}

	stored := store.stored()
	if len(stored) != 1 {
		t.Fatalf("stored instances => %d, want 1", len(stored))
	}
	inst := stored[0]
	if inst.SOPClassUID != CTImageStorage {
		t.Errorf("SOPClassUID => %s, want %s", inst.SOPClassUID, CTImageStorage)
	}
	if inst.SOPInstanceUID != "1.2.3.4.100" {
		t.Errorf("SOPInstanceUID => %s", inst.SOPInstanceUID)
	}
	if inst.CallingAETitle != "TESTSCU" {
		t.Errorf("CallingAETitle => %s, want TESTSCU", inst.CallingAETitle)
	}
	if inst.TransferSyntax == nil {
		t.Error("TransferSyntax => nil")
	}
	if got, _ := inst.DataSet.GetString(dicom.TagPatientID); got != "P-1" {
		t.Errorf("PatientID => %q, want P-1", got)
	}
}

func TestCStoreFailureStatus(t *testing.T) {
	store := &memoryStore{err: &ServiceError{Op: "store", Status: StatusOutOfResources, Comment: "volume full"}}
	addr := startTestServer(t, ServerConfig{Store: store})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := assoc.CStore(ctx, testInstance(t, "1.2.3.4.101"))
	if status != StatusOutOfResources {
		t.Errorf("status => %s, want 0xA700", status)
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("CStore => %v, want *ServiceError", err)
	}
	if svcErr.Comment != "volume full" {
		t.Errorf("comment => %q, want \"volume full\"", svcErr.Comment)
	}
}

func TestCFindRoundTrip(t *testing.T) {
	match1 := dicom.NewDataSet()
	match1.Add(mustElement(t, dicom.TagPatientID, "P-1"))
	match2 := dicom.NewDataSet()
	match2.Add(mustElement(t, dicom.TagPatientID, "P-2"))
	query := &memoryQuery{matches: []*dicom.DataSet{match1, match2}}
	addr := startTestServer(t, ServerConfig{Query: query})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var callbacks int
	rsp, err := assoc.CFind(ctx, CFindRequest{Identifier: findIdentifier(t)}, func(*dicom.DataSet) error {
		callbacks++
		return nil
	})
	if err != nil {
		t.Fatalf("CFind => %v", err)
	}
	if !rsp.Status.IsSuccess() {
		t.Errorf("status => %s, want success", rsp.Status)
	}
	if callbacks != 2 {
		t.Errorf("callback invocations => %d, want 2", callbacks)
	}

	rsp, err = assoc.CFind(ctx, CFindRequest{Identifier: findIdentifier(t)}, nil)
	if err != nil {
		t.Fatalf("CFind => %v", err)
	}
	if len(rsp.Results) != 2 {
		t.Fatalf("results => %d, want 2", len(rsp.Results))
	}
	for i, want := range []string{"P-1", "P-2"} {
		if got, _ := rsp.Results[i].GetString(dicom.TagPatientID); got != want {
			t.Errorf("result %d PatientID => %q, want %q", i, got, want)
		}
	}
}

func TestCFindResolverErrorSurfacesStatus(t *testing.T) {
	query := &memoryQuery{findErr: errors.New("db down")}
	addr := startTestServer(t, ServerConfig{Query: query})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := assoc.CFind(ctx, CFindRequest{Identifier: findIdentifier(t)}, nil)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("CFind => %v, want *ServiceError", err)
	}
	if svcErr.Status != StatusUnableToProcess {
		t.Errorf("status => %s, want 0xC000", svcErr.Status)
	}
	if svcErr.Comment != "db down" {
		t.Errorf("comment => %q, want \"db down\"", svcErr.Comment)
	}
}

func TestCGetRoundTrip(t *testing.T) {
	query := &memoryQuery{instances: []InstanceSource{
		&memorySource{uid: "1.2.3.4.200", ds: testInstance(t, "1.2.3.4.200")},
		&memorySource{uid: "1.2.3.4.201", ds: testInstance(t, "1.2.3.4.201")},
	}}
	addr := startTestServer(t, ServerConfig{Query: query, Store: &memoryStore{}})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var received []string
	rsp, err := assoc.CGet(ctx, CGetRequest{Identifier: findIdentifier(t)}, func(cmd *Command, ds *dicom.DataSet) Status {
		uid, _ := ds.GetString(dicom.TagSOPInstanceUID)
		if uid != cmd.AffectedSOPInstanceUID {
			t.Errorf("instance UID mismatch: data set %q, command %q", uid, cmd.AffectedSOPInstanceUID)
		}
		received = append(received, uid)
		return StatusSuccess
	})
	if err != nil {
		t.Fatalf("CGet => %v", err)
	}
	if !rsp.Status.IsSuccess() {
		t.Errorf("status => %s, want success", rsp.Status)
	}
	if rsp.SubOps.Completed != 2 || rsp.SubOps.Failed != 0 {
		t.Errorf("counters => %+v, want 2 completed", rsp.SubOps)
	}
	if len(received) != 2 || received[0] != "1.2.3.4.200" || received[1] != "1.2.3.4.201" {
		t.Errorf("received instances => %v", received)
	}
}

func TestCMoveRoundTrip(t *testing.T) {
	destStore := &memoryStore{}
	destAddr := startTestServer(t, ServerConfig{AETitle: "DEST", Store: destStore})
	destHost, destPortStr, err := net.SplitHostPort(destAddr)
	if err != nil {
		t.Fatalf("SplitHostPort => %v", err)
	}
	destPort, err := strconv.Atoi(destPortStr)
	if err != nil {
		t.Fatalf("Atoi => %v", err)
	}

	query := &memoryQuery{instances: []InstanceSource{
		&memorySource{uid: "1.2.3.4.300", ds: testInstance(t, "1.2.3.4.300")},
		&memorySource{uid: "1.2.3.4.301", ds: testInstance(t, "1.2.3.4.301")},
	}}
	resolver := StaticAEResolver{
		"TESTSCU": Peer{AETitle: "TESTSCU"},
		"DEST":    Peer{AETitle: "DEST", Host: destHost, Port: destPort},
	}
	addr := startTestServer(t, ServerConfig{Query: query, Resolver: resolver})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var progressed []SubOperations
	rsp, err := assoc.CMove(ctx, CMoveRequest{
		Destination: "DEST",
		Identifier:  findIdentifier(t),
	}, func(sub SubOperations) {
		progressed = append(progressed, sub)
	})
	if err != nil {
		t.Fatalf("CMove => %v", err)
	}
	if !rsp.Status.IsSuccess() {
		t.Errorf("status => %s, want success", rsp.Status)
	}
	if rsp.SubOps.Completed != 2 || rsp.SubOps.Failed != 0 {
		t.Errorf("counters => %+v, want 2 completed", rsp.SubOps)
	}
	if len(progressed) != 2 {
		t.Fatalf("progress calls => %d, want 2", len(progressed))
	}
	if last := progressed[1]; last.Remaining != 0 || last.Completed != 2 || !last.HasRemaining {
		t.Errorf("final progress => %+v", last)
	}

	stored := destStore.stored()
	if len(stored) != 2 {
		t.Fatalf("destination stored => %d instances, want 2", len(stored))
	}
	for _, inst := range stored {
		if inst.MoveOriginatorAE != "TESTSCU" {
			t.Errorf("MoveOriginatorAE => %q, want TESTSCU", inst.MoveOriginatorAE)
		}
	}
}

func TestCMoveUnknownDestination(t *testing.T) {
	query := &memoryQuery{instances: []InstanceSource{
		&memorySource{uid: "1.2.3.4.400", ds: testInstance(t, "1.2.3.4.400")},
		&memorySource{uid: "1.2.3.4.401", ds: testInstance(t, "1.2.3.4.401")},
	}}
	resolver := StaticAEResolver{"TESTSCU": Peer{AETitle: "TESTSCU"}}
	addr := startTestServer(t, ServerConfig{Query: query, Resolver: resolver})

	assoc := dialTest(t, addr, clientConfig(t, addr))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rsp, err := assoc.CMove(ctx, CMoveRequest{
		Destination: "NOWHERE",
		Identifier:  findIdentifier(t),
	}, nil)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("CMove => %v, want *ServiceError", err)
	}
	if svcErr.Status != StatusMoveDestinationUnknown {
		t.Errorf("status => %s, want 0xA801", svcErr.Status)
	}
	if rsp.SubOps.Failed != 2 {
		t.Errorf("failed counter => %d, want 2", rsp.SubOps.Failed)
	}
	if rsp.Identifier == nil {
		t.Fatal("identifier => nil, want failed SOP instance list")
	}
	uids, err := rsp.Identifier.GetStrings(dicom.TagFailedSOPInstanceUIDList)
	if err != nil {
		t.Fatalf("GetStrings => %v", err)
	}
	if len(uids) != 2 {
		t.Errorf("failed SOP instances => %v, want 2 entries", uids)
	}
}

func TestServerAbortsOnUnexpectedMessage(t *testing.T) {
	addr := startTestServer(t, ServerConfig{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial => %v", err)
	}
	defer conn.Close()

	rq := &AAssociateRQ{
		ProtocolVersion:    DICOMProtocolVersion,
		CalledAETitle:      "TESTSCP",
		CallingAETitle:     "RAWPEER",
		ApplicationContext: ApplicationContextName,
		PresentationContexts: []*PresentationContextRQ{{
			ID:               1,
			AbstractSyntax:   VerificationSOPClass,
			TransferSyntaxes: []string{dicom.ImplicitVRLittleEndianUID},
		}},
		UserInformation: UserInformation{MaxPDULength: DefaultMaxPDULength},
	}
	if err := WritePDU(conn, rq); err != nil {
		t.Fatalf("WritePDU => %v", err)
	}
	pdu, err := ReadPDU(conn, 0)
	if err != nil {
		t.Fatalf("ReadPDU => %v", err)
	}
	if _, ok := pdu.(*AAssociateAC); !ok {
		t.Fatalf("negotiation answer => %T, want *AAssociateAC", pdu)
	}

	// A response where a request belongs is a protocol violation.
	pdus, err := fragmentMessage(1, &Command{
		Field:       CommandCEchoRSP,
		RespondedTo: 9,
		Status:      StatusSuccess,
	}, nil, DefaultMaxPDULength)
	if err != nil {
		t.Fatalf("fragmentMessage => %v", err)
	}
	for _, p := range pdus {
		if err := WritePDU(conn, p); err != nil {
			t.Fatalf("WritePDU => %v", err)
		}
	}

	pdu, err = ReadPDU(conn, 0)
	if err != nil {
		t.Fatalf("ReadPDU => %v", err)
	}
	abort, ok := pdu.(*AAbort)
	if !ok {
		t.Fatalf("answer => %T, want *AAbort", pdu)
	}
	if abort.Source != AbortSourceProvider {
		t.Errorf("abort source => %d, want provider", abort.Source)
	}
}
