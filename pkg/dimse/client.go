package dimse

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// AssociationConfig holds configuration for requested DICOM associations
type AssociationConfig struct {
	Host                 string
	Port                 int
	CallingAET           string
	CalledAET            string
	Timeout              time.Duration
	MaxPDULength         uint32
	PresentationContexts []ProposedContext
	Logger               *zerolog.Logger
}

// NewAssociation creates a new DICOM association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = DefaultMaxPDULength
	}
	if len(config.PresentationContexts) == 0 {
		config.PresentationContexts = DefaultPresentationContexts()
	}
	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	return &Association{
		callingAET:   config.CallingAET,
		calledAET:    config.CalledAET,
		host:         config.Host,
		port:         config.Port,
		maxPDULength: config.MaxPDULength,
		timeout:      config.Timeout,
		proposed:     config.PresentationContexts,
		log:          log,
	}
}

// Connect establishes a DICOM association
func (a *Association) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateEstablished {
		return nil
	}
	if a.state != StateIdle && a.state != StateClosed {
		return fmt.Errorf("cannot connect in state %s", a.state)
	}

	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	dialer := &net.Dialer{
		Timeout: a.timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	a.conn = conn
	a.lastUsed = time.Now()
	a.messageID = 0
	a.pending = nil

	if err := a.negotiate(); err != nil {
		conn.Close()
		if a.state != StateAborted {
			a.state = StateClosed
		}
		return err
	}

	return nil
}

// Close releases the association when it is still established, then closes
// the transport.
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		a.state = StateClosed
		return nil
	}
	if a.state == StateEstablished {
		if err := a.release(); err != nil {
			a.log.Debug().Err(err).Msg("release handshake failed")
		}
	}
	if a.state == StateAborted {
		a.conn.Close()
		return nil
	}
	a.state = StateClosed
	return a.conn.Close()
}

// IsConnected checks if the association is still active
func (a *Association) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateEstablished
}

// PeerImplementation returns the implementation class UID and version name
// announced by the peer, when present.
func (a *Association) PeerImplementation() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peerClassUID, a.peerVersionName
}

// UpdateLastUsed updates the last used timestamp
func (a *Association) UpdateLastUsed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastUsed = time.Now()
}

// GetLastUsed returns the last used timestamp
func (a *Association) GetLastUsed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed
}
