package dimse

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnectionPool manages reusable DICOM associations keyed by remote peer,
// so repeated C-MOVE sub-operation batches to the same destination share an
// association instead of renegotiating per instance.
type ConnectionPool struct {
	base          AssociationConfig
	maxIdle       int
	maxIdleTime   time.Duration
	idle          map[string][]*Association
	mu            sync.Mutex
	cleanupTicker *time.Ticker
	done          chan struct{}
}

// PoolConfig holds configuration for connection pool
type PoolConfig struct {
	// Base carries the calling AE title, timeouts, PDU limit and proposed
	// contexts applied to every pooled association. Host, port and called
	// AE title come from the peer passed to Get.
	Base        AssociationConfig
	MaxIdle     int
	MaxIdleTime time.Duration
}

// NewConnectionPool creates a new connection pool
func NewConnectionPool(config PoolConfig) *ConnectionPool {
	if config.MaxIdle == 0 {
		config.MaxIdle = 2
	}
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = 5 * time.Minute
	}

	pool := &ConnectionPool{
		base:          config.Base,
		maxIdle:       config.MaxIdle,
		maxIdleTime:   config.MaxIdleTime,
		idle:          make(map[string][]*Association),
		cleanupTicker: time.NewTicker(1 * time.Minute),
		done:          make(chan struct{}),
	}

	go pool.cleanup()

	return pool
}

// Get retrieves an association to the given peer, reusing an idle one when
// available and dialing otherwise.
func (p *ConnectionPool) Get(ctx context.Context, peer Peer) (*Association, error) {
	p.mu.Lock()
	for {
		conns := p.idle[peer.AETitle]
		if len(conns) == 0 {
			break
		}
		conn := conns[len(conns)-1]
		p.idle[peer.AETitle] = conns[:len(conns)-1]
		if conn.IsConnected() {
			p.mu.Unlock()
			return conn, nil
		}
		conn.Close()
	}
	p.mu.Unlock()

	config := p.base
	config.Host = peer.Host
	config.Port = peer.Port
	config.CalledAET = peer.AETitle
	conn := NewAssociation(config)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to create new connection: %w", err)
	}
	return conn, nil
}

// Put returns an association to the pool
func (p *ConnectionPool) Put(conn *Association) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Only return healthy connections to pool
	if !conn.IsConnected() {
		conn.Close()
		return
	}

	key := conn.CalledAETitle()
	if len(p.idle[key]) >= p.maxIdle {
		conn.Close()
		return
	}

	p.idle[key] = append(p.idle[key], conn)
}

// Close closes all pooled associations and stops the pool
func (p *ConnectionPool) Close() error {
	close(p.done)
	p.cleanupTicker.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	var failures int
	for _, conns := range p.idle {
		for _, conn := range conns {
			if err := conn.Close(); err != nil {
				failures++
			}
		}
	}
	p.idle = make(map[string][]*Association)

	if failures > 0 {
		return fmt.Errorf("encountered %d errors while closing pool", failures)
	}

	return nil
}

// cleanup periodically removes idle connections
func (p *ConnectionPool) cleanup() {
	for {
		select {
		case <-p.cleanupTicker.C:
			p.removeIdleConnections()
		case <-p.done:
			return
		}
	}
}

// removeIdleConnections removes connections that have been idle too long
func (p *ConnectionPool) removeIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, conns := range p.idle {
		active := make([]*Association, 0, len(conns))
		for _, conn := range conns {
			if now.Sub(conn.GetLastUsed()) > p.maxIdleTime {
				conn.Close()
			} else if conn.IsConnected() {
				active = append(active, conn)
			} else {
				conn.Close()
			}
		}
		if len(active) == 0 {
			delete(p.idle, key)
			continue
		}
		p.idle[key] = active
	}
}

// Stats returns pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{PeersByTitle: make(map[string]int, len(p.idle))}
	for key, conns := range p.idle {
		stats.IdleConnections += len(conns)
		stats.PeersByTitle[key] = len(conns)
	}
	return stats
}

// PoolStats holds pool statistics
type PoolStats struct {
	IdleConnections int
	PeersByTitle    map[string]int
}
