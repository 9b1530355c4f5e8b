package station

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var ErrPoolClosed = errors.New("station: peer pool closed")

// Peer is one connected client
type Peer struct {
	ID        uint64
	Conn      net.Conn
	Connected time.Time

	lastSeen atomic.Int64
	writeMu  sync.Mutex
}

// Write writes b to the peer; concurrent writers are serialized
func (p *Peer) Write(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err := p.Conn.Write(b)
	return err
}

// Touch records activity
func (p *Peer) Touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last activity
func (p *Peer) LastSeen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

// PeerPool tracks connected peers
type PeerPool struct {
	peers    map[uint64]*Peer
	mu       sync.RWMutex
	maxPeers int
	nextID   uint64
	closed   bool
}

// NewPeerPool creates a pool holding at most maxPeers peers (0 = unlimited)
func NewPeerPool(maxPeers int) *PeerPool {
	return &PeerPool{
		peers:    make(map[uint64]*Peer),
		maxPeers: maxPeers,
	}
}

// Add registers conn. When the pool is full the least recently seen peer is
// disconnected.
func (p *PeerPool) Add(conn net.Conn) (*Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.maxPeers > 0 && len(p.peers) >= p.maxPeers {
		p.evictOldest()
	}

	p.nextID++
	peer := &Peer{ID: p.nextID, Conn: conn, Connected: time.Now()}
	peer.Touch()
	p.peers[peer.ID] = peer
	return peer, nil
}

// Remove forgets the peer and closes its connection
func (p *PeerPool) Remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if peer, exists := p.peers[id]; exists {
		peer.Conn.Close()
		delete(p.peers, id)
	}
}

// Broadcast writes b to every peer and returns how many writes succeeded
func (p *PeerPool) Broadcast(b []byte) int {
	p.mu.RLock()
	peers := make([]*Peer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	p.mu.RUnlock()

	sent := 0
	for _, peer := range peers {
		if err := peer.Write(b); err == nil {
			sent++
		}
	}
	return sent
}

// Len returns the number of peers
func (p *PeerPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

// GetStats returns pool statistics
func (p *PeerPool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"active_peers": len(p.peers),
		"max_peers":    p.maxPeers,
	}
}

// Close disconnects every peer and refuses new ones
func (p *PeerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	for _, peer := range p.peers {
		peer.Conn.Close()
	}
	p.peers = make(map[uint64]*Peer)
	return nil
}

// evictOldest disconnects the least recently seen peer (must be called with lock held)
func (p *PeerPool) evictOldest() {
	var oldest *Peer
	for _, peer := range p.peers {
		if oldest == nil || peer.lastSeen.Load() < oldest.lastSeen.Load() {
			oldest = peer
		}
	}
	if oldest != nil {
		oldest.Conn.Close()
		delete(p.peers, oldest.ID)
	}
}
