// Package station is a local counterpart for the stargate transports: a
// line framed socket server for the socket transport and a long-link /
// short-link server for the multiplexed transport. It is meant for
// development and tests.
package station

import (
	"errors"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// acceptor accepts connections and serves each one on a goroutine pool
type acceptor struct {
	ln     net.Listener
	pool   *ants.Pool
	peers  *PeerPool
	logger *zap.Logger
	serve  func(peer *Peer)
	wg     sync.WaitGroup
}

func newAcceptor(address string, workers int, logger *zap.Logger, serve func(*Peer)) (*acceptor, error) {
	if workers <= 0 {
		workers = 256
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("❌ peer handler panicked", zap.Any("panic", p))
		}))
	if err != nil {
		ln.Close()
		return nil, err
	}

	return &acceptor{
		ln:     ln,
		pool:   pool,
		peers:  NewPeerPool(workers),
		logger: logger,
		serve:  serve,
	}, nil
}

func (a *acceptor) start() {
	a.wg.Add(1)
	go a.acceptLoop()
}

func (a *acceptor) acceptLoop() {
	defer a.wg.Done()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Warn("⚠️ accept failed", zap.Error(err))
			}
			return
		}

		peer, err := a.peers.Add(conn)
		if err != nil {
			conn.Close()
			continue
		}

		err = a.pool.Submit(func() {
			defer a.peers.Remove(peer.ID)
			a.serve(peer)
		})
		if err != nil {
			a.logger.Warn("⚠️ peer rejected", zap.Error(err))
			a.peers.Remove(peer.ID)
		}
	}
}

func (a *acceptor) addr() net.Addr {
	return a.ln.Addr()
}

func (a *acceptor) stop() {
	a.ln.Close()
	a.wg.Wait()
	_ = a.peers.Close()
	a.pool.Release()
}
