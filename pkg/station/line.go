package station

import (
	"bufio"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
)

// LineHandler answers one inbound frame with zero or more frames
type LineHandler func(frame []byte) [][]byte

// Echo answers every frame with itself
func Echo(frame []byte) [][]byte {
	return [][]byte{frame}
}

// LineServer serves peers speaking line terminated frames
type LineServer struct {
	address string
	workers int
	handler LineHandler
	logger  *zap.Logger
	metrics *observability.Metrics

	acc        *acceptor
	frames     atomic.Int64
	heartbeats atomic.Int64
}

// LineOption configures a LineServer
type LineOption func(*LineServer)

// WithLineHandler replaces the default Echo handler
func WithLineHandler(h LineHandler) LineOption {
	return func(s *LineServer) { s.handler = h }
}

// WithLineLogger sets the logger
func WithLineLogger(l *zap.Logger) LineOption {
	return func(s *LineServer) { s.logger = l }
}

// WithLineMetrics sets the metrics collectors
func WithLineMetrics(m *observability.Metrics) LineOption {
	return func(s *LineServer) { s.metrics = m }
}

// WithLineWorkers bounds the number of concurrent peers
func WithLineWorkers(n int) LineOption {
	return func(s *LineServer) { s.workers = n }
}

// NewLineServer creates a server for address (host:port, port 0 picks one)
func NewLineServer(address string, opts ...LineOption) *LineServer {
	s := &LineServer{address: address, handler: Echo}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger).Named("station.line")
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(nil)
	}
	return s
}

// Start listens and serves in the background
func (s *LineServer) Start() error {
	acc, err := newAcceptor(s.address, s.workers, s.logger, s.serve)
	if err != nil {
		return err
	}
	s.acc = acc
	acc.start()
	s.logger.Info("✓ line server listening", zap.String("address", acc.addr().String()))
	return nil
}

// Addr returns the listening address
func (s *LineServer) Addr() net.Addr {
	return s.acc.addr()
}

// Push sends data as one frame to every peer and returns the number reached
func (s *LineServer) Push(data []byte) int {
	frame := append(append([]byte(nil), data...), '\n')
	return s.acc.peers.Broadcast(frame)
}

// Peers returns the number of connected peers
func (s *LineServer) Peers() int {
	return s.acc.peers.Len()
}

// Frames returns the number of non-empty frames received
func (s *LineServer) Frames() int64 {
	return s.frames.Load()
}

// Heartbeats returns the number of heartbeat frames received
func (s *LineServer) Heartbeats() int64 {
	return s.heartbeats.Load()
}

// Stats returns server statistics
func (s *LineServer) Stats() map[string]interface{} {
	stats := s.acc.peers.GetStats()
	stats["frames"] = s.frames.Load()
	stats["heartbeats"] = s.heartbeats.Load()
	return stats
}

// Stop closes the listener and every peer
func (s *LineServer) Stop() {
	if s.acc != nil {
		s.acc.stop()
	}
}

func (s *LineServer) serve(peer *Peer) {
	r := bufio.NewReader(peer.Conn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return
		}
		peer.Touch()

		frame := line[:len(line)-1]
		if len(frame) == 0 {
			s.heartbeats.Add(1)
			s.metrics.Heartbeats.WithLabelValues("station").Inc()
			continue
		}
		s.frames.Add(1)
		s.metrics.FramesIn.WithLabelValues("station").Inc()

		for _, reply := range s.handler(frame) {
			out := append(append([]byte(nil), reply...), '\n')
			if err := peer.Write(out); err != nil {
				s.logger.Debug("reply failed", zap.Uint64("peer", peer.ID), zap.Error(err))
				return
			}
			s.metrics.FramesOut.WithLabelValues("station").Inc()
		}
	}
}
