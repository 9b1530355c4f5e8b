package station

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

// Handler answers one request. cgi is empty for long-link requests.
type Handler func(cmdID uint32, cgi string, body []byte) ([]byte, error)

// EchoHandler answers every request with its body
func EchoHandler(_ uint32, _ string, body []byte) ([]byte, error) {
	return body, nil
}

// LinkConfig holds the listening addresses of a LinkServer
type LinkConfig struct {
	LongAddress  string
	ShortAddress string
	Workers      int
}

// LinkServer serves stn long-link packets and short-link HTTP posts
type LinkServer struct {
	cfg     LinkConfig
	handler Handler
	logger  *zap.Logger
	metrics *observability.Metrics

	acc      *acceptor
	shortLn  net.Listener
	http     *http.Server
	router   *gin.Engine
	requests atomic.Int64
	noops    atomic.Int64
}

// LinkOption configures a LinkServer
type LinkOption func(*LinkServer)

// WithHandler replaces the default EchoHandler
func WithHandler(h Handler) LinkOption {
	return func(s *LinkServer) { s.handler = h }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) LinkOption {
	return func(s *LinkServer) { s.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *observability.Metrics) LinkOption {
	return func(s *LinkServer) { s.metrics = m }
}

// NewLinkServer creates a link server
func NewLinkServer(cfg LinkConfig, opts ...LinkOption) *LinkServer {
	s := &LinkServer{cfg: cfg, handler: EchoHandler}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger).Named("station.link")
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(nil)
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.POST("/*cgi", s.handleShort)
	return s
}

// Start listens on both addresses
func (s *LinkServer) Start() error {
	acc, err := newAcceptor(s.cfg.LongAddress, s.cfg.Workers, s.logger, s.serveLong)
	if err != nil {
		return err
	}

	shortLn, err := net.Listen("tcp", s.cfg.ShortAddress)
	if err != nil {
		acc.stop()
		return err
	}

	s.acc = acc
	s.shortLn = shortLn
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	acc.start()
	go func() {
		if err := s.http.Serve(shortLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("❌ short link server failed", zap.Error(err))
		}
	}()

	s.logger.Info("✓ link server listening",
		zap.String("long", acc.addr().String()),
		zap.String("short", shortLn.Addr().String()))
	return nil
}

// LongAddr returns the long-link listening address
func (s *LinkServer) LongAddr() net.Addr {
	return s.acc.addr()
}

// ShortAddr returns the short-link listening address
func (s *LinkServer) ShortAddr() net.Addr {
	return s.shortLn.Addr()
}

// Router exposes the short-link routes
func (s *LinkServer) Router() http.Handler {
	return s.router
}

// Push sends a server push to every long-link peer
func (s *LinkServer) Push(cmdID uint32, data []byte) int {
	raw, err := encode(stn.NewPacket(cmdID, 0, data))
	if err != nil {
		s.logger.Warn("⚠️ push encode failed", zap.Error(err))
		return 0
	}
	return s.acc.peers.Broadcast(raw)
}

// Peers returns the number of long-link peers
func (s *LinkServer) Peers() int {
	return s.acc.peers.Len()
}

// Stats returns server statistics
func (s *LinkServer) Stats() map[string]interface{} {
	stats := s.acc.peers.GetStats()
	stats["requests"] = s.requests.Load()
	stats["noops"] = s.noops.Load()
	return stats
}

// Stop shuts both listeners down
func (s *LinkServer) Stop() {
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("⚠️ short link shutdown", zap.Error(err))
		}
	}
	if s.acc != nil {
		s.acc.stop()
	}
}

func (s *LinkServer) serveLong(peer *Peer) {
	for {
		p, err := stn.ReadPacket(peer.Conn)
		if err != nil {
			return
		}
		peer.Touch()

		var reply *stn.Packet
		if p.CmdID == stn.CmdNoop {
			s.noops.Add(1)
			s.metrics.Heartbeats.WithLabelValues("station").Inc()
			reply = stn.NewPacket(stn.CmdNoop, p.TaskID, nil)
		} else {
			s.requests.Add(1)
			s.metrics.FramesIn.WithLabelValues("station").Inc()
			reply = s.answer(p)
		}

		raw, err := encode(reply)
		if err != nil {
			return
		}
		if err := peer.Write(raw); err != nil {
			s.logger.Debug("long link reply failed", zap.Uint64("peer", peer.ID), zap.Error(err))
			return
		}
		s.metrics.FramesOut.WithLabelValues("station").Inc()
	}
}

func (s *LinkServer) answer(p *stn.Packet) *stn.Packet {
	body, err := s.handler(p.CmdID, "", p.Body)
	if err != nil {
		reply := stn.NewPacket(p.CmdID, p.TaskID, []byte(err.Error()))
		reply.SetFlag(stn.FlagError)
		return reply
	}
	return stn.NewPacket(p.CmdID, p.TaskID, body)
}

func (s *LinkServer) handleShort(c *gin.Context) {
	cmdID, err := strconv.ParseUint(c.GetHeader(stn.HeaderCmd), 10, 32)
	if err != nil {
		c.String(http.StatusBadRequest, "missing or invalid %s", stn.HeaderCmd)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	s.requests.Add(1)
	s.metrics.FramesIn.WithLabelValues("station").Inc()

	resp, err := s.handler(uint32(cmdID), c.Param("cgi"), body)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.FramesOut.WithLabelValues("station").Inc()
	c.Data(http.StatusOK, "application/octet-stream", resp)
}

func encode(p *stn.Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := stn.WritePacket(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
