package stn

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
)

const component = "stn"

var (
	ErrNotStarted    = errors.New("stn: network not started")
	ErrNotAuthorized = errors.New("stn: not authorized")
	ErrDuplicateTask = errors.New("stn: task id already running")
)

// Config holds the network endpoints and timings
type Config struct {
	LongLinkHost           string
	LongLinkPort           int
	ShortLinkPort          int
	ClientVersion          int
	DialTimeout            time.Duration
	TaskTimeout            time.Duration
	NoopInterval           time.Duration // foreground long-link heartbeat
	BackgroundNoopInterval time.Duration
	RedialInitial          time.Duration
	RedialMax              time.Duration
}

// DefaultConfig returns the default network configuration
func DefaultConfig() Config {
	return Config{
		LongLinkHost:           "dim.chat",
		LongLinkPort:           9394,
		ShortLinkPort:          8080,
		ClientVersion:          200,
		DialTimeout:            10 * time.Second,
		TaskTimeout:            30 * time.Second,
		NoopInterval:           4 * time.Minute,
		BackgroundNoopInterval: 9 * time.Minute,
		RedialInitial:          time.Second,
		RedialMax:              30 * time.Second,
	}
}

// Option configures a Network
type Option func(*Network)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Network) { n.metrics = m }
}

// WithHTTPClient replaces the short-link HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(n *Network) { n.httpClient = c }
}

// pendingTask is a long-link task waiting for its response
type pendingTask struct {
	task  Task
	timer *time.Timer
}

// Network multiplexes tasks over a long link and short links
type Network struct {
	cfg        Config
	cb         Callback
	logger     *zap.Logger
	metrics    *observability.Metrics
	httpClient *http.Client

	mu          sync.Mutex
	started     bool
	conn        net.Conn
	connReady   chan struct{} // closed while conn is usable
	longStatus  LinkStatus
	shortStatus LinkStatus
	foreground  bool
	pending     map[uint32]*pendingTask
	running     map[uint32]Task // every started task, until its end

	statusMu sync.Mutex // serializes status reports
	writeMu  sync.Mutex
	kick     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a stopped network calling back into cb
func New(cb Callback, cfg Config, opts ...Option) *Network {
	n := &Network{
		cfg:         cfg,
		cb:          cb,
		connReady:   make(chan struct{}),
		longStatus:  LinkUnknown,
		shortStatus: LinkUnknown,
		foreground:  true,
		pending:     make(map[uint32]*pendingTask),
		running:     make(map[uint32]Task),
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = observability.OrNop(n.logger).Named(component)
	if n.metrics == nil {
		n.metrics = observability.NewMetrics(nil)
	}
	if n.httpClient == nil {
		n.httpClient = &http.Client{}
	}
	return n
}

// Start begins maintaining the long link
func (n *Network) Start() {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.ctx, n.cancel = context.WithCancel(context.Background())
	ctx := n.ctx
	n.mu.Unlock()

	n.logger.Info("🚀 network started",
		zap.String("long_link", n.longLinkAddress()),
		zap.Int("short_link_port", n.cfg.ShortLinkPort),
		zap.Int("client_version", n.cfg.ClientVersion))

	n.wg.Add(2)
	go n.maintain(ctx)
	go n.noopLoop(ctx)
}

// Stop closes the long link and ends every running task with ErrTypeLocal /
// CodeCanceled
func (n *Network) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	cancel, conn := n.cancel, n.conn
	n.mu.Unlock()

	cancel()
	if conn != nil {
		conn.Close()
	}
	n.wg.Wait()

	n.mu.Lock()
	ids := make([]uint32, 0, len(n.running))
	for id := range n.running {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	for _, id := range ids {
		n.end(id, ErrTypeLocal, CodeCanceled)
	}
	n.logger.Info("🛑 network stopped")
}

// StartTask routes task. Errors are returned synchronously only when the
// task could not be started; otherwise OnTaskEnd is called exactly once.
func (n *Network) StartTask(task Task) error {
	if !n.cb.IsAuthorized() {
		return ErrNotAuthorized
	}
	if task.Timeout <= 0 {
		task.Timeout = n.cfg.TaskTimeout
	}

	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return ErrNotStarted
	}
	if _, exists := n.running[task.TaskID]; exists {
		n.mu.Unlock()
		return ErrDuplicateTask
	}
	n.running[task.TaskID] = task
	useLong := task.Channel == ChannelLongLink ||
		(task.Channel == ChannelEither && n.longStatus == LinkConnected)
	ctx := n.ctx
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if useLong {
			n.runLongTask(ctx, task)
		} else {
			n.runShortTask(ctx, task)
		}
	}()
	return nil
}

// end finishes a task once; later calls for the same id do nothing
func (n *Network) end(taskID uint32, errType ErrType, errCode int) {
	n.mu.Lock()
	task, ok := n.running[taskID]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.running, taskID)
	if p, ok := n.pending[taskID]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(n.pending, taskID)
	}
	n.mu.Unlock()

	result := "ok"
	if errType != ErrTypeOK {
		result = "error"
		n.logger.Debug("task failed",
			zap.Uint32("task_id", taskID),
			zap.Stringer("err_type", errType),
			zap.Int("err_code", errCode))
	}
	n.metrics.SendsFinished.WithLabelValues(component, result).Inc()
	n.cb.OnTaskEnd(taskID, task, errType, errCode)
}

// OnForeground switches the heartbeat cadence and, when coming to the
// foreground, skips the wait before the next redial
func (n *Network) OnForeground(foreground bool) {
	n.mu.Lock()
	changed := n.foreground != foreground
	n.foreground = foreground
	n.mu.Unlock()

	if !changed {
		return
	}
	n.logger.Info("📱 foreground changed", zap.Bool("foreground", foreground))
	if foreground {
		select {
		case n.kick <- struct{}{}:
		default:
		}
	}
}

// Foreground reports the last foreground state
func (n *Network) Foreground() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.foreground
}

// LongLinkStatus returns the long-link status
func (n *Network) LongLinkStatus() LinkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.longStatus
}

// ShortLinkStatus returns the short-link status
func (n *Network) ShortLinkStatus() LinkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shortStatus
}

// ClientVersion returns the configured client version
func (n *Network) ClientVersion() int {
	return n.cfg.ClientVersion
}

// Resolve returns the addresses for host from the application DNS table,
// or host itself when the table has none
func (n *Network) Resolve(host string) []string {
	if ips := n.cb.OnNewDNS(host); len(ips) > 0 {
		return ips
	}
	return []string{host}
}

func (n *Network) longLinkAddress() string {
	return net.JoinHostPort(n.cfg.LongLinkHost, strconv.Itoa(n.cfg.LongLinkPort))
}

func (n *Network) setStatus(short, long *LinkStatus) {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()

	n.mu.Lock()
	changed := false
	if short != nil && n.shortStatus != *short {
		n.shortStatus = *short
		changed = true
	}
	if long != nil && n.longStatus != *long {
		n.longStatus = *long
		changed = true
	}
	s, l := n.shortStatus, n.longStatus
	n.mu.Unlock()

	if changed {
		n.cb.OnConnectionStatusChange(s, l)
	}
}

func (n *Network) setLong(s LinkStatus) {
	n.setStatus(nil, &s)
}

func (n *Network) setShort(s LinkStatus) {
	n.setStatus(&s, nil)
}
