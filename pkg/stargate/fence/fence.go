// Package fence implements the socket transport: one TCP connection carrying
// line terminated frames, a FIFO send queue with one task in flight, and a
// heartbeat when the link is idle.
package fence

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

const component = "fence"

// Config holds socket transport timings
type Config struct {
	HeartbeatInterval time.Duration // idle time before a heartbeat is written
	IdleSleep         time.Duration // sleep when there is nothing to do
	PollTimeout       time.Duration // wait for unsolicited inbound bytes per iteration
	ResponseTimeout   time.Duration // wait for the response to a task
	DialTimeout       time.Duration
	WriteTimeout      time.Duration // 0 disables the write deadline
	ReconnectDelay    time.Duration // first backoff interval of the reconnect
	ReconnectRetries  uint64        // dial retries within the single reconnect
	QueueHint         int64
	CallbackBuffer    int
}

// DefaultConfig returns the default socket transport timings
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Minute,
		IdleSleep:         500 * time.Millisecond,
		PollTimeout:       10 * time.Millisecond,
		ResponseTimeout:   time.Second,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectDelay:    500 * time.Millisecond,
		ReconnectRetries:  1,
		QueueHint:         64,
		CallbackBuffer:    256,
	}
}

// Option configures a Fence
type Option func(*Fence)

// WithConfig overrides the timings
func WithConfig(cfg Config) Option {
	return func(f *Fence) { f.cfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Fence) { f.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fence) { f.metrics = m }
}

type task struct {
	id       int
	data     []byte
	delegate stargate.Delegate
}

// Fence is the socket transport
type Fence struct {
	cfg      Config
	delegate stargate.Delegate
	logger   *zap.Logger
	metrics  *observability.Metrics

	dispatcher *stargate.Dispatcher
	tasks      *queue.Queue
	ids        stargate.TaskIDs
	wake       chan struct{}

	mu         sync.Mutex
	status     stargate.Status
	address    string
	conn       net.Conn
	cancel     context.CancelFunc
	done       chan struct{}
	terminated bool

	// owned by the worker goroutine
	inbound    frameBuffer
	readBuf    []byte
	lastActive time.Time
}

// New creates a socket transport reporting to delegate
func New(delegate stargate.Delegate, opts ...Option) *Fence {
	f := &Fence{
		cfg:      DefaultConfig(),
		delegate: delegate,
		status:   stargate.StatusInit,
		wake:     make(chan struct{}, 1),
		readBuf:  make([]byte, 4096),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = observability.OrNop(f.logger).Named(component)
	if f.metrics == nil {
		f.metrics = observability.NewMetrics(nil)
	}
	f.dispatcher = stargate.NewDispatcher(f.cfg.CallbackBuffer, f.logger)
	f.tasks = queue.New(f.cfg.QueueHint)
	return f
}

// Status returns the current connection status
func (f *Fence) Status() stargate.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Address returns the remote address used by the last Launch
func (f *Fence) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

// Launch connects to options "host" and "port" and starts the worker
func (f *Fence) Launch(opts stargate.Options) bool {
	host := opts.String("host", "")
	port := opts.Int("port", 0)
	if host == "" || port <= 0 || port > 65535 {
		f.logger.Error("❌ invalid launch options", zap.String("host", host), zap.Int("port", port))
		f.setStatus(stargate.StatusError)
		return false
	}

	f.mu.Lock()
	if f.terminated || f.status == stargate.StatusConnecting || f.status == stargate.StatusConnected {
		f.mu.Unlock()
		return false
	}
	f.address = net.JoinHostPort(host, strconv.Itoa(port))
	address := f.address
	prev := f.done
	f.mu.Unlock()

	// the previous worker may still be finishing its abort
	if prev != nil {
		<-prev
	}

	f.setStatus(stargate.StatusConnecting)
	conn, err := net.DialTimeout("tcp", address, f.cfg.DialTimeout)
	if err != nil {
		f.logger.Error("❌ failed to connect", zap.String("address", address), zap.Error(err))
		f.setStatus(stargate.StatusError)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		cancel()
		conn.Close()
		return false
	}
	f.conn = conn
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	f.setStatus(stargate.StatusConnected)
	f.logger.Info("✅ connected", zap.String("address", address))

	go f.run(ctx, done)
	return true
}

// Terminate stops the worker and closes the socket. Queued tasks are
// dropped without callbacks.
func (f *Fence) Terminate() {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return
	}
	f.terminated = true
	f.status = stargate.StatusInit
	cancel, conn, done := f.cancel, f.conn, f.done
	f.conn = nil
	f.mu.Unlock()

	f.dispatcher.Close()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	dropped := f.tasks.Dispose()
	if done != nil {
		<-done
	}

	f.metrics.Status.WithLabelValues(component).Set(float64(stargate.StatusInit))
	f.metrics.QueueDepth.WithLabelValues(component).Set(0)
	f.logger.Info("🛑 terminated", zap.Int("dropped_tasks", len(dropped)))
}

// EnterBackground is a no-op for the socket transport
func (f *Fence) EnterBackground() {}

// EnterForeground is a no-op for the socket transport
func (f *Fence) EnterForeground() {}

// Send queues data using the transport delegate
func (f *Fence) Send(data []byte) int {
	return f.SendWithDelegate(data, f.delegate)
}

// SendWithDelegate queues data. The task is accepted in every status; it is
// written once the worker runs.
func (f *Fence) SendWithDelegate(data []byte, delegate stargate.Delegate) int {
	if delegate == nil {
		delegate = f.delegate
	}

	t := &task{
		id:       f.ids.Next(),
		data:     append([]byte(nil), data...),
		delegate: delegate,
	}

	if err := f.tasks.Put(t); err != nil {
		f.logger.Warn("⚠️ send after terminate", zap.Int("task_id", t.id), zap.Error(err))
		return t.id
	}
	f.metrics.QueueDepth.WithLabelValues(component).Set(float64(f.tasks.Len()))

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return t.id
}

// setStatus records s and reports it when it differs from the current status
func (f *Fence) setStatus(s stargate.Status) {
	f.mu.Lock()
	if f.status == s || f.terminated {
		f.mu.Unlock()
		return
	}
	f.status = s
	f.mu.Unlock()

	f.metrics.Status.WithLabelValues(component).Set(float64(s))
	f.post(func() { f.delegate.OnConnectionStatusChanged(s, f) })
}

func (f *Fence) post(fn func()) {
	f.dispatcher.Post(fn)
}

func (f *Fence) currentConn() net.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *Fence) finish(t *task, err error) {
	f.metrics.SendsFinished.WithLabelValues(component, observability.Result(err)).Inc()
	data := t.data
	f.post(func() { t.delegate.OnFinishSend(data, err, f) })
}
