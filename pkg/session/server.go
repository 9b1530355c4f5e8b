// Package session drives a transport with the session state machine: it
// connects, handshakes for the current user, flushes waiting packages once
// running and restarts the transport after failures.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/delivery"
	"github.com/ZentaChain/zentalk-stargate/pkg/fsm"
	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

const component = "session"

var (
	ErrAlreadyStarted = errors.New("session: already started")
	ErrNotStarted     = errors.New("session: not started")
	ErrLaunchFailed   = errors.New("session: transport launch failed")
	ErrDuplicate      = errors.New("session: package already waiting")
)

// StarFactory creates a transport reporting to delegate
type StarFactory func(delegate stargate.Delegate) stargate.Star

// Handshaker starts the handshake for the current user, usually by sending a
// handshake command with Server.Send. The answer is reported back with
// Server.SetSessionKey. It runs while the state machine is locked and must
// not block.
type Handshaker interface {
	Handshake(s *Server) error
}

// HandshakeFunc adapts a function to Handshaker
type HandshakeFunc func(s *Server) error

func (f HandshakeFunc) Handshake(s *Server) error { return f(s) }

// Delegate receives session level events
type Delegate interface {
	OnReceivePackage(data []byte, s *Server)
	DidSendPackage(data []byte, s *Server)
	DidFailToSendPackage(data []byte, err error, s *Server)
}

// Config holds session timings
type Config struct {
	TickInterval     time.Duration
	HandshakeTimeout time.Duration // handshake retried after this long
	PurgeInterval    time.Duration // waiting queue maintenance period
	Expires          time.Duration // handoff expiry of waiting packages
	RecoverLimit     int           // stranded messages requeued on Start
	// Confirm holds a delivered package until Complete reports the
	// application's result
	Confirm bool
}

// DefaultConfig returns the default session timings
func DefaultConfig() Config {
	return Config{
		TickInterval:     fsm.DefaultTickInterval,
		HandshakeTimeout: 120 * time.Second,
		PurgeInterval:    30 * time.Second,
		Expires:          delivery.DefaultExpires,
		RecoverLimit:     100,
	}
}

// Option configures a Server
type Option func(*Server)

// WithConfig overrides the timings
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStore keeps failed packages in store and requeues them on Start
func WithStore(store *delivery.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithHandshaker sets the handshaker. Without one a session is accepted as
// soon as the handshake state is entered.
func WithHandshaker(h Handshaker) Option {
	return func(s *Server) { s.handshaker = h }
}

// WithDelegate sets the session delegate
func WithDelegate(d Delegate) Option {
	return func(s *Server) { s.delegate = d }
}

// Server owns one transport and the session state around it
type Server struct {
	factory    StarFactory
	cfg        Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	store      *delivery.Store
	handshaker Handshaker
	delegate   Delegate

	queue *delivery.Queue
	auto  *fsm.AutoMachine

	starMu  sync.RWMutex
	star    stargate.Star
	options stargate.Options

	mu          sync.Mutex
	user        string
	sessionKey  string
	handshakeAt time.Time
	started     bool
	cancel      context.CancelFunc

	state      atomic.Value // current state name
	restarting atomic.Bool
	wg         sync.WaitGroup
}

// NewServer creates a stopped server whose transports come from factory
func NewServer(factory StarFactory, opts ...Option) *Server {
	s := &Server{
		factory: factory,
		cfg:     DefaultConfig(),
		queue:   delivery.NewQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger).Named(component)
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(nil)
	}
	s.state.Store("")
	s.auto = fsm.NewAutoMachine(newMachine(s), s.cfg.TickInterval)
	return s
}

// Start requeues stranded packages, launches a transport with options and
// starts the state machine. A failed launch is reported with ErrLaunchFailed;
// the server keeps running and retries from its maintenance loop.
func (s *Server) Start(options stargate.Options) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.recover()

	star := s.factory(s)
	s.starMu.Lock()
	s.star = star
	s.options = options
	s.starMu.Unlock()

	s.auto.Start(ctx)
	s.wg.Add(1)
	go s.maintain(ctx)

	if !star.Launch(options) {
		s.logger.Warn("⚠️ transport launch failed")
		return ErrLaunchFailed
	}
	s.logger.Info("🚀 session started")
	return nil
}

// Stop stops the machine and terminates the transport
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.auto.Stop()
	s.wg.Wait()

	if star := s.currentStar(); star != nil {
		star.Terminate()
	}
	s.logger.Info("🛑 session stopped")
}

// Pause moves the transport to the background and pauses the machine
func (s *Server) Pause() {
	if star := s.currentStar(); star != nil {
		star.EnterBackground()
	}
	if s.auto.Status() == fsm.Running {
		s.auto.Pause()
	}
}

// Resume brings the transport to the foreground and resumes the machine
func (s *Server) Resume() {
	if star := s.currentStar(); star != nil {
		star.EnterForeground()
	}
	if s.auto.Status() == fsm.Paused {
		s.auto.Resume()
	}
}

// SetUser switches the current user. A new user needs a new session, so the
// session key is cleared.
func (s *Server) SetUser(user string) {
	s.mu.Lock()
	if s.user == user {
		s.mu.Unlock()
		return
	}
	s.user = user
	s.sessionKey = ""
	s.mu.Unlock()

	s.logger.Info("👤 user changed", zap.String("user", user))
	s.auto.Tick()
}

// User returns the current user
func (s *Server) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetSessionKey records the session accepted by the remote side. An empty
// key ends the session.
func (s *Server) SetSessionKey(key string) {
	s.mu.Lock()
	s.sessionKey = key
	s.mu.Unlock()
	s.auto.Tick()
}

// SessionKey returns the current session key
func (s *Server) SessionKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionKey
}

// Status returns the transport status, Error when there is none
func (s *Server) Status() stargate.Status {
	star := s.currentStar()
	if star == nil {
		return stargate.StatusError
	}
	return star.Status()
}

// State returns the current session state name
func (s *Server) State() string {
	return s.state.Load().(string)
}

// Queue exposes the waiting queue
func (s *Server) Queue() *delivery.Queue {
	return s.queue
}

// wrapperOptions returns the options shared by every waiting package
func (s *Server) wrapperOptions(handler delivery.Handler) []delivery.WrapperOption {
	opts := []delivery.WrapperOption{
		delivery.WithHandler(handler),
		delivery.WithUpstream(s),
		delivery.WithExpires(s.cfg.Expires),
	}
	if s.cfg.Confirm {
		opts = append(opts, delivery.WithConfirmation())
	}
	return opts
}

// SendPackage queues data for delivery and sends it as soon as the session
// runs. handler is told once about the outcome. With Config.Confirm the
// outcome waits for Complete after the transport delivered the package.
func (s *Server) SendPackage(data []byte, handler delivery.Handler, priority int) error {
	w := delivery.NewWrapper(data, priority, s.wrapperOptions(packageHandler{server: s, inner: handler})...)
	if !s.queue.Append(w) {
		return ErrDuplicate
	}
	s.metrics.QueueDepth.WithLabelValues(component).Set(float64(s.queue.Len()))

	if s.State() == StateRunning {
		s.flush()
	}
	return nil
}

// Complete reports the application-level result of the waiting package
// with signature, for example the remote side rejecting it. It returns false
// when no such package waits.
func (s *Server) Complete(signature string, err error) bool {
	w := s.queue.Find(signature)
	if w == nil {
		return false
	}
	w.Complete(err)
	return true
}

// Send hands data to the transport right away. handler, when set, is called
// when the transport finishes this send.
func (s *Server) Send(data []byte, handler delivery.Handler) int {
	star := s.currentStar()
	if star == nil {
		if handler != nil {
			handler.OnFailed(data, ErrNotStarted)
		}
		return 0
	}
	if handler == nil {
		return star.Send(data)
	}
	return star.SendWithDelegate(data, sendDelegate{server: s, handler: handler})
}

// OnReceive implements stargate.Delegate
func (s *Server) OnReceive(data []byte, _ stargate.Star) int {
	s.logger.Debug("package received", zap.Int("bytes", len(data)))
	if s.delegate != nil {
		s.delegate.OnReceivePackage(data, s)
	}
	return 0
}

// OnConnectionStatusChanged implements stargate.Delegate
func (s *Server) OnConnectionStatusChanged(status stargate.Status, _ stargate.Star) {
	s.logger.Info("📡 transport status", zap.Stringer("status", status))
	s.auto.Tick()
}

// OnFinishSend implements stargate.Delegate for packages sent with Send
func (s *Server) OnFinishSend(data []byte, err error, _ stargate.Star) {
	s.notifySent(data, err)
}

// sendDelegate carries the handler of one Send call
type sendDelegate struct {
	server  *Server
	handler delivery.Handler
}

func (d sendDelegate) OnReceive(data []byte, star stargate.Star) int {
	return d.server.OnReceive(data, star)
}

func (d sendDelegate) OnConnectionStatusChanged(status stargate.Status, star stargate.Star) {
	d.server.OnConnectionStatusChanged(status, star)
}

func (d sendDelegate) OnFinishSend(data []byte, err error, _ stargate.Star) {
	d.server.notifySent(data, err)
	if err != nil {
		d.handler.OnFailed(data, err)
	} else {
		d.handler.OnSuccess(data)
	}
}

func (s *Server) notifySent(data []byte, err error) {
	s.metrics.SendsFinished.WithLabelValues(component, observability.Result(err)).Inc()
	if s.delegate == nil {
		return
	}
	if err != nil {
		s.delegate.DidFailToSendPackage(data, err, s)
	} else {
		s.delegate.DidSendPackage(data, s)
	}
}

// packageHandler reports queued package outcomes to the session delegate
// before the caller's handler
type packageHandler struct {
	server *Server
	inner  delivery.Handler
}

func (h packageHandler) OnSuccess(data []byte) {
	h.server.notifySent(data, nil)
	if h.inner != nil {
		h.inner.OnSuccess(data)
	}
}

func (h packageHandler) OnFailed(data []byte, err error) {
	h.server.notifySent(data, err)
	if h.inner != nil {
		h.inner.OnFailed(data, err)
	}
}

func (s *Server) currentStar() stargate.Star {
	s.starMu.RLock()
	defer s.starMu.RUnlock()
	return s.star
}
