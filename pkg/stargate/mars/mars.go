// Package mars implements the multiplexed transport on top of the stn
// long-link / short-link network.
package mars

import (
	"errors"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/observability"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

const component = "mars"

// Command ids
const (
	CmdSayHello         uint32 = 1
	CmdConversationList uint32 = 2
	CmdSendMsg          uint32 = 3
	CmdPushMsg          uint32 = 10001
)

// SendCGI is the short-link path of CmdSendMsg
const SendCGI = "/sendmessage"

// Launch option keys and defaults
const (
	OptLongLinkAddress = "LongLinkAddress"
	OptLongLinkPort    = "LongLinkPort"
	OptShortLinkPort   = "ShortLinkPort"
	OptClientVersion   = "clientVersion"
	OptNewDNS          = "NewDNS"

	DefaultHost          = "dim.chat"
	DefaultLongLinkPort  = 9394
	DefaultShortLinkPort = 8080
	DefaultClientVersion = 200
	DefaultCallbacks     = 256
)

// Option configures a Mars transport
type Option func(*Mars)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Mars) { m.logger = l }
}

// WithMetrics sets the metrics collectors
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Mars) { m.metrics = metrics }
}

// WithNetworkConfig sets the base network configuration. Launch options
// override its endpoints.
func WithNetworkConfig(cfg stn.Config) Option {
	return func(m *Mars) { m.netCfg = cfg }
}

// WithNetworkOptions passes options to the underlying network
func WithNetworkOptions(opts ...stn.Option) Option {
	return func(m *Mars) { m.netOpts = append(m.netOpts, opts...) }
}

// WithAuthorizer sets the authorization check, see SetAuthorizer
func WithAuthorizer(fn func() bool) Option {
	return func(m *Mars) { m.authorize = fn }
}

// Mars is the multiplexed transport. It implements stargate.Star and is the
// stn.Callback of the network it owns.
type Mars struct {
	delegate stargate.Delegate
	logger   *zap.Logger
	metrics  *observability.Metrics
	netCfg   stn.Config
	netOpts  []stn.Option

	dispatcher *stargate.Dispatcher
	ids        stargate.TaskIDs

	pushObservers cmap.ConcurrentMap[uint32, PushObserver]
	messengers    cmap.ConcurrentMap[uint32, *messenger]
	tasks         cmap.ConcurrentMap[uint32, stn.Task]

	mu         sync.Mutex
	network    *stn.Network
	host       string
	dns        map[string][]string
	authorize  func() bool
	long       stargate.Status
	short      stargate.Status
	status     stargate.Status
	terminated bool
}

func shardByID(id uint32) uint32 { return id }

// New creates a multiplexed transport reporting to delegate. Pushes of
// CmdPushMsg and CmdSendMsg are delivered to the delegate's OnReceive.
func New(delegate stargate.Delegate, opts ...Option) *Mars {
	m := &Mars{
		delegate:      delegate,
		netCfg:        stn.DefaultConfig(),
		pushObservers: cmap.NewWithCustomShardingFunction[uint32, PushObserver](shardByID),
		messengers:    cmap.NewWithCustomShardingFunction[uint32, *messenger](shardByID),
		tasks:         cmap.NewWithCustomShardingFunction[uint32, stn.Task](shardByID),
		long:          stargate.StatusInit,
		short:         stargate.StatusInit,
		status:        stargate.StatusInit,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = observability.OrNop(m.logger).Named(component)
	if m.metrics == nil {
		m.metrics = observability.NewMetrics(nil)
	}
	m.dispatcher = stargate.NewDispatcher(DefaultCallbacks, m.logger)

	push := delegatePush{star: m, delegate: delegate}
	m.AddPushObserver(CmdPushMsg, push)
	// the station may also push messages under the send command
	m.AddPushObserver(CmdSendMsg, push)
	return m
}

// AddPushObserver routes pushes of cmdID to observer, replacing any
// previous observer
func (m *Mars) AddPushObserver(cmdID uint32, observer PushObserver) {
	m.pushObservers.Set(cmdID, observer)
}

// RemovePushObserver stops routing pushes of cmdID
func (m *Mars) RemovePushObserver(cmdID uint32) {
	m.pushObservers.Remove(cmdID)
}

// SetAuthorizer sets the check consulted before every send. A nil check
// authorizes everything.
func (m *Mars) SetAuthorizer(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorize = fn
}

// Status returns the merged connection status
func (m *Mars) Status() stargate.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Network returns the underlying network, nil before Launch
func (m *Mars) Network() *stn.Network {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.network
}

// Launch configures and starts the network. It returns false when the
// options are invalid or the transport was launched or terminated before.
func (m *Mars) Launch(opts stargate.Options) bool {
	host := opts.String(OptLongLinkAddress, DefaultHost)
	longPort := opts.Int(OptLongLinkPort, DefaultLongLinkPort)
	shortPort := opts.Int(OptShortLinkPort, DefaultShortLinkPort)
	version := opts.Int(OptClientVersion, DefaultClientVersion)

	dns := opts.StringSlices(OptNewDNS)
	if len(dns) == 0 {
		dns = map[string][]string{DefaultHost: {"127.0.0.1"}}
	}

	if host == "" || !validPort(longPort) || !validPort(shortPort) {
		m.logger.Error("❌ invalid launch options",
			zap.String("host", host), zap.Int("long_port", longPort), zap.Int("short_port", shortPort))
		m.updateStatus(stargate.StatusError, stargate.StatusError)
		return false
	}

	cfg := m.netCfg
	cfg.LongLinkHost = host
	cfg.LongLinkPort = longPort
	cfg.ShortLinkPort = shortPort
	cfg.ClientVersion = version

	netOpts := append([]stn.Option{stn.WithLogger(m.logger), stn.WithMetrics(m.metrics)}, m.netOpts...)

	m.mu.Lock()
	if m.terminated || m.network != nil {
		m.mu.Unlock()
		return false
	}
	m.host = host
	m.dns = dns
	m.network = stn.New(m, cfg, netOpts...)
	network := m.network
	m.mu.Unlock()

	m.logger.Info("🚀 launching", zap.String("host", host), zap.Int("long_port", longPort),
		zap.Int("short_port", shortPort), zap.Int("client_version", version))
	network.Start()
	network.OnForeground(true)
	return true
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// Terminate stops the network. No delegate call happens afterwards.
func (m *Mars) Terminate() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.status = stargate.StatusInit
	network := m.network
	m.mu.Unlock()

	m.dispatcher.Close()
	if network != nil {
		network.Stop()
	}
	m.messengers.Clear()
	m.tasks.Clear()

	m.metrics.Status.WithLabelValues(component).Set(float64(stargate.StatusInit))
	m.logger.Info("🛑 terminated")
}

// EnterBackground reports the background state to the network
func (m *Mars) EnterBackground() {
	if n := m.Network(); n != nil {
		n.OnForeground(false)
	}
}

// EnterForeground reports the foreground state to the network
func (m *Mars) EnterForeground() {
	if n := m.Network(); n != nil {
		n.OnForeground(true)
	}
}

// Send sends data using the transport delegate
func (m *Mars) Send(data []byte) int {
	return m.SendWithDelegate(data, m.delegate)
}

// SendWithDelegate starts a CmdSendMsg task on the long link. When the task
// cannot start, delegate gets OnFinishSend with the reason right away.
func (m *Mars) SendWithDelegate(data []byte, delegate stargate.Delegate) int {
	if delegate == nil {
		delegate = m.delegate
	}
	id := m.ids.Next()
	msg := &messenger{data: append([]byte(nil), data...), delegate: delegate}

	m.mu.Lock()
	network, host, authorize := m.network, m.host, m.authorize
	m.mu.Unlock()

	if authorize != nil && !authorize() {
		m.fail(msg, stargate.ErrNotAuthorized)
		return id
	}
	if network == nil {
		m.fail(msg, stargate.ErrNotConnected)
		return id
	}

	task := stn.Task{
		TaskID:  uint32(id),
		Channel: stn.ChannelLongLink,
		CmdID:   CmdSendMsg,
		CGI:     SendCGI,
		Host:    host,
	}
	m.messengers.Set(task.TaskID, msg)
	m.tasks.Set(task.TaskID, task)

	if err := network.StartTask(task); err != nil {
		m.messengers.Remove(task.TaskID)
		m.tasks.Remove(task.TaskID)
		switch {
		case errors.Is(err, stn.ErrNotAuthorized):
			err = stargate.ErrNotAuthorized
		case errors.Is(err, stn.ErrNotStarted):
			err = stargate.ErrNotConnected
		}
		m.fail(msg, err)
	}
	return id
}

func (m *Mars) fail(msg *messenger, err error) {
	m.logger.Debug("send rejected", zap.Error(err))
	m.metrics.SendsFinished.WithLabelValues(component, observability.Result(err)).Inc()
	m.dispatcher.Post(func() { msg.delegate.OnFinishSend(msg.data, err, m) })
}

// updateStatus records link statuses and reports a change of the merged
// status
func (m *Mars) updateStatus(long, short stargate.Status) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.long, m.short = long, short
	merged := MergeStatus(long, short)
	if merged == m.status {
		m.mu.Unlock()
		return
	}
	m.status = merged
	m.mu.Unlock()

	m.logger.Info("📡 status changed", zap.Stringer("status", merged),
		zap.Stringer("long", long), zap.Stringer("short", short))
	m.metrics.Status.WithLabelValues(component).Set(float64(merged))
	m.dispatcher.Post(func() { m.delegate.OnConnectionStatusChanged(merged, m) })
}

// IsAuthorized implements stn.Callback
func (m *Mars) IsAuthorized() bool {
	m.mu.Lock()
	authorize := m.authorize
	m.mu.Unlock()
	return authorize == nil || authorize()
}

// OnNewDNS implements stn.Callback. Hosts missing from the table use the
// addresses of DefaultHost.
func (m *Mars) OnNewDNS(host string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ips, ok := m.dns[host]; ok && len(ips) > 0 {
		return ips
	}
	return m.dns[DefaultHost]
}

// OnPush implements stn.Callback. Pushes without an observer are dropped.
func (m *Mars) OnPush(cmdID uint32, data []byte) {
	observer, ok := m.pushObservers.Get(cmdID)
	if !ok {
		m.logger.Debug("push dropped", zap.Uint32("cmd_id", cmdID))
		return
	}
	m.metrics.FramesIn.WithLabelValues(component).Inc()
	m.dispatcher.Post(func() { observer.NotifyPush(cmdID, data) })
}

// Req2Buf implements stn.Callback
func (m *Mars) Req2Buf(taskID uint32, _ stn.Task) ([]byte, error) {
	msg, ok := m.messengers.Get(taskID)
	if !ok {
		return nil, ErrUnknownTask
	}
	return msg.data, nil
}

// Buf2Resp implements stn.Callback
func (m *Mars) Buf2Resp(taskID uint32, _ stn.Task, data []byte) error {
	msg, ok := m.messengers.Get(taskID)
	if !ok {
		return ErrUnknownTask
	}
	m.dispatcher.Post(func() { msg.delegate.OnReceive(data, m) })
	return nil
}

// OnTaskEnd implements stn.Callback
func (m *Mars) OnTaskEnd(taskID uint32, _ stn.Task, errType stn.ErrType, errCode int) {
	m.tasks.Remove(taskID)
	msg, ok := m.messengers.Pop(taskID)
	if !ok {
		return
	}

	err := TranslateError(errType, errCode)
	m.metrics.SendsFinished.WithLabelValues(component, observability.Result(err)).Inc()
	m.dispatcher.Post(func() { msg.delegate.OnFinishSend(msg.data, err, m) })
}

// OnConnectionStatusChange implements stn.Callback
func (m *Mars) OnConnectionStatusChange(short, long stn.LinkStatus) {
	m.updateStatus(MapLinkStatus(long), MapLinkStatus(short))
}

// PendingTasks returns the number of tasks started and not yet ended
func (m *Mars) PendingTasks() int {
	return m.tasks.Count()
}
