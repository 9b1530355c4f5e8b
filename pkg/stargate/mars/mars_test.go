package mars_test

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/mars"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/stargatetest"
	"github.com/ZentaChain/zentalk-stargate/pkg/station"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

const testHost = "station.test"

func handler(_ uint32, _ string, body []byte) ([]byte, error) {
	if string(body) == "bad" {
		return nil, errors.New("rejected")
	}
	return []byte(strings.ToUpper(string(body))), nil
}

func portOf(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := portOf(t, ln.Addr())
	ln.Close()
	return p
}

func networkConfig() stn.Config {
	cfg := stn.DefaultConfig()
	cfg.DialTimeout = time.Second
	cfg.TaskTimeout = 2 * time.Second
	cfg.RedialInitial = 50 * time.Millisecond
	cfg.RedialMax = 200 * time.Millisecond
	return cfg
}

func startStation(t *testing.T) *station.LinkServer {
	t.Helper()
	s := station.NewLinkServer(station.LinkConfig{
		LongAddress:  "127.0.0.1:0",
		ShortAddress: "127.0.0.1:0",
	}, station.WithHandler(handler))
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func options(longPort, shortPort int) stargate.Options {
	return stargate.Options{
		mars.OptLongLinkAddress: testHost,
		mars.OptLongLinkPort:    longPort,
		mars.OptShortLinkPort:   shortPort,
		mars.OptNewDNS:          map[string][]string{testHost: {"127.0.0.1"}},
	}
}

func launch(t *testing.T, s *station.LinkServer) (*mars.Mars, *stargatetest.Recorder) {
	t.Helper()
	rec := stargatetest.NewRecorder()
	m := mars.New(rec, mars.WithNetworkConfig(networkConfig()))
	t.Cleanup(m.Terminate)

	require.True(t, m.Launch(options(portOf(t, s.LongAddr()), portOf(t, s.ShortAddr()))))
	return m, rec
}

func connected(events []stargatetest.Event) bool {
	for _, e := range events {
		if e.Kind == "status" && e.Status == stargate.StatusConnected {
			return true
		}
	}
	return false
}

func TestSendRoundTrip(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	require.True(t, rec.WaitFor(3*time.Second, connected))
	assert.Equal(t, stargate.StatusConnected, m.Status())

	id := m.Send([]byte("ping"))
	assert.Greater(t, id, 0)
	require.True(t, rec.WaitFor(3*time.Second, stargatetest.CountAtLeast("finish", 1)))

	receives := rec.Kind("receive")
	require.Len(t, receives, 1)
	assert.Equal(t, "PING", string(receives[0].Data))

	done := rec.Kind("finish")
	require.Len(t, done, 1)
	assert.Equal(t, "ping", string(done[0].Data))
	assert.NoError(t, done[0].Err)
	assert.Equal(t, 0, m.PendingTasks())

	assert.Equal(t, []stargate.Status{stargate.StatusConnecting, stargate.StatusConnected}, rec.Statuses())
}

func TestSendBeforeConnected(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)

	m.Send([]byte("early"))
	require.True(t, rec.WaitFor(3*time.Second, stargatetest.CountAtLeast("finish", 1)))
	assert.NoError(t, rec.Kind("finish")[0].Err)
}

func TestSendWithDelegate(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	require.True(t, rec.WaitFor(3*time.Second, connected))

	own := stargatetest.NewRecorder()
	m.SendWithDelegate([]byte("mine"), own)
	require.True(t, own.WaitFor(3*time.Second, stargatetest.CountAtLeast("finish", 1)))

	assert.Equal(t, "MINE", string(own.Kind("receive")[0].Data))
	assert.Empty(t, rec.Kind("finish"))
}

func TestServerRejectionIsTranslated(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	require.True(t, rec.WaitFor(3*time.Second, connected))

	m.Send([]byte("bad"))
	require.True(t, rec.WaitFor(3*time.Second, stargatetest.CountAtLeast("finish", 1)))

	err := rec.Kind("finish")[0].Err
	assert.ErrorIs(t, err, mars.ErrNetServices)

	var taskErr *mars.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, stn.ErrTypeServer, taskErr.Type)
}

func TestPushRouting(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	require.True(t, rec.WaitFor(3*time.Second, connected))
	require.Eventually(t, func() bool { return s.Peers() == 1 }, time.Second, 10*time.Millisecond)

	pushed := make(chan string, 1)
	m.AddPushObserver(777, mars.PushObserverFunc(func(cmdID uint32, data []byte) {
		pushed <- strconv.Itoa(int(cmdID)) + ":" + string(data)
	}))

	s.Push(12345, []byte("nobody"))
	s.Push(777, []byte("custom"))
	s.Push(mars.CmdPushMsg, []byte("news"))
	s.Push(mars.CmdSendMsg, []byte("relayed"))

	select {
	case got := <-pushed:
		assert.Equal(t, "777:custom", got)
	case <-time.After(2 * time.Second):
		t.Fatal("observer not notified")
	}

	require.True(t, rec.WaitFor(2*time.Second, stargatetest.CountAtLeast("receive", 2)))
	var got []string
	for _, e := range rec.Kind("receive") {
		got = append(got, string(e.Data))
	}
	assert.ElementsMatch(t, []string{"news", "relayed"}, got)
}

func TestNotAuthorized(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	m.SetAuthorizer(func() bool { return false })

	m.Send([]byte("ping"))
	require.True(t, rec.WaitFor(2*time.Second, stargatetest.CountAtLeast("finish", 1)))
	assert.ErrorIs(t, rec.Kind("finish")[0].Err, stargate.ErrNotAuthorized)
	assert.False(t, m.IsAuthorized())
}

func TestSendBeforeLaunch(t *testing.T) {
	rec := stargatetest.NewRecorder()
	m := mars.New(rec)
	defer m.Terminate()

	m.Send([]byte("ping"))
	require.True(t, rec.WaitFor(2*time.Second, stargatetest.CountAtLeast("finish", 1)))
	assert.ErrorIs(t, rec.Kind("finish")[0].Err, stargate.ErrNotConnected)
}

func TestLaunchRules(t *testing.T) {
	t.Run("invalid port", func(t *testing.T) {
		m := mars.New(stargatetest.NewRecorder())
		defer m.Terminate()
		assert.False(t, m.Launch(stargate.Options{mars.OptLongLinkPort: 70000}))
		assert.Equal(t, stargate.StatusError, m.Status())
	})

	t.Run("twice", func(t *testing.T) {
		m := mars.New(stargatetest.NewRecorder(), mars.WithNetworkConfig(networkConfig()))
		defer m.Terminate()
		opts := options(closedPort(t), closedPort(t))
		assert.True(t, m.Launch(opts))
		assert.False(t, m.Launch(opts))
	})

	t.Run("after terminate", func(t *testing.T) {
		m := mars.New(stargatetest.NewRecorder(), mars.WithNetworkConfig(networkConfig()))
		m.Terminate()
		assert.False(t, m.Launch(options(closedPort(t), closedPort(t))))
	})
}

func TestUnreachableReportsError(t *testing.T) {
	rec := stargatetest.NewRecorder()
	m := mars.New(rec, mars.WithNetworkConfig(networkConfig()))
	defer m.Terminate()

	require.True(t, m.Launch(options(closedPort(t), closedPort(t))))
	require.True(t, rec.WaitFor(3*time.Second, func(events []stargatetest.Event) bool {
		for _, e := range events {
			if e.Kind == "status" && e.Status == stargate.StatusError {
				return true
			}
		}
		return false
	}))
	assert.Equal(t, stargate.StatusConnecting, rec.Statuses()[0])
}

func TestDNSTable(t *testing.T) {
	m := mars.New(stargatetest.NewRecorder(), mars.WithNetworkConfig(networkConfig()))
	defer m.Terminate()

	require.True(t, m.Launch(stargate.Options{
		mars.OptLongLinkPort:  closedPort(t),
		mars.OptShortLinkPort: closedPort(t),
	}))

	assert.Equal(t, []string{"127.0.0.1"}, m.OnNewDNS(mars.DefaultHost))
	assert.Equal(t, []string{"127.0.0.1"}, m.OnNewDNS("elsewhere.example"))
}

func TestTerminateStopsCallbacks(t *testing.T) {
	s := startStation(t)
	m, rec := launch(t, s)
	require.True(t, rec.WaitFor(3*time.Second, connected))

	m.Terminate()
	before := len(rec.Events())
	m.Send([]byte("late"))
	s.Push(mars.CmdPushMsg, []byte("late"))

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rec.Events(), before)
	assert.Equal(t, stargate.StatusInit, m.Status())
}
