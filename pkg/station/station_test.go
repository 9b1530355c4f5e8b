package station

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

func startLine(t *testing.T, opts ...LineOption) *LineServer {
	t.Helper()
	s := NewLineServer("127.0.0.1:0", opts...)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dialLine(t *testing.T, s *LineServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn, bufio.NewReader(conn)
}

func TestLineServerEcho(t *testing.T) {
	s := startLine(t)
	conn, r := dialLine(t, s)

	_, err := conn.Write([]byte("hello\n\nworld\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "world\n", line)

	assert.Eventually(t, func() bool { return s.Heartbeats() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), s.Frames())
}

func TestLineServerCustomHandler(t *testing.T) {
	s := startLine(t, WithLineHandler(func(frame []byte) [][]byte {
		return [][]byte{[]byte("ack"), frame}
	}))
	conn, r := dialLine(t, s)

	_, err := conn.Write([]byte("x\n"))
	require.NoError(t, err)

	for _, want := range []string{"ack\n", "x\n"} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
}

func TestLineServerPush(t *testing.T) {
	s := startLine(t)
	_, r1 := dialLine(t, s)
	_, r2 := dialLine(t, s)

	require.Eventually(t, func() bool { return s.Peers() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Push([]byte("news")))

	for _, r := range []*bufio.Reader{r1, r2} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "news\n", line)
	}

	stats := s.Stats()
	assert.Equal(t, 2, stats["active_peers"])
}

func TestLineServerForgetsClosedPeers(t *testing.T) {
	s := startLine(t)
	conn, _ := dialLine(t, s)

	require.Eventually(t, func() bool { return s.Peers() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return s.Peers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPeerPool(t *testing.T) {
	pool := NewPeerPool(2)

	a1, b1 := net.Pipe()
	a2, b2 := net.Pipe()
	a3, b3 := net.Pipe()
	defer b1.Close()
	defer b2.Close()
	defer b3.Close()

	p1, err := pool.Add(a1)
	require.NoError(t, err)
	p2, err := pool.Add(a2)
	require.NoError(t, err)
	p1.lastSeen.Store(1)
	p2.Touch()

	_, err = pool.Add(a3)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len())

	// p1 was least recently seen
	_, err = a1.Write([]byte("x"))
	assert.Error(t, err)

	pool.Remove(p2.ID)
	assert.Equal(t, 1, pool.Len())

	require.NoError(t, pool.Close())
	assert.True(t, errors.Is(pool.Close(), ErrPoolClosed))

	_, err = pool.Add(a2)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func startLink(t *testing.T, opts ...LinkOption) *LinkServer {
	t.Helper()
	s := NewLinkServer(LinkConfig{LongAddress: "127.0.0.1:0", ShortAddress: "127.0.0.1:0"}, opts...)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dialLink(t *testing.T, s *LinkServer) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.LongAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func upperHandler(cmdID uint32, cgi string, body []byte) ([]byte, error) {
	if cmdID == 99 {
		return nil, errors.New("unsupported")
	}
	return []byte(cgi + strings.ToUpper(string(body))), nil
}

func TestLinkServerLongLink(t *testing.T) {
	s := startLink(t, WithHandler(upperHandler))
	conn := dialLink(t, s)

	tests := []struct {
		name     string
		send     *stn.Packet
		wantCmd  uint32
		wantTask uint32
		wantBody string
		wantErr  bool
	}{
		{"noop", stn.NewPacket(stn.CmdNoop, 0, nil), stn.CmdNoop, 0, "", false},
		{"request", stn.NewPacket(3, 7, []byte("abc")), 3, 7, "ABC", false},
		{"handler error", stn.NewPacket(99, 8, nil), 99, 8, "unsupported", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, stn.WritePacket(conn, tt.send))

			got, err := stn.ReadPacket(conn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, got.CmdID)
			assert.Equal(t, tt.wantTask, got.TaskID)
			assert.Equal(t, tt.wantBody, string(got.Body))
			assert.Equal(t, tt.wantErr, got.HasFlag(stn.FlagError))
		})
	}

	stats := s.Stats()
	assert.Equal(t, int64(2), stats["requests"])
	assert.Equal(t, int64(1), stats["noops"])
}

func TestLinkServerPush(t *testing.T) {
	s := startLink(t)
	conn := dialLink(t, s)

	require.Eventually(t, func() bool { return s.Peers() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.Push(10001, []byte("hi")))

	got, err := stn.ReadPacket(conn)
	require.NoError(t, err)
	assert.True(t, got.IsPush())
	assert.Equal(t, uint32(10001), got.CmdID)
	assert.Equal(t, "hi", string(got.Body))
}

func TestLinkServerShortLink(t *testing.T) {
	s := NewLinkServer(LinkConfig{}, WithHandler(upperHandler))

	tests := []struct {
		name       string
		cmd        string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"ok", "3", "abc", http.StatusOK, "/sendmessageABC"},
		{"missing cmd", "", "abc", http.StatusBadRequest, ""},
		{"handler error", "99", "abc", http.StatusInternalServerError, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sendmessage", strings.NewReader(tt.body))
			if tt.cmd != "" {
				req.Header.Set(stn.HeaderCmd, tt.cmd)
			}
			w := httptest.NewRecorder()
			s.Router().ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
