package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate/stargatetest"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 27, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// handlerLog records handler calls
type handlerLog struct {
	mu       sync.Mutex
	success  [][]byte
	failures []error
}

func (h *handlerLog) OnSuccess(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success = append(h.success, data)
}

func (h *handlerLog) OnFailed(_ []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, err)
}

func TestWrapperVirgin(t *testing.T) {
	w := NewWrapper([]byte("hello"), 0)

	assert.True(t, w.IsVirgin())
	assert.False(t, w.IsFailed())
	assert.False(t, w.IsSent())
	assert.True(t, w.MarkedAt().IsZero())
	assert.Equal(t, Signature([]byte("hello")), w.Signature())
}

func TestWrapperExpiry(t *testing.T) {
	clock := newFakeClock()
	w := NewWrapper([]byte("hello"), 0, WithClock(clock.Now))

	w.Mark()
	assert.False(t, w.IsVirgin())
	assert.True(t, w.IsSent())
	assert.True(t, clock.Now().Equal(w.MarkedAt()))

	clock.Advance(DefaultExpires - time.Second)
	assert.False(t, w.IsFailed())

	clock.Advance(2 * time.Second)
	assert.True(t, w.IsFailed())
	assert.True(t, w.IsFailed(), "querying does not change the marker")
	assert.True(t, w.IsSent())
}

func TestWrapperMarkRefreshesWindow(t *testing.T) {
	clock := newFakeClock()
	w := NewWrapper([]byte("hello"), 0, WithClock(clock.Now), WithExpires(time.Minute))

	w.Mark()
	clock.Advance(50 * time.Second)
	w.Mark()
	clock.Advance(50 * time.Second)

	assert.False(t, w.IsFailed())
}

func TestWrapperFailIsTerminal(t *testing.T) {
	clock := newFakeClock()
	w := NewWrapper([]byte("hello"), 0, WithClock(clock.Now))

	w.Fail()
	assert.True(t, w.IsFailed())
	assert.False(t, w.IsVirgin())

	w.Mark()
	assert.True(t, w.IsFailed(), "mark after fail must not revive the message")
	assert.False(t, w.IsSent())

	clock.Advance(time.Hour)
	assert.True(t, w.IsFailed())
}

func TestWrapperFinishSendSuccess(t *testing.T) {
	h := &handlerLog{}
	w := NewWrapper([]byte("hello"), 0, WithHandler(h))
	w.Mark()

	w.OnFinishSend([]byte("hello"), nil, nil)

	assert.Nil(t, w.Payload(), "acknowledged payload is released")
	assert.True(t, w.IsReleased())
	assert.False(t, w.IsFailed())
	require.Len(t, h.success, 1)
	assert.Equal(t, "hello", string(h.success[0]))
	assert.Empty(t, h.failures)
}

func TestWrapperFinishSendError(t *testing.T) {
	h := &handlerLog{}
	w := NewWrapper([]byte("hello"), 0, WithHandler(h))
	w.Mark()

	sendErr := errors.New("broken pipe")
	w.OnFinishSend([]byte("hello"), sendErr, nil)

	assert.True(t, w.IsFailed())
	assert.NotNil(t, w.Payload(), "failed payload is kept for a retry")
	require.Len(t, h.failures, 1)
	assert.ErrorIs(t, h.failures[0], sendErr)
}

func TestWrapperHandlerCalledOnce(t *testing.T) {
	h := &handlerLog{}
	w := NewWrapper([]byte("hello"), 0, WithHandler(h))

	w.OnFinishSend([]byte("hello"), nil, nil)
	w.Complete(nil)
	w.Expire()

	assert.Len(t, h.success, 1)
	assert.Empty(t, h.failures)
}

func TestWrapperRejectedAfterTransportSuccess(t *testing.T) {
	t.Run("with confirmation", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h), WithConfirmation())
		w.Mark()

		w.OnFinishSend([]byte("hello"), nil, nil)
		assert.True(t, w.IsAcknowledged())
		assert.False(t, w.IsReleased())
		assert.Equal(t, "hello", string(w.Payload()), "payload kept until confirmed")
		assert.Empty(t, h.success, "success waits for the application")

		w.Complete(ErrRejected)
		assert.True(t, w.IsFailed())
		assert.True(t, w.IsRejected())
		assert.Empty(t, h.success)
		require.Len(t, h.failures, 1)
		assert.ErrorIs(t, h.failures[0], ErrRejected)
	})

	t.Run("confirmed", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h), WithConfirmation())
		w.Mark()

		w.OnFinishSend([]byte("hello"), nil, nil)
		w.Complete(nil)

		assert.True(t, w.IsReleased())
		assert.Nil(t, w.Payload())
		require.Len(t, h.success, 1)
		assert.Equal(t, "hello", string(h.success[0]))
	})

	t.Run("without confirmation", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h))
		w.Mark()

		w.OnFinishSend([]byte("hello"), nil, nil)
		w.Complete(ErrRejected)

		assert.Len(t, h.success, 1, "transport success was already reported")
		assert.Empty(t, h.failures)
		assert.True(t, w.IsReleased())
		assert.True(t, w.IsRejected(), "a later rejection still fails the message")
	})
}

func TestWrapperComplete(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h))
		w.Complete(ErrRejected)
		assert.True(t, w.IsFailed())
		require.Len(t, h.failures, 1)
		assert.ErrorIs(t, h.failures[0], ErrRejected)
	})

	t.Run("accepted", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h))
		w.Complete(nil)
		assert.True(t, w.IsReleased())
		assert.Len(t, h.success, 1)
	})

	t.Run("expired", func(t *testing.T) {
		h := &handlerLog{}
		w := NewWrapper([]byte("hello"), 0, WithHandler(h))
		w.Expire()
		assert.True(t, w.IsFailed())
		require.Len(t, h.failures, 1)
		assert.ErrorIs(t, h.failures[0], ErrExpired)
	})
}

func TestWrapperForwardsToUpstream(t *testing.T) {
	rec := stargatetest.NewRecorder()
	w := NewWrapper([]byte("hello"), 0, WithUpstream(rec))

	w.OnReceive([]byte("response"), nil)
	w.OnConnectionStatusChanged(stargate.StatusConnected, nil)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "response", string(events[0].Data))
	assert.Equal(t, stargate.StatusConnected, events[1].Status)
}

func TestWrapperWithoutUpstream(t *testing.T) {
	w := NewWrapper([]byte("hello"), 0)
	assert.Equal(t, 0, w.OnReceive([]byte("x"), nil))
	w.OnConnectionStatusChanged(stargate.StatusError, nil)
}

func TestHandlerFuncs(t *testing.T) {
	var got string
	h := HandlerFuncs{Failed: func(_ []byte, err error) { got = err.Error() }}
	h.OnSuccess(nil)
	h.OnFailed(nil, ErrExpired)
	assert.Equal(t, ErrExpired.Error(), got)
}

func TestSignature(t *testing.T) {
	a := Signature([]byte("a"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Signature([]byte("a")))
	assert.NotEqual(t, a, Signature([]byte("b")))
}
