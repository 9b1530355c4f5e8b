package fence

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// run is the worker loop. Each iteration does the first applicable step:
// deliver pushed frames, send one queued task and read its response, write a
// heartbeat after HeartbeatInterval of silence, or sleep.
func (f *Fence) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	f.inbound.Reset()
	f.lastActive = time.Now()

	for ctx.Err() == nil {
		conn := f.currentConn()
		if conn == nil {
			return
		}

		// pushed data
		n, err := f.poll(conn, f.cfg.PollTimeout)
		if err != nil {
			f.abort(ctx, err)
			return
		}
		if n > 0 || f.inbound.Complete() {
			if n > 0 {
				f.lastActive = time.Now()
			}
			f.deliverPushes()
			continue
		}

		// waiting tasks
		if t := f.popTask(); t != nil {
			if err := f.handle(ctx, t); err != nil {
				f.abort(ctx, err)
				return
			}
			f.lastActive = time.Now()
			continue
		}

		// heartbeat
		if time.Since(f.lastActive) > f.cfg.HeartbeatInterval {
			if err := f.heartbeat(ctx); err != nil {
				f.abort(ctx, err)
				return
			}
			f.lastActive = time.Now()
			continue
		}

		// nothing to do
		timer := time.NewTimer(f.cfg.IdleSleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-f.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// poll reads whatever arrives within timeout into the inbound buffer. A
// timeout is not an error.
func (f *Fence) poll(conn net.Conn, timeout time.Duration) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := conn.Read(f.readBuf)
	if n > 0 {
		f.inbound.Append(f.readBuf[:n])
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// deliverPushes hands every complete buffered frame to the transport delegate
func (f *Fence) deliverPushes() {
	for {
		frame, ok := f.inbound.Next()
		if !ok {
			return
		}
		if len(frame) == 0 {
			f.metrics.Heartbeats.WithLabelValues(component).Inc()
			continue
		}
		f.receive(frame, f.delegate)
	}
}

func (f *Fence) receive(frame []byte, d stargate.Delegate) {
	f.metrics.FramesIn.WithLabelValues(component).Inc()
	f.post(func() { d.OnReceive(frame, f) })
}

func (f *Fence) popTask() *task {
	if f.tasks.Empty() {
		return nil
	}
	items, err := f.tasks.Get(1)
	f.metrics.QueueDepth.WithLabelValues(component).Set(float64(f.tasks.Len()))
	if err != nil || len(items) == 0 {
		return nil
	}
	t, _ := items[0].(*task)
	return t
}

// handle writes one task, reads its response and reports completion. A
// returned error is fatal for the connection; the task has been finished.
func (f *Fence) handle(ctx context.Context, t *task) error {
	if err := f.write(ctx, t.data); err != nil {
		f.finish(t, err)
		return err
	}
	f.metrics.FramesOut.WithLabelValues(component).Inc()

	err := f.awaitResponse()
	for {
		frame, ok := f.inbound.Next()
		if !ok {
			break
		}
		if len(frame) == 0 {
			f.metrics.Heartbeats.WithLabelValues(component).Inc()
			continue
		}
		f.receive(frame, t.delegate)
		break
	}

	f.finish(t, nil)
	return err
}

// awaitResponse reads until a complete frame is buffered or the response
// timeout passes
func (f *Fence) awaitResponse() error {
	deadline := time.Now().Add(f.cfg.ResponseTimeout)
	for !f.inbound.Complete() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		conn := f.currentConn()
		if conn == nil {
			return stargate.ErrNotConnected
		}
		if _, err := f.poll(conn, remaining); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fence) heartbeat(ctx context.Context) error {
	if err := f.write(ctx, nil); err != nil {
		return err
	}
	f.metrics.Heartbeats.WithLabelValues(component).Inc()
	f.logger.Debug("💓 heartbeat")
	return nil
}

// write sends one frame. On failure it reconnects once and writes again.
func (f *Fence) write(ctx context.Context, payload []byte) error {
	conn := f.currentConn()
	if conn == nil {
		return stargate.ErrNotConnected
	}

	err := f.writeTo(conn, payload)
	if err == nil {
		return nil
	}
	f.logger.Warn("⚠️ write failed, reconnecting", zap.Error(err))

	conn, rerr := f.reconnect(ctx)
	if rerr != nil {
		return rerr
	}
	return f.writeTo(conn, payload)
}

func (f *Fence) writeTo(conn net.Conn, payload []byte) error {
	if f.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return writeFrame(conn, payload)
}

// abort ends the connection after a fatal error: every queued task is
// finished with ErrNotConnected, then status becomes Error.
func (f *Fence) abort(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	f.logger.Error("❌ connection lost", zap.Error(err))

	f.mu.Lock()
	conn, cancel := f.conn, f.cancel
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}

	for t := f.popTask(); t != nil; t = f.popTask() {
		f.finish(t, stargate.ErrNotConnected)
	}
	f.setStatus(stargate.StatusError)
}
