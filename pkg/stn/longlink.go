package stn

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maintain keeps the long link up while the network runs, redialing with
// exponential backoff
func (n *Network) maintain(ctx context.Context) {
	defer n.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.cfg.RedialInitial
	policy.MaxInterval = n.cfg.RedialMax
	policy.MaxElapsedTime = 0

	for ctx.Err() == nil {
		conn, err := n.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := policy.NextBackOff()
			n.logger.Warn("🔄 long link dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			n.metrics.Reconnects.WithLabelValues(component).Inc()

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-n.kick:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		policy.Reset()
		n.attach(conn)
		release := context.AfterFunc(ctx, func() { conn.Close() })
		err = n.readLoop(ctx, conn)
		release()
		n.detach(conn, err)
	}
}

// dial resolves the long-link host through the DNS table and tries every
// address in turn
func (n *Network) dial(ctx context.Context) (net.Conn, error) {
	n.setLong(LinkConnecting)

	ips := n.Resolve(n.cfg.LongLinkHost)
	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}

	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip, strconv.Itoa(n.cfg.LongLinkPort))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			n.logger.Info("✅ long link connected", zap.String("address", addr))
			return conn, nil
		}
		lastErr = err
	}

	status := LinkServerFailed
	var dnsErr *net.DNSError
	if errors.As(lastErr, &dnsErr) {
		status = LinkUnavailable
	}
	n.setLong(status)
	return nil, lastErr
}

// attach publishes conn and greets the server with the client version
func (n *Network) attach(conn net.Conn) {
	n.mu.Lock()
	n.conn = conn
	close(n.connReady)
	n.mu.Unlock()

	n.setLong(LinkConnected)

	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(n.cfg.ClientVersion))
	if err := n.write(NewPacket(CmdNoop, 0, body)); err != nil {
		n.logger.Warn("⚠️ greeting failed", zap.Error(err))
	}
}

// detach drops conn and fails the tasks waiting on it
func (n *Network) detach(conn net.Conn, err error) {
	conn.Close()

	n.mu.Lock()
	if n.conn == conn {
		n.conn = nil
		n.connReady = make(chan struct{})
	}
	ids := make([]uint32, 0, len(n.pending))
	for id := range n.pending {
		ids = append(ids, id)
	}
	stopping := !n.started
	n.mu.Unlock()

	if stopping {
		n.setLong(LinkUnknown)
	} else {
		n.logger.Warn("⚠️ long link lost", zap.Error(err))
		n.setLong(LinkServerDown)
	}

	for _, id := range ids {
		if stopping {
			n.end(id, ErrTypeLocal, CodeCanceled)
		} else {
			n.end(id, ErrTypeSocket, CodeNoConnection)
		}
	}
}

func (n *Network) readLoop(ctx context.Context, conn net.Conn) error {
	for ctx.Err() == nil {
		p, err := ReadPacket(conn)
		if err != nil {
			return err
		}
		n.metrics.FramesIn.WithLabelValues(component).Inc()

		switch {
		case p.CmdID == CmdNoop:
			n.metrics.Heartbeats.WithLabelValues(component).Inc()
		case p.IsPush():
			n.cb.OnPush(p.CmdID, p.Body)
		default:
			n.onResponse(p)
		}
	}
	return ctx.Err()
}

func (n *Network) onResponse(p *Packet) {
	n.mu.Lock()
	pt, ok := n.pending[p.TaskID]
	n.mu.Unlock()
	if !ok {
		n.logger.Debug("response for unknown task dropped", zap.Uint32("task_id", p.TaskID))
		return
	}

	if p.HasFlag(FlagError) {
		n.logger.Warn("⚠️ server rejected task", zap.Uint32("task_id", p.TaskID), zap.ByteString("reason", p.Body))
		n.end(p.TaskID, ErrTypeServer, -1)
		return
	}
	if err := n.cb.Buf2Resp(p.TaskID, pt.task, p.Body); err != nil {
		n.end(p.TaskID, ErrTypeEnDecode, -1)
		return
	}
	n.end(p.TaskID, ErrTypeOK, 0)
}

// runLongTask writes the task packet once the long link is up. The response
// arrives through readLoop.
func (n *Network) runLongTask(ctx context.Context, task Task) {
	buf, err := n.cb.Req2Buf(task.TaskID, task)
	if err != nil {
		n.end(task.TaskID, ErrTypeEnDecode, -1)
		return
	}

	n.mu.Lock()
	if _, ok := n.running[task.TaskID]; !ok {
		n.mu.Unlock()
		return
	}
	id := task.TaskID
	n.pending[id] = &pendingTask{
		task:  task,
		timer: time.AfterFunc(task.Timeout, func() { n.end(id, ErrTypeLocal, CodeTimeout) }),
	}
	n.mu.Unlock()

	if err := n.waitConn(ctx, task.Timeout); err != nil {
		if ctx.Err() != nil {
			n.end(id, ErrTypeLocal, CodeCanceled)
		} else {
			n.end(id, ErrTypeLocal, CodeTimeout)
		}
		return
	}

	if err := n.write(NewPacket(task.CmdID, task.TaskID, buf)); err != nil {
		n.end(id, ErrTypeSocket, -1)
		n.dropConn()
	}
}

// waitConn blocks until the long link is connected
func (n *Network) waitConn(ctx context.Context, timeout time.Duration) error {
	n.mu.Lock()
	ready := n.connReady
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

func (n *Network) write(p *Packet) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(n.cfg.DialTimeout)); err != nil {
		return err
	}
	if err := WritePacket(conn, p); err != nil {
		return err
	}
	n.metrics.FramesOut.WithLabelValues(component).Inc()
	return nil
}

// dropConn closes the long link so that maintain redials
func (n *Network) dropConn() {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// noopLoop sends a heartbeat on the long link at the foreground or
// background cadence
func (n *Network) noopLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		interval := n.cfg.NoopInterval
		if !n.Foreground() {
			interval = n.cfg.BackgroundNoopInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if n.LongLinkStatus() != LinkConnected {
			continue
		}
		if err := n.write(NewPacket(CmdNoop, 0, nil)); err != nil {
			n.logger.Warn("⚠️ noop failed", zap.Error(err))
			n.dropConn()
			continue
		}
		n.metrics.Heartbeats.WithLabelValues(component).Inc()
	}
}
