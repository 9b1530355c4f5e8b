package fence

import (
	"context"
	"net"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// reconnect replaces the broken socket. It is a single reconnect: the dial
// may be retried ReconnectRetries times with exponential backoff, after that
// the error is returned to the worker.
func (f *Fence) reconnect(ctx context.Context) (net.Conn, error) {
	f.metrics.Reconnects.WithLabelValues(component).Inc()

	f.mu.Lock()
	old := f.conn
	f.conn = nil
	address := f.address
	f.mu.Unlock()
	if old != nil {
		old.Close()
	}

	f.setStatus(stargate.StatusConnecting)
	f.inbound.Reset()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.ReconnectDelay
	b := backoff.WithContext(backoff.WithMaxRetries(policy, f.cfg.ReconnectRetries), ctx)

	var conn net.Conn
	err := backoff.Retry(func() error {
		c, err := net.DialTimeout("tcp", address, f.cfg.DialTimeout)
		if err != nil {
			f.logger.Warn("🔄 reconnect attempt failed", zap.String("address", address), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, b)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		conn.Close()
		return nil, stargate.ErrTerminated
	}
	f.conn = conn
	f.mu.Unlock()

	f.setStatus(stargate.StatusConnected)
	f.logger.Info("✅ reconnected", zap.String("address", address))
	return conn, nil
}
