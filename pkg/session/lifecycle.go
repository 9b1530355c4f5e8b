package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/fsm"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// EnterState implements fsm.Delegate
func (s *Server) EnterState(state *fsm.State, _ *fsm.Machine) {
	s.logger.Info("🔀 session state", zap.String("state", state.Name))
	defer s.state.Store(state.Name)

	switch state.Name {
	case StateHandshaking:
		s.handshake()
	case StateRunning:
		s.flush()
	case StateError:
		s.mu.Lock()
		s.sessionKey = ""
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.restart()
		}()
	}
}

// ExitState implements fsm.Delegate
func (s *Server) ExitState(state *fsm.State, _ *fsm.Machine) {
	s.state.Store("")
}

// PauseState implements fsm.Delegate
func (s *Server) PauseState(state *fsm.State, _ *fsm.Machine) {
	s.logger.Info("⏸ session paused", zap.String("state", state.Name))
}

// ResumeState implements fsm.Delegate
func (s *Server) ResumeState(state *fsm.State, _ *fsm.Machine) {
	s.logger.Info("▶️ session resumed", zap.String("state", state.Name))
}

func (s *Server) handshake() {
	s.mu.Lock()
	s.handshakeAt = time.Now()
	user := s.user
	s.mu.Unlock()

	if s.handshaker == nil {
		s.mu.Lock()
		s.sessionKey = user
		s.mu.Unlock()
		return
	}
	if err := s.handshaker.Handshake(s); err != nil {
		s.logger.Warn("⚠️ handshake failed", zap.String("user", user), zap.Error(err))
	}
}

func (s *Server) handshakeExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.handshakeAt.IsZero() && time.Since(s.handshakeAt) > s.cfg.HandshakeTimeout
}

// flush hands every waiting package to the transport
func (s *Server) flush() {
	star := s.currentStar()
	if star == nil {
		return
	}

	sent := 0
	for w := s.queue.Next(); w != nil; w = s.queue.Next() {
		star.SendWithDelegate(w.Payload(), w)
		sent++
	}
	if sent > 0 {
		s.logger.Info("📤 waiting packages sent", zap.Int("count", sent))
	}
}

// restart replaces the transport with a fresh one launched with the start
// options
func (s *Server) restart() {
	if !s.restarting.CompareAndSwap(false, true) {
		return
	}
	defer s.restarting.Store(false)

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	star := s.factory(s)
	s.starMu.Lock()
	old, options := s.star, s.options
	s.star = star
	s.starMu.Unlock()

	if old != nil {
		old.Terminate()
	}
	s.metrics.Reconnects.WithLabelValues(component).Inc()
	if !star.Launch(options) {
		s.logger.Warn("⚠️ transport relaunch failed")
		return
	}
	s.logger.Info("🔄 transport restarted")
}

// maintain purges finished packages and relaunches a failed transport
func (s *Server) maintain(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.purge()
		if s.Status() == stargate.StatusError && s.State() != StateError {
			s.restart()
		}
		if s.State() == StateRunning {
			s.flush()
		}
	}
}

// purge drops finished packages. Failed ones are stranded in the store and
// their handlers get ErrExpired unless they already heard of the failure.
func (s *Server) purge() {
	failed := s.queue.Purge()
	s.metrics.QueueDepth.WithLabelValues(component).Set(float64(s.queue.Len()))
	if len(failed) == 0 {
		return
	}

	for _, w := range failed {
		reason := "failed"
		switch {
		case w.IsRejected() && w.IsReleased():
			// delivered and reported, nothing left to resend
			s.logger.Warn("⚠️ package rejected after delivery", zap.String("signature", w.Signature()[:8]))
			continue
		case w.IsRejected():
			reason = "rejected"
		case w.IsSent():
			reason = "expired"
		}
		if s.store != nil {
			if err := s.store.Save(w, reason); err != nil {
				s.logger.Warn("⚠️ failed to strand package", zap.Error(err))
			}
		}
		w.Expire()
	}
	s.logger.Info("🧹 purged failed packages", zap.Int("count", len(failed)))
}

// recover requeues packages stranded by an earlier run. A stranded row is
// deleted once its package is delivered; each further failure counts as an
// attempt.
func (s *Server) recover() {
	if s.store == nil {
		return
	}

	stranded, err := s.store.Load(s.cfg.RecoverLimit)
	if err != nil {
		s.logger.Warn("⚠️ failed to load stranded packages", zap.Error(err))
		return
	}

	requeued := 0
	for _, m := range stranded {
		w := m.Wrapper(s.wrapperOptions(strandedHandler{server: s, id: m.ID})...)
		if s.queue.Append(w) {
			requeued++
		}
	}
	if requeued > 0 {
		s.logger.Info("📬 stranded packages requeued", zap.Int("count", requeued))
	}
}

// strandedHandler settles the store row of a requeued package
type strandedHandler struct {
	server *Server
	id     int64
}

func (h strandedHandler) OnSuccess(data []byte) {
	h.server.notifySent(data, nil)
	if err := h.server.store.Delete(h.id); err != nil {
		h.server.logger.Warn("⚠️ failed to delete stranded package", zap.Int64("id", h.id), zap.Error(err))
	}
}

func (h strandedHandler) OnFailed(data []byte, err error) {
	h.server.notifySent(data, err)
	if err := h.server.store.IncrementAttempts(h.id); err != nil {
		h.server.logger.Warn("⚠️ failed to count stranded attempt", zap.Int64("id", h.id), zap.Error(err))
	}
}
