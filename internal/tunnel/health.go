//go:build !windows

package tunnel

import (
	"context"
	"os"
	"time"

	"github.com/marodse/burrow/internal/history"
	"github.com/marodse/burrow/internal/metrics"
)

// healthJoinTimeout bounds how long Stop waits for the loop goroutine.
const healthJoinTimeout = 5 * time.Second

func (m *Manager) startHealthLoop() {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	if m.healthDone != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.healthCancel = cancel
	m.healthDone = done
	go func() {
		defer func() {
			// The loop can also exit on its own (auto reconnect
			// disabled, or the attempt cap reached). Deregister so
			// HealthActive drops and a later start is not refused
			// on account of a dead goroutine.
			cancel()
			m.healthMu.Lock()
			if m.healthDone == done {
				m.healthDone = nil
				m.healthCancel = nil
			}
			m.healthMu.Unlock()
			close(done)
		}()
		m.healthLoop(ctx)
	}()
	m.log.Debug("tunnel health loop started", "name", m.cfg.Name, "interval", m.cfg.HealthInterval)
}

func (m *Manager) stopHealthLoop() {
	m.healthMu.Lock()
	cancel := m.healthCancel
	done := m.healthDone
	m.healthCancel = nil
	m.healthDone = nil
	m.healthMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(healthJoinTimeout):
		m.log.Warn("tunnel health loop did not stop in time", "name", m.cfg.Name)
	}
}

func (m *Manager) healthLoop(ctx context.Context) {
	streak := 0
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.checkHealth() {
			streak = 0
			continue
		}
		streak++
		metrics.IncHealthFailure()
		m.log.Warn("tunnel health check failed", "name", m.cfg.Name, "streak", streak, "threshold", m.cfg.FailureThreshold)
		if streak < m.cfg.FailureThreshold {
			continue
		}
		streak = 0
		if !m.cfg.AutoReconnect {
			m.setState(StateError)
			m.persist()
			m.emit(history.EventError, "tunnel unhealthy, auto reconnect disabled")
			return
		}
		if !m.reconnect(ctx) {
			return
		}
	}
}

// checkHealth passes when the agent process is alive and its log has
// been written to recently enough. The log exists from launch, so a
// missing file fails the check outright.
func (m *Manager) checkHealth() bool {
	if !m.reg.IsAlive(m.cfg.Name) {
		return false
	}
	st, err := os.Stat(m.LogPath())
	if err != nil {
		return false
	}
	return time.Since(st.ModTime()) < m.cfg.StaleAfter
}

// reconnect tears the agent down and relaunches it after a backoff.
// It returns false when the loop should exit: either the attempt cap
// was reached or the loop context was cancelled. A failed relaunch
// returns true so the loop keeps retrying up to the cap.
func (m *Manager) reconnect(ctx context.Context) bool {
	m.mu.Lock()
	m.reconnects++
	attempt := m.reconnects
	m.mu.Unlock()
	if attempt > m.cfg.MaxReconnectAttempts {
		m.setState(StateError)
		m.persist()
		m.emit(history.EventError, "reconnect attempt cap reached")
		m.log.Error("tunnel giving up after repeated reconnects", "name", m.cfg.Name, "attempts", attempt-1)
		return false
	}

	m.setState(StateReconnecting)
	m.persist()
	m.emit(history.EventReconnect, "")
	metrics.IncReconnect()

	m.reg.Stop(m.cfg.Name, m.cfg.StopTimeout, true)

	// Credit the time already spent since the previous attempt so the
	// spacing between attempts, not the sleep itself, follows the
	// backoff curve.
	delay := backoffDelay(attempt, m.cfg.BackoffCap)
	m.mu.Lock()
	if !m.lastReconnect.IsZero() {
		if elapsed := time.Since(m.lastReconnect); elapsed < delay {
			delay -= elapsed
		} else {
			delay = 0
		}
	}
	m.lastReconnect = time.Now()
	m.mu.Unlock()
	m.log.Info("tunnel reconnecting", "name", m.cfg.Name, "attempt", attempt, "backoff", delay)
	if delay > 0 && !sleepCtx(ctx, delay) {
		return false
	}

	if _, err := m.begin(ctx, m.cfg.StartTimeout, false); err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.log.Warn("tunnel relaunch failed", "name", m.cfg.Name, "attempt", attempt, "err", err)
		return true
	}
	// Any successful relaunch closes the incident, whether it came up
	// connected or waiting for a claim. The counter tracks consecutive
	// failures, not lifetime reconnects.
	m.mu.Lock()
	m.reconnects = 0
	m.mu.Unlock()
	m.persist()
	return true
}

// backoffDelay is 2^attempt seconds clamped to limit.
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return limit
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > limit {
		return limit
	}
	return d
}

// sleepCtx waits for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
