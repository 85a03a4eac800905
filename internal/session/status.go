package session

import (
	"context"
	"fmt"

	"github.com/soyeahso/voxlink/internal/domain"
)

// statusMachine tracks the connection status. Every transition bumps the
// epoch, so a suspended connect can tell whether it was overtaken.
// Callers hold Session.mu.
type statusMachine struct {
	status domain.SessionStatus
	epoch  uint64
	cancel context.CancelFunc
}

func (m *statusMachine) current() domain.SessionStatus { return m.status }

// begin moves DISCONNECTED to CONNECTING and returns the attempt's epoch.
func (m *statusMachine) begin(cancel context.CancelFunc) (uint64, error) {
	if m.status != domain.StatusDisconnected {
		return 0, fmt.Errorf("%w (status %s)", ErrSessionActive, m.status)
	}
	m.status = domain.StatusConnecting
	m.epoch++
	m.cancel = cancel
	return m.epoch, nil
}

// attempting reports whether epoch is still the live connect attempt.
func (m *statusMachine) attempting(epoch uint64) bool {
	return m.status == domain.StatusConnecting && m.epoch == epoch
}

// commit moves CONNECTING to CONNECTED if epoch is still current.
func (m *statusMachine) commit(epoch uint64) bool {
	if !m.attempting(epoch) {
		return false
	}
	m.status = domain.StatusConnected
	m.cancel = nil
	return true
}

// live reports whether epoch is the current connected session.
func (m *statusMachine) live(epoch uint64) bool {
	return m.status == domain.StatusConnected && m.epoch == epoch
}

// reset moves any state to DISCONNECTED. It returns the previous status and
// the cancel func of an in-flight attempt, if any.
func (m *statusMachine) reset() (domain.SessionStatus, context.CancelFunc) {
	prev, cancel := m.status, m.cancel
	if prev != domain.StatusDisconnected {
		m.epoch++
	}
	m.status = domain.StatusDisconnected
	m.cancel = nil
	return prev, cancel
}
