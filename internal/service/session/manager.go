package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/domain"
	"github.com/seu-repo/contavoz/internal/observability/telemetry"
	"github.com/seu-repo/contavoz/internal/ports"
)

// Factory builds a fully wired machine for one user. The synthesizer is
// per-connection because playback events flow back over the transport that
// opened the session.
type Factory func(userID string, synth ports.Synthesizer) *Machine

// Snapshot is the read-only view of one live session for observability.
type Snapshot struct {
	ID           string                   `json:"id"`
	UserID       string                   `json:"user_id"`
	State        domain.VoiceSessionState `json:"state"`
	LastResponse string                   `json:"last_response,omitempty"`
	Interrupts   int64                    `json:"interrupts"`
	HistoryLen   int                      `json:"history_len"`
}

// Manager tracks the live voice sessions of this node.
type Manager struct {
	factory Factory
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Machine
}

func NewManager(factory Factory, log *zap.Logger) *Manager {
	return &Manager{
		factory:  factory,
		log:      log,
		sessions: make(map[string]*Machine),
	}
}

func (m *Manager) Create(userID string, synth ports.Synthesizer) *Machine {
	machine := m.factory(userID, synth)

	m.mu.Lock()
	m.sessions[machine.ID()] = machine
	m.mu.Unlock()

	telemetry.ActiveVoiceSessions.Inc()
	m.log.Info("voice session created",
		zap.String("session_id", machine.ID()),
		zap.String("user_id", userID),
	)
	return machine
}

func (m *Manager) Get(id string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.sessions[id]
	return machine, ok
}

// ForUser returns any live session of the user.
func (m *Manager) ForUser(userID string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, machine := range m.sessions {
		if machine.UserID() == userID {
			return machine, true
		}
	}
	return nil, false
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		telemetry.ActiveVoiceSessions.Dec()
	}
}

// Snapshots lists every live session, for the observables endpoint.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.sessions))
	for _, machine := range m.sessions {
		out = append(out, Snapshot{
			ID:           machine.ID(),
			UserID:       machine.UserID(),
			State:        machine.State(),
			LastResponse: machine.LastResponse(),
			Interrupts:   machine.BargeIn().Interrupts(),
			HistoryLen:   machine.history.Len(),
		})
	}
	return out
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
