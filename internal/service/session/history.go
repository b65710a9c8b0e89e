package session

import (
	"sync"

	"github.com/seu-repo/contavoz/internal/domain"
)

// CommandHistory is an append-only ring buffer of voice commands. When the
// buffer is full the oldest entry is evicted first.
type CommandHistory struct {
	mu       sync.RWMutex
	entries  []domain.VoiceCommand
	capacity int
	start    int
	size     int
}

func NewCommandHistory(capacity int) *CommandHistory {
	if capacity <= 0 {
		capacity = 50
	}
	return &CommandHistory{
		entries:  make([]domain.VoiceCommand, capacity),
		capacity: capacity,
	}
}

func (h *CommandHistory) Append(cmd domain.VoiceCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.start + h.size) % h.capacity
	h.entries[idx] = cmd
	if h.size < h.capacity {
		h.size++
	} else {
		h.start = (h.start + 1) % h.capacity
	}
}

// Snapshot returns the history oldest-first. The returned slice is a copy.
func (h *CommandHistory) Snapshot() []domain.VoiceCommand {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.VoiceCommand, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.entries[(h.start+i)%h.capacity]
	}
	return out
}

func (h *CommandHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Last returns the most recent command, if any.
func (h *CommandHistory) Last() (domain.VoiceCommand, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return domain.VoiceCommand{}, false
	}
	return h.entries[(h.start+h.size-1)%h.capacity], true
}
