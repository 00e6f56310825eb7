// Package events delivers incident events to external consumers. The
// stores remain the source of truth; bus publication is best-effort and
// never fails a transition. Three backends: in-memory fan-out,
// EventBridge, and Pub/Sub.
package events

import (
	"context"
	"sync"

	"github.com/opx/automation/internal/core"
)

// Bus publishes incident events. Implementations must tolerate concurrent
// publishers.
type Bus interface {
	Publish(ctx context.Context, event core.IncidentEvent) error
}

// Memory fans events out to in-process subscribers and keeps a bounded
// replay buffer. Used by tests and local runs.
type Memory struct {
	mu          sync.RWMutex
	subscribers []chan core.IncidentEvent
	buffer      []core.IncidentEvent
	limit       int
}

func NewMemory() *Memory {
	return &Memory{limit: 1024}
}

func (m *Memory) Publish(_ context.Context, event core.IncidentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = append(m.buffer, event)
	if len(m.buffer) > m.limit {
		m.buffer = m.buffer[len(m.buffer)-m.limit:]
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscribers drop; the store holds the authoritative log.
		}
	}
	return nil
}

// Subscribe returns a channel receiving future events and a cancel
// function.
func (m *Memory) Subscribe() (<-chan core.IncidentEvent, func()) {
	ch := make(chan core.IncidentEvent, 64)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Events returns a copy of the replay buffer, oldest first.
func (m *Memory) Events() []core.IncidentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.IncidentEvent, len(m.buffer))
	copy(out, m.buffer)
	return out
}
