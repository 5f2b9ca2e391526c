// Package lifecycle provides event hooks for server and ask lifecycles.
package lifecycle

import (
	"sync"
	"time"

	"github.com/neboloop/nexus/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	EventServerStarted   Event = "server_started"
	EventShutdownStarted Event = "shutdown_started"

	EventAskStart    Event = "ask_start"
	EventAskComplete Event = "ask_complete"

	EventContextReset Event = "context_reset"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
}

func NewManager() *Manager {
	return &Manager{handlers: make(map[Event][]Handler)}
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit dispatches an event to all registered handlers synchronously.
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := m.handlers[event]
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		h(event, data)
	}
}

// OnServerStarted registers a handler that receives the listen address.
func (m *Manager) OnServerStarted(handler func(addr string)) {
	m.On(EventServerStarted, func(e Event, data any) {
		if addr, ok := data.(string); ok {
			handler(addr)
		}
	})
}

// OnShutdown registers a shutdown handler
func (m *Manager) OnShutdown(handler func()) {
	m.On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}

// AskEventData describes one ask.
type AskEventData struct {
	SessionID string
	Model     string
	Status    string // success, error, canceled; empty on start
	Duration  time.Duration
}

// OnAskStart registers a handler for ask start events
func (m *Manager) OnAskStart(handler func(data AskEventData)) {
	m.On(EventAskStart, func(e Event, data any) {
		if d, ok := data.(AskEventData); ok {
			handler(d)
		}
	})
}

// OnAskComplete registers a handler for ask complete events
func (m *Manager) OnAskComplete(handler func(data AskEventData)) {
	m.On(EventAskComplete, func(e Event, data any) {
		if d, ok := data.(AskEventData); ok {
			handler(d)
		}
	})
}

// OnContextReset registers a handler for web context resets
func (m *Manager) OnContextReset(handler func()) {
	m.On(EventContextReset, func(e Event, data any) {
		handler()
	})
}
