package shared

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/dpt-sync/internal/syncengine"
)

// eventBufferSize absorbs bursts of transfer progress.
const eventBufferSize = 100

// EngineEventMsg wraps a syncengine.Event for use as a tea.Msg.
type EngineEventMsg struct {
	Event syncengine.Event
}

// EventBridge adapts syncengine events to bubble tea messages.
// It implements syncengine.EventEmitter and provides a channel for TUI consumption.
type EventBridge struct {
	eventChan chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventBridge creates a new event bridge.
func NewEventBridge() *EventBridge {
	return &EventBridge{
		eventChan: make(chan tea.Msg, eventBufferSize),
		done:      make(chan struct{}),
	}
}

// Emit implements syncengine.EventEmitter. Transfer progress is dropped
// when the buffer is full since a later update supersedes it; every other
// event waits for the TUI until the bridge is closed.
func (b *EventBridge) Emit(event syncengine.Event) {
	msg := EngineEventMsg{Event: event}

	if _, ok := event.(syncengine.TransferProgress); ok {
		select {
		case b.eventChan <- msg:
		case <-b.done:
		default:
		}

		return
	}

	select {
	case b.eventChan <- msg:
	case <-b.done:
	}
}

// Subscribe returns the event channel for receiving events.
func (b *EventBridge) Subscribe() <-chan tea.Msg {
	return b.eventChan
}

// ListenCmd returns a tea.Cmd that blocks until an event is received.
// Use this in Init() or after processing an event to continue listening.
// It returns nil once the bridge is closed.
func (b *EventBridge) ListenCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.eventChan:
			return msg
		case <-b.done:
			return nil
		}
	}
}

// Close stops delivery. Pending and later events are discarded.
func (b *EventBridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}
