package shared_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

// TestEventBridge_ImplementsEventEmitter verifies the bridge implements EventEmitter.
func TestEventBridge_ImplementsEventEmitter(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := shared.NewEventBridge()
	defer bridge.Close()

	var emitter syncengine.EventEmitter = bridge
	g.Expect(emitter).ToNot(BeNil())
}

// TestEventBridge_MultipleEvents verifies events are received in order.
func TestEventBridge_MultipleEvents(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := shared.NewEventBridge()
	defer bridge.Close()

	eventChan := bridge.Subscribe()

	bridge.Emit(syncengine.Message{Text: syncengine.MsgComputing})
	bridge.Emit(syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "a.pdf", Index: 1, Total: 1})
	bridge.Emit(syncengine.Message{Text: syncengine.MsgSyncing})

	events := make([]syncengine.Event, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case msg := <-eventChan:
			eventMsg, ok := msg.(shared.EngineEventMsg)
			g.Expect(ok).To(BeTrue(), "Expected EngineEventMsg")
			events = append(events, eventMsg.Event)
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for event %d", i)
		}
	}

	g.Expect(events).To(Equal([]syncengine.Event{
		syncengine.Message{Text: syncengine.MsgComputing},
		syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "a.pdf", Index: 1, Total: 1},
		syncengine.Message{Text: syncengine.MsgSyncing},
	}))
}

// TestEventBridge_DropsProgressWhenFull verifies progress never blocks the engine.
func TestEventBridge_DropsProgressWhenFull(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := shared.NewEventBridge()
	defer bridge.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)

		for i := 0; i < 1000; i++ {
			bridge.Emit(syncengine.TransferProgress{RelPath: "a.pdf", Done: int64(i), Total: 1000})
		}
	}()

	g.Eventually(done).Should(BeClosed())
	g.Expect(len(bridge.Subscribe())).To(BeNumerically("<=", 100))
}

// TestEventBridge_CloseReleasesEmitAndListen verifies Close unblocks both sides.
func TestEventBridge_CloseReleasesEmitAndListen(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := shared.NewEventBridge()

	for i := 0; i < 100; i++ {
		bridge.Emit(syncengine.Message{Text: "filler"})
	}

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		bridge.Emit(syncengine.Message{Text: "blocked"})
	}()

	g.Consistently(emitted, 50*time.Millisecond).ShouldNot(BeClosed())

	bridge.Close()
	bridge.Close()

	g.Eventually(emitted).Should(BeClosed())

	// Drain the buffer: once done is closed ListenCmd may still pick
	// buffered events, but it always returns.
	for i := 0; i < 101; i++ {
		if bridge.ListenCmd()() == nil {
			return
		}
	}
	t.Fatal("ListenCmd kept returning events after Close")
}

// TestEventBridge_ListenCmd verifies the listen command works with bubble tea.
func TestEventBridge_ListenCmd(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := shared.NewEventBridge()
	defer bridge.Close()

	cmd := bridge.ListenCmd()
	g.Expect(cmd).ToNot(BeNil())

	go func() {
		time.Sleep(10 * time.Millisecond)
		bridge.Emit(syncengine.Message{Text: syncengine.MsgSyncing})
	}()

	msg := cmd()

	eventMsg, ok := msg.(shared.EngineEventMsg)
	g.Expect(ok).To(BeTrue())
	g.Expect(eventMsg.Event).To(Equal(syncengine.Message{Text: syncengine.MsgSyncing}))
}
