package tui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

// Engine is a Runner whose events can be redirected.
type Engine interface {
	Runner
	SetEventEmitter(emitter syncengine.EventEmitter)
	GetEventEmitter() syncengine.EventEmitter
}

// Run drives one sync through the interactive display on in and out and
// returns the sync's own result and error. It always waits for the sync,
// and its rollback, to finish; a display that stops early cancels it.
func Run(ctx context.Context, engine Engine, dryRun bool, in io.Reader, out io.Writer) (*syncengine.Result, error) {
	bridge := shared.NewEventBridge()
	defer bridge.Close()

	previous := engine.GetEventEmitter()
	engine.SetEventEmitter(bridge)
	defer engine.SetEventEmitter(previous)

	model := NewAppModel(ctx, engine, bridge, dryRun)
	model.external = true

	program := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))

	finished := make(chan shared.SyncFinishedMsg, 1)
	go func() {
		result, err := engine.SafeSync(ctx, dryRun)
		msg := shared.SyncFinishedMsg{Result: result, Err: err}
		finished <- msg
		program.Send(msg)
	}()

	final, _ := program.Run()
	if app, ok := final.(AppModel); !ok || app.state == "" {
		engine.Cancel()
		// Unblock an engine waiting on a display that no longer reads.
		bridge.Close()
	}

	msg := <-finished

	return msg.Result, msg.Err
}
