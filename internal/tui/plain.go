package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

// PlainEmitter prints sync events as status lines, for output that is not
// a terminal.
type PlainEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainEmitter creates a PlainEmitter writing to w.
func NewPlainEmitter(w io.Writer) *PlainEmitter {
	return &PlainEmitter{w: w}
}

// Emit implements syncengine.EventEmitter.
func (p *PlainEmitter) Emit(event syncengine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case syncengine.Message:
		fmt.Fprintln(p.w, e.Text)
	case syncengine.ActionStarted:
		fmt.Fprintf(p.w, "[%d/%d] %s %s\n", e.Index, e.Total, e.Kind, e.RelPath)
	case syncengine.ErrorOccurred:
		fmt.Fprintf(p.w, "%s %s failed: %v\n", shared.ErrorSymbol(), e.Phase, e.Err)
		if e.RolledBack {
			fmt.Fprintln(p.w, "Local changes were rolled back to the pre-sync checkpoint.")
		}
	case syncengine.SyncComplete:
		for _, line := range SummaryLines(e.Result) {
			// The up-to-date headline was already printed as a status line.
			if line == syncengine.MsgUpToDate {
				continue
			}
			fmt.Fprintln(p.w, line)
		}
	}
}
