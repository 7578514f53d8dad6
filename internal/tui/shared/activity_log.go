package shared

import (
	"fmt"
	"strings"

	"github.com/joe/dpt-sync/internal/syncengine"
)

// Activity is one applied action.
type Activity struct {
	Kind    syncengine.ActionKind
	RelPath string
}

// RenderActivityLog lists activities under a counted title, oldest first.
// Only the last maxEntries are listed when maxEntries > 0; the rest are
// summarized in one line. Paths are truncated to pathWidth when it is
// positive.
func RenderActivityLog(title string, entries []Activity, maxEntries, pathWidth int) string {
	var builder strings.Builder

	builder.WriteString(RenderLabel(fmt.Sprintf("%s (%d)", title, len(entries))))

	visible := entries
	if maxEntries > 0 && len(entries) > maxEntries {
		hidden := len(entries) - maxEntries
		visible = entries[hidden:]

		builder.WriteString("\n  ")
		builder.WriteString(RenderDim(fmt.Sprintf("%d earlier action(s)", hidden)))
	}

	for _, entry := range visible {
		fmt.Fprintf(&builder, "\n  %s %s %s",
			SuccessSymbol(), RenderKind(entry.Kind), TruncatePath(entry.RelPath, pathWidth))
	}

	return builder.String()
}
