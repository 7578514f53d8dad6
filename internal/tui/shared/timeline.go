package shared

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Phase keys understood by RenderTimeline. A key with an ErrorSuffix marks
// the phase a sync failed in.
const (
	PhaseCompare = "compare"
	PhaseBackup  = "backup"
	PhaseSync    = "sync"
	PhaseDone    = "done"

	ErrorSuffix = "_error"
)

// ActiveSymbol returns a circled dot with ASCII fallback
func ActiveSymbol() string {
	if unicodeDisabled {
		return "[*]"
	}

	return "◉"
}

// CancelledSymbol returns a prohibition sign with ASCII fallback
func CancelledSymbol() string {
	if unicodeDisabled {
		return "[!]"
	}

	return "⊘"
}

//nolint:gochecknoglobals // Fixed order of the sync phases
var timelinePhases = []struct{ key, name string }{
	{PhaseCompare, "Compare"},
	{PhaseBackup, "Backup"},
	{PhaseSync, "Sync"},
	{PhaseDone, "Done"},
}

// RenderTimeline renders Compare, Backup, Sync and Done with the state of
// each relative to currentPhase. Unknown phases count as Compare.
func RenderTimeline(currentPhase string) string {
	key := strings.ToLower(strings.TrimSpace(currentPhase))
	failed := strings.HasSuffix(key, ErrorSuffix)
	key = strings.TrimSuffix(key, ErrorSuffix)

	current := 0
	for i, phase := range timelinePhases {
		if phase.key == key {
			current = i
		}
	}

	last := len(timelinePhases) - 1
	parts := make([]string, 0, len(timelinePhases))

	for i, phase := range timelinePhases {
		symbol, color := PendingSymbol(), DimColor()

		switch {
		case failed && i == current:
			symbol, color = ErrorSymbol(), ErrorColor()
		case failed && i > current:
			symbol = CancelledSymbol()
		case i < current, i == last && current == last:
			symbol, color = SuccessSymbol(), SuccessColor()
		case i == current:
			symbol, color = ActiveSymbol(), PrimaryColor()
		}

		parts = append(parts, lipgloss.NewStyle().Foreground(color).Render(symbol+" "+phase.name))
	}

	return strings.Join(parts, RenderDim(" ── "))
}
