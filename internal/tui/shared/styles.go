package shared

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/joe/dpt-sync/internal/syncengine"
)

// Exported constants.
const (
	// DefaultPadding is the horizontal padding of the outer box.
	DefaultPadding = 2
	// ProgressBarWidth is the transfer bar width before the window size is known.
	ProgressBarWidth = 40
	// MaxProgressBarWidth caps the transfer bar on wide terminals.
	MaxProgressBarWidth = 100
	// MaxActivityEntries bounds the activity log shown while syncing.
	MaxActivityEntries = 8
	// ProgressEllipsisLength is the length of the ellipsis in truncated paths.
	ProgressEllipsisLength = 3
	// ProgressPercentageScale converts fractions to percentages.
	ProgressPercentageScale = 100

	StateCancelled = "cancelled"
	StateComplete  = "complete"
	StateError     = "error"
)

// Palette.
func PrimaryColor() lipgloss.Color { return lipgloss.Color(primaryColorCode) }
func AccentColor() lipgloss.Color  { return lipgloss.Color(accentColorCode) }
func DimColor() lipgloss.Color     { return lipgloss.Color(dimColorCode) }
func ErrorColor() lipgloss.Color   { return lipgloss.Color(errorColorCode) }
func SuccessColor() lipgloss.Color { return lipgloss.Color(successColorCode) }
func WarningColor() lipgloss.Color { return lipgloss.Color(warningColorCode) }
func LabelColor() lipgloss.Color   { return lipgloss.Color(labelColorCode) }

// BoxStyle frames the whole view.
func BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor()).
		Padding(1, DefaultPadding)
}

func DimStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(DimColor())
}

func TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor())
}

func LabelStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(LabelColor())
}

func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(SuccessColor())
}

func WarningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(WarningColor())
}

func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(ErrorColor())
}

// KindStyle colors an action kind by what it does to the user's files:
// deletions warn, creations succeed, overwrites and moves are accented.
func KindStyle(kind syncengine.ActionKind) lipgloss.Style {
	style := lipgloss.NewStyle()

	switch kind {
	case syncengine.DeleteLocal, syncengine.DeleteRemote:
		return style.Foreground(WarningColor())
	case syncengine.NewLocal, syncengine.NewRemote:
		return style.Foreground(SuccessColor())
	case syncengine.OverwriteLocal, syncengine.OverwriteRemote:
		return style.Foreground(AccentColor())
	default:
		return style.Foreground(LabelColor())
	}
}

func RenderTitle(text string) string   { return TitleStyle().Render(text) }
func RenderLabel(text string) string   { return LabelStyle().Render(text) }
func RenderDim(text string) string     { return DimStyle().Render(text) }
func RenderSuccess(text string) string { return SuccessStyle().Render(text) }
func RenderWarning(text string) string { return WarningStyle().Render(text) }
func RenderError(text string) string   { return ErrorStyle().Render(text) }

// RenderKind renders the name of an action kind in its color.
func RenderKind(kind syncengine.ActionKind) string {
	return KindStyle(kind).Render(kind.String())
}

// unexported constants.
const (
	primaryColorCode = "205" // Pink
	accentColorCode  = "62"  // Blue
	labelColorCode   = "86"  // Cyan
	dimColorCode     = "240" // Dark gray
	errorColorCode   = "196" // Red
	successColorCode = "42"  // Green
	warningColorCode = "214" // Orange
)
