package shared

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
)

// NewProgressModel creates the transfer bar. Percentages are rendered by
// RenderTransfer next to the byte counts.
func NewProgressModel(width int) progress.Model {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = width

	if !colorsDisabled {
		bar.EmptyColor = dimColorCode
		bar.FullColor = accentColorCode
	}

	return bar
}

// RenderASCIIProgress draws a bar like "[=====>    ] 45%" for terminals
// without color. fraction is clamped to [0, 1].
func RenderASCIIProgress(fraction float64, width int) string {
	fraction = math.Min(math.Max(fraction, 0), 1)
	width = max(width, 1)

	filled := int(fraction * float64(width))

	var bar string

	switch {
	case filled >= width:
		bar = strings.Repeat("=", width)
	case fraction > 0:
		bar = strings.Repeat("=", filled) + ">" + strings.Repeat(" ", width-filled-1)
	default:
		bar = strings.Repeat(" ", width)
	}

	return fmt.Sprintf("[%s] %d%%", bar, int(math.Round(fraction*ProgressPercentageScale)))
}

// RenderTransfer renders the bar of one transfer followed by the byte
// counts and, once known, the rate.
func RenderTransfer(model progress.Model, done, total int64, bytesPerSec float64) string {
	fraction := 0.0
	if total > 0 {
		fraction = math.Min(float64(done)/float64(total), 1)
	}

	var bar string
	if colorsDisabled {
		bar = RenderASCIIProgress(fraction, model.Width)
	} else {
		bar = model.ViewAs(fraction)
	}

	line := fmt.Sprintf("%s %s / %s", bar, FormatBytes(done), FormatBytes(total))
	if bytesPerSec > 0 {
		line += "  " + FormatRate(bytesPerSec)
	}

	return line
}
