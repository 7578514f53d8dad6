package shared

import "os"

// unexported variables.
var (
	//nolint:gochecknoglobals // Terminal capabilities are read once at startup
	colorsDisabled = os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
	//nolint:gochecknoglobals // Terminal capabilities are read once at startup
	unicodeDisabled = os.Getenv("TERM") == "dumb"
)

// GetColorsDisabled reports whether styled output is replaced by ASCII.
func GetColorsDisabled() bool {
	return colorsDisabled
}

// SetColorsDisabledForTesting overrides colorsDisabled.
func SetColorsDisabledForTesting(disabled bool) {
	colorsDisabled = disabled
}

// ErrorSymbol returns a cross with ASCII fallback
func ErrorSymbol() string {
	if unicodeDisabled {
		return "[x]"
	}

	return "✗"
}

// PendingSymbol returns an empty circle with ASCII fallback
func PendingSymbol() string {
	if unicodeDisabled {
		return "[ ]"
	}

	return "○"
}

// SuccessSymbol returns a check mark with ASCII fallback
func SuccessSymbol() string {
	if unicodeDisabled {
		return "[v]"
	}

	return "✓"
}
