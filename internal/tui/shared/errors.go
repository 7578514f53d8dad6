package shared

import (
	"fmt"
	"strings"

	"github.com/joe/dpt-sync/pkg/errors"
)

// RenderSyncError renders a failed run with its actionable suggestions.
// Lines longer than maxWidth are cut when maxWidth is positive.
func RenderSyncError(err error, maxWidth int) string {
	if err == nil {
		return ""
	}

	enrichedErr := errors.NewEnricher().Enrich(err, "")

	errMsg := enrichedErr.Error()
	if maxWidth > ProgressEllipsisLength && len(errMsg) > maxWidth {
		errMsg = errMsg[:maxWidth-ProgressEllipsisLength] + "..."
	}

	var builder strings.Builder

	fmt.Fprintf(&builder, "%s %s\n", ErrorSymbol(), RenderError(errMsg))

	suggestions := errors.FormatSuggestions(enrichedErr)
	if suggestions != "" {
		builder.WriteString("\n")
		builder.WriteString(RenderDim("Try these solutions:"))
		builder.WriteString("\n")
		builder.WriteString(suggestions)
		builder.WriteString("\n")
	}

	return builder.String()
}
