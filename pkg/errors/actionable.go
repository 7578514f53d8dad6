// Package errors turns failures of a sync run into actionable messages.
//
// An error is categorized (device unreachable, authentication, interrupted
// sync, permission, disk space, ...) first by the sentinel errors it wraps
// and then by its message, and gets suggestions for that category:
//
//	enricher := errors.NewEnricher()
//	if err := engine.SafeSync(ctx, false); err != nil {
//	    enriched := enricher.Enrich(err, "")
//	    fmt.Fprintln(os.Stderr, enriched)
//	    fmt.Fprintln(os.Stderr, errors.FormatSuggestions(enriched))
//	}
//
// The enricher extracts paths from messages such as
// "open /home/user/Documents/a.pdf: permission denied" when no path is
// given.
package errors

import (
	"errors"
	"strings"
)

// Exported constants.
const (
	CategoryAuth        ErrorCategory = "auth"
	CategoryDevice      ErrorCategory = "device"
	CategoryDiskSpace   ErrorCategory = "disk_space"
	CategoryInterrupted ErrorCategory = "interrupted"
	CategoryMismatch    ErrorCategory = "mismatch"
	CategoryPath        ErrorCategory = "path"
	CategoryPermission  ErrorCategory = "permission"
	CategoryUnknown     ErrorCategory = "unknown"
)

// ErrorCategory groups failures that share remedies.
type ErrorCategory string

// ActionableError is a failure together with what the user can do about it.
// It unwraps to the failure, so errors.Is keeps matching its sentinels.
type ActionableError interface {
	error
	Unwrap() error
	Category() ErrorCategory
	Suggestions() []string
	AffectedPath() string
}

// NewActionableError attaches a category, suggestions and the affected
// path to err.
func NewActionableError(err error, category ErrorCategory, suggestions []string, affectedPath string) ActionableError {
	return &actionableError{
		err:          err,
		category:     category,
		suggestions:  suggestions,
		affectedPath: affectedPath,
	}
}

// FormatSuggestions renders the suggestions of the ActionableError in err's
// chain as a bulleted list. It returns "" when there is nothing to suggest.
func FormatSuggestions(err error) string {
	var actionable ActionableError
	if !errors.As(err, &actionable) || len(actionable.Suggestions()) == 0 {
		return ""
	}

	lines := make([]string, 0, len(actionable.Suggestions()))
	for _, suggestion := range actionable.Suggestions() {
		lines = append(lines, "  • "+suggestion)
	}

	return strings.Join(lines, "\n")
}

type actionableError struct {
	err          error
	category     ErrorCategory
	suggestions  []string
	affectedPath string
}

func (e *actionableError) Error() string           { return e.err.Error() }
func (e *actionableError) Unwrap() error           { return e.err }
func (e *actionableError) Category() ErrorCategory { return e.category }
func (e *actionableError) Suggestions() []string   { return e.suggestions }
func (e *actionableError) AffectedPath() string    { return e.affectedPath }
