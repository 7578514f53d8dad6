package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/joe/dpt-sync/pkg/device"
)

// Enricher enriches standard errors with actionable suggestions.
type Enricher interface {
	Enrich(err error, affectedPath string) error
}

// NewEnricher creates a new Enricher with default pattern matcher and suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		matcher:   NewPatternMatcher(),
		generator: NewSuggestionGenerator(),
	}
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Fixed sentinel table, checked before message patterns
	sentinelCategories = []struct {
		target   error
		category ErrorCategory
	}{
		{context.Canceled, CategoryInterrupted},
		{device.ErrAuth, CategoryAuth},
		{device.ErrNotAuthenticated, CategoryAuth},
		{device.ErrTransport, CategoryDevice},
		{context.DeadlineExceeded, CategoryDevice},
	}

	//nolint:gochecknoglobals // Compiled regexes shared across all enricher instances for performance
	pathExtractionPatterns = []*regexp.Regexp{
		// Unix/Linux paths (absolute and relative)
		regexp.MustCompile(`\b\w+\s+([./][^\s:]+):`),
		// Windows paths with backslashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:\\[^\s:]+):`),
		// Windows paths with forward slashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:/[^\s:]+):`),
	}
)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	matcher   PatternMatcher
	generator SuggestionGenerator
}

// Enrich categorizes err and attaches suggestions for it. Errors that are
// already actionable and nil are returned unchanged. Without affectedPath
// a path is taken from the message when one is found.
func (e *enricher) Enrich(err error, affectedPath string) error {
	var actionableErr ActionableError
	if err == nil || errors.As(err, &actionableErr) {
		return err
	}

	errMsg := err.Error()

	// If no path provided, try to extract from error message
	if affectedPath == "" {
		affectedPath = extractPath(errMsg)
	}

	// An interruption wraps whatever request it cut short.
	matched := e.matcher.Match(errMsg)
	category := categorize(err)
	if category == CategoryUnknown || matched == CategoryInterrupted {
		category = matched
	}

	suggestions := e.generator.Generate(category, affectedPath)

	return NewActionableError(err, category, suggestions, affectedPath)
}

// categorize finds the category of the first sentinel err wraps.
func categorize(err error) ErrorCategory {
	for _, sentinel := range sentinelCategories {
		if errors.Is(err, sentinel.target) {
			return sentinel.category
		}
	}

	return CategoryUnknown
}

// extractPath attempts to extract a file path from common Go error message formats.
// Returns empty string if no path is found.
//
// This function recognizes standard Go error formats like:
//   - "open /path/to/file: permission denied"
//   - "stat /var/log/app.log: no such file or directory"
//   - "remove C:\Windows\temp\data: directory not empty"
//
// The extracted path personalizes the suggestions.
func extractPath(errorMsg string) string {
	for _, pattern := range pathExtractionPatterns {
		if matches := pattern.FindStringSubmatch(errorMsg); len(matches) > 1 {
			path := strings.TrimSpace(matches[1])
			if path != "" {
				return path
			}
		}
	}

	return ""
}
