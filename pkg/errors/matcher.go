package errors

import "strings"

// PatternMatcher matches error messages to categories using string patterns.
type PatternMatcher interface {
	Match(errorMsg string) ErrorCategory
}

// categoryPatterns pairs a category with the message fragments that
// identify it.
type categoryPatterns struct {
	category ErrorCategory
	patterns []string
}

// NewPatternMatcher creates a new PatternMatcher with predefined patterns.
// Categories are tried in order, so a message naming both an interrupted
// sync and the device I/O it cut short is reported as interrupted.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		ordered: []categoryPatterns{
			{CategoryInterrupted, []string{
				"sync interrupted",
				"context canceled",
			}},
			{CategoryAuth, []string{
				"device authentication failed",
				"session not authenticated",
				"status 401",
				"status 403",
			}},
			{CategoryMismatch, []string{
				"local and device trees differ",
			}},
			{CategoryDevice, []string{
				"device transport failure",
				"connection refused",
				"no route to host",
				"no such host",
				"i/o timeout",
				"deadline exceeded",
				"device returned no data",
				"entry not found on device",
				"parent folder not found on device",
			}},
			{CategoryDiskSpace, []string{
				"no space left on device",
				"disk full",
				"quota exceeded",
			}},
			{CategoryPermission, []string{
				"permission denied",
				"access denied",
				"operation not permitted",
			}},
			{CategoryPath, []string{
				"no such file or directory",
				"file not found",
				"does not exist",
				"not a directory",
			}},
		},
	}
}

// patternMatcher is the concrete implementation of PatternMatcher.
type patternMatcher struct {
	ordered []categoryPatterns
}

// Match returns the error category based on pattern matching.
func (m *patternMatcher) Match(errorMsg string) ErrorCategory {
	lowerMsg := strings.ToLower(errorMsg)

	for _, entry := range m.ordered {
		for _, pattern := range entry.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return entry.category
			}
		}
	}

	return CategoryUnknown
}
