package syncengine

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern selects the documents the device can store.
const DefaultPattern = "**/*.pdf"

// FileFilter defines the interface for filtering files during sync
type FileFilter interface {
	// ShouldInclude returns true if the file at the given relative path should be included in the sync
	ShouldInclude(relativePath string) bool
}

// GlobFilter implements FileFilter using glob patterns. A file is included
// when any pattern matches. Hidden entries never match.
type GlobFilter struct {
	normalizedPatterns []string
}

// NewGlobFilter creates a GlobFilter from doublestar patterns. Matching is
// case-insensitive. Without patterns DefaultPattern is used.
func NewGlobFilter(patterns ...string) (*GlobFilter, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}

	normalized := make([]string, 0, len(patterns))

	for _, pattern := range patterns {
		lower := strings.ToLower(pattern)
		if !doublestar.ValidatePattern(lower) {
			return nil, fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
		}
		normalized = append(normalized, lower)
	}

	return &GlobFilter{normalizedPatterns: normalized}, nil
}

// ShouldInclude returns true if the file should be included based on the glob patterns.
func (f *GlobFilter) ShouldInclude(relativePath string) bool {
	if hasHiddenElement(relativePath) {
		return false
	}

	normalizedPath := strings.ToLower(relativePath)

	for _, pattern := range f.normalizedPatterns {
		if matched, err := doublestar.Match(pattern, normalizedPath); err == nil && matched {
			return true
		}
	}

	return false
}

// hasHiddenElement reports whether any element of a slash-separated path starts with a dot.
func hasHiddenElement(relativePath string) bool {
	for _, element := range strings.Split(relativePath, "/") {
		if strings.HasPrefix(element, ".") {
			return true
		}
	}

	return false
}
