package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error category.
type SuggestionGenerator interface {
	Generate(category ErrorCategory, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error category and affected path.
func (g *suggestionGenerator) Generate(category ErrorCategory, affectedPath string) []string {
	switch category {
	case CategoryPermission:
		return g.generatePermissionSuggestions(affectedPath)
	case CategoryDiskSpace:
		return g.generateDiskSpaceSuggestions(affectedPath)
	case CategoryPath:
		return g.generatePathSuggestions(affectedPath)
	case CategoryAuth:
		return g.generateAuthSuggestions(affectedPath)
	case CategoryDevice:
		return g.generateDeviceSuggestions(affectedPath)
	case CategoryInterrupted:
		return g.generateInterruptedSuggestions(affectedPath)
	case CategoryMismatch:
		return g.generateMismatchSuggestions(affectedPath)
	case CategoryUnknown:
		return g.generateUnknownSuggestions(affectedPath)
	default:
		return g.generateUnknownSuggestions(affectedPath)
	}
}

func (g *suggestionGenerator) generateAuthSuggestions(path string) []string {
	suggestions := []string{
		"Check that --client-id and --key name the pairing registered on the device",
		"Register this computer with the device again if its key was regenerated",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the credential file is readable: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateDeviceSuggestions(_ string) []string {
	return []string{
		"Make sure the device is awake and on the same network",
		"Check that --host resolves, or use the device's IP address",
		"Run the sync again - interrupted downloads resume where they stopped",
	}
}

func (g *suggestionGenerator) generateInterruptedSuggestions(_ string) []string {
	return []string{
		"The sync directory was restored to its pre-sync checkpoint",
		"Run the sync again to finish",
	}
}

func (g *suggestionGenerator) generateMismatchSuggestions(path string) []string {
	suggestions := []string{
		"Run the sync again - the revision records were left unchanged",
		"Inspect recent checkpoints with 'dpt-sync history'",
	}

	if path != "" {
		suggestions = append(suggestions, "Compare the local and device copies of "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateDiskSpaceSuggestions(path string) []string {
	suggestions := []string{
		"Free up space on the disk holding the sync directory",
		"Check available space with 'df -h'",
		"Remove unnecessary files or move files to a different location",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify disk usage for the filesystem containing "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generatePathSuggestions(path string) []string {
	suggestions := []string{
		"Verify the path exists and is spelled correctly",
	}

	if path != "" {
		suggestions = append(suggestions, "Check if the path exists: "+path)
		suggestions = append(suggestions, "Ensure all parent directories exist for "+path)
	} else {
		suggestions = append(suggestions, "Ensure all parent directories exist")
	}

	return suggestions
}

func (g *suggestionGenerator) generatePermissionSuggestions(path string) []string {
	suggestions := []string{
		"Ensure you have read/write permissions for the files and directories",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("Check permissions with 'ls -la %s'", path))
	} else {
		suggestions = append(suggestions, "Check permissions with 'ls -la' on the affected path")
	}

	suggestions = append(suggestions, "Try running with appropriate permissions or as a privileged user")

	return suggestions
}

func (g *suggestionGenerator) generateUnknownSuggestions(path string) []string {
	suggestions := []string{
		"Check the error message for more details",
		"Verify file and directory permissions",
		"Ensure sufficient disk space is available",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the path is accessible: "+path)
	}

	return suggestions
}
