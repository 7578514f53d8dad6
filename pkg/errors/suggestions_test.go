//nolint:varnamelen // Test files use idiomatic short variable names (g, tt, etc.)
package errors_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/dpt-sync/pkg/errors"
)

func TestSuggestionsPerCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category pkgerrors.ErrorCategory
		path     string
		mentions string
	}{
		{pkgerrors.CategoryAuth, "", "--client-id"},
		{pkgerrors.CategoryAuth, "/etc/dpt/key.pem", "Verify the credential file is readable: /etc/dpt/key.pem"},
		{pkgerrors.CategoryDevice, "", "--host"},
		{pkgerrors.CategoryInterrupted, "", "pre-sync checkpoint"},
		{pkgerrors.CategoryMismatch, "", "'dpt-sync history'"},
		{pkgerrors.CategoryMismatch, "papers/a.pdf", "Compare the local and device copies of papers/a.pdf"},
		{pkgerrors.CategoryDiskSpace, "/srv/dpt", "df -h"},
		{pkgerrors.CategoryPath, "/srv/dpt", "Check if the path exists: /srv/dpt"},
		{pkgerrors.CategoryPath, "", "Ensure all parent directories exist"},
		{pkgerrors.CategoryPermission, "/srv/dpt/a.pdf", "ls -la /srv/dpt/a.pdf"},
		{pkgerrors.CategoryPermission, "", "ls -la' on the affected path"},
		{pkgerrors.CategoryUnknown, "/srv/dpt", "Verify the path is accessible: /srv/dpt"},
		{pkgerrors.ErrorCategory("novel"), "", "Check the error message"},
	}

	generator := pkgerrors.NewSuggestionGenerator()

	for _, tt := range tests {
		t.Run(string(tt.category)+"/"+tt.path, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			suggestions := generator.Generate(tt.category, tt.path)

			g.Expect(suggestions).ShouldNot(BeEmpty())
			g.Expect(suggestions).Should(ContainElement(ContainSubstring(tt.mentions)))
		})
	}
}

func TestSuggestionsOmitPathWhenUnknown(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	generator := pkgerrors.NewSuggestionGenerator()

	for _, category := range []pkgerrors.ErrorCategory{
		pkgerrors.CategoryAuth, pkgerrors.CategoryMismatch, pkgerrors.CategoryDiskSpace, pkgerrors.CategoryUnknown,
	} {
		withPath := generator.Generate(category, "/srv/dpt")
		withoutPath := generator.Generate(category, "")

		g.Expect(withPath).Should(HaveLen(len(withoutPath)+1), string(category))
	}
}
