//nolint:varnamelen // Test files use idiomatic short variable names (g, tt, etc.)
package errors_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/dpt-sync/pkg/errors"
)

func TestPatternMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg      string
		expected pkgerrors.ErrorCategory
	}{
		{"sync interrupted", pkgerrors.CategoryInterrupted},
		{"read chunk: context canceled", pkgerrors.CategoryInterrupted},
		{"sync interrupted: GET /documents2: device transport failure", pkgerrors.CategoryInterrupted},
		{"device authentication failed: submit signature: PUT /auth: status 401", pkgerrors.CategoryAuth},
		{"GET /documents2: status 403", pkgerrors.CategoryAuth},
		{"device session not authenticated", pkgerrors.CategoryAuth},
		{"local and device trees differ after sync: papers/a.pdf", pkgerrors.CategoryMismatch},
		{"dial tcp 192.168.1.20:8443: connect: connection refused", pkgerrors.CategoryDevice},
		{"dial tcp: lookup digitalpaper.local: no such host", pkgerrors.CategoryDevice},
		{"read tcp 10.0.0.2:51234->10.0.0.9:8443: i/o timeout", pkgerrors.CategoryDevice},
		{"move papers/a.pdf: parent folder not found on device", pkgerrors.CategoryDevice},
		{"write /srv/dpt/a.pdf: no space left on device", pkgerrors.CategoryDiskSpace},
		{"open /srv/dpt/a.pdf: permission denied", pkgerrors.CategoryPermission},
		{"remove /srv/dpt/a.pdf: operation not permitted", pkgerrors.CategoryPermission},
		{"stat /srv/dpt: no such file or directory", pkgerrors.CategoryPath},
		{"sync directory does not exist: /srv/dpt", pkgerrors.CategoryPath},
		{"OPEN /SRV/DPT/A.PDF: PERMISSION DENIED", pkgerrors.CategoryPermission},
		{"unexpected end of JSON input", pkgerrors.CategoryUnknown},
		{"", pkgerrors.CategoryUnknown},
	}

	matcher := pkgerrors.NewPatternMatcher()

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			g.Expect(matcher.Match(tt.msg)).Should(Equal(tt.expected))
		})
	}
}
