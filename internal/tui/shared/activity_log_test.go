//nolint:varnamelen // Test files use idiomatic short variable names (g, etc.)
package shared_test

import (
	"testing"

	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

func activities() []shared.Activity {
	return []shared.Activity{
		{Kind: syncengine.DeleteRemote, RelPath: "old.pdf"},
		{Kind: syncengine.NewLocal, RelPath: "papers/a.pdf"},
		{Kind: syncengine.MoveRemote, RelPath: "books/b.pdf"},
	}
}

func TestRenderActivityLogEmpty(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(ansi.Strip(shared.RenderActivityLog("Done", nil, 0, 0))).Should(Equal("Done (0)"))
}

func TestRenderActivityLogOldestFirst(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	done := shared.SuccessSymbol()

	g.Expect(ansi.Strip(shared.RenderActivityLog("Done", activities(), 0, 0))).Should(Equal(
		"Done (3)\n" +
			"  " + done + " delete_remote old.pdf\n" +
			"  " + done + " new_local papers/a.pdf\n" +
			"  " + done + " move_remote books/b.pdf"))
}

func TestRenderActivityLogSummarizesOlderEntries(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	log := ansi.Strip(shared.RenderActivityLog("Done", activities(), 1, 0))

	g.Expect(log).Should(Equal("Done (3)\n  2 earlier action(s)\n  " + shared.SuccessSymbol() + " move_remote books/b.pdf"))
}

func TestRenderActivityLogTruncatesPaths(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	entries := []shared.Activity{{Kind: syncengine.NewRemote, RelPath: "papers/2024/long-title.pdf"}}

	log := ansi.Strip(shared.RenderActivityLog("Done", entries, 0, 13))

	g.Expect(log).Should(HaveSuffix("new_remote paper...e.pdf"))
}
