package shared_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dpt-sync/internal/tui/shared"
)

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(shared.FormatBytes(500)).Should(Equal("500 B"))
	g.Expect(shared.FormatBytes(1024)).Should(Equal("1.0 KB"))
	g.Expect(shared.FormatBytes(1536)).Should(Equal("1.5 KB"))
	g.Expect(shared.FormatBytes(1024 * 1024)).Should(Equal("1.0 MB"))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(shared.FormatDuration(30 * time.Second)).Should(Equal("30s"))
	g.Expect(shared.FormatDuration(150 * time.Second)).Should(Equal("2m 30s"))
	g.Expect(shared.FormatDuration(time.Hour + 2*time.Minute + 3*time.Second)).Should(Equal("1h 2m 3s"))
}

func TestFormatRate(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(shared.FormatRate(500)).Should(Equal("500 B/s"))
	g.Expect(shared.FormatRate(1024)).Should(ContainSubstring("KB/s"))
	g.Expect(shared.FormatRate(1024 * 1024)).Should(ContainSubstring("MB/s"))
}

func TestTruncatePath(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(shared.TruncatePath("books/a.pdf", 40)).Should(Equal("books/a.pdf"))
	g.Expect(shared.TruncatePath("papers/2024/long-title.pdf", 13)).Should(Equal("paper...e.pdf"))
	g.Expect(shared.TruncatePath("papers/2024/long-title.pdf", 2)).Should(Equal("papers/2024/long-title.pdf"))
}
