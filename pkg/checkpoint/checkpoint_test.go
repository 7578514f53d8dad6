package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joe/dpt-sync/pkg/checkpoint"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
)

func openRepo(t *testing.T) (*checkpoint.Repo, string) {
	t.Helper()

	dir := t.TempDir()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	repo, err := checkpoint.Open(checkpoint.Config{
		Dir: dir,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}

	return repo, dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	return string(data)
}

func TestOpenInitializesBothLineages(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	lineage, err := repo.CurrentLineage()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(lineage).Should(Equal(checkpoint.LineageLocal))

	g.Expect(repo.Checkout(checkpoint.LineageRemote)).Should(Succeed())
	g.Expect(repo.Checkout(checkpoint.LineageLocal)).Should(Succeed())

	reopened, err := checkpoint.Open(checkpoint.Config{Dir: dir})
	g.Expect(err).ShouldNot(HaveOccurred())

	history, err := reopened.History(0)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(history).Should(HaveLen(1))
	g.Expect(history[0].Subject).Should(Equal("<initial checkpoint>"))
}

func TestCommitAllRecordsAdditionsAndDeletions(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	writeFile(t, dir, "a.pdf", "one")
	writeFile(t, dir, "books/b.pdf", "two")

	pending, err := repo.HasPendingChanges()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(pending).Should(BeTrue())

	first, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	pending, err = repo.HasPendingChanges()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(pending).Should(BeFalse())

	g.Expect(os.Remove(filepath.Join(dir, "a.pdf"))).Should(Succeed())

	second, err := repo.CommitAll("<post-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(second).ShouldNot(Equal(first))

	pending, err = repo.HasPendingChanges()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(pending).Should(BeFalse())

	restored := t.TempDir()
	n, err := repo.Extract(first, restored)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(n).Should(Equal(2))
	g.Expect(readFile(t, restored, "a.pdf")).Should(Equal("one"))
	g.Expect(readFile(t, restored, "books/b.pdf")).Should(Equal("two"))
}

func TestCommitAllWithoutChangesKeepsHead(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, _ := openRepo(t)

	head, err := repo.Head()
	g.Expect(err).ShouldNot(HaveOccurred())

	hash, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(hash).Should(Equal(head))
}

func TestCommitAllKeepsEmptyDirectories(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	g.Expect(os.MkdirAll(filepath.Join(dir, "empty", "nested"), 0o750)).Should(Succeed())

	_, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	_, err = os.Stat(filepath.Join(dir, "empty", "nested", checkpoint.KeepFile))
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(os.WriteFile(filepath.Join(dir, "stray.pdf"), []byte("x"), 0o600)).Should(Succeed())
	g.Expect(repo.HardReset()).Should(Succeed())

	_, err = os.Stat(filepath.Join(dir, "empty", "nested"))
	g.Expect(err).ShouldNot(HaveOccurred())
}

func TestHardResetRestoresTrackedAndRemovesUntracked(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	writeFile(t, dir, "a.pdf", "original")
	_, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	writeFile(t, dir, "a.pdf", "partial download")
	writeFile(t, dir, "new/b.pdf", "half")

	g.Expect(repo.HardReset()).Should(Succeed())

	g.Expect(readFile(t, dir, "a.pdf")).Should(Equal("original"))
	_, err = os.Stat(filepath.Join(dir, "new", "b.pdf"))
	g.Expect(os.IsNotExist(err)).Should(BeTrue())

	pending, err := repo.HasPendingChanges()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(pending).Should(BeFalse())
}

func TestBackupLineageKeepsDeviceCopies(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	writeFile(t, dir, "a.pdf", "local")
	_, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(repo.Checkout(checkpoint.LineageRemote)).Should(Succeed())
	g.Expect(repo.MergeFrom(checkpoint.LineageLocal)).Should(Succeed())
	g.Expect(readFile(t, dir, "a.pdf")).Should(Equal("local"))

	writeFile(t, dir, "a.pdf", "device")
	backup, err := repo.CommitAll("<post-dpt-backup checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(repo.Tag("backup-20240301-120000")).Should(Succeed())

	g.Expect(repo.Checkout(checkpoint.LineageLocal)).Should(Succeed())
	g.Expect(readFile(t, dir, "a.pdf")).Should(Equal("local"))

	restored := t.TempDir()
	_, err = repo.Extract("backup-20240301-120000", restored)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(readFile(t, restored, "a.pdf")).Should(Equal("device"))

	history, err := repo.History(0)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(history[0].Hash).Should(Equal(backup))
	g.Expect(history[0].Tags).Should(ConsistOf("backup-20240301-120000"))

	limited, err := repo.History(2)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(limited).Should(HaveLen(2))
}

func TestTagTwiceFails(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, _ := openRepo(t)

	g.Expect(repo.Tag("backup-1")).Should(Succeed())
	g.Expect(repo.Tag("backup-1")).Should(MatchError(checkpoint.ErrTagExists))
}

func TestCheckoutUnknownLineage(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, _ := openRepo(t)

	g.Expect(repo.Checkout("elsewhere")).Should(MatchError(checkpoint.ErrLineageMissing))
	g.Expect(repo.MergeFrom("elsewhere")).Should(MatchError(checkpoint.ErrLineageMissing))
}

func TestCommitAllSkipsHiddenDirectories(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	g.Expect(os.MkdirAll(filepath.Join(dir, ".cache", "empty"), 0o750)).Should(Succeed())
	g.Expect(os.MkdirAll(filepath.Join(dir, "notes"), 0o750)).Should(Succeed())

	_, err := repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	_, err = os.Stat(filepath.Join(dir, "notes", checkpoint.KeepFile))
	g.Expect(err).ShouldNot(HaveOccurred())
	_, err = os.Stat(filepath.Join(dir, ".cache", "empty", checkpoint.KeepFile))
	g.Expect(os.IsNotExist(err)).Should(BeTrue())
	_, err = os.Stat(filepath.Join(dir, ".git", checkpoint.KeepFile))
	g.Expect(os.IsNotExist(err)).Should(BeTrue())
}

func TestAttachKeepsWorkingTree(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	writeFile(t, dir, "a.pdf", "synced")
	writeFile(t, dir, ".rev", "records")
	_, err := repo.CommitAll("<post-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(repo.Checkout(checkpoint.LineageRemote)).Should(Succeed())
	writeFile(t, dir, "a.pdf", "edited")

	g.Expect(repo.Attach(checkpoint.LineageLocal)).Should(Succeed())

	lineage, err := repo.CurrentLineage()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(lineage).Should(Equal(checkpoint.LineageLocal))
	g.Expect(readFile(t, dir, "a.pdf")).Should(Equal("edited"))

	g.Expect(repo.RestoreFile(".rev")).Should(Succeed())
	g.Expect(readFile(t, dir, ".rev")).Should(Equal("records"))

	_, err = repo.CommitAll("<pre-sync checkpoint>")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(repo.HardReset()).Should(Succeed())
	g.Expect(readFile(t, dir, "a.pdf")).Should(Equal("edited"))
	g.Expect(readFile(t, dir, ".rev")).Should(Equal("records"))
}

func TestRestoreFileRemovesUntrackedFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	repo, dir := openRepo(t)

	writeFile(t, dir, ".rev", "stale")

	g.Expect(repo.RestoreFile(".rev")).Should(Succeed())

	_, err := os.Stat(filepath.Join(dir, ".rev"))
	g.Expect(os.IsNotExist(err)).Should(BeTrue())
	g.Expect(repo.Attach("elsewhere")).Should(MatchError(checkpoint.ErrLineageMissing))
}
