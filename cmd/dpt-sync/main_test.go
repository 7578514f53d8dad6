//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"go.uber.org/zap"

	"github.com/joe/dpt-sync/internal/config"
	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/pkg/device"
	"github.com/joe/dpt-sync/pkg/device/devicetest"
)

// harness is a sync directory, credential files and a fake device.
type harness struct {
	t      *testing.T
	dir    string
	device *devicetest.Server
	flags  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := devicetest.NewServer(t)
	secrets := t.TempDir()

	idPath := filepath.Join(secrets, "deviceid.dat")
	keyPath := filepath.Join(secrets, "privatekey.dat")

	if err := os.WriteFile(idPath, []byte(devicetest.ClientID+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(srv.Key)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{t: t, dir: t.TempDir(), device: srv}
	h.flags = []string{
		"-d", h.dir,
		"--client-id", idPath,
		"--key", keyPath,
		"--host", u.Hostname(),
		"--port", u.Port(),
	}

	return h
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()

	cfg, err := config.Parse(append(append([]string{}, h.flags...), args...), os.ReadFile)
	if err != nil {
		h.t.Fatalf("parse %v: %v", args, err)
	}

	var out bytes.Buffer
	err = run(context.Background(), cfg, zap.NewNop(), &out)

	return out.String(), err
}

func TestSyncDownloadsAndRecordsHistory(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := newHarness(t)
	h.device.PutDocument("papers/a.pdf", []byte("%PDF-a"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	metrics := filepath.Join(t.TempDir(), "dpt.prom")
	h.flags = append(h.flags, "--metrics-file", metrics)

	out, err := h.run("sync", "--ui", "plain")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring(syncengine.MsgComputing))
	g.Expect(out).Should(ContainSubstring("new_local papers/a.pdf"))
	g.Expect(out).Should(ContainSubstring("Applied 1 action(s)"))

	content, err := os.ReadFile(filepath.Join(h.dir, "papers", "a.pdf"))
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(content)).Should(Equal("%PDF-a"))

	g.Expect(metrics).Should(BeAnExistingFile())

	out, err = h.run("sync")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring(syncengine.MsgUpToDate))

	out, err = h.run("history", "--limit", "10")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring(syncengine.CommitPostSync))

	dest := t.TempDir()
	out, err = h.run("restore", "local", dest)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring("into " + dest))
	g.Expect(filepath.Join(dest, "papers", "a.pdf")).Should(BeAnExistingFile())
}

func TestDryRunLeavesDirectoryAlone(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := newHarness(t)
	h.device.PutDocument("a.pdf", []byte("%PDF"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	out, err := h.run("sync", "--dry-run")

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring("Dry run: 1 action(s) would be applied"))
	g.Expect(filepath.Join(h.dir, "a.pdf")).ShouldNot(BeAnExistingFile())
}

func TestViewerCommands(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := newHarness(t)
	id := h.device.PutDocument("books/b.pdf", []byte("%PDF-b"), time.Now())
	h.device.SetViewing(devicetest.RootPath + "/books/b.pdf")

	out, err := h.run("viewing")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(Equal("books/b.pdf\n"))

	_, err = h.run("open", "books/b.pdf")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(h.device.Opened()).Should(ConsistOf(id))

	_, err = h.run("open", "books/missing.pdf")
	g.Expect(err).Should(MatchError(syncengine.ErrMissingEntry))

	_, err = h.run("copy", "books/b.pdf", "books/c.pdf")
	g.Expect(err).ShouldNot(HaveOccurred())
	copied, ok := h.device.Content("books/c.pdf")
	g.Expect(ok).Should(BeTrue())
	g.Expect(string(copied)).Should(Equal("%PDF-b"))

	_, err = h.run("sync-time")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(h.device.Clock()).ShouldNot(BeZero())
}

func TestUploadAndOpen(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := newHarness(t)
	file := filepath.Join(t.TempDir(), "draft.pdf")
	g.Expect(os.WriteFile(file, []byte("%PDF-draft"), 0o600)).Should(Succeed())

	out, err := h.run("upload-open", file)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(out).Should(ContainSubstring("Opened draft.pdf"))
	uploaded, ok := h.device.Content("draft.pdf")
	g.Expect(ok).Should(BeTrue())
	g.Expect(string(uploaded)).Should(Equal("%PDF-draft"))
	g.Expect(h.device.Opened()).Should(ConsistOf(h.device.ID("draft.pdf")))
}

func TestRejectedCredentials(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	h := newHarness(t)
	other := filepath.Join(t.TempDir(), "deviceid.dat")
	g.Expect(os.WriteFile(other, []byte("someone-else"), 0o600)).Should(Succeed())
	h.flags = append(h.flags, "--client-id", other)

	_, err := h.run("viewing")

	g.Expect(err).Should(MatchError(device.ErrAuth))
}

func TestReportErrorAddsSuggestions(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	var out bytes.Buffer
	reportError(&out, fmt.Errorf("sync: %w", syncengine.ErrSyncInterrupted))

	g.Expect(out.String()).Should(HavePrefix("Error: sync: sync interrupted\n"))
	g.Expect(out.String()).Should(ContainSubstring("Try these solutions:"))

	out.Reset()
	reportError(&out, errors.New("odd"))
	g.Expect(out.String()).Should(HavePrefix("Error: odd\n"))
}
