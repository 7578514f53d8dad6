//nolint:varnamelen // Test files use idiomatic short variable names (t, tt, etc.)
package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexflint/go-arg"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/dpt-sync/internal/config"
	"github.com/joe/dpt-sync/pkg/device"
)

// files serves configuration files from memory.
type files map[string]string

func (f files) read(path string) ([]byte, error) {
	content, ok := f[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	return []byte(content), nil
}

func deviceArgs(syncDir string, extra ...string) []string {
	return append([]string{"-d", syncDir, "--client-id", "id.txt", "--key", "key.pem"}, extra...)
}

func TestUIModeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode     config.UIMode
		expected string
	}{
		{config.UIAuto, "auto"},
		{config.UITUI, "tui"},
		{config.UIPlain, "plain"},
		{config.UIMode(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.expected {
			t.Errorf("UIMode(%d).String() = %q, want %q", tt.mode, got, tt.expected)
		}
	}
}

func TestUIModeUnmarshalText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected config.UIMode
		wantErr  bool
	}{
		{"auto", config.UIAuto, false},
		{"", config.UIAuto, false},
		{"TUI", config.UITUI, false},
		{"interactive", config.UITUI, false},
		{"plain", config.UIPlain, false},
		{"text", config.UIPlain, false},
		{"fancy", config.UIAuto, true},
	}

	for _, tt := range tests {
		var mode config.UIMode
		err := mode.UnmarshalText([]byte(tt.input))

		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalText(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && mode != tt.expected {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.input, mode, tt.expected)
		}
	}
}

func TestParseDefaultsToSync(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()

	cfg, err := config.Parse(deviceArgs(dir), files{}.read)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.Command()).Should(Equal("sync"))
	g.Expect(cfg.Sync).ShouldNot(BeNil())
	g.Expect(cfg.Sync.DryRun).Should(BeFalse())
	g.Expect(cfg.Sync.UI).Should(Equal(config.UIAuto))
	g.Expect(cfg.Host).Should(Equal(device.DefaultHost))
	g.Expect(cfg.Port).Should(Equal(device.DefaultPort))
	g.Expect(cfg.LogLevel).Should(Equal(config.DefaultLogLevel))
	g.Expect(cfg.LogFormat).Should(Equal("console"))
	g.Expect(cfg.DeviceConfig()).Should(Equal(device.Config{Host: device.DefaultHost, Port: device.DefaultPort}))
}

func TestParseSyncFlags(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()
	args := deviceArgs(dir, "--include", "**/*.pdf", "--include", "papers/**", "sync", "--dry-run", "--ui", "plain")

	cfg, err := config.Parse(args, files{}.read)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.Sync.DryRun).Should(BeTrue())
	g.Expect(cfg.Sync.UI).Should(Equal(config.UIPlain))
	g.Expect(cfg.Include).Should(Equal([]string{"**/*.pdf", "papers/**"}))
}

func TestParseConfigFilePrecedence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()
	fs := files{"dpt.yaml": `
sync_dir: ` + dir + `
client_id: /etc/dpt/id.txt
key: /etc/dpt/key.pem
host: 192.168.1.20
port: 9443
include:
  - "**/*.pdf"
skip_time_sync: true
log_level: debug
log_format: json
metrics_file: /var/lib/node_exporter/dpt.prom
`}

	cfg, err := config.Parse([]string{"--config", "dpt.yaml", "--host", "dpt.lan", "--log-level", "warn"}, fs.read)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.SyncDir).Should(Equal(dir))
	g.Expect(cfg.ClientIDPath).Should(Equal("/etc/dpt/id.txt"))
	g.Expect(cfg.KeyPath).Should(Equal("/etc/dpt/key.pem"))
	g.Expect(cfg.Host).Should(Equal("dpt.lan"))
	g.Expect(cfg.Port).Should(Equal(9443))
	g.Expect(cfg.Include).Should(Equal([]string{"**/*.pdf"}))
	g.Expect(cfg.SkipTimeSync).Should(BeTrue())
	g.Expect(cfg.LogLevel).Should(Equal("warn"))
	g.Expect(cfg.LogFormat).Should(Equal("json"))
	g.Expect(cfg.MetricsFile).Should(Equal("/var/lib/node_exporter/dpt.prom"))
}

func TestParseConfigFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs := files{
		"unknown.yaml": "sync_dir: " + dir + "\nfavourite_colour: blue\n",
		"broken.yaml":  "sync_dir: [unterminated\n",
	}

	tests := []struct {
		name string
		file string
	}{
		{"missing file", "absent.yaml"},
		{"unknown key", "unknown.yaml"},
		{"malformed yaml", "broken.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			_, err := config.Parse(deviceArgs(dir, "--config", tt.file), fs.read)

			g.Expect(err).Should(HaveOccurred())
		})
	}
}

func TestParseEmptyConfigFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()

	cfg, err := config.Parse(deviceArgs(dir, "--config", "empty.yaml"), files{"empty.yaml": ""}.read)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.Host).Should(Equal(device.DefaultHost))
}

func TestParseHistory(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()

	cfg, err := config.Parse([]string{"-d", dir, "history"}, files{}.read)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.Command()).Should(Equal("history"))
	g.Expect(cfg.History.Limit).Should(Equal(config.DefaultHistoryLimit))
	g.Expect(cfg.NeedsDevice()).Should(BeFalse())

	cfg, err = config.Parse([]string{"-d", dir, "history", "--limit", "5"}, files{}.read)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.History.Limit).Should(Equal(5))

	_, err = config.Parse([]string{"-d", dir, "history", "--limit=-1"}, files{}.read)
	g.Expect(err).Should(MatchError(ContainSubstring("must not be negative")))
}

func TestParseRestore(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()

	cfg, err := config.Parse([]string{"-d", dir, "restore", "backup-20240506-070809", "/tmp/out"}, files{}.read)

	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(cfg.Command()).Should(Equal("restore"))
	g.Expect(cfg.Restore.Commit).Should(Equal("backup-20240506-070809"))
	g.Expect(cfg.Restore.Dest).Should(Equal("/tmp/out"))
}

func TestParseDeviceCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		command string
		needDir bool
	}{
		{"open", deviceArgs(dir, "open", "books/a.pdf"), "open", true},
		{"upload-open", []string{"--client-id", "id", "--key", "k", "upload-open", "/tmp/x.pdf"}, "upload-open", false},
		{"viewing", []string{"--client-id", "id", "--key", "k", "viewing"}, "viewing", false},
		{"sync-time", []string{"--client-id", "id", "--key", "k", "sync-time"}, "sync-time", false},
		{"copy", deviceArgs(dir, "copy", "a.pdf", "b.pdf"), "copy", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			cfg, err := config.Parse(tt.args, files{}.read)

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(cfg.Command()).Should(Equal(tt.command))
			g.Expect(cfg.NeedsDevice()).Should(BeTrue())
			g.Expect(cfg.NeedsSyncDir()).Should(Equal(tt.needDir))
		})
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing sync dir", []string{"--client-id", "id", "--key", "k"}, "sync directory is required"},
		{"absent sync dir", deviceArgs(filepath.Join(dir, "nope")), "sync directory does not exist"},
		{"sync dir is a file", deviceArgs(file), "is not a directory"},
		{"missing client id", []string{"-d", dir, "--key", "k"}, "client id file is required"},
		{"missing key", []string{"-d", dir, "--client-id", "id"}, "private key file is required"},
		{"port out of range", deviceArgs(dir, "--port", "70000"), "port out of range"},
		{"bad include", deviceArgs(dir, "--include", "papers/[a"), "invalid include pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			_, err := config.Parse(tt.args, files{}.read)

			g.Expect(err).Should(MatchError(ContainSubstring(tt.want)))
		})
	}
}

func TestParseHelpAndVersion(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := config.Parse([]string{"--help"}, files{}.read)
	g.Expect(errors.Is(err, arg.ErrHelp)).Should(BeTrue())

	_, err = config.Parse([]string{"--version"}, files{}.read)
	g.Expect(errors.Is(err, arg.ErrVersion)).Should(BeTrue())
}

func TestLoggingConfig(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	cfg := &config.Config{LogLevel: "debug", LogFormat: "json", LogFile: "/tmp/dpt.log"}

	got := cfg.LoggingConfig()

	g.Expect(got.Level).Should(Equal("debug"))
	g.Expect(got.Format).Should(Equal("json"))
	g.Expect(got.OutputPath).Should(Equal("/tmp/dpt.log"))
}
