// Package config handles application configuration and command-line argument parsing.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/joe/dpt-sync/internal/logging"
	"github.com/joe/dpt-sync/pkg/device"
)

// Defaults.
const (
	DefaultHistoryLimit = 20
	DefaultLogLevel     = "info"
)

// UIMode selects how a sync reports progress.
type UIMode int

const (
	// UIAuto uses the TUI when stdout is a terminal
	UIAuto UIMode = iota
	// UITUI always uses the TUI
	UITUI
	// UIPlain prints status lines
	UIPlain
)

// String returns the string representation of UIMode
func (m UIMode) String() string {
	switch m {
	case UIAuto:
		return "auto"
	case UITUI:
		return "tui"
	case UIPlain:
		return "plain"
	default:
		return "unknown"
	}
}

// ParseUIMode parses a string into a UIMode
func ParseUIMode(s string) (UIMode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return UIAuto, nil
	case "tui", "interactive":
		return UITUI, nil
	case "plain", "text":
		return UIPlain, nil
	default:
		return UIAuto, fmt.Errorf("invalid ui mode: %s (valid: auto, tui, plain)", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for go-arg
func (m *UIMode) UnmarshalText(text []byte) error {
	parsed, err := ParseUIMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SyncCmd runs one sync.
type SyncCmd struct {
	DryRun bool   `arg:"-n,--dry-run" help:"Only report what would change"`
	UI     UIMode `arg:"--ui" default:"auto" help:"Progress display: auto|tui|plain"`
}

// HistoryCmd lists checkpoints.
type HistoryCmd struct {
	Limit int `arg:"-l,--limit" help:"Number of checkpoints to show (0 = all)"`
}

// RestoreCmd extracts a checkpoint into a directory.
type RestoreCmd struct {
	Commit string `arg:"positional,required" help:"Commit hash, tag or lineage"`
	Dest   string `arg:"positional,required" help:"Directory to write the files to"`
}

// OpenCmd opens a synced document on the device.
type OpenCmd struct {
	Path string `arg:"positional,required" help:"Document path relative to the sync directory"`
}

// UploadOpenCmd uploads a local file to the device root and opens it.
type UploadOpenCmd struct {
	File string `arg:"positional,required" help:"Local file to upload"`
}

// ViewingCmd lists the documents open on the device.
type ViewingCmd struct{}

// SyncTimeCmd sets the device clock.
type SyncTimeCmd struct{}

// CopyCmd duplicates a document or folder on the device.
type CopyCmd struct {
	From string `arg:"positional,required" help:"Existing device path"`
	To   string `arg:"positional,required" help:"New device path"`
}

// Config holds the application configuration
type Config struct {
	Sync       *SyncCmd       `arg:"subcommand:sync" help:"Synchronize the sync directory with the device (default)"`
	History    *HistoryCmd    `arg:"subcommand:history" help:"List checkpoints of the sync directory"`
	Restore    *RestoreCmd    `arg:"subcommand:restore" help:"Extract the files of a checkpoint"`
	Open       *OpenCmd       `arg:"subcommand:open" help:"Open a document on the device"`
	UploadOpen *UploadOpenCmd `arg:"subcommand:upload-open" help:"Upload a file to the device and open it"`
	Viewing    *ViewingCmd    `arg:"subcommand:viewing" help:"List documents open on the device"`
	SyncTime   *SyncTimeCmd   `arg:"subcommand:sync-time" help:"Set the device clock to the current time"`
	Copy       *CopyCmd       `arg:"subcommand:copy" help:"Copy a document or folder on the device"`

	ConfigFile   string   `arg:"-c,--config,env:DPT_SYNC_CONFIG" help:"YAML configuration file"`
	SyncDir      string   `arg:"-d,--sync-dir" help:"Local directory to synchronize"`
	ClientIDPath string   `arg:"--client-id" help:"File holding the registered client id"`
	KeyPath      string   `arg:"--key" help:"PEM private key registered with the device"`
	Host         string   `arg:"--host" help:"Device host name or address"`
	Port         int      `arg:"--port" help:"Device HTTPS port"`
	Include      []string `arg:"--include,separate" help:"Glob of files to sync (repeatable, default **/*.pdf)"`
	SkipTimeSync bool     `arg:"--skip-time-sync" help:"Leave the device clock alone during a sync"`
	LogLevel     string   `arg:"--log-level" help:"debug|info|warn|error"`
	LogFormat    string   `arg:"--log-format" help:"console|json"`
	LogFile      string   `arg:"--log-file" help:"Write logs to this file"`
	MetricsFile  string   `arg:"--metrics-file" help:"Write run metrics in Prometheus text format"`
}

// fileConfig is the YAML configuration file.
type fileConfig struct {
	SyncDir      string   `yaml:"sync_dir"`
	ClientID     string   `yaml:"client_id"`
	Key          string   `yaml:"key"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Include      []string `yaml:"include"`
	SkipTimeSync bool     `yaml:"skip_time_sync"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
	LogFile      string   `yaml:"log_file"`
	MetricsFile  string   `yaml:"metrics_file"`
}

// Description returns the program description for go-arg
func (Config) Description() string {
	return "Two-way synchronization of a PDF directory with a Digital Paper e-reader"
}

// Version returns the version string for go-arg
func (Config) Version() string {
	return "dpt-sync 1.0.0"
}

// Command names the selected subcommand.
func (cfg *Config) Command() string {
	switch {
	case cfg.History != nil:
		return "history"
	case cfg.Restore != nil:
		return "restore"
	case cfg.Open != nil:
		return "open"
	case cfg.UploadOpen != nil:
		return "upload-open"
	case cfg.Viewing != nil:
		return "viewing"
	case cfg.SyncTime != nil:
		return "sync-time"
	case cfg.Copy != nil:
		return "copy"
	default:
		return "sync"
	}
}

// NeedsSyncDir reports whether the selected command works on the sync
// directory.
func (cfg *Config) NeedsSyncDir() bool {
	switch cfg.Command() {
	case "sync", "history", "restore", "open", "copy":
		return true
	default:
		return false
	}
}

// NeedsDevice reports whether the selected command talks to the device.
func (cfg *Config) NeedsDevice() bool {
	switch cfg.Command() {
	case "history", "restore":
		return false
	default:
		return true
	}
}

// DeviceConfig returns the transport settings.
func (cfg *Config) DeviceConfig() device.Config {
	return device.Config{Host: cfg.Host, Port: cfg.Port}
}

// LoggingConfig returns the logger settings.
func (cfg *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: cfg.LogFile}
}

// ParseFlags parses command-line flags and returns configuration. It exits
// on --help, --version and usage errors.
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	parser := arg.MustParse(cfg)

	cfg, err := PostProcessConfig(cfg, os.ReadFile)
	if err != nil {
		parser.Fail(err.Error())
	}

	return cfg, nil
}

// Parse parses args (without the program name). It returns arg.ErrHelp
// and arg.ErrVersion unchanged.
func Parse(args []string, readFile func(string) ([]byte, error)) (*Config, error) {
	cfg := &Config{}

	parser, err := arg.NewParser(arg.Config{Program: "dpt-sync"}, cfg)
	if err != nil {
		return nil, err
	}

	if err := parser.Parse(args); err != nil {
		return nil, err
	}

	return PostProcessConfig(cfg, readFile)
}

// PostProcessConfig merges the configuration file into cfg, applies
// defaults and validates the result. Flags take precedence over the file,
// and the file over defaults.
func PostProcessConfig(cfg *Config, readFile func(string) ([]byte, error)) (*Config, error) {
	if cfg.Sync == nil && cfg.Command() == "sync" {
		cfg.Sync = &SyncCmd{}
	}

	if cfg.ConfigFile != "" {
		data, err := readFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}

		file, err := decodeFile(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", cfg.ConfigFile, err)
		}

		cfg.merge(file)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decodeFile(r io.Reader) (fileConfig, error) {
	var file fileConfig

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, err
	}

	return file, nil
}

func (cfg *Config) merge(file fileConfig) {
	cfg.SyncDir = firstNonEmpty(cfg.SyncDir, file.SyncDir)
	cfg.ClientIDPath = firstNonEmpty(cfg.ClientIDPath, file.ClientID)
	cfg.KeyPath = firstNonEmpty(cfg.KeyPath, file.Key)
	cfg.Host = firstNonEmpty(cfg.Host, file.Host)
	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, file.LogLevel)
	cfg.LogFormat = firstNonEmpty(cfg.LogFormat, file.LogFormat)
	cfg.LogFile = firstNonEmpty(cfg.LogFile, file.LogFile)
	cfg.MetricsFile = firstNonEmpty(cfg.MetricsFile, file.MetricsFile)

	if cfg.Port == 0 {
		cfg.Port = file.Port
	}
	if len(cfg.Include) == 0 {
		cfg.Include = file.Include
	}
	cfg.SkipTimeSync = cfg.SkipTimeSync || file.SkipTimeSync
}

func (cfg *Config) applyDefaults() {
	cfg.Host = firstNonEmpty(cfg.Host, device.DefaultHost)
	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, DefaultLogLevel)
	cfg.LogFormat = firstNonEmpty(cfg.LogFormat, logging.FormatConsole)

	if cfg.Port == 0 {
		cfg.Port = device.DefaultPort
	}
	if cfg.History != nil && cfg.History.Limit == 0 {
		cfg.History.Limit = DefaultHistoryLimit
	}
}

// Validate checks that the settings the selected command needs are present.
func (cfg *Config) Validate() error {
	if cfg.NeedsSyncDir() {
		if err := validateSyncDir(cfg.SyncDir); err != nil {
			return err
		}
	}

	if cfg.NeedsDevice() {
		if cfg.ClientIDPath == "" {
			return fmt.Errorf("client id file is required (--client-id)")
		}
		if cfg.KeyPath == "" {
			return fmt.Errorf("private key file is required (--key)")
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}

	for _, pattern := range cfg.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid include pattern: %s", pattern)
		}
	}

	if cfg.History != nil && cfg.History.Limit < 0 {
		return fmt.Errorf("history limit must not be negative: %d", cfg.History.Limit)
	}

	return nil
}

func validateSyncDir(path string) error {
	if path == "" {
		return fmt.Errorf("sync directory is required (--sync-dir)")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("sync directory does not exist: %s", path)
	}
	if err != nil {
		return fmt.Errorf("cannot access sync directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sync directory is not a directory: %s", path)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
