// Package main is the entry point for the dpt-sync application.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/dpt-sync/internal/config"
	"github.com/joe/dpt-sync/internal/logging"
	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui"
	"github.com/joe/dpt-sync/pkg/checkpoint"
	"github.com/joe/dpt-sync/pkg/device"
	"github.com/joe/dpt-sync/pkg/errors"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Log lines written to the terminal would tear the TUI.
	if cfg.Command() == "sync" && cfg.LogFile == "" && useTUI(cfg.Sync.UI, os.Stdout) {
		logger = logging.Nop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, logger, os.Stdout)

	stop()
	_ = logger.Sync()

	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	switch cfg.Command() {
	case "history":
		return runHistory(cfg, logger, out)
	case "restore":
		return runRestore(cfg, logger, out)
	}

	engine, err := newEngine(ctx, cfg, logger, out)
	if err != nil {
		return err
	}

	err = dispatch(ctx, cfg, engine, out)

	if cfg.MetricsFile != "" {
		if metricsErr := engine.Metrics().WriteToTextfile(cfg.MetricsFile); metricsErr != nil {
			logger.Warn("metrics not written", zap.Error(metricsErr))
		}
	}

	return err
}

func dispatch(ctx context.Context, cfg *config.Config, engine *syncengine.Engine, out io.Writer) error {
	switch cfg.Command() {
	case "open":
		return engine.OpenDocument(ctx, filepath.ToSlash(cfg.Open.Path))
	case "upload-open":
		result, err := engine.UploadAndOpen(ctx, cfg.UploadOpen.File)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Opened %s (%d bytes uploaded)\n", filepath.Base(cfg.UploadOpen.File), result.BytesUploaded)

		return nil
	case "viewing":
		paths, err := engine.Viewing(ctx)
		if err != nil {
			return err
		}

		for _, p := range paths {
			fmt.Fprintln(out, p)
		}

		return nil
	case "sync-time":
		return engine.SyncTime(ctx)
	case "copy":
		return engine.CopyRemote(ctx, filepath.ToSlash(cfg.Copy.From), filepath.ToSlash(cfg.Copy.To))
	default:
		return runSync(ctx, cfg, engine, out)
	}
}

func runSync(ctx context.Context, cfg *config.Config, engine *syncengine.Engine, out io.Writer) error {
	if useTUI(cfg.Sync.UI, out) {
		_, err := tui.Run(ctx, engine, cfg.Sync.DryRun, os.Stdin, out)
		return err
	}

	engine.SetEventEmitter(tui.NewPlainEmitter(out))

	_, err := engine.SafeSync(ctx, cfg.Sync.DryRun)

	return err
}

func useTUI(mode config.UIMode, out io.Writer) bool {
	switch mode {
	case config.UITUI:
		return true
	case config.UIPlain:
		return false
	default:
		file, ok := out.(*os.File)
		return ok && term.IsTerminal(int(file.Fd()))
	}
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (*syncengine.Engine, error) {
	creds, err := device.LoadCredentials(cfg.ClientIDPath, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	deviceCfg := cfg.DeviceConfig()
	deviceCfg.Logger = logger.Named("device")
	client := device.NewClient(deviceCfg)

	if err := client.Authenticate(ctx, creds); err != nil {
		return nil, err
	}

	filter, err := syncengine.NewGlobFilter(cfg.Include...)
	if err != nil {
		return nil, err
	}

	engineCfg := syncengine.Config{
		SyncDir:      cfg.SyncDir,
		Remote:       client,
		Filter:       filter,
		Logger:       logger.Named("sync"),
		SkipTimeSync: cfg.SkipTimeSync,
	}

	if cfg.Command() == "sync" {
		repo, err := checkpoint.Open(checkpoint.Config{Dir: cfg.SyncDir, Logger: logger.Named("checkpoint")})
		if err != nil {
			return nil, err
		}

		engineCfg.Checkpoints = repo

		// The interactive display renders its own summary.
		if !useTUI(cfg.Sync.UI, out) {
			engineCfg.Report = out
		}
	}

	if engineCfg.SyncDir == "" {
		// upload-open, viewing and sync-time never touch the sync directory.
		engineCfg.SyncDir = "."
	}

	return syncengine.NewEngine(engineCfg)
}

func runHistory(cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	repo, err := checkpoint.Open(checkpoint.Config{Dir: cfg.SyncDir, Logger: logger.Named("checkpoint")})
	if err != nil {
		return err
	}

	commits, err := repo.History(cfg.History.Limit)
	if err != nil {
		return err
	}

	const shortHash = 8

	for _, commit := range commits {
		line := fmt.Sprintf("%s  %s  %s", commit.Hash[:min(shortHash, len(commit.Hash))],
			commit.When.Local().Format("2006-01-02 15:04:05"), commit.Subject)
		if len(commit.Tags) > 0 {
			line += "  (" + strings.Join(commit.Tags, ", ") + ")"
		}

		fmt.Fprintln(out, line)
	}

	return nil
}

func runRestore(cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	repo, err := checkpoint.Open(checkpoint.Config{Dir: cfg.SyncDir, Logger: logger.Named("checkpoint")})
	if err != nil {
		return err
	}

	written, err := repo.Extract(cfg.Restore.Commit, cfg.Restore.Dest)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Restored %d file(s) from %s into %s\n", written, cfg.Restore.Commit, cfg.Restore.Dest)

	return nil
}

func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	if suggestions := errors.FormatSuggestions(errors.NewEnricher().Enrich(err, "")); suggestions != "" {
		fmt.Fprintf(w, "\nTry these solutions:\n%s\n", suggestions)
	}
}
