// Package syncengine reconciles a local directory of documents with the
// document store of an e-reader. A sync snapshots both trees, classifies
// every difference against the revision records of the last successful
// sync, applies the resulting actions and records the new agreement. Every
// mutating sync is bracketed by checkpoints so a failure rolls the local
// directory back.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joe/dpt-sync/pkg/checkpoint"
	"github.com/joe/dpt-sync/pkg/device"
	"github.com/joe/dpt-sync/pkg/dtree"
	"github.com/joe/dpt-sync/pkg/fileops"
	"github.com/joe/dpt-sync/pkg/revdb"
)

// Status lines reported through Message events.
const (
	MsgCreatingBackup = "Creating Backup..."
	MsgComputing      = "Computing Differences..."
	MsgSyncing        = "Syncing..."
	MsgSyncingTime    = "Syncing Device Time..."
	MsgUpToDate       = "All Up-to-Date"
	MsgFailed         = "Sync Failed"
)

// Checkpoint commit messages.
const (
	CommitPreSync  = "<pre-sync checkpoint>"
	CommitBackup   = "<post-dpt-backup checkpoint>"
	CommitPostSync = "<post-sync checkpoint>"

	// BackupTagPrefix starts the tag of every device backup.
	BackupTagPrefix = "backup-"
	backupTagLayout = "20060102-150405"
	maxTagAttempts  = 100
)

// Exported variables.
var (
	ErrNoCheckpoints      = errors.New("no checkpoint store configured")
	ErrRollbackIncomplete = errors.New("working tree still differs from the pre-sync checkpoint")
)

// Remote is the device API driven by the engine. *device.Client
// implements it.
type Remote interface {
	ListEntries(ctx context.Context) ([]device.Entry, error)
	Document(ctx context.Context, id string) (device.Entry, error)
	ReadRange(ctx context.Context, id string, offset, length int64) ([]byte, error)
	WriteChunk(ctx context.Context, id, filename string, chunk []byte, offset, total int64) error
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	CreateDocument(ctx context.Context, parentID, name string) (string, error)
	DeleteFolder(ctx context.Context, id string) error
	DeleteDocument(ctx context.Context, id string) error
	MoveFolder(ctx context.Context, id, parentID, name string) error
	MoveDocument(ctx context.Context, id, parentID, name string) error
	CopyDocument(ctx context.Context, id, parentID, name string) (string, error)
	SetTime(ctx context.Context, now time.Time) error
	OpenDocument(ctx context.Context, id string) error
	CurrentViewing(ctx context.Context) ([]string, error)
}

// Checkpointer versions the sync directory. *checkpoint.Repo implements it.
type Checkpointer interface {
	CurrentLineage() (string, error)
	Attach(lineage string) error
	RestoreFile(rel string) error
	Checkout(lineage string) error
	CommitAll(message string) (string, error)
	Tag(name string) error
	HasPendingChanges() (bool, error)
	HardReset() error
	MergeFrom(lineage string) error
}

// StoreOpener opens the revision store. The store is opened for one phase
// at a time and closed before lineages are switched, since a checkout
// replaces the database file.
type StoreOpener func(ctx context.Context) (RevisionStore, error)

// Config configures an Engine.
type Config struct {
	// SyncDir is the local directory to sync.
	SyncDir string
	Remote  Remote
	// Checkpoints is required by SafeSync.
	Checkpoints Checkpointer
	// OpenStore defaults to a revdb store in SyncDir.
	OpenStore StoreOpener
	FileOps   *fileops.FileOps
	// Filter defaults to DefaultPattern.
	Filter       FileFilter
	Logger       *zap.Logger
	Metrics      *Metrics
	TimeProvider TimeProvider
	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int64
	// SkipTimeSync leaves the device clock alone.
	SkipTimeSync bool
	// Report receives the textual action report. Nil discards it.
	Report io.Writer
}

// Engine runs syncs between one directory and one device.
type Engine struct {
	syncDir      string
	remote       Remote
	checkpoints  Checkpointer
	openStore    StoreOpener
	fileOps      *fileops.FileOps
	filter       FileFilter
	logger       *zap.Logger
	metrics      *Metrics
	timeProvider TimeProvider
	chunkSize    int64
	skipTimeSync bool
	report       io.Writer

	emitter    EventEmitter
	cancelChan chan struct{} // Channel to signal cancellation
	cancelOnce sync.Once     // Ensure Cancel() is only called once
}

// NewEngine creates a new sync engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.SyncDir == "" {
		return nil, &NotADirectoryError{Path: cfg.SyncDir}
	}
	if cfg.Remote == nil {
		return nil, errors.New("no device configured")
	}

	syncDir, err := filepath.Abs(cfg.SyncDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.SyncDir, err)
	}

	engine := &Engine{
		syncDir:      syncDir,
		remote:       cfg.Remote,
		checkpoints:  cfg.Checkpoints,
		openStore:    cfg.OpenStore,
		fileOps:      cfg.FileOps,
		filter:       cfg.Filter,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		timeProvider: cfg.TimeProvider,
		chunkSize:    cfg.ChunkSize,
		skipTimeSync: cfg.SkipTimeSync,
		report:       cfg.Report,
		cancelChan:   make(chan struct{}),
	}

	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}
	if engine.fileOps == nil {
		engine.fileOps = fileops.NewRealFileOps()
	}
	if engine.filter == nil {
		engine.filter, err = NewGlobFilter()
		if err != nil {
			return nil, err
		}
	}
	if engine.metrics == nil {
		engine.metrics = NewMetrics()
	}
	if engine.timeProvider == nil {
		engine.timeProvider = &RealTimeProvider{}
	}
	if engine.chunkSize <= 0 {
		engine.chunkSize = DefaultChunkSize
	}
	if engine.openStore == nil {
		engine.openStore = engine.openRevisionDB
	}

	return engine, nil
}

// SyncDir returns the absolute sync directory.
func (e *Engine) SyncDir() string {
	return e.syncDir
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// SetEventEmitter sets the event emitter for TUI communication.
// The emitter is optional - if nil, no events will be emitted.
func (e *Engine) SetEventEmitter(emitter EventEmitter) {
	e.emitter = emitter
}

// GetEventEmitter returns the current event emitter.
func (e *Engine) GetEventEmitter() EventEmitter {
	return e.emitter
}

// emit sends an event if an emitter is configured.
func (e *Engine) emit(event Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

// Cancel stops a running sync at the next chunk boundary. The sync then
// rolls back and returns ErrSyncInterrupted.
func (e *Engine) Cancel() {
	e.cancelOnce.Do(func() {
		close(e.cancelChan)
	})
}

func (e *Engine) checkInterrupted(ctx context.Context) error {
	select {
	case <-e.cancelChan:
		return ErrSyncInterrupted
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSyncInterrupted, ctx.Err())
	default:
		return nil
	}
}

// asInterrupted marks err as an interruption when the sync was cancelled
// while err was produced, such as a request aborted by the context.
func (e *Engine) asInterrupted(ctx context.Context, err error) error {
	if errors.Is(err, ErrSyncInterrupted) {
		return err
	}

	if e.checkInterrupted(ctx) != nil {
		return fmt.Errorf("%w: %w", ErrSyncInterrupted, err)
	}

	return err
}

func (e *Engine) message(text string) {
	e.logger.Info(text)
	e.emit(Message{Text: text})
}

func (e *Engine) openRevisionDB(ctx context.Context) (RevisionStore, error) {
	store, err := revdb.Open(ctx, revdb.Config{
		Path:   filepath.Join(e.syncDir, revdb.FileName),
		Logger: e.logger,
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}

// SafeSync runs one complete sync. The directory is checkpointed first;
// differences are computed and reported; unless dryRun is set or nothing
// differs, device copies about to be replaced are backed up, the actions
// are applied and the revision records rebuilt. Any failure after the
// first mutation restores the pre-sync checkpoint before returning.
func (e *Engine) SafeSync(ctx context.Context, dryRun bool) (*Result, error) {
	start := e.timeProvider.Now()
	outcome := RunResultFailed

	defer func() {
		e.metrics.ObserveRun(outcome, e.timeProvider.Now().Sub(start))
	}()

	if e.checkpoints == nil {
		return nil, ErrNoCheckpoints
	}

	e.message(MsgCreatingBackup)

	if err := e.attachLocal(); err != nil {
		return nil, fmt.Errorf("failed to prepare pre-sync checkpoint: %w", err)
	}

	if _, err := e.checkpoints.CommitAll(CommitPreSync); err != nil {
		return nil, fmt.Errorf("failed to create pre-sync checkpoint: %w", err)
	}

	e.message(MsgComputing)

	plan, snap, err := e.computeDifferences(ctx)
	if err != nil {
		err = e.asInterrupted(ctx, err)
		if errors.Is(err, ErrSyncInterrupted) {
			outcome = RunResultInterrupted
		}
		e.message(MsgFailed)
		e.emit(ErrorOccurred{Phase: "compute", Err: err})

		return nil, err
	}

	result := &Result{Plan: plan}
	e.emit(PlanReady{Plan: plan})

	if plan.Empty() {
		result.UpToDate = true
		outcome = RunResultUpToDate
		e.message(MsgUpToDate)
		e.emit(SyncComplete{Result: result})

		return result, nil
	}

	if dryRun {
		result.DryRun = true
		outcome = RunResultDryRun
		e.logger.Info("dry run: no action applied", zap.Int("actions", plan.Count()))
		e.emit(SyncComplete{Result: result})

		return result, nil
	}

	if err := e.applyPlan(ctx, plan, snap, result); err != nil {
		err = e.asInterrupted(ctx, err)
		if errors.Is(err, ErrSyncInterrupted) {
			outcome = RunResultInterrupted
		}

		e.logger.Error("sync failed, changes will be reverted", zap.Error(err))
		e.message(MsgFailed)

		rollbackErr := e.rollback()
		e.emit(ErrorOccurred{Phase: "sync", Err: err, RolledBack: rollbackErr == nil})

		if rollbackErr != nil {
			return nil, errors.Join(err, rollbackErr)
		}

		return nil, err
	}

	commit, err := e.checkpoints.CommitAll(CommitPostSync)
	if err != nil {
		return nil, fmt.Errorf("failed to create post-sync checkpoint: %w", err)
	}

	result.Commit = commit
	outcome = RunResultSynced
	e.emit(SyncComplete{Result: result})

	return result, nil
}

// attachLocal makes sure the pre-sync checkpoint lands on the local
// lineage. A run killed during its backup leaves HEAD on the remote
// lineage. An untouched working tree is simply switched back; otherwise
// the files are kept as they are and only the revision database, which
// the checkout replaced, is restored from the local tip.
func (e *Engine) attachLocal() error {
	lineage, err := e.checkpoints.CurrentLineage()
	if err != nil && !errors.Is(err, checkpoint.ErrLineageMissing) {
		return err
	}

	if err == nil && lineage == checkpoint.LineageLocal {
		return nil
	}

	pending, err := e.checkpoints.HasPendingChanges()
	if err != nil {
		return err
	}

	e.logger.Warn("checkpoints were left off the local lineage, reattaching",
		zap.String("lineage", lineage),
		zap.Bool("keep_working_tree", pending))

	if !pending {
		return e.checkpoints.Checkout(checkpoint.LineageLocal)
	}

	if err := e.checkpoints.Attach(checkpoint.LineageLocal); err != nil {
		return err
	}

	return e.checkpoints.RestoreFile(revdb.FileName)
}

type snapshot struct {
	local  *dtree.Node
	remote *dtree.Node
}

// computeDifferences snapshots both trees and classifies their
// differences. It does not modify anything.
func (e *Engine) computeDifferences(ctx context.Context) (*Plan, snapshot, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, snapshot{}, err
	}

	defer func() {
		_ = store.Close()
	}()

	local, err := e.SnapshotLocal(ctx)
	if err != nil {
		return nil, snapshot{}, err
	}

	remote, err := e.SnapshotRemote(ctx)
	if err != nil {
		return nil, snapshot{}, err
	}

	plan, err := ComputePlan(ctx, local, remote, store)
	if err != nil {
		return nil, snapshot{}, err
	}

	if err := store.Close(); err != nil {
		return nil, snapshot{}, err
	}

	fields := make([]zap.Field, 0, len(ActionKinds))
	for _, kind := range ActionKinds {
		fields = append(fields, zap.Int(kind.String(), plan.CountOf(kind)))
	}
	e.logger.Info("differences computed", fields...)

	if e.report != nil {
		if err := plan.Report(e.report); err != nil {
			e.logger.Warn("failed to write action report", zap.Error(err))
		}
	}

	return plan, snapshot{local: local, remote: remote}, nil
}

// applyPlan backs up device copies, applies every action, and rebuilds
// the revision records from fresh snapshots of both trees.
func (e *Engine) applyPlan(ctx context.Context, plan *Plan, snap snapshot, result *Result) error {
	pass := e.newTransferPass(snap.remote, result)
	pass.resume = plan.Resume

	tag, err := e.backup(ctx, plan, pass, snap.local)
	if err != nil {
		return err
	}
	result.BackupTag = tag

	e.message(MsgSyncing)

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = store.Close()
	}()

	if !e.skipTimeSync {
		e.message(MsgSyncingTime)

		if err := e.remote.SetTime(ctx, e.timeProvider.Now().UTC()); err != nil {
			return err
		}
	}

	if err := e.execute(ctx, plan, pass); err != nil {
		return err
	}

	local, err := e.SnapshotLocal(ctx)
	if err != nil {
		return err
	}

	remote, err := e.SnapshotRemote(ctx)
	if err != nil {
		return err
	}

	if err := RebuildRecords(ctx, store, local, remote); err != nil {
		return err
	}

	if err := store.Close(); err != nil {
		return err
	}

	e.message(MsgUpToDate)

	return nil
}

// backup commits the device copies of every document the sync will
// delete from or overwrite on the device to the remote lineage, tags that
// commit, and returns to the local lineage.
func (e *Engine) backup(ctx context.Context, plan *Plan, pass *transferPass, localTree *dtree.Node) (string, error) {
	e.message(MsgCreatingBackup)

	if err := e.checkpoints.Checkout(checkpoint.LineageRemote); err != nil {
		return "", err
	}

	if err := e.checkpoints.MergeFrom(checkpoint.LineageLocal); err != nil {
		return "", err
	}

	for _, node := range plan.DeleteRemote {
		if err := pass.downloadTree(ctx, node, node.RelPath); err != nil {
			return "", err
		}
	}

	for _, local := range plan.OverwriteRemote {
		if remote, ok := pass.remote[local.RelPath]; ok && !remote.IsDir {
			if err := pass.downloadFile(ctx, remote, local.RelPath); err != nil {
				return "", err
			}
		}
	}

	if _, err := e.checkpoints.CommitAll(CommitBackup); err != nil {
		return "", err
	}

	tag, err := e.tagBackup()
	if err != nil {
		return "", err
	}

	if err := e.checkpoints.Checkout(checkpoint.LineageLocal); err != nil {
		return "", err
	}

	// Backups of device-only documents must not linger as local files.
	if err := e.checkpoints.HardReset(); err != nil {
		return "", err
	}

	e.restoreModTimes(localTree)

	return tag, nil
}

func (e *Engine) tagBackup() (string, error) {
	base := BackupTagPrefix + e.timeProvider.Now().Format(backupTagLayout)
	name := base

	for attempt := 1; attempt < maxTagAttempts; attempt++ {
		err := e.checkpoints.Tag(name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, checkpoint.ErrTagExists) {
			return "", err
		}

		name = fmt.Sprintf("%s-%d", base, attempt)
	}

	return "", fmt.Errorf("%w: %s", checkpoint.ErrTagExists, base)
}

// restoreModTimes puts back the modification times a lineage switch
// rewrote. Conflict resolution compares them with the device.
func (e *Engine) restoreModTimes(localTree *dtree.Node) {
	_ = localTree.Walk(func(n *dtree.Node) error {
		if n.IsDir || n.ModTime.IsZero() {
			return nil
		}

		if err := e.fileOps.FS().Chtimes(n.Path, n.ModTime, n.ModTime); err != nil {
			e.logger.Debug("could not restore modification time", zap.String("path", n.RelPath), zap.Error(err))
		}

		return nil
	})
}

type step struct {
	kind    ActionKind
	relPath string
	name    string
	run     func() error
}

// execute applies the plan's actions in ActionKinds order.
func (e *Engine) execute(ctx context.Context, plan *Plan, pass *transferPass) error {
	var steps []step

	add := func(kind ActionKind, node *dtree.Node, run func() error) {
		steps = append(steps, step{kind: kind, relPath: node.RelPath, name: node.Filename, run: run})
	}

	for _, n := range plan.DeleteRemote {
		add(DeleteRemote, n, func() error { return pass.deleteRemote(ctx, n.RelPath) })
	}
	for _, n := range plan.DeleteLocal {
		add(DeleteLocal, n, func() error { return pass.deleteLocal(n.RelPath) })
	}
	for _, n := range plan.NewLocal {
		add(NewLocal, n, func() error { return pass.downloadTree(ctx, n, n.RelPath) })
	}
	for _, n := range plan.NewRemote {
		add(NewRemote, n, func() error { return pass.uploadTree(ctx, n, n.RelPath) })
	}
	for _, n := range plan.OverwriteRemote {
		add(OverwriteRemote, n, func() error { return pass.overwriteRemote(ctx, n) })
	}
	for _, n := range plan.OverwriteLocal {
		add(OverwriteLocal, n, func() error { return pass.downloadTree(ctx, n, n.RelPath) })
	}
	for _, m := range plan.MoveLocal {
		add(MoveLocal, m.Local, func() error { return pass.moveLocal(m.Local.RelPath, m.Remote.RelPath) })
	}
	for _, m := range plan.MoveRemote {
		add(MoveRemote, m.Remote, func() error { return pass.moveRemote(ctx, m.Remote.RelPath, m.Local.RelPath) })
	}

	for i, s := range steps {
		if err := e.checkInterrupted(ctx); err != nil {
			return err
		}

		e.message("Syncing " + s.name + "...")
		e.emit(ActionStarted{Kind: s.kind, RelPath: s.relPath, Index: i + 1, Total: len(steps)})

		if err := s.run(); err != nil {
			return fmt.Errorf("failed to apply %s to %s: %w", s.kind, s.relPath, err)
		}

		pass.result.ActionsApplied++
		e.metrics.Actions.WithLabelValues(s.kind.String()).Inc()
	}

	return nil
}

// rollback restores the local lineage at the pre-sync checkpoint. Every
// step is attempted even when an earlier one fails.
func (e *Engine) rollback() error {
	var errs []error

	if err := e.checkpoints.Checkout(checkpoint.LineageLocal); err != nil {
		errs = append(errs, err)
	}

	if err := e.checkpoints.HardReset(); err != nil {
		errs = append(errs, err)
	}

	if pending, err := e.checkpoints.HasPendingChanges(); err != nil {
		errs = append(errs, err)
	} else if pending {
		errs = append(errs, ErrRollbackIncomplete)
	}

	if len(errs) > 0 {
		err := fmt.Errorf("rollback failed: %w", errors.Join(errs...))
		e.logger.Error("rollback failed", zap.Error(err))

		return err
	}

	e.logger.Warn("local directory restored to the pre-sync checkpoint")

	return nil
}

// SyncTime sets the device clock to the current UTC time.
func (e *Engine) SyncTime(ctx context.Context) error {
	e.message(MsgSyncingTime)

	return e.remote.SetTime(ctx, e.timeProvider.Now().UTC())
}

// CopyRemote duplicates a device document or folder at toRel on the device.
func (e *Engine) CopyRemote(ctx context.Context, fromRel, toRel string) error {
	remote, err := e.SnapshotRemote(ctx)
	if err != nil {
		return err
	}

	pass := e.newTransferPass(remote, &Result{})

	source, ok := pass.remote[fromRel]
	if !ok || fromRel == "" {
		return fmt.Errorf("%w: %s", ErrMissingEntry, fromRel)
	}

	if _, exists := pass.remote[toRel]; exists {
		return fmt.Errorf("%s already exists on the device", toRel)
	}

	return pass.copyRemote(ctx, source, toRel)
}

// OpenDocument shows the document at relPath on the device.
func (e *Engine) OpenDocument(ctx context.Context, relPath string) error {
	remote, err := e.SnapshotRemote(ctx)
	if err != nil {
		return err
	}

	node, ok := remote.Index()[relPath]
	if !ok || node.IsDir {
		return fmt.Errorf("%w: %s", ErrMissingEntry, relPath)
	}

	return e.remote.OpenDocument(ctx, node.ID)
}

// UploadAndOpen uploads a local file to the top of the device's document
// store, replacing a document of the same name, and opens it.
func (e *Engine) UploadAndOpen(ctx context.Context, localPath string) (*Result, error) {
	remote, err := e.SnapshotRemote(ctx)
	if err != nil {
		return nil, err
	}

	info, err := e.fileOps.FS().Stat(localPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	name := filepath.Base(localPath)
	result := &Result{}
	pass := e.newTransferPass(remote, result)

	if existing, ok := pass.remote[name]; ok && existing.IsDir {
		return nil, fmt.Errorf("a folder named %s already exists on the device", name)
	}

	if err := pass.deleteRemote(ctx, name); err != nil {
		return nil, err
	}

	id, err := e.remote.CreateDocument(ctx, dtree.RootID, name)
	if err != nil {
		return nil, err
	}

	if err := pass.uploadFile(ctx, id, localPath, name); err != nil {
		return nil, err
	}

	if err := e.remote.OpenDocument(ctx, id); err != nil {
		return nil, err
	}

	return result, nil
}

// Viewing returns the relative paths of the documents open on the device.
func (e *Engine) Viewing(ctx context.Context) ([]string, error) {
	paths, err := e.remote.CurrentViewing(ctx)
	if err != nil {
		return nil, err
	}

	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		rel = append(rel, strings.TrimPrefix(p, dtree.RootName+"/"))
	}

	return rel, nil
}
