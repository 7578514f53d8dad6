// Package checkpoint keeps a versioned history of the sync directory in a
// git repository stored alongside the documents. Two lines of history are
// maintained: the "local" lineage holds the state of the directory around
// every sync, and the "remote" lineage captures device copies of documents
// before a sync overwrites or deletes them.
package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/joe/dpt-sync/pkg/filesystem"
)

// Exported constants.
const (
	// LineageLocal is the branch holding the sync directory's own history.
	LineageLocal = "local"
	// LineageRemote is the branch holding backups of device content.
	LineageRemote = "remote"
	// KeepFile is written into empty directories so they are versioned.
	KeepFile = ".gitkeep"
)

// Exported variables.
var (
	ErrLineageMissing = errors.New("lineage does not exist")
	ErrTagExists      = errors.New("tag already exists")
)

// Config configures Open.
type Config struct {
	// Dir is the sync directory. A repository is created there if missing.
	Dir    string
	Logger *zap.Logger
	// Name and Email sign checkpoint commits.
	Name  string
	Email string
	// Now defaults to time.Now.
	Now func() time.Time
	// FS walks the sync directory. Defaults to the real filesystem.
	FS filesystem.FileSystem
}

// Repo is the checkpoint store of one sync directory.
type Repo struct {
	dir      string
	repo     *git.Repository
	worktree *git.Worktree
	logger   *zap.Logger
	name     string
	email    string
	now      func() time.Time
	fs       filesystem.FileSystem
}

// Open opens the checkpoint repository in cfg.Dir, initializing it with an
// empty root commit on both lineages when it does not exist yet.
func Open(cfg Config) (*Repo, error) {
	r := &Repo{
		dir:    cfg.Dir,
		logger: cfg.Logger,
		name:   cfg.Name,
		email:  cfg.Email,
		now:    cfg.Now,
		fs:     cfg.FS,
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.name == "" {
		r.name = "dpt-sync"
	}
	if r.email == "" {
		r.email = "dpt-sync@localhost"
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.fs == nil {
		r.fs = filesystem.NewRealFileSystem()
	}

	repo, err := git.PlainOpen(cfg.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return r, r.initialize()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint repository in %s: %w", cfg.Dir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint worktree in %s: %w", cfg.Dir, err)
	}

	r.repo = repo
	r.worktree = worktree

	if err := r.ensureLineage(LineageRemote); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Repo) initialize() error {
	repo, err := git.PlainInitWithOptions(r.dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(LineageLocal),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint repository in %s: %w", r.dir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open checkpoint worktree in %s: %w", r.dir, err)
	}

	r.repo = repo
	r.worktree = worktree

	_, err = worktree.Commit("<initial checkpoint>", &git.CommitOptions{
		Author:            r.signature(),
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create initial checkpoint: %w", err)
	}

	r.logger.Info("checkpoint repository initialized", zap.String("dir", r.dir))

	return r.ensureLineage(LineageRemote)
}

// ensureLineage creates lineage at HEAD when it does not exist.
func (r *Repo) ensureLineage(lineage string) error {
	refName := plumbing.NewBranchReferenceName(lineage)
	if _, err := r.repo.Reference(refName, true); err == nil {
		return nil
	}

	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(refName, head.Hash())); err != nil {
		return fmt.Errorf("failed to create lineage %s: %w", lineage, err)
	}

	return nil
}

// Dir returns the sync directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Head returns the commit hash HEAD points at.
func (r *Repo) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	return head.Hash().String(), nil
}

// CurrentLineage returns the branch HEAD points at.
func (r *Repo) CurrentLineage() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s: %w", head.Hash(), ErrLineageMissing)
	}

	return head.Name().Short(), nil
}

// Checkout switches the working tree to lineage, discarding uncommitted
// changes to tracked files.
func (r *Repo) Checkout(lineage string) error {
	refName := plumbing.NewBranchReferenceName(lineage)
	if _, err := r.repo.Reference(refName, true); err != nil {
		return fmt.Errorf("checkout %s: %w", lineage, ErrLineageMissing)
	}

	err := r.worktree.Checkout(&git.CheckoutOptions{Branch: refName, Force: true})
	if err != nil {
		return fmt.Errorf("failed to checkout %s: %w", lineage, err)
	}

	r.logger.Debug("checked out lineage", zap.String("lineage", lineage))

	return nil
}

// Attach points HEAD at lineage without touching the working tree. The
// index is reset to the lineage tip, so everything the working tree holds
// shows up as a change to be committed there.
func (r *Repo) Attach(lineage string) error {
	refName := plumbing.NewBranchReferenceName(lineage)

	ref, err := r.repo.Reference(refName, true)
	if err != nil {
		return fmt.Errorf("attach %s: %w", lineage, ErrLineageMissing)
	}

	if err := r.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName)); err != nil {
		return fmt.Errorf("failed to attach HEAD to %s: %w", lineage, err)
	}

	if err := r.worktree.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.MixedReset}); err != nil {
		return fmt.Errorf("failed to reset index to %s: %w", lineage, err)
	}

	r.logger.Warn("HEAD attached to lineage", zap.String("lineage", lineage), zap.String("commit", ref.Hash().String()))

	return nil
}

// CommitAll stages every change in the working tree, including deletions,
// and commits it. Empty directories receive a KeepFile first. When nothing
// changed the current HEAD is returned and no commit is made.
func (r *Repo) CommitAll(message string) (string, error) {
	if err := r.addKeepFiles(); err != nil {
		return "", err
	}

	changed, err := r.stageAll()
	if err != nil {
		return "", err
	}

	if len(changed) == 0 {
		return r.Head()
	}

	body := message + "\n\n" + strings.Join(changed, "\n") + "\n"

	hash, err := r.worktree.Commit(body, &git.CommitOptions{Author: r.signature()})
	if err != nil {
		return "", fmt.Errorf("failed to commit %q: %w", message, err)
	}

	r.logger.Info("checkpoint committed",
		zap.String("message", message),
		zap.String("commit", hash.String()),
		zap.Int("changes", len(changed)))

	return hash.String(), nil
}

// HasPendingChanges reports whether the working tree differs from HEAD.
func (r *Repo) HasPendingChanges() (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}

	return !status.IsClean(), nil
}

// Tag creates a lightweight tag at HEAD.
func (r *Repo) Tag(name string) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if _, err := r.repo.CreateTag(name, head.Hash(), nil); err != nil {
		if errors.Is(err, git.ErrTagExists) {
			return fmt.Errorf("tag %s: %w", name, ErrTagExists)
		}
		return fmt.Errorf("failed to tag %s: %w", name, err)
	}

	r.logger.Info("checkpoint tagged", zap.String("tag", name), zap.String("commit", head.Hash().String()))

	return nil
}

// HardReset restores the working tree to HEAD and removes files HEAD does
// not track.
func (r *Repo) HardReset() error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if err := r.resetTo(head.Hash()); err != nil {
		return err
	}

	r.logger.Warn("working tree reset", zap.String("commit", head.Hash().String()))

	return nil
}

// MergeFrom brings the tree of lineage into the current lineage. The
// result takes lineage's tree as is; the previous tip of the current
// lineage is kept as a second parent so its history remains reachable.
func (r *Repo) MergeFrom(lineage string) error {
	source, err := r.repo.Reference(plumbing.NewBranchReferenceName(lineage), true)
	if err != nil {
		return fmt.Errorf("merge %s: %w", lineage, ErrLineageMissing)
	}

	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	if head.Hash() == source.Hash() {
		return nil
	}

	if err := r.resetTo(source.Hash()); err != nil {
		return err
	}

	current, _ := r.CurrentLineage()

	_, err = r.worktree.Commit(fmt.Sprintf("<merge %s into %s>", lineage, current), &git.CommitOptions{
		Author:            r.signature(),
		Parents:           []plumbing.Hash{source.Hash(), head.Hash()},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("failed to merge %s: %w", lineage, err)
	}

	return nil
}

func (r *Repo) resetTo(hash plumbing.Hash) error {
	if err := r.worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", hash, err)
	}

	if err := r.worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to remove untracked files: %w", err)
	}

	return nil
}

// stageAll stages additions, modifications and deletions and returns the
// changed paths prefixed with their status code.
func (r *Repo) stageAll() ([]string, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	var changed []string

	for path, fileStatus := range status {
		if fileStatus.Worktree == git.Unmodified && fileStatus.Staging == git.Unmodified {
			continue
		}

		if fileStatus.Worktree == git.Deleted {
			if _, err := r.worktree.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to stage removal of %s: %w", path, err)
			}
		} else if _, err := r.worktree.Add(path); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", path, err)
		}

		code := fileStatus.Worktree
		if code == git.Unmodified {
			code = fileStatus.Staging
		}
		changed = append(changed, fmt.Sprintf("%c %s", code, path))
	}

	sort.Strings(changed)

	return changed, nil
}

// addKeepFiles writes a KeepFile into every empty directory the scanner
// reaches. Hidden directories, the repository's own included, are skipped.
func (r *Repo) addKeepFiles() error {
	scanner := r.fs.Scan(r.dir)

	for info, ok := scanner.Next(); ok; info, ok = scanner.Next() {
		if !info.IsDir {
			continue
		}

		dir := filepath.Join(r.dir, filepath.FromSlash(info.RelativePath))

		entries, err := r.fs.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}

		if len(entries) == 0 {
			if err := r.writeKeepFile(dir); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", r.dir, err)
	}

	return nil
}

func (r *Repo) writeKeepFile(dir string) error {
	file, err := r.fs.Create(filepath.Join(dir, KeepFile))
	if err != nil {
		return err
	}

	_, writeErr := file.Write([]byte("1\n"))
	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", KeepFile, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", KeepFile, closeErr)
	}

	return nil
}

func (r *Repo) signature() *object.Signature {
	return &object.Signature{Name: r.name, Email: r.email, When: r.now()}
}
