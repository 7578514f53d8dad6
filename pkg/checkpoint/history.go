package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"
)

// Commit summarizes one checkpoint.
type Commit struct {
	Hash    string
	Subject string
	When    time.Time
	Tags    []string
}

// History returns up to limit checkpoints across both lineages, newest
// first. A limit of zero or less returns every checkpoint.
func (r *Repo) History(limit int) ([]Commit, error) {
	tags, err := r.tagsByCommit()
	if err != nil {
		return nil, err
	}

	iter, err := r.repo.Log(&git.LogOptions{All: true, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint history: %w", err)
	}
	defer iter.Close()

	var commits []Commit

	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}

		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Subject: subject,
			When:    c.Author.When,
			Tags:    tags[c.Hash],
		})

		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("failed to read checkpoint history: %w", err)
	}

	return commits, nil
}

// Extract writes the documents recorded in a checkpoint into dest. rev may
// be a commit hash, a tag or a lineage name. Hidden files are skipped.
func (r *Repo) Extract(rev, dest string) (int, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve checkpoint %q: %w", rev, err)
	}

	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", hash, err)
	}

	files, err := commit.Files()
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoint %s: %w", hash, err)
	}

	written := 0

	err = files.ForEach(func(f *object.File) error {
		if hasHiddenElement(f.Name) {
			return nil
		}

		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}

		if err := writeBlob(f, target); err != nil {
			return err
		}

		written++

		return nil
	})
	if err != nil {
		return written, err
	}

	r.logger.Info("checkpoint extracted",
		zap.String("commit", hash.String()),
		zap.String("dest", dest),
		zap.Int("files", written))

	return written, nil
}

func (r *Repo) tagsByCommit() (map[plumbing.Hash][]string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	tags := make(map[plumbing.Hash][]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags[ref.Hash()] = append(tags[ref.Hash()], ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	return tags, nil
}

func writeBlob(f *object.File, target string) error {
	reader, err := f.Reader()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer reader.Close()

	out, err := os.Create(target) // #nosec G304 - target is below the chosen destination
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(out, reader); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", target, err)
	}

	return nil
}

func hasHiddenElement(slashPath string) bool {
	for _, element := range strings.Split(slashPath, "/") {
		if strings.HasPrefix(element, ".") {
			return true
		}
	}

	return false
}

// RestoreFile rewrites one working tree file from HEAD, or removes it when
// HEAD does not track it.
func (r *Repo) RestoreFile(rel string) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("failed to load checkpoint %s: %w", head.Hash(), err)
	}

	target := filepath.Join(r.dir, filepath.FromSlash(rel))

	f, err := commit.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", target, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s from %s: %w", rel, head.Hash(), err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	if err := writeBlob(f, target); err != nil {
		return err
	}

	r.logger.Debug("file restored", zap.String("path", rel), zap.String("commit", head.Hash().String()))

	return nil
}
