package syncengine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joe/dpt-sync/pkg/dtree"
)

// SnapshotLocal builds the tree of the sync directory. Hidden entries and
// files rejected by the filter are left out; directories are always kept.
// File revisions are MD5 digests of their content.
func (e *Engine) SnapshotLocal(ctx context.Context) (*dtree.Node, error) {
	info, err := e.fileOps.FS().Stat(e.syncDir)
	if err != nil {
		return nil, &NotADirectoryError{Path: e.syncDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &NotADirectoryError{Path: e.syncDir}
	}

	root := dtree.NewRoot("", filepath.Base(e.syncDir), e.syncDir)
	dirs := map[string]*dtree.Node{"": root}

	scanner := e.fileOps.FS().Scan(e.syncDir)
	for {
		fi, ok := scanner.Next()
		if !ok {
			break
		}

		if err := e.checkInterrupted(ctx); err != nil {
			return nil, err
		}

		parent, found := dirs[dtree.ParentRel(fi.RelativePath)]
		if !found {
			continue
		}

		node := &dtree.Node{
			Filename: dtree.BaseRel(fi.RelativePath),
			Path:     filepath.Join(e.syncDir, filepath.FromSlash(fi.RelativePath)),
			RelPath:  fi.RelativePath,
			IsDir:    fi.IsDir,
			Size:     fi.Size,
			ModTime:  fi.ModTime,
		}

		switch {
		case fi.IsDir:
			node.Rev = dtree.FolderRev
			dirs[fi.RelativePath] = node
		case fi.IsRegular && e.filter.ShouldInclude(fi.RelativePath):
			node.Rev, err = e.fileOps.MD5(node.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to hash %s: %w", fi.RelativePath, err)
			}
		default:
			continue
		}

		parent.AddChild(node)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", e.syncDir, err)
	}

	e.logger.Debug("local tree scanned",
		zap.String("root", e.syncDir),
		zap.Int("files", root.CountFiles()))

	return root, nil
}

// SnapshotRemote builds the device tree from one listing call. Parents
// missing from the listing are inserted as placeholders so every entry can
// be attached. The top-level container becomes the root, with RelPath "".
func (e *Engine) SnapshotRemote(ctx context.Context) (*dtree.Node, error) {
	entries, err := e.remote.ListEntries(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryPath < entries[j].EntryPath
	})

	root := dtree.NewRoot(dtree.RootID, dtree.RootName, dtree.RootName)
	nodes := map[string]*dtree.Node{"": root}

	var ensureDir func(relPath string) *dtree.Node
	ensureDir = func(relPath string) *dtree.Node {
		if node, ok := nodes[relPath]; ok {
			return node
		}

		node := &dtree.Node{
			Filename: dtree.BaseRel(relPath),
			Path:     dtree.JoinRel(dtree.RootName, relPath),
			RelPath:  relPath,
			IsDir:    true,
			Rev:      dtree.FolderRev,
		}
		nodes[relPath] = node
		ensureDir(dtree.ParentRel(relPath)).AddChild(node)

		return node
	}

	for _, entry := range entries {
		relPath, ok := remoteRelPath(entry.EntryPath)
		if !ok {
			e.logger.Warn("ignoring entry outside the document root", zap.String("path", entry.EntryPath))
			continue
		}

		if relPath == "" || hasHiddenElement(relPath) {
			continue
		}

		if entry.IsFolder() {
			dir := ensureDir(relPath)
			dir.ID = entry.EntryID
			dir.ModTime = entry.ModTime()
			continue
		}

		if !e.filter.ShouldInclude(relPath) {
			continue
		}

		node := &dtree.Node{
			ID:        entry.EntryID,
			Filename:  dtree.BaseRel(relPath),
			Path:      entry.EntryPath,
			RelPath:   relPath,
			IsNote:    entry.IsNote(),
			Resumable: !entry.IsNote(),
			Rev:       entry.FileRevision,
			Size:      int64(entry.FileSize),
			ModTime:   entry.ModTime(),
		}
		nodes[relPath] = node
		ensureDir(dtree.ParentRel(relPath)).AddChild(node)
	}

	e.logger.Debug("device tree listed",
		zap.Int("entries", len(entries)),
		zap.Int("files", root.CountFiles()))

	return root, nil
}

// remoteRelPath strips the document root from a device entry path.
func remoteRelPath(entryPath string) (string, bool) {
	if entryPath == dtree.RootName {
		return "", true
	}

	rel, found := strings.CutPrefix(entryPath, dtree.RootName+"/")

	return rel, found
}

