package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/joe/dpt-sync/pkg/device"
	"github.com/joe/dpt-sync/pkg/dtree"
	"github.com/joe/dpt-sync/pkg/fileops"
	"github.com/joe/dpt-sync/pkg/filesystem"
)

// DefaultChunkSize is the size of one ranged read or chunked write.
const DefaultChunkSize = 128 * 1024

// transferPass applies actions against one device snapshot. The device
// index maps relative paths to device nodes and is updated as folders and
// documents are created, moved and deleted, so later actions see the ids
// assigned by earlier ones.
type transferPass struct {
	e      *Engine
	remote map[string]*dtree.Node
	result *Result
	// resume lists the target paths whose local copy may be resumed.
	resume map[string]bool
}

func (e *Engine) newTransferPass(remoteRoot *dtree.Node, result *Result) *transferPass {
	return &transferPass{e: e, remote: remoteRoot.Index(), result: result}
}

func (p *transferPass) localPath(relPath string) string {
	return filepath.Join(p.e.syncDir, filepath.FromSlash(relPath))
}

// downloadTree copies a device node and everything below it to targetRel,
// breadth-first so directories exist before their files.
func (p *transferPass) downloadTree(ctx context.Context, node *dtree.Node, targetRel string) error {
	queue := []*dtree.Node{node}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		relPath := dtree.Rebase(current.RelPath, node.RelPath, targetRel)

		if !current.IsDir {
			if err := p.downloadFile(ctx, current, relPath); err != nil {
				return err
			}
			continue
		}

		if err := p.e.fileOps.FS().MkdirAll(p.localPath(relPath), filesystem.DefaultDirPermissions); err != nil {
			return err
		}

		queue = append(queue, current.Children...)
	}

	return nil
}

// downloadFile writes the device document node to targetRel. When the
// local file at targetRel is the last agreed content and the document is
// resumable, only the bytes from the first divergent offset on are
// transferred. A local file longer than the document has its tail
// zero-filled.
func (p *transferPass) downloadFile(ctx context.Context, node *dtree.Node, targetRel string) error {
	if err := p.e.checkInterrupted(ctx); err != nil {
		return err
	}

	size, err := p.remoteSize(ctx, node)
	if err != nil {
		return err
	}

	fs := p.e.fileOps.FS()
	dest := p.localPath(targetRel)

	if err := fs.MkdirAll(filepath.Dir(dest), filesystem.DefaultDirPermissions); err != nil {
		return err
	}

	localSize := int64(-1)
	if info, statErr := fs.Stat(dest); statErr == nil && !info.IsDir() {
		localSize = info.Size()
	}

	file, err := fs.OpenFile(dest)
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	start := int64(0)
	if localSize > 0 && size > 0 && node.Resumable && p.resume[targetRel] {
		start, err = p.divergence(ctx, node, file, min(size, localSize))
		if err != nil {
			return err
		}
	}

	p.result.BytesSkipped += start
	p.e.metrics.BytesSkipped.Add(float64(start))

	p.e.logger.Debug("downloading",
		zap.String("path", targetRel),
		zap.Int64("size", size),
		zap.Int64("offset", start),
		zap.Int64("local_size", localSize))

	for offset := start; offset < size; {
		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		data, err := p.e.remote.ReadRange(ctx, node.ID, offset, min(p.e.chunkSize, size-offset))
		if err != nil {
			return err
		}

		if len(data) == 0 {
			return fmt.Errorf("%w: %s at offset %d of %d", ErrShortRead, targetRel, offset, size)
		}

		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		if _, err := file.WriteAt(data, offset); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}

		offset += int64(len(data))
		p.result.BytesDownloaded += int64(len(data))
		p.e.metrics.BytesDownloaded.Add(float64(len(data)))
		p.e.emit(TransferProgress{RelPath: targetRel, Done: offset, Total: size})
	}

	if localSize > size {
		if err := fileops.ZeroFill(file, size, localSize); err != nil {
			return fmt.Errorf("failed to clear tail of %s: %w", dest, err)
		}
	}

	if size == 0 {
		p.e.emit(TransferProgress{RelPath: targetRel, Done: 0, Total: 0})
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}

	if !node.ModTime.IsZero() {
		if err := fs.Chtimes(dest, node.ModTime, node.ModTime); err != nil {
			return err
		}
	}

	return nil
}

// remoteSize returns the true size of a device document. The device may
// keep reporting an outdated size until the content has been read, so one
// byte is read before the metadata is fetched again.
func (p *transferPass) remoteSize(ctx context.Context, node *dtree.Node) (int64, error) {
	if _, err := p.e.remote.ReadRange(ctx, node.ID, 0, 1); err != nil && !isRangeNotSatisfiable(err) {
		return 0, err
	}

	entry, err := p.e.remote.Document(ctx, node.ID)
	if err != nil {
		return 0, err
	}

	size := int64(entry.FileSize)
	if size != node.Size {
		p.e.logger.Warn("device size refreshed",
			zap.String("path", node.RelPath),
			zap.Int64("listed", node.Size),
			zap.Int64("actual", size),
			zap.Error(ErrStaleMetadata))
	}

	return size, nil
}

// divergence finds the first offset below n at which the local file and
// the device document differ, comparing single bytes. Checking one byte
// stands in for comparing the whole prefix, which holds only when the
// device copy grew or shrank from the local content at its end. A copy
// edited in the middle can match at every offset checked and be skipped, so
// callers only resume a local file that is the last agreed content.
func (p *transferPass) divergence(ctx context.Context, node *dtree.Node, local io.ReaderAt, n int64) (int64, error) {
	localByte := make([]byte, 1)

	return FindDivergence(n, func(offset int64) (bool, error) {
		if err := p.e.checkInterrupted(ctx); err != nil {
			return false, err
		}

		remoteByte, err := p.e.remote.ReadRange(ctx, node.ID, offset, 1)
		if err != nil {
			return false, err
		}

		if _, err := local.ReadAt(localByte, offset); err != nil {
			return false, fmt.Errorf("failed to read %s at %d: %w", node.RelPath, offset, err)
		}

		return len(remoteByte) == 1 && remoteByte[0] == localByte[0], nil
	})
}

// uploadTree creates local node and everything below it on the device at
// targetRel, breadth-first so folder ids are known before their children
// are created.
func (p *transferPass) uploadTree(ctx context.Context, local *dtree.Node, targetRel string) error {
	queue := []*dtree.Node{local}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		relPath := dtree.Rebase(current.RelPath, local.RelPath, targetRel)
		name := dtree.BaseRel(relPath)

		if filesystem.IsHidden(name) || (!current.IsDir && !p.e.filter.ShouldInclude(relPath)) {
			continue
		}

		parent, err := p.remoteParent(relPath)
		if err != nil {
			return err
		}

		if current.IsDir {
			id, err := p.e.remote.CreateFolder(ctx, parent.ID, name)
			if err != nil {
				return err
			}

			p.index(&dtree.Node{ID: id, Filename: name, RelPath: relPath, IsDir: true, Rev: dtree.FolderRev})
			queue = append(queue, current.Children...)

			continue
		}

		id, err := p.e.remote.CreateDocument(ctx, parent.ID, name)
		if err != nil {
			return err
		}

		p.index(&dtree.Node{ID: id, Filename: name, RelPath: relPath, Resumable: true})

		if err := p.uploadFile(ctx, id, current.Path, relPath); err != nil {
			p.discardPartial(ctx, id, relPath)
			return err
		}
	}

	return nil
}

// uploadFile sends the content of localPath in chunks. An empty file is
// sent as a single empty chunk.
func (p *transferPass) uploadFile(ctx context.Context, id, localPath, relPath string) error {
	file, err := p.e.fileOps.FS().Open(localPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	total := info.Size()
	name := dtree.BaseRel(relPath)
	buf := make([]byte, p.e.chunkSize)

	p.e.logger.Debug("uploading", zap.String("path", relPath), zap.Int64("size", total))

	for offset := int64(0); ; {
		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		want := min(p.e.chunkSize, total-offset)

		n, err := file.ReadAt(buf[:want], offset)
		if int64(n) < want {
			return fmt.Errorf("failed to read %s: %w", localPath, errors.Join(io.ErrUnexpectedEOF, err))
		}

		if err := p.e.remote.WriteChunk(ctx, id, name, buf[:n], offset, total); err != nil {
			return err
		}

		offset += int64(n)
		p.result.BytesUploaded += int64(n)
		p.e.metrics.BytesUploaded.Add(float64(n))
		p.e.emit(TransferProgress{RelPath: relPath, Done: offset, Total: total, Upload: true})

		if offset >= total {
			break
		}
	}

	return nil
}

// discardPartial deletes a document whose upload did not complete, so the
// next sync does not mistake its partial content for a device edit.
func (p *transferPass) discardPartial(ctx context.Context, id, relPath string) {
	if err := p.e.remote.DeleteDocument(context.WithoutCancel(ctx), id); err != nil {
		p.e.logger.Warn("failed to remove partial upload", zap.String("path", relPath), zap.Error(err))
		return
	}

	p.forget(relPath)
}

// deleteRemote removes a device node and forgets it and its descendants.
func (p *transferPass) deleteRemote(ctx context.Context, relPath string) error {
	node, ok := p.remote[relPath]
	if !ok {
		p.e.logger.Debug("already gone from device", zap.String("path", relPath))
		return nil
	}

	var err error
	if node.IsDir {
		err = p.e.remote.DeleteFolder(ctx, node.ID)
	} else {
		err = p.e.remote.DeleteDocument(ctx, node.ID)
	}

	if err != nil {
		return err
	}

	p.forget(relPath)

	return nil
}

func (p *transferPass) deleteLocal(relPath string) error {
	return p.e.fileOps.FS().RemoveAll(p.localPath(relPath))
}

// overwriteRemote replaces the device copy at the local node's path with
// the local content. The device cannot rewrite a document in place, so an
// existing document is deleted and created again.
func (p *transferPass) overwriteRemote(ctx context.Context, local *dtree.Node) error {
	if err := p.deleteRemote(ctx, local.RelPath); err != nil {
		return err
	}

	return p.uploadTree(ctx, local, local.RelPath)
}

// moveLocal copies fromRel to toRel and removes the source.
func (p *transferPass) moveLocal(fromRel, toRel string) error {
	from, to := p.localPath(fromRel), p.localPath(toRel)

	info, err := p.e.fileOps.FS().Stat(from)
	if err != nil {
		return err
	}

	if info.IsDir() {
		err = p.e.fileOps.CopyTree(from, to, p.e.cancelChan)
	} else {
		_, err = p.e.fileOps.CopyFile(from, to, p.e.cancelChan)
	}

	if errors.Is(err, fileops.ErrCopyCancelled) {
		return fmt.Errorf("%w: %w", ErrSyncInterrupted, err)
	}
	if err != nil {
		return err
	}

	return p.e.fileOps.FS().RemoveAll(from)
}

// moveRemote reparents and renames a device node to toRel.
func (p *transferPass) moveRemote(ctx context.Context, fromRel, toRel string) error {
	node, ok := p.remote[fromRel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingEntry, fromRel)
	}

	parent, err := p.remoteParent(toRel)
	if err != nil {
		return err
	}

	name := dtree.BaseRel(toRel)
	if node.IsDir {
		err = p.e.remote.MoveFolder(ctx, node.ID, parent.ID, name)
	} else {
		err = p.e.remote.MoveDocument(ctx, node.ID, parent.ID, name)
	}

	if err != nil {
		return err
	}

	p.rename(fromRel, toRel)

	return nil
}

// copyRemote duplicates a device subtree at toRel, creating folders and
// copying documents on the device itself.
func (p *transferPass) copyRemote(ctx context.Context, source *dtree.Node, toRel string) error {
	queue := []*dtree.Node{source}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if err := p.e.checkInterrupted(ctx); err != nil {
			return err
		}

		relPath := dtree.Rebase(current.RelPath, source.RelPath, toRel)
		name := dtree.BaseRel(relPath)

		parent, err := p.remoteParent(relPath)
		if err != nil {
			return err
		}

		if current.IsDir {
			id, err := p.e.remote.CreateFolder(ctx, parent.ID, name)
			if err != nil {
				return err
			}

			p.index(&dtree.Node{ID: id, Filename: name, RelPath: relPath, IsDir: true, Rev: dtree.FolderRev})
			queue = append(queue, current.Children...)

			continue
		}

		id, err := p.e.remote.CopyDocument(ctx, current.ID, parent.ID, name)
		if err != nil {
			return err
		}

		p.index(&dtree.Node{ID: id, Filename: name, RelPath: relPath, IsNote: current.IsNote, Resumable: current.Resumable})
	}

	return nil
}

func (p *transferPass) remoteParent(relPath string) (*dtree.Node, error) {
	parentRel := dtree.ParentRel(relPath)

	parent, ok := p.remote[parentRel]
	if !ok || !parent.IsDir || parent.ID == "" {
		return nil, fmt.Errorf("%w: %q for %s", ErrMissingParent, parentRel, relPath)
	}

	return parent, nil
}

func (p *transferPass) index(node *dtree.Node) {
	p.remote[node.RelPath] = node
}

func (p *transferPass) forget(relPath string) {
	for key := range p.remote {
		if key == relPath || strings.HasPrefix(key, relPath+"/") {
			delete(p.remote, key)
		}
	}
}

func (p *transferPass) rename(fromRel, toRel string) {
	moved := make(map[string]*dtree.Node)

	for key, node := range p.remote {
		if key == fromRel || strings.HasPrefix(key, fromRel+"/") {
			moved[dtree.Rebase(key, fromRel, toRel)] = node
			delete(p.remote, key)
		}
	}

	for key, node := range moved {
		renamed := *node
		renamed.RelPath = key
		renamed.Filename = dtree.BaseRel(key)
		renamed.Children = nil
		p.remote[key] = &renamed
	}
}

// isRangeNotSatisfiable reports a read past the end of a document.
func isRangeNotSatisfiable(err error) bool {
	var failure *device.RequestFailure

	return errors.As(err, &failure) && failure.StatusCode == http.StatusRequestedRangeNotSatisfiable
}
