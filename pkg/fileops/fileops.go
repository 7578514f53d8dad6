// Package fileops provides the local file operations a sync performs on
// top of a filesystem.FileSystem: content hashing, structural copies and
// zero-filling of stale tails.
package fileops

import (
	"crypto/md5" //nolint:gosec // The device protocol identifies local content by MD5
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/joe/dpt-sync/pkg/filesystem"
)

// Exported constants.
const (
	// BufferSize is the size of the buffer used for file copy operations (32KB)
	BufferSize = 32 * 1024
)

// Exported variables.
var (
	ErrCopyCancelled = errors.New("copy cancelled")
)

// FileOps performs file operations against an injected filesystem.
type FileOps struct {
	fs filesystem.FileSystem
}

// NewFileOps creates a FileOps bound to fs.
func NewFileOps(fs filesystem.FileSystem) *FileOps {
	return &FileOps{fs: fs}
}

// NewRealFileOps creates a FileOps bound to the real filesystem.
func NewRealFileOps() *FileOps {
	return NewFileOps(filesystem.NewRealFileSystem())
}

// FS returns the underlying filesystem.
func (fo *FileOps) FS() filesystem.FileSystem {
	return fo.fs
}

// MD5 returns the uppercase hex MD5 digest of the file at path.
func (fo *FileOps) MD5(path string) (string, error) {
	file, err := fo.fs.Open(path)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = file.Close()
	}()

	hash := md5.New() //nolint:gosec // see import

	_, err = io.CopyBuffer(hash, file, make([]byte, BufferSize))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s for hashing: %w", path, err)
	}

	return strings.ToUpper(hex.EncodeToString(hash.Sum(nil))), nil
}

// MD5Bytes returns the uppercase hex MD5 digest of data.
func MD5Bytes(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CopyFile copies src to dst, creating dst's parent directories and
// preserving the modification time. It returns the number of bytes copied.
func (fo *FileOps) CopyFile(src, dst string, cancelChan <-chan struct{}) (int64, error) {
	sourceFile, err := fo.fs.Open(src)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	err = fo.fs.MkdirAll(filepath.Dir(dst), filesystem.DefaultDirPermissions)
	if err != nil {
		return 0, err
	}

	destFile, err := fo.fs.Create(dst)
	if err != nil {
		return 0, err
	}

	copied, copyErr := copyLoop(sourceFile, destFile, cancelChan)

	closeErr := destFile.Close()
	if copyErr != nil {
		return copied, fmt.Errorf("failed to copy %s to %s: %w", src, dst, copyErr)
	}
	if closeErr != nil {
		return copied, fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	err = fo.fs.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime())
	if err != nil {
		return copied, err
	}

	return copied, nil
}

// CopyTree clones src into dst breadth-first: each directory is created
// before any of its children are copied. src may be a single file.
func (fo *FileOps) CopyTree(src, dst string, cancelChan <-chan struct{}) error {
	type job struct{ from, to string }

	queue := []job{{src, dst}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if err := checkCancellation(cancelChan); err != nil {
			return err
		}

		info, err := fo.fs.Stat(cur.from)
		if err != nil {
			return err
		}

		if !info.IsDir() {
			if _, err := fo.CopyFile(cur.from, cur.to, cancelChan); err != nil {
				return err
			}
			continue
		}

		if err := fo.fs.MkdirAll(cur.to, filesystem.DefaultDirPermissions); err != nil {
			return err
		}

		entries, err := fo.fs.ReadDir(cur.from)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			queue = append(queue, job{
				from: filepath.Join(cur.from, entry.Name()),
				to:   filepath.Join(cur.to, entry.Name()),
			})
		}
	}

	return nil
}

// ZeroFill overwrites the bytes of file in [from, to) with zeros.
func ZeroFill(file io.WriterAt, from, to int64) error {
	zeros := make([]byte, BufferSize)
	for offset := from; offset < to; {
		n := min(int64(len(zeros)), to-offset)
		if _, err := file.WriteAt(zeros[:n], offset); err != nil {
			return fmt.Errorf("failed to zero-fill at offset %d: %w", offset, err)
		}
		offset += n
	}

	return nil
}

func checkCancellation(cancelChan <-chan struct{}) error {
	if cancelChan == nil {
		return nil
	}

	select {
	case <-cancelChan:
		return ErrCopyCancelled
	default:
		return nil
	}
}

func copyLoop(src io.Reader, dst io.Writer, cancelChan <-chan struct{}) (int64, error) {
	buf := make([]byte, BufferSize)

	var total int64

	for {
		if err := checkCancellation(cancelChan); err != nil {
			return total, err
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			total += int64(nw)
			if writeErr != nil {
				return total, writeErr
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}

		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
