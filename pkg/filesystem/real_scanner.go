package filesystem

import (
	"path/filepath"

	"github.com/kr/fs"
)

// realFileScanner implements FileScanner on top of a kr/fs walker. Entries
// whose name starts with a dot are skipped along with everything below them.
type realFileScanner struct {
	root   string
	walker *fs.Walker
	err    error
}

// newRealFileScanner creates a new scanner for the given directory.
func newRealFileScanner(root string) *realFileScanner {
	return &realFileScanner{
		root:   root,
		walker: fs.Walk(root),
	}
}

// Next advances to the next file and returns its info.
func (s *realFileScanner) Next() (FileInfo, bool) {
	if s.err != nil {
		return FileInfo{}, false
	}

	for s.walker.Step() {
		if err := s.walker.Err(); err != nil {
			s.err = err
			return FileInfo{}, false
		}

		relPath, err := filepath.Rel(s.root, s.walker.Path())
		if err != nil {
			s.err = err
			return FileInfo{}, false
		}

		// Skip the root directory itself
		if relPath == "." {
			continue
		}

		info := s.walker.Stat()
		if IsHidden(info.Name()) {
			if info.IsDir() {
				s.walker.SkipDir()
			}
			continue
		}

		return FileInfo{
			RelativePath: filepath.ToSlash(relPath),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        info.IsDir(),
			IsRegular:    info.Mode().IsRegular(),
		}, true
	}

	return FileInfo{}, false
}

// Err returns any error that occurred during scanning.
func (s *realFileScanner) Err() error {
	return s.err
}
