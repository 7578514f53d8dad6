package filesystem

import (
	"time"
)

// FileScanner walks a sync directory one entry at a time. Parents are
// yielded before their children.
type FileScanner interface {
	// Next returns the next entry, or false once the walk is over. Err
	// tells a finished walk from a failed one.
	Next() (FileInfo, bool)
	Err() error
}

// FileInfo describes one local entry found by a FileScanner.
type FileInfo struct {
	// RelativePath uses forward slashes regardless of platform, matching
	// the device's path form.
	RelativePath string
	Size         int64
	ModTime      time.Time
	IsDir        bool
	// IsRegular is false for devices, sockets and symlinks, which a sync
	// never transfers.
	IsRegular bool
}
