package syncengine

import (
	"errors"
	"fmt"
	"strings"
)

// Exported variables.
var (
	// ErrSyncInterrupted is returned when a sync is cancelled by a signal or
	// by Engine.Cancel. The working tree has been rolled back when a sync
	// returns it.
	ErrSyncInterrupted = errors.New("sync interrupted")
	// ErrTreeMismatch means the two trees still differ after every action
	// was applied. It indicates a bug; the revision store is left untouched.
	ErrTreeMismatch = errors.New("local and device trees differ")
	// ErrStaleMetadata is logged when the device reports a file size that
	// differs from the size of its content.
	ErrStaleMetadata = errors.New("device reported stale file size")
	ErrNotADirectory = errors.New("sync root is not a directory")
	ErrMissingParent = errors.New("parent folder not found on device")
	ErrMissingEntry  = errors.New("entry not found on device")
	ErrShortRead     = errors.New("device returned no data before end of file")
)

// TreeMismatchError describes where two trees that should be identical
// diverge.
type TreeMismatchError struct {
	RelPath    string
	OnlyLocal  []string
	OnlyRemote []string
}

func (e *TreeMismatchError) Error() string {
	where := e.RelPath
	if where == "" {
		where = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s at %q", ErrTreeMismatch, where)

	if len(e.OnlyLocal) > 0 {
		fmt.Fprintf(&b, "; only local: %s", strings.Join(e.OnlyLocal, ", "))
	}
	if len(e.OnlyRemote) > 0 {
		fmt.Fprintf(&b, "; only on device: %s", strings.Join(e.OnlyRemote, ", "))
	}

	return b.String()
}

// Is makes errors.Is(err, ErrTreeMismatch) hold.
func (e *TreeMismatchError) Is(target error) bool {
	return target == ErrTreeMismatch
}

// NotADirectoryError reports a sync root that is missing or not a directory.
type NotADirectoryError struct {
	Path string
	Err  error
}

func (e *NotADirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrNotADirectory, e.Path, e.Err)
	}

	return fmt.Sprintf("%s: %s", ErrNotADirectory, e.Path)
}

func (e *NotADirectoryError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNotADirectory) hold.
func (e *NotADirectoryError) Is(target error) bool {
	return target == ErrNotADirectory
}
