package shared

import (
	"github.com/joe/dpt-sync/internal/syncengine"
)

// SyncFinishedMsg is sent when the sync run returns.
type SyncFinishedMsg struct {
	Result *syncengine.Result
	Err    error
}
