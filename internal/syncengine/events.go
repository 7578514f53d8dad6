package syncengine

// Event is the interface implemented by all sync engine events.
type Event interface {
	isEvent()
}

// EventEmitter is the interface for emitting events.
type EventEmitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(Event)

// Emit calls f(event).
func (f EmitterFunc) Emit(event Event) {
	f(event)
}

// Phase events

// Message carries a coarse status line such as "Computing Differences...".
type Message struct {
	Text string
}

func (Message) isEvent() {}

// PlanReady is emitted once differences are computed, before any action
// is applied. It is emitted for dry runs too.
type PlanReady struct {
	Plan *Plan
}

func (PlanReady) isEvent() {}

// Action events

// ActionStarted is emitted before one prepared action is applied.
type ActionStarted struct {
	Kind    ActionKind
	RelPath string
	// Index counts actions from 1 to Total.
	Index int
	Total int
}

func (ActionStarted) isEvent() {}

// TransferProgress is emitted after every chunk of a download or upload.
type TransferProgress struct {
	RelPath string
	Done    int64
	Total   int64
	Upload  bool
}

func (TransferProgress) isEvent() {}

// SyncComplete is emitted when a sync finishes successfully.
type SyncComplete struct {
	Result *Result
}

func (SyncComplete) isEvent() {}

// Result summarizes one sync run.
type Result struct {
	// UpToDate is true when no action was needed.
	UpToDate bool
	// DryRun is true when the plan was reported but not applied.
	DryRun bool
	Plan   *Plan

	ActionsApplied  int
	BytesDownloaded int64
	BytesUploaded   int64
	// BytesSkipped counts bytes a resumed download did not transfer again.
	BytesSkipped int64

	// BackupTag names the checkpoint holding device copies taken before
	// the sync. Empty when nothing was applied.
	BackupTag string
	// Commit is the post-sync checkpoint.
	Commit string
}

// Error events

// ErrorOccurred is emitted when a sync fails. RolledBack reports whether
// the working tree was restored to the pre-sync checkpoint.
type ErrorOccurred struct {
	Phase      string
	Err        error
	RolledBack bool
}

func (ErrorOccurred) isEvent() {}
