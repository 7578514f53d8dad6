package tui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
	"github.com/joe/dpt-sync/pkg/device"
	"github.com/joe/dpt-sync/pkg/dtree"
)

// fakeRunner replays events to its emitter and returns a fixed outcome.
type fakeRunner struct {
	emitter   syncengine.EventEmitter
	events    []syncengine.Event
	result    *syncengine.Result
	err       error
	cancelled atomic.Int32
}

func (f *fakeRunner) SafeSync(_ context.Context, _ bool) (*syncengine.Result, error) {
	for _, event := range f.events {
		f.emitter.Emit(event)
	}

	return f.result, f.err
}

func (f *fakeRunner) Cancel() {
	f.cancelled.Add(1)
}

func pdf(relPath string) *dtree.Node {
	return &dtree.Node{Filename: dtree.BaseRel(relPath), RelPath: relPath}
}

func samplePlan() *syncengine.Plan {
	return &syncengine.Plan{
		NewLocal:     []*dtree.Node{pdf("a.pdf"), pdf("b.pdf")},
		DeleteRemote: []*dtree.Node{pdf("old.pdf")},
	}
}

var _ = Describe("AppModel", func() {
	var (
		runner *fakeRunner
		bridge *shared.EventBridge
		model  AppModel
	)

	update := func(msg tea.Msg) tea.Cmd {
		next, cmd := model.Update(msg)
		model = next.(AppModel)

		return cmd
	}

	event := func(e syncengine.Event) {
		update(shared.EngineEventMsg{Event: e})
	}

	view := func() string {
		return ansi.Strip(model.View())
	}

	BeforeEach(func() {
		bridge = shared.NewEventBridge()
		DeferCleanup(bridge.Close)

		runner = &fakeRunner{emitter: bridge}
		model = NewAppModel(context.Background(), runner, bridge, false)
	})

	Describe("while running", func() {
		It("starts in the compare phase", func() {
			Expect(model.phase).To(Equal(shared.PhaseCompare))
			Expect(view()).To(ContainSubstring("Starting..."))
			Expect(view()).To(ContainSubstring("ctrl+c to cancel"))
		})

		It("keeps the compare phase for the pre-sync checkpoint", func() {
			event(syncengine.Message{Text: syncengine.MsgCreatingBackup})
			Expect(model.phase).To(Equal(shared.PhaseCompare))
			Expect(model.status).To(Equal(syncengine.MsgCreatingBackup))

			event(syncengine.Message{Text: syncengine.MsgComputing})
			event(syncengine.PlanReady{Plan: samplePlan()})
			event(syncengine.Message{Text: syncengine.MsgCreatingBackup})
			Expect(model.phase).To(Equal(shared.PhaseBackup))

			event(syncengine.Message{Text: syncengine.MsgSyncing})
			Expect(model.phase).To(Equal(shared.PhaseSync))
		})

		It("shows the plan summary in application order", func() {
			event(syncengine.PlanReady{Plan: samplePlan()})

			Expect(view()).To(ContainSubstring("1 delete_remote, 2 new_local"))
		})

		It("moves finished actions to the activity log", func() {
			event(syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "a.pdf", Index: 1, Total: 2})
			Expect(view()).To(ContainSubstring("[1/2] new_local a.pdf"))
			Expect(model.activities).To(BeEmpty())

			event(syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "b.pdf", Index: 2, Total: 2})
			Expect(model.activities).To(HaveLen(1))
			Expect(model.activities[0]).To(Equal(shared.Activity{Kind: syncengine.NewLocal, RelPath: "a.pdf"}))
			Expect(view()).To(ContainSubstring("[2/2] new_local b.pdf"))
		})

		It("renders transfer progress", func() {
			event(syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "a.pdf", Index: 1, Total: 1})
			event(syncengine.TransferProgress{RelPath: "a.pdf", Done: 1024, Total: 4096})

			Expect(view()).To(ContainSubstring("1.0 KB / 4.0 KB"))
		})

		It("cancels the runner once", func() {
			cmd := update(tea.KeyMsg{Type: tea.KeyCtrlC})
			Expect(cmd).To(BeNil())
			update(tea.KeyMsg{Type: tea.KeyCtrlC})

			Expect(runner.cancelled.Load()).To(Equal(int32(1)))
			Expect(model.status).To(Equal("Cancelling..."))
		})

		It("sizes the progress bar to the window", func() {
			update(tea.WindowSizeMsg{Width: 60, Height: 20})
			Expect(model.progress.Width).To(Equal(60 - 4*shared.DefaultPadding))

			update(tea.WindowSizeMsg{Width: 400, Height: 20})
			Expect(model.progress.Width).To(Equal(shared.MaxProgressBarWidth))
		})
	})

	Describe("when the sync finishes", func() {
		It("runs the sync from Init and reports its outcome", func() {
			runner.result = &syncengine.Result{UpToDate: true}

			msg := model.startSync()()

			Expect(msg).To(Equal(shared.SyncFinishedMsg{Result: runner.result}))
		})

		It("summarizes a successful sync and quits", func() {
			event(syncengine.ActionStarted{Kind: syncengine.NewLocal, RelPath: "a.pdf", Index: 1, Total: 1})

			cmd := update(shared.SyncFinishedMsg{Result: &syncengine.Result{
				Plan:            samplePlan(),
				ActionsApplied:  3,
				BytesDownloaded: 2048,
				BackupTag:       "backup-20240506-070809",
				Commit:          "0123456789abcdef",
			}})

			Expect(cmd).NotTo(BeNil())
			Expect(model.state).To(Equal(shared.StateComplete))
			Expect(model.phase).To(Equal(shared.PhaseDone))
			Expect(model.activities).To(HaveLen(1))
			Expect(view()).To(ContainSubstring("Applied 3 action(s)"))
			Expect(view()).To(ContainSubstring("Downloaded 2.0 KB, uploaded 0 B"))
			Expect(view()).To(ContainSubstring("Device backup: backup-20240506-070809"))
			Expect(view()).To(ContainSubstring("Checkpoint: 01234567"))
		})

		It("handles events still queued in the bridge", func() {
			bridge.Emit(syncengine.PlanReady{Plan: samplePlan()})
			bridge.Emit(syncengine.ActionStarted{Kind: syncengine.DeleteRemote, RelPath: "old.pdf", Index: 1, Total: 1})

			update(shared.SyncFinishedMsg{Result: &syncengine.Result{ActionsApplied: 1}})

			Expect(model.plan).NotTo(BeNil())
			Expect(model.activities).To(ConsistOf(shared.Activity{Kind: syncengine.DeleteRemote, RelPath: "old.pdf"}))
		})

		It("reports an interrupted sync as cancelled", func() {
			update(tea.KeyMsg{Type: tea.KeyCtrlC})
			event(syncengine.Message{Text: syncengine.MsgSyncing})
			event(syncengine.ErrorOccurred{Phase: "sync", Err: syncengine.ErrSyncInterrupted, RolledBack: true})

			update(shared.SyncFinishedMsg{Err: syncengine.ErrSyncInterrupted})

			Expect(model.state).To(Equal(shared.StateCancelled))
			Expect(model.phase).To(Equal("sync_error"))
			Expect(view()).To(ContainSubstring("Sync cancelled"))
			Expect(view()).To(ContainSubstring("rolled back"))
		})

		It("shows failures with suggestions", func() {
			err := fmt.Errorf("list documents: %w", &device.RequestFailure{Method: "GET", Path: "/documents2", StatusCode: 500})

			update(shared.SyncFinishedMsg{Err: err})

			Expect(model.state).To(Equal(shared.StateError))
			Expect(model.Err()).To(MatchError(device.ErrTransport))
			Expect(view()).To(ContainSubstring("GET /documents2: status 500"))
			Expect(view()).To(ContainSubstring("Try these solutions:"))
		})

		It("quits on any key once finished", func() {
			update(shared.SyncFinishedMsg{Err: errors.New("boom")})

			Expect(update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})).NotTo(BeNil())
		})

		It("stops the spinner", func() {
			update(shared.SyncFinishedMsg{Result: &syncengine.Result{UpToDate: true}})

			Expect(update(model.spinner.Tick())).To(BeNil())
			Expect(view()).To(ContainSubstring(syncengine.MsgUpToDate))
		})
	})
})

var _ = Describe("SummaryLines", func() {
	It("is empty without a result", func() {
		Expect(SummaryLines(nil)).To(BeEmpty())
	})

	It("counts the actions of a dry run", func() {
		lines := SummaryLines(&syncengine.Result{DryRun: true, Plan: samplePlan()})

		Expect(lines).To(Equal([]string{
			"Dry run: 3 action(s) would be applied",
			"1 delete_remote, 2 new_local",
		}))
	})

	It("mentions resumed bytes only when some were skipped", func() {
		Expect(SummaryLines(&syncengine.Result{ActionsApplied: 1})).To(HaveLen(2))
		Expect(SummaryLines(&syncengine.Result{ActionsApplied: 1, BytesSkipped: 10})).To(ContainElement("Resumed downloads skipped 10 B"))
	})
})

func TestTUI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TUI Suite")
}
