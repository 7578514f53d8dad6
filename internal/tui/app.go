// Package tui renders a running sync, either as an interactive bubble tea
// program or as plain status lines.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

// Runner runs one sync. *syncengine.Engine implements it.
type Runner interface {
	SafeSync(ctx context.Context, dryRun bool) (*syncengine.Result, error)
	Cancel()
}

// AppModel follows one sync run from difference computation to its result.
type AppModel struct {
	ctx    context.Context //nolint:containedctx // The sync command outlives Init
	runner Runner
	bridge *shared.EventBridge
	dryRun bool
	// external is set when the caller runs the sync and reports its end
	// with a SyncFinishedMsg.
	external bool

	spinner  spinner.Model
	progress progress.Model

	phase      string
	status     string
	plan       *syncengine.Plan
	current    *syncengine.ActionStarted
	transfer   *syncengine.TransferProgress
	actionAt   time.Time
	activities []shared.Activity
	rolledBack bool

	result    *syncengine.Result
	err       error
	state     string
	cancelled bool
	startTime time.Time
	elapsed   time.Duration
	width     int
}

// NewAppModel creates the model. The runner must emit its events to bridge.
func NewAppModel(ctx context.Context, runner Runner, bridge *shared.EventBridge, dryRun bool) AppModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(shared.PrimaryColor())

	return AppModel{
		ctx:       ctx,
		runner:    runner,
		bridge:    bridge,
		dryRun:    dryRun,
		spinner:   spin,
		progress:  shared.NewProgressModel(shared.ProgressBarWidth),
		phase:     shared.PhaseCompare,
		startTime: time.Now(),
	}
}

// Init implements tea.Model
func (m AppModel) Init() tea.Cmd {
	if m.external {
		return tea.Batch(m.spinner.Tick, m.bridge.ListenCmd())
	}

	return tea.Batch(
		m.spinner.Tick,
		m.bridge.ListenCmd(),
		m.startSync(),
	)
}

// Err returns the error the sync finished with.
func (m AppModel) Err() error {
	return m.err
}

// Result returns the result of a finished sync.
func (m AppModel) Result() *syncengine.Result {
	return m.result
}

// Update implements tea.Model
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case shared.EngineEventMsg:
		m = m.handleEvent(msg.Event)
		return m, m.bridge.ListenCmd()
	case shared.SyncFinishedMsg:
		return m.handleFinished(msg)
	case spinner.TickMsg:
		if m.state != "" {
			return m, nil
		}

		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m AppModel) startSync() tea.Cmd {
	return func() tea.Msg {
		result, err := m.runner.SafeSync(m.ctx, m.dryRun)
		return shared.SyncFinishedMsg{Result: result, Err: err}
	}
}

func (m AppModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width

	barWidth := msg.Width - 4*shared.DefaultPadding
	m.progress.Width = max(1, min(barWidth, shared.MaxProgressBarWidth))

	return m, nil
}

//nolint:exhaustive // Only handling specific key types
func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state != "" {
		return m, tea.Quit
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		// The runner rolls back and then reports; keep rendering until then.
		if !m.cancelled {
			m.cancelled = true
			m.status = "Cancelling..."
			m.runner.Cancel()
		}
	}

	return m, nil
}

func (m AppModel) handleEvent(event syncengine.Event) AppModel {
	switch e := event.(type) {
	case syncengine.Message:
		m.status = e.Text
		// The pre-sync checkpoint also reports "Creating Backup...".
		if phase, ok := phaseOf(e.Text); ok && (m.plan != nil || phase != shared.PhaseBackup) {
			m.phase = phase
		}
	case syncengine.PlanReady:
		m.plan = e.Plan
	case syncengine.ActionStarted:
		m.finishCurrent()
		m.current = &e
		m.transfer = nil
		m.actionAt = time.Now()
	case syncengine.TransferProgress:
		m.transfer = &e
	case syncengine.ErrorOccurred:
		m.rolledBack = e.RolledBack
	case syncengine.SyncComplete:
		m.finishCurrent()
	}

	return m
}

// finishCurrent moves the running action into the activity log.
func (m *AppModel) finishCurrent() {
	if m.current == nil {
		return
	}

	m.activities = append(m.activities, shared.Activity{Kind: m.current.Kind, RelPath: m.current.RelPath})
	m.current = nil
	m.transfer = nil
}

func (m AppModel) handleFinished(msg shared.SyncFinishedMsg) (tea.Model, tea.Cmd) {
	// Events emitted just before the runner returned may still be queued.
	for drained := false; !drained; {
		select {
		case queued := <-m.bridge.Subscribe():
			if eventMsg, ok := queued.(shared.EngineEventMsg); ok {
				m = m.handleEvent(eventMsg.Event)
			}
		default:
			drained = true
		}
	}

	m.result = msg.Result
	m.err = msg.Err
	m.elapsed = time.Since(m.startTime)

	switch {
	case msg.Err == nil:
		m.finishCurrent()
		m.state = shared.StateComplete
		m.phase = shared.PhaseDone
	case m.cancelled || isInterrupted(msg.Err):
		m.state = shared.StateCancelled
		m.phase += "_error"
	default:
		m.state = shared.StateError
		m.phase += "_error"
	}

	return m, tea.Quit
}

// phaseOf maps engine status lines to timeline phases.
func phaseOf(text string) (string, bool) {
	switch text {
	case syncengine.MsgComputing:
		return shared.PhaseCompare, true
	case syncengine.MsgCreatingBackup:
		return shared.PhaseBackup, true
	case syncengine.MsgSyncing:
		return shared.PhaseSync, true
	case syncengine.MsgUpToDate:
		return shared.PhaseDone, true
	default:
		return "", false
	}
}
