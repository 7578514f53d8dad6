package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joe/dpt-sync/internal/syncengine"
	"github.com/joe/dpt-sync/internal/tui/shared"
)

// View implements tea.Model
func (m AppModel) View() string {
	var builder strings.Builder

	title := "dpt-sync"
	if m.dryRun {
		title += " (dry run)"
	}

	builder.WriteString(shared.RenderTitle(title))
	builder.WriteString("\n")
	builder.WriteString(shared.RenderTimeline(m.phase))
	builder.WriteString("\n\n")

	switch m.state {
	case "":
		m.renderRunning(&builder)
	case shared.StateComplete:
		m.renderComplete(&builder)
	default:
		m.renderFailed(&builder)
	}

	if m.width > 0 {
		return shared.BoxStyle().Width(m.width - shared.DefaultPadding).Render(builder.String())
	}

	return builder.String()
}

func (m AppModel) renderRunning(builder *strings.Builder) {
	status := m.status
	if status == "" {
		status = "Starting..."
	}

	fmt.Fprintf(builder, "%s %s\n", m.spinner.View(), status)

	if m.plan != nil && !m.plan.Empty() {
		builder.WriteString(shared.RenderDim(PlanSummary(m.plan)))
		builder.WriteString("\n")
	}

	if m.current != nil {
		builder.WriteString("\n")
		fmt.Fprintf(builder, "%s %s %s\n",
			shared.RenderLabel(fmt.Sprintf("[%d/%d]", m.current.Index, m.current.Total)),
			shared.RenderKind(m.current.Kind),
			shared.TruncatePath(m.current.RelPath, m.pathWidth()))

		if m.transfer != nil && m.transfer.Total > 0 {
			builder.WriteString(shared.RenderTransfer(m.progress, m.transfer.Done, m.transfer.Total, m.transferRate()))
			builder.WriteString("\n")
		}
	}

	if len(m.activities) > 0 {
		builder.WriteString("\n")
		builder.WriteString(shared.RenderActivityLog("Done", m.activities, shared.MaxActivityEntries, m.pathWidth()))
		builder.WriteString("\n")
	}

	builder.WriteString("\n")
	builder.WriteString(shared.RenderDim("ctrl+c to cancel"))
}

func (m AppModel) renderComplete(builder *strings.Builder) {
	lines := SummaryLines(m.result)
	if len(lines) > 0 {
		builder.WriteString(shared.RenderSuccess(lines[0]))
		builder.WriteString("\n")

		for _, line := range lines[1:] {
			builder.WriteString(line)
			builder.WriteString("\n")
		}
	}

	fmt.Fprintf(builder, "%s\n", shared.RenderDim("Took "+shared.FormatDuration(m.elapsed)))
}

func (m AppModel) renderFailed(builder *strings.Builder) {
	if m.state == shared.StateCancelled {
		builder.WriteString(shared.RenderWarning(shared.CancelledSymbol() + " Sync cancelled"))
		builder.WriteString("\n")
	}

	if m.rolledBack {
		builder.WriteString(shared.RenderDim("Local changes were rolled back to the pre-sync checkpoint."))
		builder.WriteString("\n")
	}

	builder.WriteString("\n")
	builder.WriteString(shared.RenderSyncError(m.err, m.pathWidth()))
}

func (m AppModel) transferRate() float64 {
	elapsed := time.Since(m.actionAt).Seconds()
	if m.actionAt.IsZero() || elapsed <= 0 {
		return 0
	}

	return float64(m.transfer.Done) / elapsed
}

func (m AppModel) pathWidth() int {
	if m.width == 0 {
		return 0
	}

	const margin = 20

	return max(shared.ProgressBarWidth, m.width-margin)
}

// PlanSummary counts the actions of a plan per kind, in application order.
func PlanSummary(plan *syncengine.Plan) string {
	if plan == nil {
		return ""
	}

	parts := make([]string, 0, len(syncengine.ActionKinds))

	for _, kind := range syncengine.ActionKinds {
		if n := plan.CountOf(kind); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}

	return strings.Join(parts, ", ")
}

// SummaryLines describes a finished sync. The first line is the headline.
func SummaryLines(result *syncengine.Result) []string {
	switch {
	case result == nil:
		return nil
	case result.UpToDate:
		return []string{syncengine.MsgUpToDate}
	case result.DryRun:
		return []string{
			fmt.Sprintf("Dry run: %d action(s) would be applied", result.Plan.Count()),
			PlanSummary(result.Plan),
		}
	}

	lines := []string{
		fmt.Sprintf("Applied %d action(s)", result.ActionsApplied),
		fmt.Sprintf("Downloaded %s, uploaded %s", shared.FormatBytes(result.BytesDownloaded), shared.FormatBytes(result.BytesUploaded)),
	}

	if result.BytesSkipped > 0 {
		lines = append(lines, fmt.Sprintf("Resumed downloads skipped %s", shared.FormatBytes(result.BytesSkipped)))
	}

	if result.BackupTag != "" {
		lines = append(lines, "Device backup: "+result.BackupTag)
	}

	if result.Commit != "" {
		lines = append(lines, "Checkpoint: "+shortHash(result.Commit))
	}

	return lines
}

func shortHash(hash string) string {
	const shortLen = 8
	if len(hash) <= shortLen {
		return hash
	}

	return hash[:shortLen]
}

func isInterrupted(err error) bool {
	return errors.Is(err, syncengine.ErrSyncInterrupted)
}
