package syncengine

import (
	"fmt"
	"io"

	"github.com/joe/dpt-sync/pkg/dtree"
)

// ActionKind names one category of prepared action. The declaration order
// is the order in which categories are applied.
type ActionKind int

// Action kinds.
const (
	DeleteRemote ActionKind = iota
	DeleteLocal
	NewLocal
	NewRemote
	OverwriteRemote
	OverwriteLocal
	MoveLocal
	MoveRemote
)

// ActionKinds lists every kind in application order.
var ActionKinds = []ActionKind{
	DeleteRemote, DeleteLocal, NewLocal, NewRemote,
	OverwriteRemote, OverwriteLocal, MoveLocal, MoveRemote,
}

func (k ActionKind) String() string {
	switch k {
	case DeleteRemote:
		return "delete_remote"
	case DeleteLocal:
		return "delete_local"
	case NewLocal:
		return "new_local"
	case NewRemote:
		return "new_remote"
	case OverwriteRemote:
		return "overwrite_remote"
	case OverwriteLocal:
		return "overwrite_local"
	case MoveLocal:
		return "move_local"
	case MoveRemote:
		return "move_remote"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Heading returns the report line introducing the kind.
func (k ActionKind) Heading() string {
	switch k {
	case DeleteRemote:
		return "These files will be deleted from the device:"
	case DeleteLocal:
		return "These local files will be deleted:"
	case NewRemote:
		return "These files will be created on the device:"
	case NewLocal:
		return "These local files will be created:"
	case OverwriteRemote:
		return "These files will be updated on the device:"
	case OverwriteLocal:
		return "These local files will be updated:"
	case MoveRemote:
		return "These device files will be moved:"
	case MoveLocal:
		return "These local files will be moved:"
	default:
		return k.String()
	}
}

// Move pairs the local and device copies of a file found at different
// paths. MoveLocal relocates Local to Remote.RelPath; MoveRemote
// relocates Remote to Local.RelPath.
type Move struct {
	Local  *dtree.Node
	Remote *dtree.Node
}

// Plan holds the prepared actions of one sync. Nodes in NewRemote,
// DeleteLocal and OverwriteRemote are local nodes; nodes in NewLocal,
// DeleteRemote and OverwriteLocal are device nodes.
type Plan struct {
	NewRemote       []*dtree.Node
	NewLocal        []*dtree.Node
	DeleteRemote    []*dtree.Node
	DeleteLocal     []*dtree.Node
	OverwriteRemote []*dtree.Node
	OverwriteLocal  []*dtree.Node
	MoveLocal       []Move
	MoveRemote      []Move

	// Resume holds the paths in OverwriteLocal whose local copy is still
	// the last agreed content. Only their downloads may skip the prefix
	// both copies share; every other download starts at offset 0.
	Resume map[string]bool
}

// Empty reports whether the plan has no action.
func (p *Plan) Empty() bool {
	return p.Count() == 0
}

// Count returns the number of actions.
func (p *Plan) Count() int {
	total := 0
	for _, kind := range ActionKinds {
		total += p.CountOf(kind)
	}

	return total
}

// CountOf returns the number of actions of one kind.
func (p *Plan) CountOf(kind ActionKind) int {
	switch kind {
	case DeleteRemote:
		return len(p.DeleteRemote)
	case DeleteLocal:
		return len(p.DeleteLocal)
	case NewLocal:
		return len(p.NewLocal)
	case NewRemote:
		return len(p.NewRemote)
	case OverwriteRemote:
		return len(p.OverwriteRemote)
	case OverwriteLocal:
		return len(p.OverwriteLocal)
	case MoveLocal:
		return len(p.MoveLocal)
	case MoveRemote:
		return len(p.MoveRemote)
	default:
		return 0
	}
}

// Lines returns the report entries of one kind: relative paths, with a
// "(folder) " prefix for directories and "from ~> to" for moves.
func (p *Plan) Lines(kind ActionKind) []string {
	switch kind {
	case DeleteRemote:
		return nodeLines(p.DeleteRemote)
	case DeleteLocal:
		return nodeLines(p.DeleteLocal)
	case NewLocal:
		return nodeLines(p.NewLocal)
	case NewRemote:
		return nodeLines(p.NewRemote)
	case OverwriteRemote:
		return nodeLines(p.OverwriteRemote)
	case OverwriteLocal:
		return nodeLines(p.OverwriteLocal)
	case MoveLocal:
		lines := make([]string, 0, len(p.MoveLocal))
		for _, m := range p.MoveLocal {
			lines = append(lines, folderPrefix(m.Local)+m.Local.RelPath+" ~> "+m.Remote.RelPath)
		}
		return lines
	case MoveRemote:
		lines := make([]string, 0, len(p.MoveRemote))
		for _, m := range p.MoveRemote {
			lines = append(lines, folderPrefix(m.Remote)+m.Remote.RelPath+" ~> "+m.Local.RelPath)
		}
		return lines
	default:
		return nil
	}
}

// Report writes every action grouped by kind. Empty groups are omitted.
func (p *Plan) Report(w io.Writer) error {
	for _, kind := range reportOrder {
		lines := p.Lines(kind)
		if len(lines) == 0 {
			continue
		}

		if _, err := fmt.Fprintln(w, kind.Heading()); err != nil {
			return err
		}

		for _, line := range lines {
			if _, err := fmt.Fprintf(w, " - %s\n", line); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	return nil
}

var reportOrder = []ActionKind{
	DeleteRemote, DeleteLocal, NewRemote, NewLocal,
	OverwriteRemote, OverwriteLocal, MoveRemote, MoveLocal,
}

func nodeLines(nodes []*dtree.Node) []string {
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		lines = append(lines, folderPrefix(n)+n.RelPath)
	}

	return lines
}

func folderPrefix(n *dtree.Node) string {
	if n.IsDir {
		return "(folder) "
	}

	return ""
}
