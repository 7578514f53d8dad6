package syncengine

import (
	"context"

	"github.com/joe/dpt-sync/pkg/dtree"
	"github.com/joe/dpt-sync/pkg/revdb"
)

// RevisionLookup reads the records of the last successful sync.
type RevisionLookup interface {
	GetByPath(ctx context.Context, relPath string) (revdb.Record, bool, error)
	GetByLocalRev(ctx context.Context, rev string) (revdb.Record, bool, error)
	GetByRemoteRev(ctx context.Context, rev string) (revdb.Record, bool, error)
}

// differences accumulates the raw output of the tree walk before
// classification.
type differences struct {
	localOnly  []*dtree.Node
	remoteOnly []*dtree.Node
	both       []dtree.Pair
	moved      []dtree.Pair
}

// ComputePlan compares a local and a device tree against the revision
// records and returns the actions that reconcile them.
func ComputePlan(ctx context.Context, local, remote *dtree.Node, revs RevisionLookup) (*Plan, error) {
	var diffs differences
	if err := diffs.collect(local, remote); err != nil {
		return nil, err
	}

	if err := diffs.detectMoves(ctx, revs); err != nil {
		return nil, err
	}

	plan := &Plan{}

	for _, l := range diffs.localOnly {
		rec, ok, err := revs.GetByPath(ctx, l.RelPath)
		if err != nil {
			return nil, err
		}

		if ok && rec.LocalRev == l.Rev {
			plan.DeleteLocal = append(plan.DeleteLocal, l)
		} else {
			plan.NewRemote = append(plan.NewRemote, l)
		}
	}

	for _, r := range diffs.remoteOnly {
		rec, ok, err := revs.GetByPath(ctx, r.RelPath)
		if err != nil {
			return nil, err
		}

		if ok && rec.RemoteRev == r.Rev {
			plan.DeleteRemote = append(plan.DeleteRemote, r)
		} else {
			plan.NewLocal = append(plan.NewLocal, r)
		}
	}

	for _, pair := range append(diffs.both, diffs.moved...) {
		rec, ok, err := recordFor(ctx, revs, pair.A, pair.B)
		if err != nil {
			return nil, err
		}

		classifyPair(plan, pair.A, pair.B, rec, ok)
	}

	return plan, nil
}

// collect walks directories present on both sides. Entries found on one
// side only are recorded without descending into them.
func (d *differences) collect(local, remote *dtree.Node) error {
	diff := dtree.SymmetricDiff(local.Children, remote.Children)

	d.localOnly = append(d.localOnly, diff.OnlyA...)
	d.remoteOnly = append(d.remoteOnly, diff.OnlyB...)

	for _, pair := range diff.Both {
		switch {
		case pair.A.IsDir && pair.B.IsDir:
			if err := d.collect(pair.A, pair.B); err != nil {
				return err
			}
		case !pair.A.IsDir && !pair.B.IsDir:
			d.both = append(d.both, pair)
		default:
			return &TreeMismatchError{RelPath: pair.A.RelPath}
		}
	}

	return nil
}

// detectMoves pairs a local-only file with a device-only file when both
// revisions were last recorded at the same path. Directories carry no
// content identity and are never paired.
func (d *differences) detectMoves(ctx context.Context, revs RevisionLookup) error {
	previous := make(map[string]*dtree.Node)

	for _, l := range d.localOnly {
		if l.IsDir {
			continue
		}

		rec, ok, err := revs.GetByLocalRev(ctx, l.Rev)
		if err != nil {
			return err
		}

		if ok {
			previous[rec.RelPath] = l
		}
	}

	matched := make(map[*dtree.Node]bool)
	remaining := d.remoteOnly[:0:0]

	for _, r := range d.remoteOnly {
		if r.IsDir {
			remaining = append(remaining, r)
			continue
		}

		rec, ok, err := revs.GetByRemoteRev(ctx, r.Rev)
		if err != nil {
			return err
		}

		l, found := previous[rec.RelPath]
		if !ok || !found || matched[l] {
			remaining = append(remaining, r)
			continue
		}

		matched[l] = true
		d.moved = append(d.moved, dtree.Pair{A: l, B: r})
	}

	d.remoteOnly = remaining

	unmatched := d.localOnly[:0:0]
	for _, l := range d.localOnly {
		if !matched[l] {
			unmatched = append(unmatched, l)
		}
	}
	d.localOnly = unmatched

	return nil
}

// recordFor finds the record of the last agreement on a file pair: by path
// when both copies share one, then by local hash, then by device revision.
func recordFor(ctx context.Context, revs RevisionLookup, local, remote *dtree.Node) (revdb.Record, bool, error) {
	if local.RelPath == remote.RelPath {
		rec, ok, err := revs.GetByPath(ctx, local.RelPath)
		if err != nil || ok {
			return rec, ok, err
		}
	}

	rec, ok, err := revs.GetByLocalRev(ctx, local.Rev)
	if err != nil || ok {
		return rec, ok, err
	}

	return revs.GetByRemoteRev(ctx, remote.Rev)
}

func classifyPair(plan *Plan, local, remote *dtree.Node, rec revdb.Record, known bool) {
	samePath := local.RelPath == remote.RelPath

	pullRemote := func() {
		plan.OverwriteLocal = append(plan.OverwriteLocal, remote)
		if !samePath {
			plan.DeleteLocal = append(plan.DeleteLocal, local)
		}
	}

	pushLocal := func() {
		plan.OverwriteRemote = append(plan.OverwriteRemote, local)
		if !samePath {
			plan.DeleteRemote = append(plan.DeleteRemote, remote)
		}
	}

	if !known {
		pullRemote()
		return
	}

	localChanged := rec.LocalRev != local.Rev
	remoteChanged := rec.RemoteRev != remote.Rev

	switch {
	case !localChanged && !remoteChanged:
		if samePath {
			return
		}
		if LocalMovesRemote(local, remote) {
			plan.MoveRemote = append(plan.MoveRemote, Move{Local: local, Remote: remote})
		} else {
			plan.MoveLocal = append(plan.MoveLocal, Move{Local: local, Remote: remote})
		}
	case !localChanged:
		pullRemote()
		if samePath && rec.RelPath == remote.RelPath {
			if plan.Resume == nil {
				plan.Resume = make(map[string]bool)
			}
			plan.Resume[remote.RelPath] = true
		}
	case !remoteChanged:
		pushLocal()
	case LocalWins(local, remote):
		pushLocal()
	default:
		pullRemote()
	}
}

// LocalMovesRemote decides the direction of a pure move: when the local
// copy was modified later, the device copy is moved to the local path;
// otherwise, ties included, the local copy follows the device.
func LocalMovesRemote(local, remote *dtree.Node) bool {
	return local.ModTime.After(remote.ModTime)
}

// LocalWins decides a conflict between two changed copies: the later
// modification wins, and the device wins ties.
func LocalWins(local, remote *dtree.Node) bool {
	return local.ModTime.After(remote.ModTime)
}
