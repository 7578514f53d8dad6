package syncengine

import (
	"context"

	"github.com/joe/dpt-sync/pkg/dtree"
	"github.com/joe/dpt-sync/pkg/revdb"
)

// RevisionStore is the persistent record of the last successful sync.
type RevisionStore interface {
	RevisionLookup
	Rebuild(ctx context.Context, fill func(put func(revdb.Record) error) error) error
	Close() error
}

// RebuildRecords replaces every revision record with one record per path
// of two trees that must be identical. Nothing is written when they are
// not: the first difference is returned as a *TreeMismatchError.
func RebuildRecords(ctx context.Context, store RevisionStore, local, remote *dtree.Node) error {
	return store.Rebuild(ctx, func(put func(revdb.Record) error) error {
		return recordPair(local, remote, put)
	})
}

func recordPair(local, remote *dtree.Node, put func(revdb.Record) error) error {
	if local.IsDir != remote.IsDir || local.RelPath != remote.RelPath {
		return &TreeMismatchError{
			RelPath:    local.RelPath,
			OnlyLocal:  []string{local.RelPath},
			OnlyRemote: []string{remote.RelPath},
		}
	}

	if err := put(revdb.Record{RelPath: local.RelPath, LocalRev: local.Rev, RemoteRev: remote.Rev}); err != nil {
		return err
	}

	if !local.IsDir {
		return nil
	}

	diff := dtree.SymmetricDiff(local.Children, remote.Children)
	if len(diff.OnlyA) > 0 || len(diff.OnlyB) > 0 {
		return &TreeMismatchError{
			RelPath:    local.RelPath,
			OnlyLocal:  relPaths(diff.OnlyA),
			OnlyRemote: relPaths(diff.OnlyB),
		}
	}

	for _, pair := range diff.Both {
		if err := recordPair(pair.A, pair.B, put); err != nil {
			return err
		}
	}

	return nil
}

func relPaths(nodes []*dtree.Node) []string {
	paths := make([]string, 0, len(nodes))
	for _, n := range nodes {
		paths = append(paths, n.RelPath)
	}

	return paths
}
