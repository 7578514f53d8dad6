// Package dtree models a document tree on either side of a sync: the local
// directory or the device's document store. Both sides share one node shape
// so the two trees can be compared structurally.
//
// A tree owns its children exclusively. Lookup by path or revision goes
// through side indices built with Index and RevIndex, never through back
// references from child to parent.
package dtree

import (
	"path"
	"strings"
	"time"
)

// Exported constants.
const (
	// FolderRev is the revision tag carried by every directory.
	FolderRev = "folder"
	// RootID is the device identifier of the top-level container.
	RootID = "root"
	// RootName is the device's name for the top-level container.
	RootName = "Document"
)

// Node is a file or directory on one side of the sync.
type Node struct {
	// ID is the device identifier; empty for local nodes.
	ID string
	// Filename is the base name.
	Filename string
	// Path is the absolute location: a filesystem path for local nodes,
	// an entry path such as "Document/a/b.pdf" for device nodes.
	Path string
	// RelPath is the slash-separated path below the sync root. It is the
	// key that correlates local and device nodes. The root has RelPath "".
	RelPath string
	IsDir   bool
	// IsNote marks device documents of the note type.
	IsNote bool
	// Resumable reports whether a partial local copy may be resumed by
	// comparing bytes with the device copy. Notes are not append-only, so
	// they are never resumable.
	Resumable bool
	// Rev is the content identity: MD5 for local files, the server
	// revision for device files, FolderRev for directories.
	Rev     string
	Size    int64
	ModTime time.Time

	Children []*Node
}

// Pair couples nodes with the same name found in two trees.
type Pair struct {
	A *Node
	B *Node
}

// Diff is the result of SymmetricDiff.
type Diff struct {
	OnlyA []*Node
	OnlyB []*Node
	Both  []Pair
}

// NewRoot returns an empty directory node to serve as a tree root.
func NewRoot(id, filename, absPath string) *Node {
	return &Node{
		ID:       id,
		Filename: filename,
		Path:     absPath,
		IsDir:    true,
		Rev:      FolderRev,
	}
}

// AddChild appends c to n's children.
func (n *Node) AddChild(c *Node) {
	n.Children = append(n.Children, c)
}

// Child returns the direct child named name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Filename == name {
			return c
		}
	}

	return nil
}

// RemoveChild drops the direct child named name. It reports whether a child was removed.
func (n *Node) RemoveChild(name string) bool {
	for i, c := range n.Children {
		if c.Filename == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}

	return false
}

// Walk visits n and its descendants breadth-first. Returning an error from
// fn stops the walk and returns that error.
func (n *Node) Walk(fn func(*Node) error) error {
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if err := fn(cur); err != nil {
			return err
		}

		queue = append(queue, cur.Children...)
	}

	return nil
}

// Index returns a relPath to node map covering the whole tree.
func (n *Node) Index() map[string]*Node {
	index := make(map[string]*Node)
	_ = n.Walk(func(c *Node) error {
		index[c.RelPath] = c
		return nil
	})

	return index
}

// RevIndex returns a revision to node map covering the files of the tree.
func (n *Node) RevIndex() map[string]*Node {
	index := make(map[string]*Node)
	_ = n.Walk(func(c *Node) error {
		if !c.IsDir {
			index[c.Rev] = c
		}
		return nil
	})

	return index
}

// CountFiles returns the number of non-directory nodes in the tree.
func (n *Node) CountFiles() int {
	count := 0
	_ = n.Walk(func(c *Node) error {
		if !c.IsDir {
			count++
		}
		return nil
	})

	return count
}

// JoinRel joins relative path elements with forward slashes. An empty
// parent yields name unchanged.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}

	return path.Join(parent, name)
}

// ParentRel returns the relative path of relPath's parent; "" for top-level entries.
func ParentRel(relPath string) string {
	idx := strings.LastIndex(relPath, "/")
	if idx < 0 {
		return ""
	}

	return relPath[:idx]
}

// BaseRel returns the last element of relPath.
func BaseRel(relPath string) string {
	return path.Base(relPath)
}

// Rebase maps relPath, which lies under fromRoot, to the same location under toRoot.
func Rebase(relPath, fromRoot, toRoot string) string {
	if relPath == fromRoot {
		return toRoot
	}

	rest := strings.TrimPrefix(relPath, fromRoot+"/")
	if fromRoot == "" {
		rest = relPath
	}

	return JoinRel(toRoot, rest)
}

// SymmetricDiff matches the children of two directories by filename.
// Every name appears in exactly one of OnlyA, OnlyB or Both. OnlyA and Both
// follow the order of a, OnlyB follows the order of b.
func SymmetricDiff(a, b []*Node) Diff {
	byName := make(map[string]*Node, len(b))
	for _, node := range b {
		byName[node.Filename] = node
	}

	seen := make(map[string]bool, len(a))

	var diff Diff

	for _, node := range a {
		seen[node.Filename] = true
		if match, ok := byName[node.Filename]; ok {
			diff.Both = append(diff.Both, Pair{A: node, B: match})
		} else {
			diff.OnlyA = append(diff.OnlyA, node)
		}
	}

	for _, node := range b {
		if !seen[node.Filename] {
			diff.OnlyB = append(diff.OnlyB, node)
		}
	}

	return diff
}
