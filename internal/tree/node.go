// Package tree models the stash tree: containers (groups) holding leaves
// (saved URLs), and the pure helpers used to diff two snapshots of it.
package tree

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindContainer Kind = "container"
	KindLeaf      Kind = "leaf"
)

// Node is one entry of the stash tree. Containers carry Children and no URL;
// leaves carry a URL and no Children.
type Node struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parentId,omitempty"`
	Kind     Kind    `json:"kind"`
	Title    string  `json:"title"`
	URL      string  `json:"url,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// IsContainer reports whether n is a container. Nodes built without an
// explicit kind are treated as containers when they hold children.
func (n *Node) IsContainer() bool {
	return n.Kind == KindContainer || (n.Kind == "" && n.Children != nil)
}

// Validate checks the container/leaf invariant for n and all descendants.
func (n *Node) Validate() error {
	if n == nil {
		return nil
	}
	switch {
	case n.IsContainer():
		if n.URL != "" {
			return fmt.Errorf("node %s: container has url", n.ID)
		}
		for _, child := range n.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	default:
		if len(n.Children) > 0 {
			return fmt.Errorf("node %s: leaf has children", n.ID)
		}
		if n.URL == "" {
			return fmt.Errorf("node %s: leaf has no url", n.ID)
		}
	}
	return nil
}

// Snapshot is a tree captured at one instant. Callers must not mutate Root.
type Snapshot struct {
	Root    *Node     `json:"root"`
	TakenAt time.Time `json:"takenAt"`
}

// TopLevel returns the direct children of the snapshot root.
func (s Snapshot) TopLevel() []*Node {
	if s.Root == nil {
		return nil
	}
	return s.Root.Children
}

// Leaves returns the URLs of every leaf in the snapshot.
func (s Snapshot) Leaves() []string {
	return LeavesOf(s.Root)
}
