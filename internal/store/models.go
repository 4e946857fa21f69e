package store

import (
	"fmt"

	"tabstash/api/internal/tree"
)

type nodeRow struct {
	ID       string
	ParentID string
	Kind     string
	Title    string
	URL      string
	Position int
}

// buildTree assembles rows into the tree rooted at rootID. Rows must be
// ordered by position within each parent.
func buildTree(rows []nodeRow, rootID string) (*tree.Node, error) {
	nodes := make(map[string]*tree.Node, len(rows))
	for _, row := range rows {
		node := &tree.Node{
			ID:       row.ID,
			ParentID: row.ParentID,
			Kind:     tree.Kind(row.Kind),
			Title:    row.Title,
			URL:      row.URL,
		}
		if node.Kind == tree.KindContainer {
			node.Children = []*tree.Node{}
		}
		nodes[row.ID] = node
	}

	root, ok := nodes[rootID]
	if !ok {
		return nil, fmt.Errorf("root %s: %w", rootID, ErrNotFound)
	}
	for _, row := range rows {
		if row.ID == rootID {
			continue
		}
		parent, ok := nodes[row.ParentID]
		if !ok {
			return nil, fmt.Errorf("node %s: parent %s missing", row.ID, row.ParentID)
		}
		parent.Children = append(parent.Children, nodes[row.ID])
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}
