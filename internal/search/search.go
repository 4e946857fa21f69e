package search

import (
	"crypto/sha1"
	"encoding/hex"

	"tabstash/api/internal/tree"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Group   string `json:"group"`
	GroupID string `json:"groupId"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterGroupID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the data we index for one stashed URL. Entries are keyed by
// URL so the same page saved twice is indexed once.
type EntryRecord struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Group   string `json:"group"`
	GroupID string `json:"groupId"`
}

// EntryID is the index key for url.
func EntryID(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// RecordsFrom flattens a stash tree into index records. Each leaf is filed
// under its nearest enclosing container.
func RecordsFrom(root *tree.Node) []EntryRecord {
	records := make([]EntryRecord, 0)
	seen := make(map[string]bool)
	var walk func(n, group *tree.Node)
	walk = func(n, group *tree.Node) {
		if n == nil {
			return
		}
		if !n.IsContainer() {
			if seen[n.URL] {
				return
			}
			seen[n.URL] = true
			rec := EntryRecord{ID: EntryID(n.URL), URL: n.URL, Title: n.Title}
			if group != nil {
				rec.Group = group.Title
				rec.GroupID = group.ID
			}
			records = append(records, rec)
			return
		}
		for _, child := range n.Children {
			walk(child, n)
		}
	}
	walk(root, nil)
	return records
}
