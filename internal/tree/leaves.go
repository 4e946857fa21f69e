package tree

import "sort"

// LeavesOf returns the URL of every leaf under n in depth-first order,
// visiting children in their stored order. Duplicates are kept.
func LeavesOf(n *Node) []string {
	urls := []string{}
	if n == nil {
		return urls
	}
	var collect func(*Node)
	collect = func(node *Node) {
		if node.IsContainer() {
			for _, child := range node.Children {
				collect(child)
			}
			return
		}
		if node.URL != "" {
			urls = append(urls, node.URL)
		}
	}
	collect(n)
	return urls
}

// LocatorSet is a set of leaf URLs.
type LocatorSet map[string]struct{}

func NewLocatorSet(urls []string) LocatorSet {
	set := make(LocatorSet, len(urls))
	for _, url := range urls {
		set[url] = struct{}{}
	}
	return set
}

func (s LocatorSet) Has(url string) bool {
	_, ok := s[url]
	return ok
}

func (s LocatorSet) Len() int {
	return len(s)
}

// Sorted returns the members in lexical order.
func (s LocatorSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for url := range s {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// Difference returns the URLs in prev that are absent from next.
func Difference(prev, next LocatorSet) LocatorSet {
	removed := make(LocatorSet)
	for url := range prev {
		if !next.Has(url) {
			removed[url] = struct{}{}
		}
	}
	return removed
}
