// Package tabs defines the tab-control contract shared by the reconciler,
// the evictor and the stash service.
package tabs

import (
	"context"
	"time"
)

type WindowType string

const (
	WindowNormal WindowType = "normal"
	WindowPopup  WindowType = "popup"
)

type Tab struct {
	ID           string     `json:"id"`
	TargetID     string     `json:"targetId,omitempty"`
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Hidden       bool       `json:"hidden"`
	Discarded    bool       `json:"discarded"`
	LastAccessed time.Time  `json:"lastAccessed"`
	WindowID     string     `json:"windowId,omitempty"`
	WindowType   WindowType `json:"windowType,omitempty"`
	Incognito    bool       `json:"incognito,omitempty"`
}

type Window struct {
	ID        string     `json:"id"`
	Type      WindowType `json:"type"`
	Incognito bool       `json:"incognito"`
	Tabs      []Tab      `json:"tabs"`
}

// Query selects tabs. Nil fields match any value.
type Query struct {
	Hidden    *bool
	Discarded *bool
	WindowID  string
}

func (q Query) Match(tab Tab) bool {
	if q.Hidden != nil && tab.Hidden != *q.Hidden {
		return false
	}
	if q.Discarded != nil && tab.Discarded != *q.Discarded {
		return false
	}
	if q.WindowID != "" && tab.WindowID != q.WindowID {
		return false
	}
	return true
}

// WindowFilter selects windows. An empty Types matches every type.
type WindowFilter struct {
	Types            []WindowType
	IncludeIncognito bool
}

func (f WindowFilter) Match(w Window) bool {
	if w.Incognito && !f.IncludeIncognito {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, typ := range f.Types {
		if w.Type == typ {
			return true
		}
	}
	return false
}

// Controller is the tab-control collaborator. Close and discard are
// idempotent: unknown or already-discarded tabs are skipped.
type Controller interface {
	QueryTabs(ctx context.Context, q Query) ([]Tab, error)
	ListWindows(ctx context.Context, f WindowFilter) ([]Window, error)
	CloseTabs(ctx context.Context, ids []string) error
	DiscardTabs(ctx context.Context, ids []string) error
}

// Bool returns a pointer to v, for building queries.
func Bool(v bool) *bool {
	return &v
}

// GroupWindows groups tabs by window, preserving first-seen window order.
func GroupWindows(all []Tab) []Window {
	var windows []Window
	index := make(map[string]int)
	for _, tab := range all {
		i, ok := index[tab.WindowID]
		if !ok {
			typ := tab.WindowType
			if typ == "" {
				typ = WindowNormal
			}
			windows = append(windows, Window{ID: tab.WindowID, Type: typ, Incognito: tab.Incognito})
			i = len(windows) - 1
			index[tab.WindowID] = i
		}
		windows[i].Tabs = append(windows[i].Tabs, tab)
	}
	return windows
}
