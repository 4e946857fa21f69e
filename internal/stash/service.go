// Package stash saves open tabs into the stash tree and brings them back.
package stash

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tabstash/api/internal/tabs"
	"tabstash/api/internal/tree"
)

var (
	ErrNoTabs     = errors.New("no tabs to stash")
	ErrUnknownTab = errors.New("unknown tab")
)

// Store is the tree API the service writes through.
type Store interface {
	GetTree(ctx context.Context) (tree.Snapshot, error)
	CreateContainer(ctx context.Context, parentID, title string) (tree.Node, error)
	CreateLeaf(ctx context.Context, parentID, title, url string) (tree.Node, error)
}

// TabControl extends tabs.Controller with the operations only stashing needs.
type TabControl interface {
	QueryTabs(ctx context.Context, q tabs.Query) ([]tabs.Tab, error)
	HideTabs(ctx context.Context, ids []string) error
	ShowTabs(ctx context.Context, ids []string) error
	OpenTab(ctx context.Context, url string) (tabs.Tab, error)
}

type Target string

const (
	// TargetNew always creates a fresh auto-named group.
	TargetNew Target = "new"
	// TargetRecent reuses the newest auto-named group, creating one if none exists.
	TargetRecent Target = "recent"
)

type Request struct {
	TabIDs   []string `json:"tabIds"`
	WindowID string   `json:"windowId"`
	Target   Target   `json:"target"`
	// Copy saves the tabs without hiding them.
	Copy bool `json:"copy"`
}

type Result struct {
	GroupID    string   `json:"groupId"`
	GroupTitle string   `json:"groupTitle"`
	Saved      []string `json:"saved"`
	Hidden     []string `json:"hidden"`
}

type RestoreResult struct {
	Shown  []string `json:"shown"`
	Opened []string `json:"opened"`
}

type Service struct {
	store  Store
	tabs   TabControl
	now    func() time.Time
	logger *log.Logger
}

func NewService(store Store, control TabControl, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, tabs: control, now: time.Now, logger: logger}
}

// Stash saves the requested tabs and, unless req.Copy is set, hides them.
// With no TabIDs every visible tab (of WindowID, if given) is stashed.
func (s *Service) Stash(ctx context.Context, req Request) (Result, error) {
	selected, err := s.selectTabs(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if len(selected) == 0 {
		return Result{}, ErrNoTabs
	}

	snapshot, err := s.store.GetTree(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get tree: %w", err)
	}

	var group *tree.Node
	if req.Target == TargetRecent {
		group = MostRecentAutoGroup(snapshot)
	}
	if group == nil {
		created, err := s.store.CreateContainer(ctx, "", tree.GroupName(s.now()))
		if err != nil {
			return Result{}, fmt.Errorf("create group: %w", err)
		}
		group = &created
	}

	existing := tree.NewLocatorSet(tree.LeavesOf(group))
	result := Result{GroupID: group.ID, GroupTitle: group.Title, Saved: []string{}, Hidden: []string{}}
	for _, tab := range selected {
		if !existing.Has(tab.URL) {
			if _, err := s.store.CreateLeaf(ctx, group.ID, tab.Title, tab.URL); err != nil {
				return result, fmt.Errorf("save %s: %w", tab.URL, err)
			}
			existing[tab.URL] = struct{}{}
			result.Saved = append(result.Saved, tab.URL)
		}
		if !req.Copy {
			result.Hidden = append(result.Hidden, tab.ID)
		}
	}

	if len(result.Hidden) > 0 {
		if err := s.tabs.HideTabs(ctx, result.Hidden); err != nil {
			return result, fmt.Errorf("hide tabs: %w", err)
		}
	}
	s.logger.Printf("stash: saved %d urls to %q, hid %d tabs", len(result.Saved), group.Title, len(result.Hidden))
	return result, nil
}

func (s *Service) selectTabs(ctx context.Context, req Request) ([]tabs.Tab, error) {
	q := tabs.Query{WindowID: req.WindowID}
	if len(req.TabIDs) == 0 {
		q.Hidden = tabs.Bool(false)
	}
	candidates, err := s.tabs.QueryTabs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}

	var selected []tabs.Tab
	if len(req.TabIDs) == 0 {
		for _, tab := range candidates {
			if tab.URL != "" {
				selected = append(selected, tab)
			}
		}
		return selected, nil
	}

	byID := make(map[string]tabs.Tab, len(candidates))
	for _, tab := range candidates {
		byID[tab.ID] = tab
	}
	for _, id := range req.TabIDs {
		tab, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("tab %s: %w", id, ErrUnknownTab)
		}
		if tab.URL != "" {
			selected = append(selected, tab)
		}
	}
	return selected, nil
}

// Restore brings urls back into view. Hidden tabs already holding a URL are
// shown; URLs with no tab are opened. URLs already visible are left alone.
func (s *Service) Restore(ctx context.Context, urls []string) (RestoreResult, error) {
	all, err := s.tabs.QueryTabs(ctx, tabs.Query{})
	if err != nil {
		return RestoreResult{}, fmt.Errorf("query tabs: %w", err)
	}

	visible := make(map[string]bool)
	hidden := make(map[string]string)
	for _, tab := range all {
		if !tab.Hidden {
			visible[tab.URL] = true
		} else if _, ok := hidden[tab.URL]; !ok {
			hidden[tab.URL] = tab.ID
		}
	}

	result := RestoreResult{Shown: []string{}, Opened: []string{}}
	for _, url := range urls {
		switch {
		case visible[url]:
		case hidden[url] != "":
			result.Shown = append(result.Shown, hidden[url])
			visible[url] = true
		default:
			tab, err := s.tabs.OpenTab(ctx, url)
			if err != nil {
				return result, fmt.Errorf("open %s: %w", url, err)
			}
			result.Opened = append(result.Opened, tab.ID)
			visible[url] = true
		}
	}

	if len(result.Shown) > 0 {
		if err := s.tabs.ShowTabs(ctx, result.Shown); err != nil {
			return result, fmt.Errorf("show tabs: %w", err)
		}
	}
	return result, nil
}

// MostRecentAutoGroup returns the top-level auto-named group with the newest
// encoded date, or nil.
func MostRecentAutoGroup(snapshot tree.Snapshot) *tree.Node {
	var (
		newest  *tree.Node
		newestT time.Time
	)
	for _, node := range snapshot.TopLevel() {
		created, ok := tree.GroupDate(node.Title)
		if !ok || !node.IsContainer() {
			continue
		}
		if newest == nil || created.After(newestT) {
			newest, newestT = node, created
		}
	}
	return newest
}
