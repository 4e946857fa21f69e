package stash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"testing"
	"time"

	"tabstash/api/internal/tabs"
	"tabstash/api/internal/tree"
)

type fakeStore struct {
	root *tree.Node
	seq  int
}

func newFakeStore(groups ...*tree.Node) *fakeStore {
	return &fakeStore{root: &tree.Node{ID: "root", Kind: tree.KindContainer, Title: "Tab Stash", Children: groups}}
}

func (f *fakeStore) GetTree(context.Context) (tree.Snapshot, error) {
	return tree.Snapshot{Root: f.root}, nil
}

func (f *fakeStore) find(id string) *tree.Node {
	var walk func(*tree.Node) *tree.Node
	walk = func(n *tree.Node) *tree.Node {
		if n.ID == id {
			return n
		}
		for _, child := range n.Children {
			if found := walk(child); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(f.root)
}

func (f *fakeStore) CreateContainer(_ context.Context, parentID, title string) (tree.Node, error) {
	if parentID == "" {
		parentID = f.root.ID
	}
	f.seq++
	node := &tree.Node{ID: fmt.Sprintf("node_%d", f.seq), ParentID: parentID, Kind: tree.KindContainer, Title: title, Children: []*tree.Node{}}
	parent := f.find(parentID)
	parent.Children = append(parent.Children, node)
	return *node, nil
}

func (f *fakeStore) CreateLeaf(_ context.Context, parentID, title, url string) (tree.Node, error) {
	parent := f.find(parentID)
	if parent == nil {
		return tree.Node{}, errors.New("missing parent")
	}
	f.seq++
	node := &tree.Node{ID: fmt.Sprintf("node_%d", f.seq), ParentID: parentID, Kind: tree.KindLeaf, Title: title, URL: url}
	parent.Children = append(parent.Children, node)
	return *node, nil
}

type fakeTabs struct {
	tabs   []tabs.Tab
	hidden []string
	shown  []string
	opened []string
}

func (f *fakeTabs) QueryTabs(_ context.Context, q tabs.Query) ([]tabs.Tab, error) {
	var out []tabs.Tab
	for _, tab := range f.tabs {
		if q.Match(tab) {
			out = append(out, tab)
		}
	}
	return out, nil
}

func (f *fakeTabs) HideTabs(_ context.Context, ids []string) error {
	f.hidden = append(f.hidden, ids...)
	return nil
}

func (f *fakeTabs) ShowTabs(_ context.Context, ids []string) error {
	f.shown = append(f.shown, ids...)
	return nil
}

func (f *fakeTabs) OpenTab(_ context.Context, url string) (tabs.Tab, error) {
	f.opened = append(f.opened, url)
	return tabs.Tab{ID: "opened_" + url, URL: url}, nil
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(store Store, control TabControl) *Service {
	svc := NewService(store, control, log.New(&bytes.Buffer{}, "", 0))
	svc.now = func() time.Time { return now }
	return svc
}

func TestStashAllVisibleTabsIntoNewGroup(t *testing.T) {
	store := newFakeStore()
	control := &fakeTabs{tabs: []tabs.Tab{
		{ID: "t1", URL: "https://a", Title: "A", WindowID: "w1"},
		{ID: "t2", URL: "https://b", Title: "B", WindowID: "w1"},
		{ID: "t3", URL: "https://c", Hidden: true, WindowID: "w1"},
		{ID: "t4", URL: "https://d", WindowID: "w2"},
	}}
	svc := newService(store, control)

	result, err := svc.Stash(context.Background(), Request{WindowID: "w1", Target: TargetNew})
	if err != nil {
		t.Fatalf("stash: %v", err)
	}
	if result.GroupTitle != tree.GroupName(now) {
		t.Fatalf("expected generated group name, got %q", result.GroupTitle)
	}
	if !reflect.DeepEqual(result.Saved, []string{"https://a", "https://b"}) {
		t.Fatalf("unexpected saved urls %v", result.Saved)
	}
	if !reflect.DeepEqual(control.hidden, []string{"t1", "t2"}) {
		t.Fatalf("unexpected hidden tabs %v", control.hidden)
	}
	if got := tree.LeavesOf(store.root); len(got) != 2 {
		t.Fatalf("expected 2 leaves in store, got %v", got)
	}
}

func TestStashOneReusesMostRecentAutoGroup(t *testing.T) {
	older := &tree.Node{ID: "g-old", Kind: tree.KindContainer, Title: tree.GroupName(now.Add(-time.Hour)), Children: []*tree.Node{}}
	newer := &tree.Node{ID: "g-new", Kind: tree.KindContainer, Title: tree.GroupName(now.Add(-time.Minute)), Children: []*tree.Node{
		{ID: "l1", Kind: tree.KindLeaf, URL: "https://a"},
	}}
	named := &tree.Node{ID: "g-named", Kind: tree.KindContainer, Title: "Reading", Children: []*tree.Node{}}
	store := newFakeStore(older, newer, named)
	control := &fakeTabs{tabs: []tabs.Tab{
		{ID: "t1", URL: "https://a"},
		{ID: "t2", URL: "https://b"},
	}}
	svc := newService(store, control)

	result, err := svc.Stash(context.Background(), Request{TabIDs: []string{"t1", "t2"}, Target: TargetRecent})
	if err != nil {
		t.Fatalf("stash: %v", err)
	}
	if result.GroupID != "g-new" {
		t.Fatalf("expected most recent auto group, got %s", result.GroupID)
	}
	if !reflect.DeepEqual(result.Saved, []string{"https://b"}) {
		t.Fatalf("expected duplicate url to be skipped, got %v", result.Saved)
	}
	if !reflect.DeepEqual(control.hidden, []string{"t1", "t2"}) {
		t.Fatalf("expected both tabs hidden, got %v", control.hidden)
	}
}

func TestStashRecentCreatesGroupWhenNoneExists(t *testing.T) {
	store := newFakeStore(&tree.Node{ID: "g-named", Kind: tree.KindContainer, Title: "Reading", Children: []*tree.Node{}})
	control := &fakeTabs{tabs: []tabs.Tab{{ID: "t1", URL: "https://a"}}}
	svc := newService(store, control)

	result, err := svc.Stash(context.Background(), Request{TabIDs: []string{"t1"}, Target: TargetRecent})
	if err != nil {
		t.Fatalf("stash: %v", err)
	}
	if result.GroupID == "g-named" || result.GroupTitle != tree.GroupName(now) {
		t.Fatalf("expected a new auto group, got %+v", result)
	}
}

func TestCopyDoesNotHide(t *testing.T) {
	store := newFakeStore()
	control := &fakeTabs{tabs: []tabs.Tab{{ID: "t1", URL: "https://a"}}}
	svc := newService(store, control)

	result, err := svc.Stash(context.Background(), Request{Copy: true})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if len(result.Saved) != 1 || len(result.Hidden) != 0 || len(control.hidden) != 0 {
		t.Fatalf("copy should save without hiding, got %+v / %v", result, control.hidden)
	}
}

func TestStashErrors(t *testing.T) {
	svc := newService(newFakeStore(), &fakeTabs{})
	if _, err := svc.Stash(context.Background(), Request{}); !errors.Is(err, ErrNoTabs) {
		t.Fatalf("expected ErrNoTabs, got %v", err)
	}
	if _, err := svc.Stash(context.Background(), Request{TabIDs: []string{"missing"}}); !errors.Is(err, ErrUnknownTab) {
		t.Fatalf("expected ErrUnknownTab, got %v", err)
	}
}

func TestRestoreShowsHiddenAndOpensMissing(t *testing.T) {
	control := &fakeTabs{tabs: []tabs.Tab{
		{ID: "t1", URL: "https://a", Hidden: true},
		{ID: "t2", URL: "https://a", Hidden: true},
		{ID: "t3", URL: "https://b"},
		{ID: "t4", URL: "https://c", Hidden: true, Discarded: true},
	}}
	svc := newService(newFakeStore(), control)

	result, err := svc.Restore(context.Background(), []string{"https://a", "https://b", "https://c", "https://d", "https://d"})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(result.Shown, []string{"t1", "t4"}) {
		t.Fatalf("unexpected shown %v", result.Shown)
	}
	if !reflect.DeepEqual(control.opened, []string{"https://d"}) {
		t.Fatalf("unexpected opened %v", control.opened)
	}
}

func TestMostRecentAutoGroupIgnoresUserGroups(t *testing.T) {
	snapshot := tree.Snapshot{Root: &tree.Node{ID: "root", Kind: tree.KindContainer, Children: []*tree.Node{
		{ID: "named", Kind: tree.KindContainer, Title: "saved-not-a-date", Children: []*tree.Node{}},
	}}}
	if got := MostRecentAutoGroup(snapshot); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
