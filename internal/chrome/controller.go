// Package chrome implements tab control over the Chrome DevTools protocol.
//
// The protocol has no notion of hidden or discarded tabs, so the controller
// pairs live page targets with records in the tab registry. A hidden tab is a
// live target the registry marks hidden; a discarded tab is a registry record
// whose target has been closed to release memory and which ShowTabs reloads.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tabstash/api/internal/registry"
	"tabstash/api/internal/tabs"
	"tabstash/api/internal/util"
)

type tabStore interface {
	Put(ctx context.Context, records ...tabs.Tab) error
	Get(ctx context.Context, id string) (tabs.Tab, error)
	List(ctx context.Context) ([]tabs.Tab, error)
	Delete(ctx context.Context, ids ...string) error
}

type Controller struct {
	dt       devtools
	registry tabStore
	now      func() time.Time
	logger   *log.Logger

	// mu serializes every registry read-modify-write: refreshes, and the
	// mutations that must not be overwritten by one.
	mu sync.Mutex
}

// Connect attaches to the browser and returns a controller backed by reg.
func Connect(ctx context.Context, remoteURL string, reg *registry.RedisRegistry, logger *log.Logger) (*Controller, context.CancelFunc, error) {
	dt, cancel, err := dial(ctx, remoteURL)
	if err != nil {
		return nil, nil, err
	}
	return newController(dt, reg, time.Now, logger), cancel, nil
}

func newController(dt devtools, store tabStore, now func() time.Time, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{dt: dt, registry: store, now: now, logger: logger}
}

// refresh reconciles registry records with the live page targets and
// returns every known tab. c.mu must be held.
func (c *Controller) refresh(ctx context.Context) ([]tabs.Tab, error) {
	pages, err := c.dt.Pages(ctx)
	if err != nil {
		return nil, err
	}
	defaultContext, err := c.dt.DefaultContextID(ctx)
	if err != nil {
		return nil, err
	}
	records, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	byTarget := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.TargetID != "" {
			byTarget[rec.TargetID] = i
		}
	}

	live := make(map[string]struct{}, len(pages))
	var changed []tabs.Tab
	for _, page := range pages {
		live[page.ID] = struct{}{}
		if i, ok := byTarget[page.ID]; ok {
			rec := &records[i]
			dirty := rec.URL != page.URL || rec.Title != page.Title
			rec.URL = page.URL
			rec.Title = page.Title
			if !rec.Hidden {
				rec.LastAccessed = now
				dirty = true
			}
			if dirty {
				changed = append(changed, *rec)
			}
			continue
		}

		windowID, err := c.dt.WindowForTarget(ctx, page.ID)
		if err != nil {
			return nil, err
		}
		windowType := tabs.WindowNormal
		if page.OpenerID != "" {
			windowType = tabs.WindowPopup
		}
		rec := tabs.Tab{
			ID:           util.NewID("tab"),
			TargetID:     page.ID,
			URL:          page.URL,
			Title:        page.Title,
			LastAccessed: now,
			WindowID:     windowID,
			WindowType:   windowType,
			Incognito:    page.ContextID != "" && page.ContextID != defaultContext,
		}
		records = append(records, rec)
		changed = append(changed, rec)
	}

	var gone []string
	kept := records[:0]
	for _, rec := range records {
		_, alive := live[rec.TargetID]
		if !rec.Discarded && !alive {
			gone = append(gone, rec.ID)
			continue
		}
		kept = append(kept, rec)
	}

	if err := c.registry.Put(ctx, changed...); err != nil {
		return nil, err
	}
	if err := c.registry.Delete(ctx, gone...); err != nil {
		return nil, err
	}
	return kept, nil
}

func (c *Controller) QueryTabs(ctx context.Context, q tabs.Query) ([]tabs.Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh tabs: %w", err)
	}
	out := make([]tabs.Tab, 0, len(all))
	for _, tab := range all {
		if q.Match(tab) {
			out = append(out, tab)
		}
	}
	return out, nil
}

func (c *Controller) ListWindows(ctx context.Context, f tabs.WindowFilter) ([]tabs.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh tabs: %w", err)
	}
	var out []tabs.Window
	for _, w := range tabs.GroupWindows(all) {
		if f.Match(w) {
			out = append(out, w)
		}
	}
	return out, nil
}

// CloseTabs closes each tab's target, if still loaded, and forgets the tab.
func (c *Controller) CloseTabs(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	var closed []string
	for _, id := range ids {
		rec, err := c.registry.Get(ctx, id)
		if errors.Is(err, registry.ErrTabNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.TargetID != "" && !rec.Discarded {
			if err := c.dt.CloseTarget(ctx, rec.TargetID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		closed = append(closed, id)
	}
	if err := c.registry.Delete(ctx, closed...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DiscardTabs closes the target of each loaded tab and keeps its record as
// a placeholder.
func (c *Controller) DiscardTabs(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	var discarded []tabs.Tab
	for _, id := range ids {
		rec, err := c.registry.Get(ctx, id)
		if errors.Is(err, registry.ErrTabNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec.Discarded {
			continue
		}
		if rec.TargetID != "" {
			if err := c.dt.CloseTarget(ctx, rec.TargetID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		rec.Discarded = true
		rec.TargetID = ""
		discarded = append(discarded, rec)
	}
	if err := c.registry.Put(ctx, discarded...); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HideTabs marks tabs hidden. Their idle age starts now.
func (c *Controller) HideTabs(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var hidden []tabs.Tab
	for _, id := range ids {
		rec, err := c.registry.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("hide tab %s: %w", id, err)
		}
		rec.Hidden = true
		rec.LastAccessed = now
		hidden = append(hidden, rec)
	}
	return c.registry.Put(ctx, hidden...)
}

// ShowTabs unhides tabs, reloading discarded ones, and activates the last.
func (c *Controller) ShowTabs(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var shown []tabs.Tab
	for _, id := range ids {
		rec, err := c.registry.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("show tab %s: %w", id, err)
		}
		if rec.Discarded || rec.TargetID == "" {
			targetID, err := c.dt.CreateTarget(ctx, rec.URL, true)
			if err != nil {
				return err
			}
			rec.TargetID = targetID
			rec.Discarded = false
		}
		rec.Hidden = false
		rec.LastAccessed = now
		shown = append(shown, rec)
	}
	if err := c.registry.Put(ctx, shown...); err != nil {
		return err
	}
	if len(shown) > 0 {
		return c.dt.ActivateTarget(ctx, shown[len(shown)-1].TargetID)
	}
	return nil
}

// OpenTab opens url in a new foreground tab and registers it.
func (c *Controller) OpenTab(ctx context.Context, url string) (tabs.Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	targetID, err := c.dt.CreateTarget(ctx, url, false)
	if err != nil {
		return tabs.Tab{}, err
	}
	windowID, err := c.dt.WindowForTarget(ctx, targetID)
	if err != nil {
		c.logger.Printf("chrome: %v", err)
	}
	rec := tabs.Tab{
		ID:           util.NewID("tab"),
		TargetID:     targetID,
		URL:          url,
		LastAccessed: c.now(),
		WindowID:     windowID,
		WindowType:   tabs.WindowNormal,
	}
	if err := c.registry.Put(ctx, rec); err != nil {
		return tabs.Tab{}, err
	}
	return rec, nil
}
