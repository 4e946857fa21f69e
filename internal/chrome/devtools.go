package chrome

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// PageTarget is the subset of a DevTools target the controller works with.
type PageTarget struct {
	ID        string
	URL       string
	Title     string
	OpenerID  string
	ContextID string
}

// devtools is the browser connection. The chromedp implementation talks to a
// real browser; tests substitute a fake.
type devtools interface {
	Pages(ctx context.Context) ([]PageTarget, error)
	DefaultContextID(ctx context.Context) (string, error)
	WindowForTarget(ctx context.Context, targetID string) (string, error)
	CloseTarget(ctx context.Context, targetID string) error
	CreateTarget(ctx context.Context, url string, background bool) (string, error)
	ActivateTarget(ctx context.Context, targetID string) error
}

type chromeDevtools struct {
	browserCtx context.Context
}

// dial connects to a running browser at remoteURL, or launches headless
// chromium when remoteURL is empty. The returned cancel func releases the
// connection and any launched process.
func dial(ctx context.Context, remoteURL string) (*chromeDevtools, context.CancelFunc, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if remoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("connect to browser: %w", err)
	}
	return &chromeDevtools{browserCtx: browserCtx}, cancel, nil
}

// exec scopes browser-level commands to the browser connection while still
// honoring ctx's cancellation.
func (d *chromeDevtools) exec(ctx context.Context) context.Context {
	c := chromedp.FromContext(d.browserCtx)
	execCtx := cdp.WithExecutor(ctx, c.Browser)
	return execCtx
}

func (d *chromeDevtools) Pages(ctx context.Context) ([]PageTarget, error) {
	infos, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var own target.ID
	if c := chromedp.FromContext(d.browserCtx); c != nil && c.Target != nil {
		own = c.Target.TargetID
	}
	return userPages(infos, own), nil
}

// userPages keeps page targets other than own, the blank page chromedp
// opens for the daemon's session.
func userPages(infos []*target.Info, own target.ID) []PageTarget {
	pages := make([]PageTarget, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" || (own != "" && info.TargetID == own) {
			continue
		}
		pages = append(pages, toPageTarget(info))
	}
	return pages
}

func (d *chromeDevtools) DefaultContextID(ctx context.Context) (string, error) {
	c := chromedp.FromContext(d.browserCtx)
	if c == nil || c.Target == nil {
		return "", fmt.Errorf("browser context not started")
	}
	own := c.Target.TargetID
	infos, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	for _, info := range infos {
		if info.TargetID == own {
			return string(info.BrowserContextID), nil
		}
	}
	return "", fmt.Errorf("own target %s not listed", own)
}

func (d *chromeDevtools) WindowForTarget(ctx context.Context, targetID string) (string, error) {
	windowID, _, err := browser.GetWindowForTarget().WithTargetID(target.ID(targetID)).Do(d.exec(ctx))
	if err != nil {
		return "", fmt.Errorf("window for target %s: %w", targetID, err)
	}
	return strconv.FormatInt(int64(windowID), 10), nil
}

func (d *chromeDevtools) CloseTarget(ctx context.Context, targetID string) error {
	if err := target.CloseTarget(target.ID(targetID)).Do(d.exec(ctx)); err != nil {
		return fmt.Errorf("close target %s: %w", targetID, err)
	}
	return nil
}

func (d *chromeDevtools) CreateTarget(ctx context.Context, url string, background bool) (string, error) {
	id, err := target.CreateTarget(url).WithBackground(background).Do(d.exec(ctx))
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	return string(id), nil
}

func (d *chromeDevtools) ActivateTarget(ctx context.Context, targetID string) error {
	if err := target.ActivateTarget(target.ID(targetID)).Do(d.exec(ctx)); err != nil {
		return fmt.Errorf("activate target %s: %w", targetID, err)
	}
	return nil
}

func toPageTarget(info *target.Info) PageTarget {
	return PageTarget{
		ID:        string(info.TargetID),
		URL:       info.URL,
		Title:     info.Title,
		OpenerID:  string(info.OpenerID),
		ContextID: string(info.BrowserContextID),
	}
}
