package session

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/browser"
)

type chromedpBackend struct {
	allocCancel context.CancelFunc
	tab         context.Context // focused window
	cancels     []context.CancelFunc
	frame       *cdp.Node // focused frame element; nil at top level

	// foreign holds page targets that existed before this session opened
	// its own tab. They are ignored by window counting.
	foreign map[target.ID]bool
}

// AttachChromedp drives the browser with chromedp over its DevTools URL.
func AttachChromedp(ctx context.Context, inst *browser.Instance, _ Config) (Backend, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), inst.ControlURL, chromedp.NoModifyURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &chromedpBackend{
		allocCancel: allocCancel,
		tab:         tabCtx,
		cancels:     []context.CancelFunc{tabCancel},
		foreign:     make(map[target.ID]bool),
	}

	if err := attachTab(ctx, tabCtx, tabCancel); err != nil {
		c.Close()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	targets, err := chromedp.Targets(tabCtx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}
	own := c.targetID()
	for _, t := range targets {
		if t.Type == "page" && t.TargetID != own {
			c.foreign[t.TargetID] = true
		}
	}
	return c, nil
}

// attachTab makes the first Run on tab. chromedp ties a tab's lifetime to the
// context of its first Run, so it must be tab itself; ctx only bounds the
// attach.
func attachTab(ctx, tab context.Context, cancel context.CancelFunc) error {
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tab); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// run executes actions in the focused tab, bounded by ctx.
func (c *chromedpBackend) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (c *chromedpBackend) targetID() target.ID {
	if t := chromedp.FromContext(c.tab).Target; t != nil {
		return t.TargetID
	}
	return ""
}

func (c *chromedpBackend) scope() []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if c.frame != nil {
		opts = append(opts, chromedp.FromNode(c.frame))
	}
	return opts
}

func (c *chromedpBackend) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(selector, &nodes, c.scope()...)); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (c *chromedpBackend) Navigate(ctx context.Context, url string) error {
	c.frame = nil
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *chromedpBackend) Count(ctx context.Context, selector string) (int, error) {
	nodes, err := c.nodes(ctx, selector)
	return len(nodes), err
}

func (c *chromedpBackend) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := c.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

func (c *chromedpBackend) pages(ctx context.Context) ([]*target.Info, error) {
	var targets []*target.Info
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targets, err = chromedp.Targets(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := targets[:0]
	for _, t := range targets {
		if t.Type == "page" && !c.foreign[t.TargetID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *chromedpBackend) Windows(ctx context.Context) (int, error) {
	pages, err := c.pages(ctx)
	return len(pages), err
}

func (c *chromedpBackend) FocusNewWindow(ctx context.Context) error {
	pages, err := c.pages(ctx)
	if err != nil {
		return err
	}
	current := c.targetID()
	var next target.ID
	for i := len(pages) - 1; i >= 0; i-- {
		if pages[i].TargetID != current {
			next = pages[i].TargetID
			break
		}
	}
	if next == "" {
		return apperr.ErrWindowNotOpened
	}

	tabCtx, cancel := chromedp.NewContext(c.tab, chromedp.WithTargetID(next))
	c.cancels = append(c.cancels, cancel)
	if err := attachTab(ctx, tabCtx, cancel); err != nil {
		return err
	}
	c.tab = tabCtx
	c.frame = nil
	return c.run(ctx, page.BringToFront())
}

func (c *chromedpBackend) EnterFrame(ctx context.Context, selector string) error {
	nodes, err := c.nodes(ctx, selector)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return apperr.ErrElementNotFound
	}
	c.frame = nodes[0]
	return nil
}

func (c *chromedpBackend) Query(ctx context.Context, selector string) ([]Element, error) {
	nodes, err := c.nodes(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = NewElement(selector, i, n)
	}
	return out, nil
}

func (c *chromedpBackend) Fill(ctx context.Context, selector, value string) error {
	if err := c.require(ctx, selector); err != nil {
		return err
	}
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if c.frame != nil {
		opts = append(opts, chromedp.FromNode(c.frame))
	}
	return c.run(ctx, chromedp.SendKeys(selector, value, opts...))
}

func (c *chromedpBackend) Click(ctx context.Context, selector string) error {
	if err := c.require(ctx, selector); err != nil {
		return err
	}
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if c.frame != nil {
		opts = append(opts, chromedp.FromNode(c.frame))
	}
	return c.run(ctx, chromedp.Click(selector, opts...))
}

func (c *chromedpBackend) require(ctx context.Context, selector string) error {
	n, err := c.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrElementNotFound
	}
	return nil
}

func (c *chromedpBackend) ScrollIntoView(ctx context.Context, el Element) error {
	node, err := cdpNode(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		_, exc, err := runtime.CallFunctionOn(`function() { this.scrollIntoView({block: 'center'}); }`).
			WithObjectID(obj.ObjectID).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return nil
	}))
}

func (c *chromedpBackend) Screenshot(ctx context.Context, el Element) ([]byte, error) {
	node, err := cdpNode(el)
	if err != nil {
		return nil, err
	}
	var buf []byte
	if err := c.run(ctx, chromedp.Screenshot([]cdp.NodeID{node.NodeID}, &buf, chromedp.ByNodeID)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *chromedpBackend) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cs {
			out = append(out, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
			})
		}
		return nil
	}))
	return out, err
}

func (c *chromedpBackend) HTML(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (c *chromedpBackend) Location(ctx context.Context) (string, error) {
	var loc string
	err := c.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (c *chromedpBackend) Close() error {
	for i := len(c.cancels) - 1; i >= 0; i-- {
		c.cancels[i]()
	}
	c.allocCancel()
	return nil
}

func cdpNode(el Element) (*cdp.Node, error) {
	node, ok := el.Ref().(*cdp.Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("element %s[%d] does not belong to this session", el.Selector, el.Index)
	}
	return node, nil
}
