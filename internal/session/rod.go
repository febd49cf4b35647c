package session

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/browser"
)

type rodBackend struct {
	browser *rod.Browser
	page    *rod.Page // focused window
	frame   *rod.Page // focused frame; equals page at top level
}

// AttachRod drives the browser with go-rod.
func AttachRod(ctx context.Context, inst *browser.Instance, cfg Config) (Backend, error) {
	b := rod.New().ControlURL(inst.ControlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	var (
		p   *rod.Page
		err error
	)
	if cfg.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Context(ctx).Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	p = p.Context(context.Background())

	// Chrome starts with a blank tab of its own; close it so window counts
	// only see pages this session opened.
	if pages, err := b.Pages(); err == nil {
		for _, other := range pages {
			if other.TargetID != p.TargetID {
				_ = other.Close()
			}
		}
	}

	return &rodBackend{browser: b, page: p, frame: p}, nil
}

func (r *rodBackend) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	r.frame = r.page
	return p.WaitLoad()
}

func (r *rodBackend) Count(ctx context.Context, selector string) (int, error) {
	els, err := r.frame.Context(ctx).Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (r *rodBackend) ReadyState(ctx context.Context) (string, error) {
	res, err := r.frame.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (r *rodBackend) Windows(ctx context.Context) (int, error) {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (r *rodBackend) FocusNewWindow(ctx context.Context) error {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return err
	}
	var next *rod.Page
	for i := len(pages) - 1; i >= 0; i-- {
		if pages[i].TargetID != r.page.TargetID {
			next = pages[i]
			break
		}
	}
	if next == nil {
		return apperr.ErrWindowNotOpened
	}
	if _, err := next.Context(ctx).Activate(); err != nil {
		return err
	}
	next = next.Context(context.Background())
	r.page, r.frame = next, next
	return nil
}

func (r *rodBackend) EnterFrame(ctx context.Context, selector string) error {
	el, err := r.first(ctx, selector)
	if err != nil {
		return err
	}
	fr, err := el.Frame()
	if err != nil {
		return err
	}
	if err := fr.Context(ctx).WaitLoad(); err != nil {
		return err
	}
	r.frame = fr.Context(context.Background())
	return nil
}

func (r *rodBackend) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := r.frame.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = NewElement(selector, i, el)
	}
	return out, nil
}

func (r *rodBackend) Fill(ctx context.Context, selector, value string) error {
	el, err := r.first(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Input(value)
}

func (r *rodBackend) Click(ctx context.Context, selector string) error {
	el, err := r.first(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (r *rodBackend) ScrollIntoView(ctx context.Context, el Element) error {
	node, err := rodElement(el)
	if err != nil {
		return err
	}
	_, err = node.Context(ctx).Eval(`() => this.scrollIntoView({block: 'center'})`)
	return err
}

func (r *rodBackend) Screenshot(ctx context.Context, el Element) ([]byte, error) {
	node, err := rodElement(el)
	if err != nil {
		return nil, err
	}
	return node.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (r *rodBackend) Cookies(ctx context.Context) ([]Cookie, error) {
	cs, err := r.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (r *rodBackend) HTML(ctx context.Context) (string, error) {
	return r.page.Context(ctx).HTML()
}

func (r *rodBackend) Location(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *rodBackend) Close() error {
	return r.browser.Close()
}

func (r *rodBackend) first(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := r.frame.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, apperr.ErrElementNotFound
	}
	return els.First(), nil
}

func rodElement(el Element) (*rod.Element, error) {
	node, ok := el.Ref().(*rod.Element)
	if !ok || node == nil {
		return nil, fmt.Errorf("element %s[%d] does not belong to this session", el.Selector, el.Index)
	}
	return node, nil
}
