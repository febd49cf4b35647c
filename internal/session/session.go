// Package session drives one headless browser for the duration of a single
// task. A Session is only reachable inside Manager.Do and is torn down,
// together with its browser process, before Do returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/browser"
)

// Cookie is a browser cookie copied out of the session.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Element is a handle to a DOM node located by a Backend. It is only valid
// inside the window and frame it was found in.
type Element struct {
	Selector string
	Index    int
	ref      any
}

// NewElement builds an Element around a backend-specific node reference.
func NewElement(selector string, index int, ref any) Element {
	return Element{Selector: selector, Index: index, ref: ref}
}

// Ref returns the backend-specific node reference.
func (e Element) Ref() any { return e.ref }

// Backend is the engine-level view of one browser. Every call acts on the
// focused window and, where it makes sense, the focused frame. Calls never
// wait for elements to appear; Session layers the bounded waits on top.
type Backend interface {
	Navigate(ctx context.Context, url string) error
	Count(ctx context.Context, selector string) (int, error)
	ReadyState(ctx context.Context) (string, error)
	Windows(ctx context.Context) (int, error)
	FocusNewWindow(ctx context.Context) error
	EnterFrame(ctx context.Context, selector string) error
	Query(ctx context.Context, selector string) ([]Element, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	ScrollIntoView(ctx context.Context, el Element) error
	Screenshot(ctx context.Context, el Element) ([]byte, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Close() error
}

// Condition is something WaitUntil can poll for.
type Condition struct {
	desc  string
	check func(ctx context.Context, b Backend) (bool, error)
}

func (c Condition) String() string { return c.desc }

// ElementPresent holds once selector matches at least one node.
func ElementPresent(selector string) Condition {
	return Condition{
		desc: fmt.Sprintf("element %q present", selector),
		check: func(ctx context.Context, b Backend) (bool, error) {
			n, err := b.Count(ctx, selector)
			return n > 0, err
		},
	}
}

// DocumentReady holds once document.readyState is "complete".
func DocumentReady() Condition {
	return Condition{
		desc: "document ready",
		check: func(ctx context.Context, b Backend) (bool, error) {
			state, err := b.ReadyState(ctx)
			return state == "complete", err
		},
	}
}

// WindowCount holds while exactly n windows are open.
func WindowCount(n int) Condition {
	return Condition{
		desc: fmt.Sprintf("%d windows open", n),
		check: func(ctx context.Context, b Backend) (bool, error) {
			got, err := b.Windows(ctx)
			return got == n, err
		},
	}
}

// Session is an exclusively owned browser bound to one task.
type Session struct {
	id      string
	backend Backend
	poll    time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	released bool
}

// ID identifies the underlying browser instance.
func (s *Session) ID() string { return s.id }

func (s *Session) live(op string) (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.backend == nil {
		return nil, apperr.E(apperr.KindInternal, op, apperr.ErrSessionReleased)
	}
	return s.backend, nil
}

// Navigate loads url in the focused window and resets frame focus.
func (s *Session) Navigate(ctx context.Context, url string) error {
	const op = "session.navigate"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	if err := b.Navigate(ctx, url); err != nil {
		return classify(op, err)
	}
	return nil
}

// WaitUntil blocks until cond holds or timeout elapses.
func (s *Session) WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) error {
	const op = "session.wait"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	return s.waitFor(ctx, op, cond.desc, timeout, func(ctx context.Context) (bool, error) {
		return cond.check(ctx, b)
	})
}

// Fill types value into the first element matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	const op = "session.fill"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	if err := b.Fill(ctx, selector, value); err != nil {
		return classify(op, fmt.Errorf("%s: %w", selector, err))
	}
	return nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	const op = "session.click"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	if err := b.Click(ctx, selector); err != nil {
		return classify(op, fmt.Errorf("%s: %w", selector, err))
	}
	return nil
}

// SwitchToNewWindow waits until exactly expected windows are open and moves
// focus to the one that is not currently focused.
func (s *Session) SwitchToNewWindow(ctx context.Context, expected int, timeout time.Duration) error {
	const op = "session.switch_window"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	cond := WindowCount(expected)
	err = s.waitFor(ctx, op, cond.desc, timeout, func(ctx context.Context) (bool, error) {
		return cond.check(ctx, b)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindTimeout {
			return apperr.Errorf(apperr.KindTimeout, op, "%w: wanted %d within %s", apperr.ErrWindowNotOpened, expected, timeout)
		}
		return err
	}
	if err := b.FocusNewWindow(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

// SwitchToFrame waits for the frame element matching selector and moves
// focus into its document.
func (s *Session) SwitchToFrame(ctx context.Context, selector string, timeout time.Duration) error {
	const op = "session.switch_frame"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	return s.waitFor(ctx, op, fmt.Sprintf("frame %q available", selector), timeout, func(ctx context.Context) (bool, error) {
		n, err := b.Count(ctx, selector)
		if err != nil || n == 0 {
			return false, err
		}
		if err := b.EnterFrame(ctx, selector); err != nil {
			return false, err
		}
		return true, nil
	})
}

// FindAll waits until selector matches at least one node and returns every
// match in document order.
func (s *Session) FindAll(ctx context.Context, selector string, timeout time.Duration) ([]Element, error) {
	const op = "session.find_all"
	b, err := s.live(op)
	if err != nil {
		return nil, err
	}
	cond := ElementPresent(selector)
	err = s.waitFor(ctx, op, cond.desc, timeout, func(ctx context.Context) (bool, error) {
		return cond.check(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	els, err := b.Query(ctx, selector)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(els) == 0 {
		return nil, apperr.Errorf(apperr.KindNotFound, op, "%w: %s", apperr.ErrElementNotFound, selector)
	}
	return els, nil
}

// ScrollIntoView scrolls el to the vertical centre of the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, el Element) error {
	const op = "session.scroll"
	b, err := s.live(op)
	if err != nil {
		return err
	}
	if err := b.ScrollIntoView(ctx, el); err != nil {
		return classify(op, err)
	}
	return nil
}

// Screenshot captures el alone as PNG.
func (s *Session) Screenshot(ctx context.Context, el Element) ([]byte, error) {
	const op = "session.screenshot"
	b, err := s.live(op)
	if err != nil {
		return nil, err
	}
	png, err := b.Screenshot(ctx, el)
	if err != nil {
		return nil, classify(op, err)
	}
	return png, nil
}

// Cookies returns every cookie the browser currently holds.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	const op = "session.cookies"
	b, err := s.live(op)
	if err != nil {
		return nil, err
	}
	cs, err := b.Cookies(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	return cs, nil
}

// HTML returns the serialised top-level document of the focused window.
func (s *Session) HTML(ctx context.Context) (string, error) {
	const op = "session.html"
	b, err := s.live(op)
	if err != nil {
		return "", err
	}
	html, err := b.HTML(ctx)
	if err != nil {
		return "", classify(op, err)
	}
	return html, nil
}

// Location returns the URL of the focused window after redirects.
func (s *Session) Location(ctx context.Context) (string, error) {
	const op = "session.location"
	b, err := s.live(op)
	if err != nil {
		return "", err
	}
	loc, err := b.Location(ctx)
	if err != nil {
		return "", classify(op, err)
	}
	return loc, nil
}

// waitFor polls check until it reports true or timeout elapses. Errors from
// check count as "not yet"; the last one is kept for the timeout message.
func (s *Session) waitFor(ctx context.Context, op, what string, timeout time.Duration, check func(context.Context) (bool, error)) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := check(wctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return apperr.E(apperr.KindInternal, op, err)
			}
			if lastErr != nil {
				return apperr.Errorf(apperr.KindTimeout, op, "%w: %s after %s (last error: %v)", apperr.ErrTimeout, what, timeout, lastErr)
			}
			return apperr.Errorf(apperr.KindTimeout, op, "%w: %s after %s", apperr.ErrTimeout, what, timeout)
		case <-ticker.C:
		}
	}
}

// release closes the backend and then the browser process. It is safe to call
// more than once; only the first call does anything.
func (s *Session) release(inst *browser.Instance) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	b := s.backend
	s.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			s.log.Debug("session: backend close", "session", s.id, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := inst.Release(ctx); err != nil {
		s.log.Warn("session: browser release failed", "session", s.id, "error", err)
		return
	}
	s.log.Debug("session: released", "session", s.id)
}

func classify(op string, err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, apperr.ErrElementNotFound):
		return apperr.E(apperr.KindNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Errorf(apperr.KindTimeout, op, "%w: %w", apperr.ErrTimeout, err)
	default:
		return apperr.E(apperr.KindInternal, op, err)
	}
}
