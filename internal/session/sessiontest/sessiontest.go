// Package sessiontest provides a scripted in-memory browser for exercising
// code built on session.Manager without launching Chrome.
package sessiontest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"sync"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/browser"
	"github.com/shehryarbajwa/certfetch/internal/session"
)

// Launcher counts launched and released fake browser processes.
type Launcher struct {
	// Err, when set, makes Launch fail.
	Err error

	mu       sync.Mutex
	launched int
	released int
}

func (l *Launcher) Launch(ctx context.Context) (*browser.Instance, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	l.launched++
	id := strconv.Itoa(l.launched)
	l.mu.Unlock()

	return browser.NewInstance(id, "ws://fake/"+id, func(context.Context) error {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
		return nil
	}), nil
}

// Launched returns how many browsers were started.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

// Released returns how many browsers were torn down.
func (l *Launcher) Released() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Live returns launched minus released.
func (l *Launcher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched - l.released
}

// Backend is a scripted DOM. Selector counts are looked up in Doc at top
// level and in FrameDoc once a frame has been entered.
type Backend struct {
	Doc      map[string]int
	FrameDoc map[string]int

	// ReadyStateValue is reported by ReadyState. Default "complete".
	ReadyStateValue string

	// WindowsAfterClick, when > 0, becomes the window count after any click.
	WindowsAfterClick int

	PageHTML   string
	PageURL    string
	CookieList []session.Cookie

	// Fail injects an error into the named method, e.g. "Screenshot".
	Fail map[string]error

	mu        sync.Mutex
	windows   int
	frame     string
	newWindow bool
	closed    bool
	navigated []string
	filled    map[string]string
	clicked   []string
	shots     int
}

// NewBackend returns a Backend with one open window and an empty document.
func NewBackend() *Backend {
	return &Backend{
		Doc:             make(map[string]int),
		FrameDoc:        make(map[string]int),
		ReadyStateValue: "complete",
		Fail:            make(map[string]error),
		windows:         1,
		filled:          make(map[string]string),
	}
}

// Attach is a session.AttachFunc returning b.
func (b *Backend) Attach(context.Context, *browser.Instance, session.Config) (session.Backend, error) {
	if err := b.Fail["Attach"]; err != nil {
		return nil, err
	}
	return b, nil
}

// Closed reports whether the session closed the backend.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Navigated returns every URL passed to Navigate.
func (b *Backend) Navigated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigated...)
}

// Filled returns the value typed into selector.
func (b *Backend) Filled(selector string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.filled[selector]
	return v, ok
}

// Clicked returns every clicked selector.
func (b *Backend) Clicked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicked...)
}

// Shots returns how many element screenshots were taken.
func (b *Backend) Shots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shots
}

// InFrame returns the selector of the entered frame, if any.
func (b *Backend) InFrame() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

func (b *Backend) fail(method string) error {
	if b.closed {
		return errors.New("sessiontest: backend used after close")
	}
	return b.Fail[method]
}

func (b *Backend) count(selector string) int {
	if b.frame != "" {
		return b.FrameDoc[selector]
	}
	return b.Doc[selector]
}

func (b *Backend) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Navigate"); err != nil {
		return err
	}
	b.navigated = append(b.navigated, url)
	b.frame = ""
	if b.PageURL == "" {
		b.PageURL = url
	}
	return nil
}

func (b *Backend) Count(ctx context.Context, selector string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Count"); err != nil {
		return 0, err
	}
	return b.count(selector), nil
}

func (b *Backend) ReadyState(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("ReadyState"); err != nil {
		return "", err
	}
	return b.ReadyStateValue, nil
}

func (b *Backend) Windows(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Windows"); err != nil {
		return 0, err
	}
	return b.windows, nil
}

func (b *Backend) FocusNewWindow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("FocusNewWindow"); err != nil {
		return err
	}
	if b.windows < 2 {
		return apperr.ErrWindowNotOpened
	}
	b.newWindow = true
	b.frame = ""
	return nil
}

func (b *Backend) EnterFrame(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("EnterFrame"); err != nil {
		return err
	}
	if b.count(selector) == 0 {
		return apperr.ErrElementNotFound
	}
	b.frame = selector
	return nil
}

func (b *Backend) Query(ctx context.Context, selector string) ([]session.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Query"); err != nil {
		return nil, err
	}
	n := b.count(selector)
	out := make([]session.Element, n)
	for i := range out {
		out[i] = session.NewElement(selector, i, i)
	}
	return out, nil
}

func (b *Backend) Fill(ctx context.Context, selector, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Fill"); err != nil {
		return err
	}
	if b.count(selector) == 0 {
		return apperr.ErrElementNotFound
	}
	b.filled[selector] = value
	return nil
}

func (b *Backend) Click(ctx context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Click"); err != nil {
		return err
	}
	if b.count(selector) == 0 {
		return apperr.ErrElementNotFound
	}
	b.clicked = append(b.clicked, selector)
	if b.WindowsAfterClick > 0 {
		b.windows = b.WindowsAfterClick
	}
	return nil
}

func (b *Backend) ScrollIntoView(ctx context.Context, el session.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail("ScrollIntoView")
}

// Screenshot returns a distinct PNG per element: a 1-pixel-high image whose
// width is the element's index plus one.
func (b *Backend) Screenshot(ctx context.Context, el session.Element) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Screenshot"); err != nil {
		return nil, err
	}
	b.shots++
	return PNG(el.Index + 1), nil
}

func (b *Backend) Cookies(ctx context.Context) ([]session.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Cookies"); err != nil {
		return nil, err
	}
	return append([]session.Cookie(nil), b.CookieList...), nil
}

func (b *Backend) HTML(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("HTML"); err != nil {
		return "", err
	}
	return b.PageHTML, nil
}

func (b *Backend) Location(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Location"); err != nil {
		return "", err
	}
	return b.PageURL, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// PNG encodes a width x 1 grey image.
func PNG(width int) []byte {
	img := image.NewGray(image.Rect(0, 0, width, 1))
	for x := 0; x < width; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(x * 16)})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("sessiontest: encode png: %v", err))
	}
	return buf.Bytes()
}
