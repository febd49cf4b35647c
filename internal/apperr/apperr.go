// Package apperr classifies pipeline failures into the small set of kinds
// the HTTP surface knows how to report.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstreamFormat
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found_on_remote"
	case KindUpstreamFormat:
		return "upstream_format"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Sentinel causes. They are wrapped in an *Error carrying the kind.
var (
	ErrTimeout         = errors.New("timed out")
	ErrWindowNotOpened = errors.New("expected window did not open")
	ErrElementNotFound = errors.New("element not found")
	ErrSessionReleased = errors.New("browser session already released")
	ErrNotAPdf         = errors.New("payload is not a PDF")
	ErrUpstreamStatus  = errors.New("unexpected upstream status")
	ErrDocumentEmpty   = errors.New("document has no pages")
	ErrInvalidQRURL    = errors.New("QR payload is not an http(s) URL")
	ErrQRNotFound      = errors.New("QR code not found")
	ErrLinkNotFound    = errors.New("download link not found")
	ErrRender          = errors.New("render failed")
	ErrNoPages         = errors.New("no pages produced")
)

// Error is a classified failure. Msg, when set, is safe to show to callers;
// Err holds the diagnostic cause and is only ever logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Msg
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the operation that detected it.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error around a formatted cause. The format may
// use %w.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithMessage returns a copy of e carrying a caller-facing message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Msg = msg
	return &c
}

// KindOf reports the kind of err. Unclassified deadline errors count as
// timeouts; anything else unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	return KindInternal
}

// Message returns the short caller-facing text for err. It never includes
// the underlying cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	switch KindOf(err) {
	case KindValidation:
		return "invalid request"
	case KindNotFound:
		return "download link not found on the landing page"
	case KindUpstreamFormat:
		return "remote document is not a valid PDF"
	case KindTimeout:
		return "remote site did not respond in time"
	default:
		return "internal error while retrieving the document"
	}
}
