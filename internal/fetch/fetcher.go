// Package fetch downloads PDF documents over HTTP, optionally carrying the
// cookies of a browser session.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/cookies"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
)

// DefaultUserAgent mimics desktop Chrome; some portals refuse unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // Whole-request timeout. Default: 30s.
	MaxBytes  int64         // Max response body size. Default: 50MB.
	UserAgent string

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs single GET requests for PDF documents.
type Fetcher struct {
	config Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{config: cfg}
}

// Fetch downloads url and returns its body once the first bytes prove it is
// a PDF. auth may be nil.
func (f *Fetcher) Fetch(ctx context.Context, url string, auth *cookies.AuthContext) (pdfdoc.Bytes, error) {
	const op = "fetch.get"

	client := &http.Client{
		Timeout:   f.config.Timeout,
		Transport: f.config.Transport,
	}
	if auth.Len() > 0 {
		jar, err := auth.Jar()
		if err != nil {
			return pdfdoc.Bytes{}, apperr.E(apperr.KindInternal, op, err)
		}
		client.Jar = jar
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pdfdoc.Bytes{}, apperr.E(apperr.KindInternal, op, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return pdfdoc.Bytes{}, f.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pdfdoc.Bytes{}, apperr.Errorf(apperr.KindInternal, op, "%w: http %d", apperr.ErrUpstreamStatus, resp.StatusCode)
	}

	head := make([]byte, len(pdfdoc.Magic))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return pdfdoc.Bytes{}, f.transportError(ctx, op, err)
	}
	if !pdfdoc.HasMagic(head[:n]) {
		return pdfdoc.Bytes{}, apperr.Errorf(apperr.KindUpstreamFormat, op, "%w: leading bytes %q (content-type %q)",
			apperr.ErrNotAPdf, head[:n], resp.Header.Get("Content-Type"))
	}

	var buf bytes.Buffer
	buf.Write(head)
	limit := f.config.MaxBytes - int64(n)
	read, err := io.Copy(&buf, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return pdfdoc.Bytes{}, f.transportError(ctx, op, err)
	}
	if read > limit {
		return pdfdoc.Bytes{}, apperr.Errorf(apperr.KindInternal, op, "response exceeds %d bytes", f.config.MaxBytes)
	}

	doc, err := pdfdoc.Verify(buf.Bytes())
	if err != nil {
		return pdfdoc.Bytes{}, err
	}
	f.config.Logger.Debug("fetch: downloaded", "url", url, "bytes", doc.Len(), "duration", time.Since(start))
	return doc, nil
}

// transportError classifies a failed round trip or body read.
func (f *Fetcher) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperr.E(apperr.KindInternal, op, err)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apperr.Errorf(apperr.KindTimeout, op, "%w: %w", apperr.ErrTimeout, err)
	}
	return apperr.E(apperr.KindInternal, op, fmt.Errorf("http get: %w", err))
}
