package workflow

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/archive"
	"github.com/shehryarbajwa/certfetch/internal/config"
	"github.com/shehryarbajwa/certfetch/internal/cookies"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc"
	"github.com/shehryarbajwa/certfetch/internal/qr"
	"github.com/shehryarbajwa/certfetch/internal/render"
	"github.com/shehryarbajwa/certfetch/internal/session"
)

var authQRStates = []State{
	StateIdle,
	StateQRDecoded,
	StateURLValidated,
	StateLandingLoaded,
	StateLinkParsed,
	StateSessionBridged,
	StatePDFFetched,
	StatePDFValidated,
	StatePackaged,
	StateDone,
}

var directQRStates = []State{
	StateIdle,
	StateQRDecoded,
	StateURLValidated,
	StatePDFFetched,
	StatePDFValidated,
	StatePackaged,
	StateDone,
}

// QRDecoder reads the QR code of an uploaded PDF. *qr.Extractor satisfies it.
type QRDecoder interface {
	Extract(ctx context.Context, src qr.Source) (string, bool, error)
}

// Fetcher downloads a PDF. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, auth *cookies.AuthContext) (pdfdoc.Bytes, error)
}

// QRConfig is shared by both QR workflows.
type QRConfig struct {
	RenderDPI float64
	// StrictPDF adds a structural check of the downloaded document on top of
	// the magic bytes.
	StrictPDF bool
	Logger    *slog.Logger
}

func (c *QRConfig) defaults() {
	if c.RenderDPI <= 0 {
		c.RenderDPI = render.DefaultDPI
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// qrPipeline holds the steps both QR workflows share.
type qrPipeline struct {
	name    string
	decoder QRDecoder
	fetcher Fetcher
	opener  pdfdoc.Opener
	cfg     QRConfig
}

// decode runs idle -> qr_decoded -> url_validated. No network access happens
// before the URL has been validated.
func (p *qrPipeline) decode(ctx context.Context, m *machine, upload []byte) (string, error) {
	op := "workflow." + p.name
	text, found, err := p.decoder.Extract(ctx, qr.FromBytes(upload))
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperr.E(apperr.KindValidation, op, apperr.ErrQRNotFound).WithMessage("QR code not found")
	}
	if err := m.advance(StateQRDecoded); err != nil {
		return "", err
	}

	u, ok := validateQRURL(text)
	if !ok {
		return "", apperr.Errorf(apperr.KindValidation, op, "%w: %q", apperr.ErrInvalidQRURL, text).
			WithMessage("QR code does not contain an http(s) URL")
	}
	if err := m.advance(StateURLValidated); err != nil {
		return "", err
	}
	return u.String(), nil
}

// download runs pdf_fetched -> pdf_validated -> packaged -> done.
func (p *qrPipeline) download(ctx context.Context, m *machine, url string, auth *cookies.AuthContext) (*Result, error) {
	doc, err := p.fetcher.Fetch(ctx, url, auth)
	if err != nil {
		return nil, err
	}
	if err := m.advance(StatePDFFetched); err != nil {
		return nil, err
	}

	if p.cfg.StrictPDF {
		info, err := pdfdoc.Inspect(doc)
		if err != nil {
			return nil, apperr.E(apperr.KindUpstreamFormat, "workflow."+p.name, err)
		}
		if info.Pages < 1 {
			return nil, apperr.E(apperr.KindUpstreamFormat, "workflow."+p.name, apperr.ErrDocumentEmpty)
		}
	}
	if err := m.advance(StatePDFValidated); err != nil {
		return nil, err
	}

	images, err := render.FromPDF(ctx, p.opener, doc, p.cfg.RenderDPI)
	if err != nil {
		return nil, err
	}
	zip, err := archive.Pack(images)
	if err != nil {
		return nil, err
	}
	if err := m.advance(StatePackaged); err != nil {
		return nil, err
	}
	if err := m.advance(StateDone); err != nil {
		return nil, err
	}
	return m.result(zip, len(images)), nil
}

func (p *qrPipeline) failed(ctx context.Context, m *machine, err error) error {
	level := slog.LevelError
	if apperr.KindOf(err) == apperr.KindValidation {
		level = slog.LevelInfo
	}
	p.cfg.Logger.Log(ctx, level, "workflow: failed",
		"workflow", p.name,
		"state", m.state(),
		"kind", apperr.KindOf(err),
		"request_id", RequestID(ctx),
		"error", err,
	)
	return m.fail(err)
}

func (p *qrPipeline) done(ctx context.Context, r *Result) {
	p.cfg.Logger.Info("workflow: completed", "workflow", p.name, "pages", r.Pages, "request_id", RequestID(ctx))
}

// DirectQRWorkflow downloads the PDF a QR code points at without a browser.
type DirectQRWorkflow struct {
	qrPipeline
}

// NewDirectQRWorkflow creates a DirectQRWorkflow.
func NewDirectQRWorkflow(decoder QRDecoder, fetcher Fetcher, opener pdfdoc.Opener, cfg QRConfig) *DirectQRWorkflow {
	cfg.defaults()
	return &DirectQRWorkflow{qrPipeline{name: "kotiti", decoder: decoder, fetcher: fetcher, opener: opener, cfg: cfg}}
}

// Name identifies the workflow in logs and archive names.
func (w *DirectQRWorkflow) Name() string { return w.name }

// Status maps a Run error to an HTTP status.
func (w *DirectQRWorkflow) Status(err error) int {
	return Status(err, http.StatusGatewayTimeout)
}

// Run executes the workflow over an uploaded PDF.
func (w *DirectQRWorkflow) Run(ctx context.Context, upload []byte) (*Result, error) {
	m := newMachine(w.name, directQRStates)
	url, err := w.decode(ctx, m, upload)
	if err != nil {
		return nil, w.failed(ctx, m, err)
	}
	res, err := w.download(ctx, m, url, nil)
	if err != nil {
		return nil, w.failed(ctx, m, err)
	}
	w.done(ctx, res)
	return res, nil
}

// AuthQRWorkflow opens the QR's landing page in a browser to obtain a
// session, then downloads the linked PDF with that session's cookies.
type AuthQRWorkflow struct {
	qrPipeline
	sessions *session.Manager
	portal   config.QRPortal
}

// NewAuthQRWorkflow creates an AuthQRWorkflow.
func NewAuthQRWorkflow(decoder QRDecoder, sessions *session.Manager, fetcher Fetcher, opener pdfdoc.Opener, portal config.QRPortal, cfg QRConfig) *AuthQRWorkflow {
	cfg.defaults()
	return &AuthQRWorkflow{
		qrPipeline: qrPipeline{name: "katri", decoder: decoder, fetcher: fetcher, opener: opener, cfg: cfg},
		sessions:   sessions,
		portal:     portal,
	}
}

// Name identifies the workflow in logs and archive names.
func (w *AuthQRWorkflow) Name() string { return w.name }

// Status maps a Run error to an HTTP status.
func (w *AuthQRWorkflow) Status(err error) int {
	return Status(err, http.StatusGatewayTimeout)
}

// Run executes the workflow over an uploaded PDF. The browser is released
// before the download starts.
func (w *AuthQRWorkflow) Run(ctx context.Context, upload []byte) (*Result, error) {
	m := newMachine(w.name, authQRStates)
	landing, err := w.decode(ctx, m, upload)
	if err != nil {
		return nil, w.failed(ctx, m, err)
	}

	var (
		target string
		auth   cookies.AuthContext
	)
	err = w.sessions.Do(ctx, func(ctx context.Context, s *session.Session) error {
		var err error
		target, auth, err = w.visit(ctx, m, s, landing)
		return err
	})
	if err != nil {
		return nil, w.failed(ctx, m, err)
	}

	res, err := w.download(ctx, m, target, &auth)
	if err != nil {
		return nil, w.failed(ctx, m, err)
	}
	w.done(ctx, res)
	return res, nil
}

// visit runs landing_loaded -> link_parsed -> session_bridged inside the
// browser session.
func (w *AuthQRWorkflow) visit(ctx context.Context, m *machine, s *session.Session, landing string) (string, cookies.AuthContext, error) {
	op := "workflow." + w.name
	if err := s.Navigate(ctx, landing); err != nil {
		return "", cookies.AuthContext{}, err
	}
	if err := s.WaitUntil(ctx, session.DocumentReady(), w.portal.LandingTimeout); err != nil {
		return "", cookies.AuthContext{}, err
	}
	if w.portal.ReadySelector != "" {
		if err := s.WaitUntil(ctx, session.ElementPresent(w.portal.ReadySelector), w.portal.LandingTimeout); err != nil {
			return "", cookies.AuthContext{}, err
		}
	}
	if err := m.advance(StateLandingLoaded); err != nil {
		return "", cookies.AuthContext{}, err
	}

	html, err := s.HTML(ctx)
	if err != nil {
		return "", cookies.AuthContext{}, err
	}
	path, ok := FindDownloadPath(html)
	if !ok {
		return "", cookies.AuthContext{}, apperr.E(apperr.KindNotFound, op, apperr.ErrLinkNotFound)
	}
	loc, err := s.Location(ctx)
	if err != nil {
		return "", cookies.AuthContext{}, err
	}
	target, err := ResolveAgainstOrigin(loc, path)
	if err != nil {
		return "", cookies.AuthContext{}, apperr.E(apperr.KindInternal, op, err)
	}
	if err := m.advance(StateLinkParsed); err != nil {
		return "", cookies.AuthContext{}, err
	}

	auth, err := cookies.Bridge(ctx, s)
	if err != nil {
		return "", cookies.AuthContext{}, err
	}
	if err := m.advance(StateSessionBridged); err != nil {
		return "", cookies.AuthContext{}, err
	}
	w.cfg.Logger.Debug("workflow: session bridged", "workflow", w.name, "download", target, "cookies", auth.Len())
	return target, auth, nil
}
