package workflow_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/archive"
	"github.com/shehryarbajwa/certfetch/internal/config"
	"github.com/shehryarbajwa/certfetch/internal/fetch"
	"github.com/shehryarbajwa/certfetch/internal/pdfdoc/pdftest"
	"github.com/shehryarbajwa/certfetch/internal/qr"
	"github.com/shehryarbajwa/certfetch/internal/session"
	"github.com/shehryarbajwa/certfetch/internal/session/sessiontest"
	"github.com/shehryarbajwa/certfetch/internal/workflow"
)

// fixture wires the QR workflows to fakes: an in-memory PDF engine, a
// scripted browser and an httptest portal.
type fixture struct {
	engine   *pdftest.Engine
	backend  *sessiontest.Backend
	launcher *sessiontest.Launcher
	sessions *session.Manager
	portal   *httptest.Server
	hits     atomic.Int32
	report   []byte
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{
		engine:   pdftest.NewEngine(),
		backend:  sessiontest.NewBackend(),
		launcher: &sessiontest.Launcher{},
	}
	f.sessions = session.NewManager(f.launcher, f.backend.Attach, session.Config{PollInterval: 5 * time.Millisecond})
	f.portal = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.portal.Close)

	f.report = pdftest.MinimalPDF(2, "report")
	f.engine.Add(f.report, pdftest.NewDocument(pdftest.BlankImage(30, 40), pdftest.BlankImage(30, 40)))
	return f
}

// upload registers a PDF whose first page carries a QR code encoding text.
func (f *fixture) upload(t *testing.T, text string) []byte {
	t.Helper()
	data := pdftest.MinimalPDF(1, "upload "+text)
	page, err := pdftest.QRImage(text, 400)
	require.NoError(t, err)
	f.engine.Add(data, pdftest.NewDocument(page))
	return data
}

func (f *fixture) katri(portal config.QRPortal) *workflow.AuthQRWorkflow {
	return workflow.NewAuthQRWorkflow(
		qr.NewExtractor(f.engine, qr.Config{}),
		f.sessions,
		fetch.New(fetch.Config{}),
		f.engine,
		portal,
		workflow.QRConfig{},
	)
}

func (f *fixture) kotiti() *workflow.DirectQRWorkflow {
	return workflow.NewDirectQRWorkflow(
		qr.NewExtractor(f.engine, qr.Config{}),
		fetch.New(fetch.Config{}),
		f.engine,
		workflow.QRConfig{},
	)
}

func quickPortal() config.QRPortal {
	return config.QRPortal{LandingTimeout: 50 * time.Millisecond}
}

func entryNames(t *testing.T, zip []byte) []string {
	t.Helper()
	imgs, err := archive.Unpack(zip)
	require.NoError(t, err)
	var names []string
	for _, img := range imgs {
		names = append(names, archive.EntryName(img.Index))
	}
	return names
}

func TestAuthQRWorkflowDownloadsLinkedReport(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("JSESSIONID")
		if r.URL.Path != "/dl" || r.URL.Query().Get("id") != "9" || err != nil || c.Value != "landing-session" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(f.report)
	})
	f.backend.PageHTML = `<html><body><a href="javascript:goPDF('/dl?id=9')">download</a></body></html>`
	f.backend.PageURL = f.portal.URL + "/verify/landing.do"
	f.backend.CookieList = []session.Cookie{{Name: "JSESSIONID", Value: "landing-session", Domain: "127.0.0.1", Path: "/"}}

	wf := f.katri(quickPortal())
	res, err := wf.Run(context.Background(), f.upload(t, "https://example.org/doc"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"page_1.png", "page_2.png"}, entryNames(t, res.Archive))
	assert.Equal(t, []workflow.State{
		workflow.StateQRDecoded,
		workflow.StateURLValidated,
		workflow.StateLandingLoaded,
		workflow.StateLinkParsed,
		workflow.StateSessionBridged,
		workflow.StatePDFFetched,
		workflow.StatePDFValidated,
		workflow.StatePackaged,
		workflow.StateDone,
	}, res.Trace)

	assert.Equal(t, []string{"https://example.org/doc"}, f.backend.Navigated())
	assert.Equal(t, 1, f.launcher.Released())
	assert.True(t, f.backend.Closed())
}

func TestAuthQRWorkflowRejectsNonPDF(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>session expired</html>"))
	})
	f.backend.PageHTML = `<a href="javascript:goPDF('/dl?id=9')">download</a>`
	f.backend.PageURL = f.portal.URL + "/landing"

	wf := f.katri(quickPortal())
	_, err := wf.Run(context.Background(), f.upload(t, "https://example.org/doc"))
	require.ErrorIs(t, err, apperr.ErrNotAPdf)
	assert.Equal(t, http.StatusBadGateway, wf.Status(err))

	state, ok := workflow.FailedState(err)
	require.True(t, ok)
	assert.Equal(t, workflow.StateSessionBridged, state)
	assert.Equal(t, 0, f.launcher.Live())
}

func TestQRWorkflowsRejectNonHTTPSchemeBeforeNetwork(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	upload := f.upload(t, "ftp://example.org/doc.pdf")

	_, err := f.katri(quickPortal()).Run(context.Background(), upload)
	require.ErrorIs(t, err, apperr.ErrInvalidQRURL)
	assert.Equal(t, http.StatusBadRequest, workflow.Status(err, http.StatusGatewayTimeout))

	_, err = f.kotiti().Run(context.Background(), upload)
	require.ErrorIs(t, err, apperr.ErrInvalidQRURL)

	assert.Equal(t, 0, f.launcher.Launched())
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestAuthQRWorkflowFailures(t *testing.T) {
	t.Run("qr absent", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		blank := pdftest.MinimalPDF(1, "blank")
		f.engine.Add(blank, pdftest.NewDocument(pdftest.BlankImage(200, 200)))

		wf := f.katri(quickPortal())
		_, err := wf.Run(context.Background(), blank)
		require.ErrorIs(t, err, apperr.ErrQRNotFound)
		assert.Equal(t, http.StatusBadRequest, wf.Status(err))
		assert.Equal(t, "QR code not found", apperr.Message(err))
		assert.Equal(t, 0, f.launcher.Launched())
	})

	t.Run("unreadable upload", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		wf := f.katri(quickPortal())
		_, err := wf.Run(context.Background(), []byte("definitely not a pdf"))
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, wf.Status(err))
	})

	t.Run("link missing", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		f.backend.PageHTML = `<html><body>No report for this code.</body></html>`
		f.backend.PageURL = f.portal.URL + "/landing"

		wf := f.katri(quickPortal())
		_, err := wf.Run(context.Background(), f.upload(t, "https://example.org/doc"))
		require.ErrorIs(t, err, apperr.ErrLinkNotFound)
		assert.Equal(t, http.StatusNotFound, wf.Status(err))
		assert.Equal(t, 1, f.launcher.Released())
		assert.Equal(t, int32(0), f.hits.Load())
	})

	t.Run("landing never ready", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		f.backend.ReadyStateValue = "loading"

		wf := f.katri(quickPortal())
		_, err := wf.Run(context.Background(), f.upload(t, "https://example.org/doc"))
		require.ErrorIs(t, err, apperr.ErrTimeout)
		assert.Equal(t, http.StatusGatewayTimeout, wf.Status(err))
		assert.Equal(t, 1, f.launcher.Released())
	})

	t.Run("ready selector", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		portal := quickPortal()
		portal.ReadySelector = "#reportArea"

		wf := f.katri(portal)
		_, err := wf.Run(context.Background(), f.upload(t, "https://example.org/doc"))
		state, _ := workflow.FailedState(err)
		assert.Equal(t, workflow.StateURLValidated, state)
		assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	})
}

func TestDirectQRWorkflow(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(f.report)
	})

	wf := f.kotiti()
	res, err := wf.Run(context.Background(), f.upload(t, f.portal.URL+"/report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{"page_1.png", "page_2.png"}, entryNames(t, res.Archive))
	assert.Equal(t, 0, f.launcher.Launched())

	_, err = wf.Run(context.Background(), f.upload(t, f.portal.URL+"/missing.pdf"))
	require.ErrorIs(t, err, apperr.ErrUpstreamStatus)
	assert.Equal(t, http.StatusInternalServerError, wf.Status(err))
}

func TestDirectQRWorkflowFetchTimeout(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	wf := workflow.NewDirectQRWorkflow(
		qr.NewExtractor(f.engine, qr.Config{}),
		fetch.New(fetch.Config{Timeout: 50 * time.Millisecond}),
		f.engine,
		workflow.QRConfig{},
	)

	_, err := wf.Run(context.Background(), f.upload(t, f.portal.URL+"/slow.pdf"))
	require.ErrorIs(t, err, apperr.ErrTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, wf.Status(err))
}

func TestStrictPDFRejectsForgedDocument(t *testing.T) {
	forged := []byte("%PDF-1.7\n<html>not really</html>")
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(forged)
	})
	f.engine.Add(forged, pdftest.NewDocument(pdftest.BlankImage(4, 4)))

	wf := workflow.NewDirectQRWorkflow(
		qr.NewExtractor(f.engine, qr.Config{}),
		fetch.New(fetch.Config{}),
		f.engine,
		workflow.QRConfig{StrictPDF: true},
	)
	_, err := wf.Run(context.Background(), f.upload(t, f.portal.URL+"/forged.pdf"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, wf.Status(err))

	state, _ := workflow.FailedState(err)
	assert.Equal(t, workflow.StatePDFFetched, state)
}
