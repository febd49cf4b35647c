package workflow

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/archive"
	"github.com/shehryarbajwa/certfetch/internal/config"
	"github.com/shehryarbajwa/certfetch/internal/render"
	"github.com/shehryarbajwa/certfetch/internal/session"
	"github.com/shehryarbajwa/certfetch/pkg/models"
)

var formStates = []State{
	StateIdle,
	StateFormFilled,
	StateSubmitted,
	StateViewerWindowOpen,
	StateViewerFrameReady,
	StatePagesLocated,
	StatePackaged,
	StateDone,
}

const (
	msgFormFieldsRequired = "rcpt_1..3 and doc_1..3 are all required"
	msgAutomationFailed   = "browser automation failed"
)

// FormInput holds the receipt and document identifier parts. A nil entry is
// a missing field; an empty string is sent as is.
type FormInput struct {
	Receipt  [3]*string
	Document [3]*string
}

// FormInputFrom converts the request body.
func FormInputFrom(r models.FitiRequest) FormInput {
	return FormInput{
		Receipt:  [3]*string{r.Receipt1, r.Receipt2, r.Receipt3},
		Document: [3]*string{r.Document1, r.Document2, r.Document3},
	}
}

func (in FormInput) validate() error {
	for _, group := range [][3]*string{in.Receipt, in.Document} {
		for _, v := range group {
			if v == nil {
				return apperr.Errorf(apperr.KindValidation, "workflow.fiti", "missing form field").
					WithMessage(msgFormFieldsRequired)
			}
		}
	}
	return nil
}

// FormWorkflow submits the verification form of a portal and screenshots
// the pages of the viewer it opens.
type FormWorkflow struct {
	sessions *session.Manager
	portal   config.FormPortal
	log      *slog.Logger
}

// NewFormWorkflow creates a FormWorkflow.
func NewFormWorkflow(sessions *session.Manager, portal config.FormPortal, logger *slog.Logger) *FormWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormWorkflow{sessions: sessions, portal: portal, log: logger}
}

// Name identifies the workflow in logs and archive names.
func (w *FormWorkflow) Name() string { return "fiti" }

// Status maps a Run error to an HTTP status. Timeouts are not reported
// separately.
func (w *FormWorkflow) Status(err error) int {
	return Status(err, http.StatusInternalServerError)
}

// Run executes the workflow. Input is validated before a browser is
// launched.
func (w *FormWorkflow) Run(ctx context.Context, in FormInput) (*Result, error) {
	m := newMachine(w.Name(), formStates)
	if err := in.validate(); err != nil {
		return nil, m.fail(err)
	}

	var images []models.RenderedImage
	err := w.sessions.Do(ctx, func(ctx context.Context, s *session.Session) error {
		p := w.portal
		if err := s.Navigate(ctx, p.URL); err != nil {
			return err
		}
		if err := s.WaitUntil(ctx, session.ElementPresent(p.ReceiptFields[0]), p.FormTimeout); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			if err := s.Fill(ctx, p.ReceiptFields[i], *in.Receipt[i]); err != nil {
				return err
			}
		}
		for i := 0; i < 3; i++ {
			if err := s.Fill(ctx, p.DocumentFields[i], *in.Document[i]); err != nil {
				return err
			}
		}
		if err := m.advance(StateFormFilled); err != nil {
			return err
		}

		if err := s.Click(ctx, p.Submit); err != nil {
			return err
		}
		if err := m.advance(StateSubmitted); err != nil {
			return err
		}

		if err := s.SwitchToNewWindow(ctx, 2, p.WindowTimeout); err != nil {
			return err
		}
		if err := m.advance(StateViewerWindowOpen); err != nil {
			return err
		}

		if err := s.SwitchToFrame(ctx, p.ViewerFrame, p.FrameTimeout); err != nil {
			return err
		}
		if err := m.advance(StateViewerFrameReady); err != nil {
			return err
		}

		pages, err := s.FindAll(ctx, p.PageSelector, p.PagesTimeout)
		if err != nil {
			return err
		}
		if err := m.advance(StatePagesLocated); err != nil {
			return err
		}

		images, err = render.FromDOM(ctx, s, pages, p.Settle)
		return err
	})
	if err != nil {
		return nil, w.collapse(ctx, m, err)
	}

	zip, err := archive.Pack(images)
	if err != nil {
		return nil, w.collapse(ctx, m, err)
	}
	if err := m.advance(StatePackaged); err != nil {
		return nil, w.collapse(ctx, m, err)
	}
	if err := m.advance(StateDone); err != nil {
		return nil, w.collapse(ctx, m, err)
	}

	w.log.Info("workflow: completed", "workflow", w.Name(), "pages", len(images), "request_id", RequestID(ctx))
	return m.result(zip, len(images)), nil
}

// collapse reduces every failure other than bad input to one internal
// error. The cause is logged and kept for errors.Is, never shown to callers.
func (w *FormWorkflow) collapse(ctx context.Context, m *machine, err error) error {
	w.log.Error("workflow: failed",
		"workflow", w.Name(),
		"state", m.state(),
		"kind", apperr.KindOf(err),
		"request_id", RequestID(ctx),
		"error", err,
	)
	if apperr.KindOf(err) == apperr.KindValidation {
		return m.fail(err)
	}
	return m.fail(apperr.E(apperr.KindInternal, "workflow.fiti", err).WithMessage(msgAutomationFailed))
}
