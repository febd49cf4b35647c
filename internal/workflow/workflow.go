// Package workflow sequences the retrieval pipelines. Each workflow is a
// linear state machine: every step either advances to the next state or
// ends the run with a classified failure.
package workflow

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
)

// State is a step of a workflow.
type State string

const (
	StateIdle             State = "idle"
	StateFormFilled       State = "form_filled"
	StateSubmitted        State = "submitted"
	StateViewerWindowOpen State = "viewer_window_open"
	StateViewerFrameReady State = "viewer_frame_ready"
	StatePagesLocated     State = "pages_located"
	StateQRDecoded        State = "qr_decoded"
	StateURLValidated     State = "url_validated"
	StateLandingLoaded    State = "landing_loaded"
	StateLinkParsed       State = "link_parsed"
	StateSessionBridged   State = "session_bridged"
	StatePDFFetched       State = "pdf_fetched"
	StatePDFValidated     State = "pdf_validated"
	StatePackaged         State = "packaged"
	StateDone             State = "done"
)

// Result is the output of a successful run.
type Result struct {
	Archive []byte
	Pages   int
	// Trace lists the states entered after idle, ending with done.
	Trace []State
}

// Failure is a terminal error together with the last state reached.
type Failure struct {
	Workflow string
	State    State
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: failed after %s: %v", f.Workflow, f.State, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailedState returns the state a workflow stopped in, if err is a Failure.
func FailedState(err error) (State, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.State, true
	}
	return "", false
}

// machine walks a fixed transition table. A state can only be entered from
// its predecessor, so no state is ever entered twice.
type machine struct {
	name  string
	table []State
	pos   int
	trace []State
}

func newMachine(name string, table []State) *machine {
	return &machine{name: name, table: table}
}

func (m *machine) state() State { return m.table[m.pos] }

func (m *machine) advance(next State) error {
	if m.pos+1 >= len(m.table) || m.table[m.pos+1] != next {
		return apperr.Errorf(apperr.KindInternal, "workflow."+m.name, "illegal transition %s -> %s", m.state(), next)
	}
	m.pos++
	m.trace = append(m.trace, next)
	return nil
}

func (m *machine) fail(err error) *Failure {
	return &Failure{Workflow: m.name, State: m.state(), Err: err}
}

func (m *machine) result(archive []byte, pages int) *Result {
	return &Result{Archive: archive, Pages: pages, Trace: append([]State(nil), m.trace...)}
}

// Status maps err to an HTTP status code. timeoutStatus is used for the
// timeout kind; workflows that do not report timeouts separately pass 500.
func Status(err error, timeoutStatus int) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstreamFormat:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return timeoutStatus
	default:
		return http.StatusInternalServerError
	}
}
