package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/workflow"
	"github.com/shehryarbajwa/certfetch/pkg/models"
)

// maxFormBodyBytes bounds the /fiti JSON body. Six short form fields fit
// comfortably.
const maxFormBodyBytes = 64 << 10

// FormRunner runs the form-submission workflow.
type FormRunner interface {
	Name() string
	Status(err error) int
	Run(ctx context.Context, in workflow.FormInput) (*workflow.Result, error)
}

// UploadRunner runs a workflow over an uploaded PDF.
type UploadRunner interface {
	Name() string
	Status(err error) int
	Run(ctx context.Context, upload []byte) (*workflow.Result, error)
}

// Options tunes request handling.
type Options struct {
	// MaxUploadBytes bounds multipart bodies. Default: 32MB.
	MaxUploadBytes int64
	// RequestTimeout bounds a whole workflow run. 0 disables it.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	fiti   FormRunner
	katri  UploadRunner
	kotiti UploadRunner
	opts   Options
	log    *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(fiti FormRunner, katri, kotiti UploadRunner, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		fiti:   fiti,
		katri:  katri,
		kotiti: kotiti,
		opts:   opts,
		log:    opts.Logger,
	}
}

// Health handles GET /
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "server available")
}

// Fiti handles POST /fiti
func (h *Handler) Fiti(w http.ResponseWriter, r *http.Request) {
	var req models.FitiRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	// A body that is not a JSON object counts as empty and fails validation.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return
		}
		req = models.FitiRequest{}
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	res, err := h.fiti.Run(ctx, workflow.FormInputFrom(req))
	if err != nil {
		writeJSONError(w, h.fiti.Status(err), apperr.Message(err))
		return
	}
	writeArchive(w, h.fiti.Name(), res)
}

// Katri handles POST /katri
func (h *Handler) Katri(w http.ResponseWriter, r *http.Request) {
	h.runUpload(w, r, h.katri)
}

// Kotiti handles POST /kotiti
func (h *Handler) Kotiti(w http.ResponseWriter, r *http.Request) {
	h.runUpload(w, r, h.kotiti)
}

func (h *Handler) runUpload(w http.ResponseWriter, r *http.Request, wf UploadRunner) {
	upload, status, msg := h.readUpload(w, r)
	if status != 0 {
		writeJSONError(w, status, msg)
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	res, err := wf.Run(ctx, upload)
	if err != nil {
		writeJSONError(w, wf.Status(err), apperr.Message(err))
		return
	}
	writeArchive(w, wf.Name(), res)
}

// readUpload returns the bytes of the multipart "pdf" field, or a status and
// message describing why there are none.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "uploaded file is too large"
		}
		return nil, http.StatusBadRequest, "pdf file is required"
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("pdf")
	if err != nil {
		return nil, http.StatusBadRequest, "pdf file is required"
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusBadRequest, "failed to read uploaded file"
	}
	if len(data) == 0 {
		return nil, http.StatusBadRequest, "pdf file is required"
	}
	return data, 0, ""
}

func (h *Handler) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func writeArchive(w http.ResponseWriter, name string, res *workflow.Result) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_pages.zip"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Archive)))
	w.Header().Set("X-Page-Count", strconv.Itoa(res.Pages))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Archive)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(msg))
}
