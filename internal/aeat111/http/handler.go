package aeat111http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	"github.com/odyssey-erp/aeat111/internal/aeat111/mapping"
	"github.com/odyssey-erp/aeat111/internal/aeat111/pdf"
	"github.com/odyssey-erp/aeat111/internal/aeat111/periods"
	"github.com/odyssey-erp/aeat111/internal/ledger"
	"github.com/odyssey-erp/aeat111/internal/platform/httpx"
	"github.com/odyssey-erp/aeat111/internal/shared"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	idempotencyScope = "aeat111.batch"
)

type reportService interface {
	Create(ctx context.Context, in aeat111.CreateInput) (aeat111.Report, error)
	Update(ctx context.Context, id int64, in aeat111.UpdateInput) (aeat111.Report, error)
	Delete(ctx context.Context, id, actorID int64) error
	Get(ctx context.Context, id int64) (aeat111.Report, error)
	List(ctx context.Context, f aeat111.ListFilter) ([]aeat111.Report, error)
	Registers(ctx context.Context, id int64) ([]aeat111.Register, error)
	File(ctx context.Context, id int64) (string, []byte, error)
	Run(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error)
	Locks(ctx context.Context, invoiceIDs, moveLineIDs []int64) ([]aeat111.Lock, error)
	History(ctx context.Context, id int64) ([]shared.AuditLog, error)
}

type mappingService interface {
	List(ctx context.Context, companyID *int64) ([]mapping.Mapping, error)
	Create(ctx context.Context, input mapping.MappingInput) (mapping.Mapping, error)
	Update(ctx context.Context, id int64, input mapping.MappingInput) (mapping.Mapping, error)
	Delete(ctx context.Context, id int64) error
	Templates(ctx context.Context) ([]mapping.Template, error)
	CreateTemplate(ctx context.Context, input mapping.TemplateInput) (mapping.Template, error)
	Propagate(ctx context.Context, companyID int64, mode mapping.PropagationMode) (mapping.PropagationResult, error)
}

// Enqueuer hands report actions to the background worker.
type Enqueuer interface {
	EnqueueReports(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) (string, error)
}

// Idempotency claims request keys.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes the withholding declaration API.
type Handler struct {
	logger      *slog.Logger
	reports     reportService
	mappings    mappingService
	queue       Enqueuer
	idempotency Idempotency
}

// NewHandler constructs the handler. queue and idempotency may be nil, in
// which case batch requests always run inline.
func NewHandler(logger *slog.Logger, reports reportService, mappings mappingService, queue Enqueuer, idempotency Idempotency) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reports: reports, mappings: mappings, queue: queue, idempotency: idempotency}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", h.listReports)
		r.Post("/", h.createReport)
		r.Post("/batch/{action}", h.batch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getReport)
			r.Patch("/", h.updateReport)
			r.Delete("/", h.deleteReport)
			r.Get("/registers", h.registers)
			r.Get("/history", h.history)
			r.Get("/file", h.file)
			r.Get("/summary.pdf", h.summary)
			r.Post("/{action}", h.action)
		})
	})
	r.Route("/mappings", func(r chi.Router) {
		r.Get("/", h.listMappings)
		r.Post("/", h.createMapping)
		r.Put("/{id}", h.updateMapping)
		r.Delete("/{id}", h.deleteMapping)
	})
	r.Get("/templates", h.listTemplates)
	r.Post("/templates", h.createTemplate)
	r.Post("/companies/{id}/propagate", h.propagate)
	r.Get("/locks", h.locks)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := aeat111.ListFilter{State: aeat111.State(q.Get("state")), Limit: defaultListLimit}
	var err error
	if filter.CompanyID, err = optionalInt(q.Get("company_id")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "company_id must be a number")
		return
	}
	year, err := optionalInt(q.Get("year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "year must be a number")
		return
	}
	filter.Year = int(year)
	if limit, err := optionalInt(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = int(min(limit, maxListLimit))
	}
	if offset, err := optionalInt(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = int(offset)
	}
	reports, err := h.reports.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list reports", err)
		return
	}
	if reports == nil {
		reports = []aeat111.Report{}
	}
	httpx.JSON(w, http.StatusOK, reports)
}

func (h *Handler) createReport(w http.ResponseWriter, r *http.Request) {
	var in aeat111.CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	rep, err := h.reports.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create report", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rep)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) updateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in aeat111.UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	rep, err := h.reports.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rep)
}

func (h *Handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.reports.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete report", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	action := aeat111.Action(chi.URLParam(r, "action"))
	if !action.Valid() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown action %q", action))
		return
	}
	out, err := h.reports.Run(r.Context(), action, []int64{id}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "report "+string(action), err)
		return
	}
	httpx.JSON(w, http.StatusOK, out[0])
}

type batchRequest struct {
	IDs   []int64 `json:"ids"`
	Async bool    `json:"async"`
}

type batchResponse struct {
	Reports []aeat111.Report `json:"reports"`
	Errors  []string         `json:"errors,omitempty"`
	TaskID  string           `json:"task_id,omitempty"`
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	action := aeat111.Action(chi.URLParam(r, "action"))
	if !action.Valid() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown action %q", action))
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		httpx.ValidationProblem(w, "ids are required", map[string]string{"ids": "is required"})
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if req.Async && h.queue != nil {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key != "" && h.idempotency != nil {
			if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyScope); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
					return
				}
				h.fail(w, "claim idempotency key", err)
				return
			}
		}
		taskID, err := h.queue.EnqueueReports(r.Context(), action, req.IDs, actor)
		if err != nil {
			if key != "" && h.idempotency != nil {
				_ = h.idempotency.Delete(r.Context(), key, idempotencyScope)
			}
			h.fail(w, "enqueue reports", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, batchResponse{Reports: []aeat111.Report{}, TaskID: taskID})
		return
	}
	out, err := h.reports.Run(r.Context(), action, req.IDs, actor)
	resp := batchResponse{Reports: out}
	if resp.Reports == nil {
		resp.Reports = []aeat111.Report{}
	}
	if err != nil {
		if len(out) == 0 && len(req.IDs) == 1 {
			h.fail(w, "batch "+string(action), err)
			return
		}
		for _, e := range flatten(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	status := http.StatusOK
	if len(resp.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) registers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	regs, err := h.reports.Registers(r.Context(), id)
	if err != nil {
		h.fail(w, "list registers", err)
		return
	}
	if regs == nil {
		regs = []aeat111.Register{}
	}
	httpx.JSON(w, http.StatusOK, regs)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.reports.History(r.Context(), id)
	if err != nil {
		h.fail(w, "report history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) file(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	name, data, err := h.reports.File(r.Context(), id)
	if err != nil {
		h.fail(w, "download file", err)
		return
	}
	httpx.Attachment(w, "text/plain; charset=iso-8859-1", name, data)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "summary report", err)
		return
	}
	regs, err := h.reports.Registers(r.Context(), id)
	if err != nil {
		h.fail(w, "summary registers", err)
		return
	}
	var buf bytes.Buffer
	if err := pdf.Write(&buf, rep, regs); err != nil {
		h.fail(w, "render summary", err)
		return
	}
	httpx.Attachment(w, "application/pdf", strings.TrimSuffix(rep.Filename(), ".txt")+".pdf", buf.Bytes())
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	var companyID *int64
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "company_id must be a number")
			return
		}
		companyID = &id
	}
	out, err := h.mappings.List(r.Context(), companyID)
	if err != nil {
		h.fail(w, "list mappings", err)
		return
	}
	if out == nil {
		out = []mapping.Mapping{}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	var in mapping.MappingInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	m, err := h.mappings.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create mapping", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) updateMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in mapping.MappingInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	m, err := h.mappings.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update mapping", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.mappings.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete mapping", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	out, err := h.mappings.Templates(r.Context())
	if err != nil {
		h.fail(w, "list templates", err)
		return
	}
	if out == nil {
		out = []mapping.Template{}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in mapping.TemplateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	tpl, err := h.mappings.CreateTemplate(r.Context(), in)
	if err != nil {
		h.fail(w, "create template", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (h *Handler) propagate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mode := mapping.PropagationMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = mapping.PropagateUpdate
	}
	res, err := h.mappings.Propagate(r.Context(), id, mode)
	if err != nil {
		h.fail(w, "propagate mappings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) locks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := idList(q.Get("invoice_ids"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invoice_ids: "+err.Error())
		return
	}
	lines, err := idList(q.Get("move_line_ids"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "move_line_ids: "+err.Error())
		return
	}
	out, err := h.reports.Locks(r.Context(), invoices, lines)
	if err != nil {
		h.fail(w, "list locks", err)
		return
	}
	if out == nil {
		out = []aeat111.Lock{}
	}
	httpx.JSON(w, http.StatusOK, out)
}

// fail logs err and writes the matching problem response.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	classified := classify(err)
	if errors.Is(classified, httpx.ErrNotFound) || errors.Is(classified, httpx.ErrConflict) ||
		errors.Is(classified, httpx.ErrValidation) || errors.Is(classified, httpx.ErrUnprocessable) {
		h.logger.Warn(op, slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

func classify(err error) error {
	var fields httpx.FieldErrors
	switch {
	case errors.As(err, &fields):
		return err
	case errors.Is(err, aeat111.ErrReportNotFound), errors.Is(err, mapping.ErrMappingNotFound),
		errors.Is(err, ledger.ErrCompanyNotFound), errors.Is(err, ledger.ErrBankAccountNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, aeat111.ErrInvalidTransition), errors.Is(err, aeat111.ErrReadOnly),
		errors.Is(err, aeat111.ErrNotDeletable), errors.Is(err, aeat111.ErrLocked),
		errors.Is(err, aeat111.ErrFileUnavailable):
		return fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	case errors.Is(err, mapping.ErrDuplicateMapping), errors.Is(err, mapping.ErrDuplicateTemplate):
		return fmt.Errorf("%w: %w", httpx.ErrDuplicate, err)
	case errors.Is(err, aeat111.ErrWorkPartiesMissing), errors.Is(err, aeat111.ErrFileGeneration):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, mapping.ErrInvalidMapping), errors.Is(err, periods.ErrInvalidCode):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	}
	return err
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func idList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
