package aeat111http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	"github.com/odyssey-erp/aeat111/internal/aeat111/mapping"
	"github.com/odyssey-erp/aeat111/internal/platform/httpx"
	"github.com/odyssey-erp/aeat111/internal/shared"
)

type stubReports struct {
	createFn func(ctx context.Context, in aeat111.CreateInput) (aeat111.Report, error)
	getFn    func(ctx context.Context, id int64) (aeat111.Report, error)
	runFn    func(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error)
	fileFn   func(ctx context.Context, id int64) (string, []byte, error)
	locksFn  func(ctx context.Context, invoiceIDs, moveLineIDs []int64) ([]aeat111.Lock, error)
	history  []shared.AuditLog
}

func (s *stubReports) Create(ctx context.Context, in aeat111.CreateInput) (aeat111.Report, error) {
	return s.createFn(ctx, in)
}

func (s *stubReports) Update(ctx context.Context, id int64, in aeat111.UpdateInput) (aeat111.Report, error) {
	return aeat111.Report{}, aeat111.ErrReadOnly
}

func (s *stubReports) Delete(ctx context.Context, id, actorID int64) error {
	return aeat111.ErrNotDeletable
}

func (s *stubReports) Get(ctx context.Context, id int64) (aeat111.Report, error) {
	if s.getFn == nil {
		return aeat111.Report{}, aeat111.ErrReportNotFound
	}
	return s.getFn(ctx, id)
}

func (s *stubReports) List(ctx context.Context, f aeat111.ListFilter) ([]aeat111.Report, error) {
	return nil, nil
}

func (s *stubReports) Registers(ctx context.Context, id int64) ([]aeat111.Register, error) {
	return nil, nil
}

func (s *stubReports) File(ctx context.Context, id int64) (string, []byte, error) {
	return s.fileFn(ctx, id)
}

func (s *stubReports) Run(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error) {
	return s.runFn(ctx, action, ids, actorID)
}

func (s *stubReports) Locks(ctx context.Context, invoiceIDs, moveLineIDs []int64) ([]aeat111.Lock, error) {
	return s.locksFn(ctx, invoiceIDs, moveLineIDs)
}

func (s *stubReports) History(ctx context.Context, id int64) ([]shared.AuditLog, error) {
	if id != 1 {
		return nil, aeat111.ErrReportNotFound
	}
	return s.history, nil
}

type stubMappings struct {
	propagateFn func(ctx context.Context, companyID int64, mode mapping.PropagationMode) (mapping.PropagationResult, error)
}

func (s *stubMappings) List(ctx context.Context, companyID *int64) ([]mapping.Mapping, error) {
	return nil, nil
}

func (s *stubMappings) Create(ctx context.Context, input mapping.MappingInput) (mapping.Mapping, error) {
	return mapping.Mapping{}, fmt.Errorf("%w: field is required", mapping.ErrInvalidMapping)
}

func (s *stubMappings) Update(ctx context.Context, id int64, input mapping.MappingInput) (mapping.Mapping, error) {
	return mapping.Mapping{}, mapping.ErrMappingNotFound
}

func (s *stubMappings) Delete(ctx context.Context, id int64) error { return nil }

func (s *stubMappings) Templates(ctx context.Context) ([]mapping.Template, error) { return nil, nil }

func (s *stubMappings) CreateTemplate(ctx context.Context, input mapping.TemplateInput) (mapping.Template, error) {
	return mapping.Template{}, mapping.ErrDuplicateTemplate
}

func (s *stubMappings) Propagate(ctx context.Context, companyID int64, mode mapping.PropagationMode) (mapping.PropagationResult, error) {
	return s.propagateFn(ctx, companyID, mode)
}

type stubQueue struct {
	action aeat111.Action
	ids    []int64
}

func (q *stubQueue) EnqueueReports(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) (string, error) {
	q.action, q.ids = action, ids
	return "task-1", nil
}

type stubIdempotency struct {
	seen map[string]bool
}

func (s *stubIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.seen[module+key] {
		return shared.ErrIdempotencyConflict
	}
	s.seen[module+key] = true
	return nil
}

func (s *stubIdempotency) Delete(ctx context.Context, key, module string) error {
	delete(s.seen, module+key)
	return nil
}

func newRouter(reports *stubReports, mappings *stubMappings, queue Enqueuer) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), reports, mappings, queue, &stubIdempotency{seen: map[string]bool{}})
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v (%s)", err, rr.Body.String())
	}
	return p
}

func TestCreateReportPassesActorAndReportsFieldErrors(t *testing.T) {
	var captured aeat111.CreateInput
	reports := &stubReports{createFn: func(ctx context.Context, in aeat111.CreateInput) (aeat111.Report, error) {
		captured = in
		if in.Year == 0 {
			return aeat111.Report{}, &aeat111.ValidationError{Fields: map[string]string{"year": "must be a four digit year"}}
		}
		return aeat111.Report{ID: 9, CompanyID: in.CompanyID, Year: in.Year, Period: in.Period, State: aeat111.StateDraft}, nil
	}}
	router := newRouter(reports, &stubMappings{}, nil)

	rr := do(t, router, http.MethodPost, "/reports", `{"company_id":1,"year":2024,"period":"1T","amounts":{"awards_monetary_withholdings_amount":"12.50"}}`, shared.ActorHeader, "7")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != 7 {
		t.Fatalf("expected actor 7, got %d", captured.ActorID)
	}
	if !captured.Amounts["awards_monetary_withholdings_amount"].Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("amount not decoded: %v", captured.Amounts)
	}

	rr = do(t, router, http.MethodPost, "/reports", `{"company_id":1,"period":"1T"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if p := decodeProblem(t, rr); p.Errors["year"] == "" {
		t.Fatalf("expected year field error, got %+v", p)
	}

	rr = do(t, router, http.MethodPost, "/reports", `{"company_id":1,"state":"done"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, got %d", rr.Code)
	}
}

func TestActionMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&aeat111.TransitionError{ReportID: 1, From: aeat111.StateDraft, To: aeat111.StateDone}, http.StatusConflict},
		{aeat111.ErrWorkPartiesMissing, http.StatusUnprocessableEntity},
		{aeat111.ErrReportNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		reports := &stubReports{runFn: func(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error) {
			return nil, errors.Join(fmt.Errorf("report %d: %w", ids[0], tc.err))
		}}
		rr := do(t, newRouter(reports, &stubMappings{}, nil), http.MethodPost, "/reports/1/process", "")
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}

	rr := do(t, newRouter(&stubReports{}, &stubMappings{}, nil), http.MethodPost, "/reports/1/approve", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected 404, got %d", rr.Code)
	}
}

func TestActionReturnsTransitionedReport(t *testing.T) {
	reports := &stubReports{runFn: func(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error) {
		if action != aeat111.ActionCalculate || len(ids) != 1 || ids[0] != 4 {
			t.Fatalf("unexpected call %s %v", action, ids)
		}
		return []aeat111.Report{{ID: 4, State: aeat111.StateCalculated}}, nil
	}}
	rr := do(t, newRouter(reports, &stubMappings{}, nil), http.MethodPost, "/reports/4/calculate", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rep aeat111.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.State != aeat111.StateCalculated {
		t.Fatalf("expected calculated, got %s", rep.State)
	}
}

func TestBatchInlineReportsPartialFailures(t *testing.T) {
	reports := &stubReports{runFn: func(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error) {
		return []aeat111.Report{{ID: 1, State: aeat111.StateDraft}},
			errors.Join(fmt.Errorf("report 2: %w", aeat111.ErrReportNotFound))
	}}
	rr := do(t, newRouter(reports, &stubMappings{}, nil), http.MethodPost, "/reports/batch/draft", `{"ids":[1,2]}`)
	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rr.Code)
	}
	var resp batchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Reports) != 1 || len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "report 2") {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = do(t, newRouter(reports, &stubMappings{}, nil), http.MethodPost, "/reports/batch/draft", `{"ids":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", rr.Code)
	}
}

func TestBatchAsyncEnqueuesOncePerIdempotencyKey(t *testing.T) {
	queue := &stubQueue{}
	router := newRouter(&stubReports{}, &stubMappings{}, queue)

	rr := do(t, router, http.MethodPost, "/reports/batch/calculate", `{"ids":[3,4],"async":true}`, "Idempotency-Key", "abc")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if queue.action != aeat111.ActionCalculate || len(queue.ids) != 2 {
		t.Fatalf("unexpected enqueue %s %v", queue.action, queue.ids)
	}
	if !strings.Contains(rr.Body.String(), `"task_id":"task-1"`) {
		t.Fatalf("missing task id: %s", rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/reports/batch/calculate", `{"ids":[3,4],"async":true}`, "Idempotency-Key", "abc")
	if rr.Code != http.StatusConflict {
		t.Fatalf("replayed key: expected 409, got %d", rr.Code)
	}
}

func TestFileDownload(t *testing.T) {
	reports := &stubReports{fileFn: func(ctx context.Context, id int64) (string, []byte, error) {
		if id == 2 {
			return "", nil, aeat111.ErrFileUnavailable
		}
		return "aeat111-2024-1T.txt", []byte("<T1110"), nil
	}}
	router := newRouter(reports, &stubMappings{}, nil)

	rr := do(t, router, http.MethodGet, "/reports/1/file", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "aeat111-2024-1T.txt") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rr.Body.String() != "<T1110" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/reports/2/file", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestSummaryRendersPDF(t *testing.T) {
	reports := &stubReports{getFn: func(ctx context.Context, id int64) (aeat111.Report, error) {
		return aeat111.Report{ID: id, Type: aeat111.TypeIncome, Year: 2024, Period: "1T", Currency: "EUR", State: aeat111.StateDone}, nil
	}}
	rr := do(t, newRouter(reports, &stubMappings{}, nil), http.MethodGet, "/reports/1/summary.pdf", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/pdf" || !strings.HasPrefix(rr.Body.String(), "%PDF-") {
		t.Fatalf("expected a pdf body")
	}
}

func TestMappingErrorsAndPropagation(t *testing.T) {
	var gotMode mapping.PropagationMode
	mappings := &stubMappings{propagateFn: func(ctx context.Context, companyID int64, mode mapping.PropagationMode) (mapping.PropagationResult, error) {
		gotMode = mode
		return mapping.PropagationResult{Created: 2}, nil
	}}
	router := newRouter(&stubReports{}, mappings, nil)

	if rr := do(t, router, http.MethodPost, "/mappings", `{"type":"account"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid mapping: expected 400, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodPut, "/mappings/5", `{"field":"x","type":"code"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("missing mapping: expected 404, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodPost, "/templates", `{"field":"x","type":"code"}`); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate template: expected 409, got %d", rr.Code)
	}

	rr := do(t, router, http.MethodPost, "/companies/1/propagate?mode=create", "")
	if rr.Code != http.StatusOK || gotMode != mapping.PropagateCreate {
		t.Fatalf("propagate: %d %s", rr.Code, gotMode)
	}
	if !strings.Contains(rr.Body.String(), `"created":2`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestLocksParsesIDLists(t *testing.T) {
	reports := &stubReports{locksFn: func(ctx context.Context, invoiceIDs, moveLineIDs []int64) ([]aeat111.Lock, error) {
		if len(invoiceIDs) != 2 || len(moveLineIDs) != 1 {
			t.Fatalf("unexpected ids %v %v", invoiceIDs, moveLineIDs)
		}
		return []aeat111.Lock{{Entity: "invoice", EntityID: 1, ReportID: 3}}, nil
	}}
	router := newRouter(reports, &stubMappings{}, nil)

	rr := do(t, router, http.MethodGet, "/locks?invoice_ids=1,2&move_line_ids=31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr = do(t, router, http.MethodGet, "/locks?invoice_ids=1,x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestReportHistory(t *testing.T) {
	reports := &stubReports{history: []shared.AuditLog{
		{ID: 2, ActorID: 7, Action: "aeat111.report.calculate", Entity: "aeat111_report", EntityID: "1"},
		{ID: 1, Action: "aeat111.report.create", Entity: "aeat111_report", EntityID: "1"},
	}}
	router := newRouter(reports, &stubMappings{}, nil)

	rr := do(t, router, http.MethodGet, "/reports/1/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got []shared.AuditLog
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Action != "aeat111.report.calculate" || got[0].ActorID != 7 {
		t.Fatalf("unexpected history %+v", got)
	}

	rr = do(t, router, http.MethodGet, "/reports/9/history", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
