package aeat111

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/aeat111/internal/aeat111/calc"
	"github.com/odyssey-erp/aeat111/internal/aeat111/mapping"
	"github.com/odyssey-erp/aeat111/internal/aeat111/periods"
	"github.com/odyssey-erp/aeat111/internal/ledger"
	"github.com/odyssey-erp/aeat111/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// MappingResolver resolves the accounts and codes feeding each field.
type MappingResolver interface {
	Resolve(ctx context.Context, companyID int64) (mapping.Resolution, error)
}

// PeriodSelector turns a year and period code into ledger periods.
type PeriodSelector interface {
	Select(ctx context.Context, companyID int64, year int, code string) (periods.Range, []int64, error)
}

// Calculator aggregates the ledger for one scope.
type Calculator interface {
	Run(ctx context.Context, scope ledger.Scope, res mapping.Resolution) (calc.Result, error)
}

// Directory looks up companies and bank accounts.
type Directory interface {
	Company(ctx context.Context, id int64) (ledger.Company, error)
	BankAccount(ctx context.Context, id int64) (ledger.BankAccount, error)
}

// AuditRecorder persists and reads audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
	Trail(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

const (
	auditEntity = "aeat111_report"
	historySize = 200
)

// Options carries configuration for the service.
type Options struct {
	MaxParties int
	Producer   Producer
}

// Service runs the declaration lifecycle.
type Service struct {
	repo      RepositoryPort
	directory Directory
	mappings  MappingResolver
	periods   PeriodSelector
	engine    Calculator
	validator *Validator
	producer  Producer
	audit     AuditRecorder
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	flights   singleflight.Group
}

// NewService constructs the declaration service.
func NewService(repo RepositoryPort, directory Directory, mappings MappingResolver, selector PeriodSelector, engine Calculator, opts Options) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		mappings:  mappings,
		periods:   selector,
		engine:    engine,
		validator: NewValidator(opts.MaxParties),
		producer:  opts.Producer,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAudit records transitions through a.
func (s *Service) WithAudit(a AuditRecorder) { s.audit = a }

// WithMetrics reports through m.
func (s *Service) WithMetrics(m *Metrics) { s.metrics = m }

// WithLogger replaces the default logger.
func (s *Service) WithLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Create opens a draft report for a company. VAT, surname and currency are
// taken from the company.
func (s *Service) Create(ctx context.Context, in CreateInput) (Report, error) {
	if in.CompanyID <= 0 {
		return Report{}, &ValidationError{Fields: map[string]string{"company_id": "is required"}}
	}
	company, err := s.directory.Company(ctx, in.CompanyID)
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		CompanyID:                  in.CompanyID,
		Type:                       in.Type,
		Year:                       in.Year,
		Period:                     in.Period,
		CompanyName:                in.CompanyName,
		Parties:                    in.Parties,
		Amounts:                    in.Amounts,
		ToDeduce:                   in.ToDeduce,
		ComplementaryDeclaration:   in.ComplementaryDeclaration,
		PreviousDeclarationReceipt: in.PreviousDeclarationReceipt,
		BankAccountID:              in.BankAccountID,
		State:                      StateDraft,
	}
	if rep.Type == "" {
		rep.Type = TypeIncome
	}
	applyCompany(&rep, company)
	rep.normalize()
	if err := s.validator.Validate(rep, company.Currency); err != nil {
		return Report{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rep, err = tx.Insert(ctx, rep)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	s.record(ctx, in.ActorID, "aeat111.report.create", rep.ID, map[string]any{"year": rep.Year, "period": rep.Period})
	return rep, nil
}

var vatSeparators = strings.NewReplacer(" ", "", "-", "", ".", "")

// applyCompany copies the declarant identity from the company.
func applyCompany(r *Report, c ledger.Company) {
	r.Currency = c.Currency
	r.CompanyVAT = strings.TrimPrefix(vatSeparators.Replace(strings.ToUpper(c.VAT)), "ES")
	r.CompanySurname = strings.ToUpper(c.Name)
}

// Update edits a report. Company, year, period and type only change in
// draft; the remaining fields are frozen once the report is done or cancelled.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Report, error) {
	var rep Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rep, err = tx.Get(ctx, id, true)
		if err != nil {
			return err
		}
		if rep.State != StateDraft && identityChanged(rep, in) {
			return fmt.Errorf("%w: company, year, period and type are editable in draft only", ErrReadOnly)
		}
		if (rep.State == StateDone || rep.State == StateCancelled) && in.touchesAmounts() {
			return fmt.Errorf("%w: report is %s", ErrReadOnly, rep.State)
		}
		companyID := rep.CompanyID
		if in.CompanyID != nil {
			companyID = *in.CompanyID
		}
		company, err := s.directory.Company(ctx, companyID)
		if err != nil {
			return err
		}
		mergeUpdate(&rep, in)
		if in.CompanyID != nil {
			applyCompany(&rep, company)
		}
		if err := s.validator.Validate(rep, company.Currency); err != nil {
			return err
		}
		return tx.Update(ctx, rep)
	})
	if err != nil {
		return Report{}, err
	}
	s.record(ctx, in.ActorID, "aeat111.report.update", rep.ID, nil)
	return rep, nil
}

func identityChanged(r Report, in UpdateInput) bool {
	if !in.touchesIdentity() {
		return false
	}
	return (in.CompanyID != nil && *in.CompanyID != r.CompanyID) ||
		(in.Type != nil && *in.Type != r.Type) ||
		(in.Year != nil && *in.Year != r.Year) ||
		(in.Period != nil && *in.Period != r.Period)
}

func mergeUpdate(r *Report, in UpdateInput) {
	if in.CompanyID != nil {
		r.CompanyID = *in.CompanyID
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.Year != nil {
		r.Year = *in.Year
	}
	if in.Period != nil {
		r.Period = *in.Period
	}
	if in.CompanyName != nil {
		r.CompanyName = *in.CompanyName
	}
	for k, v := range in.Parties {
		r.SetParties(k, v)
	}
	for k, v := range in.Amounts {
		r.SetAmount(k, v)
	}
	if in.ToDeduce != nil {
		r.ToDeduce = *in.ToDeduce
	}
	if in.ComplementaryDeclaration != nil {
		r.ComplementaryDeclaration = *in.ComplementaryDeclaration
	}
	if in.PreviousDeclarationReceipt != nil {
		r.PreviousDeclarationReceipt = *in.PreviousDeclarationReceipt
	}
	if in.BankAccountID != nil {
		id := *in.BankAccountID
		r.BankAccountID = &id
	}
	if in.ClearBankAccount {
		r.BankAccountID = nil
	}
}

// Delete removes a draft or cancelled report with its registers.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rep, err := tx.Get(ctx, id, true)
		if err != nil {
			return err
		}
		if !Deletable(rep.State) {
			return fmt.Errorf("%w: report %d is %s", ErrNotDeletable, id, rep.State)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "aeat111.report.delete", id, nil)
	return nil
}

// Get returns a report.
func (s *Service) Get(ctx context.Context, id int64) (Report, error) {
	var rep Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rep, err = tx.Get(ctx, id, false)
		return err
	})
	return rep, err
}

// List returns reports matching the filter, newest period first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Report, error) {
	var out []Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.List(ctx, f)
		return err
	})
	return out, err
}

// Registers returns the registers of a report.
func (s *Service) Registers(ctx context.Context, id int64) ([]Register, error) {
	var out []Register
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Get(ctx, id, false); err != nil {
			return err
		}
		var err error
		out, err = tx.Registers(ctx, id)
		return err
	})
	return out, err
}

// File returns the presentation file name and content of a done report.
func (s *Service) File(ctx context.Context, id int64) (string, []byte, error) {
	rep, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if rep.State != StateDone || len(rep.File) == 0 {
		return "", nil, ErrFileUnavailable
	}
	return rep.Filename(), rep.File, nil
}

// Calculate computes draft reports from the ledger.
func (s *Service) Calculate(ctx context.Context, ids []int64, actorID int64) ([]Report, error) {
	return s.Run(ctx, ActionCalculate, ids, actorID)
}

// Process generates the presentation file of calculated reports.
func (s *Service) Process(ctx context.Context, ids []int64, actorID int64) ([]Report, error) {
	return s.Run(ctx, ActionProcess, ids, actorID)
}

// Draft resets reports to draft, dropping their registers.
func (s *Service) Draft(ctx context.Context, ids []int64, actorID int64) ([]Report, error) {
	return s.Run(ctx, ActionDraft, ids, actorID)
}

// Cancel cancels reports.
func (s *Service) Cancel(ctx context.Context, ids []int64, actorID int64) ([]Report, error) {
	return s.Run(ctx, ActionCancel, ids, actorID)
}

// Run applies an action to every report. Each report transitions in its own
// transaction; failures do not stop the batch and are returned joined.
// Identical concurrent calls by the same actor share one execution, which
// outlives the cancellation of any single caller.
func (s *Service) Run(ctx context.Context, action Action, ids []int64, actorID int64) ([]Report, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	flight := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(flightKey(action, ids, actorID), func() (any, error) {
		return s.run(flight, action, ids, actorID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.([]Report)
		return out, res.Err
	}
}

func flightKey(action Action, ids []int64, actorID int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return string(action) + ":" + strconv.FormatInt(actorID, 10) + ":" + strings.Join(parts, ",")
}

func (s *Service) run(ctx context.Context, action Action, ids []int64, actorID int64) ([]Report, error) {
	batch := uuid.NewString()
	now := s.now()
	out := make([]Report, 0, len(ids))
	var errs []error
	for _, id := range ids {
		rep, err := s.transition(ctx, action, id, now)
		s.metrics.transition(action, err)
		if err != nil {
			s.logger.Warn("aeat111 transition failed",
				slog.String("action", string(action)), slog.Int64("report_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("report %d: %w", id, err))
			continue
		}
		s.record(ctx, actorID, "aeat111.report."+string(action), id, map[string]any{"batch": batch, "state": rep.State})
		out = append(out, rep)
	}
	return out, errors.Join(errs...)
}

func (s *Service) transition(ctx context.Context, action Action, id int64, now time.Time) (Report, error) {
	var rep Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rep, err = tx.Get(ctx, id, true)
		if err != nil {
			return err
		}
		target := action.Target()
		if !CanTransition(rep.State, target) {
			return &TransitionError{ReportID: id, From: rep.State, To: target}
		}
		switch action {
		case ActionCalculate:
			if err := s.calculate(ctx, tx, &rep, now); err != nil {
				return err
			}
		case ActionProcess:
			if err := s.process(ctx, &rep); err != nil {
				return err
			}
		case ActionDraft:
			if err := tx.DeleteRegisters(ctx, rep.ID); err != nil {
				return err
			}
			rep.File = nil
		case ActionCancel:
			rep.File = nil
		}
		rep.State = target
		return tx.Update(ctx, rep)
	})
	return rep, err
}

func (s *Service) calculate(ctx context.Context, tx TxRepository, rep *Report, now time.Time) error {
	start := time.Now()
	res, err := s.mappings.Resolve(ctx, rep.CompanyID)
	if err != nil {
		return err
	}
	_, periodIDs, err := s.periods.Select(ctx, rep.CompanyID, rep.Year, rep.Period)
	if err != nil {
		return err
	}
	result, err := s.engine.Run(ctx, ledger.Scope{CompanyID: rep.CompanyID, PeriodIDs: periodIDs}, res)
	if err != nil {
		return err
	}
	rep.Apply(result)
	company, err := s.directory.Company(ctx, rep.CompanyID)
	if err != nil {
		return err
	}
	if err := s.validator.Validate(*rep, company.Currency); err != nil {
		return err
	}
	regs := make([]Register, 0, len(result.Registers))
	for _, r := range result.Registers {
		regs = append(regs, Register{
			ReportID:    rep.ID,
			Type:        r.Type,
			PartyID:     r.PartyID,
			Amount:      r.Amount,
			InvoiceIDs:  r.InvoiceIDs,
			MoveLineIDs: r.MoveLineIDs,
		})
	}
	if err := tx.DeleteRegisters(ctx, rep.ID); err != nil {
		return err
	}
	if err := tx.InsertRegisters(ctx, rep.ID, regs); err != nil {
		return err
	}
	calculated := now
	rep.CalculatedAt = &calculated
	s.metrics.calculated(start, regs)
	s.logger.Info("aeat111 report calculated",
		slog.Int64("report_id", rep.ID),
		slog.Int("periods", len(periodIDs)),
		slog.Int("registers", len(regs)),
		slog.String("total", rep.Total().StringFixed(2)))
	return nil
}

func (s *Service) process(ctx context.Context, rep *Report) error {
	iban := ""
	if rep.BankAccountID != nil {
		account, err := s.directory.BankAccount(ctx, *rep.BankAccountID)
		if err != nil {
			return err
		}
		iban = account.IBANCompact()
	}
	data, err := BuildFile(*rep, iban, s.producer)
	if err != nil {
		return err
	}
	rep.File = data
	s.metrics.generated(len(data))
	return nil
}

// EnsureInvoicesMutable fails with a LockError when any invoice is
// referenced by a register.
func (s *Service) EnsureInvoicesMutable(ctx context.Context, invoiceIDs []int64) error {
	locks, err := s.Locks(ctx, invoiceIDs, nil)
	if err != nil {
		return err
	}
	return firstLock(locks)
}

// EnsureMoveLinesMutable fails with a LockError when any move line is
// referenced by a register.
func (s *Service) EnsureMoveLinesMutable(ctx context.Context, moveLineIDs []int64) error {
	locks, err := s.Locks(ctx, nil, moveLineIDs)
	if err != nil {
		return err
	}
	return firstLock(locks)
}

// Locks lists the register references held on invoices and move lines.
func (s *Service) Locks(ctx context.Context, invoiceIDs, moveLineIDs []int64) ([]Lock, error) {
	var out []Lock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoices, err := tx.InvoiceLocks(ctx, invoiceIDs)
		if err != nil {
			return err
		}
		lines, err := tx.MoveLineLocks(ctx, moveLineIDs)
		if err != nil {
			return err
		}
		out = append(invoices, lines...)
		return nil
	})
	return out, err
}

func firstLock(locks []Lock) error {
	if len(locks) == 0 {
		return nil
	}
	return &LockError{Lock: locks[0]}
}

// History returns the audit trail of a report, newest first.
func (s *Service) History(ctx context.Context, id int64) ([]shared.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []shared.AuditLog{}, nil
	}
	return s.audit.Trail(ctx, auditEntity, strconv.FormatInt(id, 10), historySize)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   auditEntity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("aeat111 audit", slog.String("action", action), slog.Any("error", err))
	}
}
