package aeat111

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/aeat111/internal/aeat111/calc"
	"github.com/odyssey-erp/aeat111/internal/platform/db"
)

const (
	uniqueViolation = "23505"
	reportPeriodKey = "aeat111_reports_company_year_period_key"
	reportColumns   = `id, company_id, currency, type, company_vat, company_surname, company_name, year, period,
parties, amounts, to_deduce, complementary_declaration, previous_declaration_receipt, bank_account_id,
state, calculation_date, file, created_at, updated_at`
)

// ListFilter narrows report listings.
type ListFilter struct {
	CompanyID int64
	Year      int
	State     State
	Limit     int
	Offset    int
}

// TxRepository exposes the transactional report operations.
type TxRepository interface {
	Get(ctx context.Context, id int64, forUpdate bool) (Report, error)
	List(ctx context.Context, f ListFilter) ([]Report, error)
	Insert(ctx context.Context, r Report) (Report, error)
	Update(ctx context.Context, r Report) error
	Delete(ctx context.Context, id int64) error
	InsertRegisters(ctx context.Context, reportID int64, regs []Register) error
	DeleteRegisters(ctx context.Context, reportID int64) error
	Registers(ctx context.Context, reportID int64) ([]Register, error)
	InvoiceLocks(ctx context.Context, invoiceIDs []int64) ([]Lock, error)
	MoveLineLocks(ctx context.Context, moveLineIDs []int64) ([]Lock, error)
}

// Repository persists reports and registers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("aeat111: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func scanReport(row pgx.Row) (Report, error) {
	var (
		r      Report
		state  string
		typ    string
		calcAt *time.Time
	)
	err := row.Scan(&r.ID, &r.CompanyID, &r.Currency, &typ, &r.CompanyVAT, &r.CompanySurname, &r.CompanyName,
		&r.Year, &r.Period, &r.Parties, &r.Amounts, &r.ToDeduce, &r.ComplementaryDeclaration,
		&r.PreviousDeclarationReceipt, &r.BankAccountID, &state, &calcAt, &r.File, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Report{}, err
	}
	r.State = State(state)
	r.Type = DeclarationType(typ)
	r.CalculatedAt = calcAt
	r.normalize()
	return r, nil
}

func (r *txRepository) Get(ctx context.Context, id int64, forUpdate bool) (Report, error) {
	query := `SELECT ` + reportColumns + ` FROM aeat111_reports WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	report, err := scanReport(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, fmt.Errorf("%w: %d", ErrReportNotFound, id)
		}
		return Report{}, err
	}
	return report, nil
}

func (r *txRepository) List(ctx context.Context, f ListFilter) ([]Report, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := r.tx.Query(ctx, `SELECT `+reportColumns+` FROM aeat111_reports
WHERE ($1 = 0 OR company_id = $1) AND ($2 = 0 OR year = $2) AND ($3 = '' OR state = $3)
ORDER BY year DESC, period DESC, id DESC LIMIT $4 OFFSET $5`,
		f.CompanyID, f.Year, string(f.State), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

func (r *txRepository) Insert(ctx context.Context, rep Report) (Report, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO aeat111_reports (company_id, currency, type, company_vat, company_surname,
company_name, year, period, parties, amounts, to_deduce, complementary_declaration, previous_declaration_receipt,
bank_account_id, state)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id, created_at, updated_at`,
		rep.CompanyID, rep.Currency, string(rep.Type), rep.CompanyVAT, rep.CompanySurname, rep.CompanyName,
		rep.Year, rep.Period, rep.Parties, rep.Amounts, rep.ToDeduce, rep.ComplementaryDeclaration,
		rep.PreviousDeclarationReceipt, rep.BankAccountID, string(rep.State)).
		Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return Report{}, translate(err)
	}
	return rep, nil
}

func (r *txRepository) Update(ctx context.Context, rep Report) error {
	tag, err := r.tx.Exec(ctx, `UPDATE aeat111_reports SET company_id=$2, currency=$3, type=$4, company_vat=$5,
company_surname=$6, company_name=$7, year=$8, period=$9, parties=$10, amounts=$11, to_deduce=$12,
complementary_declaration=$13, previous_declaration_receipt=$14, bank_account_id=$15, state=$16,
calculation_date=$17, file=$18, updated_at=NOW() WHERE id=$1`,
		rep.ID, rep.CompanyID, rep.Currency, string(rep.Type), rep.CompanyVAT, rep.CompanySurname, rep.CompanyName,
		rep.Year, rep.Period, rep.Parties, rep.Amounts, rep.ToDeduce, rep.ComplementaryDeclaration,
		rep.PreviousDeclarationReceipt, rep.BankAccountID, string(rep.State), rep.CalculatedAt, rep.File)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrReportNotFound, rep.ID)
	}
	return nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	if err := r.DeleteRegisters(ctx, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM aeat111_reports WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrReportNotFound, id)
	}
	return nil
}

// InsertRegisters stores registers and their back-references with a batch.
func (r *txRepository) InsertRegisters(ctx context.Context, reportID int64, regs []Register) error {
	for _, reg := range regs {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO aeat111_registers (report_id, type, party_id, amount)
VALUES ($1, $2, $3, $4) RETURNING id`, reportID, string(reg.Type), reg.PartyID, reg.Amount).Scan(&id)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, invoiceID := range reg.InvoiceIDs {
			batch.Queue(`INSERT INTO aeat111_register_invoices (register_id, invoice_id) VALUES ($1, $2)`, id, invoiceID)
		}
		for _, lineID := range reg.MoveLineIDs {
			batch.Queue(`INSERT INTO aeat111_register_move_lines (register_id, move_line_id) VALUES ($1, $2)`, id, lineID)
		}
		if batch.Len() == 0 {
			continue
		}
		if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (r *txRepository) DeleteRegisters(ctx context.Context, reportID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM aeat111_registers WHERE report_id=$1`, reportID)
	return err
}

func (r *txRepository) Registers(ctx context.Context, reportID int64) ([]Register, error) {
	rows, err := r.tx.Query(ctx, `SELECT g.id, g.report_id, g.type, g.party_id, g.amount,
	COALESCE((SELECT array_agg(invoice_id ORDER BY invoice_id) FROM aeat111_register_invoices WHERE register_id = g.id), '{}'),
	COALESCE((SELECT array_agg(move_line_id ORDER BY move_line_id) FROM aeat111_register_move_lines WHERE register_id = g.id), '{}')
FROM aeat111_registers g WHERE g.report_id=$1 ORDER BY g.type, g.id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Register
	for rows.Next() {
		var (
			reg Register
			typ string
		)
		if err := rows.Scan(&reg.ID, &reg.ReportID, &typ, &reg.PartyID, &reg.Amount, &reg.InvoiceIDs, &reg.MoveLineIDs); err != nil {
			return nil, err
		}
		reg.Type = calc.RegisterType(typ)
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (r *txRepository) InvoiceLocks(ctx context.Context, invoiceIDs []int64) ([]Lock, error) {
	return r.locks(ctx, `SELECT 'invoice', i.id, COALESCE(i.number, i.id::text), g.report_id, g.id
FROM aeat111_register_invoices ri
JOIN aeat111_registers g ON g.id = ri.register_id
JOIN account_invoices i ON i.id = ri.invoice_id
WHERE ri.invoice_id = ANY($1) ORDER BY i.id`, invoiceIDs)
}

func (r *txRepository) MoveLineLocks(ctx context.Context, moveLineIDs []int64) ([]Lock, error) {
	return r.locks(ctx, `SELECT 'move_line', rl.move_line_id, rl.move_line_id::text, g.report_id, g.id
FROM aeat111_register_move_lines rl
JOIN aeat111_registers g ON g.id = rl.register_id
WHERE rl.move_line_id = ANY($1) ORDER BY rl.move_line_id`, moveLineIDs)
}

func (r *txRepository) locks(ctx context.Context, query string, ids []int64) ([]Lock, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.Entity, &l.EntityID, &l.Label, &l.ReportID, &l.RegisterID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == reportPeriodKey {
			return &ValidationError{Fields: map[string]string{"period": "a report already exists for this company, year and period"}}
		}
		return fmt.Errorf("%w: %s", ErrLocked, pgErr.Detail)
	}
	return err
}
