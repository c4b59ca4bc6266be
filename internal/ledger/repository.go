package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reader is the read-only port into the host ledger.
type Reader interface {
	Company(ctx context.Context, id int64) (Company, error)
	BankAccount(ctx context.Context, id int64) (BankAccount, error)
	MoveLines(ctx context.Context, scope Scope, accountID int64, side Side) ([]MoveLine, error)
	TaxCodeTree(ctx context.Context, rootID int64) ([]TaxCode, error)
	TaxLines(ctx context.Context, scope Scope, taxIDs []int64) ([]TaxLine, error)
}

// Repository reads ledger tables through pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Company(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := r.pool.QueryRow(ctx, `SELECT c.id, c.party_id, p.name, COALESCE(p.tax_identifier, ''), c.currency
FROM companies c JOIN parties p ON p.id = c.party_id WHERE c.id=$1`, id).
		Scan(&c.ID, &c.PartyID, &c.Name, &c.VAT, &c.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, err
	}
	return c, nil
}

func (r *Repository) BankAccount(ctx context.Context, id int64) (BankAccount, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, n.type, n.number
FROM bank_accounts a LEFT JOIN bank_account_numbers n ON n.account_id = a.id
WHERE a.id=$1 ORDER BY n.sequence NULLS LAST, n.id`, id)
	if err != nil {
		return BankAccount{}, err
	}
	defer rows.Close()
	var account BankAccount
	for rows.Next() {
		var typ, number *string
		if err := rows.Scan(&account.ID, &typ, &number); err != nil {
			return BankAccount{}, err
		}
		if typ != nil && number != nil {
			account.Numbers = append(account.Numbers, BankNumber{Type: *typ, Number: *number})
		}
	}
	if err := rows.Err(); err != nil {
		return BankAccount{}, err
	}
	if account.ID == 0 {
		return BankAccount{}, ErrBankAccountNotFound
	}
	return account, nil
}

// MoveLines lists the lines of an account within the scope periods, ordered
// by party so callers can group them.
func (r *Repository) MoveLines(ctx context.Context, scope Scope, accountID int64, side Side) ([]MoveLine, error) {
	query := `SELECT ml.id, ml.move_id, ml.account_id, ml.party_id, ml.debit, ml.credit
FROM account_move_lines ml JOIN account_moves m ON m.id = ml.move_id
WHERE m.company_id=$1 AND m.period_id = ANY($2) AND ml.account_id=$3`
	switch side {
	case SideDebit:
		query += ` AND ml.debit <> 0`
	case SideCredit:
		query += ` AND ml.credit <> 0`
	}
	query += ` ORDER BY ml.party_id NULLS FIRST, ml.id`
	rows, err := r.pool.Query(ctx, query, scope.CompanyID, scope.PeriodIDs, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: move lines: %w", err)
	}
	defer rows.Close()
	var lines []MoveLine
	for rows.Next() {
		var l MoveLine
		if err := rows.Scan(&l.ID, &l.MoveID, &l.AccountID, &l.PartyID, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// TaxCodeTree returns rootID and all its descendants with their lines.
func (r *Repository) TaxCodeTree(ctx context.Context, rootID int64) ([]TaxCode, error) {
	rows, err := r.pool.Query(ctx, `WITH RECURSIVE tree AS (
	SELECT id, parent_id, code, name FROM account_tax_codes WHERE id=$1
	UNION ALL
	SELECT c.id, c.parent_id, c.code, c.name FROM account_tax_codes c JOIN tree t ON c.parent_id = t.id
)
SELECT t.id, t.parent_id, t.code, t.name,
	EXISTS (SELECT 1 FROM account_tax_codes k WHERE k.parent_id = t.id)
FROM tree t ORDER BY t.id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("ledger: tax code tree: %w", err)
	}
	defer rows.Close()
	var codes []TaxCode
	index := map[int64]int{}
	var ids []int64
	for rows.Next() {
		var c TaxCode
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Code, &c.Name, &c.HasChildren); err != nil {
			return nil, err
		}
		index[c.ID] = len(codes)
		ids = append(ids, c.ID)
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	lineRows, err := r.pool.Query(ctx, `SELECT id, code_id, tax_id, amount, COALESCE(type, ''), operator
FROM account_tax_code_lines WHERE code_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: tax code lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var l TaxCodeLine
		if err := lineRows.Scan(&l.ID, &l.CodeID, &l.TaxID, &l.Amount, &l.Type, &l.Operator); err != nil {
			return nil, err
		}
		if i, ok := index[l.CodeID]; ok {
			codes[i].Lines = append(codes[i].Lines, l)
		}
	}
	return codes, lineRows.Err()
}

// TaxLines returns the tax lines of the given taxes on posted moves of the
// scope periods, with the invoice the move originates from when there is one.
func (r *Repository) TaxLines(ctx context.Context, scope Scope, taxIDs []int64) ([]TaxLine, error) {
	if len(taxIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT tl.id, tl.tax_id, tl.type, COALESCE(tl.document, ''), tl.amount, tl.move_line_id,
	i.id, i.number, i.party_id, i.state
FROM account_tax_lines tl
JOIN account_move_lines ml ON ml.id = tl.move_line_id
JOIN account_moves m ON m.id = ml.move_id
LEFT JOIN account_invoices i ON i.move_id = m.id
WHERE m.company_id=$1 AND m.period_id = ANY($2) AND m.state = 'posted' AND tl.tax_id = ANY($3)
ORDER BY tl.id`, scope.CompanyID, scope.PeriodIDs, taxIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: tax lines: %w", err)
	}
	defer rows.Close()
	var lines []TaxLine
	for rows.Next() {
		var (
			l         TaxLine
			invoiceID *int64
			number    *string
			partyID   *int64
			state     *string
		)
		if err := rows.Scan(&l.ID, &l.TaxID, &l.Type, &l.Document, &l.Amount, &l.MoveLineID,
			&invoiceID, &number, &partyID, &state); err != nil {
			return nil, err
		}
		if invoiceID != nil && partyID != nil {
			l.Invoice = &InvoiceRef{ID: *invoiceID, PartyID: *partyID}
			if number != nil {
				l.Invoice.Number = *number
			}
			if state != nil {
				l.Invoice.State = InvoiceState(*state)
			}
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
