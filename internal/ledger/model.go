// Package ledger exposes the accounting data the withholding declaration
// reads: move lines, tax codes, tax lines, companies and bank accounts. The
// tables belong to the host ledger and are only ever read here.
package ledger

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCompanyNotFound indicates an unknown company id.
	ErrCompanyNotFound = errors.New("ledger: company not found")
	// ErrBankAccountNotFound indicates an unknown bank account id.
	ErrBankAccountNotFound = errors.New("ledger: bank account not found")
)

// Scope pins every read to one company and a fixed set of periods.
type Scope struct {
	CompanyID int64
	PeriodIDs []int64
}

// Side restricts move lines to one column.
type Side string

const (
	SideAny    Side = ""
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// AmountKind tells whether a tax line carries the tax or its base.
type AmountKind string

const (
	AmountTax  AmountKind = "tax"
	AmountBase AmountKind = "base"
)

// DocumentKind distinguishes invoice and credit note tax lines.
type DocumentKind string

const (
	DocumentAny     DocumentKind = ""
	DocumentInvoice DocumentKind = "invoice"
	DocumentCredit  DocumentKind = "credit"
)

// InvoiceState enumerates host invoice states.
type InvoiceState string

const (
	InvoiceDraft     InvoiceState = "draft"
	InvoiceValidated InvoiceState = "validated"
	InvoicePosted    InvoiceState = "posted"
	InvoicePaid      InvoiceState = "paid"
	InvoiceCancelled InvoiceState = "cancelled"
)

// Company is the declaring entity.
type Company struct {
	ID       int64
	PartyID  int64
	Name     string
	VAT      string
	Currency string
}

// MoveLine is one posted or draft ledger line.
type MoveLine struct {
	ID        int64
	MoveID    int64
	AccountID int64
	PartyID   *int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Balance returns debit minus credit.
func (l MoveLine) Balance() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// TaxCodeLine adds the amounts of one tax to a tax code.
type TaxCodeLine struct {
	ID       int64
	CodeID   int64
	TaxID    int64
	Amount   AmountKind
	Type     DocumentKind
	Operator string
}

// Sign returns -1 for subtracting lines and 1 otherwise.
func (l TaxCodeLine) Sign() decimal.Decimal {
	if l.Operator == "-" {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Matches reports whether the tax line feeds this code line.
func (l TaxCodeLine) Matches(tl TaxLine) bool {
	if tl.TaxID != l.TaxID || tl.Type != l.Amount {
		return false
	}
	return l.Type == DocumentAny || tl.Document == DocumentAny || tl.Document == l.Type
}

// TaxCode is a node of a tax code tree.
type TaxCode struct {
	ID          int64
	ParentID    *int64
	Code        string
	Name        string
	HasChildren bool
	Lines       []TaxCodeLine
}

// InvoiceRef is the invoice a move originates from.
type InvoiceRef struct {
	ID      int64
	Number  string
	PartyID int64
	State   InvoiceState
}

// Posted reports whether the invoice has reached the books.
func (i InvoiceRef) Posted() bool {
	return i.State == InvoicePosted || i.State == InvoicePaid
}

// TaxLine is a tax or base amount recorded on a move line.
type TaxLine struct {
	ID         int64
	TaxID      int64
	Type       AmountKind
	Document   DocumentKind
	Amount     decimal.Decimal
	MoveLineID int64
	Invoice    *InvoiceRef
}

// BankNumber is one identifier of a bank account.
type BankNumber struct {
	Type   string
	Number string
}

// BankAccount groups the numbers of one account.
type BankAccount struct {
	ID      int64
	Numbers []BankNumber
}

// IBANCompact returns the first IBAN without separators, or "" when the
// account has none.
func (b BankAccount) IBANCompact() string {
	for _, n := range b.Numbers {
		if n.Type != "iban" {
			continue
		}
		return strings.ToUpper(strings.Join(strings.FieldsFunc(n.Number, func(r rune) bool {
			return r == ' ' || r == '-' || r == '.'
		}), ""))
	}
	return ""
}
