package ledgertest

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/aeat111/internal/ledger"
)

// Identifiers used by Withholding.
const (
	CompanyID int64 = 1
	PeriodJan int64 = 101
	PeriodFeb int64 = 102
	PeriodMar int64 = 103
	PeriodApr int64 = 104

	SupplierA int64 = 10
	SupplierB int64 = 11

	TaxIRPF7  int64 = 7
	TaxIRPF35 int64 = 35

	CodeWithholding   int64 = 500
	CodeWithholding7  int64 = 501
	CodeWithholding35 int64 = 502
	CodeBase          int64 = 600

	AccountWages       int64 = 640
	AccountWithholding int64 = 4751
	AccountPayable     int64 = 476

	BankAccountID int64 = 900
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v int64) *int64 { return &v }

// Withholding returns a first-quarter ledger with two supplier invoices
// under 7% and 35% income tax withholding and one payroll move: wages of
// 2200 split into 1200 withheld and 1000 payable.
func Withholding() *Memory {
	return &Memory{
		Companies: map[int64]ledger.Company{
			CompanyID: {ID: CompanyID, PartyID: 1, Name: "Dunder Mifflin, S.L.", VAT: "ESB12345674", Currency: "EUR"},
		},
		Banks: map[int64]ledger.BankAccount{
			BankAccountID: {ID: BankAccountID, Numbers: []ledger.BankNumber{{Type: "iban", Number: "ES91 2100 0418 4502 0005 1332"}}},
		},
		Moves: map[int64]Move{
			1: {CompanyID: CompanyID, PeriodID: PeriodJan, Posted: true},
			2: {CompanyID: CompanyID, PeriodID: PeriodFeb, Posted: true},
			3: {CompanyID: CompanyID, PeriodID: PeriodMar, Posted: true},
			4: {CompanyID: CompanyID, PeriodID: PeriodApr, Posted: true},
		},
		Lines: []ledger.MoveLine{
			{ID: 11, MoveID: 1, AccountID: 4750, PartyID: ptr(SupplierA), Credit: dec("49")},
			{ID: 21, MoveID: 2, AccountID: 4750, PartyID: ptr(SupplierB), Credit: dec("175")},
			{ID: 31, MoveID: 3, AccountID: AccountWages, Debit: dec("2200")},
			{ID: 32, MoveID: 3, AccountID: AccountWithholding, Credit: dec("1200")},
			{ID: 33, MoveID: 3, AccountID: AccountPayable, Credit: dec("1000")},
			// outside the first quarter
			{ID: 41, MoveID: 4, AccountID: AccountWages, Debit: dec("999")},
		},
		Codes: []ledger.TaxCode{
			{ID: CodeWithholding, Code: "IRPF", Name: "IRPF withholdings"},
			{ID: CodeWithholding7, ParentID: ptr(CodeWithholding), Code: "IRPF7", Name: "IRPF 7%",
				Lines: []ledger.TaxCodeLine{{ID: 1, CodeID: CodeWithholding7, TaxID: TaxIRPF7, Amount: ledger.AmountTax, Operator: "+"}}},
			{ID: CodeWithholding35, ParentID: ptr(CodeWithholding), Code: "IRPF35", Name: "IRPF 35%",
				Lines: []ledger.TaxCodeLine{{ID: 2, CodeID: CodeWithholding35, TaxID: TaxIRPF35, Amount: ledger.AmountTax, Operator: "+"}}},
			{ID: CodeBase, Code: "IRPF-BASE", Name: "IRPF base",
				Lines: []ledger.TaxCodeLine{
					{ID: 3, CodeID: CodeBase, TaxID: TaxIRPF7, Amount: ledger.AmountBase, Operator: "+"},
					{ID: 4, CodeID: CodeBase, TaxID: TaxIRPF35, Amount: ledger.AmountBase, Operator: "+"},
				}},
		},
		TaxRows: []ledger.TaxLine{
			{ID: 1, TaxID: TaxIRPF7, Type: ledger.AmountTax, Document: ledger.DocumentInvoice, Amount: dec("-49"), MoveLineID: 11,
				Invoice: &ledger.InvoiceRef{ID: 1, Number: "FR-1", PartyID: SupplierA, State: ledger.InvoicePosted}},
			{ID: 2, TaxID: TaxIRPF7, Type: ledger.AmountBase, Document: ledger.DocumentInvoice, Amount: dec("700"), MoveLineID: 11,
				Invoice: &ledger.InvoiceRef{ID: 1, Number: "FR-1", PartyID: SupplierA, State: ledger.InvoicePosted}},
			{ID: 3, TaxID: TaxIRPF35, Type: ledger.AmountTax, Document: ledger.DocumentInvoice, Amount: dec("-175"), MoveLineID: 21,
				Invoice: &ledger.InvoiceRef{ID: 2, Number: "FR-2", PartyID: SupplierB, State: ledger.InvoicePosted}},
			{ID: 4, TaxID: TaxIRPF35, Type: ledger.AmountBase, Document: ledger.DocumentInvoice, Amount: dec("500"), MoveLineID: 21,
				Invoice: &ledger.InvoiceRef{ID: 2, Number: "FR-2", PartyID: SupplierB, State: ledger.InvoicePosted}},
		},
	}
}

// FirstQuarter is the scope Withholding is meant to be read with.
func FirstQuarter() ledger.Scope {
	return ledger.Scope{CompanyID: CompanyID, PeriodIDs: []int64{PeriodJan, PeriodFeb, PeriodMar}}
}
