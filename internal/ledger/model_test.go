package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIBANCompact(t *testing.T) {
	account := BankAccount{Numbers: []BankNumber{
		{Type: "other", Number: "0049 1500 05 1234567892"},
		{Type: "iban", Number: "es91 2100 0418 4502-0005 1332"},
	}}
	assert.Equal(t, "ES9121000418450200051332", account.IBANCompact())
	assert.Equal(t, "", BankAccount{}.IBANCompact())
}

func TestTaxCodeLineMatches(t *testing.T) {
	line := TaxCodeLine{TaxID: 3, Amount: AmountTax, Type: DocumentInvoice, Operator: "-"}
	assert.True(t, line.Matches(TaxLine{TaxID: 3, Type: AmountTax, Document: DocumentInvoice}))
	assert.True(t, line.Matches(TaxLine{TaxID: 3, Type: AmountTax}))
	assert.False(t, line.Matches(TaxLine{TaxID: 3, Type: AmountTax, Document: DocumentCredit}))
	assert.False(t, line.Matches(TaxLine{TaxID: 3, Type: AmountBase}))
	assert.False(t, line.Matches(TaxLine{TaxID: 4, Type: AmountTax}))
	assert.True(t, decimal.NewFromInt(-1).Equal(line.Sign()))
	assert.True(t, decimal.NewFromInt(1).Equal(TaxCodeLine{Operator: "+"}.Sign()))
}

func TestMoveLineBalanceAndInvoicePosted(t *testing.T) {
	l := MoveLine{Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(25)}
	assert.True(t, decimal.NewFromInt(-15).Equal(l.Balance()))
	assert.True(t, InvoiceRef{State: InvoicePaid}.Posted())
	assert.False(t, InvoiceRef{State: InvoiceDraft}.Posted())
}
