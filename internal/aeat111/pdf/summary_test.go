package pdf

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	"github.com/odyssey-erp/aeat111/internal/aeat111/calc"
)

func TestWriteProducesPDF(t *testing.T) {
	rep := aeat111.Report{
		ID: 1, Type: aeat111.TypeIncome, CompanyVAT: "B12345674", CompanySurname: "CAÑADA, S.L.",
		Year: 2024, Period: "1T", Currency: "EUR", State: aeat111.StateCalculated,
	}
	rep.SetAmount(aeat111.WorkMonetaryAmount, decimal.NewFromInt(1200))
	rep.SetParties(aeat111.WorkMonetaryParties, 1)
	party := int64(10)
	regs := []aeat111.Register{
		{ID: 1, Type: calc.RegisterEconomicActivity, PartyID: &party, Amount: decimal.NewFromInt(49), InvoiceIDs: []int64{1}},
		{ID: 2, Type: calc.RegisterWorkAmount, Amount: decimal.NewFromInt(1200), MoveLineIDs: []int64{32}},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rep, regs))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 1000)
}

func TestRefsAreTruncated(t *testing.T) {
	r := aeat111.Register{InvoiceIDs: []int64{1000001, 1000002, 1000003, 1000004, 1000005, 1000006}}
	out := refs(r)
	assert.Len(t, out, 40)
	assert.Equal(t, "F1000001 F1000002", out[:17])
}
