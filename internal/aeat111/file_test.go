package aeat111

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/aeat111/internal/aeat111/layout"
)

func TestBuildFileGuardsWorkParties(t *testing.T) {
	rep := Report{Type: TypeIncome, CompanyVAT: "B12345674", CompanySurname: "MUÑOZ Y CÍA", Year: 2024, Period: "02"}
	rep.SetAmount(WorkMonetaryAmount, dec("300"))

	_, err := BuildFile(rep, "", Producer{})
	require.ErrorIs(t, err, ErrWorkPartiesMissing)

	rep.SetParties(WorkMonetaryParties, 3)
	rep.ToDeduce = dec("500")
	data, err := BuildFile(rep, "", Producer{ProgramVersion: "2.1"})
	require.NoError(t, err)

	doc, err := layout.Parse(data)
	require.NoError(t, err)
	body := doc[layout.KindBody]
	assert.Equal(t, "MUÑOZ Y CIA", body["company_surname"])
	assert.Equal(t, 3, body[WorkMonetaryParties])
	assert.Equal(t, "-200.00", body["result"].(decimal.Decimal).StringFixed(2))
	assert.Equal(t, "02", doc[layout.KindFooter]["period"])
	assert.Equal(t, 2024, doc[layout.KindHeader]["year"])
}
