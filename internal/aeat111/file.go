package aeat111

import (
	"fmt"

	"github.com/odyssey-erp/aeat111/internal/aeat111/layout"
)

// Producer identifies the software that generates presentation files.
type Producer struct {
	ProgramVersion string
	DeveloperVAT   string
}

// Values flattens the report into layout slot values. iban is the compact
// IBAN of the report's bank account, empty when it has none.
func (r Report) Values(iban string, p Producer) layout.Values {
	values := layout.Values{
		"type":                         string(r.Type),
		"company_vat":                  r.CompanyVAT,
		"company_surname":              r.CompanySurname,
		"company_name":                 r.CompanyName,
		"year":                         r.Year,
		"period":                       r.Period,
		"withholdings_payments_amount": r.Total(),
		"to_deduce":                    r.ToDeduce,
		"result":                       r.Result(),
		"complementary_declaration":    r.ComplementaryDeclaration,
		"previous_declaration_receipt": r.PreviousDeclarationReceipt,
		"bank_account":                 iban,
		"program_version":              p.ProgramVersion,
		"developer_vat":                p.DeveloperVAT,
	}
	for _, c := range Categories {
		values[c.Parties] = r.PartiesOf(c.Parties)
		values[c.Base] = r.AmountOf(c.Base)
		values[c.Amount] = r.AmountOf(c.Amount)
	}
	return values
}

// CheckParties enforces the party count of work withholdings.
func (r Report) CheckParties() error {
	if !r.AmountOf(WorkMonetaryAmount).IsZero() && r.PartiesOf(WorkMonetaryParties) == 0 {
		return ErrWorkPartiesMissing
	}
	return nil
}

// BuildFile checks the report and encodes its presentation file.
func BuildFile(r Report, iban string, p Producer) ([]byte, error) {
	if err := r.CheckParties(); err != nil {
		return nil, err
	}
	data, err := layout.Encode(r.Values(iban, p))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileGeneration, err)
	}
	return data, nil
}
