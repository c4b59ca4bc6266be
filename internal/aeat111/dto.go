package aeat111

import "github.com/shopspring/decimal"

// CreateInput opens a draft report.
type CreateInput struct {
	CompanyID                  int64                      `json:"company_id" validate:"required,gt=0"`
	Type                       DeclarationType            `json:"type"`
	Year                       int                        `json:"year"`
	Period                     string                     `json:"period"`
	CompanyName                string                     `json:"company_name"`
	Parties                    map[string]int             `json:"parties"`
	Amounts                    map[string]decimal.Decimal `json:"amounts"`
	ToDeduce                   decimal.Decimal            `json:"to_deduce"`
	ComplementaryDeclaration   bool                       `json:"complementary_declaration"`
	PreviousDeclarationReceipt string                     `json:"previous_declaration_receipt"`
	BankAccountID              *int64                     `json:"bank_account_id"`
	ActorID                    int64                      `json:"-"`
}

// UpdateInput changes a report. Nil fields are left alone; Parties and
// Amounts are merged into the stored values.
type UpdateInput struct {
	CompanyID                  *int64                     `json:"company_id"`
	Type                       *DeclarationType           `json:"type"`
	Year                       *int                       `json:"year"`
	Period                     *string                    `json:"period"`
	CompanyName                *string                    `json:"company_name"`
	Parties                    map[string]int             `json:"parties"`
	Amounts                    map[string]decimal.Decimal `json:"amounts"`
	ToDeduce                   *decimal.Decimal           `json:"to_deduce"`
	ComplementaryDeclaration   *bool                      `json:"complementary_declaration"`
	PreviousDeclarationReceipt *string                    `json:"previous_declaration_receipt"`
	BankAccountID              *int64                     `json:"bank_account_id"`
	ClearBankAccount           bool                       `json:"clear_bank_account"`
	ActorID                    int64                      `json:"-"`
}

func (in UpdateInput) touchesIdentity() bool {
	return in.CompanyID != nil || in.Type != nil || in.Year != nil || in.Period != nil
}

func (in UpdateInput) touchesAmounts() bool {
	return len(in.Parties) > 0 || len(in.Amounts) > 0 || in.ToDeduce != nil || in.CompanyName != nil ||
		in.ComplementaryDeclaration != nil || in.PreviousDeclarationReceipt != nil ||
		in.BankAccountID != nil || in.ClearBankAccount
}
