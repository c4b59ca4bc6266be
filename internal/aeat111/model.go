// Package aeat111 manages AEAT model 111 withholding declarations: their
// lifecycle, calculation from the ledger, and the presentation file.
package aeat111

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/aeat111/internal/aeat111/calc"
	"github.com/odyssey-erp/aeat111/internal/aeat111/layout"
)

// State enumerates report lifecycle stages.
type State string

const (
	StateDraft      State = "draft"
	StateCalculated State = "calculated"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
)

// DeclarationType is the kind of settlement being declared.
type DeclarationType string

const (
	TypeIncome         DeclarationType = "I"
	TypeDirectDebit    DeclarationType = "U"
	TypeCurrentAccount DeclarationType = "G"
	TypeNegative       DeclarationType = "N"
)

// Category is one income category of the declaration. Guard names the
// amount whose zero-ness decides whether Parties must be zero; categories
// whose party count is derived by the calculation have no guard.
type Category struct {
	Parties string
	Base    string
	Amount  string
	Guard   string
}

// Categories lists the nine income categories in box order.
var Categories = func() []Category {
	guards := map[string]string{
		"work_productivity_in_kind":                "value_benefits",
		"economic_activities_productivity_in_kind": "value_benefits",
		"awards_monetary":                          "withholdings_amount",
		"awards_in_kind":                           "payments_amount",
		"gains_forestry_exploitation_monetary":     "withholdings_amount",
		"gains_forestry_exploitation_in_kind":      "payments_amount",
		"image_rights":                             "payments_amount",
	}
	out := make([]Category, 0, len(layout.Categories))
	for i, c := range layout.Categories {
		parties, base, amount := layout.CategoryFields(i)
		cat := Category{Parties: parties, Base: base, Amount: amount}
		if g, ok := guards[c.Prefix]; ok {
			cat.Guard = c.Prefix + "_" + g
		}
		out = append(out, cat)
	}
	return out
}()

const (
	WorkMonetaryParties     = "work_productivity_monetary_parties"
	WorkMonetaryAmount      = "work_productivity_monetary_withholdings_amount"
	EconomicMonetaryParties = "economic_activities_productivity_monetary_parties"
)

// Report is one declaration for a company, year and period.
type Report struct {
	ID                         int64                      `json:"id"`
	CompanyID                  int64                      `json:"company_id"`
	Currency                   string                     `json:"currency"`
	Type                       DeclarationType            `json:"type"`
	CompanyVAT                 string                     `json:"company_vat"`
	CompanySurname             string                     `json:"company_surname"`
	CompanyName                string                     `json:"company_name"`
	Year                       int                        `json:"year"`
	Period                     string                     `json:"period"`
	Parties                    map[string]int             `json:"parties"`
	Amounts                    map[string]decimal.Decimal `json:"amounts"`
	ToDeduce                   decimal.Decimal            `json:"to_deduce"`
	ComplementaryDeclaration   bool                       `json:"complementary_declaration"`
	PreviousDeclarationReceipt string                     `json:"previous_declaration_receipt"`
	BankAccountID              *int64                     `json:"bank_account_id"`
	State                      State                      `json:"state"`
	CalculatedAt               *time.Time                 `json:"calculation_date"`
	File                       []byte                     `json:"-"`
	CreatedAt                  time.Time                  `json:"created_at"`
	UpdatedAt                  time.Time                  `json:"updated_at"`
}

// PartiesOf returns a party count, zero when unset.
func (r Report) PartiesOf(field string) int {
	return r.Parties[field]
}

// AmountOf returns an amount, zero when unset.
func (r Report) AmountOf(field string) decimal.Decimal {
	if v, ok := r.Amounts[field]; ok {
		return v
	}
	return decimal.Zero
}

// SetAmount stores an amount.
func (r *Report) SetAmount(field string, v decimal.Decimal) {
	if r.Amounts == nil {
		r.Amounts = map[string]decimal.Decimal{}
	}
	r.Amounts[field] = v
}

// SetParties stores a party count.
func (r *Report) SetParties(field string, n int) {
	if r.Parties == nil {
		r.Parties = map[string]int{}
	}
	r.Parties[field] = n
}

func (r *Report) normalize() {
	if r.Parties == nil {
		r.Parties = map[string]int{}
	}
	if r.Amounts == nil {
		r.Amounts = map[string]decimal.Decimal{}
	}
}

// Total is the sum of the withholding and payment amounts of every category.
func (r Report) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range Categories {
		total = total.Add(r.AmountOf(c.Amount))
	}
	return total
}

// Result is the total minus the amount already settled.
func (r Report) Result() decimal.Decimal {
	return r.Total().Sub(r.ToDeduce)
}

// Filename names the presentation file.
func (r Report) Filename() string {
	return fmt.Sprintf("aeat111-%d-%s.txt", r.Year, r.Period)
}

// Apply stores a calculation result: mapped amounts and the derived party
// counts of work and economic activities.
func (r *Report) Apply(res calc.Result) {
	for field, amount := range res.Amounts {
		r.SetAmount(field, amount)
	}
	r.SetParties(WorkMonetaryParties, res.Count(calc.RegisterWorkAmount))
	r.SetParties(EconomicMonetaryParties, res.Count(calc.RegisterEconomicActivity))
}

// Register is a persisted calculation register.
type Register struct {
	ID          int64             `json:"id"`
	ReportID    int64             `json:"report_id"`
	Type        calc.RegisterType `json:"type"`
	PartyID     *int64            `json:"party_id"`
	Amount      decimal.Decimal   `json:"amount"`
	InvoiceIDs  []int64           `json:"invoice_ids"`
	MoveLineIDs []int64           `json:"move_line_ids"`
}

// Lock describes a ledger record tied to a register.
type Lock struct {
	Entity     string `json:"entity"`
	EntityID   int64  `json:"entity_id"`
	Label      string `json:"label"`
	ReportID   int64  `json:"report_id"`
	RegisterID int64  `json:"register_id"`
}
