package aeat111

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/aeat111/internal/aeat111/periods"
)

// MaxPartyCount bounds every non-zero party count.
const MaxPartyCount = 99999999

// DefaultMaxParties is the configured party cap when none is given.
const DefaultMaxParties = 15

// Validator checks reports before they are saved.
type Validator struct {
	v          *validator.Validate
	maxParties int
}

// NewValidator builds a Validator capping every party count at maxParties.
func NewValidator(maxParties int) *Validator {
	if maxParties <= 0 {
		maxParties = DefaultMaxParties
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		return periods.ValidCode(fl.Field().String())
	})
	out := &Validator{v: v, maxParties: maxParties}
	v.RegisterStructValidation(out.checkReport, reportRules{})
	return out
}

// reportRules is the validated view of a report.
type reportRules struct {
	Type           DeclarationType `json:"type" validate:"required,oneof=I U G N"`
	CompanyVAT     string          `json:"company_vat" validate:"max=9"`
	CompanySurname string          `json:"company_surname" validate:"max=60"`
	CompanyName    string          `json:"company_name" validate:"max=20"`
	Year           int             `json:"year" validate:"gte=1000,lte=9999"`
	Period         string          `json:"period" validate:"required,period"`
	Receipt        string          `json:"previous_declaration_receipt" validate:"max=13"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	report         Report
}

// Validate applies the save rules. companyCurrency is the currency of the
// report's company.
func (v *Validator) Validate(r Report, companyCurrency string) error {
	in := reportRules{
		Type:           r.Type,
		CompanyVAT:     r.CompanyVAT,
		CompanySurname: r.CompanySurname,
		CompanyName:    r.CompanyName,
		Year:           r.Year,
		Period:         r.Period,
		Receipt:        r.PreviousDeclarationReceipt,
		Currency:       r.Currency,
		report:         r,
	}
	fields := map[string]string{}
	if err := v.v.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
	}
	if companyCurrency != "" && r.Currency != companyCurrency {
		fields["currency"] = fmt.Sprintf("must match company currency %s", companyCurrency)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (v *Validator) checkReport(sl validator.StructLevel) {
	r := sl.Current().Interface().(reportRules).report
	known := map[string]bool{}
	for _, c := range Categories {
		known[c.Base] = true
		known[c.Amount] = true
		n := r.PartiesOf(c.Parties)
		known[c.Parties] = true
		switch {
		case n < 0:
			sl.ReportError(n, c.Parties, c.Parties, "gte", "0")
		case n > v.maxParties:
			sl.ReportError(n, c.Parties, c.Parties, "max_parties", fmt.Sprint(v.maxParties))
		case c.Guard == "":
		case r.AmountOf(c.Guard).IsZero() && n != 0:
			sl.ReportError(n, c.Parties, c.Parties, "zero_parties", c.Guard)
		case !r.AmountOf(c.Guard).IsZero() && (n < 1 || n > MaxPartyCount):
			sl.ReportError(n, c.Parties, c.Parties, "parties_range", c.Guard)
		}
	}
	for name := range r.Parties {
		if !known[name] || !strings.HasSuffix(name, "_parties") {
			sl.ReportError(name, name, name, "unknown", "")
		}
	}
	for name := range r.Amounts {
		if !known[name] || strings.HasSuffix(name, "_parties") {
			sl.ReportError(name, name, name, "unknown", "")
		}
	}
	if r.ComplementaryDeclaration && strings.TrimSpace(r.PreviousDeclarationReceipt) == "" {
		sl.ReportError(r.PreviousDeclarationReceipt, "previous_declaration_receipt", "Receipt", "required_if", "complementary_declaration")
	}
	if r.Type == TypeDirectDebit && r.BankAccountID == nil {
		sl.ReportError(r.BankAccountID, "bank_account_id", "BankAccountID", "required_if", "type U")
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be " + fe.Param() + " characters"
	case "gte", "lte":
		if fe.Field() == "year" {
			return "must be a four digit year"
		}
		return fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param())
	case "period":
		return "must be 1T..4T or 01..12"
	case "max_parties":
		return "may not exceed " + fe.Param()
	case "zero_parties":
		return "must be 0 while " + fe.Param() + " is 0"
	case "parties_range":
		return fmt.Sprintf("must be between 1 and %d while %s is set", MaxPartyCount, fe.Param())
	case "required_if":
		return "is required for " + fe.Param()
	case "unknown":
		return "is not a declaration field"
	}
	return "failed " + fe.Tag()
}
