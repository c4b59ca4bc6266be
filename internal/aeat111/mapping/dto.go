package mapping

// MappingInput creates or replaces a company mapping.
type MappingInput struct {
	CompanyID *int64  `json:"company_id" validate:"omitempty,gt=0"`
	Field     string  `json:"field" validate:"required,amountfield"`
	Type      Type    `json:"type" validate:"required,oneof=account code"`
	Rule      Rule    `json:"debit_credit_type" validate:"omitempty,oneof=debit credit both"`
	Accounts  []int64 `json:"accounts" validate:"dive,gt=0"`
	Codes     []int64 `json:"codes" validate:"dive,gt=0"`
}

// TemplateInput creates a template mapping.
type TemplateInput struct {
	Field    string  `json:"field" validate:"required,amountfield"`
	Type     Type    `json:"type" validate:"required,oneof=account code"`
	Rule     Rule    `json:"debit_credit_type" validate:"omitempty,oneof=debit credit both"`
	Accounts []int64 `json:"account_templates" validate:"dive,gt=0"`
	Codes    []int64 `json:"code_templates" validate:"dive,gt=0"`
}

// PropagationMode selects chart creation or chart update behaviour.
type PropagationMode string

const (
	PropagateCreate PropagationMode = "create"
	PropagateUpdate PropagationMode = "update"
)

// PropagationResult counts the mappings touched by a propagation.
type PropagationResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}
