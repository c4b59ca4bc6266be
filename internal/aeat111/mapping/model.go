package mapping

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrDuplicateMapping indicates a second mapping for the same company and field.
	ErrDuplicateMapping = errors.New("aeat111/mapping: field already mapped for company")
	// ErrDuplicateTemplate indicates a second template for the same field.
	ErrDuplicateTemplate = errors.New("aeat111/mapping: field already has a template")
	// ErrMappingNotFound indicates an unknown mapping id.
	ErrMappingNotFound = errors.New("aeat111/mapping: mapping not found")
	// ErrInvalidMapping indicates a mapping that fails validation.
	ErrInvalidMapping = errors.New("aeat111/mapping: invalid mapping")
)

// Type tells whether a mapping reads accounts or tax codes.
type Type string

const (
	TypeAccount Type = "account"
	TypeCode    Type = "code"
)

// Rule is the debit/credit sign policy of an account mapping.
type Rule string

const (
	RuleNone   Rule = ""
	RuleDebit  Rule = "debit"
	RuleCredit Rule = "credit"
	RuleBoth   Rule = "both"
)

// AddsDebit reports whether debits count toward the field.
func (r Rule) AddsDebit() bool { return r == RuleDebit || r == RuleBoth }

// SubtractsCredit reports whether credits count against the field.
func (r Rule) SubtractsCredit() bool { return r == RuleCredit || r == RuleBoth }

// Source records how a link was created.
type Source string

const (
	SourceTemplate Source = "template"
	SourceManual   Source = "manual"
)

// Link ties a mapping to an account or tax code.
type Link struct {
	ID     int64
	Source Source
}

// Mapping assigns ledger accounts or tax codes to one declaration field.
// A nil CompanyID makes it a default shared by every company.
type Mapping struct {
	ID         int64
	CompanyID  *int64
	Field      string
	Type       Type
	Rule       Rule
	TemplateID *int64
	Accounts   []Link
	Codes      []Link
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Template is the company independent definition instantiated per company.
type Template struct {
	ID                 int64
	Field              string
	Type               Type
	Rule               Rule
	AccountTemplateIDs []int64
	CodeTemplateIDs    []int64
	CreatedAt          time.Time
}

// AccountTarget is where an account's movements are accumulated.
type AccountTarget struct {
	Field string
	Rule  Rule
}

// Resolution is the per-company lookup used by the calculation.
type Resolution struct {
	Accounts map[int64]AccountTarget
	Codes    map[int64]string
}

// Fields returns every field fed by the resolution, sorted.
func (r Resolution) Fields() []string {
	seen := map[string]struct{}{}
	for _, t := range r.Accounts {
		seen[t.Field] = struct{}{}
	}
	for _, f := range r.Codes {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// AccountIDs returns the mapped accounts in ascending order.
func (r Resolution) AccountIDs() []int64 {
	return sortedKeys(r.Accounts)
}

// CodeIDs returns the mapped tax codes in ascending order.
func (r Resolution) CodeIDs() []int64 {
	return sortedKeys(r.Codes)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve builds the lookup tables from the mappings visible to a company.
// Unowned mappings are applied first so company mappings win on overlap.
func Resolve(mappings []Mapping) Resolution {
	res := Resolution{Accounts: map[int64]AccountTarget{}, Codes: map[int64]string{}}
	ordered := make([]Mapping, len(mappings))
	copy(ordered, mappings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CompanyID == nil && ordered[j].CompanyID != nil
	})
	for _, m := range ordered {
		switch m.Type {
		case TypeAccount:
			for _, l := range m.Accounts {
				res.Accounts[l.ID] = AccountTarget{Field: m.Field, Rule: m.Rule}
			}
		case TypeCode:
			for _, l := range m.Codes {
				res.Codes[l.ID] = m.Field
			}
		}
	}
	return res
}
