// Package calc aggregates ledger data into declaration amounts and the
// per-counterparty registers that back the party counts.
package calc

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RegisterType is the bucket a register belongs to.
type RegisterType string

const (
	RegisterWorkPayment      RegisterType = "work_payment"
	RegisterWorkAmount       RegisterType = "work_amount"
	RegisterEconomicActivity RegisterType = "economic_activity"
)

// Register is the absolute amount one counterparty contributed to a bucket.
// A nil PartyID groups the lines that carry no party.
type Register struct {
	Type        RegisterType
	PartyID     *int64
	Amount      decimal.Decimal
	InvoiceIDs  []int64
	MoveLineIDs []int64
}

// Result is the outcome of one report calculation.
type Result struct {
	Amounts   map[string]decimal.Decimal
	Registers []Register
}

// Count returns the number of registers of a type.
func (r Result) Count(t RegisterType) int {
	n := 0
	for _, reg := range r.Registers {
		if reg.Type == t {
			n++
		}
	}
	return n
}

// Amount returns the computed amount of a field, zero when unmapped.
func (r Result) Amount(field string) decimal.Decimal {
	return r.Amounts[field]
}

type registerKey struct {
	typ   RegisterType
	party int64
	none  bool
}

func keyOf(t RegisterType, party *int64) registerKey {
	if party == nil {
		return registerKey{typ: t, none: true}
	}
	return registerKey{typ: t, party: *party}
}

// registers keeps buckets in first-seen order so results are stable.
type registers struct {
	index map[registerKey]int
	items []Register
}

func newRegisters() *registers {
	return &registers{index: map[registerKey]int{}}
}

func (r *registers) get(t RegisterType, party *int64) *Register {
	k := keyOf(t, party)
	if i, ok := r.index[k]; ok {
		return &r.items[i]
	}
	reg := Register{Type: t, Amount: decimal.Zero}
	if party != nil {
		p := *party
		reg.PartyID = &p
	}
	r.index[k] = len(r.items)
	r.items = append(r.items, reg)
	return &r.items[len(r.items)-1]
}

func (r *registers) list() []Register {
	out := make([]Register, len(r.items))
	copy(out, r.items)
	for i := range out {
		sortIDs(out[i].InvoiceIDs)
		sortIDs(out[i].MoveLineIDs)
	}
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
