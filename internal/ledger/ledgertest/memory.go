// Package ledgertest provides an in-memory ledger.Reader for tests.
package ledgertest

import (
	"context"
	"sort"

	"github.com/odyssey-erp/aeat111/internal/ledger"
)

// Move places move lines in a company and period.
type Move struct {
	CompanyID int64
	PeriodID  int64
	Posted    bool
}

// Memory is a ledger held in maps and slices. Zero values are usable.
type Memory struct {
	Companies map[int64]ledger.Company
	Banks     map[int64]ledger.BankAccount
	Moves     map[int64]Move
	Lines     []ledger.MoveLine
	Codes     []ledger.TaxCode
	TaxRows   []ledger.TaxLine
}

var _ ledger.Reader = (*Memory)(nil)

func (m *Memory) Company(ctx context.Context, id int64) (ledger.Company, error) {
	c, ok := m.Companies[id]
	if !ok {
		return ledger.Company{}, ledger.ErrCompanyNotFound
	}
	return c, nil
}

func (m *Memory) BankAccount(ctx context.Context, id int64) (ledger.BankAccount, error) {
	b, ok := m.Banks[id]
	if !ok {
		return ledger.BankAccount{}, ledger.ErrBankAccountNotFound
	}
	return b, nil
}

func (m *Memory) inScope(scope ledger.Scope, moveID int64) (Move, bool) {
	mv, ok := m.Moves[moveID]
	if !ok || mv.CompanyID != scope.CompanyID {
		return Move{}, false
	}
	for _, p := range scope.PeriodIDs {
		if p == mv.PeriodID {
			return mv, true
		}
	}
	return Move{}, false
}

func (m *Memory) MoveLines(ctx context.Context, scope ledger.Scope, accountID int64, side ledger.Side) ([]ledger.MoveLine, error) {
	var out []ledger.MoveLine
	for _, l := range m.Lines {
		if l.AccountID != accountID {
			continue
		}
		if _, ok := m.inScope(scope, l.MoveID); !ok {
			continue
		}
		if side == ledger.SideDebit && l.Debit.IsZero() {
			continue
		}
		if side == ledger.SideCredit && l.Credit.IsZero() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *Memory) TaxCodeTree(ctx context.Context, rootID int64) ([]ledger.TaxCode, error) {
	children := map[int64][]ledger.TaxCode{}
	var root *ledger.TaxCode
	for i, c := range m.Codes {
		if c.ID == rootID {
			root = &m.Codes[i]
		}
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c)
		}
	}
	if root == nil {
		return nil, nil
	}
	var out []ledger.TaxCode
	var walk func(c ledger.TaxCode)
	walk = func(c ledger.TaxCode) {
		c.HasChildren = len(children[c.ID]) > 0
		out = append(out, c)
		for _, child := range children[c.ID] {
			walk(child)
		}
	}
	walk(*root)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TaxLines(ctx context.Context, scope ledger.Scope, taxIDs []int64) ([]ledger.TaxLine, error) {
	wanted := map[int64]bool{}
	for _, id := range taxIDs {
		wanted[id] = true
	}
	moveOf := map[int64]int64{}
	for _, l := range m.Lines {
		moveOf[l.ID] = l.MoveID
	}
	var out []ledger.TaxLine
	for _, tl := range m.TaxRows {
		if !wanted[tl.TaxID] {
			continue
		}
		mv, ok := m.inScope(scope, moveOf[tl.MoveLineID])
		if !ok || !mv.Posted {
			continue
		}
		out = append(out, tl)
	}
	return out, nil
}
