package calc

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/aeat111/internal/aeat111/mapping"
	"github.com/odyssey-erp/aeat111/internal/ledger"
)

// Engine reads the ledger through a scoped port and computes a report.
type Engine struct {
	ledger ledger.Reader
}

// NewEngine constructs an Engine.
func NewEngine(reader ledger.Reader) *Engine {
	return &Engine{ledger: reader}
}

// Run computes every mapped field and the registers for one scope. Mapped
// fields start at zero so repeated runs over the same data agree.
func (e *Engine) Run(ctx context.Context, scope ledger.Scope, res mapping.Resolution) (Result, error) {
	amounts := make(map[string]decimal.Decimal)
	for _, field := range res.Fields() {
		amounts[field] = decimal.Zero
	}
	regs := newRegisters()

	for _, codeID := range res.CodeIDs() {
		field := res.Codes[codeID]
		amount, err := e.code(ctx, scope, codeID, regs)
		if err != nil {
			return Result{}, fmt.Errorf("calc: tax code %d: %w", codeID, err)
		}
		amounts[field] = amounts[field].Add(amount).Abs()
	}

	for _, accountID := range res.AccountIDs() {
		target := res.Accounts[accountID]
		amount, err := e.account(ctx, scope, accountID, target, regs)
		if err != nil {
			return Result{}, fmt.Errorf("calc: account %d: %w", accountID, err)
		}
		amounts[target.Field] = amounts[target.Field].Add(amount).Abs()
	}

	return Result{Amounts: amounts, Registers: regs.list()}, nil
}

// code returns the signed amount of a tax code subtree and records the
// counterparties of its tax lines as economic activity registers.
func (e *Engine) code(ctx context.Context, scope ledger.Scope, codeID int64, regs *registers) (decimal.Decimal, error) {
	tree, err := e.ledger.TaxCodeTree(ctx, codeID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(tree) == 0 {
		return decimal.Zero, nil
	}
	lines, err := e.ledger.TaxLines(ctx, scope, taxIDs(tree))
	if err != nil {
		return decimal.Zero, err
	}
	amounts := CodeAmounts(tree, lines)

	for _, node := range registerNodes(tree, amounts) {
		for _, cl := range node.Lines {
			if cl.Amount != ledger.AmountTax {
				continue
			}
			for _, tl := range lines {
				if !cl.Matches(tl) || tl.Invoice == nil || !tl.Invoice.Posted() {
					continue
				}
				party := tl.Invoice.PartyID
				reg := regs.get(RegisterEconomicActivity, &party)
				reg.Amount = reg.Amount.Add(tl.Amount.Abs())
				reg.InvoiceIDs = appendUnique(reg.InvoiceIDs, tl.Invoice.ID)
			}
		}
	}
	return amounts[codeID], nil
}

// account returns the sign-ruled contribution of an account and records
// its counterparties as work registers.
func (e *Engine) account(ctx context.Context, scope ledger.Scope, accountID int64, target mapping.AccountTarget, regs *registers) (decimal.Decimal, error) {
	side := ledger.SideAny
	switch target.Rule {
	case mapping.RuleDebit:
		side = ledger.SideDebit
	case mapping.RuleCredit:
		side = ledger.SideCredit
	}
	lines, err := e.ledger.MoveLines(ctx, scope, accountID, side)
	if err != nil {
		return decimal.Zero, err
	}

	amount := decimal.Zero
	for _, l := range lines {
		if target.Rule.AddsDebit() {
			amount = amount.Add(l.Debit)
		}
		if target.Rule.SubtractsCredit() {
			amount = amount.Sub(l.Credit)
		}
	}

	bucket := RegisterWorkAmount
	if strings.Contains(target.Field, "payment") {
		bucket = RegisterWorkPayment
	}
	for _, g := range groupByParty(lines) {
		balance := decimal.Zero
		for _, l := range g {
			balance = balance.Add(l.Balance())
		}
		reg := regs.get(bucket, g[0].PartyID)
		reg.Amount = reg.Amount.Add(balance.Abs())
		for _, l := range g {
			reg.MoveLineIDs = appendUnique(reg.MoveLineIDs, l.ID)
		}
	}
	return amount, nil
}

// CodeAmounts returns the signed amount of every node of a tax code tree:
// the tax lines matched by the node's own lines plus its children's amounts.
func CodeAmounts(tree []ledger.TaxCode, lines []ledger.TaxLine) map[int64]decimal.Decimal {
	own := make(map[int64]decimal.Decimal, len(tree))
	children := make(map[int64][]int64, len(tree))
	for _, node := range tree {
		sum := decimal.Zero
		for _, cl := range node.Lines {
			for _, tl := range lines {
				if cl.Matches(tl) {
					sum = sum.Add(tl.Amount.Mul(cl.Sign()))
				}
			}
		}
		own[node.ID] = sum
		if node.ParentID != nil {
			children[*node.ParentID] = append(children[*node.ParentID], node.ID)
		}
	}
	out := make(map[int64]decimal.Decimal, len(tree))
	var total func(id int64) decimal.Decimal
	total = func(id int64) decimal.Decimal {
		if v, ok := out[id]; ok {
			return v
		}
		sum := own[id]
		for _, child := range children[id] {
			sum = sum.Add(total(child))
		}
		out[id] = sum
		return sum
	}
	for _, node := range tree {
		total(node.ID)
	}
	return out
}

// registerNodes picks the codes whose tax lines identify counterparties:
// the only node of a single-node tree, else the leaves with an amount.
func registerNodes(tree []ledger.TaxCode, amounts map[int64]decimal.Decimal) []ledger.TaxCode {
	if len(tree) == 1 {
		return tree
	}
	var out []ledger.TaxCode
	for _, node := range tree {
		if node.HasChildren || amounts[node.ID].IsZero() {
			continue
		}
		out = append(out, node)
	}
	return out
}

func taxIDs(tree []ledger.TaxCode) []int64 {
	seen := map[int64]struct{}{}
	var out []int64
	for _, node := range tree {
		for _, l := range node.Lines {
			if _, ok := seen[l.TaxID]; ok {
				continue
			}
			seen[l.TaxID] = struct{}{}
			out = append(out, l.TaxID)
		}
	}
	sortIDs(out)
	return out
}

// groupByParty splits lines per party in first-seen order.
func groupByParty(lines []ledger.MoveLine) [][]ledger.MoveLine {
	index := map[registerKey]int{}
	var out [][]ledger.MoveLine
	for _, l := range lines {
		k := keyOf("", l.PartyID)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], l)
	}
	return out
}
