// Package planner converts a desired account action (buy, sell, fund,
// draw, reallocate) plus a set of per-asset debt deltas into an ordered
// list of atomic ledger operations. The order is part of the contract: a
// valid plan executed out of order may violate solvency at an intermediate
// step even though the final state is identical.
package planner

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation is one atomic ledger operation. Concrete variants are the
// structs below; execution is delegated entirely to an external
// transaction-execution collaborator.
type Operation interface {
	// Kind returns the operation's wire tag.
	Kind() string
}

// FundCollateral deposits collateral into the named asset.
type FundCollateral struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func (FundCollateral) Kind() string { return "fundCollateral" }

// FundCash deposits free DAI into the account.
type FundCash struct {
	Amount decimal.Decimal `json:"amount"`
}

func (FundCash) Kind() string { return "fundCash" }

// DrawCollateral withdraws collateral from the named asset.
type DrawCollateral struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

func (DrawCollateral) Kind() string { return "drawCollateral" }

// DrawCash withdraws surplus DAI held against the given ilk.
type DrawCash struct {
	Ilk    string          `json:"ilk"`
	Amount decimal.Decimal `json:"amount"`
}

func (DrawCash) Kind() string { return "drawCash" }

// AdjustDebt moves collateral and/or cash against the named asset's vault.
// A positive CashDelta borrows DAI into cash; a negative one repays debt
// from cash. Deltas not present are left null.
type AdjustDebt struct {
	Name            string              `json:"name"`
	CollateralDelta decimal.NullDecimal `json:"collateral_delta"`
	CashDelta       decimal.NullDecimal `json:"cash_delta"`
}

func (AdjustDebt) Kind() string { return "adjustDebt" }

// BuyRecursive buys Amount of collateral, spending at most MaxTotal DAI.
// During the recursion debt is drawn transiently against the purchased
// collateral as it accumulates; the transient draw unwinds before the
// operation completes, so the surrounding AdjustDebt operations alone
// settle the vault's final debt.
type BuyRecursive struct {
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	MaxTotal decimal.Decimal `json:"max_total"`
}

func (BuyRecursive) Kind() string { return "buyRecursive" }

// SellRecursive sells Amount of collateral for at least MaxTotal DAI.
// During the recursion debt is repaid transiently so collateral can be
// freed in rounds; the transient repayment is re-drawn before the
// operation completes, so the surrounding AdjustDebt operations alone
// settle the vault's final debt.
type SellRecursive struct {
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	MaxTotal decimal.Decimal `json:"max_total"`
}

func (SellRecursive) Kind() string { return "sellRecursive" }

// Plan is a disposable, ordered operation list consumed exactly once by
// the external execution collaborator.
type Plan struct {
	ID         string      `json:"id"`
	Action     string      `json:"action"`
	CreatedAt  time.Time   `json:"created_at"`
	Operations []Operation `json:"operations"`
}

func newPlan(action string, ops []Operation) *Plan {
	return &Plan{
		ID:         uuid.New().String(),
		Action:     action,
		CreatedAt:  time.Now().UTC(),
		Operations: ops,
	}
}

// GasCall describes the execution call the collaborator should estimate
// gas for. The engine never signs or sends anything.
type GasCall struct {
	Method         string   `json:"method"`
	PlanID         string   `json:"plan_id"`
	OperationKinds []string `json:"operation_kinds"`
}

// GasCall returns the gas-estimation descriptor for the plan.
func (p *Plan) GasCall() GasCall {
	kinds := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		kinds[i] = op.Kind()
	}
	return GasCall{
		Method:         "executeOperations",
		PlanID:         p.ID,
		OperationKinds: kinds,
	}
}

// Encode renders an operation as a tagged JSON-ready map for the HTTP
// boundary.
func Encode(op Operation) map[string]any {
	m := map[string]any{"kind": op.Kind()}
	switch o := op.(type) {
	case FundCollateral:
		m["name"], m["amount"] = o.Name, o.Amount
	case FundCash:
		m["amount"] = o.Amount
	case DrawCollateral:
		m["name"], m["amount"] = o.Name, o.Amount
	case DrawCash:
		m["ilk"], m["amount"] = o.Ilk, o.Amount
	case AdjustDebt:
		m["name"] = o.Name
		if o.CollateralDelta.Valid {
			m["collateral_delta"] = o.CollateralDelta.Decimal
		}
		if o.CashDelta.Valid {
			m["cash_delta"] = o.CashDelta.Decimal
		}
	case BuyRecursive:
		m["name"], m["amount"], m["max_total"] = o.Name, o.Amount, o.MaxTotal
	case SellRecursive:
		m["name"], m["amount"], m["max_total"] = o.Name, o.Amount, o.MaxTotal
	}
	return m
}
