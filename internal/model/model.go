// Package model defines the core domain types shared across the margin
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Core snapshots are immutable inputs; every derived value is
// recomputed from them on demand and never cached across mutations.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashName is the quote currency every debt is denominated in.
const CashName = "DAI"

// EventKind tags a raw ledger event decoded from chain logs by an external
// collaborator. The engine never decodes logs itself.
type EventKind string

const (
	EventFund   EventKind = "fund"   // collateral deposited
	EventDraw   EventKind = "draw"   // collateral withdrawn
	EventBorrow EventKind = "borrow" // DAI debt drawn
	EventRepay  EventKind = "repay"  // DAI debt repaid
	EventBuy    EventKind = "buy"    // leveraged buy: collateral in, debt up
	EventSell   EventKind = "sell"   // leveraged sell: collateral out, debt down
)

// RawHistoryEvent is one already-decoded ledger event for a collateral
// asset. Events arrive time-ordered per asset.
type RawHistoryEvent struct {
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	TxHash    string          `json:"tx_hash"`
	Amount    decimal.Decimal `json:"amount"`     // collateral leg (fund/draw/buy/sell)
	DAIAmount decimal.Decimal `json:"dai_amount"` // cash leg (borrow/repay/buy/sell)
}

// CollateralAssetCore is the immutable raw snapshot of one collateral
// asset, refreshed by the external chain-state collaborator on every
// upstream change.
type CollateralAssetCore struct {
	Name               string              `json:"name"`
	Balance            decimal.Decimal     `json:"balance"`      // collateral held
	Debt               decimal.Decimal     `json:"debt"`         // DAI borrowed against it
	CashBalance        decimal.Decimal     `json:"cash_balance"` // surplus DAI held against this asset
	ReferencePrice     decimal.Decimal     `json:"reference_price"`
	NextOraclePrice    decimal.NullDecimal `json:"next_oracle_price"` // optional; imminent-liquidation probe
	MinCollRatio       decimal.Decimal     `json:"min_coll_ratio"`    // liquidation threshold
	SafeCollRatio      decimal.Decimal     `json:"safe_coll_ratio"`   // target threshold, > MinCollRatio
	StabilityFee       decimal.Decimal     `json:"stability_fee"`
	LiquidationPenalty decimal.Decimal     `json:"liquidation_penalty"`
	MinDebt            decimal.Decimal     `json:"min_debt"`   // dust floor
	Precision          int32               `json:"precision"`  // display/consensus precision of the collateral token
	Volatility         float64             `json:"volatility"` // σ of the normalized distance-to-liquidation
	History            []RawHistoryEvent   `json:"history,omitempty"`
}

// CashAsset is the account's free quote-currency (DAI) balance. It is not
// collateralized and contributes fully to the purchasing power of every
// collateral asset.
type CashAsset struct {
	Balance decimal.Decimal `json:"balance"`
}

// MarginAccount is either not set up (terminal: no operations possible) or
// a set-up account holding free cash and collateral assets.
//
// Invariant: aggregate debt is Σ collateral debts; it is exposed as a
// method so it is recomputed on every read, never cached.
type MarginAccount struct {
	Owner       string                `json:"owner"`
	Setup       bool                  `json:"setup"`
	Cash        CashAsset             `json:"cash"`
	Collaterals []CollateralAssetCore `json:"collaterals"`
}

// TotalDebt recomputes the aggregate DAI debt across all collateral assets.
func (a *MarginAccount) TotalDebt() decimal.Decimal {
	total := decimal.Zero
	for i := range a.Collaterals {
		total = total.Add(a.Collaterals[i].Debt)
	}
	return total
}

// Collateral returns the named collateral asset, or nil when the account
// does not hold it.
func (a *MarginAccount) Collateral(name string) *CollateralAssetCore {
	for i := range a.Collaterals {
		if a.Collaterals[i].Name == name {
			return &a.Collaterals[i]
		}
	}
	return nil
}

// DebtDelta is one signed per-asset debt change: positive borrows more,
// negative repays.
type DebtDelta struct {
	Name  string          `json:"name"`
	Delta decimal.Decimal `json:"delta"`
}

// SumDeltas returns the aggregate signed debt change of a delta set.
func SumDeltas(deltas []DebtDelta) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range deltas {
		sum = sum.Add(d.Delta)
	}
	return sum
}
