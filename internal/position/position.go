// Package position derives a collateral asset's full risk/health snapshot
// from its raw chain-state core and the current order book. Everything here
// is a pure function of its inputs: no shared state, no I/O, safe to call
// concurrently.
//
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/feasible"
	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/money"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// LiquidationState classifies how close a position is to liquidation.
type LiquidationState string

const (
	LiquidationNone     LiquidationState = "none"
	LiquidationImminent LiquidationState = "imminent" // next oracle price breaches the minimum ratio
	LiquidationActive   LiquidationState = "active"   // current ratio already below the minimum
)

// Config carries the engine's empirical tuning constants. The defaults
// reproduce the dashboard's observed behavior; they are exposed rather
// than hard-coded because the spend epsilon is scale-dependent and the
// iteration caps have no derivation beyond field tuning.
type Config struct {
	// SpendEpsilon terminates the purchasing-power loop once the
	// remaining spendable cash drops below it. Defaults to one unit of
	// cash precision.
	SpendEpsilon decimal.Decimal

	// PowerIterationCap bounds the borrow-and-buy expansion. The loop
	// converges because offer prices only get worse; the cap is a safety
	// valve, and hitting it with cash still spendable is a defect.
	PowerIterationCap int

	// SellIterationCap bounds the alternating free-collateral/repay-debt
	// rounds of Sellable.
	SellIterationCap int

	// BisectNumerator sets MaxSellable's bisection tolerance as
	// BisectNumerator / referencePrice.
	BisectNumerator decimal.Decimal
}

// DefaultConfig returns the tuning constants used in production.
func DefaultConfig() Config {
	return Config{
		SpendEpsilon:      money.Unit(money.CashPrecision),
		PowerIterationCap: 10,
		SellIterationCap:  10,
		BisectNumerator:   decimal.NewFromFloat(0.001),
	}
}

// CollateralAssetDerived is the computed risk snapshot for one collateral
// asset. It is never persisted: always recomputed from the core.
type CollateralAssetDerived struct {
	model.CollateralAssetCore

	BalanceInDAI     decimal.Decimal  `json:"balance_in_dai"`
	CollRatio        money.Ratio      `json:"-"` // undefined when debt is zero
	MaxDebt          decimal.Decimal  `json:"max_debt"`
	AvailableDebt    decimal.Decimal  `json:"available_debt"`
	LiquidationPrice decimal.Decimal  `json:"liquidation_price"`
	Leverage         money.Ratio      `json:"-"` // undefined when debt equals collateral value
	PurchasingPower  decimal.Decimal  `json:"purchasing_power"`
	Safe             bool             `json:"safe"`
	LiquidationState LiquidationState `json:"liquidation_state"`
}

// Calculate derives the full snapshot for core. accountCash is the
// account's free DAI, which contributes to purchasing power alongside the
// asset's own cash surplus; sellOffers is the order book side a buyer of
// this collateral lifts.
func Calculate(core model.CollateralAssetCore, accountCash decimal.Decimal, sellOffers []orderbook.Offer, cfg Config) CollateralAssetDerived {
	balanceInDAI := core.Balance.Mul(core.ReferencePrice)
	collRatio := money.NewRatio(balanceInDAI, core.Debt)
	maxDebt := decimal.Zero
	if core.SafeCollRatio.IsPositive() {
		maxDebt = balanceInDAI.Div(core.SafeCollRatio)
	}
	availableDebt := decimal.Max(decimal.Zero, maxDebt.Sub(core.Debt))

	liquidationPrice := decimal.Zero
	if core.Debt.IsPositive() && core.Balance.IsPositive() {
		liquidationPrice = core.MinCollRatio.Mul(core.Debt).Div(core.Balance)
	}

	leverage := money.NewRatio(balanceInDAI, balanceInDAI.Sub(core.Debt))

	d := CollateralAssetDerived{
		CollateralAssetCore: core,
		BalanceInDAI:        balanceInDAI,
		CollRatio:           collRatio,
		MaxDebt:             maxDebt,
		AvailableDebt:       availableDebt,
		LiquidationPrice:    liquidationPrice,
		Leverage:            leverage,
		PurchasingPower:     purchasingPower(core, accountCash, sellOffers, cfg),
		Safe:                !collRatio.Defined() || collRatio.AtLeast(core.SafeCollRatio),
		LiquidationState:    liquidationState(core, collRatio),
	}
	return d
}

func liquidationState(core model.CollateralAssetCore, collRatio money.Ratio) LiquidationState {
	if collRatio.LessThan(core.MinCollRatio) {
		return LiquidationActive
	}
	if core.NextOraclePrice.Valid && core.Debt.IsPositive() {
		nextRatio := money.NewRatio(core.Balance.Mul(core.NextOraclePrice.Decimal), core.Debt)
		if nextRatio.LessThan(core.MinCollRatio) {
			return LiquidationImminent
		}
	}
	return LiquidationNone
}

// purchasingPower computes the maximum additional collateral value (in
// DAI) obtainable through borrow-and-buy expansion without breaching the
// safe ratio. There is no closed form: every round's purchase deepens into
// the book, which changes the achievable balance, which changes the safe
// borrowing limit, which changes next round's spending power.
func purchasingPower(core model.CollateralAssetCore, accountCash decimal.Decimal, sellOffers []orderbook.Offer, cfg Config) decimal.Decimal {
	amount := core.Balance
	debt := core.Debt
	cash := core.CashBalance.Add(accountCash)
	offers := sellOffers
	power := decimal.Zero

	for i := 0; i < cfg.PowerIterationCap; i++ {
		if cash.LessThanOrEqual(cfg.SpendEpsilon) || len(offers) == 0 {
			break
		}

		bought, cashLeft, rest := orderbook.AmountForSpend(cash, offers)
		power = power.Add(cash.Sub(cashLeft))
		amount = amount.Add(bought)
		offers = rest

		if cashLeft.IsPositive() {
			// Book exhausted before the budget; no further rounds can buy.
			break
		}

		// Safety-constrained headroom at the expanded balance becomes
		// next round's spending power.
		available := amount.Mul(core.ReferencePrice).Div(core.SafeCollRatio).Sub(debt)
		if available.LessThanOrEqual(cfg.SpendEpsilon) {
			break
		}
		debt = debt.Add(available)
		cash = available
	}

	// A position cannot be opened below the minimum viable debt. Zero
	// debt is always legal: a spend funded purely from cash never touches
	// the floor.
	if debt.IsPositive() && debt.LessThan(core.MinDebt) {
		return decimal.Zero
	}
	return power
}

// Sellable reports whether amount of collateral can be sold into buyOffers
// without ever breaching the minimum collateralization ratio. Selling
// frees room to repay debt and repaying frees more collateral, in
// alternating rounds; a round that frees zero collateral and repays zero
// debt signals infeasibility. Returns nil when feasible, or an infeasible
// error with the blocking reason.
func Sellable(core model.CollateralAssetCore, buyOffers []orderbook.Offer, amount decimal.Decimal, cfg Config) error {
	if amount.GreaterThan(core.Balance) {
		return feasible.New(feasible.ReasonNotEnoughFunds)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	remaining := amount
	balance := core.Balance
	debt := core.Debt
	offers := buyOffers

	for i := 0; ; i++ {
		if i >= cfg.SellIterationCap {
			return feasible.New(feasible.ReasonTooManyIterations)
		}

		// Collateral withdrawable while holding the ratio at the
		// liquidation threshold.
		locked := decimal.Zero
		if debt.IsPositive() {
			locked = debt.Mul(core.MinCollRatio).Div(core.ReferencePrice)
		}
		free := decimal.Min(balance.Sub(locked), remaining)
		if free.IsNegative() {
			free = decimal.Zero
		}

		proceeds := decimal.Zero
		if free.IsPositive() {
			var err error
			proceeds, offers, err = orderbook.Fill(free, offers)
			if err != nil {
				return err
			}
		}

		repay := decimal.Min(debt, proceeds)
		newDebt := debt.Sub(repay)
		if newDebt.IsPositive() && newDebt.LessThan(core.MinDebt) {
			// Partial repayment may not leave a dust position. Back off
			// to the dust floor when possible; otherwise the sale is
			// stuck on the wrong side of the floor.
			if debt.GreaterThan(core.MinDebt) {
				repay = debt.Sub(core.MinDebt)
			} else {
				return feasible.New(feasible.ReasonDustJump)
			}
		}

		if free.IsZero() && repay.IsZero() {
			return feasible.New(feasible.ReasonNoFreeCollateral)
		}

		balance = balance.Sub(free)
		remaining = remaining.Sub(free)
		debt = debt.Sub(repay)

		if !remaining.IsPositive() {
			return nil
		}
	}
}

// MaxSellable finds the largest amount for which Sellable holds, by
// bisection over the monotonic feasibility predicate, refined to the
// asset's currency precision. The rounded candidate is re-validated:
// rounding can flip feasibility at the boundary, so the result steps down
// by whole units until it verifies.
func MaxSellable(core model.CollateralAssetCore, buyOffers []orderbook.Offer, cfg Config) decimal.Decimal {
	if !core.Balance.IsPositive() || !core.ReferencePrice.IsPositive() {
		return decimal.Zero
	}

	hi := decimal.Min(core.Balance, orderbook.Depth(buyOffers))
	if hi.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if Sellable(core, buyOffers, hi, cfg) == nil {
		return roundDownValid(core, buyOffers, hi, cfg)
	}

	lo := decimal.Zero
	tolerance := cfg.BisectNumerator.Div(core.ReferencePrice)

	for hi.Sub(lo).GreaterThan(tolerance) {
		mid := lo.Add(hi).Div(decimal.NewFromInt(2))
		if Sellable(core, buyOffers, mid, cfg) == nil {
			lo = mid
		} else {
			hi = mid
		}
	}

	return roundDownValid(core, buyOffers, lo, cfg)
}

// roundDownValid rounds amount down to the asset's precision and walks
// down one unit at a time until the rounded amount is actually sellable.
func roundDownValid(core model.CollateralAssetCore, buyOffers []orderbook.Offer, amount decimal.Decimal, cfg Config) decimal.Decimal {
	unit := money.Unit(core.Precision)
	rounded := amount.RoundDown(core.Precision)
	for rounded.IsPositive() {
		if Sellable(core, buyOffers, rounded, cfg) == nil {
			return rounded
		}
		rounded = rounded.Sub(unit)
	}
	return decimal.Zero
}
