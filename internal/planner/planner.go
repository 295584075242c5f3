package planner

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/alloc"
	"github.com/OasisDEX/xDex-sub000/internal/feasible"
	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/money"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
	"github.com/OasisDEX/xDex-sub000/internal/position"
)

// Config bundles the position-calculator tuning the planner consults for
// purchasing-power and sellability checks.
type Config struct {
	Position position.Config
}

// DefaultConfig returns the production planner configuration.
func DefaultConfig() Config {
	return Config{Position: position.DefaultConfig()}
}

// AllocationRequest asks the debt allocation optimizer to split TargetDebt
// across Assets. Prepare* functions return it; the caller runs the
// optimizer (possibly on a worker goroutine) and feeds the resulting
// deltas back into the matching Plan* function.
type AllocationRequest struct {
	TargetDebt decimal.Decimal `json:"target_debt"`
	Assets     []alloc.Asset   `json:"-"`
}

// Deltas converts an optimizer allocation into the signed per-asset debt
// changes relative to the account's current debts.
func (r *AllocationRequest) Deltas(account *model.MarginAccount, allocation alloc.Allocation) []model.DebtDelta {
	deltas := make([]model.DebtDelta, 0, len(allocation.Debts))
	for _, ad := range allocation.Debts {
		current := decimal.Zero
		if asset := account.Collateral(ad.Name); asset != nil {
			current = asset.Debt
		}
		deltas = append(deltas, model.DebtDelta{Name: ad.Name, Delta: ad.Debt.Sub(current)})
	}
	return deltas
}

// --- Shared validation ---

// projection overrides an asset's balance when validating deltas for a
// trade that changes the balance itself (buy adds, sell removes).
type projection map[string]decimal.Decimal

// validateDeltas checks that applying the delta set leaves every touched
// asset solvent: debt non-negative, above the dust floor or zero, and
// collateralized at or above the liquidation threshold.
func validateDeltas(account *model.MarginAccount, deltas []model.DebtDelta, projected projection) error {
	for _, d := range deltas {
		asset := account.Collateral(d.Name)
		if asset == nil {
			return feasible.New(feasible.ReasonAssetNotSetup)
		}

		postDebt := asset.Debt.Add(d.Delta)
		if postDebt.IsNegative() {
			return feasible.New("cannot repay more than outstanding debt")
		}
		if postDebt.IsPositive() && postDebt.LessThan(asset.MinDebt) {
			return feasible.New(feasible.ReasonDustJump)
		}

		balance := asset.Balance
		if p, ok := projected[d.Name]; ok {
			balance = p
		}
		ratio := money.NewRatio(balance.Mul(asset.ReferencePrice), postDebt)
		if ratio.LessThan(asset.MinCollRatio) {
			return feasible.New(feasible.ReasonDebtAtMax)
		}
	}
	return nil
}

// --- Delta ordering ---

// orderDeltas sorts descending by delta: largest increase first, largest
// decrease last. Increases generate cash (debt drawn) before decreases
// spend it, so the net cash movement at every prefix of the resulting
// operation list stays solvent. The sort is stable so equal deltas keep
// their input order.
func orderDeltas(deltas []model.DebtDelta) []model.DebtDelta {
	ordered := make([]model.DebtDelta, len(deltas))
	copy(ordered, deltas)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Delta.GreaterThan(ordered[j].Delta)
	})
	return ordered
}

// deltaToOperation converts one signed debt delta into its ledger
// operation. Zero deltas emit nothing: dust-free plans must not contain
// no-op operations.
func deltaToOperation(d model.DebtDelta) (Operation, bool) {
	if d.Delta.IsZero() {
		return nil, false
	}
	return AdjustDebt{
		Name:      d.Name,
		CashDelta: decimal.NewNullDecimal(d.Delta),
	}, true
}

// splitTraded separates the traded asset's delta from the rest so the
// builders can pin it next to the trade operation.
func splitTraded(deltas []model.DebtDelta, name string) (traded model.DebtDelta, others []model.DebtDelta) {
	traded = model.DebtDelta{Name: name, Delta: decimal.Zero}
	for _, d := range deltas {
		if d.Name == name {
			traded.Delta = traded.Delta.Add(d.Delta)
			continue
		}
		others = append(others, d)
	}
	return traded, others
}

// appendDeltaOps appends operations for deltas matching keep, preserving
// the given (already ordered) sequence.
func appendDeltaOps(ops []Operation, deltas []model.DebtDelta, keep func(decimal.Decimal) bool) []Operation {
	for _, d := range deltas {
		if !keep(d.Delta) {
			continue
		}
		if op, ok := deltaToOperation(d); ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// --- Fund / Draw ---

// PlanFund deposits amount of the named asset (collateral, or free DAI
// when name is the cash asset).
func PlanFund(account *model.MarginAccount, name string, amount decimal.Decimal) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	if !amount.IsPositive() {
		return nil, feasible.New("invalid amount")
	}
	if name == model.CashName {
		return newPlan("fund", []Operation{FundCash{Amount: amount}}), nil
	}
	if account.Collateral(name) == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	return newPlan("fund", []Operation{FundCollateral{Name: name, Amount: amount}}), nil
}

// PlanDrawCollateral withdraws collateral, limited to what can be freed
// while keeping the asset at its safe collateralization ratio.
func PlanDrawCollateral(account *model.MarginAccount, name string, amount decimal.Decimal) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	asset := account.Collateral(name)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	if !amount.IsPositive() {
		return nil, feasible.New("invalid amount")
	}

	locked := decimal.Zero
	if asset.Debt.IsPositive() && asset.ReferencePrice.IsPositive() {
		locked = asset.Debt.Mul(asset.SafeCollRatio).Div(asset.ReferencePrice)
	}
	free := asset.Balance.Sub(locked)
	if amount.GreaterThan(free) {
		return nil, feasible.New(feasible.ReasonNotEnoughFunds)
	}
	return newPlan("draw", []Operation{DrawCollateral{Name: name, Amount: amount}}), nil
}

// PlanDrawCash withdraws surplus DAI held against an ilk's vault.
func PlanDrawCash(account *model.MarginAccount, ilk string, amount decimal.Decimal) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	parsed, err := model.ParseIlk(ilk)
	if err != nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	asset := account.Collateral(parsed.Gem)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	if !amount.IsPositive() {
		return nil, feasible.New("invalid amount")
	}
	if amount.GreaterThan(asset.CashBalance) {
		return nil, feasible.New(feasible.ReasonNotEnoughFunds)
	}
	return newPlan("draw", []Operation{DrawCash{Ilk: ilk, Amount: amount}}), nil
}

// --- Buy ---

// PrepareBuy validates a leveraged buy of amount collateral at a total
// cost cap of maxTotal, and returns the allocation request that decides
// which vaults the required debt is drawn from.
func PrepareBuy(account *model.MarginAccount, name string, amount, maxTotal decimal.Decimal, book orderbook.Book, cfg Config) (*AllocationRequest, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	asset := account.Collateral(name)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	if !amount.IsPositive() {
		return nil, feasible.New("invalid amount")
	}

	cost, err := orderbook.TotalToFill(amount, book.Sell)
	if err != nil {
		return nil, err
	}
	// Stale-quote guard: the book's achievable average price must not
	// exceed the price implied by the caller's cost cap.
	if cost.GreaterThan(maxTotal) {
		return nil, feasible.New(feasible.ReasonPriceTooHigh)
	}

	derived := position.Calculate(*asset, account.Cash.Balance, book.Sell, cfg.Position)
	if cost.GreaterThan(derived.PurchasingPower) {
		return nil, feasible.New(feasible.ReasonPurchasingPower)
	}

	return &AllocationRequest{
		TargetDebt: account.TotalDebt().Add(cost),
		Assets:     allocAssets(account, name, amount),
	}, nil
}

// PlanBuy converts a prepared buy plus its per-asset debt deltas into an
// ordered operation list. Debt draws funding the purchase come first
// (largest first), and any surplus of the drawn debt over the trade's
// cost cap is captured as an explicit cash deposit rather than left
// implicit. The traded asset's own draw is split around the buy: the
// portion its existing collateral supports at the liquidation ratio is
// pinned directly before the buy, and the remainder — which only the
// purchased collateral can carry — follows the buy, so every prefix of
// the plan keeps the vault collateralized.
func PlanBuy(account *model.MarginAccount, name string, amount, maxTotal decimal.Decimal, deltas []model.DebtDelta) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	asset := account.Collateral(name)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}

	projected := projection{name: asset.Balance.Add(amount)}
	if err := validateDeltas(account, deltas, projected); err != nil {
		return nil, err
	}

	traded, others := splitTraded(deltas, name)
	others = orderDeltas(others)

	preDraw, postDraw := traded, model.DebtDelta{Name: name, Delta: decimal.Zero}
	if traded.Delta.IsPositive() {
		supportable := asset.Balance.Mul(asset.ReferencePrice).Div(asset.MinCollRatio)
		headroom := decimal.Max(decimal.Zero, supportable.Sub(asset.Debt))
		if traded.Delta.GreaterThan(headroom) {
			preDraw.Delta = headroom
			postDraw.Delta = traded.Delta.Sub(headroom)
		}
	}

	var ops []Operation
	ops = appendDeltaOps(ops, others, decimal.Decimal.IsPositive)
	if op, ok := deltaToOperation(preDraw); ok {
		ops = append(ops, op)
	}
	ops = append(ops, BuyRecursive{Name: name, Amount: amount, MaxTotal: maxTotal})
	if op, ok := deltaToOperation(postDraw); ok {
		ops = append(ops, op)
	}

	if residual := model.SumDeltas(deltas).Sub(maxTotal); residual.IsPositive() {
		ops = append(ops, FundCash{Amount: residual})
	}
	ops = appendDeltaOps(ops, others, decimal.Decimal.IsNegative)

	return newPlan("buy", ops), nil
}

// --- Sell ---

// PrepareSell validates selling amount of collateral for at least total
// DAI and returns the allocation request that decides how the freed debt
// headroom is redistributed.
func PrepareSell(account *model.MarginAccount, name string, amount, total decimal.Decimal, book orderbook.Book, cfg Config) (*AllocationRequest, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	asset := account.Collateral(name)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	if !amount.IsPositive() {
		return nil, feasible.New("invalid amount")
	}
	if amount.GreaterThan(asset.Balance) {
		return nil, feasible.New(feasible.ReasonNotEnoughFunds)
	}

	if err := position.Sellable(*asset, book.Buy, amount, cfg.Position); err != nil {
		return nil, err
	}

	proceeds, err := orderbook.TotalToFill(amount, book.Buy)
	if err != nil {
		return nil, err
	}
	// Stale-quote guard: achievable average price must not fall below the
	// price implied by the caller's minimum total.
	if proceeds.LessThan(total) {
		return nil, feasible.New(feasible.ReasonPriceTooLow)
	}

	// The post-trade position must stay clear of liquidation.
	repay := decimal.Min(asset.Debt, proceeds)
	postRatio := money.NewRatio(
		asset.Balance.Sub(amount).Mul(asset.ReferencePrice),
		asset.Debt.Sub(repay),
	)
	if postRatio.LessThan(asset.MinCollRatio) {
		return nil, feasible.New(feasible.ReasonDebtAtMax)
	}

	return &AllocationRequest{
		TargetDebt: decimal.Max(decimal.Zero, account.TotalDebt().Sub(repay)),
		Assets:     allocAssets(account, name, amount.Neg()),
	}, nil
}

// PlanSell converts a prepared sell plus its per-asset debt deltas into an
// ordered operation list. The traded asset's repayment is capped at
// min(existing debt, trade proceeds) so the plan never attempts to repay
// more debt than the trade generates, and is split around the sell: the
// portion the post-sell balance cannot carry at the liquidation ratio is
// pulled before the sell, the rest follows it funded by the proceeds.
func PlanSell(account *model.MarginAccount, name string, amount, total decimal.Decimal, deltas []model.DebtDelta) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	asset := account.Collateral(name)
	if asset == nil {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}

	traded, others := splitTraded(deltas, name)
	maxRepay := decimal.Min(asset.Debt, total).Neg()
	if traded.Delta.LessThan(maxRepay) {
		traded.Delta = maxRepay
	}

	capped := append([]model.DebtDelta{traded}, others...)
	projected := projection{name: asset.Balance.Sub(amount)}
	if err := validateDeltas(account, capped, projected); err != nil {
		return nil, err
	}

	others = orderDeltas(others)

	preRepay, postRepay := model.DebtDelta{Name: name, Delta: decimal.Zero}, traded
	if traded.Delta.IsNegative() {
		supportable := asset.Balance.Sub(amount).Mul(asset.ReferencePrice).Div(asset.MinCollRatio)
		if need := asset.Debt.Sub(supportable); need.IsPositive() {
			preRepay.Delta = decimal.Min(need, traded.Delta.Neg()).Neg()
			postRepay.Delta = traded.Delta.Sub(preRepay.Delta)
		}
	}

	var ops []Operation
	ops = appendDeltaOps(ops, others, decimal.Decimal.IsPositive)
	if op, ok := deltaToOperation(preRepay); ok {
		ops = append(ops, op)
	}
	ops = append(ops, SellRecursive{Name: name, Amount: amount, MaxTotal: total})
	if op, ok := deltaToOperation(postRepay); ok {
		ops = append(ops, op)
	}
	ops = appendDeltaOps(ops, others, decimal.Decimal.IsNegative)

	return newPlan("sell", ops), nil
}

// --- Reallocate ---

// PrepareReallocate returns the allocation request for re-splitting the
// account's existing aggregate debt across its collateral assets.
func PrepareReallocate(account *model.MarginAccount) (*AllocationRequest, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	if len(account.Collaterals) == 0 {
		return nil, feasible.New(feasible.ReasonAssetNotSetup)
	}
	return &AllocationRequest{
		TargetDebt: account.TotalDebt(),
		Assets:     allocAssets(account, "", decimal.Zero),
	}, nil
}

// PlanReallocate converts a pure debt reallocation (deltas summing to
// zero) into an ordered operation list: increases first so the cash they
// draw funds the decreases that follow.
func PlanReallocate(account *model.MarginAccount, deltas []model.DebtDelta) (*Plan, error) {
	if !account.Setup {
		return nil, feasible.New(feasible.ReasonAccountNotSetup)
	}
	if !model.SumDeltas(deltas).IsZero() {
		return nil, feasible.New("debt deltas do not sum to zero")
	}
	if err := validateDeltas(account, deltas, nil); err != nil {
		return nil, err
	}

	var ops []Operation
	for _, d := range orderDeltas(deltas) {
		if op, ok := deltaToOperation(d); ok {
			ops = append(ops, op)
		}
	}
	return newPlan("reallocate", ops), nil
}

// allocAssets projects the account's collaterals into optimizer inputs.
// balanceDelta adjusts the traded asset's balance for the pending trade;
// tradedName may be empty when no trade is involved.
func allocAssets(account *model.MarginAccount, tradedName string, balanceDelta decimal.Decimal) []alloc.Asset {
	assets := make([]alloc.Asset, 0, len(account.Collaterals))
	for _, c := range account.Collaterals {
		balance := c.Balance
		if c.Name == tradedName {
			balance = balance.Add(balanceDelta)
		}
		assets = append(assets, alloc.Asset{
			Name:         c.Name,
			Balance:      balance,
			Price:        c.ReferencePrice,
			MinCollRatio: c.MinCollRatio,
			Volatility:   c.Volatility,
		})
	}
	return assets
}
