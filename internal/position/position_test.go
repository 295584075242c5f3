package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/feasible"
	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// wethCore is the canonical worked example used throughout: 100 WETH at a
// reference price of 200 DAI backing 2000 DAI of debt.
func wethCore() model.CollateralAssetCore {
	return model.CollateralAssetCore{
		Name:           "WETH",
		Balance:        d(100),
		Debt:           d(2000),
		ReferencePrice: d(200),
		MinCollRatio:   d(1.5),
		SafeCollRatio:  d(2),
		Precision:      2,
	}
}

func offer(base, quote float64) orderbook.Offer {
	return orderbook.Offer{BaseAmount: d(base), QuoteAmount: d(quote)}
}

// --- Calculate ---

func TestCalculate_WorkedExample(t *testing.T) {
	derived := Calculate(wethCore(), d(0), nil, DefaultConfig())

	if !derived.BalanceInDAI.Equal(d(20000)) {
		t.Errorf("balance in DAI should be 20000, got %s", derived.BalanceInDAI)
	}
	if !derived.CollRatio.Value().Equal(d(10)) {
		t.Errorf("coll ratio should be 10, got %s", derived.CollRatio)
	}
	if !derived.MaxDebt.Equal(d(10000)) {
		t.Errorf("max debt should be 10000, got %s", derived.MaxDebt)
	}
	if !derived.AvailableDebt.Equal(d(8000)) {
		t.Errorf("available debt should be 8000, got %s", derived.AvailableDebt)
	}
	if !derived.LiquidationPrice.Equal(d(30)) {
		t.Errorf("liquidation price should be 30, got %s", derived.LiquidationPrice)
	}
	if !derived.Safe {
		t.Error("ratio 10 against safe ratio 2 should be safe")
	}
	if derived.LiquidationState != LiquidationNone {
		t.Errorf("expected no liquidation, got %s", derived.LiquidationState)
	}
	// Leverage = 20000 / 18000 = 10/9.
	if !derived.Leverage.Value().Equal(d(20000).Div(d(18000))) {
		t.Errorf("leverage should be 10/9, got %s", derived.Leverage)
	}
}

func TestCalculate_ZeroDebtRatioUndefined(t *testing.T) {
	core := wethCore()
	core.Debt = decimal.Zero
	derived := Calculate(core, d(0), nil, DefaultConfig())

	if derived.CollRatio.Defined() {
		t.Error("coll ratio with zero debt should be undefined")
	}
	if !derived.Safe {
		t.Error("undefined ratio should count as safe")
	}
	if !derived.LiquidationPrice.IsZero() {
		t.Errorf("no debt means no liquidation price, got %s", derived.LiquidationPrice)
	}
}

func TestCalculate_LiquidationActive(t *testing.T) {
	core := wethCore()
	core.Debt = d(15000) // ratio 20000/15000 = 1.33 < 1.5
	derived := Calculate(core, d(0), nil, DefaultConfig())

	if derived.Safe {
		t.Error("ratio below minimum should not be safe")
	}
	if derived.LiquidationState != LiquidationActive {
		t.Errorf("expected active liquidation, got %s", derived.LiquidationState)
	}
}

func TestCalculate_LiquidationImminent(t *testing.T) {
	core := wethCore()
	core.Debt = d(10000) // current ratio 2, fine
	// Next oracle price drops the ratio to 100*140/10000 = 1.4 < 1.5.
	core.NextOraclePrice = decimal.NewNullDecimal(d(140))
	derived := Calculate(core, d(0), nil, DefaultConfig())

	if derived.LiquidationState != LiquidationImminent {
		t.Errorf("expected imminent liquidation, got %s", derived.LiquidationState)
	}
}

func TestCalculate_NextPriceSafeStaysNone(t *testing.T) {
	core := wethCore()
	core.NextOraclePrice = decimal.NewNullDecimal(d(190))
	derived := Calculate(core, d(0), nil, DefaultConfig())
	if derived.LiquidationState != LiquidationNone {
		t.Errorf("expected none, got %s", derived.LiquidationState)
	}
}

// --- Purchasing power ---

func TestPurchasingPower_NoCashNoPower(t *testing.T) {
	book := []orderbook.Offer{offer(1000, 200000)}
	derived := Calculate(wethCore(), d(0), book, DefaultConfig())
	if !derived.PurchasingPower.IsZero() {
		t.Errorf("no spendable cash means no purchasing power, got %s",
			derived.PurchasingPower)
	}
}

func TestPurchasingPower_BorrowAndBuyExpansion(t *testing.T) {
	// Fresh asset, 1000 DAI of free account cash, deep book at price 200,
	// safe ratio 2. Each round's purchase doubles as collateral for half
	// its value of new debt, so power converges geometrically toward 2000.
	core := model.CollateralAssetCore{
		Name:           "WETH",
		Balance:        decimal.Zero,
		Debt:           decimal.Zero,
		ReferencePrice: d(200),
		MinCollRatio:   d(1.5),
		SafeCollRatio:  d(2),
		Precision:      2,
	}
	book := []orderbook.Offer{offer(1000, 200000)}

	derived := Calculate(core, d(1000), book, DefaultConfig())

	// 1000 · (2 − 2^−9) after the ten-round cap.
	if !derived.PurchasingPower.Equal(d(1998.046875)) {
		t.Errorf("expected 1998.046875, got %s", derived.PurchasingPower)
	}
}

func TestPurchasingPower_MonotoneInCash(t *testing.T) {
	core := wethCore()
	book := []orderbook.Offer{offer(1000, 200000)}

	small := Calculate(core, d(500), book, DefaultConfig()).PurchasingPower
	large := Calculate(core, d(1500), book, DefaultConfig()).PurchasingPower
	if !large.GreaterThan(small) {
		t.Errorf("more cash should mean more power: %s vs %s", small, large)
	}
}

func TestPurchasingPower_MonotoneInReferencePrice(t *testing.T) {
	book := []orderbook.Offer{offer(1000, 200000)}
	lowPrice := wethCore()
	highPrice := wethCore()
	highPrice.ReferencePrice = d(250)

	low := Calculate(lowPrice, d(1000), book, DefaultConfig()).PurchasingPower
	high := Calculate(highPrice, d(1000), book, DefaultConfig()).PurchasingPower
	if high.LessThan(low) {
		t.Errorf("a higher oracle price should not reduce power: %s vs %s", low, high)
	}
}

func TestPurchasingPower_MonotoneInSafeRatio(t *testing.T) {
	book := []orderbook.Offer{offer(1000, 200000)}
	tight := wethCore()
	tight.SafeCollRatio = d(3)
	loose := wethCore() // safe ratio 2

	tightPower := Calculate(tight, d(1000), book, DefaultConfig()).PurchasingPower
	loosePower := Calculate(loose, d(1000), book, DefaultConfig()).PurchasingPower
	if loosePower.LessThan(tightPower) {
		t.Errorf("a looser safe ratio should not reduce power: %s vs %s",
			tightPower, loosePower)
	}
}

func TestPurchasingPower_BookExhaustedStopsExpansion(t *testing.T) {
	core := wethCore()
	core.Debt = decimal.Zero
	book := []orderbook.Offer{offer(1, 200)} // only 1 WETH offered

	derived := Calculate(core, d(1000), book, DefaultConfig())
	// Only the first 200 DAI can be spent; the rest has nothing to buy.
	if !derived.PurchasingPower.Equal(d(200)) {
		t.Errorf("exhausted book should cap power at 200, got %s",
			derived.PurchasingPower)
	}
}

func TestPurchasingPower_DustFloorZeroesPower(t *testing.T) {
	// The expansion would end on a sub-dust debt, so the position cannot
	// be opened at all.
	core := model.CollateralAssetCore{
		Name:           "WETH",
		Balance:        decimal.Zero,
		Debt:           decimal.Zero,
		ReferencePrice: d(200),
		MinCollRatio:   d(1.5),
		SafeCollRatio:  d(2),
		MinDebt:        d(10000),
		Precision:      2,
	}
	book := []orderbook.Offer{offer(1000, 200000)}

	derived := Calculate(core, d(1000), book, DefaultConfig())
	if !derived.PurchasingPower.IsZero() {
		t.Errorf("sub-dust final debt should zero the power, got %s",
			derived.PurchasingPower)
	}
}

func TestPurchasingPower_CashOnlySpendIgnoresDustFloor(t *testing.T) {
	// A shallow book exhausts the cash budget before any borrowing starts.
	// Zero debt is always a legal vault state, so the dust floor does not
	// apply and the cash-funded power survives.
	core := model.CollateralAssetCore{
		Name:           "WETH",
		Balance:        decimal.Zero,
		Debt:           decimal.Zero,
		ReferencePrice: d(200),
		MinCollRatio:   d(1.5),
		SafeCollRatio:  d(2),
		MinDebt:        d(10000),
		Precision:      2,
	}
	book := []orderbook.Offer{offer(2, 400)}

	derived := Calculate(core, d(1000), book, DefaultConfig())
	if !derived.PurchasingPower.Equal(d(400)) {
		t.Errorf("unborrowed spend should keep its power, got %s",
			derived.PurchasingPower)
	}
}

// --- Sellable ---

func TestSellable_MoreThanBalance(t *testing.T) {
	err := Sellable(wethCore(), nil, d(101), DefaultConfig())
	if feasible.Reason(err) != feasible.ReasonNotEnoughFunds {
		t.Errorf("expected not-enough-funds, got %v", err)
	}
}

func TestSellable_ZeroAmount(t *testing.T) {
	if err := Sellable(wethCore(), nil, d(0), DefaultConfig()); err != nil {
		t.Errorf("zero amount is trivially sellable, got %v", err)
	}
}

func TestSellable_SingleRound(t *testing.T) {
	// locked = 2000·1.5/200 = 15, so 50 is freed in one round and the
	// proceeds clear the whole debt.
	book := []orderbook.Offer{offer(100, 20000)}
	if err := Sellable(wethCore(), book, d(50), DefaultConfig()); err != nil {
		t.Errorf("expected feasible, got %v", err)
	}
}

func TestSellable_MultiRoundRepayFreesMore(t *testing.T) {
	// locked = 10000·1.5/200 = 75: only 25 is free up front, but its
	// proceeds repay debt and unlock the rest over further rounds.
	core := wethCore()
	core.Debt = d(10000)
	book := []orderbook.Offer{offer(100, 20000)}

	if err := Sellable(core, book, d(40), DefaultConfig()); err != nil {
		t.Errorf("expected feasible over two rounds, got %v", err)
	}
}

func TestSellable_NoFreeCollateral(t *testing.T) {
	// Debt so high the whole balance is locked and nothing can be freed.
	core := wethCore()
	core.Debt = d(20000)
	book := []orderbook.Offer{offer(100, 20000)}

	err := Sellable(core, book, d(1), DefaultConfig())
	if feasible.Reason(err) != feasible.ReasonNoFreeCollateral {
		t.Errorf("expected no-free-collateral, got %v", err)
	}
}

func TestSellable_DustJump(t *testing.T) {
	// Repaying the sale proceeds would strand the debt between zero and
	// the dust floor, with no room to back off.
	core := wethCore()
	core.Debt = d(3000)
	core.MinDebt = d(4000)
	book := []orderbook.Offer{offer(100, 20000)}

	err := Sellable(core, book, d(10), DefaultConfig())
	if feasible.Reason(err) != feasible.ReasonDustJump {
		t.Errorf("expected dust-jump, got %v", err)
	}
}

func TestSellable_DustBackOff(t *testing.T) {
	// Debt above the floor: the repayment backs off to land exactly on
	// the floor instead of failing.
	core := wethCore()
	core.Debt = d(5000)
	core.MinDebt = d(4000)
	book := []orderbook.Offer{offer(100, 20000)}

	if err := Sellable(core, book, d(10), DefaultConfig()); err != nil {
		t.Errorf("expected back-off to the dust floor, got %v", err)
	}
}

func TestSellable_ShallowBook(t *testing.T) {
	core := wethCore()
	core.Debt = decimal.Zero
	book := []orderbook.Offer{offer(5, 1000)}

	err := Sellable(core, book, d(10), DefaultConfig())
	if feasible.Reason(err) != feasible.ReasonOrderbookTooShallow {
		t.Errorf("expected shallow-book, got %v", err)
	}
}

func TestSellable_IterationCap(t *testing.T) {
	// A below-reference book price makes each round free only 3/4 of the
	// remainder, so selling everything never completes within the cap.
	core := wethCore()
	core.Debt = d(10000)
	book := []orderbook.Offer{offer(100, 10000)} // book price 100, reference 200

	err := Sellable(core, book, d(100), DefaultConfig())
	if feasible.Reason(err) != feasible.ReasonTooManyIterations {
		t.Errorf("expected too-many-iterations, got %v", err)
	}
}

// --- MaxSellable ---

func TestMaxSellable_NoDebtFullDepth(t *testing.T) {
	core := wethCore()
	core.Debt = decimal.Zero
	book := []orderbook.Offer{offer(50, 10000)}

	got := MaxSellable(core, book, DefaultConfig())
	if !got.Equal(d(50)) {
		t.Errorf("with no debt everything down to book depth sells, got %s", got)
	}
}

func TestMaxSellable_FullyLocked(t *testing.T) {
	core := wethCore()
	core.Debt = d(20000)
	book := []orderbook.Offer{offer(100, 20000)}

	got := MaxSellable(core, book, DefaultConfig())
	if !got.IsZero() {
		t.Errorf("fully locked position should have zero sellable, got %s", got)
	}
}

func TestMaxSellable_EmptyBook(t *testing.T) {
	got := MaxSellable(wethCore(), nil, DefaultConfig())
	if !got.IsZero() {
		t.Errorf("no bids means nothing sellable, got %s", got)
	}
}

func TestMaxSellable_BisectionBoundary(t *testing.T) {
	// Same setup as the iteration-cap case: the full balance is not
	// sellable, so the result comes out of bisection. The returned amount
	// must verify and sit close under the true boundary.
	core := wethCore()
	core.Debt = d(10000)
	book := []orderbook.Offer{offer(100, 10000)}
	cfg := DefaultConfig()

	got := MaxSellable(core, book, cfg)
	if !got.IsPositive() {
		t.Fatalf("expected a positive sellable amount, got %s", got)
	}
	if err := Sellable(core, book, got, cfg); err != nil {
		t.Errorf("returned amount must itself be sellable: %v", err)
	}
	if err := Sellable(core, book, got.Add(d(1)), cfg); err == nil {
		t.Error("one unit above the result should not be sellable")
	}
	// Rounded down to the asset's currency precision.
	if !got.Equal(got.RoundDown(core.Precision)) {
		t.Errorf("result should be rounded to precision %d, got %s",
			core.Precision, got)
	}
}
