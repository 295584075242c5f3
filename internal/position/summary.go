package position

import (
	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// AccountSummary is the derived view of a whole margin account. Totals are
// recomputed from the collateral snapshots on every call, never cached.
type AccountSummary struct {
	Owner              string                   `json:"owner"`
	Cash               decimal.Decimal          `json:"cash"`
	Assets             []CollateralAssetDerived `json:"assets"`
	TotalDebt          decimal.Decimal          `json:"total_debt"`
	TotalAvailableDebt decimal.Decimal          `json:"total_available_debt"`
}

// Summarize derives every collateral asset of the account against its
// order book. books maps asset name to the book for its pair; assets
// without a book get empty offers (purchasing power collapses to zero
// once the cash is unspendable).
func Summarize(account *model.MarginAccount, books map[string]orderbook.Book, cfg Config) AccountSummary {
	s := AccountSummary{
		Owner:     account.Owner,
		Cash:      account.Cash.Balance,
		TotalDebt: decimal.Zero,
	}
	s.TotalAvailableDebt = decimal.Zero

	for _, core := range account.Collaterals {
		derived := Calculate(core, account.Cash.Balance, books[core.Name].Sell, cfg)
		s.Assets = append(s.Assets, derived)
		s.TotalDebt = s.TotalDebt.Add(core.Debt)
		s.TotalAvailableDebt = s.TotalAvailableDebt.Add(derived.AvailableDebt)
	}
	return s
}
