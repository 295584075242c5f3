// Package orderbook matches desired trade sizes against a priced,
// depth-ordered list of offers. Offers are consumed strictly in the order
// given (best price first) and never reordered; a book too shallow for a
// request yields a typed infeasible result, never a default amount.
//
// All monetary values use shopspring/decimal — never float64 for money.
package orderbook

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/feasible"
)

// Offer is one order-book level: BaseAmount of the traded token priced at
// QuoteAmount of DAI in total.
type Offer struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

// Price returns the level's unit price, quote per base.
func (o Offer) Price() decimal.Decimal {
	return o.QuoteAmount.Div(o.BaseAmount)
}

// Book is a two-sided, depth-ordered order book for one trading pair.
// Sell offers are what a buyer lifts; buy offers are what a seller hits.
// Both sides are ordered best price first.
type Book struct {
	Buy  []Offer `json:"buy"`
	Sell []Offer `json:"sell"`
}

// Validate rejects malformed books. Every level on both sides must carry
// strictly positive base and quote amounts; a zero base amount has no
// unit price and a zero quote amount prices the level at nothing.
func (b Book) Validate() error {
	for _, side := range [][]Offer{b.Buy, b.Sell} {
		for _, o := range side {
			if !o.BaseAmount.IsPositive() || !o.QuoteAmount.IsPositive() {
				return errors.New("order book level amounts must be positive")
			}
		}
	}
	return nil
}

// Depth returns the cumulative base amount available in offers.
func Depth(offers []Offer) decimal.Decimal {
	total := decimal.Zero
	for _, o := range offers {
		total = total.Add(o.BaseAmount)
	}
	return total
}

// fill walks offers consuming up to amount, returning the total quote
// paid/received, the unconsumed remainder of the book (with a re-priced
// partial level when one was only partly consumed), and an infeasible
// error when cumulative depth is insufficient.
func fill(amount decimal.Decimal, offers []Offer) (total decimal.Decimal, remaining []Offer, err error) {
	total = decimal.Zero
	left := amount

	for i, o := range offers {
		if left.IsZero() {
			return total, offers[i:], nil
		}
		if left.GreaterThanOrEqual(o.BaseAmount) {
			total = total.Add(o.QuoteAmount)
			left = left.Sub(o.BaseAmount)
			continue
		}
		// Partial consumption: price the taken slice at the level's unit
		// price and return the re-priced remainder.
		taken := left.Mul(o.QuoteAmount).Div(o.BaseAmount)
		total = total.Add(taken)
		partial := Offer{
			BaseAmount:  o.BaseAmount.Sub(left),
			QuoteAmount: o.QuoteAmount.Sub(taken),
		}
		remaining = append([]Offer{partial}, offers[i+1:]...)
		return total, remaining, nil
	}

	if left.IsZero() {
		return total, nil, nil
	}
	return decimal.Zero, nil, feasible.New(feasible.ReasonOrderbookTooShallow)
}

// TotalToFill computes the total quote amount required to fill amount
// against offers walked in order. Returns an infeasible error when the
// book's cumulative depth cannot fully fill the amount.
func TotalToFill(amount decimal.Decimal, offers []Offer) (decimal.Decimal, error) {
	total, _, err := fill(amount, offers)
	return total, err
}

// Fill is TotalToFill plus the unconsumed remainder of the book, so
// callers running multi-round computations can keep consuming where the
// previous round stopped.
func Fill(amount decimal.Decimal, offers []Offer) (decimal.Decimal, []Offer, error) {
	return fill(amount, offers)
}

// AmountForSpend is the dual of TotalToFill: spend a cash budget against
// offers, partially consuming the last touched level. Returns the base
// amount bought, the unspent cash, and the remaining offers including a
// correctly re-priced partial level.
func AmountForSpend(cash decimal.Decimal, offers []Offer) (bought, cashLeft decimal.Decimal, remaining []Offer) {
	bought = decimal.Zero
	cashLeft = cash

	for i, o := range offers {
		if !cashLeft.IsPositive() {
			return bought, cashLeft, offers[i:]
		}
		if cashLeft.GreaterThanOrEqual(o.QuoteAmount) {
			bought = bought.Add(o.BaseAmount)
			cashLeft = cashLeft.Sub(o.QuoteAmount)
			continue
		}
		// Partial: the budget buys cashLeft/price of this level.
		baseTaken := cashLeft.Mul(o.BaseAmount).Div(o.QuoteAmount)
		bought = bought.Add(baseTaken)
		partial := Offer{
			BaseAmount:  o.BaseAmount.Sub(baseTaken),
			QuoteAmount: o.QuoteAmount.Sub(cashLeft),
		}
		remaining = append([]Offer{partial}, offers[i+1:]...)
		return bought, decimal.Zero, remaining
	}

	return bought, cashLeft, nil
}

// PriceImpact returns the relative price move across the range of levels a
// fill of amount would walk: (lastFillPrice − firstFillPrice) /
// firstFillPrice. Zero when only one level is touched; infeasible when the
// book is too shallow for the amount.
func PriceImpact(amount decimal.Decimal, offers []Offer) (decimal.Decimal, error) {
	if len(offers) == 0 || !amount.IsPositive() {
		return decimal.Zero, feasible.New(feasible.ReasonOrderbookTooShallow)
	}

	first := offers[0].Price()
	last := first
	left := amount

	for _, o := range offers {
		last = o.Price()
		if left.LessThanOrEqual(o.BaseAmount) {
			left = decimal.Zero
			break
		}
		left = left.Sub(o.BaseAmount)
	}
	if left.IsPositive() {
		return decimal.Zero, feasible.New(feasible.ReasonOrderbookTooShallow)
	}

	return last.Sub(first).Div(first), nil
}
