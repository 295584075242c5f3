// Package history replays a collateral asset's raw ledger events into a
// point-in-time balance/debt trajectory annotated with per-event deltas.
// The output is for audit/history display only; live risk metrics always
// come from fresh chain-state snapshots, never from replay.
package history

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/model"
)

// Entry is one replayed event with the running position after applying it.
type Entry struct {
	model.RawHistoryEvent

	// Signed effect of this event.
	BalanceDelta decimal.Decimal `json:"balance_delta"`
	DebtDelta    decimal.Decimal `json:"debt_delta"`

	// Running position after the event.
	Balance decimal.Decimal `json:"balance"`
	Debt    decimal.Decimal `json:"debt"`
}

// deltas maps an event kind to its signed collateral/debt effect.
func deltas(ev model.RawHistoryEvent) (balance, debt decimal.Decimal) {
	switch ev.Kind {
	case model.EventFund:
		return ev.Amount, decimal.Zero
	case model.EventDraw:
		return ev.Amount.Neg(), decimal.Zero
	case model.EventBorrow:
		return decimal.Zero, ev.DAIAmount
	case model.EventRepay:
		return decimal.Zero, ev.DAIAmount.Neg()
	case model.EventBuy:
		return ev.Amount, ev.DAIAmount
	case model.EventSell:
		return ev.Amount.Neg(), ev.DAIAmount.Neg()
	default:
		return decimal.Zero, decimal.Zero
	}
}

// Replay folds events into a trajectory starting from an empty position.
// Events are applied in time order; the input order is preserved for
// events with equal timestamps (stable sort), matching the ledger's
// append order.
func Replay(events []model.RawHistoryEvent) []Entry {
	ordered := make([]model.RawHistoryEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	entries := make([]Entry, 0, len(ordered))
	balance, debt := decimal.Zero, decimal.Zero

	for _, ev := range ordered {
		db, dd := deltas(ev)
		balance = balance.Add(db)
		debt = debt.Add(dd)
		entries = append(entries, Entry{
			RawHistoryEvent: ev,
			BalanceDelta:    db,
			DebtDelta:       dd,
			Balance:         balance,
			Debt:            debt,
		})
	}
	return entries
}
