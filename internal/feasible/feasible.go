// Package feasible encodes expected, user-facing infeasibility as a typed
// value. Planning and matching functions return an *Infeasible error when a
// request cannot be satisfied (shallow book, dust breach, stale price, …);
// the reason string is surfaced verbatim to the end user. Infeasibility is
// never a panic, and invariant violations are never an Infeasible.
package feasible

import "errors"

// Common reason strings shared across components. Planners may also build
// ad-hoc reasons; these constants exist so tests and the HTTP layer can
// match on them.
const (
	ReasonOrderbookTooShallow = "orderbook too shallow"
	ReasonPurchasingPower     = "purchasing power too low"
	ReasonPriceTooLow         = "price too low"
	ReasonPriceTooHigh        = "price too high"
	ReasonAssetNotSetup       = "asset not setup"
	ReasonAccountNotSetup     = "account not setup"
	ReasonDebtAtMax           = "debt at max possible value"
	ReasonDustJump            = "can't jump over dust"
	ReasonNoFreeCollateral    = "can't free collateral"
	ReasonTooManyIterations   = "too many iterations"
	ReasonNotEnoughFunds      = "not enough funds"
	ReasonNonConvergence      = "allocation did not converge"
)

// Infeasible is the typed result for expected, recoverable failures.
type Infeasible struct {
	Reason string
}

func (e *Infeasible) Error() string { return e.Reason }

// New returns an Infeasible error with the given reason.
func New(reason string) error {
	return &Infeasible{Reason: reason}
}

// Is reports whether err is (or wraps) an Infeasible.
func Is(err error) bool {
	var inf *Infeasible
	return errors.As(err, &inf)
}

// Reason extracts the reason from an Infeasible error, or "" when err is
// not one.
func Reason(err error) string {
	var inf *Infeasible
	if errors.As(err, &inf) {
		return inf.Reason
	}
	return ""
}
