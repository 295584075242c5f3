// Package alloc computes a collateral-risk-equalizing debt split across
// multiple assets. Given a target aggregate debt, it searches for the
// per-asset allocation that minimizes the pairwise dispersion of
// liquidation probability (risk parity), via simulated annealing over a
// non-convex objective.
//
// Transcendental math (Φ, exp) runs in float64 for speed, with results
// converted to decimal only at the boundary; the exact-sum invariant on
// the rounded output is enforced in decimal arithmetic.
package alloc

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/feasible"
	"github.com/OasisDEX/xDex-sub000/internal/money"
)

// Asset is one collateral asset participating in the allocation.
type Asset struct {
	Name         string
	Balance      decimal.Decimal
	Price        decimal.Decimal
	MinCollRatio decimal.Decimal
	Volatility   float64 // σ of the normalized distance-to-liquidation
}

// Config tunes the annealing search.
type Config struct {
	Iterations  int     // hard cap bounding worst-case latency
	InitialTemp float64 // starting temperature
	Cooling     float64 // geometric cooling factor per iteration
	StepSigma   float64 // σ of the multiplicative log-normal walk
	Tolerance   float64 // stop once the best loss drops below this
	Precision   int32   // currency precision of the rounded output
}

// DefaultConfig returns the production annealing parameters.
func DefaultConfig() Config {
	return Config{
		Iterations:  100_000,
		InitialTemp: 1.0,
		Cooling:     0.9999,
		StepSigma:   0.1,
		Tolerance:   1e-4,
		Precision:   money.CashPrecision,
	}
}

// AssetDebt is one asset's share of the allocated debt.
type AssetDebt struct {
	Name string          `json:"name"`
	Debt decimal.Decimal `json:"debt"`
}

// Allocation is the optimizer's result. Debts always sums exactly to the
// requested target; Loss is the best objective value found.
type Allocation struct {
	Debts      []AssetDebt `json:"debts"`
	Loss       float64     `json:"loss"`
	Iterations int         `json:"iterations"`
}

// liqProb models an asset's liquidation probability as Φ applied to the
// normalized distance to liquidation:
//
//	p = Φ((minCollRatio/currentCollRatio − 1) / σ)
//
// As debt → 0 the ratio → ∞ and p → Φ(−1/σ): a small, nonzero floor that
// keeps the objective continuous.
func liqProb(a Asset, debt float64) float64 {
	if debt <= 0 {
		return stdNormCDF(-1 / a.Volatility)
	}
	collValue, _ := a.Balance.Mul(a.Price).Float64()
	if collValue <= 0 {
		return 1
	}
	minColl, _ := a.MinCollRatio.Float64()
	ratio := collValue / debt
	return stdNormCDF((minColl/ratio - 1) / a.Volatility)
}

// stdNormCDF is the standard normal CDF Φ.
func stdNormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// loss is the risk-parity objective: Σ_{i<j} |p_i − p_j|.
func loss(assets []Asset, debts []float64) float64 {
	probs := make([]float64, len(assets))
	for i, a := range assets {
		probs[i] = liqProb(a, debts[i])
	}
	var sum float64
	for i := 0; i < len(probs); i++ {
		for j := i + 1; j < len(probs); j++ {
			sum += math.Abs(probs[i] - probs[j])
		}
	}
	return sum
}

// rescale scales debts so they sum to target, preserving proportions.
func rescale(debts []float64, target float64) {
	var sum float64
	for _, d := range debts {
		sum += d
	}
	if sum == 0 {
		for i := range debts {
			debts[i] = target / float64(len(debts))
		}
		return
	}
	k := target / sum
	for i := range debts {
		debts[i] *= k
	}
}

// Solve searches for the risk-parity debt split summing to targetDebt.
// The random source is injected so tests can fix the seed and assert
// convergence deterministically.
//
// On convergence the returned error is nil. When the iteration cap is
// exhausted above tolerance, the best-found allocation is still returned
// alongside an infeasible error reporting the best loss, so the caller can
// decide whether to accept the approximate split.
func Solve(assets []Asset, targetDebt decimal.Decimal, rng *rand.Rand, cfg Config) (Allocation, error) {
	if len(assets) == 0 {
		return Allocation{}, feasible.New("no collateral assets to allocate across")
	}
	if targetDebt.IsNegative() {
		return Allocation{}, feasible.New("negative target debt")
	}
	if targetDebt.IsZero() || len(assets) == 1 {
		return trivialAllocation(assets, targetDebt), nil
	}

	target, _ := targetDebt.Float64()
	n := len(assets)

	// Equal-weighted start scaled to the target.
	current := make([]float64, n)
	for i := range current {
		current[i] = target / float64(n)
	}
	currentLoss := loss(assets, current)

	best := append([]float64(nil), current...)
	bestLoss := currentLoss

	temp := cfg.InitialTemp
	proposal := make([]float64, n)
	iters := 0

	for ; iters < cfg.Iterations && bestLoss > cfg.Tolerance; iters++ {
		// Multiplicative log-normal perturbation of every asset, then a
		// sum-preserving rescale.
		for i := range proposal {
			proposal[i] = current[i] * math.Exp(cfg.StepSigma*rng.NormFloat64())
		}
		rescale(proposal, target)

		proposalLoss := loss(assets, proposal)
		delta := proposalLoss - currentLoss

		if delta < 0 || rng.Float64() < math.Exp(-delta/temp) {
			copy(current, proposal)
			currentLoss = proposalLoss
			if currentLoss < bestLoss {
				copy(best, current)
				bestLoss = currentLoss
			}
		}

		temp *= cfg.Cooling
	}

	result := roundAllocation(assets, best, targetDebt, cfg.Precision)
	result.Loss = bestLoss
	result.Iterations = iters

	if bestLoss > cfg.Tolerance {
		return result, feasible.New(fmt.Sprintf(
			"%s: best loss %g above tolerance %g",
			feasible.ReasonNonConvergence, bestLoss, cfg.Tolerance))
	}
	return result, nil
}

// trivialAllocation handles the degenerate cases (zero target or a single
// asset) without annealing.
func trivialAllocation(assets []Asset, targetDebt decimal.Decimal) Allocation {
	a := Allocation{Debts: make([]AssetDebt, len(assets))}
	for i, asset := range assets {
		a.Debts[i] = AssetDebt{Name: asset.Name, Debt: decimal.Zero}
	}
	a.Debts[len(a.Debts)-1].Debt = targetDebt
	return a
}

// roundAllocation converts the float allocation to currency-precision
// decimals. The rounding residual is absorbed entirely into the last
// asset so the rounded output sums exactly to the target.
func roundAllocation(assets []Asset, debts []float64, targetDebt decimal.Decimal, precision int32) Allocation {
	a := Allocation{Debts: make([]AssetDebt, len(assets))}
	allocated := decimal.Zero
	for i := range assets {
		if i == len(assets)-1 {
			a.Debts[i] = AssetDebt{Name: assets[i].Name, Debt: targetDebt.Sub(allocated)}
			break
		}
		rounded := decimal.NewFromFloat(debts[i]).Round(precision)
		a.Debts[i] = AssetDebt{Name: assets[i].Name, Debt: rounded}
		allocated = allocated.Add(rounded)
	}
	return a
}
