package model

import (
	"errors"
	"fmt"
	"regexp"
)

// ilkRegex matches collateral type identifiers: {GEM}-{VARIANT}
// Example: WETH-A, DGX-B, USDC-A
var ilkRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z])$`)

var (
	ErrInvalidIlk = errors.New("model: invalid ilk identifier")
)

// Ilk is a parsed collateral type identifier. The gem names the token;
// the variant distinguishes risk-parameter sets for the same token.
type Ilk struct {
	Raw     string `json:"raw"`
	Gem     string `json:"gem"`
	Variant string `json:"variant"`
}

// ParseIlk parses and validates an ilk identifier string.
// Format: {GEM}-{VARIANT}, e.g. "WETH-A".
func ParseIlk(s string) (*Ilk, error) {
	matches := ilkRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected GEM-VARIANT, e.g. WETH-A)", ErrInvalidIlk, s)
	}
	return &Ilk{
		Raw:     s,
		Gem:     matches[1],
		Variant: matches[2],
	}, nil
}
