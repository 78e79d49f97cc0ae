// Package money holds the fixed-point helpers used for every monetary value.
// Amounts are int64 minor units (pence, cents); rates are decimals.
package money

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent returns rate percent of amount rounded half away from zero to a whole minor unit.
func Percent(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Round(0).IntPart()
}

// ToMajor renders minor units as a two-place major-unit decimal (995 -> 9.95).
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FromMajor converts a major-unit decimal to minor units, rounding to the nearest unit.
func FromMajor(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}

// Allocate splits amount across weights proportionally using the largest
// remainder method. The result always sums to amount; when every weight is
// zero the amount is spread evenly.
func Allocate(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}

	var totalWeight int64
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range allocations {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	type rest struct {
		idx       int
		remainder decimal.Decimal
	}
	rests := make([]rest, len(weights))
	total := decimal.NewFromInt(totalWeight)
	distributed := int64(0)
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		q, r := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(w)).QuoRem(total, 0)
		allocations[i] = q.IntPart()
		distributed += allocations[i]
		rests[i] = rest{idx: i, remainder: r}
	}

	sort.SliceStable(rests, func(a, b int) bool {
		return rests[a].remainder.GreaterThan(rests[b].remainder)
	})
	for i := 0; distributed < amount; i = (i + 1) % len(rests) {
		allocations[rests[i].idx]++
		distributed++
	}
	return allocations
}
