package processor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SelectionPolicy chooses how the strike window around the ATM strike is built.
type SelectionPolicy string

const (
	// SelectNearest takes the N available strikes closest to the ATM strike.
	SelectNearest SelectionPolicy = "nearest"
	// SelectFixed takes ATM ± k steps whether or not those strikes exist.
	SelectFixed SelectionPolicy = "fixed"
)

const (
	DefaultStrikeStep = 50
	DefaultWindowSize = 5
)

// ParseSelectionPolicy maps a configuration value onto a policy.
func ParseSelectionPolicy(s string) (SelectionPolicy, error) {
	switch SelectionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SelectNearest:
		return SelectNearest, nil
	case SelectFixed, "fixed-offset":
		return SelectFixed, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", s)
	}
}

// ATMStrike rounds spot to the nearest multiple of step, ties away from zero.
func ATMStrike(spot decimal.Decimal, step int64) int64 {
	if step <= 0 {
		step = DefaultStrikeStep
	}
	s := decimal.NewFromInt(step)
	return spot.Div(s).Round(0).Mul(s).IntPart()
}

// SelectWindow returns the ordered strikes around the ATM strike for spot.
// An unavailable spot yields an empty window, which callers treat as "skip
// this tick".
func SelectWindow(spot decimal.NullDecimal, step int64, size int, policy SelectionPolicy, available []int64) []int64 {
	if !spot.Valid {
		return nil
	}
	if step <= 0 {
		step = DefaultStrikeStep
	}
	if size <= 0 {
		size = DefaultWindowSize
	}
	atm := ATMStrike(spot.Decimal, step)

	switch policy {
	case SelectFixed:
		return fixedWindow(atm, step, size)
	default:
		return nearestWindow(atm, size, available)
	}
}

// fixedWindow lays out size strikes centred on atm; an even size leans low.
func fixedWindow(atm, step int64, size int) []int64 {
	out := make([]int64, 0, size)
	lo := -(size / 2)
	for i := 0; i < size; i++ {
		out = append(out, atm+int64(lo+i)*step)
	}
	return out
}

// nearestWindow sorts candidates by distance from atm. Candidates are put in
// ascending strike order first so equal distances resolve the same way no
// matter how the provider ordered its rows.
func nearestWindow(atm int64, size int, available []int64) []int64 {
	seen := make(map[int64]struct{}, len(available))
	candidates := make([]int64, 0, len(available))
	for _, s := range available {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		candidates = append(candidates, s)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	sort.SliceStable(candidates, func(i, j int) bool {
		return distance(candidates[i], atm) < distance(candidates[j], atm)
	})
	if len(candidates) > size {
		candidates = candidates[:size]
	}
	return candidates
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
