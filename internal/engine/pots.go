package engine

import "sort"

// reconcilePots sweeps the round's bets into the pot list. Distinct positive
// contribution levels each seal one pot; the eligible set is the non-folded
// players who contributed at least that level this round. Pot levels are
// cumulative per-contributor caps across the whole hand, so adjacent pots
// with identical eligible sets collapse into one.
func reconcilePots(c *Context) {
	levels := contributionLevels(c)
	if len(levels) == 0 {
		return
	}

	base := 0
	if n := len(c.Pots); n > 0 {
		base = c.Pots[n-1].Level
	}

	pots := append([]Pot(nil), c.Pots...)
	prev := 0
	for _, level := range levels {
		pot := Pot{Level: base + level}
		for i := range c.Players {
			p := &c.Players[i]
			cb := p.CurrentBet
			pot.Amount += min(cb, level) - min(cb, prev)
			if cb >= level && !p.Folded {
				pot.Eligible = append(pot.Eligible, p.ID)
			}
		}
		prev = level

		// Money only folded players reached sinks into the pot below.
		if len(pot.Eligible) == 0 {
			if n := len(pots); n > 0 {
				pots[n-1].Amount += pot.Amount
			}
			continue
		}
		pots = append(pots, pot)
	}

	c.Pots = mergePots(pots)
}

// contributionLevels returns the distinct positive per-round contributions,
// ascending. Folded players' bets count: their chips stay in the pots.
func contributionLevels(c *Context) []int {
	seen := make(map[int]struct{})
	var levels []int
	for i := range c.Players {
		cb := c.Players[i].CurrentBet
		if cb <= 0 {
			continue
		}
		if _, ok := seen[cb]; !ok {
			seen[cb] = struct{}{}
			levels = append(levels, cb)
		}
	}
	sort.Ints(levels)
	return levels
}

// mergePots collapses adjacent pots with identical eligible sets and drops
// empty ones, keeping at least one pot.
func mergePots(pots []Pot) []Pot {
	if len(pots) == 0 {
		return pots
	}
	merged := pots[:1]
	for _, pot := range pots[1:] {
		last := &merged[len(merged)-1]
		if sameEligible(last.Eligible, pot.Eligible) {
			last.Amount += pot.Amount
			last.Level = pot.Level
			continue
		}
		merged = append(merged, pot)
	}

	out := merged[:0]
	for _, pot := range merged {
		if pot.Amount > 0 {
			out = append(out, pot)
		}
	}
	if len(out) == 0 {
		return merged[:1]
	}
	return out
}

func sameEligible(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
