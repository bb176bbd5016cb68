// Package bot holds the decision policy for house bots. The policy is a
// pure function of the hand context: no I/O, no clock, no randomness, so a
// given spot always produces the same action and tests stay reproducible.
package bot

import (
	"hash/fnv"
	"time"

	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/poker"
)

// Hand strength tiers. The policy only needs a coarse ladder.
const (
	tierTrash = iota
	tierMarginal
	tierStrong
	tierMonster
)

// Policy decides actions for bot-occupied seats.
type Policy struct{}

// Decide returns a legal action for the player in seat. The scheduler calls
// it under the session mutex just before applying, so the context is the
// authoritative current state.
func (Policy) Decide(ctx *engine.Context, seat int) engine.Action {
	p := ctx.PlayerBySeat(seat)
	if p == nil || !p.CanAct() {
		return engine.Action{Kind: engine.ActionFold}
	}

	toCall := ctx.MaxCurrentBet() - p.CurrentBet
	pot := livePot(ctx)
	tier := strength(p.HoleCards, ctx.Community)

	switch tier {
	case tierMonster:
		if toCall == 0 {
			if amount, ok := betSize(ctx, p, pot); ok {
				return engine.Action{Kind: engine.ActionBet, Amount: amount}
			}
			return engine.Action{Kind: engine.ActionCheck}
		}
		if canRaise(ctx, p, toCall) {
			return engine.Action{Kind: engine.ActionRaise, Amount: ctx.MinRaise}
		}
		if toCall >= p.Chips {
			return engine.Action{Kind: engine.ActionAllIn}
		}
		return engine.Action{Kind: engine.ActionCall}

	case tierStrong:
		if toCall == 0 {
			if ctx.MinRaise <= p.Chips && ctx.LastAggressorSeat != p.Seat {
				return engine.Action{Kind: engine.ActionBet, Amount: ctx.MinRaise}
			}
			return engine.Action{Kind: engine.ActionCheck}
		}
		if toCall >= p.Chips {
			return engine.Action{Kind: engine.ActionAllIn}
		}
		return engine.Action{Kind: engine.ActionCall}

	case tierMarginal:
		if toCall == 0 {
			return engine.Action{Kind: engine.ActionCheck}
		}
		// Flat only when the price is right: cheap absolutely, or laying
		// three-to-one, and never for more than a third of the stack.
		cheap := toCall <= ctx.Config.BigBlind || 3*toCall <= pot
		if cheap && toCall <= p.Chips && 3*toCall <= p.Chips*2 {
			return engine.Action{Kind: engine.ActionCall}
		}
		return engine.Action{Kind: engine.ActionFold}

	default:
		if toCall == 0 {
			return engine.Action{Kind: engine.ActionCheck}
		}
		return engine.Action{Kind: engine.ActionFold}
	}
}

// ThinkDelay spreads bot actions over one to three seconds so a table of
// bots does not fire in lockstep. Deterministic per turn.
func ThinkDelay(gameID string, handNumber, seat int) time.Duration {
	h := fnv.New32a()
	h.Write([]byte(gameID))
	h.Write([]byte{byte(handNumber), byte(handNumber >> 8), byte(seat)})
	return time.Second + time.Duration(h.Sum32()%2000)*time.Millisecond
}

// livePot is the reconciled pots plus the bets still on the table.
func livePot(ctx *engine.Context) int {
	total := ctx.PotTotal()
	for i := range ctx.Players {
		total += ctx.Players[i].CurrentBet
	}
	return total
}

func canRaise(ctx *engine.Context, p *engine.Player, toCall int) bool {
	return ctx.LastAggressorSeat != p.Seat && toCall+ctx.MinRaise <= p.Chips
}

// betSize picks roughly half pot, clamped to the legal window.
func betSize(ctx *engine.Context, p *engine.Player, pot int) (int, bool) {
	if ctx.LastAggressorSeat == p.Seat || ctx.MinRaise > p.Chips {
		return 0, false
	}
	amount := pot / 2
	if amount < ctx.MinRaise {
		amount = ctx.MinRaise
	}
	if amount > p.Chips {
		amount = p.Chips
	}
	return amount, true
}

// strength buckets the hand into a tier. Preflop uses hole-card shape;
// postflop uses the made-hand category on the visible board.
func strength(hole, community []poker.Card) int {
	if len(hole) != 2 {
		return tierTrash
	}
	if len(community) == 0 {
		return preflopTier(hole[0], hole[1])
	}

	cards := make([]poker.Card, 0, 7)
	cards = append(cards, hole...)
	cards = append(cards, community...)
	rank, err := poker.Evaluate(cards)
	if err != nil {
		return tierTrash
	}
	switch cat := rank.Category(); {
	case cat >= poker.ThreeOfAKind:
		return tierMonster
	case cat == poker.TwoPair:
		return tierStrong
	case cat == poker.Pair:
		if pairAboveBoard(hole, community) {
			return tierStrong
		}
		return tierMarginal
	default:
		return tierTrash
	}
}

func preflopTier(a, b poker.Card) int {
	hi, lo := a.Rank, b.Rank
	if lo > hi {
		hi, lo = lo, hi
	}
	suited := a.Suit == b.Suit

	switch {
	case hi == lo && hi >= poker.Ten:
		return tierMonster
	case hi == lo && hi >= poker.Six:
		return tierStrong
	case hi == poker.Ace && lo >= poker.Jack:
		return tierStrong
	case hi == poker.King && lo == poker.Queen && suited:
		return tierStrong
	case hi == lo:
		return tierMarginal
	case hi >= poker.Ten && lo >= poker.Ten:
		return tierMarginal
	case suited && hi-lo <= 2 && lo >= poker.Eight:
		return tierMarginal
	default:
		return tierTrash
	}
}

// pairAboveBoard reports whether a paired hand uses a hole card at or above
// every board rank, the top-pair-or-better line.
func pairAboveBoard(hole, community []poker.Card) bool {
	var top poker.Rank
	for _, c := range community {
		if c.Rank > top {
			top = c.Rank
		}
	}
	for _, c := range hole {
		if c.Rank >= top {
			return true
		}
	}
	return false
}
