package engine

import (
	"fmt"

	"github.com/feltworks/cardroom/poker"
)

// CheckInvariants verifies chip conservation and state shape after an engine
// result has been applied. A non-nil return means the context can no longer
// be trusted and the session must be quarantined.
func CheckInvariants(c *Context) error {
	if c == nil {
		return nil
	}
	fail := func(format string, args ...any) error {
		return &InvariantError{
			GameID:     c.GameID,
			HandNumber: c.HandNumber,
			Phase:      c.Phase,
			Detail:     fmt.Sprintf(format, args...),
		}
	}

	maxSeat := c.Config.MaxPlayers
	if maxSeat == 0 {
		maxSeat = 9
	}
	seats := make(map[int]string, len(c.Players))
	for i := range c.Players {
		p := &c.Players[i]
		if p.Seat < 1 || p.Seat > maxSeat {
			return fail("player %s at illegal seat %d", p.ID, p.Seat)
		}
		if other, ok := seats[p.Seat]; ok {
			return fail("seat %d held by both %s and %s", p.Seat, other, p.ID)
		}
		seats[p.Seat] = p.ID
		if n := len(p.HoleCards); n != 0 && n != 2 {
			return fail("player %s holds %d cards", p.ID, n)
		}
	}

	if c.Phase == PhaseWaiting {
		return nil
	}

	chips, bets, totals := 0, 0, 0
	for i := range c.Players {
		chips += c.Players[i].Chips
		bets += c.Players[i].CurrentBet
		totals += c.Players[i].TotalBet
	}
	pots := c.PotTotal()
	if chips+bets+pots != c.ChipTotal {
		return fail("chips %d + bets %d + pots %d != table total %d", chips, bets, pots, c.ChipTotal)
	}
	if pots != totals-bets-c.Distributed {
		return fail("pots %d != contributions %d - live bets %d - distributed %d", pots, totals, bets, c.Distributed)
	}

	for i := range c.Pots {
		pot := &c.Pots[i]
		if pot.Amount < 0 {
			return fail("pot %d has negative amount %d", i, pot.Amount)
		}
		for _, id := range pot.Eligible {
			p := c.PlayerByID(id)
			if p == nil {
				return fail("pot %d eligible player %s not at table", i, id)
			}
			if p.TotalBet < pot.Level {
				return fail("pot %d eligible player %s contributed %d below cap %d", i, id, p.TotalBet, pot.Level)
			}
		}
	}

	if c.CurrentActorSeat != 0 {
		if !c.Phase.Betting() {
			return fail("actor seat %d set outside a betting round", c.CurrentActorSeat)
		}
		actor := c.PlayerBySeat(c.CurrentActorSeat)
		if actor == nil {
			return fail("actor seat %d is empty", c.CurrentActorSeat)
		}
		if !actor.CanAct() {
			return fail("actor %s cannot act", actor.ID)
		}
	}

	if c.MinRaise < c.Config.BigBlind {
		return fail("min raise %d below big blind %d", c.MinRaise, c.Config.BigBlind)
	}

	if btn := c.PlayerBySeat(c.ButtonSeat); btn == nil || !btn.AtTable() {
		return fail("button seat %d not held by an active player", c.ButtonSeat)
	}

	var seen uint64
	checkCards := func(where string, cards []poker.Card) error {
		for _, card := range cards {
			if !card.Valid() {
				return fail("invalid card in %s", where)
			}
			bit := uint64(1) << (uint(card.Suit)*13 + uint(card.Rank-poker.Two))
			if seen&bit != 0 {
				return fail("duplicate card %s in %s", card, where)
			}
			seen |= bit
		}
		return nil
	}
	if err := checkCards("deck", c.Deck); err != nil {
		return err
	}
	if err := checkCards("community", c.Community); err != nil {
		return err
	}
	for i := range c.Players {
		if err := checkCards("hole cards", c.Players[i].HoleCards); err != nil {
			return err
		}
	}

	return nil
}
