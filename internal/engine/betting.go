package engine

import (
	"fmt"
	"time"
)

// Apply validates and applies one betting action from the identified player.
// On success the returned Result carries the successor context; on failure
// the error wraps ErrInvalidAction, ErrNotYourTurn or ErrNotInGame and the
// input context is untouched.
func Apply(ctx *Context, playerID string, action Action, now time.Time) (*Result, error) {
	if !ctx.Phase.Betting() {
		return nil, fmt.Errorf("%w: no betting in %s", ErrInvalidAction, ctx.Phase)
	}
	actor := ctx.PlayerByID(playerID)
	if actor == nil {
		return nil, ErrNotInGame
	}
	if actor.Seat != ctx.CurrentActorSeat {
		return nil, ErrNotYourTurn
	}
	if !actor.CanAct() {
		return nil, fmt.Errorf("%w: player cannot act", ErrInvalidAction)
	}

	c := ctx.Clone()
	res := &Result{Context: c}
	p := c.PlayerByID(playerID)

	moved, err := applyAction(c, p, action)
	if err != nil {
		return nil, err
	}

	p.HasActed = true
	p.EligibleToBet = false
	p.LastAction = string(action.Kind)

	res.addEvent(PlayerActionEvent{
		PlayerID: p.ID,
		Seat:     p.Seat,
		Kind:     action.Kind,
		Amount:   moved,
		AllIn:    p.AllIn,
	})
	res.addHistory(actionHistory(p, action.Kind, moved))

	routeAfterAction(c, res, p.Seat, now)
	return res, nil
}

// applyAction moves chips for one validated action and returns the amount
// moved. Validation failures wrap ErrInvalidAction.
func applyAction(c *Context, p *Player, action Action) (int, error) {
	priorMax := c.MaxCurrentBet()
	toCall := priorMax - p.CurrentBet

	switch action.Kind {
	case ActionFold:
		p.Folded = true
		if c.LastAggressorSeat == p.Seat {
			c.LastAggressorSeat = 0
		}
		return 0, nil

	case ActionCheck:
		if toCall != 0 {
			return 0, fmt.Errorf("%w: cannot check facing a bet of %d", ErrInvalidAction, toCall)
		}
		return 0, nil

	case ActionCall:
		if toCall == 0 {
			return 0, fmt.Errorf("%w: nothing to call", ErrInvalidAction)
		}
		if toCall > p.Chips {
			return 0, fmt.Errorf("%w: call of %d exceeds stack %d", ErrInvalidAction, toCall, p.Chips)
		}
		p.commitChips(toCall)
		return toCall, nil

	case ActionBet:
		if toCall != 0 {
			return 0, fmt.Errorf("%w: cannot bet facing a bet, raise instead", ErrInvalidAction)
		}
		if action.Amount < c.MinRaise {
			return 0, fmt.Errorf("%w: bet %d below minimum %d", ErrInvalidAction, action.Amount, c.MinRaise)
		}
		if action.Amount > p.Chips {
			return 0, fmt.Errorf("%w: bet %d exceeds stack %d", ErrInvalidAction, action.Amount, p.Chips)
		}
		if c.LastAggressorSeat == p.Seat {
			return 0, fmt.Errorf("%w: betting is closed for the standing aggressor", ErrInvalidAction)
		}
		p.commitChips(action.Amount)
		if action.Amount > c.MinRaise {
			c.MinRaise = action.Amount
		}
		markAggressor(c, p)
		return action.Amount, nil

	case ActionRaise:
		if toCall == 0 {
			return 0, fmt.Errorf("%w: nothing to raise, bet instead", ErrInvalidAction)
		}
		if action.Amount < c.MinRaise {
			return 0, fmt.Errorf("%w: raise of %d below minimum %d", ErrInvalidAction, action.Amount, c.MinRaise)
		}
		if toCall+action.Amount > p.Chips {
			return 0, fmt.Errorf("%w: raise needs %d, stack is %d", ErrInvalidAction, toCall+action.Amount, p.Chips)
		}
		if c.LastAggressorSeat == p.Seat {
			return 0, fmt.Errorf("%w: betting is closed for the standing aggressor", ErrInvalidAction)
		}
		p.commitChips(toCall + action.Amount)
		if 2*action.Amount > c.MinRaise {
			c.MinRaise = 2 * action.Amount
		}
		markAggressor(c, p)
		return toCall + action.Amount, nil

	case ActionAllIn:
		if p.Chips == 0 {
			return 0, fmt.Errorf("%w: no chips behind", ErrInvalidAction)
		}
		moved := p.Chips
		p.commitChips(moved)
		if p.CurrentBet > priorMax {
			if inc := p.CurrentBet - priorMax; inc > c.MinRaise {
				c.MinRaise = inc
			}
			markAggressor(c, p)
		}
		return moved, nil

	default:
		return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, action.Kind)
	}
}

// commitChips moves chips from the stack into the current round's bet.
func (p *Player) commitChips(amount int) {
	p.Chips -= amount
	p.CurrentBet += amount
	p.TotalBet += amount
	if p.Chips == 0 {
		p.AllIn = true
	}
}

// markAggressor records a bet, raise or raising all-in and reopens the
// action for everyone else still able to bet.
func markAggressor(c *Context, actor *Player) {
	c.LastAggressorSeat = actor.Seat
	for i := range c.Players {
		p := &c.Players[i]
		if p.Seat == actor.Seat {
			continue
		}
		if p.Contending() && !p.AllIn && p.Chips > 0 {
			p.EligibleToBet = true
		}
	}
}

// routeAfterAction advances the turn or, when the round is over, reconciles
// pots and schedules what comes next.
func routeAfterAction(c *Context, res *Result, actorSeat int, now time.Time) {
	if c.ContenderCount() == 1 {
		finishBettingRound(c, res)
		resolveShowdown(c, res, now)
		return
	}

	if !roundComplete(c) {
		next := c.nextSeatFrom(actorSeat, (*Player).CanAct)
		if next != 0 {
			setActor(c, res, next, now)
			return
		}
	}

	finishBettingRound(c, res)
	routeAfterRound(c, res, now)
}

// roundComplete checks the short-circuit case where at most one player has
// chips behind and faces no bet, so no further decision is possible.
func roundComplete(c *Context) bool {
	max := c.MaxCurrentBet()
	actionable := 0
	for i := range c.Players {
		p := &c.Players[i]
		if !p.Contending() || p.AllIn || p.Chips == 0 || !p.AtTable() {
			continue
		}
		actionable++
		if actionable > 1 || p.CurrentBet < max {
			return false
		}
	}
	return true
}

// routeAfterRound schedules the transition out of a completed betting round.
// Pots are already reconciled.
func routeAfterRound(c *Context, res *Result, now time.Time) {
	if c.Phase == PhaseRiver {
		res.addEffect(ScheduleTransition{Target: PhaseShowdown, Delay: c.Config.PhaseTransitionDelay})
		res.addEffect(Persist{})
		return
	}

	delay := c.Config.PhaseTransitionDelay
	if !bettingPossible(c) {
		if !c.Runout {
			c.Runout = true
			res.addEvent(RunoutEvent{Board: c.Community, Reason: "all players all-in"})
			res.addHistory("all players all-in, running out the board")
		}
		delay = c.Config.RunoutDelay
	}
	res.addEffect(ScheduleTransition{Target: c.Phase + 1, Delay: delay})
	res.addEffect(Persist{})
}

// bettingPossible reports whether the next street can host a betting round:
// at least two contenders with chips behind.
func bettingPossible(c *Context) bool {
	n := 0
	for i := range c.Players {
		p := &c.Players[i]
		if p.Contending() && !p.AllIn && p.Chips > 0 && p.AtTable() {
			n++
		}
	}
	return n >= 2
}

// setActor hands the turn to the seat and arms the action deadline.
func setActor(c *Context, res *Result, seat int, now time.Time) {
	c.CurrentActorSeat = seat
	c.ActionDeadline = now.Add(c.Config.TurnTimer)
	p := c.PlayerBySeat(seat)
	res.addEvent(TurnTimerEvent{
		PlayerID: p.ID,
		Seat:     seat,
		Deadline: c.ActionDeadline.UnixMilli(),
		Millis:   c.Config.TurnTimer.Milliseconds(),
	})
}

// finishBettingRound returns any uncalled bet, sweeps the round's bets into
// pots and clears the per-round state.
func finishBettingRound(c *Context, res *Result) {
	returnUncalledBet(c, res)
	reconcilePots(c)
	for i := range c.Players {
		c.Players[i].CurrentBet = 0
		c.Players[i].EligibleToBet = false
		c.Players[i].HasActed = false
	}
	c.MinRaise = c.Config.BigBlind
	c.LastAggressorSeat = 0
	c.CurrentActorSeat = 0
	c.ActionDeadline = time.Time{}
}

// returnUncalledBet refunds the portion of the highest bet no other player
// matched. At most one player can hold the strictly highest bet.
func returnUncalledBet(c *Context, res *Result) {
	hi, second, hiIdx := 0, 0, -1
	for i := range c.Players {
		cb := c.Players[i].CurrentBet
		switch {
		case cb > hi:
			second = hi
			hi = cb
			hiIdx = i
		case cb > second:
			second = cb
		}
	}
	if hiIdx < 0 || hi == second {
		return
	}
	// A folded bettor forfeits; reconciliation folds the excess downward.
	if c.Players[hiIdx].Folded {
		return
	}
	p := &c.Players[hiIdx]
	refund := hi - second
	p.Chips += refund
	p.CurrentBet -= refund
	p.TotalBet -= refund
	if p.AllIn && p.Chips > 0 {
		p.AllIn = false
	}
	res.addHistory(fmt.Sprintf("uncalled bet of %d returned to %s", refund, p.Name))
}

func actionHistory(p *Player, kind ActionKind, moved int) string {
	switch kind {
	case ActionFold:
		return fmt.Sprintf("%s folds", p.Name)
	case ActionCheck:
		return fmt.Sprintf("%s checks", p.Name)
	case ActionCall:
		return fmt.Sprintf("%s calls %d", p.Name, moved)
	case ActionBet:
		return fmt.Sprintf("%s bets %d", p.Name, moved)
	case ActionRaise:
		return fmt.Sprintf("%s raises %d to %d", p.Name, moved, p.CurrentBet)
	case ActionAllIn:
		return fmt.Sprintf("%s goes all-in for %d", p.Name, moved)
	default:
		return fmt.Sprintf("%s %s", p.Name, kind)
	}
}
