package engine

import (
	"fmt"
	rand "math/rand/v2"
	"strings"
	"time"

	"github.com/feltworks/cardroom/poker"
)

// StartHand deals the next hand: it drops departed players, rotates the
// button, reshuffles, deals hole cards, posts blinds and hands the turn to
// the first actor. The rng decides the shuffle; production sessions seed it
// from a cryptographically strong source.
func StartHand(ctx *Context, rng *rand.Rand, now time.Time) (*Result, error) {
	if ctx.Phase != PhaseWaiting && ctx.Phase != PhaseComplete {
		return nil, fmt.Errorf("%w: cannot deal during %s", ErrWrongPhase, ctx.Phase)
	}

	c := ctx.Clone()
	res := &Result{Context: c}

	kept := c.Players[:0]
	for _, p := range c.Players {
		if p.AtTable() {
			kept = append(kept, p)
		}
	}
	c.Players = kept

	dealt := 0
	for i := range c.Players {
		p := &c.Players[i]
		p.HoleCards = nil
		p.Folded = false
		p.AllIn = false
		p.EligibleToBet = false
		p.HasActed = false
		p.CurrentBet = 0
		p.TotalBet = 0
		p.Revealed = nil
		p.LastAction = ""
		if (p.Status == StatusSeated || p.Status == StatusWaitingForNextHand) && p.Chips > 0 {
			p.Status = StatusActive
		}
		if p.Status == StatusActive && p.Chips == 0 {
			p.Status = StatusEliminated
		}
		if p.DealtIn() {
			dealt++
		}
	}
	if dealt < 2 {
		return nil, fmt.Errorf("%w: need two players with chips to deal", ErrInvalidAction)
	}

	chipTotal := 0
	for i := range c.Players {
		chipTotal += c.Players[i].Chips
	}

	c.HandNumber++
	c.Phase = PhasePreflop
	c.Community = nil
	c.Runout = false
	c.ChipTotal = chipTotal
	c.Distributed = 0
	c.ButtonSeat = c.nextSeatFrom(c.ButtonSeat, (*Player).DealtIn)
	c.Deck = poker.NewDeck(rng).Remaining()

	eligible := make([]string, 0, dealt)
	for i := range c.Players {
		if c.Players[i].DealtIn() {
			eligible = append(eligible, c.Players[i].ID)
		}
	}
	c.Pots = []Pot{{Eligible: eligible}}

	res.addHistory(fmt.Sprintf("hand #%d, button at seat %d", c.HandNumber, c.ButtonSeat))

	// Two passes around the table, one card at a time.
	order := dealOrder(c)
	for pass := 0; pass < 2; pass++ {
		for _, seat := range order {
			p := c.PlayerBySeat(seat)
			p.HoleCards = append(p.HoleCards, c.dealFromDeck(1)...)
		}
	}

	var sbSeat, bbSeat int
	if dealt == 2 {
		sbSeat = c.ButtonSeat
		bbSeat = c.nextSeatFrom(sbSeat, (*Player).DealtIn)
	} else {
		sbSeat = c.nextSeatFrom(c.ButtonSeat, (*Player).DealtIn)
		bbSeat = c.nextSeatFrom(sbSeat, (*Player).DealtIn)
	}
	postBlind(c, res, sbSeat, c.Config.SmallBlind, "small")
	postBlind(c, res, bbSeat, c.Config.BigBlind, "big")

	for i := range c.Players {
		p := &c.Players[i]
		p.EligibleToBet = p.Contending() && !p.AllIn && p.Chips > 0
	}
	c.MinRaise = 2 * c.Config.BigBlind
	c.LastAggressorSeat = 0

	// Scanning from the big blind covers heads-up too: there the button is
	// the small blind and the next seat after the big blind wraps to it.
	first := c.nextSeatFrom(bbSeat, (*Player).CanAct)
	c.FirstActorSeat = first
	if first != 0 && !roundComplete(c) {
		setActor(c, res, first, now)
	} else {
		finishBettingRound(c, res)
		routeAfterRound(c, res, now)
		return res, nil
	}

	res.addEffect(Persist{})
	return res, nil
}

// dealOrder returns the dealt-in seats clockwise starting left of the button.
func dealOrder(c *Context) []int {
	maxSeat := c.Config.MaxPlayers
	if maxSeat == 0 {
		maxSeat = 9
	}
	var seats []int
	for step := 1; step <= maxSeat; step++ {
		s := (c.ButtonSeat+step-1)%maxSeat + 1
		if p := c.PlayerBySeat(s); p != nil && p.DealtIn() {
			seats = append(seats, s)
		}
	}
	return seats
}

// postBlind commits a forced bet, going all-in short when the stack does not
// cover it. Blinds never count as aggression.
func postBlind(c *Context, res *Result, seat int, blind int, name string) {
	p := c.PlayerBySeat(seat)
	amount := blind
	if amount > p.Chips {
		amount = p.Chips
	}
	p.commitChips(amount)
	line := fmt.Sprintf("%s posts %s blind %d", p.Name, name, amount)
	if p.AllIn {
		line += " and is all-in"
	}
	res.addHistory(line)
}

// AdvancePhase drives one scheduled transition: flop, turn and river deal
// community cards and open a betting round, showdown resolves the pots, and
// complete settles the roster for the next hand.
func AdvancePhase(ctx *Context, target Phase, now time.Time) (*Result, error) {
	if target != ctx.Phase+1 {
		return nil, fmt.Errorf("%w: cannot advance from %s to %s", ErrWrongPhase, ctx.Phase, target)
	}

	c := ctx.Clone()
	res := &Result{Context: c}

	switch target {
	case PhaseFlop, PhaseTurn, PhaseRiver:
		enterStreet(c, res, target, now)
	case PhaseShowdown:
		resolveShowdown(c, res, now)
	case PhaseComplete:
		completeHand(c, res)
	default:
		return nil, fmt.Errorf("%w: cannot advance to %s", ErrWrongPhase, target)
	}
	return res, nil
}

func enterStreet(c *Context, res *Result, street Phase, now time.Time) {
	c.Phase = street
	c.burnCard()
	n := 1
	if street == PhaseFlop {
		n = 3
	}
	cards := c.dealFromDeck(n)
	c.Community = append(c.Community, cards...)
	res.addEvent(DealStreetEvent{Street: street.String(), Cards: cards})
	res.addHistory(fmt.Sprintf("%s: %s", street, strings.Join(poker.CardStrings(c.Community), " ")))

	if !bettingPossible(c) {
		c.Runout = true
		delay := c.Config.RunoutDelay
		res.addEffect(ScheduleTransition{Target: street + 1, Delay: delay})
		res.addEffect(Persist{})
		return
	}

	for i := range c.Players {
		p := &c.Players[i]
		p.EligibleToBet = p.Contending() && !p.AllIn && p.Chips > 0 && p.AtTable()
		p.HasActed = false
	}
	c.MinRaise = c.Config.BigBlind
	c.LastAggressorSeat = 0
	first := c.nextSeatFrom(c.ButtonSeat, (*Player).CanAct)
	c.FirstActorSeat = first
	setActor(c, res, first, now)
	res.addEffect(Persist{})
}

// resolveShowdown settles every pot. With one contender left everything goes
// to them unrevealed; otherwise contenders show their hands and each pot goes
// to its best eligible hand, side pots first. Ties split with the remainder
// to the winner closest clockwise from the button.
func resolveShowdown(c *Context, res *Result, now time.Time) {
	c.Phase = PhaseShowdown
	c.CurrentActorSeat = 0
	c.ActionDeadline = time.Time{}

	contenders := contendingPlayers(c)
	if len(contenders) == 1 {
		w := contenders[0]
		total := c.PotTotal()
		w.Chips += total
		c.Distributed += total
		c.Pots = nil
		res.addEvent(RunoutEvent{WinnerID: w.ID, Amount: total, Board: c.Community, Reason: "all opponents folded"})
		res.addHistory(fmt.Sprintf("%s wins %d, all opponents folded", w.Name, total))
		res.addEffect(ScheduleTransition{Target: PhaseComplete, Delay: c.Config.ShowdownDelay})
		res.addEffect(Persist{})
		return
	}

	// A forced showdown can arrive with streets undealt.
	for len(c.Community) < 5 && len(c.Deck) > 0 {
		c.burnCard()
		n := 1
		if len(c.Community) == 0 {
			n = 3
		}
		cards := c.dealFromDeck(n)
		c.Community = append(c.Community, cards...)
		res.addEvent(DealStreetEvent{Street: streetName(len(c.Community)), Cards: cards})
	}

	ranks := make(map[string]poker.HandRank, len(contenders))
	for _, p := range contenders {
		hand := append(append([]poker.Card(nil), p.HoleCards...), c.Community...)
		// Card uniqueness is enforced by the invariant checks, so the
		// evaluation cannot fail here.
		rank, _ := poker.Evaluate(hand)
		ranks[p.ID] = rank
		p.Revealed = []int{0, 1}
		res.addEvent(ShowdownRevealEvent{
			PlayerID: p.ID,
			Seat:     p.Seat,
			Cards:    p.HoleCards,
			HandName: rank.String(),
		})
		res.addHistory(fmt.Sprintf("%s shows %s (%s)", p.Name, strings.Join(poker.CardStrings(p.HoleCards), " "), rank))
	}

	for idx := len(c.Pots) - 1; idx >= 0; idx-- {
		pot := c.Pots[idx]
		if pot.Amount == 0 {
			continue
		}
		winners := potWinners(c, &pot, contenders, ranks)
		if len(winners) == 0 {
			continue
		}
		best := ranks[winners[0].ID]
		share := pot.Amount / len(winners)
		remainder := pot.Amount % len(winners)
		shares := make(map[string]int, len(winners))
		ids := make([]string, 0, len(winners))
		for _, w := range winners {
			w.Chips += share
			shares[w.ID] = share
			ids = append(ids, w.ID)
		}
		if remainder > 0 {
			w := closestClockwise(c, winners)
			w.Chips += remainder
			shares[w.ID] += remainder
		}
		c.Distributed += pot.Amount
		res.addEvent(PotAwardedEvent{
			PotIndex:  idx,
			Amount:    pot.Amount,
			WinnerIDs: ids,
			Shares:    shares,
			HandName:  best.String(),
		})
		for _, w := range winners {
			res.addHistory(fmt.Sprintf("%s wins %d from pot %d with %s", w.Name, shares[w.ID], idx, best))
		}
	}
	c.Pots = nil

	res.addEffect(ScheduleTransition{Target: PhaseComplete, Delay: c.Config.ShowdownDelay})
	res.addEffect(Persist{})
}

// potWinners returns the eligible contenders holding the best hand for the
// pot. Eligibility was sealed when the pot was; later folds drop out here.
func potWinners(c *Context, pot *Pot, contenders []*Player, ranks map[string]poker.HandRank) []*Player {
	var winners []*Player
	best := poker.HandRank(-1)
	for _, p := range contenders {
		if !pot.HasEligible(p.ID) {
			continue
		}
		switch r := ranks[p.ID]; {
		case r > best:
			best = r
			winners = winners[:0]
			winners = append(winners, p)
		case r == best:
			winners = append(winners, p)
		}
	}
	return winners
}

// closestClockwise picks the winner nearest clockwise from the button, used
// to assign indivisible split remainders deterministically.
func closestClockwise(c *Context, winners []*Player) *Player {
	maxSeat := c.Config.MaxPlayers
	if maxSeat == 0 {
		maxSeat = 9
	}
	for step := 1; step <= maxSeat; step++ {
		seat := (c.ButtonSeat+step-1)%maxSeat + 1
		for _, w := range winners {
			if w.Seat == seat {
				return w
			}
		}
	}
	return winners[0]
}

func contendingPlayers(c *Context) []*Player {
	var out []*Player
	for i := range c.Players {
		if c.Players[i].Contending() {
			out = append(out, &c.Players[i])
		}
	}
	return out
}

func streetName(communityLen int) string {
	switch communityLen {
	case 3:
		return PhaseFlop.String()
	case 4:
		return PhaseTurn.String()
	default:
		return PhaseRiver.String()
	}
}

// completeHand marks busted players eliminated and either lines up the next
// hand or ends the game with the last player standing.
func completeHand(c *Context, res *Result) {
	c.Phase = PhaseComplete
	c.CurrentActorSeat = 0
	c.ActionDeadline = time.Time{}

	remaining := 0
	var last *Player
	for i := range c.Players {
		p := &c.Players[i]
		if !p.AtTable() {
			continue
		}
		if p.Chips == 0 && (p.Status == StatusActive || p.Status == StatusDisconnected) {
			p.Status = StatusEliminated
			res.addEvent(PlayerEliminatedEvent{PlayerID: p.ID, Seat: p.Seat})
			res.addHistory(fmt.Sprintf("%s is eliminated", p.Name))
		}
		if p.Chips > 0 {
			remaining++
			last = p
		}
	}

	if remaining >= 2 {
		res.addEffect(ScheduleTransition{Target: PhasePreflop, Delay: c.Config.PhaseTransitionDelay})
	} else {
		winnerID := ""
		if last != nil {
			winnerID = last.ID
		}
		res.addEffect(EndGame{Reason: "last player standing", WinnerID: winnerID})
	}
	res.addEffect(Persist{})
}

// ForceFold folds a seat regardless of turn ownership. The heartbeat uses it
// on deadline expiry, the session when a player leaves mid-hand.
func ForceFold(ctx *Context, seat int, now time.Time) (*Result, error) {
	if !ctx.Phase.Betting() {
		return nil, fmt.Errorf("%w: no betting in %s", ErrInvalidAction, ctx.Phase)
	}
	target := ctx.PlayerBySeat(seat)
	if target == nil {
		return nil, ErrNotInGame
	}
	if !target.Contending() {
		return nil, fmt.Errorf("%w: no live hand to fold", ErrInvalidAction)
	}

	c := ctx.Clone()
	res := &Result{Context: c}
	p := c.PlayerBySeat(seat)
	p.Folded = true
	p.EligibleToBet = false
	p.HasActed = true
	p.LastAction = string(ActionFold)
	if c.LastAggressorSeat == seat {
		c.LastAggressorSeat = 0
	}
	res.addEvent(PlayerActionEvent{PlayerID: p.ID, Seat: seat, Kind: ActionFold})
	res.addHistory(fmt.Sprintf("%s folds", p.Name))

	if seat == c.CurrentActorSeat || c.ContenderCount() == 1 {
		routeAfterAction(c, res, seat, now)
	}
	return res, nil
}

// Reveal shows one of the player's hole cards. Only allowed while the hand
// sits in showdown, which includes wins by everyone folding.
func Reveal(ctx *Context, playerID string, index int) (*Result, error) {
	if ctx.Phase != PhaseShowdown {
		return nil, fmt.Errorf("%w: reveal is only allowed at showdown", ErrWrongPhase)
	}
	if index != 0 && index != 1 {
		return nil, fmt.Errorf("%w: reveal index must be 0 or 1", ErrInvalidAction)
	}
	player := ctx.PlayerByID(playerID)
	if player == nil {
		return nil, ErrNotInGame
	}
	if len(player.HoleCards) != 2 {
		return nil, fmt.Errorf("%w: no cards to reveal", ErrInvalidAction)
	}
	for _, r := range player.Revealed {
		if r == index {
			return nil, fmt.Errorf("%w: card already revealed", ErrInvalidAction)
		}
	}

	c := ctx.Clone()
	res := &Result{Context: c}
	p := c.PlayerByID(playerID)
	p.Revealed = append(p.Revealed, index)
	res.addEvent(CardRevealEvent{PlayerID: p.ID, Seat: p.Seat, Index: index, Card: p.HoleCards[index]})
	res.addHistory(fmt.Sprintf("%s reveals %s", p.Name, p.HoleCards[index]))
	return res, nil
}

// Pause clears the action deadline while preserving the actor's turn. The
// heartbeat skips paused games, so the deadline must not stand.
func Pause(ctx *Context) *Result {
	c := ctx.Clone()
	c.ActionDeadline = time.Time{}
	return &Result{Context: c}
}

// Resume re-arms the action deadline for the preserved actor and restarts
// the client countdown.
func Resume(ctx *Context, now time.Time) *Result {
	c := ctx.Clone()
	res := &Result{Context: c}
	if c.Phase.Betting() && c.CurrentActorSeat != 0 {
		setActor(c, res, c.CurrentActorSeat, now)
	}
	return res
}
