package engine

import (
	"testing"
)

func TestSidePotsFormWhenStacksDiffer(t *testing.T) {
	t.Parallel()
	ctx := newTable(50, 100, 200)
	ctx.ButtonSeat = 2

	c := deal(t, ctx, 13).Context // button 3, sb u1, bb u2, actor u3
	c = act(t, c, "u3", Action{Kind: ActionAllIn}).Context
	c = act(t, c, "u1", Action{Kind: ActionAllIn}).Context
	res := act(t, c, "u2", Action{Kind: ActionAllIn})
	c = res.Context

	if len(c.Pots) != 2 {
		t.Fatalf("pots = %+v, want main plus one side pot", c.Pots)
	}
	if c.Pots[0].Amount != 150 || !sameEligible(c.Pots[0].Eligible, []string{"u1", "u2", "u3"}) {
		t.Errorf("main pot = %+v, want 150 for u1,u2,u3", c.Pots[0])
	}
	if c.Pots[1].Amount != 100 || !sameEligible(c.Pots[1].Eligible, []string{"u2", "u3"}) {
		t.Errorf("side pot = %+v, want 100 for u2,u3", c.Pots[1])
	}

	// u3 covered everyone: the unmatched 100 comes straight back.
	if got := c.PlayerByID("u3").Chips; got != 100 {
		t.Errorf("u3 chips = %d, want 100 returned", got)
	}
	if c.PlayerByID("u3").AllIn {
		t.Error("u3 has chips behind after the refund, not all-in")
	}

	if !c.Runout {
		t.Error("hand should run out with no one left to bet")
	}
	if !hasEvent(res, "HAND_RUNOUT") {
		t.Error("expected HAND_RUNOUT event")
	}
	if tr := findTransition(t, res); tr.Target != PhaseFlop || tr.Delay != testConfig().RunoutDelay {
		t.Errorf("transition = %+v, want flop on runout delay", tr)
	}
}

func TestRunoutDealsAllStreetsAndSettles(t *testing.T) {
	t.Parallel()
	ctx := newTable(50, 100, 200)
	ctx.ButtonSeat = 2

	c := deal(t, ctx, 13).Context
	c = act(t, c, "u3", Action{Kind: ActionAllIn}).Context
	c = act(t, c, "u1", Action{Kind: ActionAllIn}).Context
	c = act(t, c, "u2", Action{Kind: ActionAllIn}).Context

	for _, street := range []Phase{PhaseFlop, PhaseTurn, PhaseRiver} {
		res := advance(t, c, street)
		c = res.Context
		if c.CurrentActorSeat != 0 {
			t.Fatalf("%s: betting opened during runout, actor %d", street, c.CurrentActorSeat)
		}
		if tr := findTransition(t, res); tr.Delay != testConfig().RunoutDelay {
			t.Fatalf("%s: delay = %v, want runout delay", street, tr.Delay)
		}
	}
	if len(c.Community) != 5 {
		t.Fatalf("community = %d cards, want 5", len(c.Community))
	}

	res := advance(t, c, PhaseShowdown)
	c = res.Context
	if c.Distributed != 250 {
		t.Errorf("distributed = %d, want 250", c.Distributed)
	}
	if len(c.Pots) != 0 {
		t.Errorf("pots remain after showdown: %+v", c.Pots)
	}
	reveals := 0
	for _, e := range res.Events {
		if e.Name() == "SHOWDOWN_REVEAL" {
			reveals++
		}
	}
	if reveals != 3 {
		t.Errorf("reveals = %d, want 3", reveals)
	}
}

func TestUncalledBetReturnsToUnmatchedPlayer(t *testing.T) {
	t.Parallel()
	ctx := newTable(200, 50)
	ctx.ButtonSeat = 2

	c := deal(t, ctx, 31).Context // heads-up, button u1 acts first
	c = act(t, c, "u1", Action{Kind: ActionAllIn}).Context
	res := act(t, c, "u2", Action{Kind: ActionAllIn})
	c = res.Context

	if got := c.PlayerByID("u1").Chips; got != 150 {
		t.Errorf("u1 chips = %d, want 150 returned", got)
	}
	if len(c.Pots) != 1 || c.Pots[0].Amount != 100 {
		t.Fatalf("pots = %+v, want single pot of 100", c.Pots)
	}
	if !sameEligible(c.Pots[0].Eligible, []string{"u1", "u2"}) {
		t.Errorf("eligible = %v, want u1,u2", c.Pots[0].Eligible)
	}
}

func TestFoldedChipsStayInThePot(t *testing.T) {
	t.Parallel()
	ctx := newTable(200, 200, 200)
	ctx.ButtonSeat = 2

	c := deal(t, ctx, 37).Context
	c = act(t, c, "u3", Action{Kind: ActionCall}).Context
	c = act(t, c, "u1", Action{Kind: ActionRaise, Amount: 4}).Context
	c = act(t, c, "u2", Action{Kind: ActionFold}).Context
	res := act(t, c, "u3", Action{Kind: ActionCall})
	c = res.Context

	// u2's dead big blind spreads into the pot the live players contest.
	if len(c.Pots) != 1 {
		t.Fatalf("pots = %+v, want one", c.Pots)
	}
	if c.Pots[0].Amount != 14 {
		t.Errorf("pot = %d, want 14", c.Pots[0].Amount)
	}
	if !sameEligible(c.Pots[0].Eligible, []string{"u1", "u3"}) {
		t.Errorf("eligible = %v, want u1,u3", c.Pots[0].Eligible)
	}
}

func TestPotLevelsAccumulateAcrossRounds(t *testing.T) {
	t.Parallel()
	ctx := newTable(200, 200)
	ctx.ButtonSeat = 2

	c := deal(t, ctx, 41).Context
	c = act(t, c, "u1", Action{Kind: ActionCall}).Context
	c = act(t, c, "u2", Action{Kind: ActionCheck}).Context
	c = advance(t, c, PhaseFlop).Context

	c = act(t, c, "u2", Action{Kind: ActionBet, Amount: 10}).Context
	res := act(t, c, "u1", Action{Kind: ActionCall})
	c = res.Context

	if len(c.Pots) != 1 {
		t.Fatalf("pots = %+v, want one merged pot", c.Pots)
	}
	if c.Pots[0].Amount != 24 {
		t.Errorf("pot = %d, want 24", c.Pots[0].Amount)
	}
	if c.Pots[0].Level != 12 {
		t.Errorf("pot level = %d, want cumulative 12", c.Pots[0].Level)
	}
}
