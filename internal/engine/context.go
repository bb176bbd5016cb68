package engine

import (
	"time"

	"github.com/feltworks/cardroom/poker"
)

// Phase is the hand state machine phase.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhasePreflop
	PhaseFlop
	PhaseTurn
	PhaseRiver
	PhaseShowdown
	PhaseComplete
)

// String returns the lower-case phase name used on the wire and in history.
func (p Phase) String() string {
	names := [...]string{"waiting", "preflop", "flop", "turn", "river", "showdown", "complete"}
	if p < 0 || int(p) >= len(names) {
		return "unknown"
	}
	return names[p]
}

// Betting reports whether the phase hosts a betting round.
func (p Phase) Betting() bool {
	return p >= PhasePreflop && p <= PhaseRiver
}

// Category classifies a table for payout purposes. Only cash tables touch
// the chip ledger.
type Category string

const (
	CategoryCash    Category = "cash"
	CategoryCasual  Category = "casual"
	CategoryPrivate Category = "private"
)

// Config carries the table parameters a hand is played under. The session
// layer may swap blinds between hands; the engine reads it immutably.
type Config struct {
	Variant              string        `json:"variant"`
	SmallBlind           int           `json:"smallBlind"`
	BigBlind             int           `json:"bigBlind"`
	StartingStack        int           `json:"startingStack"`
	MaxPlayers           int           `json:"maxPlayers"`
	BuyIn                int           `json:"buyIn"`
	TurnTimer            time.Duration `json:"turnTimer"`
	PhaseTransitionDelay time.Duration `json:"phaseTransitionDelay"`
	RunoutDelay          time.Duration `json:"runoutDelay"`
	ShowdownDelay        time.Duration `json:"showdownDelay"`
	BotFillAfter         time.Duration `json:"botFillAfter"`
	Category             Category      `json:"category"`
}

// Pot is a claimable amount with the set of players who may win it. Index 0
// in Context.Pots is the main pot; higher indices are side pots in creation
// order. Level is the per-contributor cap in cumulative hand contributions:
// every eligible player has TotalBet >= Level when the pot is sealed.
type Pot struct {
	Amount   int      `json:"amount"`
	Eligible []string `json:"eligible"`
	Level    int      `json:"level"`
}

// HasEligible reports whether the player id may win this pot.
func (p *Pot) HasEligible(id string) bool {
	for _, e := range p.Eligible {
		if e == id {
			return true
		}
	}
	return false
}

// Context is the complete state of one hand plus the roster it is played
// with. It is rewritten at the start of each hand and deep-copied at every
// engine boundary, which keeps results auditable and broadcast diffs cheap.
type Context struct {
	GameID     string       `json:"gameId"`
	HandNumber int          `json:"handNumber"`
	ButtonSeat int          `json:"buttonSeat"`
	Deck       []poker.Card `json:"deck,omitempty"` // remaining stack, top first
	Community  []poker.Card `json:"communityCards"`
	Pots       []Pot        `json:"pots"`
	Phase      Phase        `json:"currentPhase"`

	CurrentActorSeat  int       `json:"currentActorSeat"` // 0 = none
	FirstActorSeat    int       `json:"firstActorSeat"`
	MinRaise          int       `json:"minRaise"`
	LastAggressorSeat int       `json:"lastAggressorSeat"` // 0 = none
	ActionDeadline    time.Time `json:"actionDeadline,omitempty"`

	// Runout marks a hand whose remaining streets were dealt without
	// betting because at most one contender could still act.
	Runout bool `json:"runout,omitempty"`

	// ChipTotal and Distributed anchor the conservation invariants:
	// ChipTotal is the stack sum when the hand started, Distributed the
	// pot money already paid out this hand.
	ChipTotal   int `json:"chipTotal"`
	Distributed int `json:"distributed"`

	Players []Player `json:"players"`
	Config  Config   `json:"config"`
}

// NewContext creates the pre-deal context for a fresh table.
func NewContext(gameID string, cfg Config) *Context {
	return &Context{
		GameID:   gameID,
		Phase:    PhaseWaiting,
		MinRaise: cfg.BigBlind,
		Config:   cfg,
	}
}

// Clone returns a deep copy. Engine entry points clone their input before
// touching anything so the caller's context is never mutated.
func (c *Context) Clone() *Context {
	out := *c
	out.Deck = append([]poker.Card(nil), c.Deck...)
	out.Community = append([]poker.Card(nil), c.Community...)
	out.Pots = make([]Pot, len(c.Pots))
	for i, p := range c.Pots {
		out.Pots[i] = p
		out.Pots[i].Eligible = append([]string(nil), p.Eligible...)
	}
	out.Players = make([]Player, len(c.Players))
	for i, p := range c.Players {
		out.Players[i] = p
		out.Players[i].HoleCards = append([]poker.Card(nil), p.HoleCards...)
		out.Players[i].Revealed = append([]int(nil), p.Revealed...)
	}
	return &out
}

// PlayerBySeat returns the player occupying the seat, or nil.
func (c *Context) PlayerBySeat(seat int) *Player {
	for i := range c.Players {
		if c.Players[i].Seat == seat {
			return &c.Players[i]
		}
	}
	return nil
}

// PlayerByID returns the player with the given id, or nil.
func (c *Context) PlayerByID(id string) *Player {
	for i := range c.Players {
		if c.Players[i].ID == id {
			return &c.Players[i]
		}
	}
	return nil
}

// CurrentActor returns the player whose turn it is, or nil.
func (c *Context) CurrentActor() *Player {
	if c.CurrentActorSeat == 0 {
		return nil
	}
	return c.PlayerBySeat(c.CurrentActorSeat)
}

// nextSeatFrom walks seats clockwise starting strictly after the given seat
// and returns the first occupied seat satisfying keep, or 0.
func (c *Context) nextSeatFrom(seat int, keep func(*Player) bool) int {
	if len(c.Players) == 0 {
		return 0
	}
	maxSeat := c.Config.MaxPlayers
	if maxSeat == 0 {
		maxSeat = 9
	}
	for step := 1; step <= maxSeat; step++ {
		s := (seat+step-1)%maxSeat + 1
		if p := c.PlayerBySeat(s); p != nil && keep(p) {
			return s
		}
	}
	return 0
}

// MaxCurrentBet returns the highest per-round contribution on the table.
func (c *Context) MaxCurrentBet() int {
	max := 0
	for i := range c.Players {
		if c.Players[i].CurrentBet > max {
			max = c.Players[i].CurrentBet
		}
	}
	return max
}

// ContenderCount returns the number of non-folded players dealt into the hand.
func (c *Context) ContenderCount() int {
	n := 0
	for i := range c.Players {
		if c.Players[i].Contending() {
			n++
		}
	}
	return n
}

// PotTotal returns the chips across all sealed pots.
func (c *Context) PotTotal() int {
	total := 0
	for i := range c.Pots {
		total += c.Pots[i].Amount
	}
	return total
}

// dealFromDeck removes n cards from the top of the remaining stack.
func (c *Context) dealFromDeck(n int) []poker.Card {
	if n > len(c.Deck) {
		n = len(c.Deck)
	}
	cards := append([]poker.Card(nil), c.Deck[:n]...)
	c.Deck = c.Deck[n:]
	return cards
}

// burnCard discards the top card before a street is dealt.
func (c *Context) burnCard() {
	if len(c.Deck) > 0 {
		c.Deck = c.Deck[1:]
	}
}
