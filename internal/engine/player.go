package engine

import (
	"time"

	"github.com/feltworks/cardroom/poker"
)

// PlayerStatus tracks a player's relationship to the table across hands.
type PlayerStatus string

const (
	StatusSeated             PlayerStatus = "SEATED"
	StatusWaitingForNextHand PlayerStatus = "WAITING_FOR_NEXT_HAND"
	StatusActive             PlayerStatus = "ACTIVE"
	StatusDisconnected       PlayerStatus = "DISCONNECTED"
	StatusLeft               PlayerStatus = "LEFT"
	StatusRemoved            PlayerStatus = "REMOVED"
	StatusEliminated         PlayerStatus = "ELIMINATED"
)

// Player is one seat at the table. Player values live inside the Context and
// are copied with it; the session layer never holds pointers into a Context
// it has already replaced.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Seat   int    `json:"seat"`
	IsBot  bool   `json:"isBot"`
	IsHost bool   `json:"isHost"`

	Chips      int `json:"chips"`
	CurrentBet int `json:"currentBet"` // this betting round
	TotalBet   int `json:"totalBet"`   // this hand

	HoleCards []poker.Card `json:"holeCards,omitempty"`

	Folded        bool `json:"folded"`
	AllIn         bool `json:"allIn"`
	EligibleToBet bool `json:"eligibleToBet"`
	HasActed      bool `json:"hasActed"`

	Status         PlayerStatus `json:"status"`
	Revealed       []int        `json:"revealed,omitempty"` // hole card indices shown at showdown
	LastAction     string       `json:"lastAction,omitempty"`
	SeatedAt       time.Time    `json:"seatedAt"`
	DisconnectedAt time.Time    `json:"disconnectedAt,omitempty"`
}

// DealtIn reports whether the player takes part in new hands: still at the
// table and holding chips. Disconnected players stay dealt in and fall to the
// action deadline.
func (p *Player) DealtIn() bool {
	switch p.Status {
	case StatusSeated, StatusWaitingForNextHand, StatusActive, StatusDisconnected:
		return p.Chips > 0
	default:
		return false
	}
}

// AtTable reports whether the player still occupies a seat, regardless of
// whether they can play the next hand.
func (p *Player) AtTable() bool {
	return p.Status != StatusLeft && p.Status != StatusRemoved
}

// CanAct reports whether the player satisfies the actor eligibility
// predicate: contending, not all-in, chips behind, and owed a decision.
func (p *Player) CanAct() bool {
	return !p.Folded && !p.AllIn && p.Chips > 0 && p.EligibleToBet && p.AtTable()
}

// Contending reports whether the player can still win pots this hand.
func (p *Player) Contending() bool {
	return !p.Folded && len(p.HoleCards) == 2
}
