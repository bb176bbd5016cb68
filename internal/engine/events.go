package engine

import "github.com/feltworks/cardroom/poker"

// Event is a broadcastable consequence of an engine call. Name returns the
// stable wire identifier clients switch on; the struct itself is the payload.
type Event interface {
	Name() string
}

// DealStreetEvent announces new community cards.
type DealStreetEvent struct {
	Street string       `json:"street"`
	Cards  []poker.Card `json:"cards"`
}

func (DealStreetEvent) Name() string { return "DEAL_STREET" }

// PlayerActionEvent echoes a validated betting action to the table.
type PlayerActionEvent struct {
	PlayerID string     `json:"playerId"`
	Seat     int        `json:"seat"`
	Kind     ActionKind `json:"action"`
	Amount   int        `json:"amount,omitempty"`
	AllIn    bool       `json:"allIn,omitempty"`
}

func (PlayerActionEvent) Name() string { return "PLAYER_ACTION" }

// PlayerStatusEvent reports a roster status change such as a disconnect,
// a reconnect or a leave.
type PlayerStatusEvent struct {
	PlayerID string       `json:"playerId"`
	Seat     int          `json:"seat,omitempty"`
	Status   PlayerStatus `json:"status"`
}

func (PlayerStatusEvent) Name() string { return "PLAYER_STATUS_UPDATE" }

// TurnTimerEvent starts the client-side action countdown.
type TurnTimerEvent struct {
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
	Deadline int64  `json:"deadline"` // unix milliseconds
	Millis   int64  `json:"millis"`
}

func (TurnTimerEvent) Name() string { return "turn_timer_started" }

// RunoutEvent marks a hand resolving without a contested betting sequence:
// either the remaining streets are being dealt with everyone all-in, or
// everyone folded to one player.
type RunoutEvent struct {
	WinnerID string       `json:"winnerId,omitempty"`
	Amount   int          `json:"amount,omitempty"`
	Board    []poker.Card `json:"board"`
	Reason   string       `json:"reason"`
}

func (RunoutEvent) Name() string { return "HAND_RUNOUT" }

// PotAwardedEvent reports one pot resolving at showdown.
type PotAwardedEvent struct {
	PotIndex  int            `json:"potIndex"`
	Amount    int            `json:"amount"`
	WinnerIDs []string       `json:"winnerIds"`
	Shares    map[string]int `json:"shares"`
	HandName  string         `json:"handName,omitempty"`
}

func (PotAwardedEvent) Name() string { return "POT_AWARDED" }

// ShowdownRevealEvent publishes the hole cards a contender shows.
type ShowdownRevealEvent struct {
	PlayerID string       `json:"playerId"`
	Seat     int          `json:"seat"`
	Cards    []poker.Card `json:"cards"`
	HandName string       `json:"handName,omitempty"`
}

func (ShowdownRevealEvent) Name() string { return "SHOWDOWN_REVEAL" }

// CardRevealEvent publishes a voluntary single-card reveal after a hand
// ends without a showdown.
type CardRevealEvent struct {
	PlayerID string     `json:"playerId"`
	Seat     int        `json:"seat"`
	Index    int        `json:"index"`
	Card     poker.Card `json:"card"`
}

func (CardRevealEvent) Name() string { return "CARD_REVEALED" }

// PlayerEliminatedEvent fires when a player busts to zero chips.
type PlayerEliminatedEvent struct {
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
}

func (PlayerEliminatedEvent) Name() string { return "PLAYER_ELIMINATED" }

// SeatVacatedEvent fires when a seat opens up between hands.
type SeatVacatedEvent struct {
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
}

func (SeatVacatedEvent) Name() string { return "SEAT_VACATED" }

// GameFinishedEvent ends the table.
type GameFinishedEvent struct {
	WinnerID string `json:"winnerId,omitempty"`
	Reason   string `json:"reason"`
}

func (GameFinishedEvent) Name() string { return "GAME_FINISHED" }

// HostChangedEvent reports host succession.
type HostChangedEvent struct {
	PlayerID string `json:"playerId"`
}

func (HostChangedEvent) Name() string { return "HOST_CHANGED" }
