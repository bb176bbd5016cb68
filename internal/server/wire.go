package server

import (
	"time"
)

// Client message types. Betting actions travel as a single "action" message
// with the kind in the Action field; the acting seat is derived from the
// connection's identity, never from the payload.
const (
	MsgAction      = "action"
	MsgCreateGame  = "create_game"
	MsgJoinGame    = "join_game"
	MsgLeaveGame   = "leave_game"
	MsgRequestSeat = "request_seat"
	MsgHostSeat    = "host_seat"
	MsgAdmin       = "admin"
	MsgJoinQueue   = "join_queue"
	MsgLeaveQueue  = "leave_queue"
)

// ClientMessage is the single envelope for everything a client sends. Fields
// beyond Type are read per message type and ignored otherwise.
type ClientMessage struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId,omitempty"`
	JoinCode string `json:"joinCode,omitempty"`
	Spectate bool   `json:"spectate,omitempty"`
	Variant  string `json:"variant,omitempty"`

	// Betting and showdown reveals.
	Action string `json:"action,omitempty"`
	Amount int    `json:"amount,omitempty"`
	Index  int    `json:"index,omitempty"`

	// Host controls.
	Op         string `json:"op,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	Seat       int    `json:"seat,omitempty"`
	SmallBlind int    `json:"smallBlind,omitempty"`
	BigBlind   int    `json:"bigBlind,omitempty"`
}

// gameKey returns whichever identifier the client supplied. Join codes are
// accepted anywhere a game id is.
func (m *ClientMessage) gameKey() string {
	if m.GameID != "" {
		return m.GameID
	}
	return m.JoinCode
}

// ServerMessage wraps every event pushed to a client. Type carries the wire
// event name ("gameState", "PLAYER_ACTION", ...) and Data the event payload.
type ServerMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is the payload of an "error" event sent back to the offending
// connection only.
type ErrorData struct {
	Message string `json:"message"`
}
