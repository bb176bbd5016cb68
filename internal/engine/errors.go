package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAction rejects an action that is malformed or illegal in
	// the current betting state.
	ErrInvalidAction = errors.New("invalid action")

	// ErrNotYourTurn rejects an action from a seat other than the actor.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrNotInGame rejects an operation from a user without a seat.
	ErrNotInGame = errors.New("player not in game")

	// ErrUnauthorized rejects a host-only operation from a non-host.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrGameNotFound rejects an operation against an unknown game id.
	ErrGameNotFound = errors.New("game not found")

	// ErrGameFull rejects a join against a table with no open seat.
	ErrGameFull = errors.New("game is full")

	// ErrWrongPhase rejects an operation outside its legal phase.
	ErrWrongPhase = errors.New("wrong phase")
)

// InvariantError reports a chip-conservation or state-shape violation found
// by CheckInvariants. The session quarantines the game when it sees one.
type InvariantError struct {
	GameID     string
	HandNumber int
	Phase      Phase
	Detail     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in game %s hand %d (%s): %s",
		e.GameID, e.HandNumber, e.Phase, e.Detail)
}
