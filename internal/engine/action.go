package engine

import "fmt"

// ActionKind identifies a betting-round move.
type ActionKind string

const (
	ActionFold  ActionKind = "fold"
	ActionCheck ActionKind = "check"
	ActionCall  ActionKind = "call"
	ActionBet   ActionKind = "bet"
	ActionRaise ActionKind = "raise"
	ActionAllIn ActionKind = "allin"
)

// Action is one player move. Amount is the bet size for bet, the raise
// increment above the call for raise, and ignored otherwise.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Amount int        `json:"amount,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionBet, ActionRaise:
		return fmt.Sprintf("%s %d", a.Kind, a.Amount)
	default:
		return string(a.Kind)
	}
}

// ParseActionKind maps a wire string to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch ActionKind(s) {
	case ActionFold, ActionCheck, ActionCall, ActionBet, ActionRaise, ActionAllIn:
		return ActionKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
}
