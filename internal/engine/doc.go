// Package engine implements the no-limit Texas Hold'em hand state machine.
//
// The engine is pure: every entry point takes a *Context, never mutates it,
// and returns a Result carrying the successor context plus the events and
// effects the caller must process. The session layer owns the per-game mutex
// and feeds results to the effect processor; the engine itself knows nothing
// about transports, storage or timers beyond the effects it requests.
//
// A hand moves through the phases waiting -> preflop -> flop -> turn ->
// river -> showdown -> complete. Betting rounds are driven by Apply, street
// and showdown transitions by AdvancePhase (normally fired from scheduled
// transition effects), and new hands by StartHand.
package engine
