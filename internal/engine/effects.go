package engine

import "time"

// Effect is a side effect the engine needs the session layer to perform.
// The engine never touches storage, timers or payouts itself; it describes
// them and the effect processor carries them out.
type Effect interface {
	effect()
}

// Persist asks for the successor context to be written to the store.
type Persist struct{}

func (Persist) effect() {}

// ScheduleTransition asks for AdvancePhase(Target) to run after Delay,
// replacing any transition already pending for the game.
type ScheduleTransition struct {
	Target Phase
	Delay  time.Duration
}

func (ScheduleTransition) effect() {}

// EndGame tears the table down once broadcasts have gone out.
type EndGame struct {
	Reason   string
	WinnerID string
}

func (EndGame) effect() {}

// Result is what every engine entry point returns: the successor context,
// the events to broadcast, the effects to process, and history lines for
// the hand record. The input context is never mutated.
type Result struct {
	Context *Context
	Events  []Event
	Effects []Effect
	History []string
}

func (r *Result) addEvent(e Event)       { r.Events = append(r.Events, e) }
func (r *Result) addEffect(e Effect)     { r.Effects = append(r.Effects, e) }
func (r *Result) addHistory(line string) { r.History = append(r.History, line) }
