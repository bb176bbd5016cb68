// Package analytics publishes completed hands to Kafka and drains them into
// ClickHouse. The pipeline is optional; when disabled the server uses the
// Nop publisher and pays nothing.
package analytics

import (
	"time"
)

// ActionRecord is one player decision inside a hand, flattened for
// behavioral queries (timing patterns, bet sizing, bot detection).
type ActionRecord struct {
	GameID    string    `json:"game_id"`
	HandIndex int       `json:"hand_index"`
	PlayerID  string    `json:"player_id"`
	Seat      int       `json:"seat"`
	Street    string    `json:"street"`
	Action    string    `json:"action"`
	Amount    int       `json:"amount,omitempty"`
	PotSize   int       `json:"pot_size"`
	StackSize int       `json:"stack_size"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

// HandSummary is the per-hand rollup published once the hand completes.
// Actions ride along so the sink writes both tables from one message.
type HandSummary struct {
	GameID     string         `json:"game_id"`
	HandIndex  int            `json:"hand_index"`
	Variant    string         `json:"variant"`
	SmallBlind int            `json:"small_blind"`
	BigBlind   int            `json:"big_blind"`
	PotTotal   int            `json:"pot_total"`
	Players    int            `json:"players"`
	Showdown   bool           `json:"showdown"`
	Winners    []string       `json:"winners"`
	Board      []string       `json:"board"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Actions    []ActionRecord `json:"actions"`
}

// Recorder accumulates the rows for the hand in progress. The session layer
// owns one per game and feeds it under the session mutex, so no locking
// here.
type Recorder struct {
	actions   []ActionRecord
	startedAt time.Time
	potPeak   int
	winners   []string
	showdown  bool
}

// StartHand resets the recorder for a new hand.
func (r *Recorder) StartHand(startedAt time.Time) {
	r.actions = r.actions[:0]
	r.startedAt = startedAt
	r.potPeak = 0
	r.winners = nil
	r.showdown = false
}

// RecordAction appends one decision.
func (r *Recorder) RecordAction(rec ActionRecord) {
	r.actions = append(r.actions, rec)
	if rec.PotSize > r.potPeak {
		r.potPeak = rec.PotSize
	}
}

// RecordAward notes a pot winner; called once per awarded pot.
func (r *Recorder) RecordAward(winnerIDs []string, atShowdown bool) {
	r.showdown = r.showdown || atShowdown
	for _, id := range winnerIDs {
		if !contains(r.winners, id) {
			r.winners = append(r.winners, id)
		}
	}
}

// Finish builds the summary for the completed hand.
func (r *Recorder) Finish(gameID string, handIndex int, variant string, smallBlind, bigBlind, potTotal, players int, board []string, endedAt time.Time) HandSummary {
	return HandSummary{
		GameID:     gameID,
		HandIndex:  handIndex,
		Variant:    variant,
		SmallBlind: smallBlind,
		BigBlind:   bigBlind,
		PotTotal:   potTotal,
		Players:    players,
		Showdown:   r.showdown,
		Winners:    append([]string(nil), r.winners...),
		Board:      append([]string(nil), board...),
		StartedAt:  r.startedAt,
		EndedAt:    endedAt,
		Actions:    append([]ActionRecord(nil), r.actions...),
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
