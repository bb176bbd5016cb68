// Package game owns live sessions: the per-game mutex, the effect
// processor, the registry with just-in-time rehydration, the heartbeat
// ticker, and the host control plane. The hand rules themselves live in
// internal/engine; this package decides when the engine runs and what
// happens with its results.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/feltworks/cardroom/internal/analytics"
	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/internal/store"
)

// Session lifecycle statuses, aligned with the persisted row statuses.
const (
	SessionWaiting  = store.StatusWaiting
	SessionStarting = store.StatusStarting
	SessionActive   = store.StatusActive
	SessionFinished = store.StatusFinished
)

var (
	// ErrAlreadyRequested means the user already has a pending seat request.
	ErrAlreadyRequested = errors.New("seat already requested")
	// ErrAlreadySeated means the user already holds a seat at this table.
	ErrAlreadySeated = errors.New("already seated")
	// ErrTableFull means no open seat remains.
	ErrTableFull = errors.New("table is full")
)

// SeatRequest is a pending join request on a private table.
type SeatRequest struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PlayerSpec describes one player to seat when a session is created.
type PlayerSpec struct {
	UserID string
	Name   string
	IsBot  bool
}

// Session is one live game. All fields below the mutex are guarded by it;
// every mutating path locks before touching the engine context.
type Session struct {
	mu sync.Mutex

	GameID    string
	JoinCode  string
	Status    string
	IsPrivate bool
	IsPaused  bool
	HostID    string

	ctx        *engine.Context
	rng        *rand.Rand
	spectators map[string]struct{}
	pending    []SeatRequest
	history    []string

	createdAt    time.Time
	lastActivity time.Time
	quarantined  bool

	// nextBlinds holds a SET_BLINDS change until the next hand starts.
	nextBlinds *[2]int

	// Per-session timers, replaced wholesale when rescheduled.
	transitionTimer *quartz.Timer
	botTimer        *quartz.Timer
	reconnectTimers map[string]*quartz.Timer

	// pendingTarget is the armed phase transition. It survives a timer
	// firing while the game is paused so resume can replay it.
	// PhaseWaiting means none.
	pendingTarget engine.Phase

	recorder      analytics.Recorder
	handStartedAt time.Time
	handHistoryAt int // index into history where the running hand began
}

func newSession(gameID string, cfg engine.Config, rng *rand.Rand, now time.Time) *Session {
	return &Session{
		GameID:          gameID,
		Status:          SessionWaiting,
		ctx:             engine.NewContext(gameID, cfg),
		rng:             rng,
		spectators:      make(map[string]struct{}),
		reconnectTimers: make(map[string]*quartz.Timer),
		createdAt:       now,
		lastActivity:    now,
	}
}

// touch records activity for the idle watchdog. Caller holds the mutex.
func (s *Session) touch(now time.Time) {
	s.lastActivity = now
}

// openSeat returns the lowest unoccupied seat, or 0 when full. Departed
// players keep their seat reserved until the next hand purges them.
func (s *Session) openSeat() int {
	taken := make(map[int]bool, len(s.ctx.Players))
	for i := range s.ctx.Players {
		taken[s.ctx.Players[i].Seat] = true
	}
	for seat := 1; seat <= s.ctx.Config.MaxPlayers; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return 0
}

// addPlayer seats a new player, or revives a departed roster entry in
// place. Caller holds the mutex.
func (s *Session) addPlayer(spec PlayerSpec, chips int, now time.Time) (*engine.Player, error) {
	if existing := s.ctx.PlayerByID(spec.UserID); existing != nil {
		if existing.AtTable() {
			return nil, ErrAlreadySeated
		}
		existing.Status = engine.StatusWaitingForNextHand
		existing.Name = spec.Name
		existing.SeatedAt = now
		if existing.Chips == 0 && !s.ctx.Phase.Betting() {
			existing.Chips = chips
		}
		return existing, nil
	}

	seat := s.openSeat()
	if seat == 0 {
		return nil, ErrTableFull
	}
	s.ctx.Players = append(s.ctx.Players, engine.Player{
		ID:       spec.UserID,
		Name:     spec.Name,
		Seat:     seat,
		IsBot:    spec.IsBot,
		IsHost:   spec.UserID == s.HostID,
		Chips:    chips,
		Status:   engine.StatusWaitingForNextHand,
		SeatedAt: now,
	})
	return &s.ctx.Players[len(s.ctx.Players)-1], nil
}

// addPlayers seats the whole list or nothing.
func (s *Session) addPlayers(specs []PlayerSpec, chips int, now time.Time) error {
	for _, spec := range specs {
		if p := s.ctx.PlayerByID(spec.UserID); p != nil && p.AtTable() {
			return fmt.Errorf("%w: %s", ErrAlreadySeated, spec.UserID)
		}
	}
	open := 0
	taken := make(map[int]bool, len(s.ctx.Players))
	for i := range s.ctx.Players {
		taken[s.ctx.Players[i].Seat] = true
	}
	for seat := 1; seat <= s.ctx.Config.MaxPlayers; seat++ {
		if !taken[seat] {
			open++
		}
	}
	if open < len(specs) {
		return ErrTableFull
	}
	for _, spec := range specs {
		if _, err := s.addPlayer(spec, chips, now); err != nil {
			return err
		}
	}
	return nil
}

// requestSeat appends a pending join request for the host to review.
func (s *Session) requestSeat(userID, name string, now time.Time) error {
	if !s.IsPrivate {
		return fmt.Errorf("%w: table does not take seat requests", engine.ErrInvalidAction)
	}
	if p := s.ctx.PlayerByID(userID); p != nil && p.AtTable() {
		return ErrAlreadySeated
	}
	for _, req := range s.pending {
		if req.UserID == userID {
			return ErrAlreadyRequested
		}
	}
	s.pending = append(s.pending, SeatRequest{
		UserID:      userID,
		Name:        name,
		Kind:        "join",
		RequestedAt: now,
	})
	return nil
}

// takeRequest removes and returns the pending request for userID.
func (s *Session) takeRequest(userID string) (SeatRequest, bool) {
	for i, req := range s.pending {
		if req.UserID == userID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return req, true
		}
	}
	return SeatRequest{}, false
}

// rosterIDs returns the non-bot players still at the table, the set the
// durable store reserves.
func (s *Session) rosterIDs() []string {
	var ids []string
	for i := range s.ctx.Players {
		p := &s.ctx.Players[i]
		if !p.IsBot && p.AtTable() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// stopTimersLocked cancels every pending timer for the session.
func (s *Session) stopTimersLocked() {
	if s.transitionTimer != nil {
		s.transitionTimer.Stop()
		s.transitionTimer = nil
	}
	s.pendingTarget = engine.PhaseWaiting
	if s.botTimer != nil {
		s.botTimer.Stop()
		s.botTimer = nil
	}
	for userID, timer := range s.reconnectTimers {
		timer.Stop()
		delete(s.reconnectTimers, userID)
	}
}

// sessionSnapshot is the opaque state blob persisted in the game row.
type sessionSnapshot struct {
	Context   *engine.Context `json:"context"`
	History   []string        `json:"history"`
	HostID    string          `json:"hostId"`
	IsPrivate bool            `json:"isPrivate"`
	IsPaused  bool            `json:"isPaused"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// snapshotRow builds the persistable row. Caller holds the mutex.
func (s *Session) snapshotRow() store.GameRow {
	state, err := json.Marshal(sessionSnapshot{
		Context:   s.ctx,
		History:   s.history,
		HostID:    s.HostID,
		IsPrivate: s.IsPrivate,
		IsPaused:  s.IsPaused,
		Status:    s.Status,
		CreatedAt: s.createdAt,
	})
	if err != nil {
		// Context and history are plain data; a marshal failure here is a
		// programming error, and the row still carries the roster.
		state = nil
	}
	return store.GameRow{
		ID:        s.GameID,
		Variant:   s.ctx.Config.Variant,
		Status:    s.Status,
		State:     state,
		PlayerIDs: s.rosterIDs(),
		JoinCode:  s.JoinCode,
		HostID:    s.HostID,
		IsPrivate: s.IsPrivate,
		IsPaused:  s.IsPaused,
		CreatedAt: s.createdAt,
	}
}

// sessionFromRow rebuilds a session from a persisted row. Rows whose state
// blob is missing or has no roster get a fresh context seating the row's
// players, per the rehydration contract. Loaded sessions start with no
// pending timers.
func sessionFromRow(row store.GameRow, cfg engine.Config, rng *rand.Rand, now time.Time) *Session {
	s := newSession(row.ID, cfg, rng, now)
	s.JoinCode = row.JoinCode
	s.Status = row.Status
	s.IsPrivate = row.IsPrivate
	s.IsPaused = row.IsPaused
	s.HostID = row.HostID
	if !row.CreatedAt.IsZero() {
		s.createdAt = row.CreatedAt
	}

	var snap sessionSnapshot
	if len(row.State) > 0 && json.Unmarshal(row.State, &snap) == nil &&
		snap.Context != nil && len(snap.Context.Players) > 0 {
		s.ctx = snap.Context
		s.history = snap.History
		if snap.Context.Config.Variant != "" {
			return s
		}
		s.ctx.Config = cfg
		return s
	}

	for i, userID := range row.PlayerIDs {
		s.ctx.Players = append(s.ctx.Players, engine.Player{
			ID:       userID,
			Name:     userID,
			Seat:     i + 1,
			IsHost:   userID == row.HostID,
			Chips:    cfg.StartingStack,
			Status:   engine.StatusSeated,
			SeatedAt: now,
		})
	}
	return s
}
