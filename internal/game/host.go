package game

import (
	"fmt"
	"time"

	"github.com/feltworks/cardroom/internal/engine"
)

// Admin operations a private-table host may issue.
const (
	AdminApprove   = "APPROVE"
	AdminReject    = "REJECT"
	AdminKick      = "KICK"
	AdminSetStack  = "SET_STACK"
	AdminSetBlinds = "SET_BLINDS"
	AdminPause     = "PAUSE"
	AdminResume    = "RESUME"
	AdminStartGame = "START_GAME"
)

// AdminCommand is one host control message. TargetID names the player for
// APPROVE, REJECT and KICK; Seat and Amount drive SET_STACK; SmallBlind and
// BigBlind drive SET_BLINDS.
type AdminCommand struct {
	Op         string `json:"op"`
	TargetID   string `json:"targetId,omitempty"`
	Seat       int    `json:"seat,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	SmallBlind int    `json:"smallBlind,omitempty"`
	BigBlind   int    `json:"bigBlind,omitempty"`
}

// authorizeHost gates admin operations: private tables only, host only.
// Caller holds the mutex.
func (s *Session) authorizeHost(callerID string) error {
	if !s.IsPrivate {
		return fmt.Errorf("%w: not a private game", engine.ErrUnauthorized)
	}
	if callerID != s.HostID {
		return engine.ErrUnauthorized
	}
	return nil
}

// approve seats a pending requester at the first open seat. They wait out
// the running hand. Caller holds the mutex.
func (s *Session) approve(userID string, now time.Time) (*engine.Player, error) {
	req, ok := s.takeRequest(userID)
	if !ok {
		return nil, fmt.Errorf("%w: no pending request for %s", engine.ErrInvalidAction, userID)
	}
	p, err := s.addPlayer(PlayerSpec{UserID: req.UserID, Name: req.Name}, s.ctx.Config.StartingStack, now)
	if err != nil {
		// Seat them again next time the host tries.
		s.pending = append(s.pending, req)
		return nil, err
	}
	delete(s.spectators, userID)
	return p, nil
}

// reject drops a pending seat request. Caller holds the mutex.
func (s *Session) reject(userID string) error {
	if _, ok := s.takeRequest(userID); !ok {
		return fmt.Errorf("%w: no pending request for %s", engine.ErrInvalidAction, userID)
	}
	return nil
}

// setStack rewrites a seated player's chips between hands. Caller holds
// the mutex.
func (s *Session) setStack(seat, amount int) (*engine.Player, error) {
	if s.ctx.Phase != engine.PhaseWaiting && s.ctx.Phase != engine.PhaseComplete {
		return nil, fmt.Errorf("%w: stacks change between hands", engine.ErrWrongPhase)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: stack cannot be negative", engine.ErrInvalidAction)
	}
	p := s.ctx.PlayerBySeat(seat)
	if p == nil || !p.AtTable() {
		return nil, fmt.Errorf("%w: seat %d", engine.ErrNotInGame, seat)
	}
	p.Chips = amount
	if amount > 0 && p.Status == engine.StatusEliminated {
		p.Status = engine.StatusWaitingForNextHand
	}
	return p, nil
}

// setBlinds stages a blind change for the next hand. Caller holds the mutex.
func (s *Session) setBlinds(sb, bb int) error {
	if sb <= 0 || sb > bb {
		return fmt.Errorf("%w: blinds must satisfy 0 < small <= big", engine.ErrInvalidAction)
	}
	s.nextBlinds = &[2]int{sb, bb}
	return nil
}

// applyPendingBlinds moves a staged blind change into the live config.
// Called right before a hand is dealt. Caller holds the mutex.
func (s *Session) applyPendingBlinds() {
	if s.nextBlinds == nil {
		return
	}
	s.ctx.Config.SmallBlind = s.nextBlinds[0]
	s.ctx.Config.BigBlind = s.nextBlinds[1]
	s.nextBlinds = nil
}

// selfSeat puts the host at the table. Only valid while they are unseated
// and a seat is open. Caller holds the mutex.
func (s *Session) selfSeat(callerID, name string, now time.Time) (*engine.Player, error) {
	if err := s.authorizeHost(callerID); err != nil {
		return nil, err
	}
	if p := s.ctx.PlayerByID(callerID); p != nil && p.AtTable() {
		return nil, ErrAlreadySeated
	}
	p, err := s.addPlayer(PlayerSpec{UserID: callerID, Name: name}, s.ctx.Config.StartingStack, now)
	if err != nil {
		return nil, err
	}
	delete(s.spectators, callerID)
	return p, nil
}

// transferHost hands the table to the longest-seated remaining human after
// the host departs. Returns the succession event, or false when nobody can
// take over and the game must finish. Caller holds the mutex.
func (s *Session) transferHost() (engine.HostChangedEvent, bool) {
	var heir *engine.Player
	for i := range s.ctx.Players {
		p := &s.ctx.Players[i]
		if p.IsBot || !p.AtTable() || p.ID == s.HostID {
			continue
		}
		if heir == nil || p.SeatedAt.Before(heir.SeatedAt) {
			heir = p
		}
	}
	if prev := s.ctx.PlayerByID(s.HostID); prev != nil {
		prev.IsHost = false
	}
	if heir == nil {
		return engine.HostChangedEvent{}, false
	}
	heir.IsHost = true
	s.HostID = heir.ID
	return engine.HostChangedEvent{PlayerID: heir.ID}, true
}
