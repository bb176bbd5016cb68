package game

import (
	"time"

	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/poker"
)

// maskedCard is what contenders' hidden hole cards render as.
const maskedCard = "??"

// PotView is a pot as shown to clients.
type PotView struct {
	Amount   int      `json:"amount"`
	Eligible []string `json:"eligible"`
}

// PlayerView is one seat as seen by a particular viewer.
type PlayerView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Seat       int      `json:"seat"`
	Chips      int      `json:"chips"`
	CurrentBet int      `json:"currentBet"`
	TotalBet   int      `json:"totalBet"`
	Folded     bool     `json:"folded,omitempty"`
	AllIn      bool     `json:"allIn,omitempty"`
	IsBot      bool     `json:"isBot,omitempty"`
	IsHost     bool     `json:"isHost,omitempty"`
	Status     string   `json:"status"`
	LastAction string   `json:"lastAction,omitempty"`
	HoleCards  []string `json:"holeCards,omitempty"`
}

// StateView is the gameState payload. Deck never appears; hole cards are
// filtered per viewer.
type StateView struct {
	GameID           string          `json:"gameId"`
	JoinCode         string          `json:"joinCode,omitempty"`
	Status           string          `json:"status"`
	Phase            string          `json:"currentPhase"`
	HandNumber       int             `json:"handNumber"`
	ButtonSeat       int             `json:"buttonSeat"`
	CurrentActorSeat int             `json:"currentActorSeat"`
	ActionDeadline   int64           `json:"actionDeadline,omitempty"` // unix ms
	MinRaise         int             `json:"minRaise"`
	Community        []string        `json:"communityCards"`
	Pots             []PotView       `json:"pots"`
	Players          []PlayerView    `json:"players"`
	IsPrivate        bool            `json:"isPrivate,omitempty"`
	IsPaused         bool            `json:"isPaused,omitempty"`
	HostID           string          `json:"hostId,omitempty"`
	Spectators       int             `json:"spectators"`
	YourSeat         int             `json:"yourSeat,omitempty"`
	PendingRequests  []SeatRequest   `json:"pendingRequests,omitempty"`
	SmallBlind       int             `json:"smallBlind"`
	BigBlind         int             `json:"bigBlind"`
	Timestamp        int64           `json:"timestamp"`
}

// viewFor renders the session for one viewer. An empty viewerID produces
// the spectator view. Caller holds the session mutex.
func (s *Session) viewFor(viewerID string, now time.Time) StateView {
	c := s.ctx
	view := StateView{
		GameID:           s.GameID,
		Status:           s.Status,
		Phase:            c.Phase.String(),
		HandNumber:       c.HandNumber,
		ButtonSeat:       c.ButtonSeat,
		CurrentActorSeat: c.CurrentActorSeat,
		MinRaise:         c.MinRaise,
		Community:        poker.CardStrings(c.Community),
		IsPrivate:        s.IsPrivate,
		IsPaused:         s.IsPaused,
		HostID:           s.HostID,
		Spectators:       len(s.spectators),
		SmallBlind:       c.Config.SmallBlind,
		BigBlind:         c.Config.BigBlind,
		Timestamp:        now.UnixMilli(),
	}
	if s.IsPrivate {
		view.JoinCode = s.JoinCode
	}
	if !c.ActionDeadline.IsZero() {
		view.ActionDeadline = c.ActionDeadline.UnixMilli()
	}
	for _, pot := range c.Pots {
		view.Pots = append(view.Pots, PotView{
			Amount:   pot.Amount,
			Eligible: append([]string(nil), pot.Eligible...),
		})
	}
	for i := range c.Players {
		p := &c.Players[i]
		if !p.AtTable() {
			continue
		}
		pv := PlayerView{
			ID:         p.ID,
			Name:       p.Name,
			Seat:       p.Seat,
			Chips:      p.Chips,
			CurrentBet: p.CurrentBet,
			TotalBet:   p.TotalBet,
			Folded:     p.Folded,
			AllIn:      p.AllIn,
			IsBot:      p.IsBot,
			IsHost:     p.IsHost,
			Status:     string(p.Status),
			LastAction: p.LastAction,
			HoleCards:  visibleHoleCards(p, viewerID),
		}
		if p.ID == viewerID {
			view.YourSeat = p.Seat
		}
		view.Players = append(view.Players, pv)
	}
	if viewerID != "" && viewerID == s.HostID {
		view.PendingRequests = append([]SeatRequest(nil), s.pending...)
	}
	return view
}

// visibleHoleCards applies the masking rules: the viewer sees their own
// cards, everyone sees cards revealed at showdown, contenders' hidden
// cards render as backs, and folded or undealt hands are absent.
func visibleHoleCards(p *engine.Player, viewerID string) []string {
	if len(p.HoleCards) == 0 {
		return nil
	}
	if p.ID == viewerID {
		return poker.CardStrings(p.HoleCards)
	}

	cards := make([]string, len(p.HoleCards))
	shown := 0
	for i := range cards {
		cards[i] = maskedCard
	}
	for _, idx := range p.Revealed {
		if idx >= 0 && idx < len(cards) {
			cards[idx] = p.HoleCards[idx].String()
			shown++
		}
	}
	if shown == 0 && p.Folded {
		return nil
	}
	return cards
}
