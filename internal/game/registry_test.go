package game

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/internal/joincode"
	"github.com/feltworks/cardroom/internal/metrics"
	"github.com/feltworks/cardroom/internal/store"
)

type record struct {
	target  string
	event   string
	payload any
}

// fakeBroadcast records every emission so tests can assert on the wire
// traffic without a websocket in sight.
type fakeBroadcast struct {
	mu      sync.Mutex
	records []record
}

func (f *fakeBroadcast) ToGame(gameID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record{target: "game:" + gameID, event: event, payload: payload})
}

func (f *fakeBroadcast) ToUser(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record{target: "user:" + userID, event: event, payload: payload})
}

func (f *fakeBroadcast) byEvent(event string) []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []record
	for _, r := range f.records {
		if r.event == event {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeBroadcast) lastStateFor(userID string) (StateView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.event == "gameState" && r.target == "user:"+userID {
			if v, ok := r.payload.(StateView); ok {
				return v, true
			}
		}
	}
	return StateView{}, false
}

func (f *fakeBroadcast) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = nil
}

type fixture struct {
	store *store.Memory
	clock *quartz.Mock
	cast  *fakeBroadcast
	m     *metrics.Metrics
	reg   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	cast := &fakeBroadcast{}
	mock := quartz.NewMock(t)
	m := metrics.New(prometheus.NewRegistry())
	variants := map[string]engine.Config{
		"heads-up": {
			Variant:              "heads-up",
			SmallBlind:           5,
			BigBlind:             10,
			StartingStack:        1000,
			MaxPlayers:           2,
			TurnTimer:            30 * time.Second,
			PhaseTransitionDelay: time.Second,
			RunoutDelay:          2 * time.Second,
			ShowdownDelay:        3 * time.Second,
			Category:             engine.CategoryCasual,
		},
		"cash-hu": {
			Variant:              "cash-hu",
			SmallBlind:           5,
			BigBlind:             10,
			StartingStack:        500,
			MaxPlayers:           2,
			BuyIn:                500,
			TurnTimer:            30 * time.Second,
			PhaseTransitionDelay: time.Second,
			RunoutDelay:          2 * time.Second,
			ShowdownDelay:        3 * time.Second,
			Category:             engine.CategoryCash,
		},
	}
	reg := NewRegistry(Options{
		Store:     st,
		Broadcast: cast,
		Variants:  variants,
		Logger:    log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}),
		Clock:     mock,
		Metrics:   m,
		ReturnURL: "https://felt.example/lobby",
	})
	return &fixture{store: st, clock: mock, cast: cast, m: m, reg: reg}
}

func (f *fixture) session(t *testing.T, gameID string) *Session {
	t.Helper()
	s := f.reg.find(gameID)
	require.NotNil(t, s, "session %s not registered", gameID)
	return s
}

// matchedGame reserves and connects a two-player game and returns its id.
func (f *fixture) matchedGame(t *testing.T, variant string) string {
	t.Helper()
	ctx := context.Background()
	gameID := "game-" + t.Name()
	_, err := f.reg.CreateFromMatch(ctx, gameID, variant, []PlayerSpec{
		{UserID: "alice", Name: "Alice"},
		{UserID: "bob", Name: "Bob"},
	})
	require.NoError(t, err)
	_, err = f.reg.JoinGame(ctx, gameID, "alice", "Alice")
	require.NoError(t, err)
	_, err = f.reg.JoinGame(ctx, gameID, "bob", "Bob")
	require.NoError(t, err)
	return gameID
}

// privateGame creates a private table with hank hosting seat 1, gina
// approved into seat 2, and returns (gameID, joinCode).
func (f *fixture) privateGame(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	view, err := f.reg.CreatePrivateGame(ctx, "hank", "Hank", "heads-up")
	require.NoError(t, err)
	require.NoError(t, f.reg.HostSeat(ctx, view.GameID, "hank", "Hank"))
	_, err = f.reg.JoinGame(ctx, view.JoinCode, "gina", "Gina")
	require.NoError(t, err)
	require.NoError(t, f.reg.RequestSeat(ctx, view.GameID, "gina", "Gina"))
	require.NoError(t, f.reg.HandleAdmin(ctx, view.GameID, "hank", AdminCommand{Op: AdminApprove, TargetID: "gina"}))
	return view.GameID, view.JoinCode
}

func TestMatchedGameDealsWhenAllConnect(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	code, err := fix.reg.CreateFromMatch(ctx, "g1", "heads-up", []PlayerSpec{
		{UserID: "alice", Name: "Alice"},
		{UserID: "bob", Name: "Bob"},
	})
	require.NoError(t, err)
	require.NoError(t, joincode.Validate(code))

	view, err := fix.reg.JoinGame(ctx, "g1", "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, SessionStarting, view.Status, "one of two connected, no deal yet")
	assert.Zero(t, view.HandNumber)

	view, err = fix.reg.JoinGame(ctx, "g1", "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, view.Status)
	assert.Equal(t, 1, view.HandNumber)
	assert.Equal(t, "preflop", view.Phase)
	assert.Equal(t, 1, view.CurrentActorSeat, "heads-up button posts small and acts first")
	assert.NotZero(t, view.ActionDeadline)

	// Bob sees his own cards and Alice's backs.
	require.Len(t, view.Players, 2)
	for _, p := range view.Players {
		switch p.ID {
		case "bob":
			require.Len(t, p.HoleCards, 2)
			assert.NotEqual(t, "??", p.HoleCards[0])
		case "alice":
			assert.Equal(t, []string{"??", "??"}, p.HoleCards)
		}
	}

	timers := fix.cast.byEvent("turn_timer_started")
	require.NotEmpty(t, timers)
	tt, ok := timers[len(timers)-1].payload.(engine.TurnTimerEvent)
	require.True(t, ok)
	assert.Equal(t, 1, tt.Seat)
	assert.Equal(t, int64(30000), tt.Millis)

	// A spectator joining by code sees only card backs.
	specView, err := fix.reg.JoinGame(ctx, strings.ToLower(code), "watcher", "Watcher")
	require.NoError(t, err)
	assert.Zero(t, specView.YourSeat)
	for _, p := range specView.Players {
		assert.Equal(t, []string{"??", "??"}, p.HoleCards, "spectators never see live cards")
	}

	// Matched tables have no host, so admin commands bounce.
	err = fix.reg.HandleAdmin(ctx, "g1", "alice", AdminCommand{Op: AdminPause})
	require.ErrorIs(t, err, engine.ErrUnauthorized)
}

func TestDeadlineExpiryAutoFolds(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gameID := fix.matchedGame(t, "heads-up")
	s := fix.session(t, gameID)

	s.mu.Lock()
	actorSeat := s.ctx.CurrentActorSeat
	deadline := s.ctx.ActionDeadline
	s.mu.Unlock()
	require.Equal(t, 1, actorSeat)
	require.False(t, deadline.IsZero())

	// One second in: the deadline still has 29s plus grace to run.
	fix.clock.Advance(time.Second).MustWait(ctx)
	fix.reg.tick()
	s.mu.Lock()
	require.Equal(t, 1, s.ctx.CurrentActorSeat)
	s.mu.Unlock()

	// Cross deadline + 1s grace exactly.
	fix.clock.Advance(30 * time.Second).MustWait(ctx)
	fix.reg.tick()

	s.mu.Lock()
	alice := s.ctx.PlayerByID("alice")
	bob := s.ctx.PlayerByID("bob")
	phase := s.ctx.Phase
	pending := s.pendingTarget
	s.mu.Unlock()

	require.True(t, alice.Folded)
	assert.Equal(t, engine.PhaseShowdown, phase, "fold to one resolves immediately")
	assert.Equal(t, engine.PhaseComplete, pending)
	assert.Equal(t, 995, alice.Chips)
	assert.Equal(t, 1005, bob.Chips, "big blind collects both blinds")
	assert.Equal(t, float64(1), testutil.ToFloat64(fix.m.AutoFolds))

	folds := fix.cast.byEvent("PLAYER_ACTION")
	require.NotEmpty(t, folds)
	pa, ok := folds[len(folds)-1].payload.(engine.PlayerActionEvent)
	require.True(t, ok)
	assert.Equal(t, engine.ActionFold, pa.Kind)
	assert.Equal(t, 1, pa.Seat)
	require.NotEmpty(t, fix.cast.byEvent("HAND_RUNOUT"))

	// Showdown delay then inter-hand delay deal the next hand.
	fix.clock.Advance(3 * time.Second).MustWait(ctx)
	fix.clock.Advance(time.Second).MustWait(ctx)
	s.mu.Lock()
	require.Equal(t, 2, s.ctx.HandNumber)
	assert.Equal(t, 2, s.ctx.ButtonSeat, "button rotates")
	s.mu.Unlock()
}

func TestPrivateTableSeatFlow(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	view, err := fix.reg.CreatePrivateGame(ctx, "hank", "Hank", "heads-up")
	require.NoError(t, err)
	require.Len(t, view.JoinCode, 5)
	assert.True(t, view.IsPrivate)
	assert.Equal(t, SessionWaiting, view.Status)
	assert.Equal(t, "hank", view.HostID)
	assert.Empty(t, view.Players, "host spectates until they take a seat")

	require.NoError(t, fix.reg.HostSeat(ctx, view.GameID, "hank", "Hank"))

	guestView, err := fix.reg.JoinGame(ctx, view.JoinCode, "gina", "Gina")
	require.NoError(t, err)
	assert.Zero(t, guestView.YourSeat)
	assert.Empty(t, guestView.PendingRequests, "requests are host-only")

	fix.cast.reset()
	require.NoError(t, fix.reg.RequestSeat(ctx, view.GameID, "gina", "Gina"))
	hostView, ok := fix.cast.lastStateFor("hank")
	require.True(t, ok, "host is told about pending requests")
	require.Len(t, hostView.PendingRequests, 1)
	assert.Equal(t, "gina", hostView.PendingRequests[0].UserID)

	// Only the host may rule on requests.
	err = fix.reg.HandleAdmin(ctx, view.GameID, "gina", AdminCommand{Op: AdminApprove, TargetID: "gina"})
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	require.NoError(t, fix.reg.HandleAdmin(ctx, view.GameID, "hank", AdminCommand{Op: AdminApprove, TargetID: "gina"}))
	err = fix.reg.HandleAdmin(ctx, view.GameID, "hank", AdminCommand{Op: AdminApprove, TargetID: "gina"})
	require.Error(t, err, "request was consumed")

	s := fix.session(t, view.GameID)
	s.mu.Lock()
	gina := s.ctx.PlayerByID("gina")
	s.mu.Unlock()
	require.NotNil(t, gina)
	assert.Equal(t, 2, gina.Seat)
	assert.Equal(t, 1000, gina.Chips)

	require.NoError(t, fix.reg.HandleAdmin(ctx, view.GameID, "hank", AdminCommand{Op: AdminStartGame}))
	s.mu.Lock()
	assert.Equal(t, 1, s.ctx.HandNumber)
	s.mu.Unlock()
}

func TestHostStackAndBlindControls(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID, _ := fix.privateGame(t)
	s := fix.session(t, gameID)

	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank",
		AdminCommand{Op: AdminSetStack, Seat: 2, Amount: 5000}))
	s.mu.Lock()
	assert.Equal(t, 5000, s.ctx.PlayerByID("gina").Chips)
	s.mu.Unlock()

	// Blind changes wait for the next deal.
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank",
		AdminCommand{Op: AdminSetBlinds, SmallBlind: 25, BigBlind: 50}))
	s.mu.Lock()
	assert.Equal(t, 5, s.ctx.Config.SmallBlind)
	s.mu.Unlock()

	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminStartGame}))
	s.mu.Lock()
	assert.Equal(t, 25, s.ctx.Config.SmallBlind)
	assert.Equal(t, 50, s.ctx.Config.BigBlind)
	assert.Equal(t, 100, s.ctx.MinRaise)
	s.mu.Unlock()

	// No stack surgery while a hand runs.
	err := fix.reg.HandleAdmin(ctx, gameID, "hank",
		AdminCommand{Op: AdminSetStack, Seat: 2, Amount: 100})
	require.ErrorIs(t, err, engine.ErrWrongPhase)
}

func TestPauseFreezesDeadlineAndResumeRearms(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gameID, _ := fix.privateGame(t)
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminStartGame}))
	s := fix.session(t, gameID)

	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminPause}))
	s.mu.Lock()
	actor := s.ctx.CurrentActorSeat
	deadline := s.ctx.ActionDeadline
	paused := s.IsPaused
	s.mu.Unlock()
	require.True(t, paused)
	require.NotZero(t, actor, "the turn survives the pause")
	require.True(t, deadline.IsZero(), "no deadline may stand while paused")

	// Actions are refused and time cannot fold anyone.
	err := fix.reg.HandleAction(ctx, gameID, "hank", engine.ActionFold, 0)
	require.ErrorIs(t, err, engine.ErrInvalidAction)
	fix.clock.Advance(10 * time.Minute).MustWait(ctx)
	fix.reg.tick()
	s.mu.Lock()
	require.False(t, s.ctx.PlayerBySeat(actor).Folded)
	s.mu.Unlock()

	fix.cast.reset()
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminResume}))
	s.mu.Lock()
	assert.Equal(t, actor, s.ctx.CurrentActorSeat)
	assert.Equal(t, fix.clock.Now().Add(30*time.Second), s.ctx.ActionDeadline)
	s.mu.Unlock()
	require.NotEmpty(t, fix.cast.byEvent("turn_timer_started"), "countdown restarts for the same seat")
}

func TestPauseHoldsScheduledTransition(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gameID, _ := fix.privateGame(t)
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminStartGame}))
	s := fix.session(t, gameID)

	// Host folds, hand resolves, the completion transition is armed.
	require.NoError(t, fix.reg.HandleAction(ctx, gameID, "hank", engine.ActionFold, 0))
	s.mu.Lock()
	require.Equal(t, engine.PhaseShowdown, s.ctx.Phase)
	require.Equal(t, engine.PhaseComplete, s.pendingTarget)
	s.mu.Unlock()

	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminPause}))

	// The timer fires into the pause and must not advance the phase. The
	// mock clock refuses to jump past a pending event, so advance onto the
	// 3s showdown timer first, then cover the remaining time.
	fix.clock.Advance(3 * time.Second).MustWait(ctx)
	fix.clock.Advance(2 * time.Second).MustWait(ctx)
	s.mu.Lock()
	require.Equal(t, engine.PhaseShowdown, s.ctx.Phase)
	require.Equal(t, engine.PhaseComplete, s.pendingTarget, "transition is held, not lost")
	s.mu.Unlock()

	// Resume replays the held transition at once.
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminResume}))
	s.mu.Lock()
	require.Equal(t, engine.PhaseComplete, s.ctx.Phase)
	s.mu.Unlock()

	// And the game rolls on into hand two.
	fix.clock.Advance(time.Second).MustWait(ctx)
	s.mu.Lock()
	require.Equal(t, 2, s.ctx.HandNumber)
	s.mu.Unlock()
}

func TestDisconnectReconnectRestoresStatus(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gameID := fix.matchedGame(t, "heads-up")
	s := fix.session(t, gameID)

	fix.cast.reset()
	fix.reg.Disconnected(gameID, "alice")
	s.mu.Lock()
	alice := s.ctx.PlayerByID("alice")
	require.Equal(t, engine.StatusDisconnected, alice.Status)
	require.False(t, alice.DisconnectedAt.IsZero())
	require.NotNil(t, s.reconnectTimers["alice"])
	s.mu.Unlock()

	updates := fix.cast.byEvent("PLAYER_STATUS_UPDATE")
	require.NotEmpty(t, updates)

	// Reconnect inside the grace window restores the live status.
	_, err := fix.reg.JoinGame(ctx, gameID, "alice", "Alice")
	require.NoError(t, err)
	s.mu.Lock()
	require.Equal(t, engine.StatusActive, alice.Status, "still contending, so active again")
	require.True(t, alice.DisconnectedAt.IsZero())
	require.Nil(t, s.reconnectTimers["alice"])
	s.mu.Unlock()

	// The old forfeit timer is dead.
	fix.clock.Advance(2 * time.Minute).MustWait(ctx)
	s.mu.Lock()
	require.Equal(t, engine.StatusActive, alice.Status)
	require.True(t, alice.AtTable())
	s.mu.Unlock()
}

func TestReconnectExpiryVacatesSeat(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gameID := fix.matchedGame(t, "heads-up")
	s := fix.session(t, gameID)

	fix.cast.reset()
	fix.reg.Disconnected(gameID, "bob")
	fix.clock.Advance(60 * time.Second).MustWait(ctx)

	s.mu.Lock()
	bob := s.ctx.PlayerByID("bob")
	status := s.Status
	s.mu.Unlock()
	require.NotNil(t, bob)
	assert.Equal(t, engine.StatusLeft, bob.Status)
	assert.True(t, bob.Folded, "live hand is forfeited on expiry")
	assert.NotEqual(t, SessionFinished, status, "alice still holds the table")
	require.NotEmpty(t, fix.cast.byEvent("SEAT_VACATED"))
}

func TestLeaveByLastHumanFinishesGame(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID := fix.matchedGame(t, "heads-up")
	s := fix.session(t, gameID)

	require.NoError(t, fix.reg.Leave(ctx, gameID, "alice"))
	s.mu.Lock()
	require.NotEqual(t, SessionFinished, s.Status)
	s.mu.Unlock()

	fix.cast.reset()
	require.NoError(t, fix.reg.Leave(ctx, gameID, "bob"))
	s.mu.Lock()
	require.Equal(t, SessionFinished, s.Status)
	s.mu.Unlock()

	finished := fix.cast.byEvent("GAME_FINISHED")
	require.Len(t, finished, 1)
	raw, err := json.Marshal(finished[0].payload)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "all players left", payload["reason"])
	assert.Equal(t, "https://felt.example/lobby", payload["returnUrl"])
	assert.NotZero(t, payload["timestamp"])

	// The final row lands in the store and releases the join code.
	require.Eventually(t, func() bool {
		row, err := fix.store.LoadGame(ctx, gameID)
		return err == nil && row.Status == store.StatusFinished && row.JoinCode == ""
	}, time.Second, 10*time.Millisecond)
}

func TestCashPlayersCashOutOnLeaveAndFinish(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID := fix.matchedGame(t, "cash-hu")
	s := fix.session(t, gameID)

	s.mu.Lock()
	bobChips := s.ctx.PlayerByID("bob").Chips
	s.mu.Unlock()
	require.Equal(t, 490, bobChips, "big blind already posted")

	require.NoError(t, fix.reg.Leave(ctx, gameID, "bob"))
	require.Eventually(t, func() bool {
		n, err := fix.store.Balance(ctx, "bob")
		return err == nil && n == bobChips
	}, time.Second, 10*time.Millisecond, "leaver takes their stack")

	require.NoError(t, fix.reg.Leave(ctx, gameID, "alice"))
	require.Eventually(t, func() bool {
		a, err := fix.store.Balance(ctx, "alice")
		if err != nil {
			return false
		}
		b, err := fix.store.Balance(ctx, "bob")
		return err == nil && a+b == 1000
	}, time.Second, 10*time.Millisecond, "every chip on the table returns to the ledger")
}

func TestHostKickAndSuccession(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID, _ := fix.privateGame(t)
	s := fix.session(t, gameID)

	err := fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminKick, TargetID: "hank"})
	require.Error(t, err, "hosts cannot kick themselves")

	// Host leaving hands the table to the longest-seated player.
	fix.cast.reset()
	require.NoError(t, fix.reg.Leave(ctx, gameID, "hank"))
	s.mu.Lock()
	require.Equal(t, "gina", s.HostID)
	gina := s.ctx.PlayerByID("gina")
	require.True(t, gina.IsHost)
	status := s.Status
	s.mu.Unlock()
	require.NotEqual(t, SessionFinished, status)
	require.NotEmpty(t, fix.cast.byEvent("HOST_CHANGED"))

	// The last host leaving with no heir closes the table.
	fix.cast.reset()
	require.NoError(t, fix.reg.Leave(ctx, gameID, "gina"))
	s.mu.Lock()
	require.Equal(t, SessionFinished, s.Status)
	s.mu.Unlock()
	finished := fix.cast.byEvent("GAME_FINISHED")
	require.Len(t, finished, 1)
}

func TestKickBySeatNumber(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID, _ := fix.privateGame(t)
	s := fix.session(t, gameID)

	fix.cast.reset()
	require.NoError(t, fix.reg.HandleAdmin(ctx, gameID, "hank", AdminCommand{Op: AdminKick, Seat: 2}))
	s.mu.Lock()
	gina := s.ctx.PlayerByID("gina")
	s.mu.Unlock()
	require.Equal(t, engine.StatusRemoved, gina.Status)
	require.NotEmpty(t, fix.cast.byEvent("SEAT_VACATED"))
}

func TestRehydrateFromStoreOnJoin(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	code, err := fix.reg.CreateFromMatch(ctx, "g-rehydrate", "heads-up", []PlayerSpec{
		{UserID: "alice", Name: "Alice"},
		{UserID: "bob", Name: "Bob"},
	})
	require.NoError(t, err)

	// A second registry over the same store stands in for a restarted
	// process: nothing in memory, everything in the row.
	fresh := NewRegistry(Options{
		Store:     fix.store,
		Broadcast: fix.cast,
		Variants:  fix.reg.variants,
		Logger:    log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}),
		Clock:     fix.clock,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})

	view, err := fresh.JoinGame(ctx, "g-rehydrate", "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "g-rehydrate", view.GameID)
	require.Len(t, view.Players, 2)

	// Joining by code works too, and with both humans connected the
	// rehydrated table deals.
	view, err = fresh.JoinGame(ctx, code, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, view.HandNumber)
	assert.Equal(t, "preflop", view.Phase)
}

func TestJoinUnknownGameFails(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	_, err := fix.reg.JoinGame(ctx, "no-such-game", "alice", "Alice")
	require.ErrorIs(t, err, engine.ErrGameNotFound)

	_, err = fix.reg.JoinGame(ctx, "ZZZZZ", "alice", "Alice")
	require.ErrorIs(t, err, engine.ErrGameNotFound)
}

func TestWatchdogClosesStaleSessions(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()

	view, err := fix.reg.CreatePrivateGame(ctx, "hank", "Hank", "heads-up")
	require.NoError(t, err)
	s := fix.session(t, view.GameID)

	s.mu.Lock()
	s.lastActivity = fix.clock.Now().Add(-31 * time.Minute)
	s.mu.Unlock()

	fix.reg.watchdog(fix.clock.Now())
	s.mu.Lock()
	require.Equal(t, SessionFinished, s.Status)
	s.mu.Unlock()
	assert.Equal(t, float64(1), testutil.ToFloat64(fix.m.WatchdogKills.WithLabelValues(SessionWaiting)))
}

func TestRevealAtShowdownOnly(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID := fix.matchedGame(t, "heads-up")
	s := fix.session(t, gameID)

	err := fix.reg.HandleReveal(ctx, gameID, "alice", 0)
	require.ErrorIs(t, err, engine.ErrWrongPhase, "no reveals during betting")

	// Fold to reach showdown, then the folder may show a card.
	require.NoError(t, fix.reg.HandleAction(ctx, gameID, "alice", engine.ActionFold, 0))
	require.NoError(t, fix.reg.HandleReveal(ctx, gameID, "alice", 0))
	err = fix.reg.HandleReveal(ctx, gameID, "alice", 0)
	require.ErrorIs(t, err, engine.ErrInvalidAction, "same card twice")

	s.mu.Lock()
	view := s.viewFor("bob", fix.clock.Now())
	s.mu.Unlock()
	for _, p := range view.Players {
		if p.ID != "alice" {
			continue
		}
		require.Len(t, p.HoleCards, 2)
		assert.NotEqual(t, "??", p.HoleCards[0], "revealed card is visible to the table")
		assert.Equal(t, "??", p.HoleCards[1])
	}
}

func TestActionValidationSurfacesEngineErrors(t *testing.T) {
	t.Parallel()
	fix := newFixture(t)
	ctx := context.Background()
	gameID := fix.matchedGame(t, "heads-up")

	err := fix.reg.HandleAction(ctx, gameID, "bob", engine.ActionCall, 0)
	require.ErrorIs(t, err, engine.ErrNotYourTurn)

	err = fix.reg.HandleAction(ctx, gameID, "nobody", engine.ActionFold, 0)
	require.ErrorIs(t, err, engine.ErrNotInGame)

	err = fix.reg.HandleAction(ctx, gameID, "alice", engine.ActionRaise, 11)
	require.ErrorIs(t, err, engine.ErrInvalidAction, "raise below minimum")
}
