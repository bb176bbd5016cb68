package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/sanity-io/litter"
	"golang.org/x/sync/singleflight"

	"github.com/feltworks/cardroom/internal/analytics"
	"github.com/feltworks/cardroom/internal/bot"
	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/internal/joincode"
	"github.com/feltworks/cardroom/internal/metrics"
	"github.com/feltworks/cardroom/internal/randutil"
	"github.com/feltworks/cardroom/internal/store"
)

const (
	reconnectGrace   = 60 * time.Second
	deadlineGrace    = time.Second
	evictGrace       = 10 * time.Second
	persistAttempts  = 3
	persistBackoff   = 500 * time.Millisecond
	rehydrateTries   = 3
	rehydrateBackoff = 500 * time.Millisecond
	joinCodeRetries  = 3
	storeTimeout     = 5 * time.Second
)

// Broadcaster delivers events and state to connected clients. ToGame fans
// out to every connection in the game's room, ToUser unicasts.
type Broadcaster interface {
	ToGame(gameID, event string, payload any)
	ToUser(userID, event string, payload any)
}

// persistJob is one failed asynchronous write awaiting retry.
type persistJob struct {
	row      store.GameRow
	attempts int
	nextTry  time.Time
}

// Options wires the registry's dependencies. Store and Broadcast are
// required; the rest default to quiet implementations.
type Options struct {
	Store     store.Store
	Broadcast Broadcaster
	Variants  map[string]engine.Config
	Logger    *log.Logger
	Clock     quartz.Clock
	Metrics   *metrics.Metrics
	Publisher analytics.Publisher
	ReturnURL string
}

// Registry holds every live session and serializes all mutations through
// the per-session mutex. Its own mutex guards only the lookup maps and is
// never held while a session mutex is being acquired.
type Registry struct {
	logger    *log.Logger
	store     store.Store
	clock     quartz.Clock
	broadcast Broadcaster
	metrics   *metrics.Metrics
	publisher analytics.Publisher
	policy    bot.Policy
	variants  map[string]engine.Config
	returnURL string

	mu       sync.Mutex
	sessions map[string]*Session
	byCode   map[string]string
	conns    map[string]map[string]struct{} // gameID -> connected human players

	loading singleflight.Group

	retryMu sync.Mutex
	retry   []persistJob

	ticks int // heartbeat counter, touched only by the ticker
}

// NewRegistry builds a registry from the options.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = analytics.Nop{}
	}
	return &Registry{
		logger:    logger.WithPrefix("game"),
		store:     opts.Store,
		clock:     clock,
		broadcast: opts.Broadcast,
		metrics:   m,
		publisher: pub,
		variants:  opts.Variants,
		returnURL: opts.ReturnURL,
		sessions:  make(map[string]*Session),
		byCode:    make(map[string]string),
		conns:     make(map[string]map[string]struct{}),
	}
}

// CreatePrivateGame opens a host-controlled table. The host spectates until
// they take a seat; the returned view carries the join code to share.
func (r *Registry) CreatePrivateGame(ctx context.Context, hostID, hostName, variant string) (StateView, error) {
	cfg, ok := r.variants[variant]
	if !ok {
		return StateView{}, fmt.Errorf("%w: unknown variant %q", engine.ErrInvalidAction, variant)
	}
	// Private tables never touch the chip ledger.
	cfg.Category = engine.CategoryPrivate
	cfg.BuyIn = 0

	now := r.clock.Now()
	s := newSession(uuid.NewString(), cfg, randutil.NewCrypto(), now)
	s.IsPrivate = true
	s.HostID = hostID
	s.spectators[hostID] = struct{}{}

	if err := r.allocateCode(ctx, s); err != nil {
		return StateView{}, err
	}
	r.register(s)
	r.logger.Info("private game created", "game", s.GameID, "host", hostID, "code", s.JoinCode)
	return s.viewFor(hostID, now), nil
}

// CreateFromMatch builds the session for a game the matchmaking queue has
// already reserved in the store. The hand deals once every human on the
// roster has connected. Returns the join code.
func (r *Registry) CreateFromMatch(ctx context.Context, gameID, variant string, players []PlayerSpec) (string, error) {
	cfg, ok := r.variants[variant]
	if !ok {
		return "", fmt.Errorf("%w: unknown variant %q", engine.ErrInvalidAction, variant)
	}
	now := r.clock.Now()
	s := newSession(gameID, cfg, randutil.NewCrypto(), now)
	s.Status = SessionStarting
	if err := s.addPlayers(players, cfg.StartingStack, now); err != nil {
		return "", err
	}
	if err := r.allocateCode(ctx, s); err != nil {
		return "", err
	}
	r.register(s)
	r.metrics.MatchesTotal.WithLabelValues(variant).Inc()
	r.logger.Info("matched game created", "game", gameID, "variant", variant, "players", len(players))
	return s.JoinCode, nil
}

// JoinGame attaches a user to a session by game id or join code. Roster
// members reconnect; everyone else spectates. Returns the joiner's view.
func (r *Registry) JoinGame(ctx context.Context, key, userID, name string) (StateView, error) {
	s, err := r.resolve(ctx, key)
	if err != nil {
		return StateView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == SessionFinished {
		return StateView{}, engine.ErrGameNotFound
	}
	now := r.clock.Now()
	s.touch(now)

	p := s.ctx.PlayerByID(userID)
	if p != nil && p.AtTable() && !p.IsBot {
		if t := s.reconnectTimers[userID]; t != nil {
			t.Stop()
			delete(s.reconnectTimers, userID)
		}
		if p.Status == engine.StatusDisconnected {
			switch {
			case p.Contending():
				p.Status = engine.StatusActive
			case p.Chips > 0:
				p.Status = engine.StatusWaitingForNextHand
			default:
				p.Status = engine.StatusEliminated
			}
			p.DisconnectedAt = time.Time{}
			r.broadcast.ToGame(s.GameID, "PLAYER_STATUS_UPDATE",
				engine.PlayerStatusEvent{PlayerID: userID, Seat: p.Seat, Status: p.Status})
			r.persist(s)
		}
		r.markConnected(s.GameID, userID)
		r.broadcastState(s, now)
		r.startIfReady(s, now)
	} else {
		s.spectators[userID] = struct{}{}
	}
	return s.viewFor(userID, now), nil
}

// RequestSeat queues a spectator's ask for a seat at a private table.
func (r *Registry) RequestSeat(ctx context.Context, gameID, userID, name string) error {
	s, err := r.resolve(ctx, gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := r.clock.Now()
	if err := s.requestSeat(userID, name, now); err != nil {
		return err
	}
	s.touch(now)
	r.broadcast.ToUser(s.HostID, "gameState", s.viewFor(s.HostID, now))
	return nil
}

// HostSeat seats the host at their own table.
func (r *Registry) HostSeat(ctx context.Context, gameID, callerID, name string) error {
	s, err := r.resolve(ctx, gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := r.clock.Now()
	p, err := s.selfSeat(callerID, name, now)
	if err != nil {
		return err
	}
	s.touch(now)
	r.markConnected(s.GameID, callerID)
	r.broadcast.ToGame(s.GameID, "PLAYER_STATUS_UPDATE",
		engine.PlayerStatusEvent{PlayerID: p.ID, Seat: p.Seat, Status: p.Status})
	r.broadcastState(s, now)
	r.persist(s)
	return nil
}

// HandleAction applies a betting action from a player.
func (r *Registry) HandleAction(ctx context.Context, gameID, userID string, kind engine.ActionKind, amount int) error {
	s, err := r.resolve(ctx, gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quarantined || s.Status == SessionFinished {
		return fmt.Errorf("%w: game is closing", engine.ErrInvalidAction)
	}
	if s.IsPaused {
		return fmt.Errorf("%w: game is paused", engine.ErrInvalidAction)
	}
	now := r.clock.Now()
	res, err := engine.Apply(s.ctx, userID, engine.Action{Kind: kind, Amount: amount}, now)
	if err != nil {
		return err
	}
	r.metrics.ActionsTotal.WithLabelValues(string(kind)).Inc()
	r.processResult(s, res, now)
	return nil
}

// HandleReveal shows one of the caller's hole cards at showdown.
func (r *Registry) HandleReveal(ctx context.Context, gameID, userID string, index int) error {
	s, err := r.resolve(ctx, gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quarantined || s.Status == SessionFinished {
		return fmt.Errorf("%w: game is closing", engine.ErrInvalidAction)
	}
	res, err := engine.Reveal(s.ctx, userID, index)
	if err != nil {
		return err
	}
	r.processResult(s, res, r.clock.Now())
	return nil
}

// HandleAdmin runs one host control command.
func (r *Registry) HandleAdmin(ctx context.Context, gameID, callerID string, cmd AdminCommand) error {
	s, err := r.resolve(ctx, gameID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorizeHost(callerID); err != nil {
		return err
	}
	if s.quarantined || s.Status == SessionFinished {
		return fmt.Errorf("%w: game is closing", engine.ErrInvalidAction)
	}
	now := r.clock.Now()
	s.touch(now)

	switch cmd.Op {
	case AdminApprove:
		p, err := s.approve(cmd.TargetID, now)
		if err != nil {
			return err
		}
		r.broadcast.ToGame(s.GameID, "PLAYER_STATUS_UPDATE",
			engine.PlayerStatusEvent{PlayerID: p.ID, Seat: p.Seat, Status: p.Status})
		r.broadcastState(s, now)
		r.persist(s)

	case AdminReject:
		if err := s.reject(cmd.TargetID); err != nil {
			return err
		}
		r.broadcast.ToUser(callerID, "gameState", s.viewFor(callerID, now))

	case AdminKick:
		target := cmd.TargetID
		if target == "" {
			if p := s.ctx.PlayerBySeat(cmd.Seat); p != nil {
				target = p.ID
			}
		}
		if target == "" {
			return engine.ErrNotInGame
		}
		if target == callerID {
			return fmt.Errorf("%w: cannot kick yourself", engine.ErrInvalidAction)
		}
		return r.removePlayer(s, target, engine.StatusRemoved, now)

	case AdminSetStack:
		p, err := s.setStack(cmd.Seat, cmd.Amount)
		if err != nil {
			return err
		}
		r.logger.Info("host set stack", "game", s.GameID, "seat", p.Seat, "chips", cmd.Amount)
		r.broadcastState(s, now)
		r.persist(s)

	case AdminSetBlinds:
		return s.setBlinds(cmd.SmallBlind, cmd.BigBlind)

	case AdminPause:
		if s.IsPaused {
			return nil
		}
		s.IsPaused = true
		r.processResult(s, engine.Pause(s.ctx), now)
		r.persist(s)

	case AdminResume:
		if !s.IsPaused {
			return nil
		}
		s.IsPaused = false
		r.processResult(s, engine.Resume(s.ctx, now), now)
		if target := s.pendingTarget; target != engine.PhaseWaiting {
			r.executeTransition(s, target, now)
		}
		r.persist(s)

	case AdminStartGame:
		if s.ctx.Phase != engine.PhaseWaiting && s.ctx.Phase != engine.PhaseComplete {
			return fmt.Errorf("%w: a hand is already running", engine.ErrWrongPhase)
		}
		return r.startHand(s, now)

	default:
		return fmt.Errorf("%w: unknown admin op %q", engine.ErrInvalidAction, cmd.Op)
	}
	return nil
}

// Leave removes the user from the game: spectators and pending requesters
// just drop, seated players vacate their seat and forfeit live hands.
func (r *Registry) Leave(ctx context.Context, gameID, userID string) error {
	s := r.find(gameID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectators, userID)
	s.takeRequest(userID)
	if s.Status == SessionFinished {
		return nil
	}
	p := s.ctx.PlayerByID(userID)
	if p == nil || !p.AtTable() {
		return nil
	}
	return r.removePlayer(s, userID, engine.StatusLeft, r.clock.Now())
}

// Disconnected marks a dropped connection. Seated players get a reconnect
// grace window; they stay dealt in and fall to the action deadline until it
// expires.
func (r *Registry) Disconnected(gameID, userID string) {
	s := r.find(gameID)
	if s == nil {
		return
	}
	r.unmarkConnected(gameID, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectators, userID)
	if s.Status == SessionFinished {
		return
	}
	p := s.ctx.PlayerByID(userID)
	if p == nil || !p.AtTable() || p.IsBot {
		return
	}
	switch p.Status {
	case engine.StatusSeated, engine.StatusWaitingForNextHand, engine.StatusActive:
	default:
		return
	}
	now := r.clock.Now()
	p.Status = engine.StatusDisconnected
	p.DisconnectedAt = now
	s.touch(now)
	r.broadcast.ToGame(s.GameID, "PLAYER_STATUS_UPDATE",
		engine.PlayerStatusEvent{PlayerID: userID, Seat: p.Seat, Status: p.Status})
	r.scheduleReconnect(s, userID, reconnectGrace)
	r.broadcastState(s, now)
	r.persist(s)
}

// find returns the in-memory session for a game id or join code, or nil.
func (r *Registry) find(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[key]; s != nil {
		return s
	}
	if id, ok := r.byCode[key]; ok {
		return r.sessions[id]
	}
	return nil
}

// resolve returns the live session for a game id or join code, rehydrating
// from the store when it is not in memory. Concurrent loads for the same
// key share one lookup.
func (r *Registry) resolve(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		return nil, engine.ErrGameNotFound
	}
	if c := joincode.Normalize(key); joincode.Validate(c) == nil {
		key = c
	}
	if s := r.find(key); s != nil {
		return s, nil
	}
	v, err, _ := r.loading.Do(key, func() (any, error) {
		return r.rehydrate(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// rehydrate loads a session row and rebuilds the in-memory session. Lost
// timers are re-armed from the loaded phase.
func (r *Registry) rehydrate(ctx context.Context, key string) (*Session, error) {
	if s := r.find(key); s != nil {
		return s, nil
	}
	var row store.GameRow
	var err error
	for attempt := 1; ; attempt++ {
		if joincode.Validate(key) == nil {
			row, err = r.store.LoadGameByJoinCode(ctx, key)
		} else {
			row, err = r.store.LoadGame(ctx, key)
		}
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrNoGame) {
			return nil, engine.ErrGameNotFound
		}
		if attempt >= rehydrateTries {
			r.logger.Error("rehydration failed", "game", key, "attempts", attempt, "error", err)
			return nil, engine.ErrGameNotFound
		}
		timer := r.clock.NewTimer(rehydrateBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	if row.Status == store.StatusFinished {
		return nil, engine.ErrGameNotFound
	}

	cfg, ok := r.variants[row.Variant]
	if !ok {
		r.logger.Warn("rehydrating game with unknown variant", "game", row.ID, "variant", row.Variant)
	}
	now := r.clock.Now()
	s := sessionFromRow(row, cfg, randutil.NewCrypto(), now)
	if err := engine.CheckInvariants(s.ctx); err != nil {
		r.logger.Error("refusing to rehydrate corrupt game", "game", row.ID, "error", err)
		return nil, engine.ErrGameNotFound
	}
	r.register(s)
	s.mu.Lock()
	r.nudge(s, now)
	s.mu.Unlock()
	r.logger.Info("game rehydrated", "game", row.ID, "status", row.Status, "hand", s.ctx.HandNumber)
	return s, nil
}

// nudge re-arms whatever timer a reload dropped: a pending street, the
// showdown settle, the next deal, or a bot that holds the turn. Caller
// holds the session mutex.
func (r *Registry) nudge(s *Session, now time.Time) {
	c := s.ctx
	switch {
	case c.Phase.Betting() && c.CurrentActorSeat == 0:
		r.scheduleTransition(s, engine.ScheduleTransition{Target: c.Phase + 1, Delay: c.Config.PhaseTransitionDelay})
	case c.Phase == engine.PhaseShowdown:
		r.scheduleTransition(s, engine.ScheduleTransition{Target: engine.PhaseComplete, Delay: c.Config.ShowdownDelay})
	case c.Phase == engine.PhaseComplete:
		r.scheduleTransition(s, engine.ScheduleTransition{Target: engine.PhasePreflop, Delay: c.Config.PhaseTransitionDelay})
	default:
		r.scheduleBotTurn(s)
	}
}

// register publishes the session in the lookup maps.
func (r *Registry) register(s *Session) {
	r.mu.Lock()
	r.sessions[s.GameID] = s
	if s.JoinCode != "" {
		r.byCode[s.JoinCode] = s.GameID
	}
	r.metrics.ActiveGames.Set(float64(len(r.sessions)))
	r.mu.Unlock()
}

// evict drops a finished session from memory once clients have had a
// chance to see the final events.
func (r *Registry) evict(gameID string) {
	r.mu.Lock()
	if s := r.sessions[gameID]; s != nil {
		delete(r.sessions, gameID)
		if s.JoinCode != "" {
			delete(r.byCode, s.JoinCode)
		}
		delete(r.conns, gameID)
	}
	r.metrics.ActiveGames.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	r.logger.Debug("session evicted", "game", gameID)
}

// allocateCode reserves a unique join code, checking the in-memory map and
// letting the store's unique index arbitrate across processes. The session
// is not yet shared, so no lock is needed.
func (r *Registry) allocateCode(ctx context.Context, s *Session) error {
	for attempt := 0; attempt < joinCodeRetries; attempt++ {
		code := joincode.Generate()
		r.mu.Lock()
		_, taken := r.byCode[code]
		r.mu.Unlock()
		if taken {
			continue
		}
		s.JoinCode = code
		row := s.snapshotRow()
		err := r.store.SaveGame(ctx, row)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrJoinCodeTaken) {
			s.JoinCode = ""
			continue
		}
		// Store outage: keep the code and let the retry queue settle the
		// write. The in-memory map still guards local uniqueness.
		r.logger.Warn("persisting new game failed, queueing retry", "game", s.GameID, "error", err)
		r.enqueueRetry(row)
		return nil
	}
	return fmt.Errorf("no unique join code after %d attempts", joinCodeRetries)
}

// markConnected records a live connection for a roster player.
func (r *Registry) markConnected(gameID, userID string) {
	r.mu.Lock()
	set := r.conns[gameID]
	if set == nil {
		set = make(map[string]struct{})
		r.conns[gameID] = set
	}
	set[userID] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) unmarkConnected(gameID, userID string) {
	r.mu.Lock()
	if set := r.conns[gameID]; set != nil {
		delete(set, userID)
	}
	r.mu.Unlock()
}

// startIfReady deals the first hand of a matched game once every human on
// the roster has connected. Caller holds the session mutex.
func (r *Registry) startIfReady(s *Session, now time.Time) {
	if s.Status != SessionStarting || s.IsPaused || s.quarantined {
		return
	}
	need := s.rosterIDs()
	r.mu.Lock()
	set := r.conns[s.GameID]
	ready := true
	for _, id := range need {
		if _, ok := set[id]; !ok {
			ready = false
			break
		}
	}
	r.mu.Unlock()
	if !ready {
		return
	}
	if err := r.startHand(s, now); err != nil {
		r.logger.Warn("matched game failed to start", "game", s.GameID, "error", err)
	}
}

// startHand deals the next hand, applying any staged blind change first.
// Caller holds the session mutex.
func (r *Registry) startHand(s *Session, now time.Time) error {
	if s.quarantined || s.Status == SessionFinished {
		return fmt.Errorf("%w: game is closing", engine.ErrInvalidAction)
	}
	if s.IsPaused {
		return fmt.Errorf("%w: game is paused", engine.ErrInvalidAction)
	}
	s.applyPendingBlinds()
	res, err := engine.StartHand(s.ctx, s.rng, now)
	if err != nil {
		return err
	}
	s.Status = SessionActive
	s.handStartedAt = now
	s.handHistoryAt = len(s.history)
	s.recorder.StartHand(now)
	r.metrics.HandsStarted.Inc()
	r.processResult(s, res, now)
	return nil
}

// processResult adopts an engine result: invariant check, history,
// analytics, ordered event broadcast, per-viewer state, then effects.
// Caller holds the session mutex.
func (r *Registry) processResult(s *Session, res *engine.Result, now time.Time) {
	prevPhase := s.ctx.Phase
	if err := engine.CheckInvariants(res.Context); err != nil {
		r.quarantine(s, err)
		return
	}
	s.ctx = res.Context
	s.touch(now)
	s.history = append(s.history, res.History...)
	r.recordEvents(s, res.Events, prevPhase.String(), now)

	for _, ev := range res.Events {
		r.broadcast.ToGame(s.GameID, ev.Name(), ev)
	}
	r.broadcastState(s, now)

	if prevPhase != engine.PhaseComplete && s.ctx.Phase == engine.PhaseComplete {
		r.finishHand(s, now)
	}

	for _, eff := range res.Effects {
		switch e := eff.(type) {
		case engine.Persist:
			r.persist(s)
		case engine.ScheduleTransition:
			r.scheduleTransition(s, e)
		case engine.EndGame:
			r.finishGame(s, e.Reason, e.WinnerID, now)
			return
		}
	}
	r.scheduleBotTurn(s)
}

// recordEvents feeds the hand recorder for the analytics pipeline. Caller
// holds the session mutex.
func (r *Registry) recordEvents(s *Session, events []engine.Event, street string, now time.Time) {
	for _, ev := range events {
		switch e := ev.(type) {
		case engine.PlayerActionEvent:
			rec := analytics.ActionRecord{
				GameID:    s.GameID,
				HandIndex: s.ctx.HandNumber,
				PlayerID:  e.PlayerID,
				Seat:      e.Seat,
				Street:    street,
				Action:    string(e.Kind),
				Amount:    e.Amount,
				PotSize:   livePotSize(s.ctx),
				Timestamp: now,
			}
			if p := s.ctx.PlayerByID(e.PlayerID); p != nil {
				rec.StackSize = p.Chips
				rec.IsBot = p.IsBot
			}
			s.recorder.RecordAction(rec)
		case engine.PotAwardedEvent:
			s.recorder.RecordAward(e.WinnerIDs, true)
		case engine.RunoutEvent:
			if e.WinnerID != "" {
				s.recorder.RecordAward([]string{e.WinnerID}, false)
			}
		}
	}
}

// finishHand publishes the completed hand to the analytics pipeline and
// appends the durable hand history row. Caller holds the session mutex.
func (r *Registry) finishHand(s *Session, now time.Time) {
	c := s.ctx
	r.metrics.HandDuration.Observe(now.Sub(s.handStartedAt).Seconds())

	players := 0
	for i := range c.Players {
		if len(c.Players[i].HoleCards) == 2 {
			players++
		}
	}
	board := make([]string, 0, len(c.Community))
	for _, card := range c.Community {
		board = append(board, card.String())
	}
	summary := s.recorder.Finish(s.GameID, c.HandNumber, c.Config.Variant,
		c.Config.SmallBlind, c.Config.BigBlind, c.Distributed, players, board, now)
	rec, err := handRecord(summary, s.history[s.handHistoryAt:], now)
	if err != nil {
		r.logger.Error("encoding hand record", "game", s.GameID, "hand", c.HandNumber, "error", err)
		return
	}

	go func() {
		if err := r.publisher.PublishHand(summary); err != nil {
			r.logger.Warn("publishing hand", "game", summary.GameID, "hand", summary.HandIndex, "error", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.AppendHandHistory(ctx, rec); err != nil {
			r.logger.Warn("appending hand history", "game", summary.GameID, "hand", summary.HandIndex, "error", err)
		}
	}()
}

// scheduleTransition arms the one-shot phase timer, replacing any pending
// one. Caller holds the session mutex.
func (r *Registry) scheduleTransition(s *Session, e engine.ScheduleTransition) {
	if s.transitionTimer != nil {
		s.transitionTimer.Stop()
	}
	s.pendingTarget = e.Target
	gameID, target := s.GameID, e.Target
	s.transitionTimer = r.clock.AfterFunc(e.Delay, func() {
		r.runTransition(gameID, target)
	})
}

// runTransition is the timer callback: it re-enters the mutex and drives
// the transition, unless the game paused or ended in the meantime. A
// transition skipped for pause stays pending and replays on resume.
func (r *Registry) runTransition(gameID string, target engine.Phase) {
	s := r.find(gameID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingTarget != target {
		return // superseded
	}
	if s.IsPaused {
		return
	}
	r.executeTransition(s, target, r.clock.Now())
}

// executeTransition performs one phase move. Caller holds the session mutex.
func (r *Registry) executeTransition(s *Session, target engine.Phase, now time.Time) {
	s.pendingTarget = engine.PhaseWaiting
	if s.quarantined || s.Status == SessionFinished {
		return
	}
	if target == engine.PhasePreflop {
		if err := r.startHand(s, now); err != nil {
			r.logger.Debug("next hand not dealt", "game", s.GameID, "error", err)
		}
		return
	}
	res, err := engine.AdvancePhase(s.ctx, target, now)
	if err != nil {
		r.logger.Warn("scheduled transition rejected", "game", s.GameID, "target", target, "error", err)
		return
	}
	r.processResult(s, res, now)
}

// scheduleBotTurn arms the think timer when a bot holds the turn. The
// callback re-validates everything under the mutex, so a stale timer is
// harmless. Caller holds the session mutex.
func (r *Registry) scheduleBotTurn(s *Session) {
	if s.botTimer != nil {
		s.botTimer.Stop()
		s.botTimer = nil
	}
	if s.quarantined || s.IsPaused || s.Status == SessionFinished || !s.ctx.Phase.Betting() {
		return
	}
	actor := s.ctx.CurrentActor()
	if actor == nil || !actor.IsBot {
		return
	}
	gameID, hand, seat := s.GameID, s.ctx.HandNumber, actor.Seat
	s.botTimer = r.clock.AfterFunc(bot.ThinkDelay(gameID, hand, seat), func() {
		r.botAct(gameID, hand, seat)
	})
}

// botAct runs a scheduled bot decision. The deadline stays authoritative:
// past it the bot defers to the heartbeat's auto-fold.
func (r *Registry) botAct(gameID string, hand, seat int) {
	s := r.find(gameID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quarantined || s.IsPaused || s.Status == SessionFinished {
		return
	}
	c := s.ctx
	if c.HandNumber != hand || !c.Phase.Betting() || c.CurrentActorSeat != seat {
		return
	}
	actor := c.CurrentActor()
	if actor == nil || !actor.IsBot {
		return
	}
	now := r.clock.Now()
	if !c.ActionDeadline.IsZero() && now.After(c.ActionDeadline) {
		return
	}
	action := r.policy.Decide(c, seat)
	res, err := engine.Apply(c, actor.ID, action, now)
	if err != nil {
		r.logger.Warn("bot action rejected, folding", "game", gameID, "seat", seat, "action", action.Kind, "error", err)
		if res, err = engine.ForceFold(c, seat, now); err != nil {
			return
		}
	} else {
		r.metrics.ActionsTotal.WithLabelValues(string(action.Kind)).Inc()
	}
	r.processResult(s, res, now)
}

// scheduleReconnect arms the grace timer for a disconnected player; expiry
// removes them from the table. Caller holds the session mutex.
func (r *Registry) scheduleReconnect(s *Session, userID string, d time.Duration) {
	if t := s.reconnectTimers[userID]; t != nil {
		t.Stop()
	}
	gameID := s.GameID
	s.reconnectTimers[userID] = r.clock.AfterFunc(d, func() {
		s := r.find(gameID)
		if s == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reconnectTimers, userID)
		p := s.ctx.PlayerByID(userID)
		if p == nil || p.Status != engine.StatusDisconnected || s.Status == SessionFinished {
			return
		}
		r.logger.Info("reconnect window expired", "game", gameID, "user", userID)
		_ = r.removePlayer(s, userID, engine.StatusLeft, r.clock.Now())
	})
}

// removePlayer takes a player off the roster: live hands are forfeited,
// the seat vacates, the host line succeeds, and the table winds down when
// nobody human is left. Caller holds the session mutex.
func (r *Registry) removePlayer(s *Session, userID string, status engine.PlayerStatus, now time.Time) error {
	p := s.ctx.PlayerByID(userID)
	if p == nil || !p.AtTable() {
		return engine.ErrNotInGame
	}
	if t := s.reconnectTimers[userID]; t != nil {
		t.Stop()
		delete(s.reconnectTimers, userID)
	}
	r.unmarkConnected(s.GameID, userID)

	if p.Contending() && s.ctx.Phase.Betting() {
		if res, err := engine.ForceFold(s.ctx, p.Seat, now); err == nil {
			r.processResult(s, res, now)
		}
	}

	// The fold may have ended the hand and the game with it.
	p = s.ctx.PlayerByID(userID)
	if p == nil {
		return nil
	}
	seat := p.Seat
	p.Status = status
	s.touch(now)
	if s.Status == SessionFinished {
		return nil
	}

	// Cash players take their stack with them. Same ledger ref as
	// finalization, so a later finishGame cannot pay twice.
	if s.ctx.Config.Category == engine.CategoryCash && !p.IsBot && p.Chips > 0 {
		gameID, chips := s.GameID, p.Chips
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			ref := "cashout:" + gameID + ":" + userID
			if err := r.store.PayoutChips(ctx, userID, chips, ref); err != nil {
				r.logger.Error("leave cashout failed", "game", gameID, "user", userID, "chips", chips, "error", err)
			}
		}()
	}

	r.broadcast.ToGame(s.GameID, "SEAT_VACATED", engine.SeatVacatedEvent{PlayerID: userID, Seat: seat})

	if s.IsPrivate && userID == s.HostID {
		ev, ok := s.transferHost()
		if !ok {
			r.finishGame(s, "host left with no successor", "", now)
			return nil
		}
		r.logger.Info("host transferred", "game", s.GameID, "host", ev.PlayerID)
		r.broadcast.ToGame(s.GameID, ev.Name(), ev)
	}
	if !s.IsPrivate && humansRemaining(s.ctx) == 0 {
		r.finishGame(s, "all players left", "", now)
		return nil
	}

	r.broadcastState(s, now)
	r.persist(s)
	return nil
}

// quarantine freezes a session after an engine invariant violation. The
// offending result is discarded and the game closes shortly after so the
// bad state is never played on.
func (r *Registry) quarantine(s *Session, err error) {
	if s.quarantined {
		return
	}
	s.quarantined = true
	s.stopTimersLocked()
	r.metrics.InvariantViolations.Inc()
	r.logger.Error("engine invariant violated, quarantining game",
		"game", s.GameID, "hand", s.ctx.HandNumber, "phase", s.ctx.Phase, "error", err)
	// Full state dump for the postmortem; the row itself is about to be
	// finalized and unloadable.
	r.logger.Debug("quarantined context", "state", litter.Sdump(s.ctx))
	r.broadcast.ToGame(s.GameID, "error", map[string]string{"message": "internal game error, table is closing"})

	gameID := s.GameID
	r.clock.AfterFunc(time.Second, func() {
		s := r.find(gameID)
		if s == nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		r.finishGame(s, "engine invariant", "", r.clock.Now())
	})
}

// finishGame is the unified finalization path: cash tables pay out every
// human's remaining chips through the idempotent ledger, the final row is
// persisted, clients get GAME_FINISHED, and the session evicts after a
// grace delay. Safe to call more than once. Caller holds the session mutex.
func (r *Registry) finishGame(s *Session, reason, winnerID string, now time.Time) {
	if s.Status == SessionFinished {
		return
	}
	s.Status = SessionFinished
	s.stopTimersLocked()
	s.touch(now)

	type payout struct {
		userID string
		amount int
	}
	var payouts []payout
	if s.ctx.Config.Category == engine.CategoryCash {
		for i := range s.ctx.Players {
			p := &s.ctx.Players[i]
			if p.IsBot || p.Chips == 0 {
				continue
			}
			payouts = append(payouts, payout{p.ID, p.Chips})
		}
	}
	row := s.snapshotRow()
	gameID := s.GameID
	r.logger.Info("game finished", "game", gameID, "reason", reason, "winner", winnerID, "hands", s.ctx.HandNumber)

	payload := struct {
		engine.GameFinishedEvent
		ReturnURL string `json:"returnUrl,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}{
		GameFinishedEvent: engine.GameFinishedEvent{WinnerID: winnerID, Reason: reason},
		ReturnURL:         r.returnURL,
		Timestamp:         now.UnixMilli(),
	}
	r.broadcast.ToGame(gameID, payload.Name(), payload)
	r.broadcastState(s, now)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		for _, po := range payouts {
			ref := "cashout:" + gameID + ":" + po.userID
			if err := r.store.PayoutChips(ctx, po.userID, po.amount, ref); err != nil {
				r.logger.Error("cashout failed", "game", gameID, "user", po.userID, "chips", po.amount, "error", err)
			}
		}
		if err := r.store.SaveGame(ctx, row); err != nil {
			r.logger.Warn("final persist failed, queueing retry", "game", gameID, "error", err)
			r.enqueueRetry(row)
		}
	}()

	r.clock.AfterFunc(evictGrace, func() {
		r.evict(gameID)
	})
}

// persist snapshots under the mutex and writes asynchronously; ordering
// across writes is not guaranteed, which the store contract tolerates.
// Caller holds the session mutex.
func (r *Registry) persist(s *Session) {
	row := s.snapshotRow()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SaveGame(ctx, row); err != nil {
			r.logger.Warn("persist failed, queueing retry", "game", row.ID, "error", err)
			r.enqueueRetry(row)
		}
	}()
}

func (r *Registry) enqueueRetry(row store.GameRow) {
	r.retryMu.Lock()
	r.retry = append(r.retry, persistJob{
		row:      row,
		attempts: 1,
		nextTry:  r.clock.Now().Add(persistBackoff),
	})
	r.retryMu.Unlock()
}

// broadcastState sends each seated human their own filtered view and every
// spectator the masked one. Caller holds the session mutex.
func (r *Registry) broadcastState(s *Session, now time.Time) {
	for i := range s.ctx.Players {
		p := &s.ctx.Players[i]
		if p.IsBot || !p.AtTable() {
			continue
		}
		r.broadcast.ToUser(p.ID, "gameState", s.viewFor(p.ID, now))
	}
	if len(s.spectators) == 0 {
		return
	}
	specView := s.viewFor("", now)
	for userID := range s.spectators {
		r.broadcast.ToUser(userID, "gameState", specView)
	}
}

// handRecord builds the durable hand history row: the analytics summary as
// stats, the hand's log lines as the replay blob.
func handRecord(summary analytics.HandSummary, replay []string, now time.Time) (store.HandRecord, error) {
	stats, err := json.Marshal(summary)
	if err != nil {
		return store.HandRecord{}, err
	}
	lines, err := json.Marshal(replay)
	if err != nil {
		return store.HandRecord{}, err
	}
	return store.HandRecord{
		GameID:     summary.GameID,
		HandIndex:  summary.HandIndex,
		Stats:      stats,
		Replay:     lines,
		RecordedAt: now,
	}, nil
}

func humansRemaining(c *engine.Context) int {
	n := 0
	for i := range c.Players {
		if !c.Players[i].IsBot && c.Players[i].AtTable() {
			n++
		}
	}
	return n
}

func livePotSize(c *engine.Context) int {
	total := c.PotTotal()
	for i := range c.Players {
		total += c.Players[i].CurrentBet
	}
	return total
}
