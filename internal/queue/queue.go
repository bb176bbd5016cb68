// Package queue matches waiting players into new games, one FIFO per
// variant. Matching is guarded by a per-variant lock so no two concurrent
// starts can take the same waiters; the durable store's atomic reservation
// backs that up across processes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/internal/game"
	"github.com/feltworks/cardroom/internal/metrics"
	"github.com/feltworks/cardroom/internal/store"
)

// ErrUnknownVariant rejects a join for a variant the server does not run.
var ErrUnknownVariant = errors.New("queue: unknown variant")

// ActiveGameError rejects a join from a user the store already has
// reserved; the client can rejoin that game instead.
type ActiveGameError struct {
	GameID string
}

func (e *ActiveGameError) Error() string {
	return fmt.Sprintf("queue: already in game %s", e.GameID)
}

// waiter is one queued player. Bot waiters are appended by the fill timer
// and carry ids no human can hold.
type waiter struct {
	UserID   string
	Name     string
	IsBot    bool
	JoinedAt time.Time
}

// Options wires the queue's dependencies.
type Options struct {
	Store     store.Store
	Registry  *game.Registry
	Broadcast game.Broadcaster
	Variants  map[string]engine.Config
	Logger    *log.Logger
	Clock     quartz.Clock
	Metrics   *metrics.Metrics
}

// Queue is the matchmaking service. The list mutex is never held across
// store calls; the per-variant match locks are.
type Queue struct {
	logger    *log.Logger
	store     store.Store
	registry  *game.Registry
	broadcast game.Broadcaster
	clock     quartz.Clock
	metrics   *metrics.Metrics
	variants  map[string]engine.Config

	mu      sync.Mutex
	waiting map[string][]waiter
	timers  map[string]*quartz.Timer
	locks   map[string]*sync.Mutex
	botSeq  int
}

// New builds the queue.
func New(opts Options) *Queue {
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
	return &Queue{
		logger:    logger.WithPrefix("queue"),
		store:     opts.Store,
		registry:  opts.Registry,
		broadcast: opts.Broadcast,
		clock:     clock,
		metrics:   m,
		variants:  opts.Variants,
		waiting:   make(map[string][]waiter),
		timers:    make(map[string]*quartz.Timer),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Join validates and enqueues a player, then tries to match. A player
// already in the queue is refreshed in place, keeping their priority.
// Returns the 1-based queue position.
func (q *Queue) Join(ctx context.Context, userID, name, variant string) (int, error) {
	cfg, ok := q.variants[variant]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	if gameID, active, err := q.store.UserActiveGame(ctx, userID); err != nil {
		return 0, fmt.Errorf("queue: checking active game: %w", err)
	} else if active {
		return 0, &ActiveGameError{GameID: gameID}
	}
	if buyIn := q.buyIn(cfg); buyIn > 0 {
		balance, err := q.store.Balance(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("queue: checking balance: %w", err)
		}
		if balance < buyIn {
			return 0, fmt.Errorf("%w: need %d, have %d", store.ErrInsufficientChips, buyIn, balance)
		}
	}

	now := q.clock.Now()
	q.mu.Lock()
	list := q.waiting[variant]
	pos := 0
	for i := range list {
		if list[i].UserID == userID {
			list[i].Name = name
			pos = i + 1
			break
		}
	}
	if pos == 0 {
		list = append(list, waiter{UserID: userID, Name: name, JoinedAt: now})
		q.waiting[variant] = list
		pos = len(list)
	}
	q.metrics.QueueWaiting.WithLabelValues(variant).Set(float64(len(list)))
	q.armBotFill(variant, cfg)
	q.mu.Unlock()

	q.logger.Info("player queued", "user", userID, "variant", variant, "position", pos)
	q.broadcast.ToUser(userID, "queue_update", queueUpdate{Variant: variant, Position: pos})
	q.broadcastInfo(variant, cfg)
	q.tryMatch(ctx, variant, cfg)
	return pos, nil
}

// Leave removes the player from one variant's queue.
func (q *Queue) Leave(userID, variant string) {
	cfg, ok := q.variants[variant]
	if !ok {
		return
	}
	if q.remove(userID, variant) {
		q.logger.Info("player left queue", "user", userID, "variant", variant)
		q.broadcastInfo(variant, cfg)
	}
}

// Drop removes the player from every queue. The transport calls it when a
// waiter's connection closes.
func (q *Queue) Drop(userID string) {
	for variant, cfg := range q.variants {
		if q.remove(userID, variant) {
			q.broadcastInfo(variant, cfg)
		}
	}
}

// Waiting returns the queue length for a variant.
func (q *Queue) Waiting(variant string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting[variant])
}

func (q *Queue) remove(userID, variant string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.waiting[variant]
	for i := range list {
		if list[i].UserID == userID {
			q.waiting[variant] = append(list[:i], list[i+1:]...)
			q.metrics.QueueWaiting.WithLabelValues(variant).Set(float64(len(q.waiting[variant])))
			q.disarmIfEmpty(variant)
			return true
		}
	}
	return false
}

// buyIn returns the chips reserved per player; only cash tables charge.
func (q *Queue) buyIn(cfg engine.Config) int {
	if cfg.Category == engine.CategoryCash {
		return cfg.BuyIn
	}
	return 0
}

// tryMatch starts games while the variant queue holds a full table. The
// per-variant lock serializes concurrent attempts so both observe disjoint
// waiter sets.
func (q *Queue) tryMatch(ctx context.Context, variant string, cfg engine.Config) {
	lock := q.matchLock(variant)
	lock.Lock()
	defer lock.Unlock()

	for {
		q.mu.Lock()
		list := q.waiting[variant]
		if len(list) < cfg.MaxPlayers {
			q.mu.Unlock()
			return
		}
		matched := append([]waiter(nil), list[:cfg.MaxPlayers]...)
		q.mu.Unlock()

		if !q.startGame(ctx, variant, cfg, matched) {
			return
		}
	}
}

// startGame reserves the matched waiters, instantiates the session, and
// notifies everyone. Returns false when matching should stop for now.
func (q *Queue) startGame(ctx context.Context, variant string, cfg engine.Config, matched []waiter) bool {
	var humanIDs []string
	specs := make([]game.PlayerSpec, 0, len(matched))
	for _, w := range matched {
		specs = append(specs, game.PlayerSpec{UserID: w.UserID, Name: w.Name, IsBot: w.IsBot})
		if !w.IsBot {
			humanIDs = append(humanIDs, w.UserID)
		}
	}
	if len(humanIDs) == 0 {
		return false
	}
	buyIn := q.buyIn(cfg)

	gameID, err := q.store.StartGameFromQueue(ctx, variant, humanIDs, buyIn)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrPlayersBusy):
		q.evictBusyWaiters(ctx, variant, cfg, matched)
		return true // list changed, caller re-examines
	case errors.Is(err, store.ErrInsufficientChips):
		q.evictShortWaiters(ctx, variant, cfg, matched, buyIn)
		return true
	default:
		q.logger.Error("queue reservation failed", "variant", variant, "error", err)
		return false
	}

	joinCode, err := q.registry.CreateFromMatch(ctx, gameID, variant, specs)
	if err != nil {
		q.logger.Error("matched game could not start, refunding", "game", gameID, "error", err)
		q.abortReservation(ctx, gameID, humanIDs, buyIn)
		return false
	}

	q.mu.Lock()
	list := q.waiting[variant]
	kept := list[:0]
	for _, w := range list {
		if !matchedWaiter(matched, w.UserID) {
			kept = append(kept, w)
		}
	}
	q.waiting[variant] = kept
	q.metrics.QueueWaiting.WithLabelValues(variant).Set(float64(len(kept)))
	q.disarmIfEmpty(variant)
	q.mu.Unlock()

	q.logger.Info("match made", "game", gameID, "variant", variant,
		"players", len(matched), "humans", len(humanIDs), "code", joinCode)
	for _, id := range humanIDs {
		q.broadcast.ToUser(id, "match_found", matchFound{GameID: gameID, JoinCode: joinCode, Variant: variant})
	}
	q.broadcastInfo(variant, cfg)
	return true
}

// evictBusyWaiters re-checks every matched human and drops the ones the
// store already has in a game.
func (q *Queue) evictBusyWaiters(ctx context.Context, variant string, cfg engine.Config, matched []waiter) {
	for _, w := range matched {
		if w.IsBot {
			continue
		}
		gameID, active, err := q.store.UserActiveGame(ctx, w.UserID)
		if err != nil || !active {
			continue
		}
		q.logger.Warn("dropping busy waiter", "user", w.UserID, "variant", variant, "game", gameID)
		if q.remove(w.UserID, variant) {
			q.broadcast.ToUser(w.UserID, "error", map[string]string{
				"message": "already in a game, rejoin it before queueing again",
			})
		}
	}
	q.broadcastInfo(variant, cfg)
}

// evictShortWaiters drops matched humans whose balance no longer covers
// the buy-in.
func (q *Queue) evictShortWaiters(ctx context.Context, variant string, cfg engine.Config, matched []waiter, buyIn int) {
	for _, w := range matched {
		if w.IsBot {
			continue
		}
		balance, err := q.store.Balance(ctx, w.UserID)
		if err != nil || balance >= buyIn {
			continue
		}
		q.logger.Warn("dropping short-stacked waiter", "user", w.UserID, "variant", variant, "balance", balance)
		if q.remove(w.UserID, variant) {
			q.broadcast.ToUser(w.UserID, "error", map[string]string{
				"message": "not enough chips for the buy-in",
			})
		}
	}
	q.broadcastInfo(variant, cfg)
}

// abortReservation unwinds a reservation whose session could not start:
// buy-ins refund through the idempotent ledger and the row finishes so the
// players' reservations release.
func (q *Queue) abortReservation(ctx context.Context, gameID string, humanIDs []string, buyIn int) {
	for _, id := range humanIDs {
		if buyIn <= 0 {
			break
		}
		if err := q.store.PayoutChips(ctx, id, buyIn, "refund:"+gameID+":"+id); err != nil {
			q.logger.Error("refund failed", "game", gameID, "user", id, "error", err)
		}
	}
	row, err := q.store.LoadGame(ctx, gameID)
	if err != nil {
		q.logger.Error("aborting reservation: load failed", "game", gameID, "error", err)
		return
	}
	row.Status = store.StatusFinished
	if err := q.store.SaveGame(ctx, row); err != nil {
		q.logger.Error("aborting reservation: save failed", "game", gameID, "error", err)
	}
}

// armBotFill starts the fill countdown when the first waiter arrives.
// Caller holds the list mutex.
func (q *Queue) armBotFill(variant string, cfg engine.Config) {
	if cfg.BotFillAfter <= 0 || q.timers[variant] != nil || len(q.waiting[variant]) == 0 {
		return
	}
	q.timers[variant] = q.clock.AfterFunc(cfg.BotFillAfter, func() {
		q.botFill(variant, cfg)
	})
}

// disarmIfEmpty clears the fill countdown once nobody waits. Caller holds
// the list mutex.
func (q *Queue) disarmIfEmpty(variant string) {
	if len(q.waiting[variant]) == 0 {
		if t := q.timers[variant]; t != nil {
			t.Stop()
		}
		delete(q.timers, variant)
	}
}

// botFill tops the queue up to a full table with bots after the configured
// wait, then matches.
func (q *Queue) botFill(variant string, cfg engine.Config) {
	q.mu.Lock()
	delete(q.timers, variant)
	list := q.waiting[variant]
	if len(list) == 0 || len(list) >= cfg.MaxPlayers {
		q.mu.Unlock()
		return
	}
	needed := cfg.MaxPlayers - len(list)
	now := q.clock.Now()
	for i := 0; i < needed; i++ {
		q.botSeq++
		list = append(list, waiter{
			UserID:   "bot-" + uuid.NewString()[:8],
			Name:     fmt.Sprintf("Bot %d", q.botSeq),
			IsBot:    true,
			JoinedAt: now,
		})
	}
	q.waiting[variant] = list
	q.metrics.QueueWaiting.WithLabelValues(variant).Set(float64(len(list)))
	q.mu.Unlock()

	q.logger.Info("filling queue with bots", "variant", variant, "bots", needed)
	q.broadcastInfo(variant, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q.tryMatch(ctx, variant, cfg)
}

// broadcastInfo tells every human waiter where the variant's queue stands.
func (q *Queue) broadcastInfo(variant string, cfg engine.Config) {
	q.mu.Lock()
	list := append([]waiter(nil), q.waiting[variant]...)
	q.mu.Unlock()
	needed := cfg.MaxPlayers - len(list)
	if needed < 0 {
		needed = 0
	}
	info := queueInfo{Variant: variant, Count: len(list), Needed: needed, Target: cfg.MaxPlayers}
	for _, w := range list {
		if w.IsBot {
			continue
		}
		q.broadcast.ToUser(w.UserID, "queue_info", info)
	}
}

func (q *Queue) matchLock(variant string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.locks[variant]
	if l == nil {
		l = &sync.Mutex{}
		q.locks[variant] = l
	}
	return l
}

func matchedWaiter(matched []waiter, userID string) bool {
	for _, w := range matched {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

type queueInfo struct {
	Variant string `json:"variant"`
	Count   int    `json:"count"`
	Needed  int    `json:"needed"`
	Target  int    `json:"target"`
}

type queueUpdate struct {
	Variant  string `json:"variant"`
	Position int    `json:"position"`
}

type matchFound struct {
	GameID   string `json:"gameId"`
	JoinCode string `json:"joinCode,omitempty"`
	Variant  string `json:"variant"`
}
