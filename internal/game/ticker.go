package game

import (
	"context"
	"errors"
	"time"

	"github.com/feltworks/cardroom/internal/engine"
)

const (
	watchdogEvery  = 60
	maxStartingAge = 5 * time.Minute
	maxWaitingIdle = 30 * time.Minute
	maxActiveIdle  = 2 * time.Hour
	maxDefaultIdle = 10 * time.Minute
)

// Run drives the heartbeat: deadline enforcement every second, the idle
// watchdog every minute, the persistence retry queue every tick. Blocks
// until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	waiter := r.clock.TickerFunc(ctx, time.Second, func() error {
		r.tick()
		return nil
	}, "heartbeat")
	if err := waiter.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Registry) tick() {
	now := r.clock.Now()
	r.ticks++
	r.enforceDeadlines(now)
	if r.ticks%watchdogEvery == 0 {
		r.watchdog(now)
	}
	r.drainRetryQueue(now)
}

// snapshotSessions copies the session pointers out so ticker work never
// holds the registry mutex while taking a session mutex.
func (r *Registry) snapshotSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// enforceDeadlines folds any actor whose turn clock ran past the grace
// window. Bots get no special treatment; their think timers simply tend to
// fire first.
func (r *Registry) enforceDeadlines(now time.Time) {
	for _, s := range r.snapshotSessions() {
		s.mu.Lock()
		c := s.ctx
		if s.Status == SessionActive && !s.IsPaused && !s.quarantined &&
			c.Phase.Betting() && c.CurrentActorSeat != 0 &&
			!c.ActionDeadline.IsZero() && !now.Before(c.ActionDeadline.Add(deadlineGrace)) {
			seat := c.CurrentActorSeat
			if res, err := engine.ForceFold(c, seat, now); err == nil {
				r.metrics.AutoFolds.Inc()
				r.logger.Info("action deadline expired, folding", "game", s.GameID, "seat", seat)
				r.processResult(s, res, now)
			}
		}
		s.mu.Unlock()
	}
}

// watchdog closes sessions that outlived their useful life.
func (r *Registry) watchdog(now time.Time) {
	for _, s := range r.snapshotSessions() {
		s.mu.Lock()
		if s.Status == SessionFinished {
			s.mu.Unlock()
			continue
		}
		idle := now.Sub(s.lastActivity)
		var reason string
		switch s.Status {
		case SessionStarting:
			if now.Sub(s.createdAt) > maxStartingAge {
				reason = "matched game never started"
			}
		case SessionWaiting:
			if idle > maxWaitingIdle {
				reason = "lobby idle too long"
			}
		case SessionActive:
			if idle > maxActiveIdle {
				reason = "no activity"
			}
		default:
			if idle > maxDefaultIdle {
				reason = "no activity"
			}
		}
		if reason != "" {
			r.metrics.WatchdogKills.WithLabelValues(s.Status).Inc()
			r.logger.Warn("watchdog closing session",
				"game", s.GameID, "status", s.Status, "idle", idle, "reason", reason)
			r.finishGame(s, "watchdog: "+reason, "", now)
		}
		s.mu.Unlock()
	}
}

// drainRetryQueue retries due persistence jobs, dropping each one after
// three failed attempts.
func (r *Registry) drainRetryQueue(now time.Time) {
	r.retryMu.Lock()
	if len(r.retry) == 0 {
		r.retryMu.Unlock()
		return
	}
	var due []persistJob
	keep := r.retry[:0]
	for _, job := range r.retry {
		if now.Before(job.nextTry) {
			keep = append(keep, job)
		} else {
			due = append(due, job)
		}
	}
	r.retry = keep
	r.retryMu.Unlock()

	for _, job := range due {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := r.store.SaveGame(ctx, job.row)
		cancel()
		if err == nil {
			continue
		}
		job.attempts++
		if job.attempts >= persistAttempts {
			r.metrics.PersistFailures.Inc()
			r.logger.Error("dropping persist job", "game", job.row.ID, "attempts", job.attempts, "error", err)
			continue
		}
		job.nextTry = now.Add(persistBackoff << job.attempts)
		r.retryMu.Lock()
		r.retry = append(r.retry, job)
		r.retryMu.Unlock()
	}
}

// Close cancels every session timer and writes final snapshots so a
// restart rehydrates cleanly. The heartbeat should already be stopped.
// Queued retries flush first; the fresh snapshots then supersede them.
func (r *Registry) Close(ctx context.Context) {
	r.retryMu.Lock()
	jobs := r.retry
	r.retry = nil
	r.retryMu.Unlock()
	for _, job := range jobs {
		if err := r.store.SaveGame(ctx, job.row); err != nil {
			r.logger.Error("shutdown persist failed", "game", job.row.ID, "error", err)
		}
	}

	for _, s := range r.snapshotSessions() {
		s.mu.Lock()
		s.stopTimersLocked()
		row := s.snapshotRow()
		s.mu.Unlock()
		if err := r.store.SaveGame(ctx, row); err != nil {
			r.logger.Error("shutdown persist failed", "game", row.ID, "error", err)
		}
	}
}
