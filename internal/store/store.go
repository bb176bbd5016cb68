// Package store persists game rows, hand histories, and the chip ledger.
// Two implementations satisfy the same contract: Postgres for production
// and an in-memory store for tests and the memory driver.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Game row statuses. A session is discoverable for rehydration while its
// row is in one of the first three.
const (
	StatusWaiting  = "waiting"
	StatusStarting = "starting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

var (
	// ErrNoGame means no row exists for the requested game id or join code.
	ErrNoGame = errors.New("store: game not found")
	// ErrPlayersBusy means a queue reservation found at least one player
	// already reserved in another game.
	ErrPlayersBusy = errors.New("store: player already in a game")
	// ErrInsufficientChips means a ledger deduction would take a balance
	// below zero.
	ErrInsufficientChips = errors.New("store: insufficient chips")
	// ErrJoinCodeTaken means another non-finished game row holds the code.
	ErrJoinCodeTaken = errors.New("store: join code already in use")
)

// GameRow is one persisted game. State is the opaque JSON snapshot of the
// hand context plus session fields; it may be empty for roster-only rows
// written at reservation time.
type GameRow struct {
	ID        string
	Variant   string
	Status    string
	State     json.RawMessage
	PlayerIDs []string
	JoinCode  string // empty when unassigned or released
	HostID    string
	IsPrivate bool
	IsPaused  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r GameRow) clone() GameRow {
	out := r
	out.State = append(json.RawMessage(nil), r.State...)
	out.PlayerIDs = append([]string(nil), r.PlayerIDs...)
	return out
}

// HandRecord is one finished hand, keyed by (GameID, HandIndex). Stats is
// queryable summary JSON; Replay is the opaque blob clients use to replay
// the hand. Appends are idempotent so persistence retries are safe.
type HandRecord struct {
	GameID     string
	HandIndex  int
	Stats      json.RawMessage
	Replay     json.RawMessage
	RecordedAt time.Time
}

// Store is the durable collaborator behind the registry, the queue, and the
// effect processor. Implementations must be safe for concurrent use; all
// calls happen outside session mutexes.
type Store interface {
	// SaveGame upserts a game row and syncs the reservation table to the
	// row's roster. Finished rows release their members and join code.
	SaveGame(ctx context.Context, row GameRow) error
	// LoadGame returns the row for a game id, or ErrNoGame.
	LoadGame(ctx context.Context, gameID string) (GameRow, error)
	// LoadGameByJoinCode returns the non-finished row holding the code,
	// or ErrNoGame.
	LoadGameByJoinCode(ctx context.Context, code string) (GameRow, error)

	// StartGameFromQueue atomically reserves the players, deducts buyIn
	// from each (when buyIn > 0), and writes a starting game row. It
	// returns the new game id, or ErrPlayersBusy if any player already
	// holds a reservation, or ErrInsufficientChips if a deduction fails.
	// Nothing is written on error.
	StartGameFromQueue(ctx context.Context, variant string, playerIDs []string, buyIn int) (string, error)
	// UserActiveGame reports the game currently reserving the user.
	UserActiveGame(ctx context.Context, userID string) (gameID string, ok bool, err error)

	// Balance returns the user's chip balance; unknown users have zero.
	Balance(ctx context.Context, userID string) (int, error)
	// DeductChips removes amount from every listed user, all or nothing.
	// The ref key makes retries idempotent per (ref, user).
	DeductChips(ctx context.Context, userIDs []string, amount int, ref string) error
	// PayoutChips credits amount to the user, idempotent per (ref, user).
	PayoutChips(ctx context.Context, userID string, amount int, ref string) error

	// AppendHandHistory records a finished hand. Re-appending the same
	// (game, hand) key is a no-op.
	AppendHandHistory(ctx context.Context, rec HandRecord) error

	Close() error
}

// Open builds a store from the configured driver name.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(dsn)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// buyInRef is the ledger reference used for queue reservations, derived
// from the game id so retried reservations of the same game stay
// idempotent.
func buyInRef(gameID string) string {
	return "buyin:" + gameID
}
