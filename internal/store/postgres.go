package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implements Store on database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the connection, verifies it, and bootstraps the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			game_type TEXT NOT NULL,
			status TEXT NOT NULL,
			state JSONB,
			players JSONB NOT NULL DEFAULT '[]',
			join_code TEXT UNIQUE,
			host_id TEXT NOT NULL DEFAULT '',
			is_private BOOLEAN NOT NULL DEFAULT FALSE,
			is_paused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS game_members (
			user_id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS game_members_game_idx ON game_members (game_id)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chip_ledger (
			reference TEXT NOT NULL,
			user_id TEXT NOT NULL,
			delta BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (reference, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS hand_histories (
			game_id TEXT NOT NULL,
			hand_index INTEGER NOT NULL,
			stats JSONB,
			replay JSONB,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (game_id, hand_index)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create tables: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveGame(ctx context.Context, row GameRow) error {
	players, err := json.Marshal(row.PlayerIDs)
	if err != nil {
		return fmt.Errorf("store: marshal roster: %w", err)
	}
	var state sql.NullString
	if len(row.State) > 0 {
		state = sql.NullString{String: string(row.State), Valid: true}
	}
	var joinCode sql.NullString
	if row.JoinCode != "" && row.Status != StatusFinished {
		joinCode = sql.NullString{String: row.JoinCode, Valid: true}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Finished is terminal: a late snapshot taken before the finish
	// must not resurrect the row or re-claim its join code.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, game_type, status, state, players, join_code, host_id, is_private, is_paused)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			game_type = EXCLUDED.game_type,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			players = EXCLUDED.players,
			join_code = EXCLUDED.join_code,
			host_id = EXCLUDED.host_id,
			is_private = EXCLUDED.is_private,
			is_paused = EXCLUDED.is_paused,
			updated_at = now()
		WHERE games.status <> 'finished'`,
		row.ID, row.Variant, row.Status, state, string(players), joinCode,
		row.HostID, row.IsPrivate, row.IsPaused)
	if err != nil {
		if isUniqueViolation(err, "games_join_code_key") {
			return ErrJoinCodeTaken
		}
		return fmt.Errorf("store: save game %s: %w", row.ID, err)
	}

	if row.Status == StatusFinished {
		if _, err := tx.ExecContext(ctx, `DELETE FROM game_members WHERE game_id = $1`, row.ID); err != nil {
			return fmt.Errorf("store: release members of %s: %w", row.ID, err)
		}
	} else {
		for _, userID := range row.PlayerIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO game_members (user_id, game_id) VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE SET game_id = EXCLUDED.game_id`,
				userID, row.ID)
			if err != nil {
				return fmt.Errorf("store: reserve %s for %s: %w", userID, row.ID, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM game_members WHERE game_id = $1 AND NOT (user_id = ANY($2))`,
			row.ID, pq.Array(row.PlayerIDs))
		if err != nil {
			return fmt.Errorf("store: prune members of %s: %w", row.ID, err)
		}
	}
	return tx.Commit()
}

const gameColumns = `id, game_type, status, COALESCE(state::text, ''), players::text,
	COALESCE(join_code, ''), host_id, is_private, is_paused, created_at, updated_at`

func (p *Postgres) LoadGame(ctx context.Context, gameID string) (GameRow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, gameID)
	return scanGame(row)
}

func (p *Postgres) LoadGameByJoinCode(ctx context.Context, code string) (GameRow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE join_code = $1`, code)
	return scanGame(row)
}

func scanGame(row *sql.Row) (GameRow, error) {
	var (
		out     GameRow
		state   string
		players string
	)
	err := row.Scan(&out.ID, &out.Variant, &out.Status, &state, &players,
		&out.JoinCode, &out.HostID, &out.IsPrivate, &out.IsPaused,
		&out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return GameRow{}, ErrNoGame
	}
	if err != nil {
		return GameRow{}, fmt.Errorf("store: scan game: %w", err)
	}
	if state != "" {
		out.State = json.RawMessage(state)
	}
	if err := json.Unmarshal([]byte(players), &out.PlayerIDs); err != nil {
		return GameRow{}, fmt.Errorf("store: decode roster of %s: %w", out.ID, err)
	}
	return out, nil
}

func (p *Postgres) StartGameFromQueue(ctx context.Context, variant string, playerIDs []string, buyIn int) (string, error) {
	gameID := uuid.NewString()
	players, err := json.Marshal(playerIDs)
	if err != nil {
		return "", fmt.Errorf("store: marshal roster: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, game_type, status, players) VALUES ($1, $2, $3, $4)`,
		gameID, variant, StatusStarting, string(players))
	if err != nil {
		return "", fmt.Errorf("store: reserve game row: %w", err)
	}
	for _, userID := range playerIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO game_members (user_id, game_id) VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING`, userID, gameID)
		if err != nil {
			return "", fmt.Errorf("store: reserve %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("%w: %s", ErrPlayersBusy, userID)
		}
	}
	if buyIn > 0 {
		if err := deductTx(ctx, tx, playerIDs, buyIn, buyInRef(gameID)); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return gameID, nil
}

func (p *Postgres) UserActiveGame(ctx context.Context, userID string) (string, bool, error) {
	var gameID string
	err := p.db.QueryRowContext(ctx,
		`SELECT game_id FROM game_members WHERE user_id = $1`, userID).Scan(&gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: active game of %s: %w", userID, err)
	}
	return gameID, true, nil
}

func (p *Postgres) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: balance of %s: %w", userID, err)
	}
	return balance, nil
}

func (p *Postgres) DeductChips(ctx context.Context, userIDs []string, amount int, ref string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deductTx(ctx, tx, userIDs, amount, ref); err != nil {
		return err
	}
	return tx.Commit()
}

// deductTx applies one idempotent debit per user. The ledger insert is the
// idempotency gate: a retried reference skips the balance update entirely.
func deductTx(ctx context.Context, tx *sql.Tx, userIDs []string, amount int, ref string) error {
	for _, userID := range userIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chip_ledger (reference, user_id, delta) VALUES ($1, $2, $3)
			ON CONFLICT (reference, user_id) DO NOTHING`, ref, userID, -amount)
		if err != nil {
			return fmt.Errorf("store: ledger debit %s: %w", userID, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			continue
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE accounts SET balance = balance - $1, updated_at = now()
			WHERE user_id = $2 AND balance >= $1`, amount, userID)
		if err != nil {
			return fmt.Errorf("store: debit %s: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientChips, userID)
		}
	}
	return nil
}

func (p *Postgres) PayoutChips(ctx context.Context, userID string, amount int, ref string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chip_ledger (reference, user_id, delta) VALUES ($1, $2, $3)
		ON CONFLICT (reference, user_id) DO NOTHING`, ref, userID, amount)
	if err != nil {
		return fmt.Errorf("store: ledger credit %s: %w", userID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = accounts.balance + EXCLUDED.balance,
			updated_at = now()`, userID, amount)
	if err != nil {
		return fmt.Errorf("store: credit %s: %w", userID, err)
	}
	return tx.Commit()
}

func (p *Postgres) AppendHandHistory(ctx context.Context, rec HandRecord) error {
	var stats, replay sql.NullString
	if len(rec.Stats) > 0 {
		stats = sql.NullString{String: string(rec.Stats), Valid: true}
	}
	if len(rec.Replay) > 0 {
		replay = sql.NullString{String: string(rec.Replay), Valid: true}
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hand_histories (game_id, hand_index, stats, replay, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_id, hand_index) DO NOTHING`,
		rec.GameID, rec.HandIndex, stats, replay, recordedAt)
	if err != nil {
		return fmt.Errorf("store: append hand %s/%d: %w", rec.GameID, rec.HandIndex, err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
