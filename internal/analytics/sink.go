package analytics

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/charmbracelet/log"
)

// ClickHouse batch-inserts hand summaries into the hands and hand_actions
// tables.
type ClickHouse struct {
	conn   driver.Conn
	logger *log.Logger
}

// NewClickHouse opens the native connection and bootstraps the schema.
func NewClickHouse(ctx context.Context, addrs []string, database, username, password string, logger *log.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: addrs,
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("analytics: ping clickhouse: %w", err)
	}
	sink := &ClickHouse{conn: conn, logger: logger.WithPrefix("clickhouse")}
	if err := sink.createTables(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func (c *ClickHouse) createTables(ctx context.Context) error {
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS hands (
			game_id String,
			hand_index UInt32,
			variant String,
			small_blind UInt32,
			big_blind UInt32,
			pot_total UInt64,
			players UInt8,
			showdown Bool,
			winners Array(String),
			board Array(String),
			started_at DateTime64(3),
			ended_at DateTime64(3)
		) ENGINE = MergeTree ORDER BY (game_id, hand_index)`,
		`CREATE TABLE IF NOT EXISTS hand_actions (
			game_id String,
			hand_index UInt32,
			player_id String,
			seat UInt8,
			street String,
			action String,
			amount UInt64,
			pot_size UInt64,
			stack_size UInt64,
			is_bot Bool,
			ts DateTime64(3)
		) ENGINE = MergeTree ORDER BY (game_id, hand_index, ts)`,
	}
	for _, ddl := range ddls {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("analytics: create tables: %w", err)
		}
	}
	return nil
}

// InsertHands writes one batch of summaries plus their action rows.
func (c *ClickHouse) InsertHands(ctx context.Context, hands []HandSummary) error {
	if len(hands) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO hands")
	if err != nil {
		return fmt.Errorf("analytics: prepare hands batch: %w", err)
	}
	for _, h := range hands {
		err := batch.Append(
			h.GameID,
			uint32(h.HandIndex),
			h.Variant,
			uint32(h.SmallBlind),
			uint32(h.BigBlind),
			uint64(h.PotTotal),
			uint8(h.Players),
			h.Showdown,
			h.Winners,
			h.Board,
			h.StartedAt,
			h.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("analytics: append hand %s/%d: %w", h.GameID, h.HandIndex, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("analytics: send hands batch: %w", err)
	}

	actions, err := c.conn.PrepareBatch(ctx, "INSERT INTO hand_actions")
	if err != nil {
		return fmt.Errorf("analytics: prepare actions batch: %w", err)
	}
	rows := 0
	for _, h := range hands {
		for _, a := range h.Actions {
			err := actions.Append(
				a.GameID,
				uint32(a.HandIndex),
				a.PlayerID,
				uint8(a.Seat),
				a.Street,
				a.Action,
				uint64(a.Amount),
				uint64(a.PotSize),
				uint64(a.StackSize),
				a.IsBot,
				a.Timestamp,
			)
			if err != nil {
				return fmt.Errorf("analytics: append action: %w", err)
			}
			rows++
		}
	}
	if err := actions.Send(); err != nil {
		return fmt.Errorf("analytics: send actions batch: %w", err)
	}

	c.logger.Debug("flushed batch", "hands", len(hands), "actions", rows)
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
