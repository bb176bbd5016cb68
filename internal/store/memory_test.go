package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartGameFromQueueReservesPlayersAtomically(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"u1", "u2", "u3"} {
		m.Credit(id, 500)
	}

	gameID, err := m.StartGameFromQueue(ctx, "six_max", []string{"u1", "u2", "u3"}, 200)
	require.NoError(t, err)
	require.NotEmpty(t, gameID)

	row, err := m.LoadGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, row.Status)
	assert.Equal(t, "six_max", row.Variant)
	assert.Equal(t, []string{"u1", "u2", "u3"}, row.PlayerIDs)

	for _, id := range []string{"u1", "u2", "u3"} {
		got, ok, err := m.UserActiveGame(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, gameID, got)

		bal, err := m.Balance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 300, bal)
	}

	// u3 is still reserved, so a second match including them must fail
	// without touching u4.
	m.Credit("u4", 500)
	_, err = m.StartGameFromQueue(ctx, "six_max", []string{"u3", "u4"}, 200)
	require.ErrorIs(t, err, ErrPlayersBusy)

	bal, err := m.Balance(ctx, "u4")
	require.NoError(t, err)
	assert.Equal(t, 500, bal)
	_, ok, err := m.UserActiveGame(ctx, "u4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartGameFromQueueRejectsShortBalances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	m.Credit("rich", 1000)
	m.Credit("poor", 50)

	_, err := m.StartGameFromQueue(ctx, "heads_up", []string{"rich", "poor"}, 200)
	require.ErrorIs(t, err, ErrInsufficientChips)

	bal, err := m.Balance(ctx, "rich")
	require.NoError(t, err)
	assert.Equal(t, 1000, bal, "failed reservation must not deduct anyone")
}

func TestLedgerOperationsAreIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	m.Credit("u1", 400)

	require.NoError(t, m.DeductChips(ctx, []string{"u1"}, 100, "buyin:g1"))
	require.NoError(t, m.DeductChips(ctx, []string{"u1"}, 100, "buyin:g1"))
	bal, err := m.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 300, bal, "repeated reference must deduct once")

	require.NoError(t, m.PayoutChips(ctx, "u1", 250, "cashout:g1:u1"))
	require.NoError(t, m.PayoutChips(ctx, "u1", 250, "cashout:g1:u1"))
	bal, err = m.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 550, bal, "repeated reference must credit once")
}

func TestDeductChipsIsAllOrNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	m.Credit("u1", 500)
	m.Credit("u2", 10)

	err := m.DeductChips(ctx, []string{"u1", "u2"}, 100, "buyin:g2")
	require.ErrorIs(t, err, ErrInsufficientChips)

	bal, err := m.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500, bal)
}

func TestSaveGameSyncsMembershipAndJoinCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	row := GameRow{
		ID:        "g1",
		Variant:   "private",
		Status:    StatusWaiting,
		PlayerIDs: []string{"host", "guest"},
		JoinCode:  "ABC23",
		HostID:    "host",
		IsPrivate: true,
		State:     json.RawMessage(`{"handNumber":0}`),
	}
	require.NoError(t, m.SaveGame(ctx, row))

	byCode, err := m.LoadGameByJoinCode(ctx, "ABC23")
	require.NoError(t, err)
	assert.Equal(t, "g1", byCode.ID)

	gameID, ok, err := m.UserActiveGame(ctx, "guest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g1", gameID)

	// Dropping a player from the roster releases only that reservation.
	row.PlayerIDs = []string{"host"}
	require.NoError(t, m.SaveGame(ctx, row))
	_, ok, err = m.UserActiveGame(ctx, "guest")
	require.NoError(t, err)
	assert.False(t, ok)

	// Finishing releases the join code and every member.
	row.Status = StatusFinished
	require.NoError(t, m.SaveGame(ctx, row))
	_, err = m.LoadGameByJoinCode(ctx, "ABC23")
	assert.ErrorIs(t, err, ErrNoGame)
	_, ok, err = m.UserActiveGame(ctx, "host")
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := m.LoadGame(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, loaded.JoinCode)
	assert.Equal(t, StatusFinished, loaded.Status)

	// Finished is terminal: a straggling pre-finish snapshot is dropped.
	row.Status = StatusActive
	row.JoinCode = "ABC23"
	require.NoError(t, m.SaveGame(ctx, row))
	loaded, err = m.LoadGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, loaded.Status)
	_, err = m.LoadGameByJoinCode(ctx, "ABC23")
	assert.ErrorIs(t, err, ErrNoGame)
}

func TestSaveGameRejectsDuplicateJoinCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SaveGame(ctx, GameRow{ID: "g1", Status: StatusActive, JoinCode: "ZZ999"}))
	err := m.SaveGame(ctx, GameRow{ID: "g2", Status: StatusWaiting, JoinCode: "ZZ999"})
	require.ErrorIs(t, err, ErrJoinCodeTaken)

	// The holder itself may rewrite its row with the same code.
	require.NoError(t, m.SaveGame(ctx, GameRow{ID: "g1", Status: StatusActive, JoinCode: "ZZ999"}))
}

func TestAppendHandHistoryIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	first := HandRecord{
		GameID:    "g1",
		HandIndex: 3,
		Stats:     json.RawMessage(`{"pot":120}`),
		Replay:    json.RawMessage(`{"events":[]}`),
	}
	require.NoError(t, m.AppendHandHistory(ctx, first))
	require.NoError(t, m.AppendHandHistory(ctx, HandRecord{
		GameID:    "g1",
		HandIndex: 3,
		Stats:     json.RawMessage(`{"pot":999}`),
	}))

	rec, ok := m.HandHistory("g1", 3)
	require.True(t, ok)
	assert.JSONEq(t, `{"pot":120}`, string(rec.Stats), "first append wins")
	assert.False(t, rec.RecordedAt.IsZero())
}

func TestLoadGameReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveGame(ctx, GameRow{
		ID:        "g1",
		Status:    StatusActive,
		PlayerIDs: []string{"u1", "u2"},
	}))

	row, err := m.LoadGame(ctx, "g1")
	require.NoError(t, err)
	row.PlayerIDs[0] = "mutated"

	again, err := m.LoadGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, again.PlayerIDs)
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Parallel()

	s, err := Open("memory", "")
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	_, err = Open("oracle", "")
	require.Error(t, err)
}
