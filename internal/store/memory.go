package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-memory Store used by tests and the "memory" driver.
// Everything lives behind one mutex; the call volume is one write per
// completed hand plus queue reservations, so contention is irrelevant.
type Memory struct {
	mu       sync.Mutex
	games    map[string]GameRow
	members  map[string]string // userID -> gameID
	codes    map[string]string // joinCode -> gameID
	balances map[string]int
	ledger   map[string]int // ledgerKey(ref, userID) -> delta
	hands    map[string]HandRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		games:    make(map[string]GameRow),
		members:  make(map[string]string),
		codes:    make(map[string]string),
		balances: make(map[string]int),
		ledger:   make(map[string]int),
		hands:    make(map[string]HandRecord),
	}
}

// Credit funds a user outside the ledger. Test and provisioning helper.
func (m *Memory) Credit(userID string, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
}

func ledgerKey(ref, userID string) string {
	return ref + "\x00" + userID
}

func handKey(gameID string, handIndex int) string {
	return fmt.Sprintf("%s\x00%d", gameID, handIndex)
}

func (m *Memory) SaveGame(_ context.Context, row GameRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.games[row.ID]

	// Finished is terminal. A late async snapshot from before the finish
	// must not resurrect the row or its join code.
	if exists && prev.Status == StatusFinished && row.Status != StatusFinished {
		return nil
	}

	if row.JoinCode != "" && row.Status != StatusFinished {
		if holder, ok := m.codes[row.JoinCode]; ok && holder != row.ID {
			return ErrJoinCodeTaken
		}
	}

	now := time.Now().UTC()
	if exists {
		row.CreatedAt = prev.CreatedAt
		if prev.JoinCode != "" && prev.JoinCode != row.JoinCode {
			delete(m.codes, prev.JoinCode)
		}
	} else if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	if row.Status == StatusFinished {
		delete(m.codes, row.JoinCode)
		row.JoinCode = ""
		for user, game := range m.members {
			if game == row.ID {
				delete(m.members, user)
			}
		}
	} else {
		if row.JoinCode != "" {
			m.codes[row.JoinCode] = row.ID
		}
		keep := make(map[string]bool, len(row.PlayerIDs))
		for _, id := range row.PlayerIDs {
			keep[id] = true
			m.members[id] = row.ID
		}
		for user, game := range m.members {
			if game == row.ID && !keep[user] {
				delete(m.members, user)
			}
		}
	}

	m.games[row.ID] = row.clone()
	return nil
}

func (m *Memory) LoadGame(_ context.Context, gameID string) (GameRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.games[gameID]
	if !ok {
		return GameRow{}, ErrNoGame
	}
	return row.clone(), nil
}

func (m *Memory) LoadGameByJoinCode(_ context.Context, code string) (GameRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gameID, ok := m.codes[code]
	if !ok {
		return GameRow{}, ErrNoGame
	}
	return m.games[gameID].clone(), nil
}

func (m *Memory) StartGameFromQueue(_ context.Context, variant string, playerIDs []string, buyIn int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range playerIDs {
		if game, busy := m.members[id]; busy {
			return "", fmt.Errorf("%w: %s in %s", ErrPlayersBusy, id, game)
		}
	}
	if buyIn > 0 {
		for _, id := range playerIDs {
			if m.balances[id] < buyIn {
				return "", fmt.Errorf("%w: %s", ErrInsufficientChips, id)
			}
		}
	}

	gameID := uuid.NewString()
	if buyIn > 0 {
		ref := buyInRef(gameID)
		for _, id := range playerIDs {
			m.balances[id] -= buyIn
			m.ledger[ledgerKey(ref, id)] = -buyIn
		}
	}
	for _, id := range playerIDs {
		m.members[id] = gameID
	}
	now := time.Now().UTC()
	m.games[gameID] = GameRow{
		ID:        gameID,
		Variant:   variant,
		Status:    StatusStarting,
		PlayerIDs: append([]string(nil), playerIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return gameID, nil
}

func (m *Memory) UserActiveGame(_ context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gameID, ok := m.members[userID]
	return gameID, ok, nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) DeductChips(_ context.Context, userIDs []string, amount int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// First pass validates so the whole batch is all-or-nothing.
	var pending []string
	for _, id := range userIDs {
		if _, done := m.ledger[ledgerKey(ref, id)]; done {
			continue
		}
		if m.balances[id] < amount {
			return fmt.Errorf("%w: %s", ErrInsufficientChips, id)
		}
		pending = append(pending, id)
	}
	for _, id := range pending {
		m.balances[id] -= amount
		m.ledger[ledgerKey(ref, id)] = -amount
	}
	return nil
}

func (m *Memory) PayoutChips(_ context.Context, userID string, amount int, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(ref, userID)
	if _, done := m.ledger[key]; done {
		return nil
	}
	m.balances[userID] += amount
	m.ledger[key] = amount
	return nil
}

func (m *Memory) AppendHandHistory(_ context.Context, rec HandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := handKey(rec.GameID, rec.HandIndex)
	if _, done := m.hands[key]; done {
		return nil
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	m.hands[key] = rec
	return nil
}

// HandHistory returns the recorded hand, test helper.
func (m *Memory) HandHistory(gameID string, handIndex int) (HandRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.hands[handKey(gameID, handIndex)]
	return rec, ok
}

func (m *Memory) Close() error { return nil }
