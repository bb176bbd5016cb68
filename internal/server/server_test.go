package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltworks/cardroom/internal/game"
	"github.com/feltworks/cardroom/internal/metrics"
	"github.com/feltworks/cardroom/internal/queue"
	"github.com/feltworks/cardroom/internal/store"
)

// wsFixture runs the full stack over a real websocket: memory store, hub,
// registry, queue, gin routes. Turn timers are long so nothing expires
// mid-test; transition delays are short so hands advance promptly.
type wsFixture struct {
	srv   *Server
	ts    *httptest.Server
	wsURL string
	store *store.Memory
	queue *queue.Queue
	reg   *game.Registry
}

func newWSFixture(t *testing.T, mutate func(*Config)) *wsFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Variants = []VariantConfig{
		{
			Name:              "duo",
			SmallBlind:        5,
			BigBlind:          10,
			StartingStack:     1000,
			MaxPlayers:        2,
			TurnTimerMs:       60000,
			PhaseTransitionMs: 50,
			RunoutDelayMs:     50,
			ShowdownDelayMs:   50,
			Category:          "casual",
		},
	}
	cfg.applyDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := testLogger()
	st := store.NewMemory()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	hub := NewHub(logger, m, nil)
	variants := cfg.EngineVariants()
	reg := game.NewRegistry(game.Options{
		Store:     st,
		Broadcast: hub,
		Variants:  variants,
		Logger:    logger,
		Metrics:   m,
		ReturnURL: cfg.Server.ReturnURL,
	})
	q := queue.New(queue.Options{
		Store:     st,
		Registry:  reg,
		Broadcast: hub,
		Variants:  variants,
		Logger:    logger,
		Metrics:   m,
	})
	s := New(Options{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Queue:    q,
		Hub:      hub,
		Gatherer: promReg,
		Version:  "test",
	})

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	return &wsFixture{
		srv:   s,
		ts:    ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		store: st,
		queue: q,
		reg:   reg,
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *wsFixture) dial(t *testing.T, userID, name string) *wsClient {
	t.Helper()
	u := f.wsURL + "?user_id=" + url.QueryEscape(userID) + "&name=" + url.QueryEscape(name)
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msg ClientMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// waitFor reads frames until one matches the wanted event type. Interleaved
// events are skipped so assertions stay order-independent.
func (c *wsClient) waitFor(eventType string) wireEvent {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var ev wireEvent
		require.NoError(c.t, c.conn.ReadJSON(&ev), "waiting for %q", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

// waitForState reads gameState frames until the predicate accepts one.
func (c *wsClient) waitForState(pred func(game.StateView) bool) game.StateView {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var ev wireEvent
		require.NoError(c.t, c.conn.ReadJSON(&ev), "waiting for gameState")
		if ev.Type != "gameState" {
			continue
		}
		var view game.StateView
		require.NoError(c.t, json.Unmarshal(ev.Data, &view))
		if pred(view) {
			return view
		}
	}
}

func TestHealthVersionAndMetricsEndpoints(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test")

	resp, err = http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cardroom_connections_active")
}

func TestWebsocketRequiresIdentity(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, func(cfg *Config) {
		cfg.Server.AllowedOrigins = []string{"https://felt.example"}
	})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL+"?user_id=mallory", header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	header = http.Header{"Origin": []string{"https://felt.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL+"?user_id=alice", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	_ = conn.Close()
}

func TestPrivateTableFlowOverWebsocket(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	host := f.dial(t, "hank", "Hank")
	host.send(ClientMessage{Type: MsgCreateGame, Variant: "duo"})

	created := host.waitForState(func(v game.StateView) bool { return v.GameID != "" })
	require.Len(t, created.JoinCode, 5)
	assert.True(t, created.IsPrivate)
	assert.Equal(t, "waiting", created.Status)
	gameID := created.GameID

	host.send(ClientMessage{Type: MsgHostSeat, GameID: gameID})
	host.waitForState(func(v game.StateView) bool { return len(v.Players) == 1 })

	guest := f.dial(t, "gina", "Gina")
	guest.send(ClientMessage{Type: MsgJoinGame, JoinCode: created.JoinCode})
	joined := guest.waitForState(func(v game.StateView) bool { return v.GameID == gameID })
	assert.Equal(t, 1, joined.Spectators)

	guest.send(ClientMessage{Type: MsgRequestSeat, GameID: gameID})
	pending := host.waitForState(func(v game.StateView) bool { return len(v.PendingRequests) == 1 })
	assert.Equal(t, "gina", pending.PendingRequests[0].UserID)

	host.send(ClientMessage{Type: MsgAdmin, GameID: gameID, Op: game.AdminApprove, TargetID: "gina"})
	guest.waitForState(func(v game.StateView) bool { return v.YourSeat == 2 })

	host.send(ClientMessage{Type: MsgAdmin, GameID: gameID, Op: game.AdminStartGame})
	// Events are broadcast before the state view, and waitFor cannot look
	// backward, so consume the turn timer event before the preflop state.
	host.waitFor("turn_timer_started")
	host.waitForState(func(v game.StateView) bool { return v.Phase == "preflop" && v.HandNumber == 1 })
	guest.waitForState(func(v game.StateView) bool { return v.Phase == "preflop" })

	// Heads-up: the button posts the small blind and acts first. The host
	// seated first, so hand one opens on them.
	host.send(ClientMessage{Type: MsgAction, GameID: gameID, Action: "fold"})

	action := guest.waitFor("PLAYER_ACTION")
	var played struct {
		Action string `json:"action"`
		Seat   int    `json:"seat"`
	}
	require.NoError(t, json.Unmarshal(action.Data, &played))
	assert.Equal(t, "fold", played.Action)
	assert.Equal(t, 1, played.Seat)

	guest.waitFor("HAND_RUNOUT")
}

func TestQueueMatchOverWebsocket(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	ann := f.dial(t, "ann", "Ann")
	ben := f.dial(t, "ben", "Ben")

	ann.send(ClientMessage{Type: MsgJoinQueue, Variant: "duo"})
	ann.waitFor("queue_update")
	ben.send(ClientMessage{Type: MsgJoinQueue, Variant: "duo"})

	var annMatch, benMatch struct {
		GameID string `json:"gameId"`
	}
	require.NoError(t, json.Unmarshal(ann.waitFor("match_found").Data, &annMatch))
	require.NoError(t, json.Unmarshal(ben.waitFor("match_found").Data, &benMatch))
	require.NotEmpty(t, annMatch.GameID)
	assert.Equal(t, annMatch.GameID, benMatch.GameID)

	ann.send(ClientMessage{Type: MsgJoinGame, GameID: annMatch.GameID})
	ben.send(ClientMessage{Type: MsgJoinGame, GameID: benMatch.GameID})

	ann.waitForState(func(v game.StateView) bool { return v.Phase == "preflop" && v.HandNumber == 1 })
	ben.waitForState(func(v game.StateView) bool { return v.Phase == "preflop" })

	assert.Zero(t, f.queue.Waiting("duo"))
}

func TestErrorEventsAreActorScoped(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	client := f.dial(t, "carl", "Carl")

	client.send(ClientMessage{Type: "bogus"})
	ev := client.waitFor("error")
	var fail ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &fail))
	assert.Contains(t, fail.Message, "unknown message type")

	client.send(ClientMessage{Type: MsgJoinQueue, Variant: "no-such-variant"})
	ev = client.waitFor("error")
	require.NoError(t, json.Unmarshal(ev.Data, &fail))
	assert.Contains(t, fail.Message, "unknown variant")
}

func TestDisconnectDropsQueuedWaiter(t *testing.T) {
	t.Parallel()
	f := newWSFixture(t, nil)

	solo := f.dial(t, "solo", "Solo")
	solo.send(ClientMessage{Type: MsgJoinQueue, Variant: "duo"})
	solo.waitFor("queue_update")
	require.Equal(t, 1, f.queue.Waiting("duo"))

	require.NoError(t, solo.conn.Close())

	require.Eventually(t, func() bool {
		return f.queue.Waiting("duo") == 0
	}, 5*time.Second, 10*time.Millisecond)
}
