package server

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/feltworks/cardroom/internal/engine"
	"github.com/feltworks/cardroom/internal/game"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Connection wraps one websocket with its identity and send queue. Identity
// is fixed at upgrade time; the pumps shut the connection down on the first
// read or write failure.
type Connection struct {
	conn      *websocket.Conn
	send      chan *ServerMessage
	userID    string
	name      string
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	srv       *Server
}

func newConnection(conn *websocket.Conn, userID, name string, srv *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:   conn,
		send:   make(chan *ServerMessage, 256),
		userID: userID,
		name:   name,
		logger: srv.logger.WithPrefix("conn").With("user", userID),
		ctx:    ctx,
		cancel: cancel,
		srv:    srv,
	}
}

// start launches the read and write pumps.
func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// enqueue queues a message for delivery. A client that cannot drain its
// buffer is closed rather than allowed to stall the sender.
func (c *Connection) enqueue(msg *ServerMessage) {
	defer func() {
		if r := recover(); r != nil {
			// Channel closed during shutdown.
			c.logger.Debug("send on closed connection", "recover", r)
		}
	}()

	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("send buffer full, closing connection")
		_ = c.Close()
	}
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage dispatches one client message. Failures are actor-scoped:
// they go back to this connection as an error event, never to the room.
func (c *Connection) handleMessage(msg *ClientMessage) {
	c.logger.Debug("received message", "type", msg.Type, "game", msg.gameKey())

	var err error
	switch msg.Type {
	case MsgAction:
		err = c.doAction(msg)
	case MsgCreateGame:
		err = c.doCreateGame(msg)
	case MsgJoinGame:
		err = c.doJoinGame(msg)
	case MsgLeaveGame:
		err = c.srv.registry.Leave(c.ctx, msg.GameID, c.userID)
		c.srv.hub.Unsubscribe(msg.GameID, c.userID)
	case MsgRequestSeat:
		err = c.srv.registry.RequestSeat(c.ctx, msg.GameID, c.userID, c.name)
	case MsgHostSeat:
		err = c.srv.registry.HostSeat(c.ctx, msg.GameID, c.userID, c.name)
	case MsgAdmin:
		err = c.srv.registry.HandleAdmin(c.ctx, msg.GameID, c.userID, game.AdminCommand{
			Op:         msg.Op,
			TargetID:   msg.TargetID,
			Seat:       msg.Seat,
			Amount:     msg.Amount,
			SmallBlind: msg.SmallBlind,
			BigBlind:   msg.BigBlind,
		})
	case MsgJoinQueue:
		_, err = c.srv.queue.Join(c.ctx, c.userID, c.name, msg.Variant)
	case MsgLeaveQueue:
		c.srv.queue.Leave(c.userID, msg.Variant)
	default:
		c.logger.Warn("unknown message type", "type", msg.Type)
		c.sendError("unknown message type: " + msg.Type)
		return
	}

	if err != nil {
		c.logger.Debug("request failed", "type", msg.Type, "error", err)
		c.sendError(err.Error())
	}
}

func (c *Connection) doAction(msg *ClientMessage) error {
	if msg.Action == "reveal" {
		return c.srv.registry.HandleReveal(c.ctx, msg.GameID, c.userID, msg.Index)
	}
	kind, err := engine.ParseActionKind(msg.Action)
	if err != nil {
		return err
	}
	return c.srv.registry.HandleAction(c.ctx, msg.GameID, c.userID, kind, msg.Amount)
}

func (c *Connection) doCreateGame(msg *ClientMessage) error {
	view, err := c.srv.registry.CreatePrivateGame(c.ctx, c.userID, c.name, msg.Variant)
	if err != nil {
		return err
	}
	c.srv.hub.Subscribe(view.GameID, c.userID)
	c.enqueue(&ServerMessage{Type: "gameState", Data: view, Timestamp: c.srv.now()})
	return nil
}

func (c *Connection) doJoinGame(msg *ClientMessage) error {
	view, err := c.srv.registry.JoinGame(c.ctx, msg.gameKey(), c.userID, c.name)
	if err != nil {
		return err
	}
	c.srv.hub.Subscribe(view.GameID, c.userID)
	c.enqueue(&ServerMessage{Type: "gameState", Data: view, Timestamp: c.srv.now()})
	return nil
}

func (c *Connection) sendError(message string) {
	c.enqueue(&ServerMessage{
		Type:      "error",
		Data:      ErrorData{Message: message},
		Timestamp: c.srv.now(),
	})
}
