package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes assembles the HTTP surface.
func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/version", s.handleVersion)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.version})
}

// handleWS upgrades the connection and binds it to the identity presented
// in the query string. A second socket for the same user displaces the
// first; room membership carries over.
func (s *Server) handleWS(gc *gin.Context) {
	userID := gc.Query("user_id")
	name := gc.Query("name")
	if userID == "" {
		gc.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if name == "" {
		name = userID
	}

	ws, err := s.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(ws, userID, name, s)
	if prev := s.hub.register(conn); prev != nil {
		s.logger.Info("displacing previous connection", "user", userID)
		_ = prev.Close()
	}
	conn.start()
	go s.reap(conn)

	s.logger.Info("client connected", "user", userID)
}

// reap waits for the connection to die, then tells the registry and the
// queue. Displaced connections clean up nothing; their user is still here.
func (s *Server) reap(c *Connection) {
	<-c.ctx.Done()
	games, current := s.hub.unregister(c)
	if !current {
		return
	}
	for _, gameID := range games {
		s.registry.Disconnected(gameID, c.userID)
	}
	s.queue.Drop(c.userID)
	s.logger.Info("client disconnected", "user", c.userID, "games", len(games))
}
