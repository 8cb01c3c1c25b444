// Package adapters owns transport endpoints. Adapters create and close
// sinks; core and app never touch transport resources.
package adapters

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/app"
	"github.com/mismatch-chat/relay/internal/config"
	"github.com/mismatch-chat/relay/internal/core"
)

const writeWait = 5 * time.Second

// wsChatConn implements core.Sink over a websocket with a buffered,
// non-blocking send path.
type wsChatConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsChatConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsChatConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// ChatWSController upgrades /ws requests and binds them to router sessions.
type ChatWSController struct {
	Router *app.Router
	Cfg    *config.Config
}

func NewChatWSController(router *app.Router, cfg *config.Config) *ChatWSController {
	return &ChatWSController{Router: router, Cfg: cfg}
}

func (ctl *ChatWSController) upgrader() websocket.Upgrader {
	allowed := ctl.Cfg.AllowedOrigin
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowed == "*" || r.Header.Get("Origin") == allowed
		},
	}
}

// HandleChat upgrades the request and starts the session loop plus both
// transport pumps. The username comes from the query string; the router
// defaults it when absent.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	username := c.Query("username")
	log.Info().Str("module", "adapters.ws").Str("name", username).Str("token", c.GetString("client_token")).Msg("new WS connection")

	up := ctl.upgrader()
	ws, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}

	conn := &wsChatConn{
		conn: ws,
		send: make(chan core.Frame, 256),
	}

	connCtx, cancel := context.WithCancel(ctx)
	sess := ctl.Router.Attach(connCtx, username, conn)

	go sess.Run(connCtx)
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(cancel, sess, conn)
}

func (ctl *ChatWSController) writePump(ctx context.Context, c *wsChatConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (ctl *ChatWSController) readPump(cancel context.CancelFunc, sess *app.Session, c *wsChatConn) {
	defer func() {
		sess.CloseInput()
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "adapters.ws").Str("conn", string(sess.ID())).Msg("readPump closing")
			return
		}
		sess.Enqueue(data)
	}
}
