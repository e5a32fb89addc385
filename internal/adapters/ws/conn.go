// Package ws is the server-side websocket transport for signaling.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/app"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/signal"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

const writeWait = 5 * time.Second

type Controller struct {
	Router     *app.Router
	Lifecycle  *app.Lifecycle
	Conns      *app.ConnTable
	Limiter    *RateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(router *app.Router, lifecycle *app.Lifecycle, conns *app.ConnTable, limiter *RateLimiter, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Router:     router,
		Lifecycle:  lifecycle,
		Conns:      conns,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// Conn implements core.SignalConnection over a websocket.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the pumps. A fresh ConnID
// is minted per socket and never reused after disconnect.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "ws").Str("conn", string(sid)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}

	conn := &Conn{
		conn: sock,
		send: make(chan core.Frame, 32),
	}
	ctl.Conns.Bind(sid, conn)

	// The disconnect signal reaches the lifecycle manager exactly once,
	// however the read loop terminates.
	var disconnectOnce sync.Once
	disconnect := func() {
		disconnectOnce.Do(func() {
			ctl.Lifecycle.Disconnect(sid)
			conn.Close()
		})
	}

	if welcome, err := signal.New(signal.TypeWelcome, "", signal.WelcomePayload{ConnectionID: sid}); err == nil {
		ctl.sendEnvelope(conn, welcome)
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn, disconnect)
}
