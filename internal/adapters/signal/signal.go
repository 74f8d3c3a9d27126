// Package signal is the session gateway: it upgrades WebSocket connections,
// runs their pumps and dispatches client messages to the relay and the
// directory controller.
package signal

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/collab/internal/app/dirsync"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/app/relay"
	"github.com/dkeye/collab/internal/auth"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	SendQueue      int
	ActionLimit    int
	ActionWindow   time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.ActionLimit <= 0 {
		o.ActionLimit = 20
	}
	if o.ActionWindow <= 0 {
		o.ActionWindow = time.Second
	}
	return o
}

type SignalWSController struct {
	Orch  *orch.Orchestrator
	Relay *relay.Relay
	Dirs  *dirsync.Controller
	Auth  *auth.Verifier

	opts     Options
	limiter  *RoomRateLimiter
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, r *relay.Relay, d *dirsync.Controller, v *auth.Verifier, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch:    o,
		Relay:   r,
		Dirs:    d,
		Auth:    v,
		opts:    opts,
		limiter: NewRoomRateLimiter(opts.ActionLimit, opts.ActionWindow),
	}
	ctl.upgrader = websocket.Upgrader{CheckOrigin: ctl.checkOrigin}
	ctl.handlers = ctl.dispatchTable()
	return ctl
}

// checkOrigin admits every origin when none are configured.
func (ctl *SignalWSController) checkOrigin(r *http.Request) bool {
	if len(ctl.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(ctl.opts.AllowedOrigins, r.Header.Get("Origin"))
}

type connState int32

const (
	stateConnected connState = iota
	stateSubscribed
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateSubscribed:
		return "subscribed"
	}
	return "closed"
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	sid   core.SessionID
	state atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) State() connState { return connState(c.state.Load()) }

// setState never leaves the closed state.
func (c *WsSignalConn) setState(s connState) {
	for {
		cur := c.state.Load()
		if connState(cur) == stateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Store(int32(stateClosed))
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// requestToken looks for a bearer token in the header, then in ?token=.
func requestToken(r *http.Request) string {
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// identify builds the member behind a connection. A token that fails to
// verify leaves a guest; subscribe decides whether guests are admitted.
func (ctl *SignalWSController) identify(token string) domain.Member {
	if token != "" && ctl.Auth != nil && ctl.Auth.Enabled() {
		id, err := ctl.Auth.Verify(token)
		if err == nil {
			if user, err := domain.NewUser(id.UserID, id.Name); err == nil {
				return domain.NewMember(*user, true)
			}
		} else {
			log.Info().Err(err).Str("module", "signal").Msg("token rejected at connect")
		}
	}
	return domain.NewMember(*domain.NewGuest(), false)
}

// HandleSignal upgrades the request and starts the connection pumps. Every
// connection is its own session, so one browser can hold several.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := requestToken(c.Request)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendQueue),
		sid:  sid,
	}
	sess := core.NewMemberSession(sid, ctl.identify(token), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// Run sweeps idle rate limiter entries until ctx is done.
func (ctl *SignalWSController) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ctl.limiter.Sweep()
		}
	}
}
