package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/collab/internal/app/dirsync"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ctx done")
			return
		case f, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			mt := websocket.TextMessage
			if f.Binary {
				mt = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(mt, f.Data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			mt, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if mt == websocket.BinaryMessage {
				if err := ctl.handleBinary(c, data); err != nil {
					ctl.replyError(c, err)
				}
				continue
			}
			ctl.handleSignal(ctx, c, data)
		}
	}
}

type handlerFunc func(ctx context.Context, c *WsSignalConn, data []byte) error

func (ctl *SignalWSController) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"subscribe":       ctl.handleSubscribe,
		"unsubscribe":     ctl.handleUnsubscribe,
		"publish":         ctl.handlePublish,
		"update":          ctl.handleUpdate,
		"yjs-update":      ctl.handleYjsUpdate,
		"ping":            ctl.handlePing,
		"whoami":          ctl.handleWhoAmI,
		"nick":            ctl.handleNick,
		"check_duplicate": ctl.handleCheckDuplicate,
	}
}

type envelope struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("bad json")
		ctl.replyError(c, fmt.Errorf("%w: malformed json", domain.ErrBadRequest))
		return
	}
	if err := ctl.dispatch(ctx, c, env, data); err != nil {
		ctl.replyError(c, err)
	}
}

// dispatch routes directory actions first: they arrive either as the type
// itself or as an action field with the node kind in type.
func (ctl *SignalWSController) dispatch(ctx context.Context, c *WsSignalConn, env envelope, data []byte) error {
	if env.Action != "" {
		a, ok := dirsync.ParseAction(env.Action)
		if !ok {
			return fmt.Errorf("%w: action %q", domain.ErrUnsupportedMsg, env.Action)
		}
		return ctl.handleDirectory(ctx, c, a, data)
	}
	if a, ok := dirsync.ParseAction(env.Type); ok {
		return ctl.handleDirectory(ctx, c, a, data)
	}
	h, ok := ctl.handlers[env.Type]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMsg, env.Type)
	}
	return h(ctx, c, data)
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	return nil
}

// requestError carries the request context echoed back with an error.
type requestError struct {
	err       error
	Action    string
	Path      string
	Room      domain.RoomID
	RequestID string
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type ErrorReply struct {
	Type      string        `json:"type"`
	Code      string        `json:"code"`
	Error     string        `json:"error"`
	Action    string        `json:"action,omitempty"`
	Path      string        `json:"path,omitempty"`
	Room      domain.RoomID `json:"room,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
}

// replyError reports err to the offending connection only.
func (ctl *SignalWSController) replyError(c *WsSignalConn, err error) {
	reply := ErrorReply{Type: "error", Code: domain.Code(err), Error: err.Error()}
	var re *requestError
	if errors.As(err, &re) {
		reply.Action, reply.Path, reply.Room, reply.RequestID = re.Action, re.Path, re.Room, re.RequestID
	}
	if reply.Code == domain.CodeInternal {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("internal error")
		reply.Error = "internal error"
	}
	ctl.sendJSON(c, reply)
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(core.TextFrame(b)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("reply dropped")
	}
}

// requireRoom enforces that room-scoped messages only follow a subscribe.
func (ctl *SignalWSController) requireRoom(c *WsSignalConn, id domain.RoomID) error {
	if c.State() != stateSubscribed || !ctl.Orch.Registry.IsSubscribed(c.sid, id) {
		return fmt.Errorf("%w: %s", domain.ErrNotSubscribed, id)
	}
	return nil
}

// resolveRoom normalizes an explicit room or falls back to the single room
// of the given kind the connection is subscribed to.
func (ctl *SignalWSController) resolveRoom(c *WsSignalConn, raw string, kind domain.RoomKind) (domain.RoomID, error) {
	if raw != "" {
		id := domain.NormalizeRoomID(domain.RoomID(raw))
		return id, ctl.requireRoom(c, id)
	}
	var found []domain.RoomID
	for _, id := range ctl.Orch.Registry.RoomsOf(c.sid) {
		if k, ok := ctl.Orch.KindOf(id); ok && k == kind {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no %s room", domain.ErrNotSubscribed, kind)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%w: room is required with %d %s rooms open", domain.ErrBadRequest, len(found), kind)
}

func (ctl *SignalWSController) session(c *WsSignalConn) (core.MemberSession, error) {
	sess, ok := ctl.Orch.Registry.GetSession(c.sid)
	if !ok {
		return nil, fmt.Errorf("%w: session %s is gone", domain.ErrTransportFailure, c.sid)
	}
	return sess, nil
}
