package orch

import (
	"fmt"
	"sync"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator ties the session registry, the room registry and the
// backpressure policy together. Every fan-out in the process goes through
// Publish so the policy sees every dropped delivery.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy

	mu       sync.RWMutex
	onClosed []func(domain.RoomID)
}

func New(policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   policy,
	}
}

func (o *Orchestrator) Publish(id domain.RoomID, f core.Frame, exclude core.SessionID) core.PublishResult {
	res := o.Rooms.Publish(id, f, exclude)
	if len(res.Dropped) == 0 || o.Policy == nil {
		return res
	}
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return res
	}
	for _, slow := range res.Dropped {
		log.Warn().Str("module", "orch").Str("room", string(id)).Str("sid", string(slow.ID())).Msg("delivery failed")
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.KickBySID(slow.ID())
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
	return res
}

// Send delivers one frame to a single session, outside any room.
func (o *Orchestrator) Send(sid core.SessionID, f core.Frame) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return fmt.Errorf("%w: session %s is gone", domain.ErrTransportFailure, sid)
	}
	if err := sess.Signal().TrySend(f); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	return nil
}

// Subscribers returns the session ids of a room in registration order.
func (o *Orchestrator) Subscribers(id domain.RoomID) []core.SessionID {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return nil
	}
	return room.Subscribers()
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Registry.Cancel(sid)
	o.OnDisconnect(sid)
}

// OnDisconnect unsubscribes sid from every room it joined and closes its
// transport. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	sess, ok := o.Registry.GetSession(sid)
	rooms := o.Registry.Unbind(sid)
	for _, id := range rooms {
		if o.Rooms.Unsubscribe(id, sid) {
			o.afterLeave(id)
		}
	}
	if ok {
		sess.Signal().Close()
	}
}

// OnRoomClosed registers fn to run after the last subscriber leaves a room
// and the room is deleted.
func (o *Orchestrator) OnRoomClosed(fn func(domain.RoomID)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onClosed = append(o.onClosed, fn)
}

// afterLeave announces the new membership, or runs the close hooks when the
// room is gone.
func (o *Orchestrator) afterLeave(id domain.RoomID) {
	if _, ok := o.Rooms.GetRoom(id); ok {
		o.broadcastPresence(id)
		return
	}
	o.mu.RLock()
	hooks := o.onClosed
	o.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
}

func (o *Orchestrator) KindOf(id domain.RoomID) (domain.RoomKind, bool) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return "", false
	}
	return room.Room().Kind, true
}
