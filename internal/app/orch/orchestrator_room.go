package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connect registers a freshly opened session. cancel stops its pumps.
func (o *Orchestrator) Connect(sess core.MemberSession, cancel func()) {
	o.Registry.BindSession(sess.ID(), sess, cancel)
}

// Subscribe binds sid to a room. joined is false when sid already was a
// subscriber, which keeps repeated subscribes idempotent.
func (o *Orchestrator) Subscribe(sid core.SessionID, id domain.RoomID, kind domain.RoomKind) (room core.RoomService, joined bool, err error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, false, fmt.Errorf("%w: session %s is gone", domain.ErrTransportFailure, sid)
	}
	already := o.Registry.IsSubscribed(sid, id)
	room, err = o.Rooms.Subscribe(id, kind, sess)
	if err != nil {
		return nil, false, err
	}
	if !o.Registry.AddRoom(sid, id) {
		// Disconnected while subscribing.
		if o.Rooms.Unsubscribe(id, sid) {
			o.afterLeave(id)
		}
		return nil, false, fmt.Errorf("%w: session %s is gone", domain.ErrTransportFailure, sid)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Str("kind", string(kind)).Msg("subscribed")
	if !already {
		o.broadcastPresence(id)
	}
	return room, !already, nil
}

func (o *Orchestrator) Unsubscribe(sid core.SessionID, id domain.RoomID) bool {
	o.Registry.RemoveRoom(sid, id)
	if !o.Rooms.Unsubscribe(id, sid) {
		return false
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Msg("unsubscribed")
	o.afterLeave(id)
	return true
}

// Presence is sent to a room after its membership changes.
type Presence struct {
	Type    string           `json:"type"`
	Room    domain.RoomID    `json:"room"`
	Members []core.MemberDTO `json:"members"`
	Count   int              `json:"count"`
}

func (o *Orchestrator) broadcastPresence(id domain.RoomID) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return
	}
	members := room.MembersSnapshot()
	b, err := json.Marshal(Presence{Type: "presence", Room: id, Members: members, Count: len(members)})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("presence marshal")
		return
	}
	o.Publish(id, core.TextFrame(b), "")
}

// RefreshPresence re-announces every room sid is in, after a rename.
func (o *Orchestrator) RefreshPresence(sid core.SessionID) {
	for _, id := range o.Registry.RoomsOf(sid) {
		o.broadcastPresence(id)
	}
}
