package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

type subscribePayload struct {
	Type        string   `json:"type"`
	Topics      []string `json:"topics"`
	Room        string   `json:"room"`
	Kind        string   `json:"kind"`
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
}

func (p subscribePayload) rooms() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(p.Topics)+1)
	for _, t := range p.Topics {
		out = append(out, domain.NormalizeRoomID(domain.RoomID(t)))
	}
	if p.Room != "" {
		out = append(out, domain.NormalizeRoomID(domain.RoomID(p.Room)))
	}
	return out
}

type subscribedReply struct {
	Type  string          `json:"type"`
	Room  domain.RoomID   `json:"room"`
	Kind  domain.RoomKind `json:"kind"`
	Count int             `json:"count"`
}

// authorize admits guests only while authentication is disabled. A token in
// the subscribe frame upgrades a guest connection.
func (ctl *SignalWSController) authorize(c *WsSignalConn, token string) error {
	if ctl.Auth == nil || !ctl.Auth.Enabled() {
		return nil
	}
	sess, err := ctl.session(c)
	if err != nil {
		return err
	}
	if sess.Meta().Authenticated {
		return nil
	}
	id, err := ctl.Auth.Verify(token)
	if err != nil {
		return err
	}
	user, err := domain.NewUser(id.UserID, id.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	sess.Authenticate(*user)
	log.Info().Str("module", "signal").Str("sid", string(c.sid)).Str("user", string(user.ID)).Msg("authenticated")
	return nil
}

func (ctl *SignalWSController) handleSubscribe(_ context.Context, c *WsSignalConn, data []byte) error {
	var p subscribePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := ctl.authorize(c, p.Token); err != nil {
		return err
	}
	if name := firstNonEmpty(p.DisplayName, p.Name); name != "" {
		if err := ctl.rename(c, name); err != nil {
			return err
		}
	}

	rooms := p.rooms()
	if len(rooms) == 0 {
		return fmt.Errorf("%w: no topics", domain.ErrBadRequest)
	}
	var declared domain.RoomKind
	if p.Kind != "" {
		declared = domain.RoomKind(p.Kind)
		if !declared.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidRoomKind, p.Kind)
		}
	}

	for _, id := range rooms {
		kind := domain.KindOf(id)
		if declared != "" && declared != kind {
			ctl.replyError(c, &requestError{
				err:  fmt.Errorf("%w: room %s is %s, not %s", domain.ErrInvalidRoomKind, id, kind, declared),
				Room: id,
			})
			continue
		}
		room, joined, err := ctl.Orch.Subscribe(c.sid, id, kind)
		if err != nil {
			ctl.replyError(c, &requestError{err: err, Room: id})
			continue
		}
		c.setState(stateSubscribed)
		ctl.sendJSON(c, subscribedReply{Type: "subscribed", Room: id, Kind: kind, Count: room.MemberCount()})
		if kind == domain.RoomKindDocument && joined {
			ctl.Relay.OnJoin(id, c.sid)
		}
	}
	return nil
}

func (ctl *SignalWSController) handleUnsubscribe(_ context.Context, c *WsSignalConn, data []byte) error {
	var p subscribePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	for _, id := range p.rooms() {
		ctl.Orch.Unsubscribe(c.sid, id)
		ctl.sendJSON(c, map[string]any{
			"type": "unsubscribed",
			"room": id,
		})
	}
	if len(ctl.Orch.Registry.RoomsOf(c.sid)) == 0 {
		c.setState(stateConnected)
	}
	return nil
}

// handlePublish passes peer signaling messages through to the topic.
func (ctl *SignalWSController) handlePublish(_ context.Context, c *WsSignalConn, data []byte) error {
	var msg map[string]any
	if err := decode(data, &msg); err != nil {
		return err
	}
	topic, _ := msg["topic"].(string)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrBadRequest)
	}
	id := domain.NormalizeRoomID(domain.RoomID(topic))
	if err := ctl.requireRoom(c, id); err != nil {
		return &requestError{err: err, Room: id}
	}
	if _, err := ctl.Relay.Signal(id, msg); err != nil {
		return &requestError{err: err, Room: id}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
