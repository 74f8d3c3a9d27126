// Package relay forwards document CRDT deltas between the participants of a
// document room. Deltas are opaque: the relay never decodes, merges or stores
// them, so a room without other subscribers simply drops what it receives.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Broker is the slice of the orchestrator the relay needs.
type Broker interface {
	Publish(id domain.RoomID, f core.Frame, exclude core.SessionID) core.PublishResult
	Send(sid core.SessionID, f core.Frame) error
	Subscribers(id domain.RoomID) []core.SessionID
	KindOf(id domain.RoomID) (domain.RoomKind, bool)
}

type FrameMode string

const (
	// FrameBinary sends the raw delta bytes, what the editor binding expects.
	FrameBinary FrameMode = "binary"
	// FrameJSON wraps the delta in an update envelope so a client subscribed
	// to several documents can tell them apart.
	FrameJSON FrameMode = "json"
)

type Relay struct {
	broker Broker
	mode   FrameMode
	logger zerolog.Logger
}

func New(broker Broker, mode FrameMode) *Relay {
	if mode != FrameJSON {
		mode = FrameBinary
	}
	return &Relay{
		broker: broker,
		mode:   mode,
		logger: log.With().Str("module", "relay").Logger(),
	}
}

// Update is the JSON form of a relayed delta. []byte travels as base64.
type Update struct {
	Type  string        `json:"type"`
	Room  domain.RoomID `json:"room"`
	Delta []byte        `json:"delta"`
}

// SyncRequest asks an existing peer to push its full document state.
type SyncRequest struct {
	Type string         `json:"type"`
	Room domain.RoomID  `json:"room"`
	Peer core.SessionID `json:"peer"`
}

func (r *Relay) checkRoom(id domain.RoomID) error {
	kind, ok := r.broker.KindOf(id)
	if ok && kind != domain.RoomKindDocument {
		return fmt.Errorf("%w: room %s is a %s room", domain.ErrInvalidRoomKind, id, kind)
	}
	return nil
}

// OnUpdate rebroadcasts delta verbatim to every subscriber of id except sender.
func (r *Relay) OnUpdate(id domain.RoomID, sender core.SessionID, delta []byte) (core.PublishResult, error) {
	if len(delta) == 0 {
		return core.PublishResult{}, fmt.Errorf("%w: empty delta", domain.ErrBadRequest)
	}
	if err := r.checkRoom(id); err != nil {
		return core.PublishResult{}, err
	}

	f := core.BinaryFrame(delta)
	if r.mode == FrameJSON {
		b, err := json.Marshal(Update{Type: "update", Room: id, Delta: delta})
		if err != nil {
			return core.PublishResult{}, err
		}
		f = core.TextFrame(b)
	}
	res := r.broker.Publish(id, f, sender)
	r.logger.Debug().Str("room", string(id)).Str("sid", string(sender)).Int("bytes", len(delta)).Int("sent_to", res.SendTo).Msg("delta relayed")
	return res, nil
}

// OnJoin asks the earliest other subscriber to send the joiner a full state
// update. Nothing verifies that the peer complies; with no peer left the
// joiner starts from an empty document.
func (r *Relay) OnJoin(id domain.RoomID, joiner core.SessionID) (core.SessionID, bool) {
	for _, sid := range r.broker.Subscribers(id) {
		if sid == joiner {
			continue
		}
		b, err := json.Marshal(SyncRequest{Type: "sync_request", Room: id, Peer: joiner})
		if err != nil {
			return "", false
		}
		if err := r.broker.Send(sid, core.TextFrame(b)); err != nil {
			r.logger.Warn().Err(err).Str("room", string(id)).Str("peer", string(sid)).Msg("sync request not delivered")
			continue
		}
		r.logger.Info().Str("room", string(id)).Str("joiner", string(joiner)).Str("peer", string(sid)).Msg("sync requested")
		return sid, true
	}
	r.logger.Info().Str("room", string(id)).Str("joiner", string(joiner)).Msg("no peer to resync from")
	return "", false
}

// Signal passes a signaling message to every subscriber of the topic,
// sender included, annotated with the subscriber count.
func (r *Relay) Signal(id domain.RoomID, msg map[string]any) (core.PublishResult, error) {
	if err := r.checkRoom(id); err != nil {
		return core.PublishResult{}, err
	}
	msg["clients"] = len(r.broker.Subscribers(id))
	b, err := json.Marshal(msg)
	if err != nil {
		return core.PublishResult{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	return r.broker.Publish(id, core.TextFrame(b), ""), nil
}
