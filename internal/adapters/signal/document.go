package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/collab/internal/domain"
)

type updatePayload struct {
	Type string `json:"type"`
	Room string `json:"room"`
	// Delta is base64 on the wire.
	Delta []byte `json:"delta"`
}

// yjsUpdatePayload is what the editor sends: a serialized Node Buffer.
type yjsUpdatePayload struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	} `json:"content"`
}

func (ctl *SignalWSController) relayDelta(c *WsSignalConn, raw string, delta []byte) error {
	id, err := ctl.resolveRoom(c, raw, domain.RoomKindDocument)
	if err != nil {
		return &requestError{err: err, Room: id}
	}
	if _, err := ctl.Relay.OnUpdate(id, c.sid, delta); err != nil {
		return &requestError{err: err, Room: id}
	}
	return nil
}

func (ctl *SignalWSController) handleUpdate(_ context.Context, c *WsSignalConn, data []byte) error {
	var p updatePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.relayDelta(c, p.Room, p.Delta)
}

func (ctl *SignalWSController) handleYjsUpdate(_ context.Context, c *WsSignalConn, data []byte) error {
	var p yjsUpdatePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	delta := make([]byte, len(p.Content.Data))
	for i, v := range p.Content.Data {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: byte %d out of range", domain.ErrBadRequest, i)
		}
		delta[i] = byte(v)
	}
	return ctl.relayDelta(c, p.Room, delta)
}

// handleBinary treats a binary frame as a delta for the only document room
// the connection is subscribed to.
func (ctl *SignalWSController) handleBinary(c *WsSignalConn, data []byte) error {
	return ctl.relayDelta(c, "", data)
}
