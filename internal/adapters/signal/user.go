package signal

import (
	"context"
	"fmt"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) rename(c *WsSignalConn, name string) error {
	sess, err := ctl.session(c)
	if err != nil {
		return err
	}
	if err := sess.Rename(name); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	log.Info().Str("module", "signal").Str("sid", string(c.sid)).Str("name", name).Msg("rename")
	return nil
}

func (ctl *SignalWSController) handleNick(ctx context.Context, c *WsSignalConn, data []byte) error {
	var p struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := ctl.rename(c, p.Name); err != nil {
		return err
	}
	if err := ctl.handleWhoAmI(ctx, c, nil); err != nil {
		return err
	}
	ctl.Orch.RefreshPresence(c.sid)
	return nil
}

type whoAmIReply struct {
	Type          string          `json:"type"`
	ID            domain.UserID   `json:"id"`
	Username      string          `json:"username"`
	Authenticated bool            `json:"authenticated"`
	State         string          `json:"state"`
	Rooms         []domain.RoomID `json:"rooms"`
}

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, c *WsSignalConn, _ []byte) error {
	sess, err := ctl.session(c)
	if err != nil {
		return err
	}
	meta := sess.Meta()
	rooms := ctl.Orch.Registry.RoomsOf(c.sid)
	if rooms == nil {
		rooms = []domain.RoomID{}
	}
	ctl.sendJSON(c, whoAmIReply{
		Type:          "whoami",
		ID:            meta.User.ID,
		Username:      meta.User.Username,
		Authenticated: meta.Authenticated,
		State:         c.State().String(),
		Rooms:         rooms,
	})
	return nil
}
