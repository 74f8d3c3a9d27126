package signal

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/collab/internal/app/dirsync"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/tree"
	"github.com/rs/zerolog/log"
)

// directoryPayload covers both request shapes: {type:"CREATE", kind} and
// {action:"CREATE", type:"FILE"}. RENAME may also name the node by its
// parent path plus oldName.
type directoryPayload struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Room      string `json:"room"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	OldName   string `json:"oldName"`
	NewName   string `json:"newName"`
	RequestID string `json:"requestId"`
}

func (p directoryPayload) request(a dirsync.Action) (dirsync.Request, error) {
	kindName := p.Kind
	if kindName == "" && p.Action != "" {
		kindName = p.Type
	}
	kind, err := domain.ParseNodeKind(strings.ToUpper(kindName))
	if err != nil {
		return dirsync.Request{}, err
	}
	req := dirsync.Request{Action: a, Path: p.Path, Name: p.Name, Kind: kind}
	switch a {
	case dirsync.ActionRename:
		if p.OldName != "" {
			req.Path = tree.Join(p.Path, p.OldName)
		}
		if p.NewName != "" {
			req.Name = p.NewName
		}
	case dirsync.ActionDelete:
		if p.Name != "" {
			req.Path = tree.Join(p.Path, p.Name)
		}
	}
	return req, nil
}

func (ctl *SignalWSController) handleDirectory(ctx context.Context, c *WsSignalConn, a dirsync.Action, data []byte) error {
	var p directoryPayload
	if err := decode(data, &p); err != nil {
		return &requestError{err: err, Action: string(a)}
	}
	fail := func(err error, room domain.RoomID) error {
		return &requestError{err: err, Action: string(a), Path: p.Path, Room: room, RequestID: p.RequestID}
	}

	req, err := p.request(a)
	if err != nil {
		return fail(err, "")
	}
	room, err := ctl.resolveRoom(c, p.Room, domain.RoomKindDirectory)
	if err != nil {
		return fail(err, room)
	}
	if a.Mutates() {
		sess, err := ctl.session(c)
		if err != nil {
			return fail(err, room)
		}
		if !ctl.limiter.Allow(sess.Meta().User.ID) {
			return fail(domain.ErrRateLimited, room)
		}
	}

	// An action that reached the controller completes even if the client
	// disconnects meanwhile.
	pa, err := ctl.Dirs.Handle(context.WithoutCancel(ctx), room, req, c.sid)
	if err != nil {
		return fail(err, room)
	}
	log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Str("action_id", pa.ID.String()).Str("state", string(pa.State)).Msg("directory action done")
	return nil
}

type duplicateReply struct {
	Type      string        `json:"type"`
	Room      domain.RoomID `json:"room"`
	Path      string        `json:"path"`
	Name      string        `json:"name"`
	Exists    bool          `json:"exists"`
	RequestID string        `json:"requestId,omitempty"`
}

func (ctl *SignalWSController) handleCheckDuplicate(ctx context.Context, c *WsSignalConn, data []byte) error {
	var p directoryPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.resolveRoom(c, p.Room, domain.RoomKindDirectory)
	if err != nil {
		return &requestError{err: err, Path: p.Path, Room: room, RequestID: p.RequestID}
	}
	if p.Name == "" {
		return &requestError{err: fmt.Errorf("%w: name is required", domain.ErrBadRequest), Path: p.Path, Room: room, RequestID: p.RequestID}
	}
	exists, err := ctl.Dirs.CheckDuplicateName(ctx, room, p.Path, p.Name)
	if err != nil {
		return &requestError{err: err, Path: p.Path, Room: room, RequestID: p.RequestID}
	}
	ctl.sendJSON(c, duplicateReply{
		Type:      "duplicate_check",
		Room:      room,
		Path:      p.Path,
		Name:      p.Name,
		Exists:    exists,
		RequestID: p.RequestID,
	})
	return nil
}
