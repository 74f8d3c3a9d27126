package dirsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/oklog/ulid/v2"
)

type Action string

const (
	ActionList   Action = "LIST"
	ActionCreate Action = "CREATE"
	ActionDelete Action = "DELETE"
	ActionRename Action = "RENAME"
)

// ParseAction accepts the action names case-insensitively.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToUpper(s)); a {
	case ActionList, ActionCreate, ActionDelete, ActionRename:
		return a, true
	}
	return "", false
}

func (a Action) Mutates() bool { return a != ActionList }

type State string

const (
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateApplied   State = "APPLIED"
	StateBroadcast State = "BROADCAST"
	StateRejected  State = "REJECTED"
)

// Request is one structural action as sent by a client. Name is the new
// child for CREATE and the new name for RENAME.
type Request struct {
	Action Action
	Path   string
	Name   string
	Kind   domain.NodeKind
}

func (r Request) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("%w: path is required", domain.ErrBadRequest)
	}
	switch r.Action {
	case ActionList, ActionDelete:
	case ActionCreate, ActionRename:
		if r.Name == "" {
			return fmt.Errorf("%w: name is required for %s", domain.ErrBadRequest, r.Action)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrBadRequest, r.Action)
	}
	return nil
}

// PendingAction follows one request from receipt to its terminal state,
// BROADCAST or REJECTED.
type PendingAction struct {
	ID      ulid.ULID
	Room    domain.RoomID
	Sender  core.SessionID
	Request Request
	State   State
	// Parent is the directory whose listing was broadcast.
	Parent   string
	Err      error
	Result   core.PublishResult
	Received time.Time
}

func newPending(room domain.RoomID, sender core.SessionID, req Request) *PendingAction {
	return &PendingAction{
		ID:       ulid.Make(),
		Room:     room,
		Sender:   sender,
		Request:  req,
		State:    StateReceived,
		Received: time.Now(),
	}
}

func (p *PendingAction) reject(err error) error {
	p.State = StateRejected
	p.Err = err
	return err
}
