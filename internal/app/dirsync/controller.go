// Package dirsync applies structural file-tree actions and keeps every
// participant of a project's directory room on the same listing.
package dirsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/tree"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher is the slice of the orchestrator the controller needs.
type Publisher interface {
	Publish(id domain.RoomID, f core.Frame, exclude core.SessionID) core.PublishResult
	KindOf(id domain.RoomID) (domain.RoomKind, bool)
}

// Snapshot is the listing broadcast after every accepted action.
type Snapshot struct {
	Action   Action         `json:"action"`
	Path     string         `json:"path"`
	Children []domain.Child `json:"children"`
}

type Controller struct {
	trees  *tree.Manager
	pub    Publisher
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[domain.ProjectKey]*projectLock
}

type projectLock struct {
	sync.Mutex
	refs int
}

func NewController(trees *tree.Manager, pub Publisher) *Controller {
	return &Controller{
		trees:  trees,
		pub:    pub,
		logger: log.With().Str("module", "dirsync").Logger(),
		locks:  make(map[domain.ProjectKey]*projectLock),
	}
}

// lockProject serializes apply, snapshot and publish for one project so
// listings reach the room in the order the mutations were applied. The
// returned func unlocks; an entry is dropped once nobody holds or awaits it.
func (c *Controller) lockProject(key domain.ProjectKey) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &projectLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// projectOf resolves the project behind room. The room must be open and
// registered as a directory room.
func (c *Controller) projectOf(room domain.RoomID) (domain.ProjectKey, error) {
	key, ok := domain.ParseDirectoryRoom(room)
	if !ok {
		return domain.ProjectKey{}, fmt.Errorf("%w: %s is not a directory room", domain.ErrInvalidRoomKind, room)
	}
	kind, ok := c.pub.KindOf(room)
	if !ok {
		return domain.ProjectKey{}, fmt.Errorf("%w: %s is not open", domain.ErrInvalidRoomKind, room)
	}
	if kind != domain.RoomKindDirectory {
		return domain.ProjectKey{}, fmt.Errorf("%w: room %s is %s, not %s", domain.ErrInvalidRoomKind, room, kind, domain.RoomKindDirectory)
	}
	return key, nil
}

// Handle validates and applies req, then publishes the affected directory
// listing to the whole room, sender included. On error nothing is published
// and the returned error is meant for the sender only.
func (c *Controller) Handle(ctx context.Context, room domain.RoomID, req Request, sender core.SessionID) (*PendingAction, error) {
	pa := newPending(room, sender, req)
	logger := c.logger.With().Str("action_id", pa.ID.String()).Str("action", string(req.Action)).Str("room", string(room)).Str("sid", string(sender)).Logger()

	key, err := c.projectOf(room)
	if err != nil {
		return pa, pa.reject(err)
	}
	if err := req.Validate(); err != nil {
		return pa, pa.reject(err)
	}
	pa.State = StateValidated

	unlock := c.lockProject(key)
	defer unlock()

	// Fetched under the lock so Release never drops a store mid-action.
	store, err := c.trees.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("tree unavailable")
		return pa, pa.reject(err)
	}

	parent, err := apply(ctx, store, req)
	if err != nil {
		logger.Info().Err(err).Str("path", req.Path).Msg("action rejected")
		return pa, pa.reject(err)
	}
	pa.State = StateApplied
	pa.Parent = parent

	children, err := store.Snapshot(parent)
	if err != nil {
		// The listing is taken under the project lock, so parent still exists.
		logger.Error().Err(err).Str("path", parent).Msg("snapshot after apply")
		return pa, pa.reject(err)
	}
	b, err := json.Marshal(Snapshot{Action: ActionList, Path: parent, Children: children})
	if err != nil {
		return pa, pa.reject(err)
	}
	pa.Result = c.pub.Publish(room, core.TextFrame(b), "")
	pa.State = StateBroadcast
	logger.Info().Str("path", req.Path).Str("parent", parent).Int("sent_to", pa.Result.SendTo).Msg("action broadcast")
	return pa, nil
}

// apply runs req against the store and returns the canonical directory
// whose listing changed.
func apply(ctx context.Context, store *tree.Store, req Request) (string, error) {
	target, err := tree.Clean(req.Path)
	if err != nil {
		return "", err
	}
	switch req.Action {
	case ActionList:
		if _, err := store.Snapshot(target); err != nil {
			return "", err
		}
		return target, nil
	case ActionCreate:
		kind := req.Kind
		if kind == "" {
			kind = domain.NodeFile
		}
		if _, err := store.CreateChild(ctx, target, req.Name, kind); err != nil {
			return "", err
		}
		return target, nil
	case ActionDelete:
		if err := store.Delete(ctx, target); err != nil {
			return "", err
		}
		return tree.Parent(target)
	case ActionRename:
		if _, err := store.Rename(ctx, target, req.Name); err != nil {
			return "", err
		}
		return tree.Parent(target)
	}
	return "", fmt.Errorf("%w: unknown action %q", domain.ErrBadRequest, req.Action)
}

// CheckDuplicateName is a hint for optimistic UIs. CreateChild and Rename
// re-check under the store lock, so a false answer here guarantees nothing.
func (c *Controller) CheckDuplicateName(ctx context.Context, room domain.RoomID, path, name string) (bool, error) {
	key, err := c.projectOf(room)
	if err != nil {
		return false, err
	}
	store, err := c.trees.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return store.Exists(path, name)
}

// Release unloads the project tree behind a directory room that has just
// closed. It is a no-op if the room was reopened in the meantime.
func (c *Controller) Release(room domain.RoomID) {
	key, ok := domain.ParseDirectoryRoom(room)
	if !ok {
		return
	}
	unlock := c.lockProject(key)
	defer unlock()
	if _, open := c.pub.KindOf(room); open {
		return
	}
	if c.trees.Release(key) {
		c.logger.Info().Str("room", string(room)).Msg("project tree released")
	}
}
