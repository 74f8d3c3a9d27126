package app

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the room registry. Membership changes take the manager
// lock so a room can never be deleted while a concurrent subscribe is adding
// to it.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

var _ core.RoomManager = (*RoomManagerImpl)(nil)

// Subscribe is idempotent. The room is created on first subscribe; a later
// subscriber declaring another kind gets ErrInvalidRoomKind.
func (f *RoomManagerImpl) Subscribe(id domain.RoomID, kind domain.RoomKind, ms core.MemberSession) (core.RoomService, error) {
	if id == "" || len(id) > domain.MaxRoomIDLen {
		return nil, fmt.Errorf("%w: room id", domain.ErrBadRequest)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRoomKind, kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if ok && room.Room().Kind != kind {
		return nil, fmt.Errorf("%w: room %s is %s, not %s", domain.ErrInvalidRoomKind, id, room.Room().Kind, kind)
	}
	if !ok {
		room = core.NewRoomService(&domain.Room{ID: id, Kind: kind})
		f.rooms[id] = room
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("kind", string(kind)).Msg("room created")
	}
	room.AddMember(ms)
	return room, nil
}

// Unsubscribe removes sid and deletes the room once it is empty.
func (f *RoomManagerImpl) Unsubscribe(id domain.RoomID, sid core.SessionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return false
	}
	removed := room.RemoveMember(sid)
	if room.MemberCount() == 0 {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	}
	return removed
}

// Publish drops the frame silently when the room does not exist.
func (f *RoomManagerImpl) Publish(id domain.RoomID, fr core.Frame, exclude core.SessionID) core.PublishResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Broadcast(exclude, fr)
}

func (f *RoomManagerImpl) GetRoom(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, Kind: r.Room().Kind, MemberCount: r.MemberCount()})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}
