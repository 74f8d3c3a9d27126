package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.MemberSession
	Cancel  context.CancelFunc
	Rooms   []domain.RoomID
}

// Registry tracks live sessions and the rooms each one subscribed to, so a
// disconnect can be unwound without scanning every room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSession(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind forgets sid and returns the rooms it was still subscribed to.
func (r *Registry) Unbind(sid core.SessionID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("rooms", len(e.Rooms)).Msg("unbind session")
	return e.Rooms
}

func (r *Registry) AddRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if !slices.Contains(e.Rooms, room) {
		e.Rooms = append(e.Rooms, room)
	}
	return true
}

func (r *Registry) RemoveRoom(sid core.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Rooms = slices.DeleteFunc(e.Rooms, func(id domain.RoomID) bool { return id == room })
	}
}

func (r *Registry) RoomsOf(sid core.SessionID) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	return slices.Clone(e.Rooms)
}

func (r *Registry) IsSubscribed(sid core.SessionID, room domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return ok && slices.Contains(e.Rooms, room)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
