package core

import (
	"sync"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room *domain.Room

	mu    sync.RWMutex
	order []SessionID
	bySID map[SessionID]MemberSession

	// pubMu serializes fan-out so all subscribers observe one publish order.
	pubMu sync.Mutex
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

// AddMember reports false when sid was already subscribed.
func (r *roomImpl) AddMember(ms MemberSession) bool {
	sid := ms.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; ok {
		r.bySID[sid] = ms
		return false
	}
	r.bySID[sid] = ms
	r.order = append(r.order, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	for i, s := range r.order {
		if s == sid {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (r *roomImpl) Subscribers() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, len(r.order))
	copy(out, r.order)
	return out
}

func (r *roomImpl) members() []MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberSession, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.bySID[sid])
	}
	return out
}

// Broadcast delivers f to every subscriber except from, in registration
// order. A failing subscriber is reported in Dropped and does not stop the
// fan-out.
func (r *roomImpl) Broadcast(from SessionID, f Frame) PublishResult {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	res := PublishResult{}
	for _, m := range r.members() {
		if m.ID() == from {
			continue
		}
		if err := m.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	out := make([]MemberDTO, 0)
	for _, ms := range r.members() {
		u := ms.Meta().User
		out = append(out, MemberDTO{ID: u.ID, Username: u.Username})
	}
	return out
}
