package core

import (
	"sync"

	"github.com/dkeye/collab/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	id  SessionID
	sig SignalConnection

	mu   sync.RWMutex
	meta domain.Member
}

func NewMemberSession(id SessionID, meta domain.Member, sig SignalConnection) MemberSession {
	return &memberSession{id: id, meta: meta, sig: sig}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) Signal() SignalConnection { return m.sig }

func (m *memberSession) Meta() domain.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *memberSession) Rename(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.User.SetUsername(username)
}

func (m *memberSession) Authenticate(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = domain.NewMember(user, true)
}
