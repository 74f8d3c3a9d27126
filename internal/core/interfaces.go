package core

import "github.com/dkeye/collab/internal/domain"

// Frame is one outbound transport message. Binary frames carry raw document
// deltas; text frames carry JSON envelopes.
type Frame struct {
	Binary bool
	Data   []byte
}

func TextFrame(b []byte) Frame   { return Frame{Data: b} }
func BinaryFrame(b []byte) Frame { return Frame{Binary: true, Data: b} }

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	Meta() domain.Member
	Rename(username string) error
	// Authenticate replaces the guest identity once a token is verified.
	Authenticate(user domain.User)
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	// Subscribers lists session ids in registration order.
	Subscribers() []SessionID
	Has(sid SessionID) bool

	AddMember(ms MemberSession) bool
	RemoveMember(sid SessionID) bool
	Broadcast(from SessionID, f Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Kind        domain.RoomKind `json:"kind"`
	MemberCount int             `json:"client_count"`
}

// RoomManager is the room registry: it owns every live room and is the only
// place where rooms are created or destroyed.
type RoomManager interface {
	Subscribe(id domain.RoomID, kind domain.RoomKind, ms MemberSession) (RoomService, error)
	Unsubscribe(id domain.RoomID, sid SessionID) bool
	Publish(id domain.RoomID, f Frame, exclude SessionID) PublishResult
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
}
