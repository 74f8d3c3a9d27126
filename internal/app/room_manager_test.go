package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("queue full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newSession(id string, conn *fakeConn) core.MemberSession {
	return core.NewMemberSession(core.SessionID(id), domain.NewMember(*domain.NewGuest(), false), conn)
}

func TestSubscribeIdempotent(t *testing.T) {
	m := NewRoomManager()
	s := newSession("a", &fakeConn{})
	for i := 0; i < 3; i++ {
		if _, err := m.Subscribe("doc", domain.RoomKindDocument, s); err != nil {
			t.Fatal(err)
		}
	}
	room, ok := m.GetRoom("doc")
	if !ok || room.MemberCount() != 1 {
		t.Fatalf("expected one member, got room=%v", room)
	}
}

func TestSubscribeKindMismatch(t *testing.T) {
	m := NewRoomManager()
	if _, err := m.Subscribe("r", domain.RoomKindDocument, newSession("a", &fakeConn{})); err != nil {
		t.Fatal(err)
	}
	_, err := m.Subscribe("r", domain.RoomKindDirectory, newSession("b", &fakeConn{}))
	if !errors.Is(err, domain.ErrInvalidRoomKind) {
		t.Fatalf("expected ErrInvalidRoomKind, got %v", err)
	}
	if _, err := m.Subscribe("r2", "chat", newSession("b", &fakeConn{})); !errors.Is(err, domain.ErrInvalidRoomKind) {
		t.Errorf("unknown kind: %v", err)
	}
	if _, err := m.Subscribe("", domain.RoomKindDocument, newSession("b", &fakeConn{})); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("empty room id: %v", err)
	}
}

func TestEmptyRoomDeleted(t *testing.T) {
	m := NewRoomManager()
	m.Subscribe("doc", domain.RoomKindDocument, newSession("a", &fakeConn{}))
	m.Subscribe("doc", domain.RoomKindDocument, newSession("b", &fakeConn{}))

	if !m.Unsubscribe("doc", "a") {
		t.Fatal("unsubscribe a failed")
	}
	if _, ok := m.GetRoom("doc"); !ok {
		t.Fatal("room deleted while b is still in it")
	}
	m.Unsubscribe("doc", "b")
	if _, ok := m.GetRoom("doc"); ok {
		t.Error("empty room still registered")
	}
	if m.Unsubscribe("doc", "b") {
		t.Error("unsubscribe from a missing room reported success")
	}
	// A room can be recreated with another kind once it is gone.
	if _, err := m.Subscribe("doc", domain.RoomKindDirectory, newSession("c", &fakeConn{})); err != nil {
		t.Errorf("recreate: %v", err)
	}
}

func TestPublishSkipsBrokenSubscriber(t *testing.T) {
	m := NewRoomManager()
	broken := &fakeConn{fail: true}
	healthy := &fakeConn{}
	m.Subscribe("doc", domain.RoomKindDocument, newSession("broken", broken))
	m.Subscribe("doc", domain.RoomKindDocument, newSession("healthy", healthy))

	res := m.Publish("doc", core.TextFrame([]byte("x")), "")
	if res.SendTo != 1 || len(res.Dropped) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if healthy.count() != 1 {
		t.Error("healthy subscriber blocked by the broken one")
	}
	if res := m.Publish("nowhere", core.TextFrame([]byte("x")), ""); res.SendTo != 0 {
		t.Error("publish to a missing room delivered frames")
	}
}

func TestListSorted(t *testing.T) {
	m := NewRoomManager()
	m.Subscribe("b", domain.RoomKindDocument, newSession("1", &fakeConn{}))
	m.Subscribe("a", domain.RoomKindDocument, newSession("1", &fakeConn{}))
	list := m.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestRegistryTracksRooms(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.BindSession("a", newSession("a", &fakeConn{}), func() { canceled = true })

	if !r.AddRoom("a", "x") || !r.AddRoom("a", "y") || !r.AddRoom("a", "x") {
		t.Fatal("AddRoom failed for a bound session")
	}
	if r.AddRoom("ghost", "x") {
		t.Error("AddRoom succeeded for an unknown session")
	}
	r.RemoveRoom("a", "y")
	if !r.IsSubscribed("a", "x") || r.IsSubscribed("a", "y") {
		t.Errorf("unexpected rooms %v", r.RoomsOf("a"))
	}
	if !r.Cancel("a") || !canceled {
		t.Error("cancel func not invoked")
	}
	rooms := r.Unbind("a")
	if len(rooms) != 1 || rooms[0] != "x" {
		t.Errorf("Unbind returned %v", rooms)
	}
	if r.Count() != 0 || r.Unbind("a") != nil {
		t.Error("session still registered after Unbind")
	}
}

func TestPolicyByName(t *testing.T) {
	if PolicyByName("drop").OnBackPressure(nil, nil) != DropFrame {
		t.Error("drop policy")
	}
	if PolicyByName("kick").OnBackPressure(nil, nil) != KickMember {
		t.Error("kick policy")
	}
	if PolicyByName("").OnBackPressure(nil, nil) != KickMember {
		t.Error("default policy")
	}
}
