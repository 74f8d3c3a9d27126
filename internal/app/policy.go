package app

import "github.com/dkeye/collab/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects a subscriber whose send queue overflowed. The
// client is expected to reconnect and resynchronize.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame for the slow subscriber.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the config value to a policy, defaulting to SimplePolicy.
func PolicyByName(name string) Policy {
	switch name {
	case "drop":
		return TolerantPolicy{}
	default:
		return SimplePolicy{}
	}
}
