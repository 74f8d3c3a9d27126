package domain

import (
	"fmt"
	"strings"
)

const MaxRoomIDLen = 512

type RoomID string

type RoomKind string

const (
	RoomKindDocument  RoomKind = "document"
	RoomKindDirectory RoomKind = "directory"
)

func (k RoomKind) Valid() bool {
	return k == RoomKindDocument || k == RoomKindDirectory
}

type Room struct {
	ID   RoomID
	Kind RoomKind
}

// ProjectKey scopes one directory tree. Authorization of the pair is done
// upstream by the CRUD backend.
type ProjectKey struct {
	GroupID   string `json:"groupId"`
	ProjectID string `json:"projectId"`
}

func (p ProjectKey) String() string {
	return fmt.Sprintf("groups/%s/projects/%s", p.GroupID, p.ProjectID)
}

// DirectoryRoom is the room every participant of a project's file explorer joins.
func (p ProjectKey) DirectoryRoom() RoomID {
	return RoomID(p.String() + "/directory")
}

// ParseDirectoryRoom accepts "groups/{g}/projects/{p}/directory", with an
// optional leading "/" or "/sub/" prefix as used by the original STOMP topics.
func ParseDirectoryRoom(id RoomID) (ProjectKey, bool) {
	s := strings.TrimPrefix(string(id), "/")
	s = strings.TrimPrefix(s, "sub/")
	parts := strings.Split(s, "/")
	if len(parts) != 5 || parts[0] != "groups" || parts[2] != "projects" || parts[4] != "directory" {
		return ProjectKey{}, false
	}
	if parts[1] == "" || parts[3] == "" {
		return ProjectKey{}, false
	}
	return ProjectKey{GroupID: parts[1], ProjectID: parts[3]}, true
}

// KindOf infers the room kind from its identifier: directory rooms follow the
// project pattern, every other topic is a document room.
func KindOf(id RoomID) RoomKind {
	if _, ok := ParseDirectoryRoom(id); ok {
		return RoomKindDirectory
	}
	return RoomKindDocument
}

// NormalizeRoomID strips the transport prefix so "/sub/groups/1/..." and
// "groups/1/..." address the same room.
func NormalizeRoomID(id RoomID) RoomID {
	if key, ok := ParseDirectoryRoom(id); ok {
		return key.DirectoryRoom()
	}
	return id
}
