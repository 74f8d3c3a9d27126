package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseDirectoryRoom(t *testing.T) {
	want := ProjectKey{GroupID: "12", ProjectID: "34"}
	for _, id := range []RoomID{
		"groups/12/projects/34/directory",
		"/groups/12/projects/34/directory",
		"/sub/groups/12/projects/34/directory",
	} {
		got, ok := ParseDirectoryRoom(id)
		if !ok || got != want {
			t.Errorf("ParseDirectoryRoom(%q) = %+v, %v", id, got, ok)
		}
		if NormalizeRoomID(id) != want.DirectoryRoom() || KindOf(id) != RoomKindDirectory {
			t.Errorf("%q not normalized to a directory room", id)
		}
	}
	for _, id := range []RoomID{"doc-1", "groups//projects/34/directory", "groups/1/projects/2/files"} {
		if _, ok := ParseDirectoryRoom(id); ok {
			t.Errorf("%q parsed as a directory room", id)
		}
		if KindOf(id) != RoomKindDocument {
			t.Errorf("%q should default to a document room", id)
		}
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrPathNotFound), CodePathNotFound},
		{ErrDuplicateName, CodeDuplicateName},
		{ErrInvalidRoomKind, CodeInvalidRoomKind},
		{ErrInvalidPath, CodeBadRequest},
		{ErrNotSubscribed, CodeBadRequest},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrTransportFailure, CodeTransportFailure},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Errorf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestNodeKindAndUser(t *testing.T) {
	if k, err := ParseNodeKind(""); err != nil || k != NodeFile {
		t.Errorf("empty kind = %v, %v", k, err)
	}
	if _, err := ParseNodeKind("LINK"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("unknown kind: %v", err)
	}

	u, err := NewUser("u1", "")
	if err != nil || u.Username != GuestUsername {
		t.Errorf("user without name: %+v %v", u, err)
	}
	if _, err := NewUser("u1", strings.Repeat("x", MaxUsernameLen+1)); !errors.Is(err, ErrUsernameTooLong) {
		t.Errorf("long name: %v", err)
	}
	if g := NewGuest(); g.ID == "" || g.Username != GuestUsername {
		t.Errorf("guest %+v", g)
	}
}
