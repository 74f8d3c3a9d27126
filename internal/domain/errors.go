package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPathNotFound     = errors.New("path not found")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrInvalidRoomKind  = errors.New("invalid room kind")
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTransportFailure = errors.New("transport failure")
)

// Refinements of ErrBadRequest; errors.Is(err, ErrBadRequest) holds for all of them.
var (
	ErrInvalidPath    = fmt.Errorf("%w: invalid path", ErrBadRequest)
	ErrInvalidName    = fmt.Errorf("%w: invalid name", ErrBadRequest)
	ErrNotADirectory  = fmt.Errorf("%w: not a directory", ErrBadRequest)
	ErrNotSubscribed  = fmt.Errorf("%w: not subscribed to room", ErrBadRequest)
	ErrRateLimited    = fmt.Errorf("%w: too many requests", ErrBadRequest)
	ErrUnsupportedMsg = fmt.Errorf("%w: unsupported message type", ErrBadRequest)
)

const (
	CodePathNotFound     = "PathNotFound"
	CodeDuplicateName    = "DuplicateName"
	CodeInvalidRoomKind  = "InvalidRoomKind"
	CodeBadRequest       = "BadRequest"
	CodeUnauthorized     = "Unauthorized"
	CodeTransportFailure = "TransportFailure"
	CodeInternal         = "Internal"
)

// Code maps an error to the code reported on the wire.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPathNotFound):
		return CodePathNotFound
	case errors.Is(err, ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, ErrInvalidRoomKind):
		return CodeInvalidRoomKind
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrTransportFailure):
		return CodeTransportFailure
	}
	return CodeInternal
}
