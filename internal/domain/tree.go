package domain

import "fmt"

type NodeID uint64

type NodeKind string

const (
	NodeFile      NodeKind = "FILE"
	NodeDirectory NodeKind = "DIRECTORY"
)

func (k NodeKind) Valid() bool {
	return k == NodeFile || k == NodeDirectory
}

func ParseNodeKind(s string) (NodeKind, error) {
	switch NodeKind(s) {
	case NodeFile, "":
		return NodeFile, nil
	case NodeDirectory:
		return NodeDirectory, nil
	}
	return "", fmt.Errorf("%w: unknown node kind %q", ErrBadRequest, s)
}

// Child is one entry of a directory listing as sent to clients.
type Child struct {
	Name string   `json:"name"`
	Type NodeKind `json:"type"`
}
