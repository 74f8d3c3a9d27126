package tree

import (
	"fmt"
	"strings"

	"github.com/dkeye/collab/internal/domain"
)

const (
	Root       = "/"
	MaxNameLen = 255
)

// ValidateName rejects names that could not be addressed by a path.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	case len(name) > MaxNameLen:
		return fmt.Errorf("%w: longer than %d bytes", domain.ErrInvalidName, MaxNameLen)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains a separator", domain.ErrInvalidName, name)
	}
	return nil
}

// Split turns a path into its segments. "" and "/" are the root; a missing
// leading slash and a trailing slash are tolerated.
func Split(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if ValidateName(s) != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPath, p)
		}
	}
	return segs, nil
}

// Clean returns the canonical form of p.
func Clean(p string) (string, error) {
	segs, err := Split(p)
	if err != nil {
		return "", err
	}
	return Root + strings.Join(segs, "/"), nil
}

func Join(parent, name string) string {
	if parent == "" || parent == Root {
		return Root + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// Parent returns the canonical parent of p. The root has none.
func Parent(p string) (string, error) {
	segs, err := Split(p)
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("%w: the root has no parent", domain.ErrInvalidPath)
	}
	return Root + strings.Join(segs[:len(segs)-1], "/"), nil
}
