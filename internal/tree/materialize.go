package tree

import "github.com/dkeye/collab/internal/domain"

// View is an immutable nested rendering of a tree, detached from the arena.
type View struct {
	ID       domain.NodeID   `json:"id"`
	Name     string          `json:"name"`
	Type     domain.NodeKind `json:"type"`
	Parent   string          `json:"parent"`
	Children []*View         `json:"children"`
}

// Materialize builds the full tree view under the read lock. The arena is
// only read; every View is freshly allocated, so callers never observe a
// partially built tree.
func (s *Store) Materialize() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.build(s.nodes[RootID], "")
}

func (s *Store) build(n *node, parentPath string) *View {
	v := &View{
		ID:       n.id,
		Name:     n.name,
		Type:     n.kind,
		Parent:   parentPath,
		Children: []*View{},
	}
	if n.kind != domain.NodeDirectory {
		return v
	}
	self := s.pathOf(n)
	for _, c := range s.sortedChildren(n) {
		v.Children = append(v.Children, s.build(c, self))
	}
	return v
}

// Count returns the number of views in the subtree rooted at v.
func (v *View) Count() int {
	n := 1
	for _, c := range v.Children {
		n += c.Count()
	}
	return n
}
