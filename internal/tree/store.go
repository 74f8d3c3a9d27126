// Package tree holds the authoritative directory tree of each project.
//
// A Store is an arena of nodes indexed by id. Nodes are addressed by path,
// resolved by walking child-by-name indexes from the root, so a rename never
// invalidates the paths recorded below the renamed node. All mutations of one
// Store are serialized by its lock; different projects use different stores
// and never contend.
package tree

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// RootID is the id of the synthetic "/" node of every project.
const RootID domain.NodeID = 1

type node struct {
	id       domain.NodeID
	name     string
	kind     domain.NodeKind
	parent   domain.NodeID
	children []domain.NodeID
	byName   map[string]domain.NodeID
}

// NodeInfo is a detached copy of one node.
type NodeInfo struct {
	ID   domain.NodeID
	Name string
	Kind domain.NodeKind
	Path string
}

// NodeRecord is the persisted form of a non-root node.
type NodeRecord struct {
	ID     domain.NodeID
	Parent domain.NodeID
	Name   string
	Kind   domain.NodeKind
}

// Persister receives every mutation before it is committed in memory. A
// failing persister rejects the mutation.
type Persister interface {
	Load(ctx context.Context, project domain.ProjectKey) ([]NodeRecord, error)
	Insert(ctx context.Context, project domain.ProjectKey, rec NodeRecord) error
	Delete(ctx context.Context, project domain.ProjectKey, ids []domain.NodeID) error
	Rename(ctx context.Context, project domain.ProjectKey, id domain.NodeID, name string) error
}

type Store struct {
	project domain.ProjectKey
	persist Persister

	mu     sync.RWMutex
	nodes  map[domain.NodeID]*node
	lastID domain.NodeID
}

// NewStore returns an in-memory store holding only the root.
func NewStore(project domain.ProjectKey) *Store {
	s := &Store{
		project: project,
		nodes:   make(map[domain.NodeID]*node),
		lastID:  RootID,
	}
	s.nodes[RootID] = &node{
		id:     RootID,
		name:   Root,
		kind:   domain.NodeDirectory,
		byName: make(map[string]domain.NodeID),
	}
	return s
}

// Open builds a store from the persister's snapshot and keeps writing
// through to it.
func Open(ctx context.Context, project domain.ProjectKey, p Persister) (*Store, error) {
	s := NewStore(project)
	if p == nil {
		return s, nil
	}
	recs, err := p.Load(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", project, err)
	}
	// Parents always have smaller ids than their children.
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	for _, rec := range recs {
		parent, ok := s.nodes[rec.Parent]
		if !ok || parent.kind != domain.NodeDirectory {
			log.Warn().Str("module", "tree").Str("project", project.String()).Uint64("id", uint64(rec.ID)).Msg("orphan node skipped")
			continue
		}
		if _, dup := parent.byName[rec.Name]; dup || rec.ID <= RootID {
			log.Warn().Str("module", "tree").Str("project", project.String()).Uint64("id", uint64(rec.ID)).Msg("conflicting node skipped")
			continue
		}
		s.attach(parent, rec)
		if rec.ID > s.lastID {
			s.lastID = rec.ID
		}
	}
	s.persist = p
	log.Info().Str("module", "tree").Str("project", project.String()).Int("nodes", len(s.nodes)).Msg("tree loaded")
	return s, nil
}

func (s *Store) Project() domain.ProjectKey { return s.project }

func (s *Store) attach(parent *node, rec NodeRecord) *node {
	n := &node{id: rec.ID, name: rec.Name, kind: rec.Kind, parent: parent.id}
	if rec.Kind == domain.NodeDirectory {
		n.byName = make(map[string]domain.NodeID)
	}
	s.nodes[n.id] = n
	parent.children = append(parent.children, n.id)
	parent.byName[n.name] = n.id
	return n
}

// lookup resolves a path. Callers hold s.mu.
func (s *Store) lookup(p string) (*node, error) {
	segs, err := Split(p)
	if err != nil {
		return nil, err
	}
	cur := s.nodes[RootID]
	for _, seg := range segs {
		if cur.kind != domain.NodeDirectory {
			return nil, fmt.Errorf("%w: %s", domain.ErrPathNotFound, p)
		}
		id, ok := cur.byName[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPathNotFound, p)
		}
		cur = s.nodes[id]
	}
	return cur, nil
}

// pathOf rebuilds the path of n by following parent pointers.
func (s *Store) pathOf(n *node) string {
	if n.id == RootID {
		return Root
	}
	var segs []string
	for cur := n; cur.id != RootID; cur = s.nodes[cur.parent] {
		segs = append(segs, cur.name)
	}
	p := ""
	for i := len(segs) - 1; i >= 0; i-- {
		p += "/" + segs[i]
	}
	return p
}

func (s *Store) info(n *node) NodeInfo {
	return NodeInfo{ID: n.id, Name: n.name, Kind: n.kind, Path: s.pathOf(n)}
}

// sortedChildren returns the children of dir ordered by name.
func (s *Store) sortedChildren(dir *node) []*node {
	out := make([]*node, 0, len(dir.children))
	for _, id := range dir.children {
		out = append(out, s.nodes[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Store) directory(p string) (*node, error) {
	n, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.kind != domain.NodeDirectory {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotADirectory, p)
	}
	return n, nil
}

// ListChildren returns the children of the directory at p, ordered by name.
func (s *Store) ListChildren(p string) ([]NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, err := s.directory(p)
	if err != nil {
		return nil, err
	}
	out := make([]NodeInfo, 0, len(dir.children))
	for _, c := range s.sortedChildren(dir) {
		out = append(out, s.info(c))
	}
	return out, nil
}

// Snapshot is the broadcast form of ListChildren: names and kinds only.
func (s *Store) Snapshot(p string) ([]domain.Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, err := s.directory(p)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Child, 0, len(dir.children))
	for _, c := range s.sortedChildren(dir) {
		out = append(out, domain.Child{Name: c.name, Type: c.kind})
	}
	return out, nil
}

// Exists reports whether the directory at parent already has a child named
// name. It is a hint: the answer may be stale by the time it is used.
func (s *Store) Exists(parent, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, err := s.directory(parent)
	if err != nil {
		return false, err
	}
	_, ok := dir.byName[name]
	return ok, nil
}

// Stat returns the node at p.
func (s *Store) Stat(p string) (NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.lookup(p)
	if err != nil {
		return NodeInfo{}, err
	}
	return s.info(n), nil
}

// CreateChild adds a node under the directory at parent. The duplicate check
// and the insert happen under one write lock.
func (s *Store) CreateChild(ctx context.Context, parent, name string, kind domain.NodeKind) (NodeInfo, error) {
	if err := ValidateName(name); err != nil {
		return NodeInfo{}, err
	}
	if !kind.Valid() {
		return NodeInfo{}, fmt.Errorf("%w: unknown node kind %q", domain.ErrBadRequest, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dir, err := s.directory(parent)
	if err != nil {
		return NodeInfo{}, err
	}
	if _, ok := dir.byName[name]; ok {
		return NodeInfo{}, fmt.Errorf("%w: %s", domain.ErrDuplicateName, Join(s.pathOf(dir), name))
	}

	rec := NodeRecord{ID: s.lastID + 1, Parent: dir.id, Name: name, Kind: kind}
	if s.persist != nil {
		if err := s.persist.Insert(ctx, s.project, rec); err != nil {
			return NodeInfo{}, fmt.Errorf("persist create: %w", err)
		}
	}
	s.lastID = rec.ID
	return s.info(s.attach(dir, rec)), nil
}

// Delete removes the node at p with its whole subtree. Deleting a path that
// is already gone fails with ErrPathNotFound.
func (s *Store) Delete(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(p)
	if err != nil {
		return err
	}
	if n.id == RootID {
		return fmt.Errorf("%w: cannot delete the root", domain.ErrInvalidPath)
	}

	var ids []domain.NodeID
	stack := []domain.NodeID{n.id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ids = append(ids, id)
		stack = append(stack, s.nodes[id].children...)
	}

	if s.persist != nil {
		if err := s.persist.Delete(ctx, s.project, ids); err != nil {
			return fmt.Errorf("persist delete: %w", err)
		}
	}

	parent := s.nodes[n.parent]
	delete(parent.byName, n.name)
	for i, id := range parent.children {
		if id == n.id {
			parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
			break
		}
	}
	for _, id := range ids {
		delete(s.nodes, id)
	}
	return nil
}

// Rename changes the name of the node at p. Descendants keep resolving
// because their paths are derived from parent pointers.
func (s *Store) Rename(ctx context.Context, p, newName string) (NodeInfo, error) {
	if err := ValidateName(newName); err != nil {
		return NodeInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.lookup(p)
	if err != nil {
		return NodeInfo{}, err
	}
	if n.id == RootID {
		return NodeInfo{}, fmt.Errorf("%w: cannot rename the root", domain.ErrInvalidPath)
	}
	if n.name == newName {
		return s.info(n), nil
	}
	parent := s.nodes[n.parent]
	if _, ok := parent.byName[newName]; ok {
		return NodeInfo{}, fmt.Errorf("%w: %s", domain.ErrDuplicateName, Join(s.pathOf(parent), newName))
	}

	if s.persist != nil {
		if err := s.persist.Rename(ctx, s.project, n.id, newName); err != nil {
			return NodeInfo{}, fmt.Errorf("persist rename: %w", err)
		}
	}
	delete(parent.byName, n.name)
	parent.byName[newName] = n.id
	n.name = newName
	return s.info(n), nil
}

// Len counts nodes including the root.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// CheckInvariants verifies the structural rules of the arena: one root, every
// other node reachable through exactly one existing parent, unique sibling
// names, no cycles.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.nodes[RootID]
	if !ok || root.kind != domain.NodeDirectory {
		return fmt.Errorf("root missing")
	}
	seen := make(map[domain.NodeID]bool, len(s.nodes))
	var walk func(n *node, depth int) error
	walk = func(n *node, depth int) error {
		if seen[n.id] {
			return fmt.Errorf("node %d reachable twice", n.id)
		}
		if depth > len(s.nodes) {
			return fmt.Errorf("cycle at node %d", n.id)
		}
		seen[n.id] = true
		if n.kind != domain.NodeDirectory {
			if len(n.children) > 0 {
				return fmt.Errorf("file %d has children", n.id)
			}
			return nil
		}
		if len(n.byName) != len(n.children) {
			return fmt.Errorf("node %d: %d names for %d children", n.id, len(n.byName), len(n.children))
		}
		for _, id := range n.children {
			c, ok := s.nodes[id]
			if !ok {
				return fmt.Errorf("node %d: dangling child %d", n.id, id)
			}
			if c.parent != n.id {
				return fmt.Errorf("node %d: parent is %d, listed under %d", id, c.parent, n.id)
			}
			if n.byName[c.name] != id {
				return fmt.Errorf("node %d: name %q indexed to %d", id, c.name, n.byName[c.name])
			}
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return err
	}
	if len(seen) != len(s.nodes) {
		return fmt.Errorf("%d nodes unreachable from the root", len(s.nodes)-len(seen))
	}
	return nil
}
