package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dkeye/collab/internal/domain"
)

var testProject = domain.ProjectKey{GroupID: "1", ProjectID: "7"}

func mustCreate(t *testing.T, s *Store, parent, name string, kind domain.NodeKind) NodeInfo {
	t.Helper()
	info, err := s.CreateChild(context.Background(), parent, name, kind)
	if err != nil {
		t.Fatalf("create %s/%s: %v", parent, name, err)
	}
	return info
}

func TestCreateAndList(t *testing.T) {
	s := NewStore(testProject)
	mustCreate(t, s, "/", "src", domain.NodeDirectory)
	mustCreate(t, s, "/", "README.md", domain.NodeFile)
	mustCreate(t, s, "/src/", "main.go", domain.NodeFile)

	got, err := s.Snapshot("/")
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Child{
		{Name: "README.md", Type: domain.NodeFile},
		{Name: "src", Type: domain.NodeDirectory},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("root listing mismatch (-want +got):\n%s", diff)
	}

	infos, err := s.ListChildren("src")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Path != "/src/main.go" {
		t.Errorf("unexpected /src listing: %+v", infos)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := NewStore(testProject)
	mustCreate(t, s, "/", "a", domain.NodeFile)
	_, err := s.CreateChild(context.Background(), "/", "a", domain.NodeDirectory)
	if !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("store changed after rejected create: %d nodes", s.Len())
	}
}

func TestCreateErrors(t *testing.T) {
	s := NewStore(testProject)
	mustCreate(t, s, "/", "file", domain.NodeFile)

	cases := []struct {
		name   string
		parent string
		child  string
		kind   domain.NodeKind
		want   error
	}{
		{"missing parent", "/nope", "x", domain.NodeFile, domain.ErrPathNotFound},
		{"under a file", "/file", "x", domain.NodeFile, domain.ErrNotADirectory},
		{"slash in name", "/", "a/b", domain.NodeFile, domain.ErrInvalidName},
		{"dot name", "/", "..", domain.NodeFile, domain.ErrInvalidName},
		{"empty name", "/", "", domain.NodeFile, domain.ErrInvalidName},
		{"dotdot path", "/../x", "y", domain.NodeFile, domain.ErrInvalidPath},
		{"unknown kind", "/", "x", domain.NodeKind("LINK"), domain.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateChild(context.Background(), tc.parent, tc.child, tc.kind)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, domain.ErrBadRequest) && tc.want != domain.ErrPathNotFound {
				t.Errorf("%v should be a bad request", err)
			}
		})
	}
}

func TestDeleteSubtree(t *testing.T) {
	s := NewStore(testProject)
	mustCreate(t, s, "/", "src", domain.NodeDirectory)
	mustCreate(t, s, "/src", "pkg", domain.NodeDirectory)
	mustCreate(t, s, "/src/pkg", "a.go", domain.NodeFile)
	mustCreate(t, s, "/", "keep", domain.NodeFile)

	if err := s.Delete(context.Background(), "/src"); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Errorf("expected root and keep, got %d nodes", s.Len())
	}
	if _, err := s.Stat("/src/pkg/a.go"); !errors.Is(err, domain.ErrPathNotFound) {
		t.Errorf("descendant still resolves: %v", err)
	}
	if err := s.Delete(context.Background(), "/src"); !errors.Is(err, domain.ErrPathNotFound) {
		t.Errorf("second delete: expected ErrPathNotFound, got %v", err)
	}
	if err := s.Delete(context.Background(), "/"); !errors.Is(err, domain.ErrInvalidPath) {
		t.Errorf("delete root: expected ErrInvalidPath, got %v", err)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestRename(t *testing.T) {
	s := NewStore(testProject)
	mustCreate(t, s, "/", "old", domain.NodeDirectory)
	mustCreate(t, s, "/old", "child.txt", domain.NodeFile)
	mustCreate(t, s, "/", "taken", domain.NodeFile)
	ctx := context.Background()

	if _, err := s.Rename(ctx, "/old", "taken"); !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	info, err := s.Rename(ctx, "/old", "new")
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != "/new" {
		t.Errorf("renamed path = %s", info.Path)
	}
	if _, err := s.Stat("/new/child.txt"); err != nil {
		t.Errorf("descendant lost after rename: %v", err)
	}
	if _, err := s.Rename(ctx, "/old", "again"); !errors.Is(err, domain.ErrPathNotFound) {
		t.Errorf("stale rename: expected ErrPathNotFound, got %v", err)
	}
	if _, err := s.Rename(ctx, "/new", "new"); err != nil {
		t.Errorf("rename to same name should be a no-op, got %v", err)
	}
	if _, err := s.Rename(ctx, "/", "x"); !errors.Is(err, domain.ErrInvalidPath) {
		t.Errorf("rename root: expected ErrInvalidPath, got %v", err)
	}
}

func TestIDsNeverReused(t *testing.T) {
	s := NewStore(testProject)
	a := mustCreate(t, s, "/", "a", domain.NodeFile)
	if err := s.Delete(context.Background(), "/a"); err != nil {
		t.Fatal(err)
	}
	b := mustCreate(t, s, "/", "a", domain.NodeFile)
	if b.ID <= a.ID {
		t.Errorf("id %d reused or decreased after %d", b.ID, a.ID)
	}
}

func TestConcurrentCreateSameName(t *testing.T) {
	s := NewStore(testProject)
	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, dup int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateChild(context.Background(), "/", "race", domain.NodeFile)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrDuplicateName):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || dup != n-1 {
		t.Errorf("expected 1 success and %d duplicates, got %d and %d", n-1, ok, dup)
	}
}

type memPersister struct {
	mu       sync.Mutex
	recs     map[domain.NodeID]NodeRecord
	failNext bool
}

func newMemPersister() *memPersister {
	return &memPersister{recs: make(map[domain.NodeID]NodeRecord)}
}

func (m *memPersister) fail() error {
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("disk full")
	}
	return nil
}

func (m *memPersister) Load(_ context.Context, _ domain.ProjectKey) ([]NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NodeRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memPersister) Insert(_ context.Context, _ domain.ProjectKey, rec NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memPersister) Delete(_ context.Context, _ domain.ProjectKey, ids []domain.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.recs, id)
	}
	return nil
}

func (m *memPersister) Rename(_ context.Context, _ domain.ProjectKey, id domain.NodeID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	r := m.recs[id]
	r.Name = name
	m.recs[id] = r
	return nil
}

func TestWriteThroughAndReload(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()
	s, err := Open(ctx, testProject, p)
	if err != nil {
		t.Fatal(err)
	}
	mustCreate(t, s, "/", "docs", domain.NodeDirectory)
	last := mustCreate(t, s, "/docs", "a.md", domain.NodeFile)
	if _, err := s.Rename(ctx, "/docs/a.md", "b.md"); err != nil {
		t.Fatal(err)
	}

	p.failNext = true
	if _, err := s.CreateChild(ctx, "/", "lost", domain.NodeFile); err == nil {
		t.Fatal("expected persist failure")
	}
	if ok, _ := s.Exists("/", "lost"); ok {
		t.Error("memory changed although persistence failed")
	}

	reloaded, err := Open(ctx, testProject, p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s.Materialize(), reloaded.Materialize()); diff != "" {
		t.Errorf("reloaded tree differs (-before +after):\n%s", diff)
	}
	next := mustCreate(t, reloaded, "/", "next", domain.NodeFile)
	if next.ID <= last.ID {
		t.Errorf("id counter not seeded from storage: %d <= %d", next.ID, last.ID)
	}
}
