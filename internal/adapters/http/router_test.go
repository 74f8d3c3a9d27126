package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/collab/internal/adapters/signal"
	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/dirsync"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/app/relay"
	"github.com/dkeye/collab/internal/auth"
	"github.com/dkeye/collab/internal/config"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/tree"
)

func newRouter(t *testing.T) (*gin.Engine, *tree.Manager) {
	t.Helper()
	r, trees, _ := newRouterWithAuth(t, "")
	return r, trees
}

func newRouterWithAuth(t *testing.T, secret string) (*gin.Engine, *tree.Manager, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := orch.New(app.SimplePolicy{})
	trees := tree.NewManager(nil)
	v, err := auth.NewVerifier(secret, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctl := signal.NewSignalWSController(o, relay.New(o, relay.FrameBinary), dirsync.NewController(trees, o), v, signal.Options{})
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	return SetupRouter(context.Background(), cfg, Deps{Orch: o, Gateway: ctl, Trees: trees, Auth: v}), trees, v
}

func get(t *testing.T, r http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return getWithToken(t, r, url, "")
}

func getWithToken(t *testing.T, r http.Handler, url, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: bad body %q", url, w.Body.String())
	}
	return w, body
}

func TestHealthSetsClientCookie(t *testing.T) {
	r, _ := newRouter(t)
	w, body := get(t, r, "/health")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", w.Code, body)
	}
	if len(w.Result().Cookies()) == 0 {
		t.Error("session cookie not set")
	}
}

func TestDirectoryViews(t *testing.T) {
	r, trees := newRouter(t)
	key := domain.ProjectKey{GroupID: "1", ProjectID: "2"}
	s, err := trees.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateChild(context.Background(), "/", "docs", domain.NodeDirectory); err != nil {
		t.Fatal(err)
	}

	w, body := get(t, r, "/api/groups/1/projects/2/directory?path=/")
	children, _ := body["children"].([]any)
	if w.Code != http.StatusOK || len(children) != 1 {
		t.Errorf("directory = %d %v", w.Code, body)
	}

	w, body = get(t, r, "/api/groups/1/projects/2/directory?path=/missing")
	if w.Code != http.StatusNotFound || body["code"] != domain.CodePathNotFound {
		t.Errorf("missing path = %d %v", w.Code, body)
	}

	w, body = get(t, r, "/api/groups/1/projects/2/directory?path=/a/../b")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid path = %d %v", w.Code, body)
	}

	w, body = get(t, r, "/api/groups/1/projects/2/tree")
	if w.Code != http.StatusOK || body["name"] != "/" {
		t.Errorf("tree = %d %v", w.Code, body)
	}
}

func TestRoomViews(t *testing.T) {
	r, _ := newRouter(t)
	w, body := get(t, r, "/api/rooms")
	if rooms, _ := body["rooms"].([]any); w.Code != http.StatusOK || len(rooms) != 0 {
		t.Errorf("rooms = %d %v", w.Code, body)
	}
	w, _ = get(t, r, "/api/rooms/members?room=nowhere")
	if w.Code != http.StatusNotFound {
		t.Errorf("members of a missing room = %d", w.Code)
	}
}

func TestAPIRequiresBearerWhenAuthEnabled(t *testing.T) {
	r, trees, v := newRouterWithAuth(t, "s3cret")

	for _, url := range []string{
		"/api/rooms",
		"/api/groups/g0/projects/p/tree",
		"/api/groups/g0/projects/p/directory?path=/",
	} {
		w, body := get(t, r, url)
		if w.Code != http.StatusUnauthorized || body["code"] != domain.CodeUnauthorized {
			t.Errorf("GET %s without token = %d %v", url, w.Code, body)
		}
		w, _ = getWithToken(t, r, url, "not-a-token")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s with a bad token = %d", url, w.Code)
		}
	}

	tok, err := v.Issue("u-1", "Ada", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	w, body := getWithToken(t, r, "/api/groups/g0/projects/p/tree", tok)
	if w.Code != http.StatusOK || body["name"] != "/" {
		t.Errorf("tree with token = %d %v", w.Code, body)
	}
	if n := trees.Loaded(); n != 0 {
		t.Errorf("read-only views loaded %d trees", n)
	}

	w, _ = get(t, r, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("health must stay public, got %d", w.Code)
	}
}

func TestViewsDoNotRetainTrees(t *testing.T) {
	r, trees := newRouter(t)
	for i := 0; i < 50; i++ {
		w, _ := get(t, r, fmt.Sprintf("/api/groups/g/projects/p%d/tree", i))
		if w.Code != http.StatusOK {
			t.Fatalf("tree = %d", w.Code)
		}
	}
	if n := trees.Loaded(); n != 0 {
		t.Errorf("anonymous reads loaded %d trees", n)
	}
}
