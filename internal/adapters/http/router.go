package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/collab/internal/adapters/signal"
	"github.com/dkeye/collab/internal/app/orch"
	"github.com/dkeye/collab/internal/auth"
	"github.com/dkeye/collab/internal/config"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/tree"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a stable per-browser token in the cookie
// session. It only labels logs; identity comes from bearer tokens.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

const identityKey = "identity"

// BearerAuthMiddleware requires a valid bearer token when v is enabled and
// stores the verified identity on the context.
func BearerAuthMiddleware(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil || !v.Enabled() {
			c.Next()
			return
		}
		id, err := v.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

type Deps struct {
	Orch    *orch.Orchestrator
	Gateway *signal.SignalWSController
	Trees   *tree.Manager
	Auth    *auth.Verifier
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("CollabSessions", store))
	r.Use(ClientTokenMiddleware())

	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws endpoint hit")
		d.Gateway.HandleSignal(ctx, c)
	}
	r.GET("/ws", ws)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "trees": d.Trees.Loaded()})
	})

	// The gateway authenticates on its own, from the header, ?token= or the
	// subscribe frame.
	r.GET("/api/ws/signal", ws)

	api := r.Group("/api", BearerAuthMiddleware(d.Auth))
	v := &views{orch: d.Orch, trees: d.Trees}
	api.GET("/rooms", v.listRooms)
	api.GET("/rooms/members", v.roomMembers)
	api.GET("/groups/:groupId/projects/:projectId/directory", v.directory)
	api.GET("/groups/:groupId/projects/:projectId/tree", v.materialize)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type views struct {
	orch  *orch.Orchestrator
	trees *tree.Manager
}

func (v *views) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": v.orch.Rooms.List()})
}

func (v *views) roomMembers(c *gin.Context) {
	id := domain.NormalizeRoomID(domain.RoomID(c.Query("room")))
	room, ok := v.orch.Rooms.GetRoom(id)
	if !ok {
		abort(c, domain.ErrPathNotFound)
		return
	}
	members := room.MembersSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"room":    id,
		"kind":    room.Room().Kind,
		"members": members,
		"count":   len(members),
	})
}

func projectKey(c *gin.Context) domain.ProjectKey {
	return domain.ProjectKey{GroupID: c.Param("groupId"), ProjectID: c.Param("projectId")}
}

func (v *views) directory(c *gin.Context) {
	store, err := v.trees.View(c.Request.Context(), projectKey(c))
	if err != nil {
		abort(c, err)
		return
	}
	path, err := tree.Clean(c.DefaultQuery("path", tree.Root))
	if err != nil {
		abort(c, err)
		return
	}
	children, err := store.Snapshot(path)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": "LIST", "path": path, "children": children})
}

func (v *views) materialize(c *gin.Context) {
	store, err := v.trees.View(c.Request.Context(), projectKey(c))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Materialize())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrInvalidRoomKind):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.Request.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"code": domain.Code(err), "error": msg})
}
