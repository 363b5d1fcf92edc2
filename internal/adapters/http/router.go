package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app/hub"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// IdentityMiddleware remembers the user a browser last called as in the
// cookie session, so REST calls without ?user= still know who is asking.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if raw := c.Query("user"); raw != "" {
			if uid, err := domain.ParseUserID(raw); err == nil {
				sess.Set("user", string(uid))
				_ = sess.Save()
			}
		}
		if name, ok := c.GetQuery("name"); ok {
			sess.Set("name", name)
			_ = sess.Save()
		}
		user, _ := sess.Get("user").(string)
		if user == "" {
			user = c.GetString("client_token")
		}
		c.Set("user", domain.UserID(user))
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PeerCallSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware())

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	ctl := signal.NewSignalWSController(ctx, h, signal.ServerOptions{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SignalRate:     cfg.SignalRate,
		SignalBurst:    cfg.SignalBurst,
		CallsPerMinute: cfg.CallsPerMinute,
		JanitorPeriod:  cfg.JanitorPeriod,
	})
	calls := &callHandlers{hub: h}

	api := r.Group("/api")
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})
	api.GET("/me", me)
	api.POST("/calls", calls.create)
	api.GET("/calls/:id", calls.get)
	api.POST("/calls/:id/end", calls.end)
	api.GET("/calls/:id/messages", calls.messages)

	return r
}

func me(c *gin.Context) {
	u := &domain.User{ID: userOf(c)}
	name, _ := sessions.Default(c).Get("name").(string)
	if err := u.SetDisplayName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

type callHandlers struct {
	hub *hub.Hub
}

type createCallRequest struct {
	Callee domain.UserID   `json:"callee" binding:"required"`
	Kind   domain.CallKind `json:"kind" binding:"required"`
}

func (h *callHandlers) create(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	call, err := h.hub.CreateCall(userOf(c), req.Callee, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h *callHandlers) get(c *gin.Context) {
	call, ok := h.participantCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *callHandlers) end(c *gin.Context) {
	call, ok := h.participantCall(c)
	if !ok {
		return
	}
	call, err := h.hub.EndCall(call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *callHandlers) messages(c *gin.Context) {
	call, ok := h.participantCall(c)
	if !ok {
		return
	}
	msgs, err := h.hub.Messages(call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *callHandlers) participantCall(c *gin.Context) (domain.Call, bool) {
	call, err := h.hub.Call(domain.CallID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return domain.Call{}, false
	}
	if _, ok := call.RoleOf(userOf(c)); !ok {
		writeError(c, hub.ErrNotParticipant)
		return domain.Call{}, false
	}
	return call, true
}

func userOf(c *gin.Context) domain.UserID {
	uid, _ := c.Get("user")
	id, _ := uid.(domain.UserID)
	return id
}

func writeError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, hub.ErrCallNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, hub.ErrCallFinished):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
