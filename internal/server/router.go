package server

import (
	"net/http"
	"time"

	"github.com/bubblegumsoldier/liive/internal/config"
	"github.com/bubblegumsoldier/liive/internal/metrics"
	"github.com/bubblegumsoldier/liive/internal/mw"
	"github.com/bubblegumsoldier/liive/internal/service"
	"github.com/bubblegumsoldier/liive/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userSvc := service.NewUserService(db, cfg)
	chatSvc := service.NewChatService(db, hub)
	msgSvc := service.NewMessageService(db)
	h := NewHandler(userSvc, chatSvc, msgSvc)

	api := r.Group("/api/v1")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(mw.Auth(cfg, db))

	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats", h.ListChats)
	authed.GET("/chats/:id", h.GetChat)
	authed.POST("/chats/:id/participants", h.AddParticipant)
	authed.DELETE("/chats/:id/participants/:user_id", h.RemoveParticipant)
	authed.PATCH("/chats/:id/participants/:user_id", h.UpdateParticipantRole)
	authed.PUT("/chats/:id/message", h.SetMessage)
	authed.GET("/chats/:id/messages", h.ListMessages)

	r.GET("/ws", ws.Serve(hub, db, cfg))

	return r
}
