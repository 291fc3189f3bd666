package mw

import (
	"net/http"
	"strings"

	"github.com/bubblegumsoldier/liive/internal/auth"
	"github.com/bubblegumsoldier/liive/internal/config"
	"github.com/bubblegumsoldier/liive/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Auth 校验 Bearer Token 并把 caller 身份注入请求上下文。
// 下游 handler 通过 UserID(c) 显式取出，不做隐式注入。
func Auth(cfg config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := auth.ParseAccessToken(tokenStr, cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("userID", user.ID)
		c.Next()
	}
}

func UserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}
