package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"room-relay/internal/service"
)

// RouterDeps agrupa los handlers y middlewares que arma cmd/api.
type RouterDeps struct {
	JWT            *service.JWTService
	AllowedOrigins []string
	Users          *UserHandler
	Chat           *ChatHandler
	Upload         *UploadHandler
	WS             *WSHandler
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(logger *zap.Logger, deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y CORS.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), corsMiddleware(deps.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// El handshake WebSocket no lleva Content-Type JSON.
	r.GET("/ws", deps.WS.Connect)

	api := r.Group("/api", jsonContentTypeMiddleware())
	requireAuth := JWTAuthMiddleware(deps.JWT)

	auth := api.Group("/auth")
	auth.POST("/register", deps.Users.Register)
	auth.POST("/login", deps.Users.Login)
	auth.POST("/refresh", deps.Users.RefreshToken)
	auth.POST("/logout", deps.Users.Logout)
	auth.GET("/me", requireAuth, deps.Users.Me)

	upload := api.Group("/upload", requireAuth)
	upload.POST("/upload", deps.Upload.UploadProfilePicture)

	rooms := api.Group("/rooms", requireAuth)
	rooms.GET("/:room/messages", deps.Chat.ListMessages)
	rooms.GET("/:room/members", deps.Chat.ListMembers)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

// corsMiddleware responde a los origenes permitidos y corta los preflight.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := originsAllowAll(allowedOrigins)
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || originSet[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originsAllowAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
