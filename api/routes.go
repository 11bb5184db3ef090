package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messenger/middleware"
	"messenger/services"
)

// Dependencies 路由所需的服务
type Dependencies struct {
	AuthService    *services.AuthService
	UserService    *services.UserService
	MessageService *services.MessageService
	WSManager      *services.WebSocketManager
	KafkaService   *services.KafkaService
	RateLimiter    *middleware.RateLimiter
	Upgrader       websocket.Upgrader
	Cookie         CookieConfig
	StaticDir      string
	Logger         *zap.Logger
}

// RegisterRoutes 注册API路由
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	// 创建控制器
	authController := NewAuthController(deps.AuthService, deps.UserService, deps.Cookie)
	userController := NewUserController(deps.UserService, deps.AuthService, deps.WSManager, deps.Cookie)
	messageController := NewMessageController(deps.MessageService)
	wsController := NewWebSocketController(deps.WSManager, deps.Upgrader, deps.Logger)
	monitorController := NewMonitorController(deps.WSManager, deps.KafkaService)

	protect := middleware.RequireAuth(deps.AuthService, deps.Cookie.Name)

	root := r.Group("/api")
	if deps.RateLimiter != nil {
		root.Use(deps.RateLimiter.Middleware())
	}

	root.GET("/health", monitorController.Health)

	// 认证相关
	auth := root.Group("/auth")
	{
		auth.POST("/signup", authController.Signup)
		auth.POST("/login", authController.Login)
		auth.GET("/logout", authController.Logout)
		auth.POST("/check-nickname", authController.CheckNickname)
		auth.GET("/verify", protect, authController.Verify)
	}

	// 用户相关
	users := root.Group("/users", protect)
	{
		users.GET("", userController.GetUsers)
		users.GET("/online", wsController.GetOnlineUsers)
		users.PATCH("/update-profile", userController.UpdateProfile)
		users.PATCH("/update-password", userController.UpdatePassword)
		users.PATCH("/delete-account", userController.DeleteAccount)
	}

	// 消息相关
	messages := root.Group("/messages", protect)
	{
		messages.GET("/last-messages", messageController.GetLastMessages)
		messages.POST("/send/:id", messageController.SendMessage)
		messages.GET("/:id", messageController.GetMessages)
	}

	// WebSocket
	root.GET("/ws", middleware.RequireSocketAuth(deps.AuthService, deps.Cookie.Name), wsController.HandleWebSocket)

	// 监控相关
	root.GET("/monitor/system", protect, monitorController.GetSystemStatus)

	if deps.StaticDir != "" {
		r.NoRoute(spaFallback(deps.StaticDir))
	} else {
		r.NoRoute(middleware.NotFound())
	}
}
