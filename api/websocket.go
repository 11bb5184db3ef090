package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"messenger/middleware"
	"messenger/services"
)

// WebSocketController WebSocket控制器
type WebSocketController struct {
	WSManager *services.WebSocketManager
	Upgrader  websocket.Upgrader
	Logger    *zap.Logger
}

// NewWebSocketController 创建WebSocket控制器
func NewWebSocketController(wsManager *services.WebSocketManager, upgrader websocket.Upgrader, logger *zap.Logger) *WebSocketController {
	return &WebSocketController{
		WSManager: wsManager,
		Upgrader:  upgrader,
		Logger:    logger,
	}
}

// HandleWebSocket 建立实时连接，用户身份来自已校验的会话
func (c *WebSocketController) HandleWebSocket(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	conn, err := c.Upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		c.Logger.Warn("WebSocket升级失败", zap.String("userId", user.ID), zap.Error(err))
		return
	}

	client := services.NewClient(user.ID, conn, c.Logger)
	if !c.WSManager.RegisterClient(user.ID, client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump(c.WSManager)
}

// GetOnlineUsers 获取在线用户ID列表
func (c *WebSocketController) GetOnlineUsers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    c.WSManager.GetOnlineUserIDs(),
	})
}
