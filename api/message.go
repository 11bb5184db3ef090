package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger/middleware"
	"messenger/models"
	"messenger/services"
)

// MessageController 消息控制器
type MessageController struct {
	MessageService *services.MessageService
}

// NewMessageController 创建消息控制器
func NewMessageController(messageService *services.MessageService) *MessageController {
	return &MessageController{
		MessageService: messageService,
	}
}

// GetMessages 分页获取与某个用户的会话
func (c *MessageController) GetMessages(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	// 无效的 skip 按 0 处理
	skip, _ := strconv.Atoi(ctx.Query("skip"))

	messages, err := c.MessageService.GetMessages(ctx.Request.Context(), user.ID, ctx.Param("id"), skip)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": len(messages),
		"data":    messages,
	})
}

// SendMessage 发送消息
func (c *MessageController) SendMessage(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	var req models.SendMessageRequest
	if !bindJSON(ctx, &req) {
		return
	}

	msg, err := c.MessageService.SendMessage(ctx.Request.Context(), user.ID, ctx.Param("id"), req)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    msg,
	})
}

// GetLastMessages 每个会话的最后一条消息
func (c *MessageController) GetLastMessages(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	messages, err := c.MessageService.GetLastMessages(ctx.Request.Context(), user.ID)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    messages,
	})
}
