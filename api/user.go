package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger/middleware"
	"messenger/services"
)

// UserController 用户控制器
type UserController struct {
	UserService *services.UserService
	AuthService *services.AuthService
	WSManager   *services.WebSocketManager
	Cookie      CookieConfig
}

// NewUserController 创建用户控制器
func NewUserController(userService *services.UserService, authService *services.AuthService, wsManager *services.WebSocketManager, cookie CookieConfig) *UserController {
	return &UserController{
		UserService: userService,
		AuthService: authService,
		WSManager:   wsManager,
		Cookie:      cookie,
	}
}

// GetUsers 获取联系人列表（除自己外的所有用户）
func (c *UserController) GetUsers(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	users, err := c.UserService.ListOthers(ctx.Request.Context(), user.ID)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": len(users),
		"data":    users,
	})
}

// UpdateProfile 更新头像
func (c *UserController) UpdateProfile(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	var req struct {
		Avatar string `json:"avatar"`
	}
	if !bindJSON(ctx, &req) {
		return
	}

	updated, err := c.UserService.UpdateAvatar(ctx.Request.Context(), user, req.Avatar)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    c.UserService.Profile(updated),
	})
}

// UpdatePassword 修改密码并刷新会话
func (c *UserController) UpdatePassword(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	var req struct {
		PasswordCurrent string `json:"passwordCurrent"`
		PasswordNew     string `json:"passwordNew"`
		PasswordConfirm string `json:"passwordConfirm"`
	}
	if !bindJSON(ctx, &req) {
		return
	}

	updated, session, err := c.AuthService.ChangePassword(ctx.Request.Context(), user.ID, req.PasswordCurrent, req.PasswordNew, req.PasswordConfirm)
	if err != nil {
		ctx.Error(err)
		return
	}

	setSessionCookie(ctx, c.Cookie, session.Token)
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   session.Token,
		"data":    c.UserService.Profile(updated),
	})
}

// DeleteAccount 注销账号
func (c *UserController) DeleteAccount(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	var req struct {
		PasswordCurrent string `json:"passwordCurrent"`
	}
	if !bindJSON(ctx, &req) {
		return
	}

	if err := c.AuthService.DeleteAccount(ctx.Request.Context(), user.ID, req.PasswordCurrent); err != nil {
		ctx.Error(err)
		return
	}

	c.WSManager.DisconnectUser(user.ID)
	clearSessionCookie(ctx, c.Cookie)
	ctx.Status(http.StatusNoContent)
}
