package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger/apperror"
	"messenger/middleware"
	"messenger/services"
)

// AuthController 认证控制器
type AuthController struct {
	AuthService *services.AuthService
	UserService *services.UserService
	Cookie      CookieConfig
}

// NewAuthController 创建认证控制器
func NewAuthController(authService *services.AuthService, userService *services.UserService, cookie CookieConfig) *AuthController {
	return &AuthController{
		AuthService: authService,
		UserService: userService,
		Cookie:      cookie,
	}
}

// bindJSON 请求体解析失败统一返回校验错误，空请求体交给业务层校验必填字段
func bindJSON(ctx *gin.Context, req any) bool {
	if err := ctx.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		ctx.Error(apperror.Wrap(apperror.KindValidation, "Invalid request body", err))
		return false
	}
	return true
}

// Signup 用户注册
func (c *AuthController) Signup(ctx *gin.Context) {
	var req services.SignupInput
	if !bindJSON(ctx, &req) {
		return
	}

	user, session, err := c.AuthService.Signup(ctx.Request.Context(), req)
	if err != nil {
		ctx.Error(err)
		return
	}

	setSessionCookie(ctx, c.Cookie, session.Token)
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   session.Token,
		"data":    c.UserService.Profile(user),
	})
}

// Login 用户登录
func (c *AuthController) Login(ctx *gin.Context) {
	var req struct {
		IdentifierType string `json:"identifierType"`
		Identifier     string `json:"identifier"`
		Password       string `json:"password"`
	}
	if !bindJSON(ctx, &req) {
		return
	}

	user, session, err := c.AuthService.Login(ctx.Request.Context(), req.IdentifierType, req.Identifier, req.Password)
	if err != nil {
		ctx.Error(err)
		return
	}

	setSessionCookie(ctx, c.Cookie, session.Token)
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   session.Token,
		"data":    c.UserService.Profile(user),
	})
}

// Logout 清除会话Cookie
func (c *AuthController) Logout(ctx *gin.Context) {
	clearSessionCookie(ctx, c.Cookie)
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckNickname 检查昵称是否可用
func (c *AuthController) CheckNickname(ctx *gin.Context) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if !bindJSON(ctx, &req) {
		return
	}

	available, err := c.UserService.NicknameAvailable(ctx.Request.Context(), req.Nickname)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"success": available})
}

// Verify 返回当前登录用户
func (c *AuthController) Verify(ctx *gin.Context) {
	user, err := middleware.CurrentUser(ctx)
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    c.UserService.Profile(user),
	})
}
