package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieConfig 会话Cookie设置
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// setSessionCookie httpOnly + SameSite=Strict，生产环境加 Secure
func setSessionCookie(ctx *gin.Context, cfg CookieConfig, token string) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(cfg.Name, token, int(cfg.MaxAge.Seconds()), "/", "", cfg.Secure, true)
}

// clearSessionCookie 使用相同属性清除Cookie
func clearSessionCookie(ctx *gin.Context, cfg CookieConfig) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(cfg.Name, "", -1, "/", "", cfg.Secure, true)
}
