package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"messenger/apperror"
	"messenger/models"
)

const ctxUserKey = "currentUser"

// SessionVerifier 校验会话令牌并返回对应用户
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*models.User, error)
}

// ExtractToken 依次从 Authorization: Bearer 头和 Cookie 中读取令牌。
// allowQuery 为 true 时还接受 ?token=，仅用于浏览器无法设置请求头的WebSocket握手
func ExtractToken(c *gin.Context, cookieName string, allowQuery bool) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); token != "" {
			return token
		}
	}
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// Authenticate 校验请求的调用者，返回用户或认证错误
func Authenticate(c *gin.Context, verifier SessionVerifier, cookieName string, allowQuery bool) (*models.User, error) {
	token := ExtractToken(c, cookieName, allowQuery)
	return verifier.VerifySession(c.Request.Context(), token)
}

// RequireAuth 要求已登录，校验通过后把用户放入上下文
func RequireAuth(verifier SessionVerifier, cookieName string) gin.HandlerFunc {
	return requireAuth(verifier, cookieName, false)
}

// RequireSocketAuth 与 RequireAuth 相同，但额外接受查询参数中的令牌
func RequireSocketAuth(verifier SessionVerifier, cookieName string) gin.HandlerFunc {
	return requireAuth(verifier, cookieName, true)
}

func requireAuth(verifier SessionVerifier, cookieName string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := Authenticate(c, verifier, cookieName, allowQuery)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// CurrentUser 取出已认证的用户
func CurrentUser(c *gin.Context) (*models.User, error) {
	if v, ok := c.Get(ctxUserKey); ok {
		if user, ok := v.(*models.User); ok && user != nil {
			return user, nil
		}
	}
	return nil, apperror.Authentication("Unauthorized")
}
