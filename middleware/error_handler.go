package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messenger/apperror"
)

const ctxStackKey = "panicStack"

const genericMessage = "Something went wrong!"

// ErrorHandler 统一把处理过程中记录的错误转换为JSON响应。
// 只有可公开的业务错误会把信息返回给客户端，其余错误记录日志后返回通用提示
func ErrorHandler(release bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperror.As(err)
		if !ok {
			appErr = apperror.Internal(err)
		}

		status := appErr.Status()
		if !appErr.Operational() {
			logger.Error("请求处理失败",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("error", appErr.Detail()))
		}

		if release {
			message := appErr.Message
			if !appErr.Operational() {
				message = genericMessage
			}
			c.JSON(status, gin.H{"success": false, "message": message})
			return
		}

		body := gin.H{
			"success": false,
			"message": appErr.Message,
			"error": gin.H{
				"kind":       appErr.Kind.String(),
				"statusCode": status,
				"detail":     appErr.Detail(),
			},
		}
		if !appErr.Operational() && appErr.Err != nil {
			body["message"] = appErr.Err.Error()
		}
		if stack, ok := c.Get(ctxStackKey); ok {
			body["stack"] = stack
		}
		c.JSON(status, body)
	}
}

// NotFound 未匹配路由
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Error(apperror.NotFound("Can't find " + c.Request.URL.Path + " on this server!"))
	}
}
