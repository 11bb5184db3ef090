package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messenger/apperror"
)

// Recovery 捕获panic，记录堆栈后交给 ErrorHandler 输出
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("Panic recovered",
					zap.Any("error", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("remote_addr", c.ClientIP()),
					zap.String("stack", stack))

				c.Set(ctxStackKey, stack)
				c.Error(apperror.Internal(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()

		c.Next()
	}
}
