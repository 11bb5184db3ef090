package api

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"messenger/middleware"
)

// spaFallback 生产环境托管前端构建产物：文件存在则直接返回，否则返回 index.html。
// /api 下的未知路径仍然返回404错误
func spaFallback(staticDir string) gin.HandlerFunc {
	notFound := middleware.NotFound()
	index := filepath.Join(staticDir, "index.html")

	return func(ctx *gin.Context) {
		path := ctx.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/api" || ctx.Request.Method != "GET" {
			notFound(ctx)
			return
		}

		file := filepath.Join(staticDir, filepath.Clean("/"+path))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			ctx.File(file)
			return
		}
		ctx.File(index)
	}
}
