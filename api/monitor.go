package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"messenger/services"
)

// MonitorController 监控控制器
type MonitorController struct {
	WSManager    *services.WebSocketManager
	KafkaService *services.KafkaService
}

// NewMonitorController 创建监控控制器，kafkaService 可以为 nil
func NewMonitorController(wsManager *services.WebSocketManager, kafkaService *services.KafkaService) *MonitorController {
	return &MonitorController{
		WSManager:    wsManager,
		KafkaService: kafkaService,
	}
}

// GetSystemStatus 获取系统状态
func (c *MonitorController) GetSystemStatus(ctx *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := gin.H{
		"connections": c.WSManager.GetConnectionCount(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       m.Alloc / 1024 / 1024,      // MB
			"total_alloc": m.TotalAlloc / 1024 / 1024, // MB
			"sys":         m.Sys / 1024 / 1024,        // MB
			"num_gc":      m.NumGC,
		},
	}

	if c.KafkaService != nil {
		status["kafka"] = c.KafkaService.GetMetrics()
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

// Health 存活检查
func (c *MonitorController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
