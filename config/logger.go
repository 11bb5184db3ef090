package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger 按运行模式创建日志：release 输出JSON，debug 输出彩色控制台格式
func NewLogger(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == ModeRelease {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}

	return cfg.Build()
}
