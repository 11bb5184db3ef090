package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"messenger/models"
)

var (
	// ErrNotFound 记录不存在（或已被软删除）
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一字段冲突
	ErrDuplicate = errors.New("duplicate key")
)

// UserRepository 用户存储。所有读取方法默认只返回 active = true 的用户。
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByNickname(ctx context.Context, nickname string) (*models.User, error)
	// NicknameTaken 包含已注销用户，与唯一索引保持一致
	NicknameTaken(ctx context.Context, nickname string) (bool, error)
	ListExcept(ctx context.Context, id string) ([]models.User, error)
	UpdateAvatar(ctx context.Context, id, avatar string) error
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// MessageRepository 消息存储
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	// ListConversation 两个用户之间的消息，按 (createdAt, id) 倒序分页
	ListConversation(ctx context.Context, userA, userB string, skip, limit int) ([]models.Message, error)
	// LastPerPartner 每个会话对象的最后一条消息
	LastPerPartner(ctx context.Context, userID string) ([]models.Message, error)
}

// OpenGorm 根据驱动名打开关系型数据库并完成表结构迁移
func OpenGorm(driver, dsn string, maxIdle, maxOpen int) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		PrepareStmt:    true, // 缓存预编译语句
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	// 配置数据库连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移数据库表结构
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// isDuplicate 兼容不同驱动的唯一约束错误
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

func normalizeImages(messages []models.Message) {
	for i := range messages {
		if messages[i].Images == nil {
			messages[i].Images = []string{}
		}
	}
}

var (
	_ UserRepository    = (*GormUserRepository)(nil)
	_ UserRepository    = (*MongoUserRepository)(nil)
	_ MessageRepository = (*GormMessageRepository)(nil)
	_ MessageRepository = (*MongoMessageRepository)(nil)
)
