// Command seed 导入或清空开发环境的用户数据
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"messenger/config"
	"messenger/models"
	"messenger/repository"
)

// seedUser users.json 中的一项
type seedUser struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

func main() {
	file := flag.String("file", "cmd/seed/users.json", "Path to users JSON file")
	deleteAll := flag.Bool("delete", false, "Delete all users instead of importing")
	flag.Parse()

	_ = config.LoadConfig()
	cfg := &config.AppConfig

	logger, err := config.NewLogger(cfg.Mode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	stores, err := repository.Open(ctx, repository.Options{
		Driver:        cfg.DBDriver,
		DSN:           cfg.DBConnectionString,
		MaxIdleConns:  cfg.DBMaxIdleConns,
		MaxOpenConns:  cfg.DBMaxOpenConns,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	defer stores.Close(ctx)

	if *deleteAll {
		n, err := stores.Users.DeleteAll(ctx)
		if err != nil {
			logger.Fatal("删除数据失败", zap.Error(err))
		}
		logger.Info("数据已删除", zap.Int64("users", n))
		return
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("打开数据文件失败", zap.String("file", *file), zap.Error(err))
	}
	defer f.Close()

	n, err := importUsers(ctx, stores.Users, f, bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("导入数据失败", zap.Error(err))
	}
	logger.Info("数据已导入", zap.Int("users", n))
}

// importUsers 读取用户列表并写入存储，密码在写入前哈希，不做字段校验
func importUsers(ctx context.Context, users repository.UserRepository, r io.Reader, cost int) (int, error) {
	var list []seedUser
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return 0, fmt.Errorf("decode users: %w", err)
	}

	for i, su := range list {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), cost)
		if err != nil {
			return i, fmt.Errorf("hash password for %s: %w", su.Nickname, err)
		}

		now := time.Now().UTC()
		user := &models.User{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Nickname:  strings.TrimSpace(su.Nickname),
			Email:     strings.ToLower(su.Email),
			Password:  string(hash),
			Avatar:    su.Avatar,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := users.Create(ctx, user); err != nil {
			return i, fmt.Errorf("create %s: %w", su.Nickname, err)
		}
	}

	return len(list), nil
}
