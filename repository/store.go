package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Options 存储配置
type Options struct {
	Driver        string // mysql, postgres, sqlite 或 mongo
	DSN           string
	MaxIdleConns  int
	MaxOpenConns  int
	MongoURI      string
	MongoDatabase string
}

// Stores 一组存储实现及其关闭函数
type Stores struct {
	Users    UserRepository
	Messages MessageRepository
	close    func(ctx context.Context) error
}

// Close 释放底层连接
func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Open 根据驱动打开存储
func Open(ctx context.Context, opts Options) (*Stores, error) {
	if opts.Driver == "mongo" {
		client, db, err := OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Users:    NewMongoUserRepository(db),
			Messages: NewMongoMessageRepository(db),
			close:    func(ctx context.Context) error { return disconnect(ctx, client) },
		}, nil
	}

	db, err := OpenGorm(opts.Driver, opts.DSN, opts.MaxIdleConns, opts.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get connection pool: %w", err)
	}
	return &Stores{
		Users:    NewGormUserRepository(db),
		Messages: NewGormMessageRepository(db),
		close:    func(context.Context) error { return sqlDB.Close() },
	}, nil
}

func disconnect(ctx context.Context, client *mongo.Client) error {
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
