package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"messenger/models"
)

// GormUserRepository 基于gorm的用户存储
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建用户存储
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// activeOnly 默认过滤条件，排除已注销用户
func activeOnly(db *gorm.DB) *gorm.DB {
	return db.Where("active = ?", true)
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *GormUserRepository) FindByNickname(ctx context.Context, nickname string) (*models.User, error) {
	return r.findOne(ctx, "nickname = ?", nickname)
}

func (r *GormUserRepository) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("nickname = ?", nickname).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count nickname: %w", err)
	}
	return count > 0, nil
}

func (r *GormUserRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Scopes(activeOnly).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (r *GormUserRepository) ListExcept(ctx context.Context, id string) ([]models.User, error) {
	users := make([]models.User, 0)
	if err := r.db.WithContext(ctx).Scopes(activeOnly).Where("id <> ?", id).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *GormUserRepository) UpdateAvatar(ctx context.Context, id, avatar string) error {
	return r.update(ctx, id, map[string]any{"avatar": avatar})
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	return r.update(ctx, id, map[string]any{
		"password":            passwordHash,
		"password_changed_at": changedAt,
	})
}

func (r *GormUserRepository) Deactivate(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{"active": false})
}

func (r *GormUserRepository) update(ctx context.Context, id string, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Scopes(activeOnly).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll 删除所有用户（仅用于开发数据脚本）
func (r *GormUserRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.User{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete users: %w", result.Error)
	}
	return result.RowsAffected, nil
}
