package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"messenger/apperror"
	"messenger/models"
	"messenger/repository"
)

const keyUserPrefix = "user:"

// PresenceChecker 查询用户是否在线
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// UserService 用户服务
type UserService struct {
	users    repository.UserRepository
	rdb      *redis.Client
	media    MediaUploader
	presence PresenceChecker
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewUserService 创建用户服务，rdb 为 nil 时不使用缓存
func NewUserService(users repository.UserRepository, rdb *redis.Client, media MediaUploader, cacheTTL time.Duration, logger *zap.Logger) *UserService {
	return &UserService{
		users:    users,
		rdb:      rdb,
		media:    media,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// SetPresence 设置在线状态来源
func (s *UserService) SetPresence(p PresenceChecker) {
	s.presence = p
}

// GetUserByID 根据ID获取活跃用户，优先读缓存
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var (
		key      string
		useCache bool
	)
	if s.rdb != nil {
		// 版本号必须在读库之前取得，失效后旧版本的回写落在无人读取的键上
		ver, err := s.rdb.Get(ctx, userVersionKey(id)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("读取用户缓存版本失败", zap.String("userId", id), zap.Error(err))
		} else {
			key, useCache = userCacheKey(id, ver), true
		}
	}

	if useCache {
		if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var user models.User
			if err := json.Unmarshal(data, &user); err == nil {
				// 只缓存活跃用户
				user.Active = true
				return &user, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("读取用户缓存失败", zap.String("userId", id), zap.Error(err))
		}
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if useCache {
		data, _ := json.Marshal(user)
		if err := s.rdb.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			s.logger.Warn("写入用户缓存失败", zap.String("userId", id), zap.Error(err))
		}
	}

	return user, nil
}

// InvalidateCache 递增缓存版本，之前版本的缓存项不再被读取
func (s *UserService) InvalidateCache(ctx context.Context, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Incr(ctx, userVersionKey(id)).Err(); err != nil {
		s.logger.Warn("更新用户缓存版本失败", zap.String("userId", id), zap.Error(err))
	}
}

func userVersionKey(id string) string {
	return keyUserPrefix + id + ":ver"
}

func userCacheKey(id string, ver int64) string {
	return keyUserPrefix + id + ":v" + strconv.FormatInt(ver, 10)
}

// NicknameAvailable 昵称是否可用，已注销用户的昵称仍视为占用
func (s *UserService) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	if nickname == "" {
		return false, apperror.Validation("Nickname is required")
	}

	taken, err := s.users.NicknameTaken(ctx, nickname)
	if err != nil {
		return false, apperror.Internal(err)
	}
	return !taken, nil
}

// ListOthers 除当前用户外的所有活跃用户
func (s *UserService) ListOthers(ctx context.Context, userID string) ([]models.UserResponse, error) {
	users, err := s.users.ListExcept(ctx, userID)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	responses := make([]models.UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, s.toResponse(&users[i]))
	}
	return responses, nil
}

// Profile 用户资料响应
func (s *UserService) Profile(user *models.User) models.UserResponse {
	return s.toResponse(user)
}

// UpdateAvatar 上传并更新头像
func (s *UserService) UpdateAvatar(ctx context.Context, user *models.User, profilePic string) (*models.User, error) {
	if profilePic == "" {
		return nil, apperror.Validation("Profile picture is required")
	}
	if !IsInlineImage(profilePic) {
		return nil, apperror.Validation("Invalid image format")
	}

	url, err := s.media.Upload(ctx, profilePic)
	if err != nil {
		return nil, apperror.Upstream("Image could not be uploaded", err)
	}

	if err := s.users.UpdateAvatar(ctx, user.ID, url); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("No user found with this Id")
		}
		return nil, apperror.Internal(err)
	}
	s.InvalidateCache(ctx, user.ID)

	updated, err := s.users.FindByID(ctx, user.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return updated, nil
}

// Deactivate 软删除用户
func (s *UserService) Deactivate(ctx context.Context, id string) error {
	if err := s.users.Deactivate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.NotFound("No user found with this Id")
		}
		return apperror.Internal(err)
	}
	s.InvalidateCache(ctx, id)
	return nil
}

func (s *UserService) toResponse(user *models.User) models.UserResponse {
	resp := user.ToResponse()
	if s.presence != nil {
		resp.Online = s.presence.IsOnline(user.ID)
	}
	return resp
}
