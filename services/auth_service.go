package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"messenger/apperror"
	"messenger/models"
	"messenger/repository"
)

const (
	msgNotLoggedIn       = "You are not logged in. Please login to get access."
	msgInvalidToken      = "Invalid token. Please login again"
	msgExpiredToken      = "Your token has expired. Please login again"
	msgUserGone          = "The user belonging to this token does no longer exist."
	msgPasswordChanged   = "User has recently changed password. Please login again"
	msgWrongCredentials  = "Wrong credentials"
	msgIncorrectPassword = "Incorrect current password. Please try again."
)

// passwordChangeSkew 修改密码时间向前偏移，保证同一秒签发的旧令牌失效判断不出现竞态
const passwordChangeSkew = time.Second

var validate = validator.New()

// fieldMessages 校验失败时返回给客户端的提示，按 字段.规则 索引
var fieldMessages = map[string]string{
	"Nickname.required":        "Nickname is required",
	"Nickname.min":             "Nickname must have greater or equal than 5 characters",
	"Nickname.max":             "Nickname must have less or equal than 12 characters",
	"Email.required":           "Email is required",
	"Email.email":              "Invalid email",
	"Password.required":        "Password is required",
	"Password.min":             "Password must be at least 8 characters",
	"PasswordConfirm.required": "Please confirm your password",
	"PasswordConfirm.eqfield":  "Password does not match",
}

// SignupInput 注册参数
type SignupInput struct {
	Nickname        string `json:"nickname" validate:"required,min=5,max=12"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// passwordInput 修改密码时复用注册的密码规则
type passwordInput struct {
	Password        string `validate:"required,min=8"`
	PasswordConfirm string `validate:"required,eqfield=Password"`
}

// AuthService 认证与会话服务
type AuthService struct {
	users     repository.UserRepository
	userSvc   *UserService
	tokens    *TokenService
	logger    *zap.Logger
	hashCost  int
	dummyHash []byte
}

// NewAuthService 创建认证服务
func NewAuthService(users repository.UserRepository, userSvc *UserService, tokens *TokenService, logger *zap.Logger) *AuthService {
	s := &AuthService{
		users:   users,
		userSvc: userSvc,
		tokens:  tokens,
		logger:  logger,
	}
	s.SetHashCost(bcrypt.DefaultCost)
	return s
}

// SetHashCost 设置bcrypt计算强度，测试中使用 bcrypt.MinCost
func (s *AuthService) SetHashCost(cost int) {
	s.hashCost = cost
	// 用户不存在时也执行一次比较，避免通过响应时间区分
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
}

// Signup 注册新用户并签发会话
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*models.User, *Session, error) {
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := validateInput(in); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}

	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	user := &models.User{
		ID:        id.String(),
		Nickname:  in.Nickname,
		Email:     in.Email,
		Password:  string(hash),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, s.duplicateError(ctx, user)
		}
		return nil, nil, apperror.Internal(err)
	}

	session, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}

	s.logger.Info("用户注册", zap.String("userId", user.ID), zap.String("nickname", user.Nickname))
	return user, session, nil
}

func (s *AuthService) duplicateError(ctx context.Context, user *models.User) error {
	value := user.Email
	if taken, err := s.users.NicknameTaken(ctx, user.Nickname); err == nil && taken {
		value = user.Nickname
	}
	return apperror.Conflict(fmt.Sprintf("Duplicate field value: %q. Please use another value!", value))
}

// Login 通过邮箱或昵称登录，所有失败情况返回同一提示
func (s *AuthService) Login(ctx context.Context, identifierType, identifier, password string) (*models.User, *Session, error) {
	if identifierType == "" || identifier == "" || password == "" {
		return nil, nil, apperror.Validation("Please provide login identifierType, identifier and password")
	}

	var (
		user *models.User
		err  error
	)
	switch identifierType {
	case "email":
		user, err = s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	case "nickname":
		user, err = s.users.FindByNickname(ctx, strings.TrimSpace(identifier))
	default:
		err = repository.ErrNotFound
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperror.Internal(err)
	}

	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil, apperror.Authentication(msgWrongCredentials)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil, apperror.Authentication(msgWrongCredentials)
	}

	session, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	return user, session, nil
}

// VerifySession 校验令牌并返回对应的活跃用户
func (s *AuthService) VerifySession(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperror.Authentication(msgNotLoggedIn)
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, apperror.Authentication(msgExpiredToken)
		}
		return nil, apperror.Authentication(msgInvalidToken)
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, apperror.Authentication(msgInvalidToken)
	}

	user, err := s.userSvc.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Authentication(msgUserGone)
		}
		return nil, apperror.Internal(err)
	}

	if user.ChangedPasswordAfter(claims.IssuedAt.Time) {
		return nil, apperror.Authentication(msgPasswordChanged)
	}
	return user, nil
}

// ChangePassword 修改密码并签发新会话，之前签发的令牌全部失效
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next, confirm string) (*models.User, *Session, error) {
	if current == "" || next == "" || confirm == "" {
		return nil, nil, apperror.Validation("All fields are required")
	}

	user, err := s.checkPassword(ctx, userID, current)
	if err != nil {
		return nil, nil, err
	}

	if current == next {
		return nil, nil, apperror.Validation("New password cannot be the same as the current one")
	}
	if err := validateInput(passwordInput{Password: next, PasswordConfirm: confirm}); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.hashCost)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}

	changedAt := time.Now().UTC().Add(-passwordChangeSkew)
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), changedAt); err != nil {
		return nil, nil, apperror.Internal(err)
	}
	s.userSvc.InvalidateCache(ctx, user.ID)

	updated, err := s.users.FindByID(ctx, user.ID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}

	session, err := s.tokens.Generate(updated.ID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}

	s.logger.Info("用户修改密码", zap.String("userId", updated.ID))
	return updated, session, nil
}

// DeleteAccount 校验当前密码后注销账号
func (s *AuthService) DeleteAccount(ctx context.Context, userID, current string) error {
	if current == "" {
		return apperror.Validation("Current password is required")
	}

	if _, err := s.checkPassword(ctx, userID, current); err != nil {
		return err
	}

	if err := s.userSvc.Deactivate(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("用户注销账号", zap.String("userId", userID))
	return nil
}

// checkPassword 从存储读取带密码哈希的用户并比对
func (s *AuthService) checkPassword(ctx context.Context, userID, password string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Authentication(msgUserGone)
		}
		return nil, apperror.Internal(err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperror.Validation(msgIncorrectPassword)
	}
	return user, nil
}

// validateInput 将校验错误合并为一条提示
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Internal(err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid", fe.Field())
		}
		messages = append(messages, msg)
	}
	return apperror.Validation("Invalid input data: " + strings.Join(messages, ". "))
}
