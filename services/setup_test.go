package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"messenger/models"
	"messenger/repository"
)

type testEnv struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	rdb      *redis.Client
	mr       *miniredis.Miniredis
	tokens   *TokenService
	userSvc  *UserService
	auth     *AuthService
	msgSvc   *MessageService
	hub      *WebSocketManager
	media    *stubUploader
}

// stubUploader 测试用上传器
type stubUploader struct {
	fail  bool
	calls int
}

func (s *stubUploader) Upload(_ context.Context, dataURI string) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("upload failed")
	}
	if !IsInlineImage(dataURI) {
		return "", ErrInvalidImage
	}
	return "https://cdn.test/img.png", nil
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.OpenGorm("sqlite", ":memory:", 1, 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := zap.NewNop()
	env := &testEnv{
		users:    repository.NewGormUserRepository(db),
		messages: repository.NewGormMessageRepository(db),
		rdb:      rdb,
		mr:       mr,
		tokens:   NewTokenService("test-secret", 7*24*time.Hour),
		media:    &stubUploader{},
	}

	env.hub = NewWebSocketManager(0, logger)
	env.userSvc = NewUserService(env.users, rdb, env.media, time.Hour, logger)
	env.userSvc.SetPresence(env.hub)
	env.auth = NewAuthService(env.users, env.userSvc, env.tokens, logger)
	env.auth.SetHashCost(bcrypt.MinCost)
	env.msgSvc = NewMessageService(env.messages, env.users, env.media, env.hub, logger)

	return env
}

func (e *testEnv) signup(t *testing.T, nickname string) (*models.User, *Session) {
	t.Helper()
	user, session, err := e.auth.Signup(context.Background(), SignupInput{
		Nickname:        nickname,
		Email:           nickname + "@example.com",
		Password:        "password123",
		PasswordConfirm: "password123",
	})
	require.NoError(t, err)
	return user, session
}
