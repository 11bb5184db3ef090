package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"messenger/apperror"
	"messenger/models"
	"messenger/repository"
)

func TestUserService_GetUserByIDCaches(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")

	user, err := env.userSvc.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.Nickname, user.Nickname)
	assert.True(t, env.mr.Exists(userCacheKey(alice.ID, 0)))

	// 缓存中不包含密码哈希
	cached, err := env.mr.Get(userCacheKey(alice.ID, 0))
	require.NoError(t, err)
	assert.NotContains(t, cached, alice.Password)

	env.userSvc.InvalidateCache(ctx, alice.ID)
	version, err := env.mr.Get(userVersionKey(alice.ID))
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	_, err = env.userSvc.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, env.mr.Exists(userCacheKey(alice.ID, 1)))
}

// pausingUsers 在一次 FindByID 读完数据后暂停，模拟与写操作交错的慢读
type pausingUsers struct {
	repository.UserRepository
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newPausingUsers(users repository.UserRepository) *pausingUsers {
	p := &pausingUsers{
		UserRepository: users,
		loaded:         make(chan struct{}),
		release:        make(chan struct{}),
	}
	p.armed.Store(true)
	return p
}

func (p *pausingUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, err := p.UserRepository.FindByID(ctx, id)
	if p.armed.CompareAndSwap(true, false) {
		close(p.loaded)
		<-p.release
	}
	return user, err
}

func TestUserService_StaleReadDoesNotRepopulateCache(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, auth *AuthService, userID string)
		wantErr string
	}{
		{
			name: "password change",
			mutate: func(t *testing.T, auth *AuthService, userID string) {
				_, _, err := auth.ChangePassword(context.Background(), userID, "password123", "newpassword1", "newpassword1")
				require.NoError(t, err)
			},
			wantErr: msgPasswordChanged,
		},
		{
			name: "account deletion",
			mutate: func(t *testing.T, auth *AuthService, userID string) {
				require.NoError(t, auth.DeleteAccount(context.Background(), userID, "password123"))
			},
			wantErr: msgUserGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			ctx := context.Background()
			alice, _ := env.signup(t, "alice01")

			earlier := NewTokenService("test-secret", 7*24*time.Hour)
			earlier.now = func() time.Time { return time.Now().Add(-time.Hour) }
			before, err := earlier.Generate(alice.ID)
			require.NoError(t, err)

			slow := newPausingUsers(env.users)
			userSvc := NewUserService(slow, env.rdb, env.media, time.Hour, zap.NewNop())
			auth := NewAuthService(env.users, userSvc, env.tokens, zap.NewNop())
			auth.SetHashCost(bcrypt.MinCost)

			// 缓存未命中的校验读到修改前的用户后暂停
			done := make(chan error, 1)
			go func() {
				_, err := auth.VerifySession(ctx, before.Token)
				done <- err
			}()
			<-slow.loaded

			tt.mutate(t, auth, alice.ID)

			close(slow.release)
			require.NoError(t, <-done)

			_, err = auth.VerifySession(ctx, before.Token)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestUserService_WithoutRedis(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")

	svc := NewUserService(env.users, nil, env.media, 0, env.auth.logger)
	user, err := svc.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
}

func TestUserService_NicknameAvailable(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	available, err := env.userSvc.NicknameAvailable(ctx, "alice01")
	require.NoError(t, err)
	assert.True(t, available)

	env.signup(t, "alice01")

	available, err = env.userSvc.NicknameAvailable(ctx, "alice01")
	require.NoError(t, err)
	assert.False(t, available)

	_, err = env.userSvc.NicknameAvailable(ctx, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestUserService_NicknameHeldAfterDeactivation(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	require.NoError(t, env.auth.DeleteAccount(ctx, alice.ID, "password123"))

	available, err := env.userSvc.NicknameAvailable(ctx, "alice01")
	require.NoError(t, err)
	assert.False(t, available)

	// 与注册结果一致
	_, _, err = env.auth.Signup(ctx, SignupInput{
		Nickname:        "alice01",
		Email:           "fresh@example.com",
		Password:        "password123",
		PasswordConfirm: "password123",
	})
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestUserService_ListOthersWithPresence(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")
	carol, _ := env.signup(t, "carol01")

	require.True(t, env.hub.RegisterClient(bob.ID, &fakeConn{}))

	others, err := env.userSvc.ListOthers(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, others, 2)

	online := map[string]bool{}
	for _, u := range others {
		assert.NotEqual(t, alice.ID, u.ID)
		online[u.ID] = u.Online
	}
	assert.True(t, online[bob.ID])
	assert.False(t, online[carol.ID])
}

func TestUserService_UpdateAvatar(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")

	_, err := env.userSvc.UpdateAvatar(ctx, alice, "")
	assert.EqualError(t, err, "Profile picture is required")

	_, err = env.userSvc.UpdateAvatar(ctx, alice, "https://example.com/a.png")
	assert.EqualError(t, err, "Invalid image format")

	env.media.fail = true
	_, err = env.userSvc.UpdateAvatar(ctx, alice, testPNG)
	assert.Equal(t, apperror.KindUpstream, apperror.KindOf(err))
	assert.EqualError(t, err, "Image could not be uploaded")

	env.media.fail = false
	updated, err := env.userSvc.UpdateAvatar(ctx, alice, testPNG)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/img.png", updated.Avatar)

	user, err := env.userSvc.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Avatar, user.Avatar)
}
