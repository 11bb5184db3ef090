package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"messenger/middleware"
	"messenger/models"
	"messenger/repository"
	"messenger/services"
)

const testSecret = "api-test-secret"

type apiResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	Message string          `json:"message"`
	Results int             `json:"results"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine *gin.Engine
	hub    *services.WebSocketManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	users := repository.NewGormUserRepository(db)
	messages := repository.NewGormMessageRepository(db)
	media := services.InlineUploader{}

	hub := services.NewWebSocketManager(0, logger)
	userSvc := services.NewUserService(users, rdb, media, time.Hour, logger)
	userSvc.SetPresence(hub)
	tokens := services.NewTokenService(testSecret, 7*24*time.Hour)
	authSvc := services.NewAuthService(users, userSvc, tokens, logger)
	authSvc.SetHashCost(bcrypt.MinCost)
	msgSvc := services.NewMessageService(messages, users, media, hub, logger)

	r := gin.New()
	r.Use(middleware.RequestLogger(logger), middleware.ErrorHandler(true, logger), middleware.Recovery(logger))
	RegisterRoutes(r, Dependencies{
		AuthService:    authSvc,
		UserService:    userSvc,
		MessageService: msgSvc,
		WSManager:      hub,
		Upgrader:       services.NewUpgrader(nil),
		Cookie:         CookieConfig{Name: "jwt", MaxAge: 7 * 24 * time.Hour},
		Logger:         logger,
	})

	return &testServer{engine: r, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *testServer) signup(t *testing.T, nickname string) (models.UserResponse, string) {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"nickname":        nickname,
		"email":           nickname + "@example.com",
		"password":        "password123",
		"passwordConfirm": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)

	var user models.UserResponse
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	return user, resp.Token
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "jwt" {
			return c
		}
	}
	return nil
}

func TestSignupSetsCookie(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"nickname":        "alice01",
		"email":           "alice01@example.com",
		"password":        "password123",
		"passwordConfirm": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Token)
	assert.NotContains(t, string(resp.Data), `"password"`)

	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice01")

	w, resp := s.do(t, http.MethodPost, "/api/auth/check-nickname", "", gin.H{"nickname": "alice01"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.Success)

	_, resp = s.do(t, http.MethodPost, "/api/auth/check-nickname", "", gin.H{"nickname": "freename"})
	assert.True(t, resp.Success)

	w, _ = s.do(t, http.MethodPost, "/api/auth/check-nickname", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"identifierType": "nickname", "identifier": "alice01", "password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := resp.Token

	w, wrong := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"identifierType": "nickname", "identifier": "alice01", "password": "nope12345",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Wrong credentials", wrong.Message)

	w, resp = s.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "alice01")

	w, resp = s.do(t, http.MethodGet, "/api/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "You are not logged in. Please login to get access.", resp.Message)

	w, _ = s.do(t, http.MethodGet, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.MaxAge < 0)
}

func TestMessagingFlow(t *testing.T) {
	s := newTestServer(t)
	alice, aliceToken := s.signup(t, "alice01")
	bob, bobToken := s.signup(t, "bobby01")

	w, resp := s.do(t, http.MethodGet, "/api/users", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Results)
	assert.Contains(t, string(resp.Data), bob.ID)

	w, resp = s.do(t, http.MethodPost, "/api/messages/send/"+bob.ID, aliceToken, gin.H{"messageText": "hello"})
	require.Equal(t, http.StatusCreated, w.Code, resp.Message)
	var sent models.Message
	require.NoError(t, json.Unmarshal(resp.Data, &sent))
	assert.Equal(t, "hello", sent.MessageText)
	assert.Equal(t, []string{}, sent.Images)

	w, resp = s.do(t, http.MethodPost, "/api/messages/send/"+alice.ID, aliceToken, gin.H{"messageText": "me"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot message yourself", resp.Message)

	w, _ = s.do(t, http.MethodPost, "/api/messages/send/not-an-id", aliceToken, gin.H{"messageText": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = s.do(t, http.MethodPost, "/api/messages/send/"+bob.ID, aliceToken, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message cannot be empty", resp.Message)

	w, resp = s.do(t, http.MethodGet, "/api/messages/"+alice.ID+"?skip=abc", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Results)

	w, resp = s.do(t, http.MethodGet, "/api/messages/last-messages", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var last []models.Message
	require.NoError(t, json.Unmarshal(resp.Data, &last))
	require.Len(t, last, 1)
	assert.Equal(t, sent.ID, last[0].ID)
}

func TestProfileFlow(t *testing.T) {
	s := newTestServer(t)
	alice, token := s.signup(t, "alice01")

	w, resp := s.do(t, http.MethodPatch, "/api/users/update-profile", token, gin.H{"avatar": "data:image/png;base64,aGVsbG8="})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.Contains(t, string(resp.Data), "data:image/png;base64,aGVsbG8=")

	w, resp = s.do(t, http.MethodPatch, "/api/users/update-profile", token, gin.H{"avatar": "not-an-image"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid image format", resp.Message)

	// 一小时前签发的令牌，修改密码后应失效
	oldToken := signedAt(t, alice.ID, time.Now().Add(-time.Hour))
	w, _ = s.do(t, http.MethodGet, "/api/auth/verify", oldToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodPatch, "/api/users/update-password", token, gin.H{
		"passwordCurrent": "password123", "passwordNew": "newpassword1", "passwordConfirm": "newpassword1",
	})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	newToken := resp.Token
	assert.NotEmpty(t, newToken)
	require.NotNil(t, sessionCookie(w))

	w, resp = s.do(t, http.MethodGet, "/api/auth/verify", oldToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "User has recently changed password. Please login again", resp.Message)

	w, _ = s.do(t, http.MethodPatch, "/api/users/delete-account", newToken, gin.H{"passwordCurrent": "wrongpass1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPatch, "/api/users/delete-account", newToken, gin.H{"passwordCurrent": "newpassword1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)

	w, _ = s.do(t, http.MethodGet, "/api/auth/verify", newToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func signedAt(t *testing.T, userID string, issuedAt time.Time) string {
	t.Helper()
	claims := services.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(7 * 24 * time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w, resp := s.do(t, http.MethodGet, "/api/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}

func readEvent(t *testing.T, conn *websocket.Conn, eventType string) services.WebSocketMessage {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg services.WebSocketMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestWebSocketPresenceAndDelivery(t *testing.T) {
	s := newTestServer(t)
	_, aliceToken := s.signup(t, "alice01")
	bob, bobToken := s.signup(t, "bobby01")

	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"

	// 未认证的握手被拒绝
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+bobToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	online := readEvent(t, conn, services.EventTypeOnlineUsers)
	var ids []string
	require.NoError(t, json.Unmarshal(online.Content, &ids))
	assert.Equal(t, []string{bob.ID}, ids)

	w, _ := s.do(t, http.MethodPost, "/api/messages/send/"+bob.ID, aliceToken, gin.H{"messageText": "ping"})
	require.Equal(t, http.StatusCreated, w.Code)

	event := readEvent(t, conn, services.EventTypeNewMessage)
	var msg models.Message
	require.NoError(t, json.Unmarshal(event.Content, &msg))
	assert.Equal(t, "ping", msg.MessageText)

	// 查询参数方式的令牌同样可以建立连接
	aliceConn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+aliceToken, nil)
	require.NoError(t, err)
	online = readEvent(t, conn, services.EventTypeOnlineUsers)
	require.NoError(t, json.Unmarshal(online.Content, &ids))
	assert.Len(t, ids, 2)

	aliceConn.Close()
	assert.Eventually(t, func() bool {
		return s.hub.GetConnectionCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}
