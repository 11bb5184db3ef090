package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"messenger/models"
)

const (
	// Redis键名，在线用户集合的镜像
	keyOnlineUsers = "chat:online_users"

	// 服务端推送的事件类型
	EventTypeOnlineUsers = "getOnlineUsers"
	EventTypeNewMessage  = "newMessage"
)

// WebSocketMessage 服务端推送给客户端的消息
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// Connection 一个实时连接，Enqueue 不得阻塞
type Connection interface {
	Enqueue(message []byte) bool
	Close()
}

// WebSocketManager 在线用户登记表：userID -> 连接
type WebSocketManager struct {
	mu      sync.RWMutex
	clients map[string]Connection
	owners  map[Connection]string

	maxConnections int
	rdb            *redis.Client
	events         EventPublisher
	logger         *zap.Logger
}

// NewWebSocketManager 创建登记表，maxConnections <= 0 表示不限制
func NewWebSocketManager(maxConnections int, logger *zap.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:        make(map[string]Connection),
		owners:         make(map[Connection]string),
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// SetRedis 在Redis中同步维护在线用户集合，启动时清空旧数据
func (m *WebSocketManager) SetRedis(ctx context.Context, rdb *redis.Client) {
	m.rdb = rdb
	if err := rdb.Del(ctx, keyOnlineUsers).Err(); err != nil {
		m.logger.Warn("清理在线用户集合失败", zap.Error(err))
	}
}

// SetEventPublisher 上下线事件额外发布到消息队列
func (m *WebSocketManager) SetEventPublisher(p EventPublisher) {
	m.events = p
}

// RegisterClient 登记连接。同一用户已有连接时关闭旧连接
func (m *WebSocketManager) RegisterClient(userID string, conn Connection) bool {
	m.mu.Lock()
	old, replacing := m.clients[userID]
	if !replacing && m.maxConnections > 0 && len(m.clients) >= m.maxConnections {
		m.mu.Unlock()
		m.logger.Warn("达到最大连接数限制，拒绝新连接", zap.String("userId", userID))
		return false
	}
	if replacing {
		delete(m.owners, old)
	}
	m.clients[userID] = conn
	m.owners[conn] = userID
	count := len(m.clients)
	m.mu.Unlock()

	if replacing {
		old.Close()
	}

	m.setOnline(userID, true)
	m.logger.Info("客户端已连接", zap.String("userId", userID), zap.Int("connections", count))
	m.broadcastOnlineUsers()
	return true
}

// UnregisterClient 注销连接。连接已被替换时不影响新连接
func (m *WebSocketManager) UnregisterClient(conn Connection) {
	m.mu.Lock()
	userID, ok := m.owners[conn]
	if ok {
		delete(m.owners, conn)
		delete(m.clients, userID)
	}
	count := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}

	conn.Close()
	m.setOnline(userID, false)
	m.logger.Info("客户端已断开连接", zap.String("userId", userID), zap.Int("connections", count))
	m.broadcastOnlineUsers()
}

// DisconnectUser 主动断开用户连接，用于注销账号等场景
func (m *WebSocketManager) DisconnectUser(userID string) {
	if conn, ok := m.Lookup(userID); ok {
		m.UnregisterClient(conn)
	}
}

// Lookup 查找用户的连接
func (m *WebSocketManager) Lookup(userID string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.clients[userID]
	return conn, ok
}

// IsOnline 用户是否在线
func (m *WebSocketManager) IsOnline(userID string) bool {
	_, ok := m.Lookup(userID)
	return ok
}

// GetOnlineUserIDs 在线用户ID，按字典序排序
func (m *WebSocketManager) GetOnlineUserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onlineIDsLocked()
}

func (m *WebSocketManager) onlineIDsLocked() []string {
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetConnectionCount 获取当前连接数
func (m *WebSocketManager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// DeliverIfOnline 接收者在线时推送新消息，不在线时什么也不做
func (m *WebSocketManager) DeliverIfOnline(receiverID string, msg *models.Message) bool {
	conn, ok := m.Lookup(receiverID)
	if !ok {
		return false
	}

	payload, err := encodeMessage(EventTypeNewMessage, msg)
	if err != nil {
		m.logger.Error("序列化消息失败", zap.Error(err))
		return false
	}
	return m.send(conn, payload)
}

// SendToUser 发送原始消息给特定用户
func (m *WebSocketManager) SendToUser(userID string, message []byte) bool {
	conn, ok := m.Lookup(userID)
	if !ok {
		return false
	}
	return m.send(conn, message)
}

// send 发送缓冲区已满时视为慢连接，直接断开
func (m *WebSocketManager) send(conn Connection, message []byte) bool {
	if conn.Enqueue(message) {
		return true
	}
	m.logger.Warn("发送缓冲区已满，关闭连接")
	m.UnregisterClient(conn)
	return false
}

// broadcastOnlineUsers 广播在线用户列表给所有连接。
// 快照和入队在同一把锁内完成，后入队的列表总是反映更新的状态
func (m *WebSocketManager) broadcastOnlineUsers() {
	m.mu.Lock()
	ids := m.onlineIDsLocked()
	payload, err := encodeMessage(EventTypeOnlineUsers, ids)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error("序列化在线用户失败", zap.Error(err))
		return
	}

	// Enqueue 不阻塞，可以在持锁时调用
	var slow []Connection
	for _, conn := range m.clients {
		if !conn.Enqueue(payload) {
			slow = append(slow, conn)
		}
	}
	m.mu.Unlock()

	for _, conn := range slow {
		m.UnregisterClient(conn)
	}

	if m.events != nil {
		m.events.PublishEvent(EventPresence, "", ids)
	}
}

func (m *WebSocketManager) setOnline(userID string, online bool) {
	if m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	if online {
		err = m.rdb.SAdd(ctx, keyOnlineUsers, userID).Err()
	} else {
		err = m.rdb.SRem(ctx, keyOnlineUsers, userID).Err()
	}
	if err != nil {
		m.logger.Warn("更新在线用户集合失败", zap.String("userId", userID), zap.Error(err))
	}
}

func encodeMessage(eventType string, content any) ([]byte, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebSocketMessage{
		Type:      eventType,
		Content:   raw,
		Timestamp: time.Now().UTC(),
	})
}
