package models

import (
	"time"
)

// Message 私聊消息模型，写入后不可修改
type Message struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey" bson:"_id"`
	SenderID    string    `json:"senderId" gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:1" bson:"senderId"`
	ReceiverID  string    `json:"receiverId" gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:2" bson:"receiverId"`
	MessageText string    `json:"messageText,omitempty" gorm:"type:text" bson:"messageText,omitempty"`
	Images      []string  `json:"images" gorm:"type:text;serializer:json" bson:"images"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;index" bson:"createdAt"`
}

// PartnerOf 返回消息中除userID之外的另一方
func (m *Message) PartnerOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// SendMessageRequest 发送消息请求模型
type SendMessageRequest struct {
	MessageText string   `json:"messageText"`
	Images      []string `json:"images"`
}
