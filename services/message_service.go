package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"messenger/apperror"
	"messenger/models"
	"messenger/repository"
)

const (
	// PageSize 每页消息数
	PageSize = 15
	// MaxImages 单条消息最多图片数
	MaxImages = 10
)

const msgNoUser = "No user found with this Id"

// Deliverer 实时投递
type Deliverer interface {
	DeliverIfOnline(receiverID string, msg *models.Message) bool
}

// EventPublisher 领域事件发布（可选）
type EventPublisher interface {
	PublishEvent(kind, key string, payload any)
}

// MessageService 处理消息的存储和检索
type MessageService struct {
	messages  repository.MessageRepository
	users     repository.UserRepository
	media     MediaUploader
	deliverer Deliverer
	events    EventPublisher
	logger    *zap.Logger
}

// NewMessageService 创建消息服务
func NewMessageService(messages repository.MessageRepository, users repository.UserRepository, media MediaUploader, deliverer Deliverer, logger *zap.Logger) *MessageService {
	return &MessageService{
		messages:  messages,
		users:     users,
		media:     media,
		deliverer: deliverer,
		logger:    logger,
	}
}

// SetEventPublisher 设置事件发布者，未设置时不发布
func (s *MessageService) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// SendMessage 发送私聊消息，持久化后尝试实时投递
func (s *MessageService) SendMessage(ctx context.Context, senderID, receiverID string, req models.SendMessageRequest) (*models.Message, error) {
	if _, err := uuid.Parse(receiverID); err != nil {
		return nil, apperror.NotFound(msgNoUser)
	}
	if receiverID == senderID {
		return nil, apperror.BusinessRule("Cannot message yourself")
	}

	if _, err := s.users.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(msgNoUser)
		}
		return nil, apperror.Internal(err)
	}

	text := strings.TrimSpace(req.MessageText)
	if text == "" && len(req.Images) == 0 {
		return nil, apperror.Validation("Message cannot be empty")
	}
	if len(req.Images) > MaxImages {
		return nil, apperror.Validation("Too many images (max 10)")
	}
	for _, img := range req.Images {
		if !IsInlineImage(img) {
			return nil, apperror.Validation("Invalid image format")
		}
	}

	urls := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		url, err := s.media.Upload(ctx, img)
		if err != nil {
			s.logger.Error("图片上传失败", zap.String("senderId", senderID), zap.Error(err))
			return nil, apperror.Upstream("One or more images could not be uploaded", err)
		}
		urls = append(urls, url)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	msg := &models.Message{
		ID:          id.String(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		MessageText: text,
		Images:      urls,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperror.Internal(err)
	}

	// 消息已持久化，投递失败不影响请求结果
	if s.deliverer != nil {
		s.deliverer.DeliverIfOnline(receiverID, msg)
	}
	if s.events != nil {
		s.events.PublishEvent(EventMessages, receiverID, msg)
	}

	return msg, nil
}

// GetMessages 分页获取与某个用户的会话，按时间倒序
func (s *MessageService) GetMessages(ctx context.Context, userID, partnerID string, skip int) ([]models.Message, error) {
	if _, err := uuid.Parse(partnerID); err != nil {
		return nil, apperror.NotFound(msgNoUser)
	}
	if skip < 0 {
		skip = 0
	}

	messages, err := s.messages.ListConversation(ctx, userID, partnerID, skip, PageSize)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return messages, nil
}

// GetLastMessages 每个会话对象的最后一条消息
func (s *MessageService) GetLastMessages(ctx context.Context, userID string) ([]models.Message, error) {
	messages, err := s.messages.LastPerPartner(ctx, userID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return messages, nil
}
