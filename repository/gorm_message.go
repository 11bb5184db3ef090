package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"messenger/models"
)

// lastMessagesSQL 每个会话对象取最新一条，时间相同时按ID（UUIDv7，递增）决胜
const lastMessagesSQL = `
SELECT t.id FROM (
	SELECT m.id,
		ROW_NUMBER() OVER (
			PARTITION BY CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
			ORDER BY m.created_at DESC, m.id DESC
		) AS rn
	FROM messages m
	WHERE m.sender_id = ? OR m.receiver_id = ?
) t
WHERE t.rn = 1`

// GormMessageRepository 基于gorm的消息存储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建消息存储
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *GormMessageRepository) ListConversation(ctx context.Context, userA, userB string, skip, limit int) ([]models.Message, error) {
	messages := make([]models.Message, 0, limit)
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("created_at DESC").
		Order("id DESC").
		Offset(skip).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	normalizeImages(messages)
	return messages, nil
}

func (r *GormMessageRepository) LastPerPartner(ctx context.Context, userID string) ([]models.Message, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Raw(lastMessagesSQL, userID, userID, userID).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("last message ids: %w", err)
	}

	messages := make([]models.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at DESC").
		Order("id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	normalizeImages(messages)
	return messages, nil
}
