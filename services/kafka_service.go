package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// 事件种类，主题名为 前缀+种类
const (
	EventMessages = "messages"
	EventPresence = "presence"
)

// publishTimeout 生产者输入通道的最长等待时间，超时的事件被丢弃
const publishTimeout = 50 * time.Millisecond

// KafkaService 将领域事件异步发布到Kafka，失败只记录不影响主流程
type KafkaService struct {
	producer sarama.AsyncProducer
	prefix   string
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	metrics  *KafkaMetrics
}

// KafkaMetrics 收集Kafka相关指标
type KafkaMetrics struct {
	messagesSent int64
	errors       int64
	dropped      int64
	mu           sync.RWMutex
}

// Event 发布到Kafka的事件
type Event struct {
	Type      string    `json:"type"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewKafkaService 连接Kafka并创建异步生产者
func NewKafkaService(brokers []string, prefix string, logger *zap.Logger) (*KafkaService, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Flush.MaxMessages = 10
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Version = sarama.V2_5_0_0

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka异步生产者失败: %w", err)
	}

	return NewKafkaServiceWithProducer(producer, prefix, logger), nil
}

// NewKafkaServiceWithProducer 使用已有生产者创建服务
func NewKafkaServiceWithProducer(producer sarama.AsyncProducer, prefix string, logger *zap.Logger) *KafkaService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &KafkaService{
		producer: producer,
		prefix:   prefix,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		metrics:  &KafkaMetrics{},
	}

	s.wg.Add(1)
	go s.handleResponses()

	return s
}

// handleResponses 处理异步生产者的成功和错误回调
func (s *KafkaService) handleResponses() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case success, ok := <-s.producer.Successes():
			if !ok {
				return
			}
			s.metrics.mu.Lock()
			s.metrics.messagesSent++
			s.metrics.mu.Unlock()
			s.logger.Debug("事件已发送",
				zap.String("topic", success.Topic),
				zap.Int32("partition", success.Partition),
				zap.Int64("offset", success.Offset))
		case perr, ok := <-s.producer.Errors():
			if !ok {
				return
			}
			s.metrics.mu.Lock()
			s.metrics.errors++
			s.metrics.mu.Unlock()
			s.logger.Warn("事件发送失败", zap.Error(perr))
		}
	}
}

// Topic 事件种类对应的主题
func (s *KafkaService) Topic(kind string) string {
	return s.prefix + kind
}

// PublishEvent 异步发布事件
func (s *KafkaService) PublishEvent(kind, key string, payload any) {
	value, err := json.Marshal(Event{
		Type:      kind,
		Content:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("序列化事件失败", zap.String("kind", kind), zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic:     s.Topic(kind),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case s.producer.Input() <- msg:
	case <-s.ctx.Done():
	case <-timer.C:
		s.metrics.mu.Lock()
		s.metrics.dropped++
		s.metrics.errors++
		s.metrics.mu.Unlock()
		s.logger.Warn("Kafka生产者繁忙，事件已丢弃", zap.String("topic", msg.Topic))
	}
}

// GetMetrics 获取Kafka指标
func (s *KafkaService) GetMetrics() map[string]int64 {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return map[string]int64{
		"messages_sent": s.metrics.messagesSent,
		"errors":        s.metrics.errors,
		"dropped":       s.metrics.dropped,
	}
}

// Close 关闭生产者
func (s *KafkaService) Close() error {
	s.cancel()
	s.wg.Wait()
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("关闭Kafka异步生产者失败: %w", err)
	}
	return nil
}
