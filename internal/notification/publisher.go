package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// jobQueueKey - очередь заданий на доставку уведомлений
	jobQueueKey = "notification_jobs"
	// deadLetterKey - очередь для оператора: уведомления, исчерпавшие попытки
	deadLetterKey = "notification_dead_letters"
)

// Publisher - интерфейс постановки уведомлений в очередь доставки.
// В очереди хранится только ID: состояние доставки восстанавливается из
// персистентной записи, а не из полезной нагрузки очереди.
type Publisher interface {
	Enqueue(ctx context.Context, notificationID uuid.UUID) error
}

// RedisPublisher - реализация Publisher, использующая Redis
type RedisPublisher struct {
	redisClient *redis.Client
}

// NewRedisPublisher создает новый RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
	}
}

// Enqueue публикует ID уведомления в очередь Redis
func (p *RedisPublisher) Enqueue(ctx context.Context, notificationID uuid.UUID) error {
	// LPUSH добавляет задание в левую часть списка (очереди)
	if err := p.redisClient.LPush(ctx, jobQueueKey, notificationID.String()).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification job to Redis: %w", err)
	}
	return nil
}
