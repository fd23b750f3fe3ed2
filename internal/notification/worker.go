package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/metrics"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

// Store определяет контракт хранилища, необходимый воркеру доставки
type Store interface {
	GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	UpdateNotification(ctx context.Context, notification *models.Notification) error
	GetIncidentByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListStalePendingNotifications(ctx context.Context, olderThan time.Duration) ([]*models.Notification, error)
}

// Worker - обработчик очереди доставки уведомлений. Доставка как минимум
// однократная: повторная постановка после сбоя дедуплицируется по статусу
// персистентной записи (не-PENDING задания пропускаются).
type Worker struct {
	redisClient *redis.Client
	store       Store
	messenger   Messenger
	logger      *logrus.Logger
	cfg         *config.Config
	metrics     *metrics.Metrics
}

// NewWorker создает новый Worker
func NewWorker(redisClient *redis.Client, store Store, messenger Messenger, logger *logrus.Logger, cfg *config.Config, m *metrics.Metrics) *Worker {
	return &Worker{
		redisClient: redisClient,
		store:       store,
		messenger:   messenger,
		logger:      logger,
		cfg:         cfg,
		metrics:     m,
	}
}

// Start запускает горутину для обработки очереди уведомлений
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting notification worker...")
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("Stopping notification worker.")
				return
			default:
				// BRPop - блокирующее извлечение из правой части очереди,
				// 0 означает бесконечное ожидание
				result, err := w.redisClient.BRPop(ctx, 0, jobQueueKey).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						continue
					}
					w.logger.WithError(err).Error("Failed to pop notification job from Redis")
					time.Sleep(w.cfg.NotifyBaseDelay)
					continue
				}

				// result[0] - ключ, result[1] - значение
				notificationID, err := uuid.Parse(result[1])
				if err != nil {
					w.logger.WithError(err).Error("Malformed notification job payload")
					continue
				}

				w.processNotification(ctx, notificationID)
			}
		}
	}()
}

// processNotification доставляет одно уведомление с экспоненциальной задержкой
// между попытками. Исчерпание попыток переводит запись в FAILED и отправляет
// ее в операторскую очередь; статус инцидента при этом не затрагивается.
func (w *Worker) processNotification(ctx context.Context, notificationID uuid.UUID) {
	log := w.logger.WithFields(logrus.Fields{
		"service":         "notification",
		"notification_id": notificationID,
	})

	notification, err := w.store.GetNotificationByID(ctx, notificationID)
	if err != nil {
		log.WithError(err).Error("Failed to load notification record")
		return
	}

	// Дедупликация после рестарта: уже доставленные или проваленные задания не переотправляются
	if notification.Status != models.NotificationPending {
		log.WithField("status", notification.Status).Debug("Skipping notification in terminal status")
		return
	}

	incident, err := w.store.GetIncidentByID(ctx, notification.IncidentID)
	if err != nil {
		log.WithError(err).Error("Failed to load incident for notification")
		return
	}

	message := Message{
		NotificationID: notification.ID.String(),
		ReporterID:     notification.ReporterID,
		IncidentID:     incident.ID.String(),
		Body:           fmt.Sprintf("The %s hazard you reported has been resolved.", incident.Category),
		AfterImageRef:  incident.AfterImageRef,
	}

	delay := w.cfg.NotifyBaseDelay
	for notification.Attempts < w.cfg.NotifyMaxAttempts {
		err := w.messenger.Send(ctx, message)
		if err == nil {
			notification.Status = models.NotificationDelivered
			notification.LastError = ""
			if err := w.store.UpdateNotification(ctx, notification); err != nil {
				log.WithError(err).Error("Failed to persist delivered notification status")
				return
			}
			w.metrics.NotificationsDelivered.Inc()
			log.WithField("attempts", notification.Attempts).Info("Notification delivered successfully.")
			return
		}

		notification.Attempts++
		notification.LastError = fmt.Sprintf("%v: %v", apperrors.ErrNotificationDelivery, err)
		if err := w.store.UpdateNotification(ctx, notification); err != nil {
			log.WithError(err).Error("Failed to persist notification attempt")
			return
		}

		if notification.Attempts >= w.cfg.NotifyMaxAttempts {
			break
		}
		log.WithError(err).Warnf("Delivery failed. Retrying in %v. Attempts used: %d/%d", delay, notification.Attempts, w.cfg.NotifyMaxAttempts)
		time.Sleep(delay)
		delay *= 2 // Экспоненциальная задержка
	}

	notification.Status = models.NotificationFailed
	if err := w.store.UpdateNotification(ctx, notification); err != nil {
		log.WithError(err).Error("Failed to persist failed notification status")
		return
	}
	w.metrics.NotificationsFailed.Inc()

	// Поверхность для оператора: автоматических повторов дальше не будет
	if err := w.redisClient.LPush(ctx, deadLetterKey, notification.ID.String()).Err(); err != nil {
		log.WithError(err).Error("Failed to push notification to operator dead-letter queue")
	}
	log.Errorf("Failed to deliver notification after %d attempts.", notification.Attempts)
}
