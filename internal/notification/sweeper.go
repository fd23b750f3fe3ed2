package notification

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/civicpulse/hazard_reporting_engine/internal/config"
)

// Sweeper периодически возвращает в очередь PENDING уведомления, зависшие
// после сбоя или рестарта процесса. Восстановление идет из персистентных
// записей, а не из содержимого очереди.
type Sweeper struct {
	store     Store
	publisher Publisher
	logger    *logrus.Logger
	cfg       *config.Config
	cron      *cron.Cron
}

func NewSweeper(store Store, publisher Publisher, logger *logrus.Logger, cfg *config.Config) *Sweeper {
	return &Sweeper{
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		cron:      cron.New(),
	}
}

// Start регистрирует периодическую задачу и запускает планировщик
func (s *Sweeper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.NotifySweepInterval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule notification sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.WithField("interval", s.cfg.NotifySweepInterval).Info("Notification sweeper started")
	return nil
}

// Stop останавливает планировщик и дожидается завершения текущего прохода
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Notification sweeper stopped")
}

func (s *Sweeper) sweep(ctx context.Context) {
	log := s.logger.WithField("service", "notification_sweeper")

	stale, err := s.store.ListStalePendingNotifications(ctx, s.cfg.NotifySweepAge)
	if err != nil {
		log.WithError(err).Error("Failed to list stale pending notifications")
		return
	}
	if len(stale) == 0 {
		return
	}

	requeued := 0
	for _, notification := range stale {
		if err := s.publisher.Enqueue(ctx, notification.ID); err != nil {
			log.WithError(err).WithField("notification_id", notification.ID).Error("Failed to requeue stale notification")
			continue
		}
		requeued++
	}
	log.WithField("count", requeued).Info("Requeued stale pending notifications")
}
