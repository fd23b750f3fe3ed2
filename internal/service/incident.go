package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/metrics"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
	"github.com/civicpulse/hazard_reporting_engine/internal/normalizer"
	"github.com/civicpulse/hazard_reporting_engine/internal/notification"
)

// maxTransitionRetries - число повторов перехода жизненного цикла при сдвиге
// версии (например, параллельный отчет увеличил счетчик между чтением и записью)
const maxTransitionRetries = 3

// IncidentRepository определяет контракт для работы с хранилищем инцидентов,
// отчетов и уведомлений
type IncidentRepository interface {
	CreateIncidentWithReport(ctx context.Context, incident *models.Incident, report *models.Report) error
	AddReportToIncident(ctx context.Context, incident *models.Incident, report *models.Report) error
	GetIncidentByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, status models.Status, sev models.Severity) ([]*models.Incident, error)
	ListActiveIncidents(ctx context.Context) ([]*models.Incident, error)
	AcknowledgeIncident(ctx context.Context, id uuid.UUID, version int64) error
	ResolveIncident(ctx context.Context, id uuid.UUID, version int64, afterImageRef string, resolvedAt time.Time) ([]*models.Notification, error)
	GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	UpdateNotification(ctx context.Context, notification *models.Notification) error
	ListStalePendingNotifications(ctx context.Context, olderThan time.Duration) ([]*models.Notification, error)
	GetIncidentStats(ctx context.Context) (*models.IncidentStats, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// Clusterer определяет контракт движка кластеризации для сервиса
type Clusterer interface {
	Assign(ctx context.Context, report *models.Report) (*models.Incident, error)
	Remove(id uuid.UUID)
}

// IncidentService определяет контракт бизнес-логики жизненного цикла инцидентов
type IncidentService interface {
	SubmitReport(ctx context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, status models.Status, sev models.Severity) ([]*models.Incident, error)
	Acknowledge(ctx context.Context, id uuid.UUID) error
	Resolve(ctx context.Context, id uuid.UUID, afterImageRef string) (int, error)
	GetStats(ctx context.Context) (*models.IncidentStats, error)
}

type incidentService struct {
	repo       IncidentRepository
	normalizer *normalizer.Normalizer
	clusterer  Clusterer
	publisher  notification.Publisher
	logger     *logrus.Logger
	cfg        *config.Config
	metrics    *metrics.Metrics
}

func NewIncidentService(repo IncidentRepository, norm *normalizer.Normalizer, clusterer Clusterer, publisher notification.Publisher, logger *logrus.Logger, cfg *config.Config, m *metrics.Metrics) IncidentService {
	return &incidentService{
		repo:       repo,
		normalizer: norm,
		clusterer:  clusterer,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
		metrics:    m,
	}
}

// SubmitReport нормализует сырую заявку и прогоняет ее через движок
// кластеризации. Повторная отправка того же содержимого создает новый отчет -
// дедупликация выполняется кластеризацией, а не нормализатором.
func (s *incidentService) SubmitReport(ctx context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "SubmitReport",
		"reporter_id": raw.ReporterID,
	})

	report, err := s.normalizer.Normalize(raw)
	if err != nil {
		log.WithError(err).Warn("Report rejected by normalizer")
		return nil, nil, fmt.Errorf("service: could not normalize report: %w", err)
	}
	s.metrics.ReportsIngested.Inc()

	incident, err := s.clusterer.Assign(ctx, report)
	if err != nil {
		log.WithError(err).Error("Failed to assign report to an incident")
		return nil, nil, fmt.Errorf("service: could not cluster report: %w", err)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, incident.ID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache after submit")
	}

	log.WithFields(logrus.Fields{
		"report_id":     report.ID,
		"incident_id":   incident.ID,
		"confirmations": incident.ConfirmationCount,
		"severity":      incident.Severity,
	}).Info("Report submitted successfully")
	return report, incident, nil
}

// GetIncident получает инцидент по ID, сначала из кеша
func (s *incidentService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident from cache")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetIncidentByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident from repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// ListIncidents возвращает инциденты по фильтрам, новые обновления первыми
func (s *incidentService) ListIncidents(ctx context.Context, status models.Status, sev models.Severity) ([]*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ListIncidents",
		"status":  status,
		"sev":     sev,
	})

	incidents, err := s.repo.ListIncidents(ctx, status, sev)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}
	return incidents, nil
}

// Acknowledge переводит инцидент OPEN -> IN_PROGRESS. Переход административный
// и необязательный: resolve допустим и напрямую из OPEN.
func (s *incidentService) Acknowledge(ctx context.Context, id uuid.UUID) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "Acknowledge",
		"incident_id": id,
	})

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		incident, err := s.repo.GetIncidentByID(ctx, id)
		if err != nil {
			log.WithError(err).Warn("Attempted to acknowledge a non-existent incident")
			return fmt.Errorf("service: could not acknowledge incident: %w", err)
		}
		if incident.Status != models.StatusOpen {
			return fmt.Errorf("service: acknowledge from status %s: %w", incident.Status, apperrors.ErrInvalidTransition)
		}

		err = s.repo.AcknowledgeIncident(ctx, id, incident.Version)
		if err != nil {
			if errors.Is(err, apperrors.ErrConcurrencyConflict) {
				// Версия сдвинулась (параллельный отчет) - перечитываем и повторяем
				s.metrics.VersionConflicts.Inc()
				continue
			}
			log.WithError(err).Error("Failed to acknowledge incident in repository")
			return fmt.Errorf("service: could not acknowledge incident: %w", err)
		}

		if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
			log.WithError(err).Warn("Failed to invalidate incident cache after acknowledge")
		}
		log.Info("Incident acknowledged")
		return nil
	}
	return fmt.Errorf("service: acknowledge of incident %s exhausted retries: %w", id, apperrors.ErrConcurrencyConflict)
}

// Resolve закрывает инцидент с доказательством устранения и ставит уведомления
// всем уникальным репортерам в очередь доставки. Возвращает число граждан,
// которым будет отправлено уведомление. Переход одноразовый: повторный вызов
// завершается ErrAlreadyResolved без изменений.
func (s *incidentService) Resolve(ctx context.Context, id uuid.UUID, afterImageRef string) (int, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "Resolve",
		"incident_id": id,
	})

	if strings.TrimSpace(afterImageRef) == "" {
		return 0, fmt.Errorf("service: resolve requires proof of fix: %w", apperrors.ErrMissingProof)
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		incident, err := s.repo.GetIncidentByID(ctx, id)
		if err != nil {
			log.WithError(err).Warn("Attempted to resolve a non-existent incident")
			return 0, fmt.Errorf("service: could not resolve incident: %w", err)
		}
		if incident.Status == models.StatusResolved {
			return 0, fmt.Errorf("service: incident %s: %w", id, apperrors.ErrAlreadyResolved)
		}

		notifications, err := s.repo.ResolveIncident(ctx, id, incident.Version, afterImageRef, time.Now().UTC())
		if err != nil {
			if errors.Is(err, apperrors.ErrConcurrencyConflict) {
				// Параллельный отчет успел присоединиться: resolve обязан
				// сработать против свежего состава кластера
				s.metrics.VersionConflicts.Inc()
				continue
			}
			log.WithError(err).Error("Failed to resolve incident in repository")
			return 0, fmt.Errorf("service: could not resolve incident: %w", err)
		}

		// Решенный инцидент больше не принимает отчеты
		s.clusterer.Remove(id)
		if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
			log.WithError(err).Warn("Failed to invalidate incident cache after resolve")
		}

		// Сбой постановки в очередь не фатален: sweeper переотправит PENDING записи
		for _, n := range notifications {
			if err := s.publisher.Enqueue(ctx, n.ID); err != nil {
				log.WithError(err).WithField("notification_id", n.ID).Error("Failed to enqueue notification")
			}
		}

		log.WithField("notified", len(notifications)).Info("Incident resolved, notification fan-out enqueued")
		return len(notifications), nil
	}
	return 0, fmt.Errorf("service: resolve of incident %s exhausted retries: %w", id, apperrors.ErrConcurrencyConflict)
}

// GetStats возвращает сводку для панели воздействия
func (s *incidentService) GetStats(ctx context.Context) (*models.IncidentStats, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "GetStats",
	})

	stats, err := s.repo.GetIncidentStats(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to get stats from repository")
		return nil, fmt.Errorf("service: could not get stats: %w", err)
	}
	return stats, nil
}
